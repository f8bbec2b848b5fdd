package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/trader-chat/internal/model"
)

// Snapshot is a point-in-time copy of a Session.
type Snapshot struct {
	ID             string          `json:"id"`
	Provider       *model.Provider `json:"provider,omitempty"`
	Draft          string          `json:"draft"`
	Messages       []model.Message `json:"messages"`
	Loading        bool            `json:"loading"`
	FetchingPrices bool            `json:"fetchingPrices"`
	VerifyingID    string          `json:"verifyingId,omitempty"`
	Status         string          `json:"status"`
	Version        uint64          `json:"version"`
}

// Session is one conversation with the selected provider.
type Session struct {
	id string

	mu             sync.Mutex
	provider       *model.Provider
	draft          string
	messages       []model.Message
	loading        bool
	fetchingPrices bool
	verifyingID    string
	version        uint64

	status      string
	statusGen   uint64
	statusTimer *time.Timer

	subs   map[chan Snapshot]struct{}
	closed bool
}

// NewSession creates an empty session with a random id.
func NewSession() *Session {
	return &Session{
		id:       uuid.NewString(),
		messages: []model.Message{},
		subs:     make(map[chan Snapshot]struct{}),
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Provider returns the selected provider.
func (s *Session) Provider() (model.Provider, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.provider == nil {
		return model.Provider{}, false
	}
	return *s.provider, true
}

// SelectProvider switches providers and clears the conversation.
// It fails with ErrSendInProgress while a send is running.
func (s *Session) SelectProvider(p model.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loading {
		return ErrSendInProgress
	}
	s.provider = &p
	s.messages = []model.Message{}
	s.publishLocked()
	return nil
}

// SetDraft stores unsent input.
func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = text
	s.publishLocked()
}

// Busy reports whether a send is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading || s.fetchingPrices
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe returns a channel that receives the current snapshot and then
// one snapshot per change. Slow readers only see the latest state. Call
// the returned func to unsubscribe.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
		})
	}
}

// Close stops pending status timers and closes every subscription.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.statusTimer != nil {
		s.statusTimer.Stop()
	}
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
}

// SetStatus shows text until ttl elapses or another status replaces it.
// A zero ttl keeps it until replaced.
func (s *Session) SetStatus(text string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStatusLocked(text, ttl)
	s.publishLocked()
}

func (s *Session) setStatusLocked(text string, ttl time.Duration) {
	s.statusGen++
	if s.statusTimer != nil {
		s.statusTimer.Stop()
		s.statusTimer = nil
	}
	s.status = text

	if ttl <= 0 || s.closed {
		return
	}
	gen := s.statusGen
	s.statusTimer = time.AfterFunc(ttl, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.statusGen != gen {
			return
		}
		s.status = ""
		s.statusTimer = nil
		s.publishLocked()
	})
}

// begin starts a send on the selected provider: it appends the user
// message, clears the draft and enters the loading state. The provider is
// read under the same lock so a concurrent SelectProvider cannot split it
// from the conversation the message lands in.
func (s *Session) begin(text string) (model.Provider, model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.provider == nil {
		return model.Provider{}, model.Message{}, errNoProvider
	}
	if s.loading || s.fetchingPrices {
		return model.Provider{}, model.Message{}, ErrSendInProgress
	}
	msg := model.Message{Role: model.RoleUser, Content: text}
	s.messages = append(s.messages, msg)
	s.draft = ""
	s.loading = true
	s.publishLocked()
	return *s.provider, msg, nil
}

func (s *Session) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	s.fetchingPrices = false
	s.publishLocked()
}

func (s *Session) appendMessage(msg model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	s.publishLocked()
}

// updateMessage applies fn to the message with the given id.
func (s *Session) updateMessage(id string, fn func(*model.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			fn(&s.messages[i])
		}
	}
	s.publishLocked()
}

func (s *Session) setFetchingPrices(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchingPrices = v
	s.publishLocked()
}

func (s *Session) setVerifying(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifyingID = id
	s.publishLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:             s.id,
		Draft:          s.draft,
		Messages:       append([]model.Message(nil), s.messages...),
		Loading:        s.loading,
		FetchingPrices: s.fetchingPrices,
		VerifyingID:    s.verifyingID,
		Status:         s.status,
		Version:        s.version,
	}
	if snap.Messages == nil {
		snap.Messages = []model.Message{}
	}
	if s.provider != nil {
		p := *s.provider
		snap.Provider = &p
	}
	return snap
}

// publishLocked bumps the version and offers the new state to subscribers
// without blocking.
func (s *Session) publishLocked() {
	s.version++
	if len(s.subs) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
