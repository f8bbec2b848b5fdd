package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/trader-chat/internal/broker"
	"github.com/rickgao/trader-chat/internal/inference"
	"github.com/rickgao/trader-chat/internal/model"
)

type fakeBroker struct {
	mu sync.Mutex

	acknowledged bool
	ackErr       error
	endpoint     string
	balance      *big.Int // nil means no account
	metadataErr  error
	transferErr  error
	processErr   error

	calls    []string
	payloads []string
}

func (f *fakeBroker) called(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeBroker) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeBroker) AcknowledgementStatus(context.Context, string) (bool, error) {
	f.called("ack")
	return f.acknowledged, f.ackErr
}

func (f *fakeBroker) ServiceMetadata(context.Context, string) (model.ServiceMetadata, error) {
	f.called("metadata")
	if f.metadataErr != nil {
		return model.ServiceMetadata{}, f.metadataErr
	}
	return model.ServiceMetadata{Endpoint: f.endpoint, Model: "test-model"}, nil
}

func (f *fakeBroker) RequestHeaders(_ context.Context, _ string, payload string) (map[string]string, error) {
	f.called("headers")
	f.mu.Lock()
	f.payloads = append(f.payloads, payload)
	f.mu.Unlock()
	return map[string]string{"X-Billing": "signed"}, nil
}

func (f *fakeBroker) Account(_ context.Context, provider string) (*model.Account, error) {
	f.called("account")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balance == nil {
		return nil, broker.ErrAccountNotFound
	}
	return &model.Account{Provider: provider, Balance: new(big.Int).Set(f.balance)}, nil
}

func (f *fakeBroker) TransferFunds(_ context.Context, _, _ string, amount *big.Int) error {
	f.called("transfer")
	if f.transferErr != nil {
		return f.transferErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balance == nil {
		f.balance = new(big.Int)
	}
	f.balance.Add(f.balance, amount)
	return nil
}

func (f *fakeBroker) ProcessResponse(context.Context, string, string, string) error {
	f.called("process")
	return f.processErr
}

type fakePrices struct {
	tickers []model.Ticker
	err     error

	single  []string
	popular int
}

func (f *fakePrices) GetPrices(_ context.Context, symbol string) ([]model.Ticker, error) {
	f.single = append(f.single, symbol)
	return f.tickers, f.err
}

func (f *fakePrices) GetPopularPrices(context.Context) ([]model.Ticker, error) {
	f.popular++
	return f.tickers, f.err
}

type recordedMessage struct {
	session string
	msg     model.Message
}

type fakeRecorder struct {
	mu            sync.Mutex
	messages      []recordedMessage
	verifications map[string]bool
}

func (r *fakeRecorder) RecordMessage(_ context.Context, sessionID, _ string, msg model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, recordedMessage{session: sessionID, msg: msg})
	return nil
}

func (r *fakeRecorder) RecordVerification(_ context.Context, _, messageID string, verified bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.verifications == nil {
		r.verifications = map[string]bool{}
	}
	r.verifications[messageID] = verified
	return nil
}

// inferenceServer answers /chat/completions with body and records requests.
type inferenceServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []inference.ChatRequest
	headers  []http.Header
}

func newInferenceServer(t *testing.T, status int, body string) *inferenceServer {
	t.Helper()
	s := &inferenceServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s, want /v1/chat/completions", r.URL.Path)
		}
		var req inference.ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.headers = append(s.headers, r.Header.Clone())
		s.mu.Unlock()
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *inferenceServer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

const okCompletion = `{"id":"chat-123","choices":[{"message":{"role":"assistant","content":"BTC looks range bound."}}]}`

func funded() *big.Int {
	v, _ := new(big.Int).SetString("5000000000000000000", 10)
	return v
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s := NewSession()
	t.Cleanup(s.Close)
	if err := s.SelectProvider(model.Provider{Address: "0xprovider", Name: "test", Model: "test-model"}); err != nil {
		t.Fatalf("SelectProvider() error = %v", err)
	}
	return s
}

func newTestOrchestrator(b broker.Broker, p PriceSource, opts ...Option) *Orchestrator {
	opts = append([]Option{WithStatusTTL(time.Hour, time.Hour)}, opts...)
	return New(b, p, inference.NewClient(), opts...)
}

func TestSend_NoProvider(t *testing.T) {
	b := &fakeBroker{acknowledged: true}
	o := newTestOrchestrator(b, nil)
	s := NewSession()
	defer s.Close()

	if err := o.Send(context.Background(), s, "hello"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if n := len(s.Snapshot().Messages); n != 0 {
		t.Errorf("len(Messages) = %d, want 0", n)
	}
	if len(b.calls) != 0 {
		t.Errorf("broker calls = %v, want none", b.calls)
	}
}

func TestSend_BlankText(t *testing.T) {
	b := &fakeBroker{acknowledged: true}
	o := newTestOrchestrator(b, nil)
	s := newTestSession(t)

	if err := o.Send(context.Background(), s, "   \n\t"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if n := len(s.Snapshot().Messages); n != 0 {
		t.Errorf("len(Messages) = %d, want 0", n)
	}
	if len(b.calls) != 0 {
		t.Errorf("broker calls = %v, want none", b.calls)
	}
}

func TestSend_NotAcknowledged(t *testing.T) {
	srv := newInferenceServer(t, http.StatusOK, okCompletion)
	b := &fakeBroker{acknowledged: false, endpoint: srv.URL + "/v1", balance: funded()}
	o := newTestOrchestrator(b, nil)
	s := newTestSession(t)

	if err := o.Send(context.Background(), s, "hello"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	snap := s.Snapshot()
	if len(snap.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(snap.Messages))
	}
	last := snap.Messages[1]
	if last.Role != model.RoleAssistant || last.Content != "Error: "+msgAcknowledge {
		t.Errorf("last message = %+v", last)
	}
	if snap.Status != StatusUnacknowledged {
		t.Errorf("Status = %q, want %q", snap.Status, StatusUnacknowledged)
	}
	if snap.Loading {
		t.Error("Loading should be cleared")
	}
	if srv.count() != 0 {
		t.Errorf("inference calls = %d, want 0", srv.count())
	}
	if b.count("metadata") != 0 {
		t.Error("cycle should stop after acknowledgement check")
	}
}

func TestSend_FullCycle(t *testing.T) {
	srv := newInferenceServer(t, http.StatusOK, okCompletion)
	b := &fakeBroker{acknowledged: true, endpoint: srv.URL + "/v1", balance: funded()}
	rec := &fakeRecorder{}
	o := newTestOrchestrator(b, nil, WithRecorder(rec))
	s := newTestSession(t)

	if err := o.Send(context.Background(), s, "what is <b>up</b>?"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	snap := s.Snapshot()
	if len(snap.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(snap.Messages))
	}
	reply := snap.Messages[1]
	if reply.Content != "BTC looks range bound." || reply.ID != "chat-123" {
		t.Errorf("reply = %+v", reply)
	}
	if !reply.Verified || reply.VerifyError {
		t.Errorf("Verified = %v, VerifyError = %v, want true, false", reply.Verified, reply.VerifyError)
	}
	if snap.VerifyingID != "" {
		t.Errorf("VerifyingID = %q, want empty", snap.VerifyingID)
	}
	if snap.Status != StatusVerified {
		t.Errorf("Status = %q, want %q", snap.Status, StatusVerified)
	}
	if snap.Loading {
		t.Error("Loading should be cleared")
	}

	if len(b.payloads) != 1 || b.payloads[0] != `[{"role":"user","content":"what is <b>up</b>?"}]` {
		t.Errorf("header payload = %v", b.payloads)
	}
	if b.count("transfer") != 0 {
		t.Errorf("transfers = %d, want 0 for a funded account", b.count("transfer"))
	}

	req := srv.requests[0]
	if req.Model != "test-model" || req.Stream {
		t.Errorf("request = %+v", req)
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != "what is <b>up</b>?" {
		t.Errorf("messages = %+v", req.Messages)
	}
	if srv.headers[0].Get("X-Billing") != "signed" {
		t.Error("broker headers not forwarded")
	}

	if len(rec.messages) != 2 || rec.messages[0].session != s.ID() {
		t.Errorf("recorded = %+v", rec.messages)
	}
	if !rec.verifications["chat-123"] {
		t.Error("verification not recorded")
	}
}

func TestSend_VerificationRejected(t *testing.T) {
	srv := newInferenceServer(t, http.StatusOK, okCompletion)
	b := &fakeBroker{acknowledged: true, endpoint: srv.URL + "/v1", balance: funded(), processErr: broker.ErrResponseRejected}
	o := newTestOrchestrator(b, nil)
	s := newTestSession(t)

	if err := o.Send(context.Background(), s, "hello"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	snap := s.Snapshot()
	if len(snap.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(snap.Messages))
	}
	reply := snap.Messages[1]
	if reply.Verified || !reply.VerifyError {
		t.Errorf("Verified = %v, VerifyError = %v, want false, true", reply.Verified, reply.VerifyError)
	}
	if snap.Status != StatusVerifyFailed {
		t.Errorf("Status = %q, want %q", snap.Status, StatusVerifyFailed)
	}
}

func TestSend_NoResponseIDSkipsVerification(t *testing.T) {
	srv := newInferenceServer(t, http.StatusOK, `{"choices":[{"message":{"content":"hi"}}]}`)
	b := &fakeBroker{acknowledged: true, endpoint: srv.URL + "/v1", balance: funded()}
	o := newTestOrchestrator(b, nil)
	s := newTestSession(t)

	o.Send(context.Background(), s, "hello")

	if b.count("process") != 0 {
		t.Error("ProcessResponse should not be called without a response id")
	}
	if reply := s.Snapshot().Messages[1]; reply.Verified || reply.VerifyError {
		t.Errorf("reply = %+v, want unverified without error", reply)
	}
}

func TestSend_AcknowledgementErrorContinues(t *testing.T) {
	srv := newInferenceServer(t, http.StatusOK, okCompletion)
	b := &fakeBroker{ackErr: errors.New("rpc timeout"), endpoint: srv.URL + "/v1", balance: funded()}
	o := newTestOrchestrator(b, nil)
	s := newTestSession(t)

	o.Send(context.Background(), s, "hello")

	if srv.count() != 1 {
		t.Errorf("inference calls = %d, want 1", srv.count())
	}
	if n := len(s.Snapshot().Messages); n != 2 {
		t.Errorf("len(Messages) = %d, want 2", n)
	}
}

func TestSend_PriceContext(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		text        string
		prices      *fakePrices
		wantSingle  string
		wantPopular int
		wantSuffix  string
	}{
		{
			name:       "symbol in question",
			text:       "what is the price of btcusdt",
			prices:     &fakePrices{tickers: []model.Ticker{{Symbol: "BTCUSDT", Price: "67000.5"}}},
			wantSingle: "BTCUSDT",
			wantSuffix: PriceContextHeader + "Futures prices (updated 2024-05-01 12:00:00):\nBTCUSDT: $67000.50",
		},
		{
			name:        "popular prices",
			text:        "should I buy now?",
			prices:      &fakePrices{tickers: []model.Ticker{{Symbol: "ETHUSDT", Price: "3000"}}},
			wantPopular: 1,
			wantSuffix:  PriceContextHeader + "Futures prices (updated 2024-05-01 12:00:00):\nETHUSDT: $3000.00",
		},
		{
			name:        "no data",
			text:        "crypto outlook?",
			prices:      &fakePrices{},
			wantPopular: 1,
			wantSuffix:  PriceContextHeader + "No price data available",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newInferenceServer(t, http.StatusOK, okCompletion)
			b := &fakeBroker{acknowledged: true, endpoint: srv.URL + "/v1", balance: funded()}
			o := newTestOrchestrator(b, tt.prices, WithClock(func() time.Time { return now }))
			s := newTestSession(t)

			o.Send(context.Background(), s, tt.text)

			if tt.wantSingle != "" && (len(tt.prices.single) != 1 || tt.prices.single[0] != tt.wantSingle) {
				t.Errorf("single lookups = %v, want [%s]", tt.prices.single, tt.wantSingle)
			}
			if tt.prices.popular != tt.wantPopular {
				t.Errorf("popular lookups = %d, want %d", tt.prices.popular, tt.wantPopular)
			}

			got := srv.requests[0].Messages[0].Content
			if got != tt.text+tt.wantSuffix {
				t.Errorf("content = %q, want %q", got, tt.text+tt.wantSuffix)
			}
			if b.payloads[0] != `[{"role":"user","content":"`+tt.text+`"}]` {
				t.Errorf("header payload = %q, should not contain price data", b.payloads[0])
			}
			if s.Snapshot().Messages[0].Content != tt.text {
				t.Error("user message should keep the original text")
			}
		})
	}
}

func TestSend_PriceFailureContinues(t *testing.T) {
	srv := newInferenceServer(t, http.StatusOK, okCompletion)
	b := &fakeBroker{acknowledged: true, endpoint: srv.URL + "/v1", balance: funded()}
	p := &fakePrices{err: errors.New("ticker api down")}
	o := newTestOrchestrator(b, p)
	s := newTestSession(t)

	o.Send(context.Background(), s, "btc trend?")

	if srv.count() != 1 {
		t.Fatalf("inference calls = %d, want 1", srv.count())
	}
	if got := srv.requests[0].Messages[0].Content; got != "btc trend?" {
		t.Errorf("content = %q, want the bare question", got)
	}
	if s.Snapshot().FetchingPrices {
		t.Error("FetchingPrices should be cleared")
	}
}

func TestSend_NonTradingSkipsPrices(t *testing.T) {
	srv := newInferenceServer(t, http.StatusOK, okCompletion)
	b := &fakeBroker{acknowledged: true, endpoint: srv.URL + "/v1", balance: funded()}
	p := &fakePrices{}
	o := newTestOrchestrator(b, p)
	s := newTestSession(t)

	o.Send(context.Background(), s, "tell me a joke")

	if p.popular != 0 || len(p.single) != 0 {
		t.Error("prices should not be fetched for unrelated text")
	}
}

func TestSend_Funding(t *testing.T) {
	srv := newInferenceServer(t, http.StatusOK, okCompletion)

	t.Run("missing account created", func(t *testing.T) {
		b := &fakeBroker{acknowledged: true, endpoint: srv.URL + "/v1"}
		o := newTestOrchestrator(b, nil)
		s := newTestSession(t)

		o.Send(context.Background(), s, "hello")

		if b.count("transfer") != 1 || b.count("account") != 2 {
			t.Errorf("calls = %v, want one transfer and two account reads", b.calls)
		}
		if reply := s.Snapshot().Messages[1]; !reply.Verified {
			t.Errorf("reply = %+v, want verified", reply)
		}
	})

	t.Run("funding logs name the provider once", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
		b := &fakeBroker{acknowledged: true, endpoint: srv.URL + "/v1", balance: big.NewInt(10)}
		o := newTestOrchestrator(b, nil, WithLogger(logger))
		s := newTestSession(t)

		o.Send(context.Background(), s, "hello")

		if !strings.Contains(buf.String(), "provider account low") {
			t.Fatalf("log = %q, want a top-up line", buf.String())
		}
		for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
			if n := strings.Count(line, "provider=0xprovider"); n > 1 {
				t.Errorf("provider logged %d times: %s", n, line)
			}
		}
	})

	t.Run("low balance topped up", func(t *testing.T) {
		b := &fakeBroker{acknowledged: true, endpoint: srv.URL + "/v1", balance: big.NewInt(10)}
		o := newTestOrchestrator(b, nil)
		s := newTestSession(t)

		o.Send(context.Background(), s, "hello")

		if b.count("transfer") != 1 {
			t.Errorf("transfers = %d, want 1", b.count("transfer"))
		}
	})
}

func TestSend_FatalErrors(t *testing.T) {
	tests := []struct {
		name        string
		broker      func(endpoint string) *fakeBroker
		status      int
		body        string
		wantContent string
	}{
		{
			name: "account setup failure",
			broker: func(ep string) *fakeBroker {
				return &fakeBroker{acknowledged: true, endpoint: ep, transferErr: errors.New("ledger empty")}
			},
			status:      http.StatusOK,
			body:        okCompletion,
			wantContent: "Error: " + msgAccountSetup,
		},
		{
			name: "top-up failure",
			broker: func(ep string) *fakeBroker {
				return &fakeBroker{acknowledged: true, endpoint: ep, balance: big.NewInt(1), transferErr: errors.New("ledger empty")}
			},
			status:      http.StatusOK,
			body:        okCompletion,
			wantContent: "Error: " + msgUnderfunded,
		},
		{
			name: "revert during top-up",
			broker: func(ep string) *fakeBroker {
				return &fakeBroker{acknowledged: true, endpoint: ep, balance: big.NewInt(1), transferErr: &broker.Error{StatusCode: 500, Code: broker.CodeRevert, Message: "missing revert data"}}
			},
			status:      http.StatusOK,
			body:        okCompletion,
			wantContent: "Error: " + msgUnderfunded,
		},
		{
			name: "revert during account creation",
			broker: func(ep string) *fakeBroker {
				return &fakeBroker{acknowledged: true, endpoint: ep, transferErr: &broker.Error{StatusCode: 500, Code: broker.CodeRevert, Message: "missing revert data"}}
			},
			status:      http.StatusOK,
			body:        okCompletion,
			wantContent: "Error: " + msgAccountSetup,
		},
		{
			name: "contract revert",
			broker: func(ep string) *fakeBroker {
				return &fakeBroker{acknowledged: true, endpoint: ep, balance: funded(), metadataErr: &broker.Error{StatusCode: 500, Code: broker.CodeRevert, Message: "missing revert data"}}
			},
			status:      http.StatusOK,
			body:        okCompletion,
			wantContent: "Error: " + msgContractRevert,
		},
		{
			name: "inference non-2xx",
			broker: func(ep string) *fakeBroker {
				return &fakeBroker{acknowledged: true, endpoint: ep, balance: funded()}
			},
			status:      http.StatusBadGateway,
			body:        "upstream unavailable",
			wantContent: "Error: chat completion: inference request failed: 502 - upstream unavailable",
		},
		{
			name: "malformed response",
			broker: func(ep string) *fakeBroker {
				return &fakeBroker{acknowledged: true, endpoint: ep, balance: funded()}
			},
			status:      http.StatusOK,
			body:        `{"id":"x","choices":[]}`,
			wantContent: "Error: chat completion: " + inference.ErrMalformedResponse.Error(),
		},
		{
			name: "empty completion content",
			broker: func(ep string) *fakeBroker {
				return &fakeBroker{acknowledged: true, endpoint: ep, balance: funded()}
			},
			status:      http.StatusOK,
			body:        `{"id":"x","choices":[{"message":{"role":"assistant","content":""}}]}`,
			wantContent: "Error: chat completion: " + inference.ErrMalformedResponse.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newInferenceServer(t, tt.status, tt.body)
			b := tt.broker(srv.URL + "/v1")
			o := newTestOrchestrator(b, nil)
			s := newTestSession(t)

			if err := o.Send(context.Background(), s, "hello"); err != nil {
				t.Fatalf("Send() error = %v", err)
			}

			snap := s.Snapshot()
			if len(snap.Messages) != 2 {
				t.Fatalf("len(Messages) = %d, want 2", len(snap.Messages))
			}
			if got := snap.Messages[1].Content; got != tt.wantContent {
				t.Errorf("content = %q, want %q", got, tt.wantContent)
			}
			if snap.Status != tt.wantContent {
				t.Errorf("Status = %q, want %q", snap.Status, tt.wantContent)
			}
			if snap.Loading {
				t.Error("Loading should be cleared")
			}
			if b.count("process") != 0 {
				t.Error("nothing to verify after a fatal error")
			}
		})
	}
}

func TestSend_ErrorStatusExpires(t *testing.T) {
	b := &fakeBroker{acknowledged: true, endpoint: "http://127.0.0.1:1", balance: big.NewInt(1), transferErr: errors.New("ledger empty")}
	o := New(b, nil, inference.NewClient(), WithStatusTTL(10*time.Millisecond, 10*time.Millisecond))
	s := newTestSession(t)

	o.Send(context.Background(), s, "hello")

	deadline := time.Now().Add(time.Second)
	for s.Snapshot().Status != "" {
		if time.Now().After(deadline) {
			t.Fatal("error status should expire")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !strings.HasPrefix(s.Snapshot().Messages[1].Content, "Error: ") {
		t.Error("error message should remain in the conversation")
	}
}

func TestSend_InProgress(t *testing.T) {
	b := &fakeBroker{acknowledged: true}
	o := newTestOrchestrator(b, nil)
	s := newTestSession(t)
	if _, _, err := s.begin("first"); err != nil {
		t.Fatalf("begin() error = %v", err)
	}

	if err := o.Send(context.Background(), s, "second"); !errors.Is(err, ErrSendInProgress) {
		t.Errorf("Send() error = %v, want ErrSendInProgress", err)
	}
	if n := len(s.Snapshot().Messages); n != 1 {
		t.Errorf("len(Messages) = %d, want 1", n)
	}
}

func TestHeadersPayload(t *testing.T) {
	got, err := headersPayload(`a "quote" & <tag>`)
	if err != nil {
		t.Fatalf("headersPayload() error = %v", err)
	}
	want := `[{"role":"user","content":"a \"quote\" & <tag>"}]`
	if got != want {
		t.Errorf("headersPayload() = %q, want %q", got, want)
	}
}
