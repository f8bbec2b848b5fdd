package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/trader-chat/internal/chat"
)

const writeTimeout = 10 * time.Second

// streamConn is one WebSocket subscriber. Writes are serialized.
type streamConn struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu         sync.Mutex
	lastPongAt time.Time
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin applies the CORS allow-list to WebSocket handshakes.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	sc := &streamConn{
		conn:       conn,
		logger:     s.logger.With("session", sess.ID()),
		lastPongAt: time.Now(),
	}
	sc.serve(sess, s.cfg.PingInterval)
}

// serve pushes snapshots until the client leaves, the session closes or
// the peer stops answering pings.
func (c *streamConn) serve(sess *chat.Session, pingInterval time.Duration) {
	defer c.conn.Close()

	snapshots, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	c.conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastPongAt = time.Now()
		c.mu.Unlock()
		return nil
	})

	done := make(chan struct{})
	go c.readLoop(done)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	c.logger.Debug("stream opened")
	defer c.logger.Debug("stream closed")

	for {
		select {
		case <-done:
			return
		case snap, ok := <-snapshots:
			if !ok {
				c.writeClose(websocket.CloseGoingAway, "session closed")
				return
			}
			if err := c.writeJSON(snap); err != nil {
				c.logger.Debug("stream write failed", "error", err)
				return
			}
		case <-ticker.C:
			c.mu.Lock()
			lastPong := c.lastPongAt
			c.mu.Unlock()
			if time.Since(lastPong) > 2*pingInterval {
				c.logger.Warn("no pong received, closing stale stream", "last_pong", lastPong)
				return
			}
			if err := c.ping(); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
				return
			}
		}
	}
}

// readLoop drains client frames so control messages are processed. Clients
// are not expected to send data.
func (c *streamConn) readLoop(done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *streamConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *streamConn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(writeTimeout))
}

func (c *streamConn) writeClose(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)
}
