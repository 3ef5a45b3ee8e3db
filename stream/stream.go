// Package stream broadcasts consumer-side body transforms to websocket
// clients as JSON frames. It is a debugging aid; frames are dropped for
// clients that fall behind.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultPingInterval is how often idle clients are pinged.
	DefaultPingInterval = 2 * time.Second

	writeWait  = time.Second
	sendBuffer = 4
)

// Body is one transform in a frame.
type Body struct {
	Collection string     `json:"collection"`
	Index      int        `json:"index"`
	Position   [3]float64 `json:"position"`
	Rotation   [4]float64 `json:"rotation"` // w, x, y, z
	State      string     `json:"state"`
	Disabled   bool       `json:"disabled,omitempty"`
}

// Frame is one broadcast message.
type Frame struct {
	Tick   int64   `json:"tick"`
	Time   float64 `json:"time"`
	Bodies []Body  `json:"bodies"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// Server is an http.Handler upgrading requests to websocket clients.
type Server struct {
	upgrader     websocket.Upgrader
	logger       *slog.Logger
	pingInterval time.Duration

	mu      sync.Mutex
	clients map[*client]struct{}
	latest  []byte
	closed  bool
}

// New creates a server. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:       logger.With("component", "stream"),
		pingInterval: DefaultPingInterval,
		clients:      make(map[*client]struct{}),
	}
}

// SetPingInterval sets the ping interval for clients connected afterwards.
func (s *Server) SetPingInterval(d time.Duration) {
	if d > 0 {
		s.pingInterval = d
	}
}

// NumClients returns the number of connected clients.
func (s *Server) NumClients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// ServeHTTP upgrades the connection and streams frames until the client
// disconnects. New clients receive the latest frame immediately.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer), done: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	if s.latest != nil {
		c.send <- s.latest
	}
	s.mu.Unlock()
	s.logger.Debug("client connected", "remote", r.RemoteAddr)

	go s.writeLoop(c)
	s.readLoop(c)
}

// readLoop discards client messages and returns when the client goes away.
func (s *Server) readLoop(c *client) {
	defer s.drop(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeLoop(c *client) {
	ping := time.NewTicker(s.pingInterval)
	defer ping.Stop()
	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.conn.Close()
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.conn.Close()
				return
			}
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			c.conn.Close()
			return
		}
	}
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.done)
	}
	s.mu.Unlock()
}

// Publish encodes f and queues it for every client.
func (s *Server) Publish(f *Frame) error {
	msg, err := json.Marshal(f)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = msg
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
			// Client is behind; it gets a later frame.
		}
	}
	return nil
}

// Close disconnects every client and rejects new ones.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for c := range s.clients {
		delete(s.clients, c)
		close(c.done)
	}
}

// ListenAndServe serves the stream at addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/stream", s)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("stream listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
