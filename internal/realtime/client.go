package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned by Send while no channel is open.
var ErrNotConnected = errors.New("realtime channel not connected")

const writeTimeout = 10 * time.Second

// Handler receives inbound messages. Calls are made from the channel's read
// loop one at a time, in arrival order.
type Handler interface {
	HandleUpdate(ctx context.Context, u EventUpdate)
	HandleDelete(ctx context.Context, d EventDelete)
	HandleReload(ctx context.Context)
	// HandleConnected runs after every successful (re)connect.
	HandleConnected(ctx context.Context)
	// HandleFriend receives friend:* messages untouched.
	HandleFriend(ctx context.Context, msg Message)
}

// Config configures a Client.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/ws.
	URL string
	// Token is sent as ?token= when set.
	Token        string
	PingInterval time.Duration
	BackoffMin   time.Duration
	BackoffMax   time.Duration
	Dialer       *websocket.Dialer
}

// Client keeps at most one channel open, for the signed-in user.
type Client struct {
	cfg Config

	mu      sync.Mutex
	session *session

	latencyMs atomic.Int64
}

// NewClient creates a disconnected client.
func NewClient(cfg Config) *Client {
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &Client{cfg: cfg}
}

// session is one logical connection for one user, spanning reconnects.
type session struct {
	userID  string
	handler Handler
	cancel  context.CancelFunc
	done    chan struct{}
	// handlers tracks HandleConnected calls; done closes after they return.
	handlers sync.WaitGroup

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Connect opens the channel for userID. Any previous channel is torn down
// completely first, so two channels never overlap. Connect returns at once;
// dialling and reconnecting happen in the background until Disconnect.
func (c *Client) Connect(ctx context.Context, userID string, h Handler) {
	c.Disconnect()

	ctx, cancel := context.WithCancel(ctx)
	s := &session{
		userID:  userID,
		handler: h,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	c.mu.Lock()
	c.session = s
	c.mu.Unlock()

	go c.run(ctx, s)
}

// Disconnect closes the channel and waits for its goroutines to exit,
// including a HandleConnected call still in progress.
func (c *Client) Disconnect() {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()

	if s == nil {
		return
	}
	s.cancel()
	s.closeConn()
	<-s.done
	slog.Info("Realtime channel closed", "user_id", s.userID)
}

// Connected reports whether a channel is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	return s != nil && s.current() != nil
}

// Latency returns the last measured ping round trip.
func (c *Client) Latency() time.Duration {
	return time.Duration(c.latencyMs.Load()) * time.Millisecond
}

// Send writes msg on the open channel.
func (c *Client) Send(ctx context.Context, msg Message) error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return ErrNotConnected
	}
	return s.write(ctx, msg)
}

func (c *Client) run(ctx context.Context, s *session) {
	defer close(s.done)
	defer s.handlers.Wait()
	b := newBackoff(c.cfg.BackoffMin, c.cfg.BackoffMax)

	for {
		conn, err := c.dial(ctx, s.userID)
		if err == nil {
			b.Reset()
			s.setConn(conn)
			slog.Info("Realtime channel open", "user_id", s.userID)

			s.handlers.Add(1)
			go func() {
				defer s.handlers.Done()
				s.handler.HandleConnected(ctx)
			}()
			err = c.serve(ctx, s, conn)

			s.setConn(nil)
			conn.Close()
		}
		if ctx.Err() != nil {
			return
		}

		wait := b.Next()
		slog.Warn("Realtime channel unavailable, retrying",
			"user_id", s.userID,
			"error", err,
			"retry_in_ms", wait.Milliseconds(),
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) dial(ctx context.Context, userID string) (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse realtime url: %w", err)
	}
	q := u.Query()
	q.Set("userId", userID)
	if c.cfg.Token != "" {
		q.Set("token", c.cfg.Token)
	}
	u.RawQuery = q.Encode()

	conn, resp, err := c.cfg.Dialer.DialContext(ctx, u.String(), http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	return conn, nil
}

// serve reads until the connection fails or ctx ends, pinging meanwhile.
func (c *Client) serve(ctx context.Context, s *session, conn *websocket.Conn) error {
	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go c.pingLoop(pingCtx, s)
	go func() {
		// Unblocks ReadJSON on Disconnect.
		<-pingCtx.Done()
		conn.Close()
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read message: %w", err)
		}
		c.dispatch(ctx, s, msg)
	}
}

func (c *Client) dispatch(ctx context.Context, s *session, msg Message) {
	h := s.handler
	switch {
	case msg.Type == TypeEventUpdate:
		var u EventUpdate
		if err := msg.Decode(&u); err != nil {
			slog.Warn("Dropping malformed message", "type", msg.Type, "error", err)
			return
		}
		h.HandleUpdate(ctx, u)
	case msg.Type == TypeEventDelete:
		var d EventDelete
		if err := msg.Decode(&d); err != nil {
			slog.Warn("Dropping malformed message", "type", msg.Type, "error", err)
			return
		}
		h.HandleDelete(ctx, d)
	case msg.Type == TypeEventsReload:
		h.HandleReload(ctx)
	case msg.Type == TypePong:
		var p Pong
		if err := msg.Decode(&p); err != nil {
			return
		}
		rtt := time.Now().UnixMilli() - p.ClientTs
		c.latencyMs.Store(rtt)
		slog.Debug("Realtime pong", "rtt_ms", rtt, "server_ts", p.ServerTs)
	case msg.Type.IsFriend():
		h.HandleFriend(ctx, msg)
	default:
		slog.Debug("Ignoring message", "type", msg.Type)
	}
}

func (c *Client) pingLoop(ctx context.Context, s *session) {
	t := time.NewTicker(c.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			msg, _ := NewMessage(TypePing, time.Now().UnixMilli())
			if err := s.write(ctx, msg); err != nil {
				slog.Debug("Ping failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) setConn(conn *websocket.Conn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.conn = conn
}

func (s *session) current() *websocket.Conn {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn
}

func (s *session) closeConn() {
	if conn := s.current(); conn != nil {
		conn.Close()
	}
}

func (s *session) write(ctx context.Context, msg Message) error {
	conn := s.current()
	if conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write %s: %w", msg.Type, err)
	}
	return nil
}
