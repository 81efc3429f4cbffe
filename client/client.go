package client

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// Config of a relay client. BaseURL is the ws:// or wss:// root of the relay.
type Config struct {
	BaseURL         string
	Token           string
	RoomID          domain.RoomID
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxElapsedTime bounds the time spent reconnecting, zero retries forever.
	MaxElapsedTime time.Duration
	// StableAfter is how long a connection without any frame must stay open
	// before it counts as live. Defaults to 10s.
	StableAfter time.Duration
}

const defaultStableAfter = 10 * time.Second

// ErrorFrame mirrors the error frames of the relay.
type ErrorFrame struct {
	Type   string `json:"type"`
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// Handler receives what the relay sends. Both callbacks run on the read
// goroutine of the client.
type Handler struct {
	OnMessage func(domain.Message)
	OnError   func(ErrorFrame)
}

// CloseError is returned by Run when the relay closed the connection with a
// code that reconnecting cannot fix.
type CloseError struct {
	Code domain.CloseCode
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("connection closed by relay: %d %s", int(e.Code), e.Code)
}

// Client keeps a connection to one room open. After a disconnection it
// reconnects with a capped exponential backoff with jitter, asking for the
// messages after the last one it has seen.
type Client struct {
	log    *slog.Logger
	cfg    Config
	dialer *websocket.Dialer

	mu       sync.Mutex
	conn     *websocket.Conn
	lastSeen *int64
	attempts int
}

func New(log *slog.Logger, cfg Config) *Client {
	return &Client{log: log.With("room_id", cfg.RoomID), cfg: cfg, dialer: websocket.DefaultDialer}
}

// Run connects and keeps reconnecting until ctx is canceled, the relay
// answers with a terminal close code, or MaxElapsedTime is exhausted.
func (c *Client) Run(ctx context.Context, handler Handler) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialInterval
	b.MaxInterval = c.cfg.MaxInterval
	b.MaxElapsedTime = c.cfg.MaxElapsedTime
	b.RandomizationFactor = 0.5

	operation := func() error {
		live, code, err := c.connectOnce(ctx, handler)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if live {
			// The relay served this connection, start the delays from scratch
			b.Reset()
		}
		if code != 0 && !code.Retryable() {
			return backoff.Permanent(&CloseError{Code: code})
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.log.Warn("Disconnected, reconnecting", "error", err, "wait", wait)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Send publishes a content in the room.
func (c *Client) Send(content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.ErrNotConnected
	}
	return c.conn.WriteJSON(map[string]string{"content": content})
}

// LastSeen is the id of the newest message received, nil before the first.
func (c *Client) LastSeen() *int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastSeen == nil {
		return nil
	}
	id := *c.lastSeen
	return &id
}

// Attempts is the number of connections tried so far.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *Client) roomURL() (string, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", err
	}
	u = u.JoinPath("ws", "rooms", strconv.FormatInt(int64(c.cfg.RoomID), 10))
	query := u.Query()
	query.Set("token", c.cfg.Token)
	if last := c.LastSeen(); last != nil {
		query.Set("after", strconv.FormatInt(*last, 10))
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// connectOnce dials the relay and reads until the connection ends.
// It reports whether the connection was live and the close code received.
// A connection is live once a frame arrived or it stayed open StableAfter:
// the relay upgrades before checking anything, so a successful handshake
// alone proves nothing.
func (c *Client) connectOnce(ctx context.Context, handler Handler) (bool, domain.CloseCode, error) {
	target, err := c.roomURL()
	if err != nil {
		return false, 0, backoff.Permanent(err)
	}
	c.mu.Lock()
	c.attempts++
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return false, 0, fmt.Errorf("dial: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.log.Info("Connected", "after", c.LastSeen())

	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	stableAfter := c.cfg.StableAfter
	if stableAfter <= 0 {
		stableAfter = defaultStableAfter
	}
	openedAt := time.Now()
	received := false
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			live := received || time.Since(openedAt) >= stableAfter
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return live, domain.CloseCode(closeErr.Code), err
			}
			return live, 0, err
		}
		received = true
		c.dispatch(raw, handler)
	}
}

func (c *Client) dispatch(raw []byte, handler Handler) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		c.log.Warn("Unreadable frame", "error", err)
		return
	}
	if envelope.Type == "error" {
		var frame ErrorFrame
		if err := json.Unmarshal(raw, &frame); err == nil && handler.OnError != nil {
			handler.OnError(frame)
		}
		return
	}

	var message domain.Message
	if err := json.Unmarshal(raw, &message); err != nil {
		c.log.Warn("Unreadable message", "error", err)
		return
	}
	c.mu.Lock()
	if c.lastSeen == nil || message.ID > *c.lastSeen {
		id := message.ID
		c.lastSeen = &id
	}
	c.mu.Unlock()
	if handler.OnMessage != nil {
		handler.OnMessage(message)
	}
}
