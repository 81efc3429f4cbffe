package session

import (
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var errClosed = errors.New("use of closed connection")

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

// fakeConn is an in-memory websocket connection.
// Frames written by the session are pushed to out.
type fakeConn struct {
	in  chan []byte
	out chan []byte

	mu           sync.Mutex
	readDeadline time.Time
	closeCodes   []int
	pings        int

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 1024),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	deadline := c.readDeadline
	c.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case raw := <-c.in:
		return websocket.TextMessage, raw, nil
	case <-c.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	case <-timeout:
		return 0, nil, timeoutError{}
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return errClosed
	default:
	}
	c.out <- append([]byte(nil), data...)
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, _ time.Time) error {
	select {
	case <-c.closed:
		return errClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch messageType {
	case websocket.CloseMessage:
		if len(data) >= 2 {
			c.closeCodes = append(c.closeCodes, int(binary.BigEndian.Uint16(data[:2])))
		}
	case websocket.PingMessage:
		c.pings++
	}
	return nil
}

func (c *fakeConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDeadline = t
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error          { return nil }
func (c *fakeConn) SetReadLimit(int64)                        {}
func (c *fakeConn) SetPongHandler(func(appData string) error) {}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// peerClose simulates the client going away.
func (c *fakeConn) peerClose() {
	_ = c.Close()
}

func (c *fakeConn) sentCloseCodes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.closeCodes...)
}

func (c *fakeConn) pingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}
