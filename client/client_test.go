package client

import (
	"chat-relay/domain"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

// fakeRelay runs one scripted behavior per connection attempt.
type fakeRelay struct {
	mu      sync.Mutex
	afters  []string
	scripts []func(conn *websocket.Conn)
	server  *httptest.Server
}

func newFakeRelay(t *testing.T, scripts ...func(conn *websocket.Conn)) *fakeRelay {
	t.Helper()
	relay := &fakeRelay{scripts: scripts}
	upgrader := websocket.Upgrader{}
	relay.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		relay.mu.Lock()
		attempt := len(relay.afters)
		relay.afters = append(relay.afters, r.URL.Query().Get("after"))
		relay.mu.Unlock()

		if attempt >= len(relay.scripts) || relay.scripts[attempt] == nil {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		relay.scripts[attempt](conn)
	}))
	t.Cleanup(relay.server.Close)
	return relay
}

func (f *fakeRelay) seenAfters() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.afters...)
}

func (f *fakeRelay) baseURL() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func send(ids ...int64) func(conn *websocket.Conn) {
	return func(conn *websocket.Conn) {
		for _, id := range ids {
			_ = conn.WriteJSON(domain.Message{ID: id, RoomID: 1, UserID: "alice", Content: "x", CreatedAt: time.Now().UTC()})
		}
	}
}

func closeWith(code domain.CloseCode) func(conn *websocket.Conn) {
	return func(conn *websocket.Conn) {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(int(code), ""), time.Now().Add(time.Second))
		// Wait for the client to hang up
		_, _, _ = conn.ReadMessage()
	}
}

// hold waits for the client to hang up.
func hold(conn *websocket.Conn) {
	_, _, _ = conn.ReadMessage()
}

func then(steps ...func(conn *websocket.Conn)) func(conn *websocket.Conn) {
	return func(conn *websocket.Conn) {
		for _, step := range steps {
			step(conn)
		}
	}
}

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:         baseURL,
		Token:           "token",
		RoomID:          1,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
	}
}

func TestClient_Reconnects_After_Last_Seen(t *testing.T) {
	req := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var received []int64
	relay := newFakeRelay(t,
		then(send(1, 2), closeWith(domain.GoingAway)),
		then(send(3), hold),
	)

	c := New(logs.GetLoggerFromLevel(slog.LevelError), testConfig(relay.baseURL()))
	err := c.Run(ctx, Handler{OnMessage: func(message domain.Message) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, message.ID)
		if message.ID == 3 {
			cancel()
		}
	}})

	req.NoError(err)
	req.Equal([]int64{1, 2, 3}, received)
	req.Equal([]string{"", "2"}, relay.seenAfters())
	req.Equal(int64(3), *c.LastSeen())
}

func TestClient_Stops_On_Terminal_Close_Code(t *testing.T) {
	for _, code := range []domain.CloseCode{domain.AuthFailed, domain.RoomAccessDenied, domain.RoomNotFound} {
		t.Run(code.String(), func(t *testing.T) {
			req := require.New(t)
			relay := newFakeRelay(t, closeWith(code))

			c := New(logs.GetLoggerFromLevel(slog.LevelError), testConfig(relay.baseURL()))
			err := c.Run(context.Background(), Handler{})

			var closeErr *CloseError
			req.ErrorAs(err, &closeErr)
			req.Equal(code, closeErr.Code)
			req.Equal(1, c.Attempts())
		})
	}
}

func TestClient_Retries_Until_The_Relay_Is_Back(t *testing.T) {
	req := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Given a relay refusing the first three handshakes
	relay := newFakeRelay(t, nil, nil, nil,
		then(send(7), hold),
	)

	var got []int64
	c := New(logs.GetLoggerFromLevel(slog.LevelError), testConfig(relay.baseURL()))
	err := c.Run(ctx, Handler{OnMessage: func(message domain.Message) {
		got = append(got, message.ID)
		cancel()
	}})

	req.NoError(err)
	req.Equal([]int64{7}, got)
	req.Equal(4, c.Attempts())
}

func TestClient_Backs_Off_When_Closed_Right_After_Upgrade(t *testing.T) {
	req := require.New(t)

	// Given a relay that upgrades then closes every connection with 1011
	scripts := make([]func(conn *websocket.Conn), 500)
	for i := range scripts {
		scripts[i] = closeWith(domain.InternalError)
	}
	relay := newFakeRelay(t, scripts...)

	cfg := testConfig(relay.baseURL())
	cfg.InitialInterval = 20 * time.Millisecond
	cfg.MaxInterval = 2 * time.Second
	cfg.MaxElapsedTime = 1500 * time.Millisecond
	c := New(logs.GetLoggerFromLevel(slog.LevelError), cfg)

	// When the client keeps reconnecting
	start := time.Now()
	err := c.Run(context.Background(), Handler{})

	// Then the delays grow instead of restarting from the initial interval,
	// and the elapsed time limit still applies
	req.Error(err)
	req.Less(time.Since(start), 5*time.Second)
	req.GreaterOrEqual(c.Attempts(), 3)
	req.LessOrEqual(c.Attempts(), 20)
}

func TestClient_Gives_Up_After_Max_Elapsed_Time(t *testing.T) {
	req := require.New(t)
	relay := newFakeRelay(t)

	cfg := testConfig(relay.baseURL())
	cfg.MaxElapsedTime = 100 * time.Millisecond
	c := New(logs.GetLoggerFromLevel(slog.LevelError), cfg)

	start := time.Now()
	err := c.Run(context.Background(), Handler{})

	req.Error(err)
	req.Greater(c.Attempts(), 1)
	req.Less(time.Since(start), 2*time.Second)
}

func TestClient_Dispatches_Error_Frames(t *testing.T) {
	req := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := newFakeRelay(t, then(
		func(conn *websocket.Conn) {
			_ = conn.WriteJSON(ErrorFrame{Type: "error", Code: "rate_limited", Detail: "slow down"})
		},
		hold,
	))

	var frames []ErrorFrame
	c := New(logs.GetLoggerFromLevel(slog.LevelError), testConfig(relay.baseURL()))
	err := c.Run(ctx, Handler{OnError: func(frame ErrorFrame) {
		frames = append(frames, frame)
		cancel()
	}})

	req.NoError(err)
	req.Len(frames, 1)
	req.Equal("rate_limited", frames[0].Code)
	req.Nil(c.LastSeen())
}
