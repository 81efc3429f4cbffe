package session

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/mocks"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const waitFor = 2 * time.Second

func testConfig() Config {
	return Config{
		QueueSize:        64,
		MaxContentLength: 32,
		PingInterval:     time.Hour,
		PongWait:         time.Hour,
		WriteWait:        time.Second,
		RateLimitBurst:   100,
		RateLimitRefill:  time.Millisecond,
	}
}

func newHub(t *testing.T, echo bool) (*runtime.Hub, repositories.IMessageRepository) {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelError)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := repositories.NewMessageRepository(db, log, nil)

	directory := mocks.NewMockIRoomDirectory(gomock.NewController(t))
	directory.EXPECT().RoomExists(gomock.Any(), gomock.Any()).Return(true, nil).AnyTimes()
	directory.EXPECT().IsMember(gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil).AnyTimes()
	return runtime.NewHub(log, store, directory, echo), store
}

type running struct {
	session *Session
	conn    *fakeConn
	done    chan domain.CloseCode
}

func start(t *testing.T, hub contract.IHub, cfg Config, user domain.UserID, room domain.RoomID, after *int64) running {
	t.Helper()
	conn := newFakeConn()
	s := New(logs.GetLoggerFromLevel(slog.LevelError), conn, hub, nil, cfg, room, after)
	require.NoError(t, s.Authenticate(user))
	done := make(chan domain.CloseCode, 1)
	go func() { done <- s.Run(context.Background()) }()
	return running{session: s, conn: conn, done: done}
}

func (r running) nextMessage(t *testing.T) domain.Message {
	t.Helper()
	select {
	case raw := <-r.conn.out:
		var message domain.Message
		require.NoError(t, json.Unmarshal(raw, &message))
		return message
	case <-time.After(waitFor):
		t.Fatal("no message received")
		return domain.Message{}
	}
}

func (r running) nextError(t *testing.T) ErrorFrame {
	t.Helper()
	select {
	case raw := <-r.conn.out:
		var frame ErrorFrame
		require.NoError(t, json.Unmarshal(raw, &frame))
		require.Equal(t, "error", frame.Type)
		return frame
	case <-time.After(waitFor):
		t.Fatal("no error frame received")
		return ErrorFrame{}
	}
}

func (r running) stop(t *testing.T) domain.CloseCode {
	t.Helper()
	r.conn.peerClose()
	select {
	case code := <-r.done:
		return code
	case <-time.After(waitFor):
		t.Fatal("session did not stop")
		return 0
	}
}

func TestSession_Both_Members_Receive_The_Message(t *testing.T) {
	req := require.New(t)
	hub, _ := newHub(t, true)

	// Given alice and bob in room 1
	alice := start(t, hub, testConfig(), "alice", 1, nil)
	bob := start(t, hub, testConfig(), "bob", 1, nil)
	req.Eventually(func() bool { return hub.Stats().Sessions == 2 }, waitFor, 5*time.Millisecond)

	// When alice says hi
	alice.conn.in <- []byte(`{"content":"hi","room_id":1}`)

	// Then both get the stored message
	for _, r := range []running{alice, bob} {
		message := r.nextMessage(t)
		req.Equal(int64(1), message.ID)
		req.Equal(domain.RoomID(1), message.RoomID)
		req.Equal(domain.UserID("alice"), message.UserID)
		req.Equal("hi", message.Content)
		req.False(message.CreatedAt.IsZero())
	}

	req.Equal(domain.NormalClosure, alice.stop(t))
	req.Equal(domain.NormalClosure, bob.stop(t))
	req.Equal(domain.Closed, alice.session.State())
	req.Equal(runtime.HubStats{}, hub.Stats())
}

func TestSession_Reconnect_With_Cursor_Fills_The_Gap(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	hub, store := newHub(t, true)

	// Given A and B in R1, B received hi
	a := start(t, hub, testConfig(), "A", 1, nil)
	b := start(t, hub, testConfig(), "B", 1, nil)
	req.Eventually(func() bool { return hub.Stats().Sessions == 2 }, waitFor, 5*time.Millisecond)
	a.conn.in <- []byte(`{"content":"hi"}`)
	req.Equal("hi", a.nextMessage(t).Content)
	req.Equal(int64(1), b.nextMessage(t).ID)

	// When B disconnects and A says bye
	b.stop(t)
	req.Eventually(func() bool { return hub.Stats().Sessions == 1 }, waitFor, 5*time.Millisecond)
	a.conn.in <- []byte(`{"content":"bye"}`)
	req.Equal(int64(2), a.nextMessage(t).ID)

	// Then B reconnecting after id 1 gets bye, then live traffic
	again := start(t, hub, testConfig(), "B", 1, lo.ToPtr(int64(1)))
	replayed := again.nextMessage(t)
	req.Equal(int64(2), replayed.ID)
	req.Equal("bye", replayed.Content)

	req.Eventually(func() bool { return hub.Stats().Sessions == 2 }, waitFor, 5*time.Millisecond)
	_, err := hub.Publish(ctx, 1, nil, "A", "welcome back")
	req.NoError(err)
	req.Equal(int64(3), again.nextMessage(t).ID)

	history, err := store.ListSince(ctx, 1, nil)
	req.NoError(err)
	req.Len(history, 3)
}

func TestSession_Replay_Skips_Messages_Already_Queued(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	hub := mocks.NewMockIHub(ctrl)

	m := func(id int64) domain.Message {
		return domain.Message{ID: id, RoomID: 1, UserID: "A", Content: "x", CreatedAt: time.Now().UTC()}
	}

	// Given messages 2 and 3 are broadcast while the replay is being read
	hub.EXPECT().
		Register(gomock.Any(), domain.RoomID(1), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ domain.RoomID, o contract.Outbound) error {
			o.Enqueue(m(2))
			o.Enqueue(m(3))
			return nil
		})
	hub.EXPECT().History(gomock.Any(), domain.RoomID(1), lo.ToPtr(int64(1))).Return([]domain.Message{m(2)}, nil)
	hub.EXPECT().Deregister(domain.RoomID(1), gomock.Any()).AnyTimes()

	r := start(t, hub, testConfig(), "B", 1, lo.ToPtr(int64(1)))

	// Then each message is written exactly once, in order
	req.Equal(int64(2), r.nextMessage(t).ID)
	req.Equal(int64(3), r.nextMessage(t).ID)
	r.stop(t)
	req.Empty(r.conn.out)
}

func TestSession_Malformed_Payloads_Keep_The_Connection(t *testing.T) {
	req := require.New(t)
	hub, _ := newHub(t, true)
	r := start(t, hub, testConfig(), "alice", 1, nil)

	for _, raw := range []string{
		`not json`,
		`[1,2]`,
		`{"content":5}`,
		`{"content":"   "}`,
		`{"text":"hi"}`,
		`{"content":"this content is definitely longer than thirty two runes"}`,
		`{"content":"{\"content\":\"hi\"}"}`,
	} {
		r.conn.in <- []byte(raw)
		frame := r.nextError(t)
		req.Equal(CodeMalformedPayload, frame.Code, raw)
	}

	// Then the session still works
	r.conn.in <- []byte(`{"content":"still here"}`)
	req.Equal("still here", r.nextMessage(t).Content)
	r.stop(t)
}

func TestSession_Store_Failure_Sends_Error_Frame(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	hub := mocks.NewMockIHub(ctrl)
	hub.EXPECT().Register(gomock.Any(), domain.RoomID(1), gomock.Any()).Return(nil)
	hub.EXPECT().
		Publish(gomock.Any(), domain.RoomID(1), gomock.Any(), domain.UserID("alice"), "hi").
		Return(domain.Message{}, errors.ErrStoreUnavailable)
	hub.EXPECT().Deregister(domain.RoomID(1), gomock.Any()).AnyTimes()

	r := start(t, hub, testConfig(), "alice", 1, nil)
	r.conn.in <- []byte(`{"content":"hi"}`)

	req.Equal(CodeStoreUnavailable, r.nextError(t).Code)
	req.Equal(domain.Active, r.session.State())
	r.stop(t)
}

func TestSession_Rate_Limit(t *testing.T) {
	req := require.New(t)
	hub, _ := newHub(t, true)
	cfg := testConfig()
	cfg.RateLimitBurst = 2
	cfg.RateLimitRefill = time.Hour
	r := start(t, hub, cfg, "alice", 1, nil)

	for i := 0; i < 3; i++ {
		r.conn.in <- []byte(`{"content":"spam"}`)
	}

	// Then two messages go through and the third is refused
	var ids []int64
	var codes []string
	for i := 0; i < 3; i++ {
		select {
		case raw := <-r.conn.out:
			var frame map[string]any
			req.NoError(json.Unmarshal(raw, &frame))
			if frame["type"] == "error" {
				codes = append(codes, frame["code"].(string))
				continue
			}
			ids = append(ids, int64(frame["id"].(float64)))
		case <-time.After(waitFor):
			req.Fail("missing frame")
		}
	}
	req.Equal([]int64{1, 2}, ids)
	req.Equal([]string{CodeRateLimited}, codes)
	r.stop(t)
}

func TestSession_Registration_Refused(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	hub := mocks.NewMockIHub(ctrl)
	hub.EXPECT().Register(gomock.Any(), domain.RoomID(1), gomock.Any()).Return(errors.ErrRoomAccessDenied)
	hub.EXPECT().Deregister(domain.RoomID(1), gomock.Any()).AnyTimes()

	r := start(t, hub, testConfig(), "mallory", 1, nil)

	select {
	case code := <-r.done:
		req.Equal(domain.RoomAccessDenied, code)
	case <-time.After(waitFor):
		req.Fail("session should have been refused")
	}
	req.Equal([]int{int(domain.RoomAccessDenied)}, r.conn.sentCloseCodes())
	req.Equal(domain.Closed, r.session.State())
}

func TestSession_Eviction_Sends_Close_Code(t *testing.T) {
	req := require.New(t)
	hub, _ := newHub(t, true)
	r := start(t, hub, testConfig(), "alice", 1, nil)
	req.Eventually(func() bool { return hub.Stats().Sessions == 1 }, waitFor, 5*time.Millisecond)

	r.session.Evict(domain.SlowConsumerEvicted)

	select {
	case code := <-r.done:
		req.Equal(domain.SlowConsumerEvicted, code)
	case <-time.After(waitFor):
		req.Fail("evicted session should stop")
	}
	req.Equal([]int{int(domain.SlowConsumerEvicted)}, r.conn.sentCloseCodes())
	req.Equal(runtime.HubStats{}, hub.Stats())

	// A closed session swallows late broadcasts
	req.True(r.session.Enqueue(domain.Message{ID: 9}))
}

func TestSession_Enqueue_Is_Bounded(t *testing.T) {
	req := require.New(t)
	cfg := testConfig()
	cfg.QueueSize = 1
	s := New(logs.GetLoggerFromLevel(slog.LevelError), newFakeConn(), nil, nil, cfg, 1, nil)

	req.True(s.Enqueue(domain.Message{ID: 1}))
	req.False(s.Enqueue(domain.Message{ID: 2}))
}

func TestSession_Idle_Connection_Is_Dropped(t *testing.T) {
	req := require.New(t)
	hub, _ := newHub(t, true)
	cfg := testConfig()
	cfg.PingInterval = 10 * time.Millisecond
	cfg.PongWait = 80 * time.Millisecond

	// Given a client that never answers pings
	r := start(t, hub, cfg, "alice", 1, nil)

	select {
	case <-r.done:
	case <-time.After(waitFor):
		req.Fail("idle session should have been dropped")
	}
	req.GreaterOrEqual(r.conn.pingCount(), 1)
	req.Equal(runtime.HubStats{}, hub.Stats())
}

func TestSession_Censor(t *testing.T) {
	req := require.New(t)
	hub, _ := newHub(t, true)
	conn := newFakeConn()
	s := New(logs.GetLoggerFromLevel(slog.LevelError), conn, hub, maskCensor{}, testConfig(), 1, nil)
	req.NoError(s.Authenticate("alice"))
	done := make(chan domain.CloseCode, 1)
	go func() { done <- s.Run(context.Background()) }()
	r := running{session: s, conn: conn, done: done}

	r.conn.in <- []byte(`{"content":"hello"}`)
	req.Equal("*****", r.nextMessage(t).Content)
	r.stop(t)
}

type maskCensor struct{}

func (maskCensor) Censor(content string) (string, []string) {
	masked := make([]rune, 0, len(content))
	for range content {
		masked = append(masked, '*')
	}
	return string(masked), []string{content}
}

func TestSession_Lifecycle_Before_Activation(t *testing.T) {
	req := require.New(t)
	hub := mocks.NewMockIHub(gomock.NewController(t))
	hub.EXPECT().Deregister(domain.RoomID(1), gomock.Any()).AnyTimes()

	// Given a session created before its token is checked
	s := New(logs.GetLoggerFromLevel(slog.LevelError), newFakeConn(), hub, nil, testConfig(), 1, nil)
	req.Equal(domain.Connecting, s.State())
	req.Empty(s.UserID())

	// When the token is validated
	req.NoError(s.Authenticate("alice"))

	// Then the session belongs to the user and cannot be authenticated twice
	req.Equal(domain.Authenticated, s.State())
	req.Equal(domain.UserID("alice"), s.UserID())
	req.ErrorIs(s.Authenticate("bob"), errors.ErrInvalidTransition)
	req.Equal(domain.UserID("alice"), s.UserID())
}

func TestSession_Reject_While_Connecting(t *testing.T) {
	req := require.New(t)
	hub := mocks.NewMockIHub(gomock.NewController(t))
	hub.EXPECT().Deregister(domain.RoomID(1), gomock.Any()).AnyTimes()
	conn := newFakeConn()

	// Given a session whose token was refused
	s := New(logs.GetLoggerFromLevel(slog.LevelError), conn, hub, nil, testConfig(), 1, nil)

	// When it is rejected
	code := s.Reject(fmt.Errorf("token expired: %w", errors.ErrAuthFailed))

	// Then the client gets the auth close code and the session is closed
	req.Equal(domain.AuthFailed, code)
	req.Equal([]int{int(domain.AuthFailed)}, conn.sentCloseCodes())
	req.Equal(domain.Closed, s.State())
}
