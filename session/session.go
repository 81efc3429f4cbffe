package session

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Conn is the part of a websocket connection a session relies on.
// *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Censor masks forbidden words in a content.
type Censor interface {
	Censor(content string) (string, []string)
}

type Config struct {
	QueueSize           int
	MaxContentLength    int
	PingInterval        time.Duration
	PongWait            time.Duration
	WriteWait           time.Duration
	RateLimitBurst      int
	RateLimitRefill     time.Duration
	LegacyUnwrapContent bool
}

const noticeQueueSize = 8

// Session is one live connection bound to a user and a room.
// It owns its outbound queue and its state machine. The hub only keeps a
// reference to it while it is registered.
type Session struct {
	id     string
	userID domain.UserID
	roomID domain.RoomID
	after  *int64

	conn    Conn
	hub     contract.IHub
	censor  Censor
	log     *slog.Logger
	cfg     Config
	limiter *rate.Limiter

	queue   chan domain.Message
	notices chan ErrorFrame

	mu        sync.Mutex
	state     domain.SessionState
	closeCode domain.CloseCode

	closing    chan struct{}
	closeOnce  sync.Once
	writerDone chan struct{}
}

// New creates a session in the Connecting state. It belongs to no user
// until Authenticate is called.
// after is the last message id the client has seen, nil for none.
func New(
	log *slog.Logger,
	conn Conn,
	hub contract.IHub,
	censor Censor,
	cfg Config,
	roomID domain.RoomID,
	after *int64,
) *Session {
	id := uuid.NewString()
	var limiter *rate.Limiter
	if cfg.RateLimitBurst > 0 && cfg.RateLimitRefill > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.RateLimitRefill), cfg.RateLimitBurst)
	}
	return &Session{
		id:         id,
		roomID:     roomID,
		after:      after,
		conn:       conn,
		hub:        hub,
		censor:     censor,
		log:        log.With("session_id", id, "room_id", roomID),
		cfg:        cfg,
		limiter:    limiter,
		queue:      make(chan domain.Message, cfg.QueueSize),
		notices:    make(chan ErrorFrame, noticeQueueSize),
		state:      domain.Connecting,
		closing:    make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

func (s *Session) ID() string            { return s.id }
func (s *Session) UserID() domain.UserID { return s.userID }
func (s *Session) RoomID() domain.RoomID { return s.roomID }

func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) transition(next domain.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.state.Transition(next)
	if err != nil {
		return err
	}
	s.state = state
	return nil
}

// Authenticate binds the session to the user its token was issued for.
func (s *Session) Authenticate(userID domain.UserID) error {
	if err := s.transition(domain.Authenticated); err != nil {
		return err
	}
	s.userID = userID
	s.log = s.log.With("user_id", userID)
	return nil
}

// Reject ends a session that never became active, sending the close code
// matching err. The session goes through Closing to Closed.
func (s *Session) Reject(err error) domain.CloseCode {
	s.log.Info("Connection rejected", "error", err)
	s.closeWith(domain.CloseCodeFor(err))
	s.finish(nil)
	return s.code()
}

// Run registers the session in its room, replays the history after the
// client cursor, then pumps frames until the connection ends.
// It returns the close code the connection ended with.
func (s *Session) Run(ctx context.Context) domain.CloseCode {
	if err := s.hub.Register(ctx, s.roomID, s); err != nil {
		s.log.Warn("Registration refused", "error", err)
		return s.Reject(err)
	}
	if err := s.transition(domain.Active); err != nil {
		s.log.Error("Session cannot become active", "error", err)
		s.closeWith(domain.InternalError)
		s.finish(nil)
		return s.code()
	}

	// Registered first: a message appended while replaying is either in the
	// replay or queued live, never lost.
	var replay []domain.Message
	if s.after != nil {
		history, err := s.hub.History(ctx, s.roomID, s.after)
		if err != nil {
			s.log.Error("Replay failed", "error", err)
			s.closeWith(domain.CloseCodeFor(err))
			s.finish(nil)
			return s.code()
		}
		replay = history
		s.log.Debug("Replaying history", "after", *s.after, "count", len(replay))
	}

	go s.writePump(replay)
	s.readPump(ctx)
	s.closeWith(domain.NormalClosure)
	s.finish(s.writerDone)
	return s.code()
}

// OnInboundPayload handles one frame received from the client.
// Errors are reported to the client with an error frame; the connection is
// kept open.
func (s *Session) OnInboundPayload(ctx context.Context, raw []byte) error {
	if s.State() != domain.Active {
		return errors.ErrSessionClosed
	}
	if s.limiter != nil && !s.limiter.Allow() {
		s.log.Warn("Rate limit exceeded, frame discarded")
		s.notify(newErrorFrame(CodeRateLimited, "too many messages"))
		return errors.ErrRateLimited
	}

	content, err := ParsePayload(raw, s.cfg.MaxContentLength, s.cfg.LegacyUnwrapContent)
	if err != nil {
		s.log.Warn("Malformed payload", "error", err)
		s.notify(newErrorFrame(CodeMalformedPayload, err.Error()))
		return err
	}
	if s.censor != nil {
		var words []string
		if content, words = s.censor.Censor(content); len(words) > 0 {
			s.log.Info("Content moderated", "words", len(words))
		}
	}

	if _, err = s.hub.Publish(ctx, s.roomID, s, s.userID, content); err != nil {
		s.notify(newErrorFrame(CodeStoreUnavailable, "message not stored, retry later"))
		return err
	}
	return nil
}

// Enqueue hands a message to the write pump without blocking.
// It returns false when the queue is full.
func (s *Session) Enqueue(message domain.Message) bool {
	select {
	case <-s.closing:
		// Dropped, the client recovers it from the history
		return true
	default:
	}
	select {
	case s.queue <- message:
		return true
	default:
		return false
	}
}

// Evict closes the session with the given code. It never blocks.
func (s *Session) Evict(code domain.CloseCode) {
	s.log.Info("Session evicted", "code", code)
	s.closeWith(code)
}

// OnDisconnect releases the registration of the session.
func (s *Session) OnDisconnect() {
	s.hub.Deregister(s.roomID, s)
}

func (s *Session) notify(frame ErrorFrame) {
	select {
	case s.notices <- frame:
	default:
		s.log.Debug("Error frame dropped", "code", frame.Code)
	}
}

// closeWith records the first close code and asks the write pump to send it.
func (s *Session) closeWith(code domain.CloseCode) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closeCode = code
		if s.state != domain.Closing && s.state != domain.Closed {
			s.state = domain.Closing
		}
		s.mu.Unlock()
		close(s.closing)
	})
}

// finish runs once the read pump is over: it waits for the writer, leaves
// the room and closes the socket.
func (s *Session) finish(writerDone <-chan struct{}) {
	if writerDone != nil {
		<-writerDone
	} else {
		s.writeClose()
	}
	s.OnDisconnect()
	if err := s.conn.Close(); err != nil {
		s.log.Debug("Error while closing connection", "error", err)
	}
	if err := s.transition(domain.Closed); err != nil {
		s.log.Error("Unexpected state on close", "error", err)
	}
	s.log.Info("Session closed", "code", s.code())
}

func (s *Session) code() domain.CloseCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCode
}
