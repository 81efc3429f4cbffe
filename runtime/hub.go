package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/repositories"
	"context"
	"fmt"
	"log/slog"
	"sync"
)

type roomEntry struct {
	mu       sync.RWMutex
	sessions map[string]contract.Outbound // session id -> session
}

// Hub keeps, for every room, the set of sessions currently attached to it
// and fans messages out to them.
// A session is attached to at most one room at a time.
type Hub struct {
	log          *slog.Logger
	store        repositories.IMessageRepository
	directory    contract.IRoomDirectory
	echoToSender bool

	mu     sync.RWMutex
	rooms  map[domain.RoomID]*roomEntry
	index  map[string]domain.RoomID // session id -> room
	closed bool

	// Publish locks live as long as the hub so that two publishers of the
	// same room can never hold different locks.
	publishMu    sync.Mutex
	publishLocks map[domain.RoomID]*sync.Mutex
}

type HubStats struct {
	Rooms    int
	Sessions int
}

func NewHub(log *slog.Logger, store repositories.IMessageRepository, directory contract.IRoomDirectory, echoToSender bool) *Hub {
	return &Hub{
		log:          log,
		store:        store,
		directory:    directory,
		echoToSender: echoToSender,
		rooms:        make(map[domain.RoomID]*roomEntry),
		index:        make(map[string]domain.RoomID),
		publishLocks: make(map[domain.RoomID]*sync.Mutex),
	}
}

// Register attaches a session to a room after checking that the room exists
// and that the session's user is one of its members.
// A session already attached to another room is moved.
func (h *Hub) Register(ctx context.Context, roomID domain.RoomID, session contract.Outbound) error {
	exists, err := h.directory.RoomExists(ctx, roomID)
	if err != nil {
		return err
	}
	if !exists {
		return errors.ErrRoomNotFound
	}
	member, err := h.directory.IsMember(ctx, roomID, session.UserID())
	if err != nil {
		return err
	}
	if !member {
		return errors.ErrRoomAccessDenied
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.ErrSessionClosed
	}

	if previous, ok := h.index[session.ID()]; ok && previous != roomID {
		h.detach(previous, session.ID())
	}
	entry, ok := h.rooms[roomID]
	if !ok {
		entry = &roomEntry{sessions: make(map[string]contract.Outbound)}
		h.rooms[roomID] = entry
	}
	entry.mu.Lock()
	entry.sessions[session.ID()] = session
	entry.mu.Unlock()
	h.index[session.ID()] = roomID

	h.log.Debug("Session registered", "room_id", roomID, "session_id", session.ID(), "user_id", session.UserID())
	return nil
}

// Deregister detaches a session from a room. Calling it twice is harmless.
func (h *Hub) Deregister(roomID domain.RoomID, session contract.Outbound) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.index[session.ID()]; !ok || current != roomID {
		return
	}
	h.detach(roomID, session.ID())
	h.log.Debug("Session deregistered", "room_id", roomID, "session_id", session.ID())
}

// detach must be called with h.mu held.
func (h *Hub) detach(roomID domain.RoomID, sessionID string) {
	delete(h.index, sessionID)
	entry, ok := h.rooms[roomID]
	if !ok {
		return
	}
	entry.mu.Lock()
	delete(entry.sessions, sessionID)
	empty := len(entry.sessions) == 0
	entry.mu.Unlock()

	// No empty entries are left behind
	if empty {
		delete(h.rooms, roomID)
	}
}

// Broadcast enqueues the message to every session of the room except exclude.
// Enqueueing never blocks: a session whose queue is full is evicted as a
// slow consumer and the others keep receiving.
// It returns the number of sessions the message was delivered to.
func (h *Hub) Broadcast(roomID domain.RoomID, message domain.Message, exclude contract.Outbound) int {
	h.mu.RLock()
	entry, ok := h.rooms[roomID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}

	entry.mu.RLock()
	targets := make([]contract.Outbound, 0, len(entry.sessions))
	for _, session := range entry.sessions {
		if exclude != nil && session.ID() == exclude.ID() {
			continue
		}
		targets = append(targets, session)
	}
	entry.mu.RUnlock()

	delivered := 0
	for _, session := range targets {
		if session.Enqueue(message) {
			delivered++
			continue
		}
		h.log.Warn("Slow consumer evicted", "room_id", roomID, "session_id", session.ID(), "user_id", session.UserID())
		h.Deregister(roomID, session)
		session.Evict(domain.SlowConsumerEvicted)
	}
	return delivered
}

// Publish appends the content to the room history and broadcasts the stored
// message. Appends and broadcasts of one room are serialized so that every
// session observes the room in append order. Nothing is broadcast when the
// store fails.
func (h *Hub) Publish(ctx context.Context, roomID domain.RoomID, sender contract.Outbound, userID domain.UserID, content string) (domain.Message, error) {
	lock := h.publishLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	message, err := h.store.Append(ctx, roomID, userID, content)
	if err != nil {
		h.log.Error("Append failed", "room_id", roomID, "user_id", userID, "error", err)
		if !errors.Is(err, errors.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
		}
		return domain.Message{}, err
	}

	var exclude contract.Outbound
	if !h.echoToSender {
		exclude = sender
	}
	delivered := h.Broadcast(roomID, message, exclude)
	h.log.Debug("Message published", "room_id", roomID, "message_id", message.ID, "delivered", delivered)
	return message, nil
}

// History returns the room history after the cursor, or the whole (windowed)
// history when there is none.
func (h *Hub) History(ctx context.Context, roomID domain.RoomID, after *int64) ([]domain.Message, error) {
	return h.store.ListSince(ctx, roomID, after)
}

func (h *Hub) publishLock(roomID domain.RoomID) *sync.Mutex {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()
	lock, ok := h.publishLocks[roomID]
	if !ok {
		lock = &sync.Mutex{}
		h.publishLocks[roomID] = lock
	}
	return lock
}

func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HubStats{Rooms: len(h.rooms), Sessions: len(h.index)}
}

// Shutdown closes every attached session with the given code and refuses
// any later registration.
func (h *Hub) Shutdown(code domain.CloseCode) {
	h.mu.Lock()
	h.closed = true
	var sessions []contract.Outbound
	for _, entry := range h.rooms {
		entry.mu.Lock()
		for _, session := range entry.sessions {
			sessions = append(sessions, session)
		}
		entry.mu.Unlock()
	}
	h.rooms = make(map[domain.RoomID]*roomEntry)
	h.index = make(map[string]domain.RoomID)
	h.mu.Unlock()

	for _, session := range sessions {
		session.Evict(code)
	}
	h.log.Info("Hub shut down", "sessions", len(sessions), "code", code)
}
