//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

// IMessageRepository is the durable, append-only log of messages per room.
// Every backend returns errors wrapped in errors.ErrStoreUnavailable.
type IMessageRepository interface {
	Append(ctx context.Context, roomID domain.RoomID, userID domain.UserID, content string) (domain.Message, error)
	ListSince(ctx context.Context, roomID domain.RoomID, after *int64) ([]domain.Message, error)
	Close() error
}

const maxConflictRetries = 5

type MessageRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages *int
	clock         func() time.Time
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, limitMessages *int) *MessageRepository {
	return &MessageRepository{db: db, log: log, limitMessages: limitMessages, clock: utcNow}
}

// DiskMessage is the persisted representation shared by every backend.
type DiskMessage struct {
	ID      int64  `json:"id"`
	Room    int64  `json:"room"`
	Author  string `json:"author"`
	Content string `json:"content"`
	At      int64  `json:"at"`
}

// Append persists a message in BadgerDB.
// The id comes from the "seq:{room_id}" counter incremented in the same
// transaction as the message write, so ids are dense and strictly increasing.
// The key is "msg:{room_id_padded}:{id_padded}": the 20-digit zero padding keeps
// the lexicographical order of keys equal to the append order.
func (m *MessageRepository) Append(_ context.Context, roomID domain.RoomID, userID domain.UserID, content string) (domain.Message, error) {
	var stored DiskMessage
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = m.db.Update(func(txn *badger.Txn) error {
			id, err := nextSequence(txn, sequenceKey("seq:msg", int64(roomID)))
			if err != nil {
				return err
			}
			stored = DiskMessage{
				ID:      id,
				Room:    int64(roomID),
				Author:  string(userID),
				Content: content,
				At:      m.clock().UnixNano(),
			}
			bytes, err := json.Marshal(stored)
			if err != nil {
				return err
			}
			return txn.Set(messageKey(roomID, id), bytes)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
		m.log.Debug("Transaction conflict while appending, retrying", "room_id", roomID, "attempt", attempt+1)
	}
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
	}
	return toMessage(stored), nil
}

// ListSince returns the messages of a room in append order.
// With a cursor, every message after it is returned so that a reconnecting
// client can fill its gap completely. Without a cursor the history is
// windowed to the last limitMessages messages when a limit is configured.
func (m *MessageRepository) ListSince(_ context.Context, roomID domain.RoomID, after *int64) ([]domain.Message, error) {
	// No id can follow the largest one
	if after != nil && *after == math.MaxInt64 {
		return []domain.Message{}, nil
	}
	var diskMessages []DiskMessage
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := roomPrefix(roomID)
		if limit, ok := historyWindow(m.limitMessages); after == nil && ok {
			window, err := m.lastWindow(txn, prefix, limit)
			diskMessages = window
			return err
		}

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		seekKey := prefix
		if after != nil {
			seekKey = messageKey(roomID, *after+1)
		}
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			dm, err := decodeItem(it.Item())
			if err != nil {
				return err
			}
			diskMessages = append(diskMessages, dm)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
	}
	return lo.Map(diskMessages, func(item DiskMessage, _ int) domain.Message {
		return toMessage(item)
	}), nil
}

// lastWindow walks the room backwards from its newest key and returns
// at most limit messages, oldest first.
func (m *MessageRepository) lastWindow(txn *badger.Txn, prefix []byte, limit int) ([]DiskMessage, error) {
	options := badger.DefaultIteratorOptions
	options.Reverse = true
	it := txn.NewIterator(options)
	defer it.Close()

	// Let's go the newest position msg:{room}:99999999999999999999
	seekKey := append(append([]byte{}, prefix...), []byte("99999999999999999999")...)
	var window []DiskMessage
	for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
		if len(window) == limit {
			m.log.Debug(fmt.Sprintf("Maximum of %d message reached", limit))
			break
		}
		dm, err := decodeItem(it.Item())
		if err != nil {
			return nil, err
		}
		window = append(window, dm)
	}
	slices.Reverse(window)
	return window, nil
}

// Close is a no-op, the badger handle is shared with the user and room
// repositories and closed by its owner.
func (m *MessageRepository) Close() error {
	return nil
}

// historyWindow returns the size of the window applied to a history read
// without cursor. A missing or non positive limit means no window.
func historyWindow(limitMessages *int) (int, bool) {
	if limitMessages == nil || *limitMessages <= 0 {
		return 0, false
	}
	return *limitMessages, true
}

func decodeItem(item *badger.Item) (DiskMessage, error) {
	var dm DiskMessage
	err := item.Value(func(value []byte) error {
		return json.Unmarshal(value, &dm)
	})
	return dm, err
}

func roomPrefix(roomID domain.RoomID) []byte {
	return []byte(fmt.Sprintf("msg:%020d:", int64(roomID)))
}

func messageKey(roomID domain.RoomID, id int64) []byte {
	return []byte(fmt.Sprintf("msg:%020d:%020d", int64(roomID), id))
}

func toMessage(dm DiskMessage) domain.Message {
	return domain.Message{
		ID:        dm.ID,
		RoomID:    domain.RoomID(dm.Room),
		UserID:    domain.UserID(dm.Author),
		Content:   dm.Content,
		CreatedAt: time.Unix(0, dm.At).UTC(),
	}
}

func fromMessage(message domain.Message) DiskMessage {
	return DiskMessage{
		ID:      message.ID,
		Room:    int64(message.RoomID),
		Author:  string(message.UserID),
		Content: message.Content,
		At:      message.CreatedAt.UnixNano(),
	}
}

func utcNow() time.Time {
	return time.Now().UTC()
}
