//go:generate go run go.uber.org/mock/mockgen -source=room.go -destination=../mocks/mock_room_repository.go -package=mocks
package repositories

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

type IRoomRepository interface {
	CreateRoom(name string, creator domain.UserID) (domain.Room, error)
	GetRoom(id domain.RoomID) (domain.Room, error)
	ListRooms() ([]domain.Room, error)
	AddMember(id domain.RoomID, userID domain.UserID) error
}

type RoomRepository struct {
	db *badger.DB
}

func NewRoomRepository(db *badger.DB) IRoomRepository {
	return &RoomRepository{db: db}
}

type DiskRoom struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

const roomPrefixKey = "room:"

func roomKey(id domain.RoomID) []byte {
	return []byte(fmt.Sprintf("%s%020d", roomPrefixKey, int64(id)))
}

func roomNameKey(name string) []byte {
	return []byte("roomname:" + strings.ToLower(name))
}

// CreateRoom allocates the next room id, stores the room with its creator as
// first member and reserves the room name.
func (r RoomRepository) CreateRoom(name string, creator domain.UserID) (domain.Room, error) {
	var room domain.Room
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = r.db.Update(func(txn *badger.Txn) error {
			if _, err := txn.Get(roomNameKey(name)); err == nil {
				return errors.ErrRoomAlreadyExists
			}
			id, err := nextSequence(txn, []byte("seq:rooms"))
			if err != nil {
				return err
			}
			room = domain.NewRoom(domain.RoomID(id), name, time.Now().UTC(), creator)
			if err = writeRoom(txn, room); err != nil {
				return err
			}
			return txn.Set(roomNameKey(name), roomKey(room.ID))
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return domain.Room{}, err
	}
	return room, nil
}

func (r RoomRepository) GetRoom(id domain.RoomID) (domain.Room, error) {
	var room domain.Room
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		room, err = readRoom(txn, id)
		return err
	})
	return room, err
}

func (r RoomRepository) ListRooms() ([]domain.Room, error) {
	var rooms []domain.Room
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(roomPrefixKey)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var dr DiskRoom
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &dr)
			}); err != nil {
				return err
			}
			rooms = append(rooms, toRoom(dr))
		}
		return nil
	})
	return rooms, err
}

// AddMember is idempotent: adding an existing member is not an error.
func (r RoomRepository) AddMember(id domain.RoomID, userID domain.UserID) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = r.db.Update(func(txn *badger.Txn) error {
			room, err := readRoom(txn, id)
			if err != nil {
				return err
			}
			if !room.AddMember(userID) {
				return nil
			}
			return writeRoom(txn, room)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	return err
}

func readRoom(txn *badger.Txn, id domain.RoomID) (domain.Room, error) {
	item, err := txn.Get(roomKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Room{}, errors.ErrRoomNotFound
	}
	if err != nil {
		return domain.Room{}, err
	}
	var dr DiskRoom
	if err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &dr)
	}); err != nil {
		return domain.Room{}, err
	}
	return toRoom(dr), nil
}

func writeRoom(txn *badger.Txn, room domain.Room) error {
	data, err := json.Marshal(fromRoom(room))
	if err != nil {
		return err
	}
	return txn.Set(roomKey(room.ID), data)
}

func toRoom(dr DiskRoom) domain.Room {
	members := lo.Map(dr.Members, func(item string, _ int) domain.UserID {
		return domain.UserID(item)
	})
	return domain.NewRoom(domain.RoomID(dr.ID), dr.Name, dr.CreatedAt, members...)
}

func fromRoom(room domain.Room) DiskRoom {
	members := lo.Map(lo.Keys(room.Members), func(item domain.UserID, _ int) string {
		return string(item)
	})
	return DiskRoom{
		ID:        int64(room.ID),
		Name:      room.Name,
		Members:   members,
		CreatedAt: room.CreatedAt,
	}
}
