package repositories

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoomRepository_Create_And_Get(t *testing.T) {
	req := require.New(t)
	repository := NewRoomRepository(openBadger(t))

	// When Alice creates two rooms
	general, err := repository.CreateRoom("general", "alice")
	req.NoError(err)
	random, err := repository.CreateRoom("random", "alice")
	req.NoError(err)

	// Then ids are allocated in order and Alice is a member
	req.Equal(domain.RoomID(1), general.ID)
	req.Equal(domain.RoomID(2), random.ID)
	req.True(general.IsMember("alice"))

	fetched, err := repository.GetRoom(general.ID)
	req.NoError(err)
	req.Equal("general", fetched.Name)
	req.True(fetched.IsMember("alice"))

	rooms, err := repository.ListRooms()
	req.NoError(err)
	req.Len(rooms, 2)
}

func TestRoomRepository_Duplicate_Name(t *testing.T) {
	req := require.New(t)
	repository := NewRoomRepository(openBadger(t))

	_, err := repository.CreateRoom("general", "alice")
	req.NoError(err)

	_, err = repository.CreateRoom("General", "bob")
	req.ErrorIs(err, errors.ErrRoomAlreadyExists)
}

func TestRoomRepository_AddMember(t *testing.T) {
	req := require.New(t)
	repository := NewRoomRepository(openBadger(t))
	room, err := repository.CreateRoom("general", "alice")
	req.NoError(err)

	// When Bob is added twice
	req.NoError(repository.AddMember(room.ID, "bob"))
	req.NoError(repository.AddMember(room.ID, "bob"))

	// Then he is a member once
	fetched, err := repository.GetRoom(room.ID)
	req.NoError(err)
	req.True(fetched.IsMember("bob"))
	req.Len(fetched.Members, 2)

	// And an unknown room is reported
	req.ErrorIs(repository.AddMember(99, "bob"), errors.ErrRoomNotFound)
	_, err = repository.GetRoom(99)
	req.ErrorIs(err, errors.ErrRoomNotFound)
}
