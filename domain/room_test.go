package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRoom_Membership(t *testing.T) {
	req := require.New(t)

	// Given a room created by Alice
	room := NewRoom(1, "general", time.Now().UTC(), "alice")

	// Then Alice is a member and Bob is not
	req.True(room.IsMember("alice"))
	req.False(room.IsMember("bob"))

	// When Bob is added twice
	req.True(room.AddMember("bob"))
	req.False(room.AddMember("bob"))

	// Then Bob is a member once
	req.True(room.IsMember("bob"))
	req.Len(room.Members, 2)
}

func TestMessage_After(t *testing.T) {
	req := require.New(t)
	msg := Message{ID: 5}
	cursor := int64(4)
	same := int64(5)

	req.True(msg.After(nil))
	req.True(msg.After(&cursor))
	req.False(msg.After(&same))
}
