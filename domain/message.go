// Package domain contains core concepts of the relay.
// This file defines Message, the immutable unit stored and broadcast per room.
package domain

import (
	"time"
)

type RoomID int64

type UserID string

// Message represents an immutable chat message once appended to the store.
// ID is strictly increasing within a room.
type Message struct {
	ID        int64     `json:"id"`
	RoomID    RoomID    `json:"room_id"`
	UserID    UserID    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// After reports whether m was appended after the given cursor.
// A nil cursor means "before the first message".
func (m Message) After(cursor *int64) bool {
	return cursor == nil || m.ID > *cursor
}
