package domain

import "time"

// Room is owned by the room collaborator. The hub only keeps the runtime view
// of which sessions are connected to it.
type Room struct {
	ID        RoomID
	Name      string
	Members   map[UserID]struct{}
	CreatedAt time.Time
}

func NewRoom(id RoomID, name string, createdAt time.Time, members ...UserID) Room {
	room := Room{
		ID:        id,
		Name:      name,
		Members:   make(map[UserID]struct{}, len(members)),
		CreatedAt: createdAt,
	}
	for _, m := range members {
		room.Members[m] = struct{}{}
	}
	return room
}

func (r Room) IsMember(userID UserID) bool {
	_, ok := r.Members[userID]
	return ok
}

// AddMember returns false when the user was already a member.
func (r Room) AddMember(userID UserID) bool {
	if r.IsMember(userID) {
		return false
	}
	r.Members[userID] = struct{}{}
	return true
}
