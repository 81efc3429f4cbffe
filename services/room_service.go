package services

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/repositories"
	"context"
	"log/slog"
	"strings"
)

type IRoomService interface {
	CreateRoom(ctx context.Context, name string, creator domain.UserID) (domain.Room, error)
	ListRooms(ctx context.Context) ([]domain.Room, error)
	AddMember(ctx context.Context, roomID domain.RoomID, requester, userID domain.UserID) error
	RoomExists(ctx context.Context, roomID domain.RoomID) (bool, error)
	IsMember(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (bool, error)
}

// RoomService is the room directory backing both the REST surface and the hub.
type RoomService struct {
	log            *slog.Logger
	roomRepository repositories.IRoomRepository
}

func NewRoomService(log *slog.Logger, repo repositories.IRoomRepository) *RoomService {
	return &RoomService{log: log, roomRepository: repo}
}

// CreateRoom stores the room with its creator as first member.
func (s *RoomService) CreateRoom(_ context.Context, name string, creator domain.UserID) (domain.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Room{}, errors.ErrInvalidRoom
	}
	room, err := s.roomRepository.CreateRoom(name, creator)
	if err != nil {
		return domain.Room{}, err
	}
	s.log.Info("Room created", "room_id", room.ID, "name", room.Name, "creator", creator)
	return room, nil
}

func (s *RoomService) ListRooms(_ context.Context) ([]domain.Room, error) {
	return s.roomRepository.ListRooms()
}

// AddMember lets an existing member invite another user.
func (s *RoomService) AddMember(ctx context.Context, roomID domain.RoomID, requester, userID domain.UserID) error {
	ok, err := s.IsMember(ctx, roomID, requester)
	if err != nil {
		return err
	}
	if !ok {
		return errors.ErrRoomAccessDenied
	}
	if err = s.roomRepository.AddMember(roomID, userID); err != nil {
		return err
	}
	s.log.Debug("Member added", "room_id", roomID, "user_id", userID)
	return nil
}

func (s *RoomService) RoomExists(_ context.Context, roomID domain.RoomID) (bool, error) {
	_, err := s.roomRepository.GetRoom(roomID)
	if errors.Is(err, errors.ErrRoomNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IsMember returns errors.ErrRoomNotFound when the room does not exist.
func (s *RoomService) IsMember(_ context.Context, roomID domain.RoomID, userID domain.UserID) (bool, error) {
	room, err := s.roomRepository.GetRoom(roomID)
	if err != nil {
		return false, err
	}
	return room.IsMember(userID), nil
}
