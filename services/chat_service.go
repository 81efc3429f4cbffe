package services

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/session"
	"context"
	"log/slog"
)

// IChatService is the REST side of the relay: the same hub, without a
// live connection.
type IChatService interface {
	PostMessage(ctx context.Context, roomID domain.RoomID, userID domain.UserID, raw []byte) (domain.Message, error)
	GetMessages(ctx context.Context, roomID domain.RoomID, userID domain.UserID, after *int64) ([]domain.Message, error)
}

type ChatConfig struct {
	MaxContentLength    int
	LegacyUnwrapContent bool
}

type ChatService struct {
	log       *slog.Logger
	hub       contract.IHub
	directory contract.IRoomDirectory
	censor    session.Censor
	cfg       ChatConfig
}

func NewChatService(log *slog.Logger, hub contract.IHub, directory contract.IRoomDirectory, censor session.Censor, cfg ChatConfig) *ChatService {
	return &ChatService{log: log, hub: hub, directory: directory, censor: censor, cfg: cfg}
}

// PostMessage stores and broadcasts a message sent over HTTP.
// raw follows the websocket inbound frame format.
func (s *ChatService) PostMessage(ctx context.Context, roomID domain.RoomID, userID domain.UserID, raw []byte) (domain.Message, error) {
	if err := s.checkMember(ctx, roomID, userID); err != nil {
		return domain.Message{}, err
	}
	content, err := session.ParsePayload(raw, s.cfg.MaxContentLength, s.cfg.LegacyUnwrapContent)
	if err != nil {
		return domain.Message{}, err
	}
	if s.censor != nil {
		content, _ = s.censor.Censor(content)
	}
	return s.hub.Publish(ctx, roomID, nil, userID, content)
}

func (s *ChatService) GetMessages(ctx context.Context, roomID domain.RoomID, userID domain.UserID, after *int64) ([]domain.Message, error) {
	if err := s.checkMember(ctx, roomID, userID); err != nil {
		return nil, err
	}
	messages, err := s.hub.History(ctx, roomID, after)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return messages, nil
}

func (s *ChatService) checkMember(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	exists, err := s.directory.RoomExists(ctx, roomID)
	if err != nil {
		return err
	}
	if !exists {
		return errors.ErrRoomNotFound
	}
	member, err := s.directory.IsMember(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if !member {
		s.log.Debug("Access denied", "room_id", roomID, "user_id", userID)
		return errors.ErrRoomAccessDenied
	}
	return nil
}
