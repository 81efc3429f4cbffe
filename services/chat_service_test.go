package services

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/mocks"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestChatService(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	ctx := context.Background()

	hub := mocks.NewMockIHub(ctrl)
	directory := mocks.NewMockIRoomDirectory(ctrl)
	svc := NewChatService(newTestLogger(), hub, directory, nil, ChatConfig{MaxContentLength: 16})
	stored := domain.Message{ID: 1, RoomID: 1, UserID: "alice", Content: "hi", CreatedAt: time.Now().UTC()}

	t.Run("should publish a valid message of a member", func(t *testing.T) {
		req := require.New(t)
		directory.EXPECT().RoomExists(gomock.Any(), domain.RoomID(1)).Return(true, nil)
		directory.EXPECT().IsMember(gomock.Any(), domain.RoomID(1), domain.UserID("alice")).Return(true, nil)
		hub.EXPECT().Publish(gomock.Any(), domain.RoomID(1), nil, domain.UserID("alice"), "hi").Return(stored, nil)

		message, err := svc.PostMessage(ctx, 1, "alice", []byte(`{"content":"hi","room_id":1}`))
		req.NoError(err)
		req.Equal(stored, message)
	})

	t.Run("should refuse a malformed payload before publishing", func(t *testing.T) {
		req := require.New(t)
		directory.EXPECT().RoomExists(gomock.Any(), domain.RoomID(1)).Return(true, nil)
		directory.EXPECT().IsMember(gomock.Any(), domain.RoomID(1), domain.UserID("alice")).Return(true, nil)
		hub.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		_, err := svc.PostMessage(ctx, 1, "alice", []byte(`{"content":""}`))
		req.ErrorIs(err, errors.ErrMalformedPayload)
	})

	t.Run("should refuse strangers", func(t *testing.T) {
		req := require.New(t)
		directory.EXPECT().RoomExists(gomock.Any(), domain.RoomID(1)).Return(true, nil)
		directory.EXPECT().IsMember(gomock.Any(), domain.RoomID(1), domain.UserID("mallory")).Return(false, nil)

		_, err := svc.GetMessages(ctx, 1, "mallory", nil)
		req.ErrorIs(err, errors.ErrRoomAccessDenied)
	})

	t.Run("should return an empty history rather than nil", func(t *testing.T) {
		req := require.New(t)
		directory.EXPECT().RoomExists(gomock.Any(), domain.RoomID(2)).Return(true, nil)
		directory.EXPECT().IsMember(gomock.Any(), domain.RoomID(2), domain.UserID("alice")).Return(true, nil)
		hub.EXPECT().History(gomock.Any(), domain.RoomID(2), nil).Return(nil, nil)

		messages, err := svc.GetMessages(ctx, 2, "alice", nil)
		req.NoError(err)
		req.NotNil(messages)
		req.Empty(messages)
	})

	t.Run("should report unknown rooms", func(t *testing.T) {
		req := require.New(t)
		directory.EXPECT().RoomExists(gomock.Any(), domain.RoomID(9)).Return(false, nil)

		_, err := svc.GetMessages(ctx, 9, "alice", nil)
		req.ErrorIs(err, errors.ErrRoomNotFound)
	})
}
