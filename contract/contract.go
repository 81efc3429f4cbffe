//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/domain"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// IAuthenticator is the auth collaborator seen by the gateway.
// ValidateToken returns errors.ErrAuthFailed for a bad or expired token.
type IAuthenticator interface {
	ValidateToken(ctx context.Context, token string) (domain.UserID, error)
}

// IRoomDirectory is the room collaborator seen by the gateway and the hub.
type IRoomDirectory interface {
	RoomExists(ctx context.Context, roomID domain.RoomID) (bool, error)
	IsMember(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (bool, error)
}

// Outbound is the hub's view of a connected session.
// Enqueue must never block: a full queue evicts the session.
type Outbound interface {
	ID() string
	UserID() domain.UserID
	Enqueue(message domain.Message) bool
	Evict(code domain.CloseCode)
}

type IHub interface {
	Register(ctx context.Context, roomID domain.RoomID, session Outbound) error
	Deregister(roomID domain.RoomID, session Outbound)
	Broadcast(roomID domain.RoomID, message domain.Message, exclude Outbound) int
	Publish(ctx context.Context, roomID domain.RoomID, sender Outbound, userID domain.UserID, content string) (domain.Message, error)
	History(ctx context.Context, roomID domain.RoomID, after *int64) ([]domain.Message, error)
}
