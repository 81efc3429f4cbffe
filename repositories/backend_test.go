package repositories

import (
	"chat-relay/domain"
	"context"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

// backendConfig points the store contract tests at real servers.
// Tests of a backend are skipped when its address is not set.
type backendConfig struct {
	DatabaseURL string `envconfig:"RELAY_TEST_DATABASE_URL"`
	RedisAddr   string `envconfig:"RELAY_TEST_REDIS_ADDR"`
}

func loadBackendConfig(t *testing.T) backendConfig {
	t.Helper()
	var cfg backendConfig
	require.NoError(t, envconfig.Process("", &cfg))
	return cfg
}

// uniqueRoom avoids collisions with data left by previous runs.
func uniqueRoom() domain.RoomID {
	return domain.RoomID(time.Now().UnixNano()%1_000_000_000 + int64(uuid.New().ID()%1000))
}

func exerciseStore(t *testing.T, store IMessageRepository) {
	req := require.New(t)
	ctx := context.Background()
	room := uniqueRoom()

	var appended []domain.Message
	for _, content := range []string{"hi", "there", "bye"} {
		message, err := store.Append(ctx, room, "alice", content)
		req.NoError(err)
		appended = append(appended, message)
	}
	req.Less(appended[0].ID, appended[1].ID)
	req.Less(appended[1].ID, appended[2].ID)

	history, err := store.ListSince(ctx, room, nil)
	req.NoError(err)
	req.Len(history, 3)
	for i := range appended {
		req.Equal(appended[i].ID, history[i].ID)
		req.Equal(appended[i].Content, history[i].Content)
		req.True(appended[i].CreatedAt.Equal(history[i].CreatedAt))
	}

	since, err := store.ListSince(ctx, room, lo.ToPtr(appended[0].ID))
	req.NoError(err)
	req.Len(since, 2)
	req.Equal("there", since[0].Content)

	beyond, err := store.ListSince(ctx, room, lo.ToPtr(int64(math.MaxInt64)))
	req.NoError(err)
	req.Empty(beyond)
}

// exerciseZeroLimit checks that a zero limit disables the window like no limit.
func exerciseZeroLimit(t *testing.T, store IMessageRepository) {
	req := require.New(t)
	ctx := context.Background()
	room := uniqueRoom()
	for _, content := range []string{"a", "b"} {
		_, err := store.Append(ctx, room, "alice", content)
		req.NoError(err)
	}
	history, err := store.ListSince(ctx, room, nil)
	req.NoError(err)
	req.Len(history, 2)
}

func TestPostgresMessageRepository(t *testing.T) {
	cfg := loadBackendConfig(t)
	if cfg.DatabaseURL == "" {
		t.Skip("RELAY_TEST_DATABASE_URL not set")
	}
	store, err := NewPostgresMessageRepository(context.Background(), cfg.DatabaseURL, slog.Default(), nil)
	require.NoError(t, err)
	defer store.Close()

	exerciseStore(t, store)

	zero, err := NewPostgresMessageRepository(context.Background(), cfg.DatabaseURL, slog.Default(), lo.ToPtr(0))
	require.NoError(t, err)
	defer zero.Close()
	exerciseZeroLimit(t, zero)
}

func TestRedisMessageRepository(t *testing.T) {
	cfg := loadBackendConfig(t)
	if cfg.RedisAddr == "" {
		t.Skip("RELAY_TEST_REDIS_ADDR not set")
	}
	store, err := NewRedisMessageRepository(context.Background(), RedisConfig{Addr: cfg.RedisAddr}, slog.Default(), nil)
	require.NoError(t, err)
	defer store.Close()

	exerciseStore(t, store)

	zero, err := NewRedisMessageRepository(context.Background(), RedisConfig{Addr: cfg.RedisAddr}, slog.Default(), lo.ToPtr(0))
	require.NoError(t, err)
	defer zero.Close()
	exerciseZeroLimit(t, zero)
}

func TestBadgerMessageRepository_Contract(t *testing.T) {
	exerciseStore(t, NewMessageRepository(openBadger(t), slog.Default(), nil))
	exerciseZeroLimit(t, NewMessageRepository(openBadger(t), slog.Default(), lo.ToPtr(0)))
}
