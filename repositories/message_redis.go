package repositories

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
)

// RedisMessageRepository keeps one sorted set per room, scored by message id.
// Ids come from an INCR counter; a failed ZADD leaves a hole in the ids but
// never breaks their ordering.
type RedisMessageRepository struct {
	client        *redis.Client
	log           *slog.Logger
	limitMessages *int
	clock         func() time.Time
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func NewRedisMessageRepository(ctx context.Context, cfg RedisConfig,
	log *slog.Logger, limitMessages *int) (*RedisMessageRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
	}
	return &RedisMessageRepository{client: client, log: log, limitMessages: limitMessages, clock: utcNow}, nil
}

func redisSeqKey(roomID domain.RoomID) string {
	return fmt.Sprintf("room:%d:seq", int64(roomID))
}

func redisMessagesKey(roomID domain.RoomID) string {
	return fmt.Sprintf("room:%d:messages", int64(roomID))
}

func (r *RedisMessageRepository) Append(ctx context.Context, roomID domain.RoomID, userID domain.UserID, content string) (domain.Message, error) {
	id, err := r.client.Incr(ctx, redisSeqKey(roomID)).Result()
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
	}
	message := domain.Message{
		ID:        id,
		RoomID:    roomID,
		UserID:    userID,
		Content:   content,
		CreatedAt: time.Unix(0, r.clock().UnixNano()).UTC(),
	}
	member, err := json.Marshal(fromMessage(message))
	if err != nil {
		return domain.Message{}, err
	}
	if err = r.client.ZAdd(ctx, redisMessagesKey(roomID), redis.Z{
		Score:  float64(id),
		Member: member,
	}).Err(); err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
	}
	return message, nil
}

func (r *RedisMessageRepository) ListSince(ctx context.Context, roomID domain.RoomID, after *int64) ([]domain.Message, error) {
	key := redisMessagesKey(roomID)
	limit, windowed := historyWindow(r.limitMessages)
	var members []string
	var err error
	switch {
	case after != nil:
		members, err = r.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
			Min: "(" + strconv.FormatInt(*after, 10),
			Max: "+inf",
		}).Result()
	case windowed:
		members, err = r.client.ZRange(ctx, key, -int64(limit), -1).Result()
	default:
		members, err = r.client.ZRange(ctx, key, 0, -1).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
	}

	diskMessages := make([]DiskMessage, 0, len(members))
	for _, member := range members {
		var dm DiskMessage
		if err = json.Unmarshal([]byte(member), &dm); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
		}
		diskMessages = append(diskMessages, dm)
	}
	return lo.Map(diskMessages, func(item DiskMessage, _ int) domain.Message {
		return toMessage(item)
	}), nil
}

func (r *RedisMessageRepository) Close() error {
	return r.client.Close()
}
