package repositories

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const messagesSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id         BIGSERIAL PRIMARY KEY,
	room_id    BIGINT      NOT NULL,
	user_id    TEXT        NOT NULL,
	content    TEXT        NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_room_id_id_idx ON messages (room_id, id);
`

// PostgresMessageRepository stores messages in a single table.
// The BIGSERIAL id is global, hence strictly increasing within a room as long
// as appends to one room are serialized, which the hub guarantees.
type PostgresMessageRepository struct {
	pool          *pgxpool.Pool
	log           *slog.Logger
	limitMessages *int
	clock         func() time.Time
}

func NewPostgresMessageRepository(ctx context.Context, databaseURL string,
	log *slog.Logger, limitMessages *int) (*PostgresMessageRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
	}
	if _, err = pool.Exec(ctx, messagesSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("schema creation failed: %w", err)
	}
	return &PostgresMessageRepository{pool: pool, log: log, limitMessages: limitMessages, clock: utcNow}, nil
}

func (p *PostgresMessageRepository) Append(ctx context.Context, roomID domain.RoomID, userID domain.UserID, content string) (domain.Message, error) {
	// Postgres keeps microseconds, truncate so the returned message equals the stored one.
	message := domain.Message{
		RoomID:    roomID,
		UserID:    userID,
		Content:   content,
		CreatedAt: p.clock().Truncate(time.Microsecond),
	}
	err := p.pool.QueryRow(ctx,
		`INSERT INTO messages (room_id, user_id, content, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		int64(roomID), string(userID), content, message.CreatedAt,
	).Scan(&message.ID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
	}
	return message, nil
}

func (p *PostgresMessageRepository) ListSince(ctx context.Context, roomID domain.RoomID, after *int64) ([]domain.Message, error) {
	limit, windowed := historyWindow(p.limitMessages)
	var rows pgx.Rows
	var err error
	switch {
	case after != nil:
		rows, err = p.pool.Query(ctx,
			`SELECT id, room_id, user_id, content, created_at FROM messages
			 WHERE room_id = $1 AND id > $2 ORDER BY id ASC`,
			int64(roomID), *after)
	case windowed:
		rows, err = p.pool.Query(ctx,
			`SELECT id, room_id, user_id, content, created_at FROM (
			   SELECT id, room_id, user_id, content, created_at FROM messages
			   WHERE room_id = $1 ORDER BY id DESC LIMIT $2
			 ) window_messages ORDER BY id ASC`,
			int64(roomID), limit)
	default:
		rows, err = p.pool.Query(ctx,
			`SELECT id, room_id, user_id, content, created_at FROM messages
			 WHERE room_id = $1 ORDER BY id ASC`,
			int64(roomID))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
	}

	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Message, error) {
		var m domain.Message
		var room int64
		var user string
		if err := row.Scan(&m.ID, &room, &user, &m.Content, &m.CreatedAt); err != nil {
			return domain.Message{}, err
		}
		m.RoomID = domain.RoomID(room)
		m.UserID = domain.UserID(user)
		m.CreatedAt = m.CreatedAt.UTC()
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
	}
	return messages, nil
}

func (p *PostgresMessageRepository) Close() error {
	p.pool.Close()
	return nil
}
