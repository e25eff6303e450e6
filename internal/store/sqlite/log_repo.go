package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"client_go/internal/domain"
	"client_go/internal/store"
)

type LogRepo struct {
	db    *sql.DB
	codec *store.Codec
}

func NewLogRepo(db *sql.DB, codec *store.Codec) *LogRepo {
	return &LogRepo{db: db, codec: codec}
}

var (
	_ domain.LogStore   = (*LogRepo)(nil)
	_ domain.RoomLister = (*LogRepo)(nil)
)

func (r *LogRepo) Load(ctx context.Context, roomID string) ([]*domain.Message, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT payload FROM conversation_logs WHERE room_id = ?
	`, roomID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return []*domain.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load log: %w", err)
	}
	return r.codec.Decode(payload)
}

func (r *LogRepo) Save(ctx context.Context, roomID string, msgs []*domain.Message) error {
	payload, err := r.codec.Encode(msgs)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO conversation_logs (room_id, payload, message_count, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(room_id) DO UPDATE SET
			payload = excluded.payload,
			message_count = excluded.message_count,
			updated_at = CURRENT_TIMESTAMP
	`, roomID, payload, len(msgs))
	if err != nil {
		return fmt.Errorf("save log: %w", err)
	}
	return nil
}

func (r *LogRepo) Rooms(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT room_id FROM conversation_logs ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var res []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		res = append(res, id)
	}
	return res, rows.Err()
}
