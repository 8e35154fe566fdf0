package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messenger-service/internal/models"
)

const messageColumns = `id, room, author, recipient, kind, body, created_at, seen`

// MessageRepo is a sqlx-backed ledger. The seq column breaks created_at ties
// in insertion order.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// AppendMessage stores a message, assigning an id and timestamp when missing.
func (r *MessageRepo) AppendMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.Seen = false
	_, err := r.db.ExecContext(ctx, `INSERT INTO messages (id, room, author, recipient, kind, body, created_at, seen)
        VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)`,
		msg.ID, msg.Room, msg.Author, msg.Recipient, msg.Kind, msg.Body, msg.CreatedAt)
	if err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// History returns the room's messages in ledger order.
func (r *MessageRepo) History(ctx context.Context, room string) ([]models.Message, error) {
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages WHERE room=$1 ORDER BY created_at ASC, seq ASC`, room)
	return msgs, err
}

// MarkSeen flips every unseen message addressed to viewer and reports how many changed.
func (r *MessageRepo) MarkSeen(ctx context.Context, room, viewer string) (int, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET seen = TRUE WHERE room=$1 AND recipient=$2 AND seen = FALSE`, room, viewer)
	if err != nil {
		return 0, err
	}
	count, err := res.RowsAffected()
	return int(count), err
}

// GetMessage retrieves a single message of a room.
func (r *MessageRepo) GetMessage(ctx context.Context, room, id string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE room=$1 AND id=$2`, room, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// DeleteMessage removes a single message.
func (r *MessageRepo) DeleteMessage(ctx context.Context, room, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE room=$1 AND id=$2`, room, id)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// ClearRoom removes every message of the room.
func (r *MessageRepo) ClearRoom(ctx context.Context, room string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE room=$1`, room)
	return err
}

// RoomSummaries returns the last message and the viewer's unread count per room.
func (r *MessageRepo) RoomSummaries(ctx context.Context, rooms []string, viewer string) (map[string]models.RoomSummary, error) {
	result := make(map[string]models.RoomSummary, len(rooms))
	if len(rooms) == 0 {
		return result, nil
	}

	var last []models.Message
	if err := r.db.SelectContext(ctx, &last, `SELECT DISTINCT ON (room) `+messageColumns+` FROM messages
        WHERE room = ANY($1) ORDER BY room, created_at DESC, seq DESC`, pq.Array(rooms)); err != nil {
		return nil, err
	}
	for i := range last {
		msg := last[i]
		result[msg.Room] = models.RoomSummary{Room: msg.Room, LastMessage: &msg}
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT room, COUNT(*) FROM messages
        WHERE room = ANY($1) AND recipient=$2 AND seen = FALSE GROUP BY room`, pq.Array(rooms), viewer)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var room string
		var unread int
		if err := rows.Scan(&room, &unread); err != nil {
			return nil, err
		}
		summary := result[room]
		summary.Room = room
		summary.UnreadCount = unread
		result[room] = summary
	}
	return result, rows.Err()
}
