package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chat-relay/internal/models"
)

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

type messageRow struct {
	ID          string    `db:"id"`
	RoomID      string    `db:"room_id"`
	Type        string    `db:"type"`
	Content     string    `db:"content"`
	Attachments []byte    `db:"attachments"`
	SenderID    string    `db:"sender_id"`
	SenderName  string    `db:"sender_name"`
	CreatedAt   time.Time `db:"created_at"`
	Read        bool      `db:"read"`
}

func (row messageRow) toModel() (models.Message, error) {
	msg := models.Message{
		ID:         row.ID,
		RoomID:     row.RoomID,
		Type:       models.MessageType(row.Type),
		Content:    row.Content,
		SenderID:   row.SenderID,
		SenderName: row.SenderName,
		Timestamp:  row.CreatedAt.UTC(),
		Read:       row.Read,
	}
	if len(row.Attachments) > 0 {
		if err := json.Unmarshal(row.Attachments, &msg.Attachments); err != nil {
			return models.Message{}, fmt.Errorf("decode attachments of %s: %w", row.ID, err)
		}
	}
	return msg, nil
}

const messageColumns = `id, room_id, type, content, attachments, sender_id, sender_name, created_at, read`

// Join creates the room if needed and adds the identity once.
func (r *RoomRepo) Join(ctx context.Context, roomID string, identity models.Identity) (result JoinResult, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return JoinResult{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `INSERT INTO rooms (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, roomID); err != nil {
		return JoinResult{}, err
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO room_participants (room_id, identity_id, name, role) VALUES ($1, $2, $3, $4)
        ON CONFLICT (room_id, identity_id) DO NOTHING`, roomID, identity.ID, identity.Name, identity.Role)
	if err != nil {
		return JoinResult{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return JoinResult{}, err
	}
	result.Added = affected > 0

	if result.Participants, err = participants(ctx, tx, roomID); err != nil {
		return JoinResult{}, err
	}
	if result.History, err = messages(ctx, tx, roomID); err != nil {
		return JoinResult{}, err
	}

	if err = tx.Commit(); err != nil {
		return JoinResult{}, err
	}
	return result, nil
}

// Append stores msg at the end of the room log.
func (r *RoomRepo) Append(ctx context.Context, roomID string, msg models.Message) (models.Message, error) {
	var attachments sql.NullString
	if len(msg.Attachments) > 0 {
		raw, err := json.Marshal(msg.Attachments)
		if err != nil {
			return models.Message{}, fmt.Errorf("encode attachments: %w", err)
		}
		attachments = sql.NullString{String: string(raw), Valid: true}
	}
	msg.RoomID = roomID

	var seq int64
	err := r.db.QueryRowxContext(ctx, `INSERT INTO room_messages (`+messageColumns+`)
        SELECT $1, $2, $3, $4, $5::jsonb, $6, $7, $8::timestamptz, FALSE
        WHERE EXISTS (SELECT 1 FROM rooms WHERE id=$2)
        RETURNING seq`,
		msg.ID, roomID, string(msg.Type), msg.Content, attachments, msg.SenderID, msg.SenderName, msg.Timestamp).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrRoomNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	msg.Read = false
	return msg, nil
}

// Leave removes the identity from every room it participates in.
func (r *RoomRepo) Leave(ctx context.Context, identityID string) ([]string, error) {
	var rooms []string
	if err := r.db.SelectContext(ctx, &rooms, `DELETE FROM room_participants WHERE identity_id=$1 RETURNING room_id`, identityID); err != nil {
		return nil, err
	}
	sort.Strings(rooms)
	return rooms, nil
}

// Reset removes every participant row. A fresh process has no connections,
// so membership left by a previous run is stale.
func (r *RoomRepo) Reset(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM room_participants`); err != nil {
		return fmt.Errorf("reset participants: %w", err)
	}
	return nil
}

// MarkRead flips read to true for the given ids and returns the ones that changed,
// in the order they were requested.
func (r *RoomRepo) MarkRead(ctx context.Context, roomID string, messageIDs []string) ([]string, error) {
	if err := r.ensureRoom(ctx, r.db, roomID); err != nil {
		return nil, err
	}
	if len(messageIDs) == 0 {
		return nil, nil
	}

	var flipped []string
	if err := r.db.SelectContext(ctx, &flipped, `UPDATE room_messages SET read=TRUE
        WHERE room_id=$1 AND id = ANY($2) AND read=FALSE RETURNING id`, roomID, pq.Array(messageIDs)); err != nil {
		return nil, err
	}

	set := make(map[string]struct{}, len(flipped))
	for _, id := range flipped {
		set[id] = struct{}{}
	}
	var changed []string
	for _, id := range messageIDs {
		if _, ok := set[id]; ok {
			changed = append(changed, id)
			delete(set, id)
		}
	}
	return changed, nil
}

// Participants returns the room's participants in join order.
func (r *RoomRepo) Participants(ctx context.Context, roomID string) ([]models.Identity, error) {
	if err := r.ensureRoom(ctx, r.db, roomID); err != nil {
		return nil, err
	}
	return participants(ctx, r.db, roomID)
}

// ListRooms summarises every room ordered by id.
func (r *RoomRepo) ListRooms(ctx context.Context) ([]models.RoomSummary, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT r.id,
            (SELECT COUNT(*) FROM room_participants p WHERE p.room_id = r.id) AS participant_count
        FROM rooms r ORDER BY r.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := []models.RoomSummary{}
	positions := map[string]int{}
	for rows.Next() {
		var s models.RoomSummary
		if err := rows.Scan(&s.ID, &s.ParticipantCount); err != nil {
			return nil, err
		}
		positions[s.ID] = len(summaries)
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var last []messageRow
	if err := r.db.SelectContext(ctx, &last, `SELECT DISTINCT ON (room_id) `+messageColumns+`
        FROM room_messages ORDER BY room_id, seq DESC`); err != nil {
		return nil, err
	}
	for _, row := range last {
		pos, ok := positions[row.RoomID]
		if !ok {
			continue
		}
		msg, err := row.toModel()
		if err != nil {
			return nil, err
		}
		summaries[pos].LastMessage = &msg
	}
	return summaries, nil
}

// GetMessages returns the ordered log of a room.
func (r *RoomRepo) GetMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	if err := r.ensureRoom(ctx, r.db, roomID); err != nil {
		return nil, err
	}
	return messages(ctx, r.db, roomID)
}

func (r *RoomRepo) ensureRoom(ctx context.Context, q sqlx.QueryerContext, roomID string) error {
	var exists bool
	if err := sqlx.GetContext(ctx, q, &exists, `SELECT EXISTS(SELECT 1 FROM rooms WHERE id=$1)`, roomID); err != nil {
		return err
	}
	if !exists {
		return ErrRoomNotFound
	}
	return nil
}

func participants(ctx context.Context, q sqlx.QueryerContext, roomID string) ([]models.Identity, error) {
	out := []models.Identity{}
	err := sqlx.SelectContext(ctx, q, &out, `SELECT identity_id, name, role FROM room_participants
        WHERE room_id=$1 ORDER BY seq`, roomID)
	return out, err
}

func messages(ctx context.Context, q sqlx.QueryerContext, roomID string) ([]models.Message, error) {
	var rows []messageRow
	if err := sqlx.SelectContext(ctx, q, &rows, `SELECT `+messageColumns+` FROM room_messages
        WHERE room_id=$1 ORDER BY seq`, roomID); err != nil {
		return nil, err
	}
	out := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		msg, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

var _ RoomRepository = (*RoomRepo)(nil)
