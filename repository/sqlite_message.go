package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/akinalp/stagecast/database"
	"github.com/akinalp/stagecast/models"
	"github.com/akinalp/stagecast/pkg"
)

type sqliteChatMessageRepo struct {
	db database.TxQuerier
}

// NewSQLiteChatMessageRepo, constructor: interface döner.
func NewSQLiteChatMessageRepo(db database.TxQuerier) ChatMessageRepository {
	return &sqliteChatMessageRepo{db: db}
}

// Insert: ON CONFLICT(id) DO NOTHING → rowsAffected 0 ise mesaj zaten vardı.
func (r *sqliteChatMessageRepo) Insert(ctx context.Context, msg *models.ChatMessage) (bool, error) {
	query := `
		INSERT INTO chat_messages (id, session_id, sender_id, content, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`

	result, err := r.db.ExecContext(ctx, query,
		msg.ID, msg.SessionID, msg.SenderID, msg.Content, msg.CreatedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("insert chat message: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert chat message rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *sqliteChatMessageRepo) GetByID(ctx context.Context, id string) (*models.ChatMessage, error) {
	query := `
		SELECT id, session_id, sender_id, content, created_at
		FROM chat_messages WHERE id = ?`

	msg, err := scanChatMessage(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: chat message %s", pkg.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get chat message: %w", err)
	}
	return msg, nil
}

func (r *sqliteChatMessageRepo) ListBySession(ctx context.Context, sessionID, beforeID string, limit int) ([]models.ChatMessage, error) {
	var (
		rows *sql.Rows
		err  error
	)

	if beforeID == "" {
		rows, err = r.db.QueryContext(ctx, `
			SELECT id, session_id, sender_id, content, created_at
			FROM chat_messages
			WHERE session_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?`, sessionID, limit)
	} else {
		// Aynı created_at'e sahip mesajlar için id tie-breaker.
		rows, err = r.db.QueryContext(ctx, `
			SELECT m.id, m.session_id, m.sender_id, m.content, m.created_at
			FROM chat_messages m, (SELECT created_at, id FROM chat_messages WHERE id = ?) c
			WHERE m.session_id = ?
			  AND (m.created_at < c.created_at OR (m.created_at = c.created_at AND m.id < c.id))
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT ?`, beforeID, sessionID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()

	var out []models.ChatMessage
	for rows.Next() {
		msg, err := scanChatMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		out = append(out, *msg)
	}
	return out, rows.Err()
}

// rowScanner, *sql.Row ve *sql.Rows'un ortak Scan metodu.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanChatMessage(s rowScanner) (*models.ChatMessage, error) {
	var (
		msg    models.ChatMessage
		sender sql.NullString
	)
	if err := s.Scan(&msg.ID, &msg.SessionID, &sender, &msg.Content, &msg.CreatedAt); err != nil {
		return nil, err
	}
	if sender.Valid {
		msg.SenderID = &sender.String
	}
	return &msg, nil
}
