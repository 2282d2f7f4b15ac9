package repository

import (
	"context"
	"fmt"

	"github.com/akinalp/stagecast/database"
	"github.com/akinalp/stagecast/models"
)

type sqliteReactionRepo struct {
	db database.TxQuerier
}

// NewSQLiteReactionRepo, constructor: interface döner.
func NewSQLiteReactionRepo(db database.TxQuerier) ReactionRepository {
	return &sqliteReactionRepo{db: db}
}

func (r *sqliteReactionRepo) Insert(ctx context.Context, rx *models.Reaction) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO reactions (id, session_id, sender_id, emoji, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		rx.ID, rx.SessionID, rx.SenderID, rx.Emoji, rx.CreatedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("insert reaction: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert reaction rows affected: %w", err)
	}
	return n > 0, nil
}

// CountBySession, oturumdaki emoji başına toplam reaction sayısı.
func (r *sqliteReactionRepo) CountBySession(ctx context.Context, sessionID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT emoji, COUNT(*) FROM reactions
		WHERE session_id = ?
		GROUP BY emoji`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("count reactions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			emoji string
			n     int
		)
		if err := rows.Scan(&emoji, &n); err != nil {
			return nil, fmt.Errorf("scan reaction count: %w", err)
		}
		counts[emoji] = n
	}
	return counts, rows.Err()
}
