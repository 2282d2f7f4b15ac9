package repository

import (
	"context"

	"github.com/akinalp/stagecast/models"
)

// ReactionRepository, oturum reaction'ları için veritabanı interface'i.
// Insert, ChatMessageRepository.Insert ile aynı idempotency kuralına uyar.
type ReactionRepository interface {
	Insert(ctx context.Context, r *models.Reaction) (inserted bool, err error)
	CountBySession(ctx context.Context, sessionID string) (map[string]int, error)
}
