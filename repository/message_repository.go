package repository

import (
	"context"

	"github.com/akinalp/stagecast/models"
)

// ChatMessageRepository, oturum chat geçmişi için veritabanı interface'i.
//
// Insert idempotent'tir: aynı id ile ikinci çağrı hiçbir şey yapmaz ve
// inserted=false döner. Offline queue replay'leri bu sayede no-op olur.
//
// ListBySession cursor-based sayfalama yapar: beforeID boşsa en yeni
// mesajlardan başlar, doluysa o mesajdan daha eskileri döner (en yeni önce).
type ChatMessageRepository interface {
	Insert(ctx context.Context, msg *models.ChatMessage) (inserted bool, err error)
	GetByID(ctx context.Context, id string) (*models.ChatMessage, error)
	ListBySession(ctx context.Context, sessionID, beforeID string, limit int) ([]models.ChatMessage, error)
}
