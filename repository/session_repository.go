package repository

import (
	"context"

	"github.com/akinalp/stagecast/models"
)

// SessionConfigRepository, oturum başına tek satırlık kalıcı konfigürasyon.
//
// Upsert, satır daha yeni bir song_gen taşıyorsa eskisini korur:
// gecikmeli gelen (önceki şarkıya ait) bir yazım, yeni şarkı satırını ezemez.
// Bu durumda applied=false döner.
//
// UpsertAsHost aynı kuralı uygular; ek olarak satır başka bir host'a aitse
// pkg.ErrForbidden döner. Satır yoksa yazan host olur.
type SessionConfigRepository interface {
	Get(ctx context.Context, sessionID string) (*models.SessionConfig, error)
	Upsert(ctx context.Context, cfg *models.SessionConfig) (applied bool, err error)
	UpsertAsHost(ctx context.Context, cfg *models.SessionConfig) (applied bool, err error)
	Delete(ctx context.Context, sessionID string) error
	ListLive(ctx context.Context) ([]models.SessionConfig, error)
}
