package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/akinalp/stagecast/models"
	"github.com/akinalp/stagecast/pkg"
	"github.com/akinalp/stagecast/repository"
)

// ─── SessionConfigService ───

// SessionConfigService, oturum konfigürasyon satırını yönetir (sunucu).
// SessionConfigStore ve SessionHostLookup interface'lerini karşılar.
//
// Satırın host_id'si ilk yazımda sabitlenir; başka bir host_id ile gelen
// yazımlar reddedilir. Eski song_gen taşıyan yazımlar repository tarafında
// sessizce yoksayılır.
type SessionConfigService interface {
	SessionConfigStore
	SessionHostLookup

	// IsHost, userID oturumun kayıtlı host'u mu. Hata durumunda false.
	IsHost(ctx context.Context, sessionID, userID string) bool
	// SetLive, room_started / room_finished webhook'larında canlılık bayrağını günceller.
	SetLive(ctx context.Context, sessionID string, live bool) error
	ListLive(ctx context.Context) ([]models.SessionConfig, error)
}

type sessionConfigService struct {
	repo repository.SessionConfigRepository
	now  func() time.Time
}

// NewSessionConfigService, yeni bir SessionConfigService oluşturur.
func NewSessionConfigService(repo repository.SessionConfigRepository) SessionConfigService {
	return &sessionConfigService{repo: repo, now: time.Now}
}

func (s *sessionConfigService) GetSessionConfig(ctx context.Context, sessionID string) (*models.SessionConfig, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", pkg.ErrBadRequest)
	}
	return s.repo.Get(ctx, sessionID)
}

func (s *sessionConfigService) UpsertSessionConfig(ctx context.Context, cfg *models.SessionConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", pkg.ErrBadRequest, err)
	}

	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = s.now().UTC()
	}

	applied, err := s.repo.UpsertAsHost(ctx, cfg)
	if err != nil {
		return err
	}
	if !applied {
		log.Debug().Str("module", "session_config").
			Str("session_id", cfg.SessionID).
			Int64("song_gen", cfg.SongGen).
			Msg("stale session config write ignored")
	}
	return nil
}

func (s *sessionConfigService) HostOf(ctx context.Context, sessionID string) (string, error) {
	cfg, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return cfg.HostID, nil
}

func (s *sessionConfigService) IsHost(ctx context.Context, sessionID, userID string) bool {
	hostID, err := s.HostOf(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, pkg.ErrNotFound) {
			log.Warn().Str("module", "session_config").Str("session_id", sessionID).Err(err).Msg("host lookup failed")
		}
		return false
	}
	return hostID == userID
}

func (s *sessionConfigService) SetLive(ctx context.Context, sessionID string, live bool) error {
	cfg, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if cfg.IsLive == live {
		return nil
	}

	now := s.now().UTC()
	if !live {
		// Pozisyon duruş anına sabitlenir
		cfg.PositionSeconds = cfg.PositionNow(now)
		cfg.PositionAt = now
		cfg.IsPlaying = false
	}
	cfg.IsLive = live
	cfg.UpdatedAt = now

	if _, err := s.repo.Upsert(ctx, cfg); err != nil {
		return err
	}
	return nil
}

func (s *sessionConfigService) ListLive(ctx context.Context) ([]models.SessionConfig, error) {
	return s.repo.ListLive(ctx)
}
