package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	// LiveKit Go SDK: token generation için.
	"github.com/livekit/protocol/auth"
	"github.com/rs/zerolog/log"

	"github.com/akinalp/stagecast/config"
	"github.com/akinalp/stagecast/models"
	"github.com/akinalp/stagecast/pkg"
)

// tokenValidity, uzun validite; LiveKit disconnect'i kendisi yönetir.
const tokenValidity = 24 * time.Hour

// SessionHostLookup, oturumun kayıtlı host'unu bulmak için minimal interface.
// SessionConfigService bunu karşılar.
type SessionHostLookup interface {
	HostOf(ctx context.Context, sessionID string) (string, error)
}

// ─── VoiceTokenService Interface ───

// VoiceTokenService, oturuma bağlanmak için LiveKit JWT üretir.
//
// Host token'ı yayın yetkisi taşır; diğer katılımcılar yalnızca subscribe ve
// data hakkıyla başlar. Sahneye alınanların yetkisi sonradan server API ile
// (UpdateParticipant) verilir, token yeniden üretilmez.
type VoiceTokenService interface {
	VoiceToken(ctx context.Context, req models.VoiceTokenRequest) (*models.VoiceTokenResponse, error)
}

type voiceTokenService struct {
	hosts      SessionHostLookup
	livekitCfg config.LiveKitConfig
}

// NewVoiceTokenService, yeni bir VoiceTokenService oluşturur.
func NewVoiceTokenService(hosts SessionHostLookup, livekitCfg config.LiveKitConfig) VoiceTokenService {
	return &voiceTokenService{hosts: hosts, livekitCfg: livekitCfg}
}

func (s *voiceTokenService) VoiceToken(ctx context.Context, req models.VoiceTokenRequest) (*models.VoiceTokenResponse, error) {
	if req.SessionID == "" || req.UserID == "" {
		return nil, fmt.Errorf("%w: session_id and user_id are required", pkg.ErrBadRequest)
	}
	if !s.livekitCfg.Enabled() {
		return nil, fmt.Errorf("%w: livekit is not configured", pkg.ErrInternal)
	}

	// Host iddiası kayıtlı host ile çelişemez. Satır henüz yoksa oturumu
	// ilk açan host olur.
	if req.IsHost && s.hosts != nil {
		hostID, err := s.hosts.HostOf(ctx, req.SessionID)
		switch {
		case err == nil && hostID != req.UserID:
			return nil, fmt.Errorf("%w: session already has a host", pkg.ErrForbidden)
		case err != nil && !errors.Is(err, pkg.ErrNotFound):
			return nil, err
		}
	}

	canPublish := req.IsHost
	canSubscribe := true
	canPublishData := true

	at := auth.NewAccessToken(s.livekitCfg.APIKey, s.livekitCfg.APISecret)

	grant := &auth.VideoGrant{
		RoomJoin:       true,
		Room:           req.SessionID, // LiveKit room name = session ID
		CanPublish:     &canPublish,
		CanSubscribe:   &canSubscribe,
		CanPublishData: &canPublishData,
	}

	name := req.Name
	if name == "" {
		name = req.UserID
	}

	at.AddGrant(grant).
		SetIdentity(req.UserID).
		SetName(name).
		SetValidFor(tokenValidity)

	token, err := at.ToJWT()
	if err != nil {
		return nil, fmt.Errorf("failed to generate livekit token: %w", err)
	}

	log.Debug().Str("module", "voice").
		Str("session_id", req.SessionID).
		Str("user_id", req.UserID).
		Bool("is_host", req.IsHost).
		Msg("token issued")

	return &models.VoiceTokenResponse{
		Token:     token,
		URL:       s.livekitCfg.URL,
		SessionID: req.SessionID,
	}, nil
}
