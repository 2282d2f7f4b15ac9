// Package transport, services.TransportProvider'ın LiveKit implementasyonu.
//
// İki LiveKit yüzeyi birlikte kullanılır:
//   - RoomServiceClient (server API): oda oluşturma/sorgulama, participant
//     permission ve metadata güncellemeleri, oda metadata'sı, track mute
//   - RTC bağlantısı (lksdk.ConnectToRoomWithToken): katılım ve event'ler
//     (participant joined/left, track published, metadata changed)
//
// Oda adı = session ID. Oda henüz yokken bekleyen katılımcıların dinlediği
// "membership updated" sinyali LiveKit'ten değil, broadcast kanalından gelir
// (sunucu LiveKit webhook'larını session:<id> topic'ine yayınlar).
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/rs/zerolog/log"
	"github.com/twitchtv/twirp"

	"github.com/akinalp/stagecast/models"
	"github.com/akinalp/stagecast/pkg"
	"github.com/akinalp/stagecast/services"
)

// Config, LiveKit bağlantı bilgileri (config.LiveKitConfig'ten gelir).
type Config struct {
	URL       string
	APIKey    string
	APISecret string
	// EmptyTimeout: host ayrıldıktan sonra boş odanın kapanma süresi.
	EmptyTimeout time.Duration
}

// TokenSource, bir katılımcı için LiveKit JWT üretir.
// services.VoiceTokenService (yerel) ve apiclient.Client (uzak) karşılar.
type TokenSource interface {
	VoiceToken(ctx context.Context, req models.VoiceTokenRequest) (*models.VoiceTokenResponse, error)
}

// MediaController, yerel mikrofon/kamera capture'ını yöneten opsiyonel katman.
// Yoksa handle kendi yayınladığı track'leri server API ile mute eder.
type MediaController interface {
	EnableMicrophone(ctx context.Context) error
	DisableMicrophone(ctx context.Context) error
	DisableCamera(ctx context.Context) error
}

// roomAdmin, kullanılan RoomServiceClient metotları.
// *lksdk.RoomServiceClient bunu karşılar; testler fake ile değiştirir.
type roomAdmin interface {
	CreateRoom(ctx context.Context, req *livekit.CreateRoomRequest) (*livekit.Room, error)
	ListRooms(ctx context.Context, req *livekit.ListRoomsRequest) (*livekit.ListRoomsResponse, error)
	DeleteRoom(ctx context.Context, req *livekit.DeleteRoomRequest) (*livekit.DeleteRoomResponse, error)
	ListParticipants(ctx context.Context, req *livekit.ListParticipantsRequest) (*livekit.ListParticipantsResponse, error)
	GetParticipant(ctx context.Context, req *livekit.RoomParticipantIdentity) (*livekit.ParticipantInfo, error)
	UpdateParticipant(ctx context.Context, req *livekit.UpdateParticipantRequest) (*livekit.ParticipantInfo, error)
	UpdateRoomMetadata(ctx context.Context, req *livekit.UpdateRoomMetadataRequest) (*livekit.Room, error)
	MutePublishedTrack(ctx context.Context, req *livekit.MuteRoomTrackRequest) (*livekit.MuteRoomTrackResponse, error)
}

// rtcRoom, RTC bağlantısından ihtiyaç duyulan tek şey.
type rtcRoom interface {
	Disconnect()
}

type connectFunc func(url, token string, cb *lksdk.RoomCallback) (rtcRoom, error)

func connectLiveKit(url, token string, cb *lksdk.RoomCallback) (rtcRoom, error) {
	room, err := lksdk.ConnectToRoomWithToken(url, token, cb)
	if err != nil {
		return nil, err
	}
	return room, nil
}

// Provider, LiveKit tabanlı services.TransportProvider.
type Provider struct {
	cfg     Config
	admin   roomAdmin
	tokens  TokenSource
	media   MediaController
	channel services.BroadcastChannel
	connect connectFunc
}

// NewProvider, yeni bir LiveKit provider oluşturur.
// media nil olabilir. channel, WatchSession için kullanılır.
func NewProvider(cfg Config, tokens TokenSource, media MediaController, channel services.BroadcastChannel) *Provider {
	return &Provider{
		cfg:     cfg,
		admin:   lksdk.NewRoomServiceClient(cfg.URL, cfg.APIKey, cfg.APISecret),
		tokens:  tokens,
		media:   media,
		channel: channel,
		connect: connectLiveKit,
	}
}

// CreateOrJoin, asCreator ise odayı oluşturur (varsa mevcut oda döner),
// değilse odanın varlığını kontrol eder. Sonra RTC ile bağlanır.
func (p *Provider) CreateOrJoin(ctx context.Context, sessionID, userID string, asCreator bool) (services.CallHandle, error) {
	if asCreator {
		if _, err := p.admin.CreateRoom(ctx, &livekit.CreateRoomRequest{
			Name:         sessionID,
			EmptyTimeout: uint32(p.cfg.EmptyTimeout / time.Second),
		}); err != nil {
			return nil, fmt.Errorf("failed to create room: %w", mapError(err))
		}
	} else {
		resp, err := p.admin.ListRooms(ctx, &livekit.ListRoomsRequest{Names: []string{sessionID}})
		if err != nil {
			return nil, fmt.Errorf("failed to look up room: %w", mapError(err))
		}
		if len(resp.GetRooms()) == 0 {
			return nil, fmt.Errorf("%w: %s", pkg.ErrSessionNotFound, sessionID)
		}
	}

	tok, err := p.tokens.VoiceToken(ctx, models.VoiceTokenRequest{
		SessionID: sessionID,
		UserID:    userID,
		IsHost:    asCreator,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get voice token: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	call := newCall(sessionID, userID, p.admin, p.media)
	url := tok.URL
	if url == "" {
		url = p.cfg.URL
	}

	room, err := p.connect(url, tok.Token, call.callbacks())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to room: %w", mapError(err))
	}
	call.attach(room)

	if err := call.loadParticipants(ctx); err != nil {
		// Snapshot bilgi amaçlı; event'ler eksikleri tamamlar.
		log.Warn().Str("module", "transport").Str("session_id", sessionID).Err(err).Msg("failed to load participants")
	}

	log.Info().Str("module", "transport").
		Str("session_id", sessionID).
		Str("user_id", userID).
		Bool("creator", asCreator).
		Msg("connected to room")
	return call, nil
}

// WatchSession, session topic'indeki membership_updated event'lerini dinler.
func (p *Provider) WatchSession(sessionID string, fn func()) (stop func()) {
	return p.channel.Subscribe(models.SessionTopic(sessionID), models.EventMembershipUpdated,
		func(json.RawMessage, string) { fn() })
}

// mapError, twirp not_found hatalarını domain hatalarına çevirir.
func mapError(err error) error {
	var terr twirp.Error
	if errors.As(err, &terr) && terr.Code() == twirp.NotFound {
		return fmt.Errorf("%w: %s", pkg.ErrSessionNotFound, terr.Msg())
	}
	return err
}

// mapParticipantError, participant hedefli çağrılarda not_found'u
// ErrParticipantNotFound'a çevirir (grant propagation gecikmesi).
func mapParticipantError(err error) error {
	var terr twirp.Error
	if errors.As(err, &terr) && terr.Code() == twirp.NotFound {
		return fmt.Errorf("%w: %s", pkg.ErrParticipantNotFound, terr.Msg())
	}
	return err
}
