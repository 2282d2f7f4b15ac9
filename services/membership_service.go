package services

import (
	"context"
	"errors"

	"github.com/livekit/protocol/livekit"
	"github.com/rs/zerolog/log"

	"github.com/akinalp/stagecast/models"
	"github.com/akinalp/stagecast/pkg"
	"github.com/akinalp/stagecast/pkg/deviceid"
	"github.com/akinalp/stagecast/ws"
)

// LiveKit webhook event isimleri.
const (
	webhookRoomStarted       = "room_started"
	webhookRoomFinished      = "room_finished"
	webhookParticipantJoined = "participant_joined"
	webhookParticipantLeft   = "participant_left"
)

// LiveStateUpdater, oturumun canlılık bayrağını güncellemek için minimal interface.
type LiveStateUpdater interface {
	SetLive(ctx context.Context, sessionID string, live bool) error
}

// ─── MembershipService ───

// MembershipService, LiveKit webhook'larını session:<id> topic'ine
// membership_updated olarak yayınlar. Henüz açılmamış bir odayı bekleyen
// katılımcılar bu event ile tekrar join dener.
type MembershipService interface {
	HandleWebhook(ctx context.Context, event *livekit.WebhookEvent)
}

type membershipService struct {
	hub  ws.EventPublisher
	live LiveStateUpdater
}

// NewMembershipService, yeni bir MembershipService oluşturur. live nil olabilir.
func NewMembershipService(hub ws.EventPublisher, live LiveStateUpdater) MembershipService {
	return &membershipService{hub: hub, live: live}
}

func (s *membershipService) HandleWebhook(ctx context.Context, event *livekit.WebhookEvent) {
	kind := event.GetEvent()
	room := event.GetRoom().GetName()
	if room == "" {
		return
	}

	ev := models.MembershipEvent{SessionID: room, Kind: kind}

	switch kind {
	case webhookRoomStarted, webhookRoomFinished:
	case webhookParticipantJoined, webhookParticipantLeft:
		ev.UserID = event.GetParticipant().GetIdentity()
		// Anonim cihaz id'leri yayınlanmaz
		if deviceid.IsAnonymous(ev.UserID) {
			ev.UserID = ""
		}
	default:
		return
	}

	if s.live != nil && (kind == webhookRoomStarted || kind == webhookRoomFinished) {
		if err := s.live.SetLive(ctx, room, kind == webhookRoomStarted); err != nil && !errors.Is(err, pkg.ErrNotFound) {
			log.Warn().Str("module", "membership").Str("session_id", room).Err(err).Msg("failed to update live flag")
		}
	}

	topic := models.SessionTopic(room)
	s.hub.BroadcastToTopic(topic, models.EventMembershipUpdated, ev)

	log.Debug().Str("module", "membership").
		Str("session_id", room).
		Str("kind", kind).
		Int("subscribers", s.hub.SubscriberCount(topic)).
		Msg("membership update broadcast")
}
