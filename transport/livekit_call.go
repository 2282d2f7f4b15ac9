package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/rs/zerolog/log"

	"github.com/akinalp/stagecast/models"
	"github.com/akinalp/stagecast/pkg"
	"github.com/akinalp/stagecast/services"
)

// call, LiveKit odasına katılınmış tek bir bağlantı (services.CallHandle).
//
// RTC callback'leri SDK goroutine'lerinden gelir; hepsi participants
// snapshot'ını günceller ve emit ile listener'lara dağıtılır.
type call struct {
	sessionID string
	userID    string
	admin     roomAdmin
	media     MediaController

	mu           sync.RWMutex
	room         rtcRoom
	participants map[string]models.Participant
	listeners    map[int]func(services.TransportEvent)
	nextID       int
	left         bool
}

func newCall(sessionID, userID string, admin roomAdmin, media MediaController) *call {
	return &call{
		sessionID:    sessionID,
		userID:       userID,
		admin:        admin,
		media:        media,
		participants: make(map[string]models.Participant),
		listeners:    make(map[int]func(services.TransportEvent)),
	}
}

func (c *call) attach(room rtcRoom) {
	c.mu.Lock()
	c.room = room
	c.mu.Unlock()
}

func (c *call) SessionID() string   { return c.sessionID }
func (c *call) LocalUserID() string { return c.userID }

// ─── RTC callbacks ───

func (c *call) callbacks() *lksdk.RoomCallback {
	return &lksdk.RoomCallback{
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			c.upsertParticipant(services.TransportParticipantJoined, fromLiveKitParticipant(rp))
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			c.removeParticipant(rp.Identity())
		},
		OnRoomMetadataChanged: func(metadata string) {
			c.roomMetadataChanged(metadata)
		},
		OnDisconnected: func() {
			c.emit(services.TransportEvent{Kind: services.TransportDisconnected})
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackPublished: func(_ *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				c.upsertParticipant(services.TransportTrackPublished, fromLiveKitParticipant(rp))
			},
			OnTrackUnpublished: func(_ *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				c.upsertParticipant(services.TransportTrackUnpublished, fromLiveKitParticipant(rp))
			},
			OnIsSpeakingChanged: func(p lksdk.Participant) {
				c.upsertParticipant(services.TransportParticipantUpdated, fromLiveKitParticipant(p))
			},
			OnMetadataChanged: func(_ string, p lksdk.Participant) {
				c.participantMetadataChanged(p.Identity(), p.Metadata())
			},
		},
	}
}

// upsertParticipant, snapshot'ı günceller. Capability bilgisi RTC tarafında
// taşınmadığı için önceki değer korunur.
func (c *call) upsertParticipant(kind services.TransportEventKind, p models.Participant) {
	c.mu.Lock()
	if prev, ok := c.participants[p.UserID]; ok {
		p.Capabilities = prev.Capabilities
		if p.Name == "" {
			p.Name = prev.Name
		}
	}
	c.participants[p.UserID] = p
	c.mu.Unlock()

	c.emit(services.TransportEvent{Kind: kind, Participant: p})
}

func (c *call) removeParticipant(userID string) {
	c.mu.Lock()
	p, ok := c.participants[userID]
	delete(c.participants, userID)
	c.mu.Unlock()

	if !ok {
		p = models.Participant{UserID: userID}
	}
	p.ConnectionState = models.ConnDisconnected
	c.emit(services.TransportEvent{Kind: services.TransportParticipantLeft, Participant: p})
}

func (c *call) roomMetadataChanged(raw string) {
	md, err := models.ParseSessionMetadata(raw)
	if err != nil {
		log.Warn().Str("module", "transport").Str("session_id", c.sessionID).Err(err).Msg("invalid room metadata")
		return
	}
	c.emit(services.TransportEvent{Kind: services.TransportMetadataChanged, Metadata: md})
}

// participantMetadataChanged, katılımcı metadata'sındaki söz isteğini event'e çevirir.
func (c *call) participantMetadataChanged(userID, raw string) {
	if raw == "" {
		return
	}
	var pm models.ParticipantMetadata
	if err := json.Unmarshal([]byte(raw), &pm); err != nil {
		log.Debug().Str("module", "transport").Str("user_id", userID).Err(err).Msg("ignoring participant metadata")
		return
	}
	if pm.Request == nil {
		return
	}
	req := *pm.Request
	req.UserID = userID // identity'ye güvenilir, payload'a değil
	c.emit(services.TransportEvent{Kind: services.TransportPermissionRequested, Request: &req})
}

// ─── Event listeners ───

func (c *call) OnEvent(fn func(services.TransportEvent)) (remove func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *call) emit(ev services.TransportEvent) {
	c.mu.RLock()
	if c.left {
		c.mu.RUnlock()
		return
	}
	fns := make([]func(services.TransportEvent), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Participants, uzak katılımcıların anlık görüntüsü.
func (c *call) Participants() []models.Participant {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.Participant, 0, len(c.participants))
	for _, p := range c.participants {
		out = append(out, p)
	}
	return out
}

// loadParticipants, bağlantı sonrası ilk snapshot'ı server API'den alır.
func (c *call) loadParticipants(ctx context.Context) error {
	resp, err := c.admin.ListParticipants(ctx, &livekit.ListParticipantsRequest{Room: c.sessionID})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, info := range resp.GetParticipants() {
		if info.GetIdentity() == c.userID {
			continue
		}
		c.participants[info.GetIdentity()] = fromParticipantInfo(info)
	}
	return nil
}

// ─── Capabilities ───

func (c *call) GrantCapabilities(ctx context.Context, userID string, caps models.CapabilitySet) error {
	return c.updateCapabilities(ctx, userID, func(cur models.CapabilitySet) models.CapabilitySet {
		return cur.Union(caps)
	})
}

func (c *call) RevokeCapabilities(ctx context.Context, userID string, caps models.CapabilitySet) error {
	return c.updateCapabilities(ctx, userID, func(cur models.CapabilitySet) models.CapabilitySet {
		return cur.Without(caps)
	})
}

// updateCapabilities, katılımcının mevcut permission'ını okur, değiştirir ve
// UpdateParticipant ile yazar. Katılımcı henüz sunucuda görünmüyorsa
// pkg.ErrParticipantNotFound döner (çağıran retry eder).
func (c *call) updateCapabilities(ctx context.Context, userID string, change func(models.CapabilitySet) models.CapabilitySet) error {
	info, err := c.admin.GetParticipant(ctx, &livekit.RoomParticipantIdentity{Room: c.sessionID, Identity: userID})
	if err != nil {
		return fmt.Errorf("failed to get participant: %w", mapParticipantError(err))
	}

	next := change(capabilitiesFromPermission(info.GetPermission()))
	if _, err := c.admin.UpdateParticipant(ctx, &livekit.UpdateParticipantRequest{
		Room:       c.sessionID,
		Identity:   userID,
		Permission: permissionFor(next),
	}); err != nil {
		return fmt.Errorf("failed to update participant permission: %w", mapParticipantError(err))
	}

	c.mu.Lock()
	if p, ok := c.participants[userID]; ok {
		p.Capabilities = next
		c.participants[userID] = p
	}
	c.mu.Unlock()

	log.Info().Str("module", "transport").
		Str("session_id", c.sessionID).
		Str("user_id", userID).
		Str("capabilities", next.String()).
		Msg("participant capabilities updated")
	return nil
}

// ─── Metadata ───

func (c *call) Metadata(ctx context.Context) (models.SessionMetadata, error) {
	resp, err := c.admin.ListRooms(ctx, &livekit.ListRoomsRequest{Names: []string{c.sessionID}})
	if err != nil {
		return models.SessionMetadata{}, fmt.Errorf("failed to read room metadata: %w", mapError(err))
	}
	if len(resp.GetRooms()) == 0 {
		return models.SessionMetadata{}, fmt.Errorf("%w: %s", pkg.ErrSessionNotFound, c.sessionID)
	}
	return models.ParseSessionMetadata(resp.GetRooms()[0].GetMetadata())
}

func (c *call) SetMetadata(ctx context.Context, md models.SessionMetadata) error {
	if _, err := c.admin.UpdateRoomMetadata(ctx, &livekit.UpdateRoomMetadataRequest{
		Room:     c.sessionID,
		Metadata: md.String(),
	}); err != nil {
		return fmt.Errorf("failed to write room metadata: %w", mapError(err))
	}
	return nil
}

// RequestPermission, isteği yerel katılımcının metadata'sına yazar.
// Host bunu participant metadata changed event'i olarak görür.
func (c *call) RequestPermission(ctx context.Context, req models.PermissionRequest) error {
	raw, err := json.Marshal(models.ParticipantMetadata{Request: &req})
	if err != nil {
		return fmt.Errorf("failed to marshal permission request: %w", err)
	}
	if _, err := c.admin.UpdateParticipant(ctx, &livekit.UpdateParticipantRequest{
		Room:     c.sessionID,
		Identity: c.userID,
		Metadata: string(raw),
	}); err != nil {
		return fmt.Errorf("failed to publish permission request: %w", mapParticipantError(err))
	}
	return nil
}

// ─── Media ───

func (c *call) EnableMicrophone(ctx context.Context) error {
	if c.media != nil {
		return c.media.EnableMicrophone(ctx)
	}
	n, err := c.setOwnTracksMuted(ctx, livekit.TrackSource_MICROPHONE, false)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: no local microphone track is published", pkg.ErrNotSupported)
	}
	return nil
}

func (c *call) DisableMicrophone(ctx context.Context) error {
	if c.media != nil {
		return c.media.DisableMicrophone(ctx)
	}
	_, err := c.setOwnTracksMuted(ctx, livekit.TrackSource_MICROPHONE, true)
	return err
}

func (c *call) DisableCamera(ctx context.Context) error {
	if c.media != nil {
		return c.media.DisableCamera(ctx)
	}
	_, err := c.setOwnTracksMuted(ctx, livekit.TrackSource_CAMERA, true)
	return err
}

// setOwnTracksMuted, yerel katılımcının verilen kaynaktaki track'lerini mute eder.
// Değiştirilen track sayısını döner.
func (c *call) setOwnTracksMuted(ctx context.Context, source livekit.TrackSource, muted bool) (int, error) {
	info, err := c.admin.GetParticipant(ctx, &livekit.RoomParticipantIdentity{Room: c.sessionID, Identity: c.userID})
	if err != nil {
		return 0, fmt.Errorf("failed to get local participant: %w", mapParticipantError(err))
	}

	n := 0
	for _, track := range info.GetTracks() {
		if track.GetSource() != source || track.GetMuted() == muted {
			continue
		}
		if _, err := c.admin.MutePublishedTrack(ctx, &livekit.MuteRoomTrackRequest{
			Room:     c.sessionID,
			Identity: c.userID,
			TrackSid: track.GetSid(),
			Muted:    muted,
		}); err != nil {
			return n, fmt.Errorf("failed to mute track: %w", mapParticipantError(err))
		}
		n++
	}
	return n, nil
}

// ─── Lifecycle ───

// Leave, RTC bağlantısını kapatır. İkinci çağrı no-op.
func (c *call) Leave(_ context.Context) error {
	c.mu.Lock()
	if c.left {
		c.mu.Unlock()
		return nil
	}
	c.left = true
	room := c.room
	c.listeners = make(map[int]func(services.TransportEvent))
	c.mu.Unlock()

	if room != nil {
		room.Disconnect()
	}
	log.Info().Str("module", "transport").Str("session_id", c.sessionID).Str("user_id", c.userID).Msg("left room")
	return nil
}

// End, odayı herkes için kapatır (DeleteRoom) ve bağlantıdan ayrılır.
func (c *call) End(ctx context.Context) error {
	if _, err := c.admin.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: c.sessionID}); err != nil {
		// Oda zaten kapanmışsa sorun değil.
		if mapped := mapError(err); !errors.Is(mapped, pkg.ErrSessionNotFound) {
			return fmt.Errorf("failed to delete room: %w", mapped)
		}
	}
	return c.Leave(ctx)
}
