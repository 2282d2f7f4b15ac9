package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/akinalp/stagecast/models"
	"github.com/akinalp/stagecast/pkg"
)

// ─── PermissionBroker Interface ───

// PermissionBroker, "söz isteği" ve host grant/revoke akışını yönetir.
//
// allowedSpeakers, transport capability'lerinin paylaşılan metadata'daki
// mirror'ıdır: "sahnede kim var" bilgisi, capability event'leri her
// gözlemciye ulaşmadan okunabilsin diye. Mirror yalnızca transport çağrısı
// başarılı olduktan sonra güncellenir.
type PermissionBroker interface {
	// RequestToSpeak, yerel kullanıcının söz isteğini host'a iletir.
	RequestToSpeak(ctx context.Context, caps models.CapabilitySet) error

	// Grant, host-only: transport yetkisini verir, kullanıcıyı mirror'a ekler
	// ve bekleyen isteğini temizler.
	Grant(ctx context.Context, userID string, caps models.CapabilitySet) error

	// Revoke, Grant'in tersi.
	Revoke(ctx context.Context, userID string, caps models.CapabilitySet) error

	AllowedSpeakers() []string
	IsAllowedSpeaker(userID string) bool

	// PendingRequests, host'un gördüğü bekleyen istekler (en eski önce).
	PendingRequests() []models.PermissionRequest
	OnRequest(fn func(models.PermissionRequest)) (remove func())

	Close()
}

// PermissionBrokerConfig, grant propagation retry ayarları.
type PermissionBrokerConfig struct {
	GrantRetryInterval time.Duration
	GrantTimeout       time.Duration
}

// ─── Implementasyon ───

type permissionBroker struct {
	handle *SessionHandle
	call   CallHandle
	cfg    PermissionBrokerConfig
	now    func() time.Time

	// opMu, grant/revoke'ları seri hale getirir: bir kullanıcı için son
	// başarıyla uygulanan işlem kazanır.
	opMu sync.Mutex

	mu        sync.RWMutex
	allowed   []string
	pending   map[string]models.PermissionRequest
	listeners map[int]func(models.PermissionRequest)
	nextID    int

	removeEvent func()
}

// NewPermissionBroker, handle'a bağlı yeni bir PermissionBroker oluşturur.
func NewPermissionBroker(handle *SessionHandle, cfg PermissionBrokerConfig) PermissionBroker {
	if cfg.GrantRetryInterval <= 0 {
		cfg.GrantRetryInterval = DefaultGrantRetryInterval
	}
	if cfg.GrantTimeout <= 0 {
		cfg.GrantTimeout = DefaultGrantTimeout
	}

	b := &permissionBroker{
		handle:    handle,
		call:      handle.Call(),
		cfg:       cfg,
		now:       time.Now,
		allowed:   handle.Metadata().AllowedSpeakers,
		pending:   make(map[string]models.PermissionRequest),
		listeners: make(map[int]func(models.PermissionRequest)),
	}
	b.removeEvent = handle.OnEvent(b.dispatch)
	return b
}

func (b *permissionBroker) RequestToSpeak(ctx context.Context, caps models.CapabilitySet) error {
	if b.handle.IsHost() {
		return fmt.Errorf("%w: host already has speaker rights", pkg.ErrBadRequest)
	}
	if caps.IsEmpty() {
		caps = models.AudioOnly
	}

	req := models.PermissionRequest{
		UserID:       b.handle.UserID(),
		Capabilities: caps,
		RequestedAt:  b.now().UTC(),
	}
	if err := b.call.RequestPermission(ctx, req); err != nil {
		return fmt.Errorf("failed to request permission: %w", err)
	}

	log.Info().Str("module", "permission").
		Str("user_id", req.UserID).
		Str("caps", caps.String()).
		Msg("speak request sent")
	return nil
}

func (b *permissionBroker) Grant(ctx context.Context, userID string, caps models.CapabilitySet) error {
	if !b.handle.IsHost() {
		return pkg.ErrNotHost
	}
	if userID == "" || caps.IsEmpty() {
		return fmt.Errorf("%w: user id and capabilities are required", pkg.ErrBadRequest)
	}

	b.opMu.Lock()
	defer b.opMu.Unlock()

	// 1. Transport yetkisi. Başarısızsa mirror'a dokunulmaz.
	err := retryParticipant(ctx, b.cfg.GrantRetryInterval, b.cfg.GrantTimeout, func(ctx context.Context) error {
		return b.call.GrantCapabilities(ctx, userID, caps)
	})
	if err != nil {
		return fmt.Errorf("failed to grant capabilities: %w", err)
	}

	// 2. Mirror. Yazılamazsa transport yetkisi geri alınır.
	md, err := mergeMetadata(ctx, b.call, func(cur models.SessionMetadata) models.SessionMetadata {
		return cur.WithSpeaker(userID)
	})
	if err != nil {
		if rbErr := b.call.RevokeCapabilities(ctx, userID, caps); rbErr != nil {
			log.Error().Str("module", "permission").
				Str("user_id", userID).
				Err(rbErr).
				Msg("failed to roll back capability grant")
		}
		return fmt.Errorf("failed to update allowed speakers: %w", err)
	}

	// 3. Bekleyen istek
	b.mu.Lock()
	b.allowed = md.AllowedSpeakers
	delete(b.pending, userID)
	b.mu.Unlock()
	b.handle.setMetadata(md)

	log.Info().Str("module", "permission").
		Str("user_id", userID).
		Str("caps", caps.String()).
		Msg("speaker granted")
	return nil
}

// Revoke, kullanıcı provider'da artık yoksa (çıkmış) transport adımı
// başarılı sayılır ve yalnızca mirror temizlenir.
func (b *permissionBroker) Revoke(ctx context.Context, userID string, caps models.CapabilitySet) error {
	if !b.handle.IsHost() {
		return pkg.ErrNotHost
	}
	if userID == "" {
		return fmt.Errorf("%w: user id is required", pkg.ErrBadRequest)
	}
	if caps.IsEmpty() {
		caps = models.AllCapabilities
	}

	b.opMu.Lock()
	defer b.opMu.Unlock()

	err := b.call.RevokeCapabilities(ctx, userID, caps)
	if err != nil && !isParticipantGone(err) {
		return fmt.Errorf("failed to revoke capabilities: %w", err)
	}

	md, err := mergeMetadata(ctx, b.call, func(cur models.SessionMetadata) models.SessionMetadata {
		return cur.WithoutSpeaker(userID)
	})
	if err != nil {
		return fmt.Errorf("failed to update allowed speakers: %w", err)
	}

	b.mu.Lock()
	b.allowed = md.AllowedSpeakers
	delete(b.pending, userID)
	b.mu.Unlock()
	b.handle.setMetadata(md)

	log.Info().Str("module", "permission").
		Str("user_id", userID).
		Str("caps", caps.String()).
		Msg("speaker revoked")
	return nil
}

func (b *permissionBroker) AllowedSpeakers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.allowed...)
}

func (b *permissionBroker) IsAllowedSpeaker(userID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	i := sort.SearchStrings(b.allowed, userID)
	return i < len(b.allowed) && b.allowed[i] == userID
}

func (b *permissionBroker) PendingRequests() []models.PermissionRequest {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]models.PermissionRequest, 0, len(b.pending))
	for _, r := range b.pending {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out
}

func (b *permissionBroker) OnRequest(fn func(models.PermissionRequest)) (remove func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

func (b *permissionBroker) Close() {
	if b.removeEvent != nil {
		b.removeEvent()
	}
	b.mu.Lock()
	b.listeners = make(map[int]func(models.PermissionRequest))
	b.pending = make(map[string]models.PermissionRequest)
	b.mu.Unlock()
}

func (b *permissionBroker) dispatch(ev TransportEvent) {
	switch ev.Kind {
	case TransportMetadataChanged:
		b.mu.Lock()
		b.allowed = ev.Metadata.AllowedSpeakers
		b.mu.Unlock()

	case TransportPermissionRequested:
		if ev.Request == nil || !b.handle.IsHost() {
			return
		}
		b.onRequest(*ev.Request)

	case TransportParticipantLeft:
		// Kullanıcı çıkınca isteği de düşer.
		b.mu.Lock()
		delete(b.pending, ev.Participant.UserID)
		b.mu.Unlock()
	}
}

// onRequest, kullanıcının son isteğini tutar. Boş capability seti isteği geri çeker.
func (b *permissionBroker) onRequest(req models.PermissionRequest) {
	b.mu.Lock()
	if req.Capabilities.IsEmpty() {
		delete(b.pending, req.UserID)
		b.mu.Unlock()
		return
	}
	if prev, ok := b.pending[req.UserID]; ok && req.RequestedAt.Before(prev.RequestedAt) {
		b.mu.Unlock()
		return
	}
	b.pending[req.UserID] = req

	listeners := make([]func(models.PermissionRequest), 0, len(b.listeners))
	for _, fn := range b.listeners {
		listeners = append(listeners, fn)
	}
	b.mu.Unlock()

	log.Info().Str("module", "permission").
		Str("user_id", req.UserID).
		Str("caps", req.Capabilities.String()).
		Msg("speak request received")

	for _, fn := range listeners {
		fn(req)
	}
}
