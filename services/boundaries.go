package services

import (
	"context"
	"encoding/json"

	"github.com/akinalp/stagecast/models"
)

// ─── Transport provider boundary ───
//
// Oturumun medya katmanı (SFU). transport.Provider bunu LiveKit ile,
// testler ise in-memory fake ile karşılar.

// TransportProvider, çağrı oluşturma/katılma.
type TransportProvider interface {
	// CreateOrJoin, asCreator=true ise odayı oluşturup katılır; false ise sadece
	// var olan odaya katılır. Oda yoksa pkg.ErrSessionNotFound (wrap edilmiş) döner.
	CreateOrJoin(ctx context.Context, sessionID, userID string, asCreator bool) (CallHandle, error)

	// WatchSession, oturumun "metadata/membership güncellendi" sinyalini dinler.
	// Henüz açılmamış bir odayı bekleyen katılımcılar bunu kullanır.
	WatchSession(sessionID string, fn func()) (stop func())
}

// CallHandle, katılınmış tek bir çağrı.
type CallHandle interface {
	SessionID() string
	LocalUserID() string

	GrantCapabilities(ctx context.Context, userID string, caps models.CapabilitySet) error
	RevokeCapabilities(ctx context.Context, userID string, caps models.CapabilitySet) error

	// Metadata / SetMetadata, paylaşılan blob'u tamamen okur/yazar.
	// Kısmi merge çağıranın işidir (bkz. mergeMetadata).
	Metadata(ctx context.Context) (models.SessionMetadata, error)
	SetMetadata(ctx context.Context, md models.SessionMetadata) error

	// OnEvent, transport event'lerini dinler. Dönen fonksiyon listener'ı kaldırır.
	OnEvent(fn func(TransportEvent)) (remove func())
	Participants() []models.Participant

	// RequestPermission, host'a bir söz isteği iletir.
	RequestPermission(ctx context.Context, req models.PermissionRequest) error

	EnableMicrophone(ctx context.Context) error
	DisableMicrophone(ctx context.Context) error
	DisableCamera(ctx context.Context) error

	// Leave yerel bağlantıyı kapatır; End (yalnız host) odayı herkes için kapatır.
	Leave(ctx context.Context) error
	End(ctx context.Context) error
}

// MetadataCAS, sürüm token'lı compare-and-set sunan handle'lar için opsiyonel
// interface. Varsa mergeMetadata read-merge-write yerine bunu kullanır.
type MetadataCAS interface {
	// MetadataVersion, blob'u ve opak sürüm token'ını döner.
	MetadataVersion(ctx context.Context) (models.SessionMetadata, string, error)
	// CompareAndSetMetadata, sürüm hâlâ version ise yazar; değilse ok=false.
	CompareAndSetMetadata(ctx context.Context, version string, md models.SessionMetadata) (ok bool, err error)
}

// TransportEventKind, transport event varyantları (kapalı küme).
type TransportEventKind int

const (
	TransportMetadataChanged TransportEventKind = iota + 1
	TransportParticipantJoined
	TransportParticipantLeft
	TransportParticipantUpdated
	TransportTrackPublished
	TransportTrackUnpublished
	TransportPermissionRequested
	TransportDisconnected
)

func (k TransportEventKind) String() string {
	switch k {
	case TransportMetadataChanged:
		return "metadata_changed"
	case TransportParticipantJoined:
		return "participant_joined"
	case TransportParticipantLeft:
		return "participant_left"
	case TransportParticipantUpdated:
		return "participant_updated"
	case TransportTrackPublished:
		return "track_published"
	case TransportTrackUnpublished:
		return "track_unpublished"
	case TransportPermissionRequested:
		return "permission_requested"
	case TransportDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// TransportEvent, tek bir transport event'i. Kind'a göre ilgili alan doludur:
//
//	MetadataChanged      → Metadata
//	Participant*         → Participant
//	Track(Un)Published   → Participant (güncel snapshot)
//	PermissionRequested  → Request
//	Disconnected         → Err (nil olabilir)
type TransportEvent struct {
	Kind        TransportEventKind
	Metadata    models.SessionMetadata
	Participant models.Participant
	Request     *models.PermissionRequest
	Err         error
}

// ─── Broadcast channel boundary ───

// BroadcastHandler, bir topic/event için gelen payload'u işler.
// from, gönderen kullanıcı (sunucu event'lerinde boş).
type BroadcastHandler = func(payload json.RawMessage, from string)

// BroadcastChannel, realtime pub/sub kanalı. realtime.Channel karşılar.
type BroadcastChannel interface {
	// Publish, kanal subscribed değilse pkg.ErrNotConnected döner.
	Publish(ctx context.Context, topic, event string, payload any) error
	Subscribe(topic, event string, handler BroadcastHandler) (unsubscribe func())
	// Rejoin, bağlantıyı (yeniden) kurar ve tüm topic'lere abone olur;
	// abonelik onaylandığında nil döner.
	Rejoin(ctx context.Context) error
	OnConnectionStateChange(fn func(models.ChannelState)) (remove func())
	State() models.ChannelState
}

// PublishRejectionNotifier, sunucu reddini bildirebilen kanallar.
// realtime.Channel karşılar; Publish nil döndükten sonra gelen redler
// buradan akar.
type PublishRejectionNotifier interface {
	OnPublishRejected(fn func(models.PublishRejection)) (remove func())
}

// ─── Durable store boundary ───

// ChatStore, chat geçmişi. Insert'ler id ile idempotent'tir.
type ChatStore interface {
	InsertMessage(ctx context.Context, msg *models.ChatMessage) error
	InsertReaction(ctx context.Context, r *models.Reaction) error
	ListMessages(ctx context.Context, sessionID, beforeID string, limit int) (*models.ChatPage, error)
}

// SessionConfigStore, oturum konfigürasyon satırı.
// Satır yoksa GetSessionConfig pkg.ErrNotFound döner.
type SessionConfigStore interface {
	GetSessionConfig(ctx context.Context, sessionID string) (*models.SessionConfig, error)
	UpsertSessionConfig(ctx context.Context, cfg *models.SessionConfig) error
}

// ─── Bilgi amaçlı lookup'lar ───

// WalletResolver, host'un cüzdan adresini profilinden/bağlı cüzdanından çözer.
// Hatalar sadece loglanır; metadata'ya adres yazılmaz.
type WalletResolver interface {
	HostWallet(ctx context.Context, userID string) (string, error)
}
