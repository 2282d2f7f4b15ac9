package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/akinalp/stagecast/models"
	"github.com/akinalp/stagecast/pkg"
	"github.com/akinalp/stagecast/pkg/cache"
)

// Chat feed varsayılanları.
const (
	DefaultChatHistory  = 200
	DefaultHistoryPage  = 50
	dedupeTTL           = 10 * time.Minute
	dedupeCleanupPeriod = time.Minute
)

// ─── ChatFeed Interface ───

// ChatFeed, oturumun chat ve reaction akışı.
//
// Giden her mesaj client'ta üretilmiş bir uuid taşır ve OfflineQueue üzerinden
// hem broadcast edilir hem store'a yazılır. Gelen mesajlar id ile dedupe
// edilir; aynı mesajın tekrar oynatılması görünümü değiştirmez. Görünümdeki
// id'ler süresiz tutulur, TTL'li kayıt yalnızca görünümden düşen mesajlar ve
// reaction'lar içindir.
type ChatFeed interface {
	Start()
	SendMessage(ctx context.Context, content string) (*models.ChatMessage, error)
	SendReaction(ctx context.Context, emoji string) (*models.Reaction, error)

	// Messages, yerel görünüm (eskiden yeniye).
	Messages() []models.ChatMessage
	// LoadHistory, store'dan beforeID'den eski mesajları çeker ve görünüme ekler.
	LoadHistory(ctx context.Context, beforeID string, limit int) (*models.ChatPage, error)

	OnMessage(fn func(models.ChatMessage)) (remove func())
	OnReaction(fn func(models.Reaction)) (remove func())

	// Unsent, sunucunun kalıcı olarak reddettiği yerel mesaj ya da reaction
	// için red nedenini döner. Bu mesajlar görünümde kalır ama peer'lara
	// ulaşmamıştır; UI gönderilmedi olarak göstermelidir.
	Unsent(id string) (reason string, ok bool)
	OnSendFailed(fn func(models.SendFailure)) (remove func())

	Close()
}

// ChatFeedConfig, chat feed ayarları.
type ChatFeedConfig struct {
	// MaxHistory, yerelde tutulan en fazla mesaj.
	MaxHistory int
	// DedupeTTL, görünümde olmayan id'lerin hatırlanma süresi.
	DedupeTTL time.Duration
}

// ─── Implementasyon ───

type chatFeed struct {
	sessionID string
	senderID  *string
	channel   BroadcastChannel
	queue     OfflineQueue
	store     ChatStore
	cfg       ChatFeedConfig
	now       func() time.Time

	seen *cache.Seen

	mu                sync.RWMutex
	messages          []models.ChatMessage
	inView            map[string]struct{} // messages'taki id'ler
	messageListeners  map[int]func(models.ChatMessage)
	reactionListeners map[int]func(models.Reaction)
	failListeners     map[int]func(models.SendFailure)
	unsent            map[string]string // id → red nedeni
	nextID            int
	unsubs            []func()
}

// NewChatFeed, yeni bir ChatFeed oluşturur. senderID nil ise anonim gönderilir.
func NewChatFeed(
	sessionID string,
	senderID *string,
	channel BroadcastChannel,
	queue OfflineQueue,
	store ChatStore,
	cfg ChatFeedConfig,
) ChatFeed {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultChatHistory
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = dedupeTTL
	}
	return &chatFeed{
		sessionID:         sessionID,
		senderID:          senderID,
		channel:           channel,
		queue:             queue,
		store:             store,
		cfg:               cfg,
		now:               time.Now,
		seen:              cache.NewSeen(cfg.DedupeTTL, dedupeCleanupPeriod),
		inView:            make(map[string]struct{}),
		messageListeners:  make(map[int]func(models.ChatMessage)),
		reactionListeners: make(map[int]func(models.Reaction)),
		failListeners:     make(map[int]func(models.SendFailure)),
		unsent:            make(map[string]string),
	}
}

func (f *chatFeed) Start() {
	topic := models.SessionTopic(f.sessionID)

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.unsubs) > 0 {
		return
	}
	f.unsubs = append(f.unsubs,
		f.channel.Subscribe(topic, models.EventChatMessage, f.onMessage),
		f.channel.Subscribe(topic, models.EventReaction, f.onReaction),
		f.queue.OnSendFailed(f.onSendFailed),
	)
}

func (f *chatFeed) SendMessage(ctx context.Context, content string) (*models.ChatMessage, error) {
	msg := models.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: f.sessionID,
		SenderID:  f.senderID,
		Content:   content,
		CreatedAt: f.now().UTC(),
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", pkg.ErrBadRequest, err)
	}

	f.receiveMessage(msg)

	topic := models.SessionTopic(f.sessionID)
	if err := f.queue.Send(ctx, topic, models.EventChatMessage, msg.ID, msg); err != nil {
		return nil, err
	}
	if err := f.queue.Persist(ctx, models.EventChatMessage, msg.ID, msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (f *chatFeed) SendReaction(ctx context.Context, emoji string) (*models.Reaction, error) {
	r := models.Reaction{
		ID:        uuid.NewString(),
		SessionID: f.sessionID,
		SenderID:  f.senderID,
		Emoji:     emoji,
		CreatedAt: f.now().UTC(),
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", pkg.ErrBadRequest, err)
	}

	f.receiveReaction(r)

	topic := models.SessionTopic(f.sessionID)
	if err := f.queue.Send(ctx, topic, models.EventReaction, r.ID, r); err != nil {
		return nil, err
	}
	if err := f.queue.Persist(ctx, models.EventReaction, r.ID, r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (f *chatFeed) onMessage(payload json.RawMessage, _ string) {
	var msg models.ChatMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Warn().Str("module", "chat").Err(err).Msg("invalid chat message")
		return
	}
	if msg.SessionID != f.sessionID || msg.ID == "" {
		return
	}
	f.receiveMessage(msg)
}

func (f *chatFeed) onReaction(payload json.RawMessage, _ string) {
	var r models.Reaction
	if err := json.Unmarshal(payload, &r); err != nil {
		log.Warn().Str("module", "chat").Err(err).Msg("invalid reaction")
		return
	}
	if r.SessionID != f.sessionID || r.ID == "" {
		return
	}
	f.receiveReaction(r)
}

// onSendFailed, kuyruğun bu oturum için bildirdiği kalıcı redleri işaretler.
func (f *chatFeed) onSendFailed(failure models.SendFailure) {
	if failure.Topic != models.SessionTopic(f.sessionID) || failure.ID == "" {
		return
	}

	f.mu.Lock()
	f.unsent[failure.ID] = failure.Reason
	listeners := make([]func(models.SendFailure), 0, len(f.failListeners))
	for _, fn := range f.failListeners {
		listeners = append(listeners, fn)
	}
	f.mu.Unlock()

	log.Warn().Str("module", "chat").
		Str("session_id", f.sessionID).
		Str("event", failure.Event).
		Str("id", failure.ID).
		Str("reason", failure.Reason).
		Msg("message was not delivered")

	for _, fn := range listeners {
		fn(failure)
	}
}

func (f *chatFeed) Unsent(id string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	reason, ok := f.unsent[id]
	return reason, ok
}

func (f *chatFeed) OnSendFailed(fn func(models.SendFailure)) (remove func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	f.failListeners[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.failListeners, id)
		f.mu.Unlock()
	}
}

// receiveMessage, görülmemiş mesajı görünüme ekler ve dinleyicilere iletir.
func (f *chatFeed) receiveMessage(msg models.ChatMessage) {
	f.mu.Lock()
	if !f.acceptLocked(msg.ID) {
		f.mu.Unlock()
		return
	}
	f.insertLocked(msg)
	listeners := make([]func(models.ChatMessage), 0, len(f.messageListeners))
	for _, fn := range f.messageListeners {
		listeners = append(listeners, fn)
	}
	f.mu.Unlock()

	for _, fn := range listeners {
		fn(msg)
	}
}

func (f *chatFeed) receiveReaction(r models.Reaction) {
	if !f.seen.Mark("r:"+r.ID) {
		return
	}

	f.mu.RLock()
	listeners := make([]func(models.Reaction), 0, len(f.reactionListeners))
	for _, fn := range f.reactionListeners {
		listeners = append(listeners, fn)
	}
	f.mu.RUnlock()

	for _, fn := range listeners {
		fn(r)
	}
}

// acceptLocked, mesaj görünümde değilse ve TTL içinde görülmediyse true döner.
func (f *chatFeed) acceptLocked(id string) bool {
	if _, ok := f.inView[id]; ok {
		return false
	}
	return f.seen.Mark("m:" + id)
}

// insertLocked, mesajı CreatedAt sırasına yerleştirir ve MaxHistory'yi korur.
func (f *chatFeed) insertLocked(msg models.ChatMessage) {
	i := sort.Search(len(f.messages), func(i int) bool {
		return f.messages[i].CreatedAt.After(msg.CreatedAt)
	})
	f.messages = append(f.messages, models.ChatMessage{})
	copy(f.messages[i+1:], f.messages[i:])
	f.messages[i] = msg
	f.inView[msg.ID] = struct{}{}

	if over := len(f.messages) - f.cfg.MaxHistory; over > 0 {
		for _, dropped := range f.messages[:over] {
			delete(f.inView, dropped.ID)
			delete(f.unsent, dropped.ID)
		}
		f.messages = append([]models.ChatMessage(nil), f.messages[over:]...)
	}
}

func (f *chatFeed) Messages() []models.ChatMessage {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]models.ChatMessage(nil), f.messages...)
}

// LoadHistory, geçmiş mesajları dinleyicilere iletmeden görünüme ekler.
func (f *chatFeed) LoadHistory(ctx context.Context, beforeID string, limit int) (*models.ChatPage, error) {
	if limit <= 0 {
		limit = DefaultHistoryPage
	}

	page, err := f.store.ListMessages(ctx, f.sessionID, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}

	f.mu.Lock()
	for _, msg := range page.Messages {
		if f.acceptLocked(msg.ID) {
			f.insertLocked(msg)
		}
	}
	f.mu.Unlock()

	return page, nil
}

func (f *chatFeed) OnMessage(fn func(models.ChatMessage)) (remove func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	f.messageListeners[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.messageListeners, id)
		f.mu.Unlock()
	}
}

func (f *chatFeed) OnReaction(fn func(models.Reaction)) (remove func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	f.reactionListeners[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.reactionListeners, id)
		f.mu.Unlock()
	}
}

func (f *chatFeed) Close() {
	f.mu.Lock()
	unsubs := f.unsubs
	f.unsubs = nil
	f.messageListeners = make(map[int]func(models.ChatMessage))
	f.reactionListeners = make(map[int]func(models.Reaction))
	f.failListeners = make(map[int]func(models.SendFailure))
	f.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	f.seen.Close()
}
