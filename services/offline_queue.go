package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/akinalp/stagecast/models"
	"github.com/akinalp/stagecast/pkg"
	"github.com/akinalp/stagecast/pkg/backoff"
)

// Reconnect backoff varsayılanları.
const (
	DefaultBackoffFloor   = 500 * time.Millisecond
	DefaultBackoffCeiling = 30 * time.Second
)

// ─── OfflineQueue Interface ───

// OfflineQueue, chat/reaction broadcast'lerini ve store yazımlarını bağlantı
// yokken tamponlar, yeniden bağlanınca tekrar oynatır.
//
// İki kuyruk bağımsızdır: bir mesaj broadcast edilip store yazımı başarısız
// olabilir (veya tersi); biri diğerini bloklamaz. Her entry payload'un kendi
// id'sini taşır; tekrar oynatma alıcılarda ve store'da no-op'tur.
//
// Kanal errored/timed_out olduğunda üstel backoff ile Rejoin yapılır. Aynı
// anda yalnızca bir rejoin döngüsü çalışır; backoff yalnızca onaylanmış bir
// subscribe sonrası floor'a döner.
//
// Kanal PublishRejectionNotifier ise sunucunun sonradan reddettiği chat ve
// reaction yayınları kuyruğa geri alınır; rate limit'te RetryAfter sonunda,
// diğer geçici redlerde bir sonraki subscribe'da tekrar gönderilir.
type OfflineQueue interface {
	// Send, hemen yayınlamayı dener; başarısızsa kuyruğa alır.
	Send(ctx context.Context, topic, event, id string, payload any) error
	// Persist, store'a yazmayı dener; başarısızsa kuyruğa alır.
	Persist(ctx context.Context, event, id string, payload any) error
	// Flush, iki kuyruğu bağımsız olarak tekrar oynatır.
	Flush(ctx context.Context) error
	// NetworkOnline, ağ geri geldiğinde çağrılır.
	NetworkOnline(ctx context.Context)

	// OnSendFailed, sunucunun kalıcı olarak reddettiği yayınları bildirir.
	// Bu entry'ler kuyruğa geri alınmaz; gönderenin görünümü işaretlemesi gerekir.
	OnSendFailed(fn func(models.SendFailure)) (remove func())

	Start()
	Pending() (broadcast, store int)
	Close()
}

// OfflineQueueConfig, backoff sınırları.
type OfflineQueueConfig struct {
	BackoffFloor   time.Duration
	BackoffCeiling time.Duration
}

// ─── Implementasyon ───

type offlineQueue struct {
	channel BroadcastChannel
	store   ChatStore
	backoff *backoff.Backoff
	now     func() time.Time
	// sleep, testlerde gerçek bekleme yerine geçer.
	sleep func(ctx context.Context, d time.Duration) error

	ctx    context.Context
	cancel context.CancelFunc

	// Kuyruk başına flush serileştirme
	broadcastFlushMu sync.Mutex
	storeFlushMu     sync.Mutex

	mu           sync.Mutex
	broadcast    []models.OfflineQueueEntry
	stored       []models.OfflineQueueEntry
	rejoining    bool
	retrying     bool
	closed       bool
	removeState  func()
	removeReject func()

	failListeners map[int]func(models.SendFailure)
	nextFailID    int
}

// NewOfflineQueue, yeni bir OfflineQueue oluşturur. Start çağrılana kadar
// kanal durumu dinlenmez.
func NewOfflineQueue(channel BroadcastChannel, store ChatStore, cfg OfflineQueueConfig) OfflineQueue {
	if cfg.BackoffFloor <= 0 {
		cfg.BackoffFloor = DefaultBackoffFloor
	}
	if cfg.BackoffCeiling <= 0 {
		cfg.BackoffCeiling = DefaultBackoffCeiling
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &offlineQueue{
		channel: channel,
		store:   store,
		backoff: backoff.New(cfg.BackoffFloor, cfg.BackoffCeiling),
		now:     time.Now,
		sleep:   sleepContext,
		ctx:     ctx,
		cancel:  cancel,

		failListeners: make(map[int]func(models.SendFailure)),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (q *offlineQueue) Send(ctx context.Context, topic, event, id string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", event, err)
	}

	if q.channel.State() == models.ChannelSubscribed {
		err := q.channel.Publish(ctx, topic, event, json.RawMessage(raw))
		if err == nil {
			return nil
		}
		log.Debug().Str("module", "offline").Str("event", event).Err(err).Msg("publish failed, queued")
	}

	q.enqueue(models.OfflineQueueEntry{
		Kind:     models.QueueBroadcast,
		ID:       id,
		Topic:    topic,
		Event:    event,
		Payload:  raw,
		QueuedAt: q.now().UTC(),
	})
	return nil
}

func (q *offlineQueue) Persist(ctx context.Context, event, id string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", event, err)
	}

	entry := models.OfflineQueueEntry{
		Kind:     models.QueueStore,
		ID:       id,
		Event:    event,
		Payload:  raw,
		QueuedAt: q.now().UTC(),
	}
	if err := q.write(ctx, entry); err != nil {
		log.Debug().Str("module", "offline").Str("event", event).Err(err).Msg("store write failed, queued")
		q.enqueue(entry)
	}
	return nil
}

// write, store entry'sini ilgili koleksiyona yazar.
func (q *offlineQueue) write(ctx context.Context, e models.OfflineQueueEntry) error {
	switch e.Event {
	case models.EventChatMessage:
		var msg models.ChatMessage
		if err := json.Unmarshal(e.Payload, &msg); err != nil {
			return err
		}
		return q.store.InsertMessage(ctx, &msg)
	case models.EventReaction:
		var r models.Reaction
		if err := json.Unmarshal(e.Payload, &r); err != nil {
			return err
		}
		return q.store.InsertReaction(ctx, &r)
	default:
		return fmt.Errorf("%w: unknown store event %q", pkg.ErrBadRequest, e.Event)
	}
}

func (q *offlineQueue) publish(ctx context.Context, e models.OfflineQueueEntry) error {
	return q.channel.Publish(ctx, e.Topic, e.Event, e.Payload)
}

// enqueue, aynı kuyrukta aynı id+event varsa eklemez.
func (q *offlineQueue) enqueue(e models.OfflineQueueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	list := q.list(e.Kind)
	for _, existing := range *list {
		if existing.ID == e.ID && existing.Event == e.Event {
			return
		}
	}
	*list = append(*list, e)
}

func (q *offlineQueue) list(kind models.QueueKind) *[]models.OfflineQueueEntry {
	if kind == models.QueueStore {
		return &q.stored
	}
	return &q.broadcast
}

func (q *offlineQueue) Flush(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error {
		return q.flush(ctx, models.QueueBroadcast, &q.broadcastFlushMu, q.publish)
	})
	g.Go(func() error {
		return q.flush(ctx, models.QueueStore, &q.storeFlushMu, q.write)
	})
	return g.Wait()
}

// flush, kuyruğu sırayla tekrar oynatır. Başarısız entry'ler (Attempts+1)
// kuyruğun başına geri konur; flush sırasında eklenenler arkada kalır.
func (q *offlineQueue) flush(
	ctx context.Context,
	kind models.QueueKind,
	flushMu *sync.Mutex,
	send func(context.Context, models.OfflineQueueEntry) error,
) error {
	flushMu.Lock()
	defer flushMu.Unlock()

	q.mu.Lock()
	list := q.list(kind)
	entries := *list
	*list = nil
	q.mu.Unlock()

	if len(entries) == 0 {
		return nil
	}

	var (
		remaining []models.OfflineQueueEntry
		lastErr   error
	)
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			remaining = append(remaining, entries[i:]...)
			lastErr = err
			break
		}
		if err := send(ctx, e); err != nil {
			e.Attempts++
			remaining = append(remaining, e)
			lastErr = err
		}
	}

	sent := len(entries) - len(remaining)
	if len(remaining) > 0 {
		q.mu.Lock()
		list = q.list(kind)
		merged := remaining
		for _, e := range *list {
			if !containsEntry(merged, e) {
				merged = append(merged, e)
			}
		}
		*list = merged
		q.mu.Unlock()
	}

	log.Info().Str("module", "offline").
		Str("queue", string(kind)).
		Int("sent", sent).
		Int("pending", len(remaining)).
		Msg("queue flushed")

	if lastErr != nil {
		return fmt.Errorf("%d %s entries still pending: %w", len(remaining), kind, lastErr)
	}
	return nil
}

func containsEntry(list []models.OfflineQueueEntry, e models.OfflineQueueEntry) bool {
	for _, x := range list {
		if x.ID == e.ID && x.Event == e.Event {
			return true
		}
	}
	return false
}

func (q *offlineQueue) Pending() (broadcast, store int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.broadcast), len(q.stored)
}

// ─── Sunucu reddi ───

// requeueEvents, reddedildiğinde kuyruğa geri alınan event'ler.
var requeueEvents = map[string]bool{
	models.EventChatMessage: true,
	models.EventReaction:    true,
}

// requeueReasons, RetryAfter taşımayan ama geçici olan red nedenleri.
var requeueReasons = map[string]bool{
	"not subscribed": true,
}

func (q *offlineQueue) onRejected(rej models.PublishRejection) {
	if !requeueEvents[rej.Event] {
		return
	}

	var ref struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rej.Payload, &ref); err != nil || ref.ID == "" {
		log.Warn().Str("module", "offline").Str("event", rej.Event).Msg("rejected publish has no id, dropped")
		return
	}

	if !rej.Retryable() && !requeueReasons[rej.Reason] {
		log.Error().Str("module", "offline").
			Str("event", rej.Event).
			Str("id", ref.ID).
			Str("reason", rej.Reason).
			Msg("publish rejected by server, not retried")
		q.notifyFailed(models.SendFailure{Topic: rej.Topic, Event: rej.Event, ID: ref.ID, Reason: rej.Reason})
		return
	}

	q.enqueue(models.OfflineQueueEntry{
		Kind:     models.QueueBroadcast,
		ID:       ref.ID,
		Topic:    rej.Topic,
		Event:    rej.Event,
		Payload:  rej.Payload,
		QueuedAt: q.now().UTC(),
		Attempts: 1,
	})
	log.Info().Str("module", "offline").
		Str("event", rej.Event).
		Str("id", ref.ID).
		Str("reason", rej.Reason).
		Dur("retry_after", rej.RetryAfter).
		Msg("rejected publish queued for retry")

	if rej.Retryable() {
		q.scheduleRetry(rej.RetryAfter)
	}
}

// scheduleRetry, d sonra broadcast kuyruğunu flush eder. Bekleyen bir retry
// varsa yenisi kurulmaz.
func (q *offlineQueue) scheduleRetry(d time.Duration) {
	q.mu.Lock()
	if q.retrying || q.closed {
		q.mu.Unlock()
		return
	}
	q.retrying = true
	q.mu.Unlock()

	go func() {
		err := q.sleep(q.ctx, d)
		q.mu.Lock()
		q.retrying = false
		q.mu.Unlock()
		if err != nil {
			return
		}
		// Bağlı değilse subscribe sonrası flush zaten çalışır
		if q.channel.State() != models.ChannelSubscribed {
			return
		}
		if err := q.flush(q.ctx, models.QueueBroadcast, &q.broadcastFlushMu, q.publish); err != nil {
			log.Warn().Str("module", "offline").Err(err).Msg("retry after rejection failed")
		}
	}()
}

// ─── Kanal durumu / reconnect ───

func (q *offlineQueue) OnSendFailed(fn func(models.SendFailure)) (remove func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := q.nextFailID
	q.nextFailID++
	q.failListeners[id] = fn
	return func() {
		q.mu.Lock()
		delete(q.failListeners, id)
		q.mu.Unlock()
	}
}

func (q *offlineQueue) notifyFailed(failure models.SendFailure) {
	q.mu.Lock()
	listeners := make([]func(models.SendFailure), 0, len(q.failListeners))
	for _, fn := range q.failListeners {
		listeners = append(listeners, fn)
	}
	q.mu.Unlock()

	for _, fn := range listeners {
		fn(failure)
	}
}

func (q *offlineQueue) Start() {
	q.mu.Lock()
	if q.removeState != nil || q.closed {
		q.mu.Unlock()
		return
	}
	q.removeState = q.channel.OnConnectionStateChange(q.onState)
	if n, ok := q.channel.(PublishRejectionNotifier); ok {
		q.removeReject = n.OnPublishRejected(q.onRejected)
	}
	q.mu.Unlock()

	if q.channel.State().NeedsRejoin() {
		q.triggerRejoin()
	}
}

func (q *offlineQueue) onState(state models.ChannelState) {
	switch {
	case state == models.ChannelSubscribed:
		q.backoff.Reset()
		go func() {
			if err := q.Flush(q.ctx); err != nil {
				log.Warn().Str("module", "offline").Err(err).Msg("flush after reconnect failed")
			}
		}()
	case state.NeedsRejoin():
		q.triggerRejoin()
	}
}

func (q *offlineQueue) NetworkOnline(ctx context.Context) {
	if q.channel.State() == models.ChannelSubscribed {
		if err := q.Flush(ctx); err != nil {
			log.Warn().Str("module", "offline").Err(err).Msg("flush on network online failed")
		}
		return
	}
	// Ağ geri geldi: beklemeden tekrar dene.
	q.backoff.Reset()
	q.triggerRejoin()
}

// triggerRejoin, zaten bir rejoin döngüsü çalışıyorsa hiçbir şey yapmaz.
func (q *offlineQueue) triggerRejoin() {
	q.mu.Lock()
	if q.rejoining || q.closed {
		q.mu.Unlock()
		return
	}
	q.rejoining = true
	q.mu.Unlock()

	go q.rejoinLoop()
}

func (q *offlineQueue) rejoinLoop() {
	defer func() {
		q.mu.Lock()
		q.rejoining = false
		closed := q.closed
		q.mu.Unlock()

		// Döngü biterken gelen bir kopma sinyali kaçırılmasın
		if !closed && q.channel.State().NeedsRejoin() {
			q.triggerRejoin()
		}
	}()

	for {
		delay := q.backoff.Next()
		log.Info().Str("module", "offline").
			Dur("delay", delay).
			Int("attempt", q.backoff.Attempts()).
			Msg("scheduling channel rejoin")

		if err := q.sleep(q.ctx, delay); err != nil {
			return
		}

		err := q.channel.Rejoin(q.ctx)
		if err == nil {
			return
		}
		if q.ctx.Err() != nil || q.channel.State() == models.ChannelClosed {
			return
		}
		log.Warn().Str("module", "offline").Err(err).Msg("channel rejoin failed")
	}
}

func (q *offlineQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	remove, removeReject := q.removeState, q.removeReject
	q.mu.Unlock()

	q.cancel()
	if remove != nil {
		remove()
	}
	if removeReject != nil {
		removeReject()
	}
}
