package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/akinalp/stagecast/models"
	"github.com/akinalp/stagecast/pkg/ratelimit"
)

// EventPublisher, service katmanının sunucu kaynaklı topic event'leri
// yayınlamak için kullandığı interface (ör. LiveKit webhook → membership_updated).
type EventPublisher interface {
	BroadcastToTopic(topic, event string, payload any)
	SubscriberCount(topic string) int
}

// PublishAuthorizer, client publish'lerini kabul etmeden önce çağrılır.
// false dönerse publish reddedilir. main.go'da session config'e bakarak
// playback event'lerini yalnızca host'a açan bir fonksiyon bağlanır.
type PublishAuthorizer func(userID, topic, event string) bool

// rateLimitedEvents, kullanıcı başına MessageRateLimiter'a takılan event'ler.
// Playback heartbeat'leri bu sete dahil değildir.
var rateLimitedEvents = map[string]bool{
	models.EventChatMessage: true,
	models.EventReaction:    true,
}

// serverOnlyEvents, client'ların yayınlayamayacağı event'ler.
var serverOnlyEvents = map[string]bool{
	models.EventMembershipUpdated: true,
}

// Hub, tüm bağlantıları ve topic aboneliklerini yönetir.
//
// clients: bağlı tüm Client'lar. topics: topic → abone Client seti.
// Her iki map de mu ile korunur. Kayıt senkron yapılır (ReadPump başlamadan
// client hub'da olmalı); çıkışlar Run loop'unun unregister channel'ından geçer.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	topics  map[string]map[*Client]struct{}

	unregister chan *Client
	done       chan struct{}
	closeOnce  sync.Once

	seq atomic.Int64

	chatLimiter *ratelimit.MessageRateLimiter
	authorize   PublishAuthorizer
}

// NewHub, yeni bir Hub oluşturur. chatLimiter nil olabilir (limitsiz).
func NewHub(chatLimiter *ratelimit.MessageRateLimiter) *Hub {
	return &Hub{
		clients:     make(map[*Client]struct{}),
		topics:      make(map[string]map[*Client]struct{}),
		unregister:  make(chan *Client),
		done:        make(chan struct{}),
		chatLimiter: chatLimiter,
	}
}

// OnAuthorizePublish, publish yetki kontrolünü bağlar.
func (h *Hub) OnAuthorizePublish(fn PublishAuthorizer) {
	h.mu.Lock()
	h.authorize = fn
	h.mu.Unlock()
}

// Run, Hub'ın ana event loop'u. main.go'da `go hub.Run()` ile başlatılır,
// Shutdown çağrılınca döner.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.unregister:
			h.removeClient(client)
		case <-h.done:
			return
		}
	}
}

// addClient, client'ı kaydeder. Hub kapatılmışsa false döner.
func (h *Hub) addClient(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	select {
	case <-h.done:
		return false
	default:
	}

	h.clients[client] = struct{}{}
	log.Debug().Str("module", "ws").Str("user_id", client.userID).
		Int("connections", len(h.clients)).Msg("client connected")
	return true
}

// removeClient, client'ı tüm topic'lerden çıkarır ve send channel'ını kapatır.
// Aynı client için ikinci çağrı no-op'tur.
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)

	for topic := range client.topics {
		h.dropSubscriber(topic, client)
	}
	close(client.send)

	log.Debug().Str("module", "ws").Str("user_id", client.userID).
		Int("connections", len(h.clients)).Msg("client disconnected")
}

// dropSubscriber: caller h.mu'yu Lock'lamış olmalı.
func (h *Hub) dropSubscriber(topic string, client *Client) {
	subs, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(subs, client)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
}

// subscribe, client'ı topic'e ekler. Zaten aboneyse no-op (yine de true döner).
func (h *Hub) subscribe(client *Client, topic string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return false
	}
	if _, ok := client.topics[topic]; !ok && len(client.topics) >= maxTopicsPerClient {
		return false
	}

	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*Client]struct{})
		h.topics[topic] = subs
	}
	subs[client] = struct{}{}
	client.topics[topic] = struct{}{}
	return true
}

func (h *Hub) unsubscribe(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(client.topics, topic)
	h.dropSubscriber(topic, client)
}

// publish, client kaynaklı bir event'i kontrol edip yayar.
// Dönen ErrorData nil değilse client'a error op'u gönderilir.
func (h *Hub) publish(from *Client, data PublishData) *ErrorData {
	errData := h.authorizePublish(from, data)
	if errData != nil {
		errData.Ref = data.Ref
		return errData
	}

	h.fanOut(from, BroadcastData{
		Topic:   data.Topic,
		Event:   data.Event,
		Payload: data.Payload,
		From:    from.userID,
	})
	return nil
}

func (h *Hub) authorizePublish(from *Client, data PublishData) *ErrorData {
	if serverOnlyEvents[data.Event] {
		return &ErrorData{Topic: data.Topic, Event: data.Event, Message: "event is server only"}
	}

	h.mu.RLock()
	_, subscribed := from.topics[data.Topic]
	authorize := h.authorize
	h.mu.RUnlock()

	if !subscribed {
		return &ErrorData{Topic: data.Topic, Event: data.Event, Message: "not subscribed"}
	}
	if authorize != nil && !authorize(from.userID, data.Topic, data.Event) {
		return &ErrorData{Topic: data.Topic, Event: data.Event, Message: "not allowed"}
	}
	if rateLimitedEvents[data.Event] && h.chatLimiter != nil && !h.chatLimiter.Allow(from.userID) {
		return &ErrorData{
			Topic:      data.Topic,
			Event:      data.Event,
			Message:    "rate limited",
			RetryAfter: h.chatLimiter.CooldownSeconds(from.userID),
		}
	}
	return nil
}

// BroadcastToTopic, sunucu kaynaklı bir event'i topic'in tüm abonelerine yollar.
func (h *Hub) BroadcastToTopic(topic, event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Error().Str("module", "ws").Err(err).Str("topic", topic).Msg("failed to marshal server event")
		return
	}
	h.fanOut(nil, BroadcastData{Topic: topic, Event: event, Payload: raw})
}

// fanOut, broadcast'i exclude hariç tüm abonelere yazar. Buffer'ı dolu olan
// (yavaş) client'lar hub'dan düşürülür.
func (h *Hub) fanOut(exclude *Client, data BroadcastData) {
	msg, err := json.Marshal(Event{Op: OpBroadcast, Data: data, Seq: h.seq.Add(1)})
	if err != nil {
		log.Error().Str("module", "ws").Err(err).Msg("failed to marshal broadcast")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.topics[data.Topic] {
		if client == exclude {
			continue
		}
		select {
		case client.send <- msg:
		default:
			log.Warn().Str("module", "ws").Str("user_id", client.userID).Msg("send buffer full, dropping connection")
			go h.drop(client)
		}
	}
}

// drop, client'ı Run loop'u üzerinden çıkarır; hub kapandıysa bekletmez.
func (h *Hub) drop(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// SubscriberCount, topic'in anlık abone sayısı.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Shutdown, tüm bağlantıları kapatır ve Run loop'unu durdurur.
func (h *Hub) Shutdown() {
	h.closeOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		defer h.mu.Unlock()

		for client := range h.clients {
			close(client.send)
		}
		h.clients = make(map[*Client]struct{})
		h.topics = make(map[string]map[*Client]struct{})
		log.Info().Str("module", "ws").Msg("hub shut down, all connections closed")
	})
}

// sendTo, tek bir client'a event yazar. Üyelik kontrolü ve send'e yazma aynı
// RLock altında yapılır; kapatılmış bir channel'a yazılmaz.
func (h *Hub) sendTo(client *Client, event Event) {
	msg, err := json.Marshal(event)
	if err != nil {
		log.Error().Str("module", "ws").Err(err).Str("op", event.Op).Msg("failed to marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	select {
	case client.send <- msg:
	default:
		go h.drop(client)
	}
}
