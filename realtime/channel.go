// Package realtime, ws hub'ına bağlanan client tarafı broadcast kanalıdır.
//
// Channel, services.BroadcastChannel interface'ini karşılar:
//   - Subscribe(topic, event, handler): handler'ı kaydeder, bağlıysa abone olur
//   - Publish(topic, event, payload): kanal subscribed değilse pkg.ErrNotConnected
//   - Rejoin(ctx): bağlantıyı yeniden kurar, tüm topic'lere abone olur ve
//     sunucu her birini onaylayana kadar bekler
//   - OnPublishRejected(fn): hub'ın reddettiği publish'leri (rate limit,
//     yetki) ref üzerinden eşleştirip bildirir
//
// Yeniden bağlanma politikası (backoff, re-entrancy guard) bu paketin işi
// değil; services.OfflineQueue state değişimlerini dinleyip Rejoin çağırır.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/akinalp/stagecast/models"
	"github.com/akinalp/stagecast/pkg"
	"github.com/akinalp/stagecast/ws"
)

// Options, Channel ayarları. Sıfır değerler için varsayılan kullanılır.
type Options struct {
	// HeartbeatInterval: sunucunun PongWait'inden belirgin şekilde kısa olmalı.
	HeartbeatInterval time.Duration
	// AckTimeout: Rejoin'in subscribed onaylarını bekleyeceği en uzun süre.
	AckTimeout time.Duration
	WriteWait  time.Duration
	Dialer     *websocket.Dialer
}

const (
	defaultHeartbeat  = 25 * time.Second
	defaultAckTimeout = 10 * time.Second
	defaultWriteWait  = 10 * time.Second
)

// ErrClosed, Close sonrası yapılan Rejoin çağrıları için.
var ErrClosed = errors.New("channel closed")

// recentPublishes, ref ile eşleştirme için saklanan son publish sayısı.
// Sunucu reddi publish'in hemen ardından gelir.
const recentPublishes = 64

type sentPublish struct {
	ref     string
	topic   string
	event   string
	payload json.RawMessage
}

type handlerEntry struct {
	id int
	fn func(payload json.RawMessage, from string)
}

// connection, tek bir WebSocket bağlantısının yaşam döngüsü.
type connection struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

func (c *connection) close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// Channel, hub'a tek bir WebSocket bağlantısı üzerinden konuşan pub/sub kanalı.
type Channel struct {
	endpoint string
	opts     Options

	rejoinMu sync.Mutex // aynı anda tek Rejoin

	mu        sync.Mutex
	conn      *connection
	state     models.ChannelState
	closed    bool
	nextID    int
	handlers  map[string]map[string][]handlerEntry // topic → event → handler'lar
	pending   map[string]chan struct{}             // topic → subscribed ack
	listeners map[int]func(models.ChannelState)

	refSeq    uint64
	recent    []sentPublish // en fazla recentPublishes, eskisi önde
	rejectFns map[int]func(models.PublishRejection)
}

// New, yeni bir Channel oluşturur. Bağlantı Rejoin ile kurulur.
//
//	ch := realtime.New("ws://localhost:9090/ws", deviceID, realtime.Options{})
//	ch.Subscribe(models.SessionTopic(id), models.EventChatMessage, onChat)
//	err := ch.Rejoin(ctx)
func New(endpoint, userID string, opts Options) *Channel {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeat
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = defaultAckTimeout
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaultWriteWait
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}

	return &Channel{
		endpoint:  withUserID(endpoint, userID),
		opts:      opts,
		state:     models.ChannelClosed,
		handlers:  make(map[string]map[string][]handlerEntry),
		pending:   make(map[string]chan struct{}),
		listeners: make(map[int]func(models.ChannelState)),
		rejectFns: make(map[int]func(models.PublishRejection)),
	}
}

func withUserID(endpoint, userID string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint + "?user_id=" + url.QueryEscape(userID)
	}
	q := u.Query()
	q.Set("user_id", userID)
	u.RawQuery = q.Encode()
	return u.String()
}

// State, kanalın mevcut durumu.
func (c *Channel) State() models.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnConnectionStateChange, durum değişimlerini dinler.
// Callback'ler lock dışında, durumu değiştiren goroutine'de çağrılır.
func (c *Channel) OnConnectionStateChange(fn func(models.ChannelState)) (remove func()) {
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

// OnPublishRejected, sunucunun reddettiği publish'leri dinler.
// Callback'ler okuma goroutine'inde, lock dışında çağrılır.
func (c *Channel) OnPublishRejected(fn func(models.PublishRejection)) (remove func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.rejectFns[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.rejectFns, id)
		c.mu.Unlock()
	}
}

// setState, durumu değiştirir ve değiştiyse listener'ları çağırır.
// gen verilirse (nil değilse) sadece o bağlantı hâlâ güncelse uygulanır.
func (c *Channel) setState(state models.ChannelState, gen *connection) {
	c.mu.Lock()
	if gen != nil && c.conn != gen {
		c.mu.Unlock()
		return
	}
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	fns := make([]func(models.ChannelState), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	log.Debug().Str("module", "realtime").Str("state", string(state)).Msg("channel state changed")
	for _, fn := range fns {
		fn(state)
	}
}

// ─── Subscribe / Publish ───

// Subscribe, topic/event için handler kaydeder. Topic için ilk handler ise ve
// bağlantı varsa sunucuya subscribe gönderilir (onay beklenmez).
func (c *Channel) Subscribe(topic, event string, handler func(payload json.RawMessage, from string)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++

	events, known := c.handlers[topic]
	if !known {
		events = make(map[string][]handlerEntry)
		c.handlers[topic] = events
	}
	events[event] = append(events[event], handlerEntry{id: id, fn: handler})
	conn := c.conn
	c.mu.Unlock()

	if !known && conn != nil {
		if err := c.write(conn, ws.Event{Op: ws.OpSubscribe, Data: ws.TopicData{Topic: topic}}); err != nil {
			log.Debug().Str("module", "realtime").Str("topic", topic).Err(err).Msg("subscribe write failed")
		}
	}

	var once sync.Once
	return func() { once.Do(func() { c.removeHandler(topic, event, id) }) }
}

func (c *Channel) removeHandler(topic, event string, id int) {
	c.mu.Lock()
	events := c.handlers[topic]
	list := events[event]
	for i, h := range list {
		if h.id == id {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(events, event)
	} else {
		events[event] = list
	}

	lastForTopic := len(events) == 0
	if lastForTopic {
		delete(c.handlers, topic)
	}
	conn := c.conn
	c.mu.Unlock()

	if lastForTopic && conn != nil {
		_ = c.write(conn, ws.Event{Op: ws.OpUnsubscribe, Data: ws.TopicData{Topic: topic}})
	}
}

// Publish, event'i topic'e yayınlar. Kanal subscribed değilse pkg.ErrNotConnected.
func (c *Channel) Publish(ctx context.Context, topic, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	c.mu.Lock()
	conn, state := c.conn, c.state
	if conn == nil || state != models.ChannelSubscribed {
		c.mu.Unlock()
		return fmt.Errorf("%w: state %s", pkg.ErrNotConnected, state)
	}
	c.refSeq++
	ref := strconv.FormatUint(c.refSeq, 10)
	c.recent = append(c.recent, sentPublish{ref: ref, topic: topic, event: event, payload: raw})
	if len(c.recent) > recentPublishes {
		c.recent = c.recent[len(c.recent)-recentPublishes:]
	}
	c.mu.Unlock()

	if err := c.write(conn, ws.Event{Op: ws.OpPublish, Data: ws.PublishData{
		Topic:   topic,
		Event:   event,
		Payload: raw,
		Ref:     ref,
	}}); err != nil {
		return fmt.Errorf("%w: %v", pkg.ErrNotConnected, err)
	}
	return nil
}

func (c *Channel) write(conn *connection, event ws.Event) error {
	conn.writeMu.Lock()
	defer conn.writeMu.Unlock()

	if err := conn.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		return err
	}
	return conn.ws.WriteJSON(event)
}

// ─── Bağlantı yaşam döngüsü ───

// Rejoin, mevcut bağlantıyı kapatır, yenisini kurar ve kayıtlı tüm topic'lere
// abone olur. Tüm onaylar gelince durum subscribed olur.
//
// Onaylar AckTimeout içinde gelmezse durum timed_out, bağlantı koparsa errored olur.
func (c *Channel) Rejoin(ctx context.Context) error {
	c.rejoinMu.Lock()
	defer c.rejoinMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	old := c.conn
	c.conn = nil
	c.mu.Unlock()
	if old != nil {
		old.close()
	}

	c.setState(models.ChannelConnecting, nil)

	wsConn, resp, err := c.opts.Dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			err = fmt.Errorf("rate limited (retry after %ss): %w", resp.Header.Get("Retry-After"), err)
		}
		c.setState(models.ChannelErrored, nil)
		return fmt.Errorf("failed to dial realtime hub: %w", err)
	}

	conn := &connection{ws: wsConn, done: make(chan struct{})}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.close()
		return ErrClosed
	}
	c.conn = conn
	topics := make([]string, 0, len(c.handlers))
	acks := make([]chan struct{}, 0, len(c.handlers))
	for topic := range c.handlers {
		ack := make(chan struct{})
		c.pending[topic] = ack
		topics = append(topics, topic)
		acks = append(acks, ack)
	}
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.heartbeatLoop(conn)

	for _, topic := range topics {
		if err := c.write(conn, ws.Event{Op: ws.OpSubscribe, Data: ws.TopicData{Topic: topic}}); err != nil {
			c.fail(conn, models.ChannelErrored)
			return fmt.Errorf("failed to subscribe %s: %w", topic, err)
		}
	}

	timer := time.NewTimer(c.opts.AckTimeout)
	defer timer.Stop()

	for _, ack := range acks {
		select {
		case <-ack:
		case <-conn.done:
			c.setState(models.ChannelErrored, conn)
			return fmt.Errorf("%w: connection lost while subscribing", pkg.ErrNotConnected)
		case <-timer.C:
			c.fail(conn, models.ChannelTimedOut)
			return fmt.Errorf("%w: subscribe acknowledgement timed out", pkg.ErrNotConnected)
		case <-ctx.Done():
			c.fail(conn, models.ChannelErrored)
			return ctx.Err()
		}
	}

	c.setState(models.ChannelSubscribed, conn)
	log.Info().Str("module", "realtime").Int("topics", len(topics)).Msg("channel subscribed")
	return nil
}

// fail, bağlantıyı verilen durumla bırakır. Bağlantı önce ayrılır ki
// readLoop'un kapanışı durumu ikinci kez değiştirmesin.
func (c *Channel) fail(conn *connection, state models.ChannelState) {
	c.setState(state, conn)

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.close()
}

// Close, bağlantıyı kalıcı olarak kapatır. Sonraki Rejoin'ler ErrClosed döner.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.close()
	}
	c.setState(models.ChannelClosed, nil)
}

func (c *Channel) readLoop(conn *connection) {
	defer func() {
		conn.close()
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if !closed {
			c.setState(models.ChannelErrored, conn)
		}
	}()

	for {
		var frame ws.Frame
		if err := conn.ws.ReadJSON(&frame); err != nil {
			select {
			case <-conn.done:
			default:
				log.Debug().Str("module", "realtime").Err(err).Msg("read failed")
			}
			return
		}
		c.dispatch(frame)
	}
}

// dispatch, sunucudan gelen frame'lerin tek işlendiği yer.
func (c *Channel) dispatch(frame ws.Frame) {
	switch frame.Op {
	case ws.OpSubscribed:
		var data ws.TopicData
		if err := frame.DecodeData(&data); err != nil {
			return
		}
		c.mu.Lock()
		if ack, ok := c.pending[data.Topic]; ok {
			close(ack)
			delete(c.pending, data.Topic)
		}
		c.mu.Unlock()

	case ws.OpBroadcast:
		var data ws.BroadcastData
		if err := frame.DecodeData(&data); err != nil {
			return
		}
		c.mu.Lock()
		list := append([]handlerEntry(nil), c.handlers[data.Topic][data.Event]...)
		c.mu.Unlock()

		for _, h := range list {
			h.fn(data.Payload, data.From)
		}

	case ws.OpError:
		var data ws.ErrorData
		_ = frame.DecodeData(&data)
		log.Warn().Str("module", "realtime").
			Str("topic", data.Topic).
			Str("event", data.Event).
			Str("ref", data.Ref).
			Int("retry_after", data.RetryAfter).
			Msg(data.Message)
		c.rejected(data)

	case ws.OpHeartbeatAck, ws.OpUnsubscribed:
	}
}

// rejected, ref'i bilinen bir publish reddini listener'lara iletir.
func (c *Channel) rejected(data ws.ErrorData) {
	if data.Ref == "" {
		return
	}

	c.mu.Lock()
	var (
		sent  sentPublish
		found bool
	)
	for i, p := range c.recent {
		if p.ref == data.Ref {
			sent, found = p, true
			c.recent = append(c.recent[:i:i], c.recent[i+1:]...)
			break
		}
	}
	fns := make([]func(models.PublishRejection), 0, len(c.rejectFns))
	for _, fn := range c.rejectFns {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	if !found {
		return
	}
	rej := models.PublishRejection{
		Topic:      sent.topic,
		Event:      sent.event,
		Payload:    sent.payload,
		Reason:     data.Message,
		RetryAfter: time.Duration(data.RetryAfter) * time.Second,
	}
	for _, fn := range fns {
		fn(rej)
	}
}

func (c *Channel) heartbeatLoop(conn *connection) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.write(conn, ws.Event{Op: ws.OpHeartbeat}); err != nil {
				conn.close()
				return
			}
		case <-conn.done:
			return
		}
	}
}
