package ws

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Limits, bağlantı başına zamanlama ve boyut sınırları (config.Realtime'dan gelir).
type Limits struct {
	// PongWait: bu süre içinde heartbeat gelmezse bağlantı kopmuş sayılır.
	PongWait time.Duration
	// WriteWait: tek bir mesajı yazmak için maksimum süre.
	WriteWait time.Duration
	// MaxMessageSize: client'tan kabul edilen en büyük frame (byte).
	MaxMessageSize int64
	// SendBuffer: client başına outbound buffer. Dolarsa client düşürülür.
	SendBuffer int
}

// DefaultLimits: client 25sn'de bir heartbeat atar, 3 kaçırma tolere edilir.
var DefaultLimits = Limits{
	PongWait:       75 * time.Second,
	WriteWait:      10 * time.Second,
	MaxMessageSize: 8 * 1024,
	SendBuffer:     256,
}

// Client, tek bir WebSocket bağlantısı.
//
// Her bağlantı için iki goroutine çalışır: ReadPump gelen frame'leri işler,
// WritePump send channel'ını WebSocket'e yazar. gorilla/websocket aynı anda
// tek okuyucu ve tek yazıcı destekler.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	limits Limits

	send chan []byte
	// topics: abone olunan topic'ler. hub.mu ile korunur.
	topics map[string]struct{}
	mu     sync.Mutex // conn yazımlarını korur
}

func newClient(hub *Hub, conn *websocket.Conn, userID string, limits Limits) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		limits: limits,
		send:   make(chan []byte, limits.SendBuffer),
		topics: make(map[string]struct{}),
	}
}

// ReadPump, bağlantı kapanana kadar gelen frame'leri okur.
// Döndüğünde client hub'dan çıkarılır.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.drop(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.limits.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.limits.PongWait)); err != nil {
		return
	}

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Str("module", "ws").Str("user_id", c.userID).Err(err).Msg("unexpected close")
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.reply(OpError, ErrorData{Message: "invalid frame"})
			continue
		}

		c.handleFrame(frame)
	}
}

// handleFrame, client op'larının tek dispatch noktası.
func (c *Client) handleFrame(frame Frame) {
	switch frame.Op {
	case OpHeartbeat:
		if err := c.conn.SetReadDeadline(time.Now().Add(c.limits.PongWait)); err != nil {
			return
		}
		c.reply(OpHeartbeatAck, nil)

	case OpSubscribe:
		var data TopicData
		if err := frame.DecodeData(&data); err != nil || !validTopic(data.Topic) {
			c.reply(OpError, ErrorData{Topic: data.Topic, Message: "invalid topic"})
			return
		}
		if !c.hub.subscribe(c, data.Topic) {
			c.reply(OpError, ErrorData{Topic: data.Topic, Message: "subscribe rejected"})
			return
		}
		c.reply(OpSubscribed, TopicData{Topic: data.Topic})

	case OpUnsubscribe:
		var data TopicData
		if err := frame.DecodeData(&data); err != nil {
			return
		}
		c.hub.unsubscribe(c, data.Topic)
		c.reply(OpUnsubscribed, TopicData{Topic: data.Topic})

	case OpPublish:
		var data PublishData
		if err := frame.DecodeData(&data); err != nil || !validTopic(data.Topic) || !validEvent(data.Event) {
			c.reply(OpError, ErrorData{Topic: data.Topic, Message: "invalid publish", Ref: data.Ref})
			return
		}
		if len(data.Payload) == 0 {
			data.Payload = json.RawMessage("null")
		}
		if errData := c.hub.publish(c, data); errData != nil {
			c.reply(OpError, *errData)
		}

	default:
		log.Debug().Str("module", "ws").Str("user_id", c.userID).Str("op", frame.Op).Msg("unknown op")
		c.reply(OpError, ErrorData{Message: "unknown op"})
	}
}

func (c *Client) reply(op string, data any) {
	c.hub.sendTo(c, Event{Op: op, Data: data})
}

// WritePump, send channel'ını WebSocket'e yazar. Channel kapanınca close frame
// gönderip döner.
func (c *Client) WritePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.writeMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	_ = c.writeMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (c *Client) writeMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.limits.WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

func validTopic(topic string) bool {
	return topic != "" && len(topic) <= maxTopicLength && !strings.ContainsAny(topic, " \t\r\n")
}

func validEvent(event string) bool {
	return event != "" && len(event) <= maxEventLength
}
