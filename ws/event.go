// Package ws, oturumların realtime broadcast kanalını sağlayan topic tabanlı
// WebSocket hub'ıdır.
//
// Mimari:
//   - Hub: bağlantıları ve topic aboneliklerini yöneten merkezi yapı
//   - Client: tek bir WebSocket bağlantısı (ReadPump + WritePump)
//   - Event: client-server arası zarf {op, d, seq}
//
// Akış:
//  1. Client bağlanır: GET /ws?user_id=...
//  2. subscribe{topic} gönderir, sunucu subscribed{topic} ile onaylar
//  3. publish{topic, event, payload} → hub, topic'in gönderen hariç tüm
//     abonelerine broadcast{topic, event, payload, from} yollar
//  4. Sunucu tarafı event'ler (LiveKit webhook → membership_updated) aynı yoldan gider
package ws

import "encoding/json"

// Event, WebSocket üzerinden iletilen bir mesaj.
//
// Seq her outbound event'e verilen artan sayıdır; client eksik event
// tespit etmek için kullanabilir. Playback event'leri için sıra garantisi
// VERİLMEZ: her payload kendi başına yeterli (mutlak pozisyon) olmalıdır.
type Event struct {
	Op   string `json:"op"`
	Data any    `json:"d,omitempty"`
	Seq  int64  `json:"seq,omitempty"`
}

// Frame, gelen (decode edilen) event. Data ham bırakılır, op'a göre parse edilir.
type Frame struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
	Seq  int64           `json:"seq,omitempty"`
}

// DecodeData, Frame.Data'yı v'ye parse eder.
func (f Frame) DecodeData(v any) error {
	if len(f.Data) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(f.Data, v)
}

// ─── Client → Server ───

const (
	OpHeartbeat   = "heartbeat"
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpPublish     = "publish"
)

// ─── Server → Client ───

const (
	OpHeartbeatAck = "heartbeat_ack"
	OpSubscribed   = "subscribed"
	OpUnsubscribed = "unsubscribed"
	OpBroadcast    = "broadcast"
	OpError        = "error"
)

// TopicData: subscribe / unsubscribe / subscribed payload'u.
type TopicData struct {
	Topic string `json:"topic"`
}

// PublishData, client'ın bir topic'e yayınladığı event.
// Ref client'ın verdiği opak referanstır; red durumunda ErrorData'da geri döner.
type PublishData struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

// BroadcastData, abonelere iletilen event. From = gönderen userID
// (sunucu kaynaklı event'lerde boş).
type BroadcastData struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	From    string          `json:"from,omitempty"`
}

// ErrorData, reddedilen bir istek için hata bildirimi.
type ErrorData struct {
	Topic      string `json:"topic,omitempty"`
	Event      string `json:"event,omitempty"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"` // saniye; rate limit'te dolu
	Ref        string `json:"ref,omitempty"`         // reddedilen publish'in ref'i
}

// Sınırlar.
const (
	maxTopicLength     = 128
	maxEventLength     = 64
	maxTopicsPerClient = 16
)
