package ws

import (
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/akinalp/stagecast/pkg/ratelimit"
)

// maxUserIDLength, query'den gelen user_id için üst sınır.
const maxUserIDLength = 128

// Handler, /ws bağlantı isteklerini işleyen HTTP handler'ı.
//
// Kimlik doğrulama bu katmanın işi değil: user_id query parametresi
// (kayıtlı kullanıcı id'si veya anonim cihaz id'si) olduğu gibi kabul edilir.
type Handler struct {
	hub      *Hub
	limiter  *ratelimit.ConnectRateLimiter
	limits   Limits
	upgrader websocket.Upgrader
}

// NewHandler, yeni bir WebSocket handler oluşturur. limiter nil olabilir.
// checkOrigin nil ise tüm origin'lere izin verilir.
func NewHandler(hub *Hub, limiter *ratelimit.ConnectRateLimiter, limits Limits, checkOrigin func(*http.Request) bool) *Handler {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		hub:     hub,
		limiter: limiter,
		limits:  limits,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// HandleConnection, HTTP bağlantısını WebSocket'e yükseltir.
//
//	GET /ws?user_id=u1
//
// 1. IP bazlı bağlantı sınırı (reconnect fırtınası koruması)
// 2. user_id kontrolü
// 3. Upgrade, hub'a kayıt, pump goroutine'leri
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil {
		ip := ratelimit.ExtractIP(r)
		if !h.limiter.Allow(ip) {
			w.Header().Set("Retry-After", strconv.Itoa(h.limiter.RetryAfterSeconds(ip)))
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
			return
		}
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" || len(userID) > maxUserIDLength {
		http.Error(w, "missing or invalid user_id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Str("module", "ws").Str("user_id", userID).Err(err).Msg("upgrade failed")
		return
	}

	client := newClient(h.hub, conn, userID, h.limits)
	if !h.hub.addClient(client) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	go client.WritePump()
	client.ReadPump() // bağlantı kapanana kadar bloklar
}
