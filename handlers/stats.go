package handlers

import (
	"net/http"

	"github.com/akinalp/stagecast/models"
	"github.com/akinalp/stagecast/pkg"
)

// TopicCounter, hub'daki topic abone sayısını döner. *ws.Hub karşılar.
type TopicCounter interface {
	SubscriberCount(topic string) int
}

// HealthResponse, health endpoint'inin response formatı.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatsResponse, oturum istatistik endpoint'inin response formatı.
type StatsResponse struct {
	SessionID   string `json:"session_id"`
	Subscribers int    `json:"subscribers"`
}

// StatsHandler, public (auth gerektirmeyen) health ve istatistik endpoint'leri.
type StatsHandler struct {
	topics TopicCounter
}

// NewStatsHandler, constructor. main.go'da wire-up edilir.
func NewStatsHandler(topics TopicCounter) *StatsHandler {
	return &StatsHandler{topics: topics}
}

// Health godoc
// GET /api/health
func (h *StatsHandler) Health(w http.ResponseWriter, r *http.Request) {
	pkg.JSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// SessionStats, oturum topic'ine bağlı realtime abone sayısını döner.
//
// GET /api/sessions/{id}/stats
// Response: { "success": true, "data": { "session_id": "abc", "subscribers": 12 } }
func (h *StatsHandler) SessionStats(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	pkg.JSON(w, http.StatusOK, StatsResponse{
		SessionID:   sessionID,
		Subscribers: h.topics.SubscriberCount(models.SessionTopic(sessionID)),
	})
}
