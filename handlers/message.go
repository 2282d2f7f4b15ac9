// Package handlers, durable store ve token HTTP endpoint'lerini içerir.
//
// Handler'lar "ince" olmalıdır:
// - Request parse et
// - Service çağır
// - Response yaz
//
// İş mantığı (validasyon, idempotency, host kontrolü) service katmanında yaşar.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/akinalp/stagecast/models"
	"github.com/akinalp/stagecast/pkg"
	"github.com/akinalp/stagecast/services"
)

// maxBodyBytes, JSON body'ler için üst sınır. Chat mesajı ve config satırı küçüktür.
const maxBodyBytes = 16 << 10

// ChatHandler, oturum chat geçmişi endpoint'lerini yöneten struct.
type ChatHandler struct {
	chat services.ChatHistoryService
}

// NewChatHandler, constructor.
func NewChatHandler(chat services.ChatHistoryService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

// ListMessages godoc
// GET /api/sessions/{id}/messages?before=ID&limit=50
// Mesajları cursor-based pagination ile en yeni önce döner.
//
// Query parametreleri:
// - before: Bu mesaj ID'sinden önceki mesajları getir (boşsa en yenilerden başla)
// - limit: Kaç mesaj dönsün (default 50, max 100; service clamp'ler)
func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	beforeID := r.URL.Query().Get("before")

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil {
			pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	page, err := h.chat.ListMessages(r.Context(), sessionID, beforeID, limit)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, page)
}

// CreateMessage godoc
// POST /api/sessions/{id}/messages
// Client'ın ürettiği id ile mesajı saklar. Aynı id ikinci kez gelirse
// hiçbir şey değişmez ve yine 201 döner (offline queue replay'i).
//
// Body: { "id": "uuid", "sender_id": "u1", "content": "...", "created_at": "..." }
func (h *ChatHandler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	var msg models.ChatMessage
	if !decodeSessionBody(w, r, &msg, &msg.SessionID) {
		return
	}

	if err := h.chat.InsertMessage(r.Context(), &msg); err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusCreated, msg)
}

// GetMessage godoc
// GET /api/messages/{id}
func (h *ChatHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := h.chat.GetMessage(r.Context(), r.PathValue("id"))
	if err != nil {
		pkg.Error(w, err)
		return
	}
	pkg.JSON(w, http.StatusOK, msg)
}

// decodeSessionBody, body'yi dst'ye decode eder ve session id'yi path ile eşler.
// Body'de session id yoksa path'tekini kullanır; farklıysa 400 döner.
// false dönerse response zaten yazılmıştır.
func decodeSessionBody(w http.ResponseWriter, r *http.Request, dst any, sessionID *string) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return false
	}

	pathID := r.PathValue("id")
	switch *sessionID {
	case "":
		*sessionID = pathID
	case pathID:
	default:
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "session_id does not match path")
		return false
	}
	return true
}
