package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/akinalp/stagecast/models"
	"github.com/akinalp/stagecast/pkg"
	"github.com/akinalp/stagecast/services"
)

// VoiceHandler, LiveKit token endpoint'ini yönetir.
type VoiceHandler struct {
	tokens services.VoiceTokenService
}

// NewVoiceHandler, yeni bir VoiceHandler oluşturur.
func NewVoiceHandler(tokens services.VoiceTokenService) *VoiceHandler {
	return &VoiceHandler{tokens: tokens}
}

// Token, oturuma katılmak için LiveKit JWT token oluşturur.
//
//	POST /api/voice/token
//	Request:  { "session_id": "abc", "user_id": "u1", "name": "Ayşe", "is_host": true }
//	Response: { "token": "eyJ...", "url": "ws://localhost:7880", "session_id": "abc" }
//
// Host iddiasının kayıtlı host ile uyumu VoiceTokenService içinde kontrol edilir.
func (h *VoiceHandler) Token(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req models.VoiceTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.tokens.VoiceToken(r.Context(), req)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, resp)
}
