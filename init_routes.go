// Package main: HTTP route registration.
//
// initRoutes, tüm API endpoint'lerini mux'a bağlar. Kimlik doğrulama yoktur:
// kullanıcı id'si (kayıtlı id veya anonim cihaz id'si) client'tan gelir.
package main

import (
	"net/http"

	"github.com/akinalp/stagecast/middleware"
)

// initRoutes, tüm endpoint'leri mux'a bağlar.
//
// Route sıralama kuralı: Go 1.22 mux en spesifik pattern'i seçer, ama okunabilirlik
// için literal path'ler parametrik path'lerden önce yazılır.
func initRoutes(mux *http.ServeMux, h *Handlers, livekitEnabled bool) {
	// Health
	mux.HandleFunc("GET /api/health", h.Stats.Health)

	// Sessions: canlı liste, istatistik, config satırı
	mux.HandleFunc("GET /api/sessions", h.SessionConfig.ListLive)
	mux.HandleFunc("GET /api/sessions/{id}/stats", h.Stats.SessionStats)
	mux.HandleFunc("GET /api/sessions/{id}/config", h.SessionConfig.Get)
	mux.HandleFunc("PUT /api/sessions/{id}/config", h.SessionConfig.Put)

	// Chat: geçmiş, idempotent insert, reaction'lar
	mux.HandleFunc("GET /api/sessions/{id}/messages", h.Chat.ListMessages)
	mux.HandleFunc("POST /api/sessions/{id}/messages", h.Chat.CreateMessage)
	mux.HandleFunc("GET /api/sessions/{id}/reactions", h.Chat.ReactionCounts)
	mux.HandleFunc("POST /api/sessions/{id}/reactions", h.Chat.CreateReaction)
	mux.HandleFunc("GET /api/messages/{id}", h.Chat.GetMessage)

	// LiveKit: token ve webhook. Kimlik bilgileri yoksa 503 döner.
	gate := middleware.NewLiveKitGate(livekitEnabled)
	mux.Handle("POST /api/voice/token", gate.Require(http.HandlerFunc(h.Voice.Token)))
	mux.Handle("POST /api/livekit/webhook", gate.Require(http.HandlerFunc(h.Webhook.Receive)))

	// WebSocket: realtime hub
	mux.HandleFunc("GET /ws", h.WS.HandleConnection)
}
