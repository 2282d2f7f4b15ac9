// Package main: Handler katmanı başlatma.
//
// initHandlers, tüm HTTP handler'larını oluşturur.
// Handler'lar "thin" dir: sadece HTTP parse + service call + response write.
package main

import (
	"time"

	"github.com/akinalp/stagecast/config"
	"github.com/akinalp/stagecast/handlers"
	"github.com/akinalp/stagecast/pkg/ratelimit"
	"github.com/akinalp/stagecast/ws"
)

// wsWriteWait, hub'ın tek bir frame'i yazmak için beklediği süre.
const wsWriteWait = 10 * time.Second

// Handlers, tüm handler instance'larını tutan container struct.
type Handlers struct {
	Chat          *handlers.ChatHandler
	SessionConfig *handlers.SessionConfigHandler
	Voice         *handlers.VoiceHandler
	Webhook       *handlers.WebhookHandler
	Stats         *handlers.StatsHandler
	WS            *ws.Handler
}

// initHandlers, tüm handler'ları oluşturur.
func initHandlers(svcs *Services, hub *ws.Hub, connectLimiter *ratelimit.ConnectRateLimiter, cfg *config.Config) *Handlers {
	limits := ws.Limits{
		PongWait:       cfg.Realtime.PongWait,
		WriteWait:      wsWriteWait,
		MaxMessageSize: cfg.Realtime.MaxMessageSize,
	}

	return &Handlers{
		Chat:          handlers.NewChatHandler(svcs.ChatHistory),
		SessionConfig: handlers.NewSessionConfigHandler(svcs.SessionConfig),
		Voice:         handlers.NewVoiceHandler(svcs.VoiceToken),
		Webhook:       handlers.NewWebhookHandler(svcs.Membership, cfg.LiveKit.APIKey, cfg.LiveKit.APISecret),
		Stats:         handlers.NewStatsHandler(hub),
		WS:            ws.NewHandler(hub, connectLimiter, limits, originChecker(cfg.CORS.AllowedOrigins)),
	}
}
