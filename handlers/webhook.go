package handlers

import (
	"context"
	"net/http"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/webhook"
	"github.com/rs/zerolog/log"

	"github.com/akinalp/stagecast/services"
)

// webhookReceiver, imzası doğrulanmış webhook event'i çıkarır.
// Testler imza yerine sabit event döndüren bir fonksiyon verir.
type webhookReceiver func(r *http.Request) (*livekit.WebhookEvent, error)

// WebhookHandler, LiveKit webhook'larını MembershipService'e iletir.
type WebhookHandler struct {
	membership services.MembershipService
	receive    webhookReceiver
}

// NewWebhookHandler, LiveKit API key/secret ile imza doğrulayan handler oluşturur.
func NewWebhookHandler(membership services.MembershipService, apiKey, apiSecret string) *WebhookHandler {
	provider := auth.NewSimpleKeyProvider(apiKey, apiSecret)
	return &WebhookHandler{
		membership: membership,
		receive: func(r *http.Request) (*livekit.WebhookEvent, error) {
			return webhook.ReceiveWebhookEvent(r, provider)
		},
	}
}

// Receive godoc
// POST /api/livekit/webhook
// Authorization header'ı LiveKit'in imzaladığı JWT'dir; body sha256'sı token'da taşınır.
// Event işlemesi isteğin ömrüne bağlı değildir; LiveKit hızlı 200 bekler.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	event, err := h.receive(r)
	if err != nil {
		log.Warn().Str("module", "webhook").Err(err).Msg("rejected livekit webhook")
		http.Error(w, "invalid webhook", http.StatusUnauthorized)
		return
	}

	h.membership.HandleWebhook(context.WithoutCancel(r.Context()), event)
	w.WriteHeader(http.StatusOK)
}
