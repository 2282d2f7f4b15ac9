// Package middleware, HTTP request pipeline'ına eklenen ara katmanları barındırır.
//
// Go'da middleware bir fonksiyondur:
//
//	func(next http.Handler) http.Handler
//
// Middleware kendi işini yapar, sonra next'i çağırır. Hata varsa next'i
// çağırmaz ve request burada durur.
//
// Zincir (main.go): CORS → Recover → RequestLogger → mux → Handler
package middleware

import (
	"net/http"

	"github.com/akinalp/stagecast/pkg"
)

// LiveKitGate, LiveKit kimlik bilgileri olmadan anlamsız olan endpoint'leri
// (token, webhook) kapatır.
//
// Kullanım:
//
//	gate := middleware.NewLiveKitGate(cfg.LiveKit.Enabled())
//	mux.Handle("POST /api/voice/token", gate.Require(http.HandlerFunc(h.Voice.Token)))
type LiveKitGate struct {
	enabled bool
}

// NewLiveKitGate, constructor.
func NewLiveKitGate(enabled bool) *LiveKitGate {
	return &LiveKitGate{enabled: enabled}
}

// Require, LiveKit yapılandırılmamışsa 503 döner.
func (g *LiveKitGate) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.enabled {
			pkg.ErrorWithMessage(w, http.StatusServiceUnavailable, "livekit is not configured")
			return
		}
		next.ServeHTTP(w, r)
	})
}
