// Package main: WebSocket Hub callback wire-up.
//
// registerHubCallbacks, Hub'ın publish yetki kontrolünü ayarlar.
// Hub ws paketinde yaşar; host bilgisi session config satırındadır.
package main

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/akinalp/stagecast/models"
	"github.com/akinalp/stagecast/ws"
)

// hostLookupTimeout, publish başına host kontrolü için süre.
const hostLookupTimeout = 2 * time.Second

// hostChecker, services.SessionConfigService'in kullanılan kısmı.
type hostChecker interface {
	IsHost(ctx context.Context, sessionID, userID string) bool
}

// registerHubCallbacks, publish yetki kontrolünü bağlar.
//
// Playback event'lerini (playback_state, song_changed) yalnızca oturumun
// kayıtlı host'u yayınlayabilir. Satır henüz yoksa host ilk Start'ta
// satırı yazar; o ana kadar gelen playback yayınları reddedilir.
// Chat ve reaction herkese açıktır.
func registerHubCallbacks(hub *ws.Hub, configs hostChecker) {
	hub.OnAuthorizePublish(publishAuthorizer(configs))
}

func publishAuthorizer(configs hostChecker) ws.PublishAuthorizer {
	return func(userID, topic, event string) bool {
		if event != models.EventPlaybackState && event != models.EventSongChanged {
			return true
		}

		sessionID, ok := strings.CutPrefix(topic, models.SessionTopic(""))
		if !ok || sessionID == "" {
			return false
		}

		ctx, cancel := context.WithTimeout(context.Background(), hostLookupTimeout)
		defer cancel()

		if !configs.IsHost(ctx, sessionID, userID) {
			log.Warn().Str("module", "ws").
				Str("user_id", userID).
				Str("session_id", sessionID).
				Str("event", event).
				Msg("rejected playback publish from non-host")
			return false
		}
		return true
	}
}

// originChecker, WebSocket upgrade'inde CORS ile aynı origin listesini uygular.
// "*" tüm origin'leri kabul eder.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Tarayıcı dışı client'lar (headless host) Origin göndermez
		return origin == "" || slices.Contains(allowed, origin)
	}
}
