package models

import (
	"encoding/json"
	"time"
)

// ChannelState, broadcast kanalının bağlantı durumu.
type ChannelState string

const (
	ChannelConnecting ChannelState = "connecting"
	ChannelSubscribed ChannelState = "subscribed"
	ChannelErrored    ChannelState = "errored"
	ChannelTimedOut   ChannelState = "timed_out"
	ChannelClosed     ChannelState = "closed"
)

// NeedsRejoin, durumun yeniden bağlanma gerektirip gerektirmediği.
// ChannelClosed yalnızca kullanıcı kapattığında set edilir, rejoin tetiklemez.
func (s ChannelState) NeedsRejoin() bool {
	return s == ChannelErrored || s == ChannelTimedOut
}

// PublishRejection, sunucunun reddettiği bir yayın. Publish lokal olarak
// başarılı döndükten sonra gelir; Payload gönderilen ham payload'dur.
type PublishRejection struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Reason  string          `json:"reason"`
	// RetryAfter sıfırdan büyükse sunucu bu süre sonra tekrar kabul eder.
	RetryAfter time.Duration `json:"retry_after"`
}

// Retryable, reddin geçici olup olmadığı (rate limit).
func (r PublishRejection) Retryable() bool {
	return r.RetryAfter > 0
}

// SendFailure, sunucunun kalıcı olarak reddettiği ve tekrar denenmeyecek bir
// chat/reaction yayını. ID payload'un kendi id'sidir.
type SendFailure struct {
	Topic  string `json:"topic"`
	Event  string `json:"event"`
	ID     string `json:"id"`
	Reason string `json:"reason"`
}
