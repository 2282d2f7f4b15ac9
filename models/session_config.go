package models

import (
	"fmt"
	"time"
)

// SessionConfig, oturumun kalıcı konfigürasyon satırı ("session_configs" tablosu).
//
// Geç katılan ya da broadcast'i kaçıran follower bu satırı okuyarak uzlaşır:
// hangi şarkı (SongURL + SongGen), çalıyor mu, ve PositionAt anındaki pozisyon.
type SessionConfig struct {
	SessionID       string    `json:"session_id"`
	HostID          string    `json:"host_id"`
	SongURL         string    `json:"song_url"`
	LyricsURL       string    `json:"lyrics_url"`
	SongGen         int64     `json:"song_gen"`
	MusicVolume     float64   `json:"music_volume"`
	MicVolume       float64   `json:"mic_volume"`
	IsLive          bool      `json:"is_live"`
	IsPlaying       bool      `json:"is_playing"`
	PositionSeconds float64   `json:"position_seconds"`
	PositionAt      time.Time `json:"position_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// DefaultVolume, yeni oturumlarda başlangıç volume'ü.
const DefaultVolume = 0.8

// NewSessionConfig, varsayılan değerlerle yeni bir satır.
func NewSessionConfig(sessionID, hostID string) SessionConfig {
	return SessionConfig{
		SessionID:   sessionID,
		HostID:      hostID,
		MusicVolume: DefaultVolume,
		MicVolume:   DefaultVolume,
	}
}

// PositionNow, satırdaki pozisyonu now'a göre ileri taşır.
// Çalmıyorsa kayıtlı pozisyon aynen döner.
func (c SessionConfig) PositionNow(now time.Time) float64 {
	if !c.IsPlaying || c.PositionAt.IsZero() {
		return c.PositionSeconds
	}
	elapsed := now.Sub(c.PositionAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	return c.PositionSeconds + elapsed
}

// Validate, PUT isteğiyle gelen satırı kontrol eder.
func (c *SessionConfig) Validate() error {
	if c.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if c.HostID == "" {
		return fmt.Errorf("host_id is required")
	}
	if c.PositionSeconds < 0 {
		return fmt.Errorf("position_seconds must not be negative")
	}
	c.MusicVolume = ClampVolume(c.MusicVolume)
	c.MicVolume = ClampVolume(c.MicVolume)
	return nil
}
