package services

import (
	"context"

	"github.com/akinalp/stagecast/pkg/lyrics"
)

// Player, yerel ses çalıcı. Host'ta AudioMixer, follower'da da kendi
// AudioMixer instance'ı (ya da platformun audio element'i) karşılar.
type Player interface {
	// Load, parçayı yükler; önceki parça bırakılır.
	Load(ctx context.Context, url string) error
	Play() error
	Pause() error
	// Seek, mutlak pozisyona atlar (saniye). Çalma durumu değişmez.
	Seek(seconds float64) error
	SetVolume(v float64) error
	Position() float64
	Playing() bool
	// OnEnded, parça sona ulaştığında çağrılır.
	OnEnded(fn func()) (remove func())
}

// MicVolumeController, mikrofon seviyesini kontrol edebilen player'lar.
type MicVolumeController interface {
	SetMicVolume(v float64) error
}

// LyricsFetcher, LRC dosyasını indirip parse eder. audio.HTTPLyricsFetcher karşılar.
type LyricsFetcher interface {
	Fetch(ctx context.Context, url string) (*lyrics.Sheet, error)
}
