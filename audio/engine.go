// Package audio, host'un yerel ses grafiği için soyutlamalar ve headless
// (saat tabanlı) bir engine implementasyonu.
//
// Graf topolojisi:
//
//	backing track Source ──► music Gain ──► output (hoparlör)
//	mikrofon (fiziksel) ───────────────────► transport track
//
// Varsayılan tasarımda mikrofon backing track'i akustik olarak (veya loopback ile)
// yakalar; yayınlanan track'e dijital bir mix yapılmaz. Dijital mix yapabilen
// engine'ler MicMixer'ı implement eder.
package audio

import "context"

// Engine, ses işleme bağlamı (Context) üretir.
// NewContext yalnızca açık bir kullanıcı etkileşiminden sonra çağrılmalıdır
// (autoplay politikaları).
type Engine interface {
	NewContext(ctx context.Context) (Context, error)
}

// Context, tek bir ses işleme bağlamı. Host oturumu başına bir tane.
type Context interface {
	// LoadSource, URL'deki backing track'i yükler.
	LoadSource(ctx context.Context, url string) (Source, error)
	NewGain(value float64) (Gain, error)
	// Connect, src → gain → output zincirini kurar.
	Connect(src Source, gain Gain) error
	Close() error
}

// Source, çalınabilir bir ses kaynağı.
type Source interface {
	// Start, offset saniyesinden çalmaya başlar. Çalarken tekrar çağrılırsa
	// yeni offset'ten devam eder.
	Start(offset float64) error
	Stop()
	Playing() bool
	Position() float64
	// Duration saniye cinsinden; 0 = bilinmiyor.
	Duration() float64
	// OnEnded, kaynak sona ulaştığında bir kez çağrılır (Stop ile değil).
	OnEnded(fn func())
}

// Gain, [0,1] aralığında bir ses seviyesi düğümü.
type Gain interface {
	SetValue(v float64)
	Value() float64
}

// MicMixer, mikrofonu dijital olarak yayınlanan track'e mix edebilen
// engine'lerin implement ettiği opsiyonel interface.
type MicMixer interface {
	NewMicGain(actx Context, value float64) (Gain, error)
}
