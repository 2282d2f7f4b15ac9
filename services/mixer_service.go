package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/akinalp/stagecast/audio"
	"github.com/akinalp/stagecast/models"
	"github.com/akinalp/stagecast/pkg"
)

// ─── AudioMixer Interface ───

// AudioMixer, host'un yerel ses grafiği (bkz. audio paketi).
//
// Setup kullanıcı etkileşiminden önce de çağrılabilir: Unlock gelene kadar
// hiçbir node oluşturulmaz, url/çalma isteği/offset saklanır ve Unlock'ta
// uygulanır. Parça değişince önceki graf (context dahil) kapatılır.
type AudioMixer interface {
	Player
	MicVolumeController

	// Setup, backing track'i hazırlar. Aynı url ile tekrar çağrılırsa no-op.
	Setup(ctx context.Context, url string) error
	// Teardown, grafı ve context'i kapatır.
	Teardown()
	SetMusicVolume(v float64) error
	// Unlock, kullanıcı etkileşimi sonrası çağrılır ve bekleyen grafı kurar.
	Unlock(ctx context.Context) error
	Unlocked() bool
}

// ─── Implementasyon ───

type audioMixer struct {
	engine audio.Engine

	mu          sync.Mutex
	unlocked    bool
	url         string
	wantPlaying bool
	offset      float64
	musicVolume float64
	micVolume   float64

	actx    audio.Context
	src     audio.Source
	music   audio.Gain
	mic     audio.Gain
	gen     int
	loadErr error

	endedListeners map[int]func()
	nextID         int
}

// NewAudioMixer, yeni bir AudioMixer oluşturur.
func NewAudioMixer(engine audio.Engine) AudioMixer {
	return &audioMixer{
		engine:         engine,
		musicVolume:    models.DefaultVolume,
		micVolume:      models.DefaultVolume,
		endedListeners: make(map[int]func()),
	}
}

func (m *audioMixer) Setup(ctx context.Context, url string) error {
	if url == "" {
		return fmt.Errorf("%w: backing track url is required", pkg.ErrBadRequest)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if url == m.url && (m.src != nil || !m.unlocked) {
		return nil
	}
	if url != m.url {
		m.teardownLocked()
		m.url = url
		m.offset = 0
		m.wantPlaying = false
	}
	if !m.unlocked {
		log.Debug().Str("module", "audio").Str("url", url).Msg("audio locked, graph deferred")
		return nil
	}
	return m.buildLocked(ctx)
}

func (m *audioMixer) Load(ctx context.Context, url string) error { return m.Setup(ctx, url) }

func (m *audioMixer) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.teardownLocked()
	m.url = ""
	m.offset = 0
	m.wantPlaying = false
}

func (m *audioMixer) Unlock(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unlocked {
		return nil
	}
	m.unlocked = true
	if m.url == "" {
		return nil
	}
	return m.buildLocked(ctx)
}

func (m *audioMixer) Unlocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked
}

// buildLocked, source → music gain → output zincirini kurar. Yükleme hatası
// oturum için fatal değildir; çağıran uyarı olarak loglar. Hata loadErr'de
// saklanır ve aynı url için Setup tekrar çağrılana kadar Play reddedilir.
func (m *audioMixer) buildLocked(ctx context.Context) error {
	m.loadErr = m.build(ctx)
	return m.loadErr
}

func (m *audioMixer) build(ctx context.Context) error {
	if m.actx == nil {
		actx, err := m.engine.NewContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to create audio context: %w", err)
		}
		m.actx = actx
	}

	src, err := m.actx.LoadSource(ctx, m.url)
	if err != nil {
		return err
	}
	music, err := m.actx.NewGain(m.musicVolume)
	if err != nil {
		return fmt.Errorf("failed to create music gain: %w", err)
	}
	if err := m.actx.Connect(src, music); err != nil {
		return fmt.Errorf("failed to connect audio graph: %w", err)
	}
	if mixer, ok := m.engine.(audio.MicMixer); ok {
		mic, err := mixer.NewMicGain(m.actx, m.micVolume)
		if err != nil {
			log.Warn().Str("module", "audio").Err(err).Msg("failed to create mic gain")
		} else {
			m.mic = mic
		}
	}

	m.gen++
	gen := m.gen
	src.OnEnded(func() { m.ended(gen) })
	m.src = src
	m.music = music

	if m.wantPlaying {
		if err := src.Start(m.offset); err != nil {
			return fmt.Errorf("failed to start playback: %w", err)
		}
	}
	return nil
}

func (m *audioMixer) teardownLocked() {
	m.gen++
	if m.src != nil {
		m.src.Stop()
	}
	if m.actx != nil {
		if err := m.actx.Close(); err != nil {
			log.Warn().Str("module", "audio").Err(err).Msg("failed to close audio context")
		}
	}
	m.actx, m.src, m.music, m.mic = nil, nil, nil, nil
	m.loadErr = nil
}

func (m *audioMixer) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.url == "" {
		return fmt.Errorf("%w: no backing track loaded", pkg.ErrBadRequest)
	}
	// Kilitliyken istek saklanır; açıkken source yoksa yükleme başarısız olmuştur
	if m.unlocked && m.src == nil {
		if m.loadErr != nil {
			return fmt.Errorf("%w: backing track not loaded: %v", pkg.ErrBadRequest, m.loadErr)
		}
		return fmt.Errorf("%w: backing track not loaded", pkg.ErrBadRequest)
	}
	m.wantPlaying = true
	if m.src == nil {
		return nil
	}
	return m.src.Start(m.offset)
}

func (m *audioMixer) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.src != nil && m.wantPlaying {
		m.offset = m.src.Position()
		m.src.Stop()
	}
	m.wantPlaying = false
	return nil
}

func (m *audioMixer) Seek(seconds float64) error {
	if seconds < 0 {
		return fmt.Errorf("%w: position must not be negative", pkg.ErrBadRequest)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.offset = seconds
	if m.src != nil && m.wantPlaying {
		return m.src.Start(seconds)
	}
	return nil
}

func (m *audioMixer) Position() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.src != nil && m.wantPlaying {
		return m.src.Position()
	}
	return m.offset
}

func (m *audioMixer) Playing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wantPlaying
}

func (m *audioMixer) SetVolume(v float64) error { return m.SetMusicVolume(v) }

func (m *audioMixer) SetMusicVolume(v float64) error {
	v = models.ClampVolume(v)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.musicVolume = v
	if m.music != nil {
		m.music.SetValue(v)
	}
	return nil
}

// errAcousticMic, dijital mic kontrolü olmayan engine'lerde döner.
var errAcousticMic = errors.New("microphone is captured acoustically, its gain cannot be controlled")

func (m *audioMixer) SetMicVolume(v float64) error {
	v = models.ClampVolume(v)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.engine.(audio.MicMixer); !ok {
		log.Warn().Str("module", "audio").Float64("volume", v).Msg("mic volume is not controllable")
		return fmt.Errorf("%w: %v", pkg.ErrNotSupported, errAcousticMic)
	}

	m.micVolume = v
	if m.mic != nil {
		m.mic.SetValue(v)
	}
	return nil
}

func (m *audioMixer) OnEnded(fn func()) (remove func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.endedListeners[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.endedListeners, id)
		m.mu.Unlock()
	}
}

func (m *audioMixer) ended(gen int) {
	m.mu.Lock()
	if gen != m.gen || m.src == nil {
		m.mu.Unlock()
		return
	}
	m.wantPlaying = false
	m.offset = m.src.Duration()

	listeners := make([]func(), 0, len(m.endedListeners))
	for _, fn := range m.endedListeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}
