package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Prober, bir URL'deki backing track'in süresini/bitrate'ini çözer.
type Prober interface {
	Probe(ctx context.Context, url string) (*MP3Info, error)
}

// ClockEngine, ses çıkışı olmayan, saat tabanlı Engine.
//
// Pozisyon duvar saatinden hesaplanır (başlangıç offset'i + geçen süre);
// süre Prober ile MP3 header'ından tahmin edilir. Headless host'lar
// (bot, kayıt servisi) ve testler için kullanılır. MicMixer'ı implement etmez:
// mikrofon akustik yoldan yakalanır.
type ClockEngine struct {
	prober    Prober
	now       func() time.Time
	afterFunc func(time.Duration, func()) *time.Timer
}

// NewClockEngine, yeni bir ClockEngine oluşturur.
func NewClockEngine(prober Prober) *ClockEngine {
	return &ClockEngine{
		prober:    prober,
		now:       time.Now,
		afterFunc: time.AfterFunc,
	}
}

// NewContext, yeni bir saat bağlamı oluşturur.
func (e *ClockEngine) NewContext(ctx context.Context) (Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &clockContext{engine: e}, nil
}

// ─── Context ───

type clockContext struct {
	engine *ClockEngine

	mu      sync.Mutex
	sources []*clockSource
	closed  bool
}

var errContextClosed = errors.New("audio context closed")

func (c *clockContext) LoadSource(ctx context.Context, url string) (Source, error) {
	info, err := c.engine.prober.Probe(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to load backing track: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errContextClosed
	}

	src := &clockSource{
		duration:  info.Duration,
		now:       c.engine.now,
		afterFunc: c.engine.afterFunc,
	}
	c.sources = append(c.sources, src)

	log.Debug().Str("module", "audio").
		Str("url", url).
		Int("bitrate", info.Bitrate).
		Float64("duration", info.Duration).
		Msg("backing track loaded")
	return src, nil
}

func (c *clockContext) NewGain(value float64) (Gain, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errContextClosed
	}
	g := &gainNode{}
	g.SetValue(value)
	return g, nil
}

func (c *clockContext) Connect(src Source, gain Gain) error {
	if src == nil || gain == nil {
		return errors.New("source and gain are required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errContextClosed
	}
	return nil
}

// Close, bağlamdaki tüm kaynakları durdurur. İkinci çağrı no-op.
func (c *clockContext) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sources := c.sources
	c.sources = nil
	c.mu.Unlock()

	for _, s := range sources {
		s.Stop()
	}
	return nil
}

// ─── Source ───

type clockSource struct {
	duration  float64
	now       func() time.Time
	afterFunc func(time.Duration, func()) *time.Timer

	mu        sync.Mutex
	offset    float64
	startedAt time.Time
	playing   bool
	gen       int
	timer     *time.Timer
	ended     func()
}

func (s *clockSource) Start(offset float64) error {
	if offset < 0 {
		offset = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.duration > 0 && offset > s.duration {
		offset = s.duration
	}
	s.stopTimerLocked()
	s.gen++
	s.offset = offset
	s.startedAt = s.now()
	s.playing = true

	if s.duration > 0 {
		gen := s.gen
		remaining := time.Duration((s.duration - offset) * float64(time.Second))
		s.timer = s.afterFunc(remaining, func() { s.finish(gen) })
	}
	return nil
}

func (s *clockSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.playing {
		return
	}
	s.offset = s.positionLocked()
	s.playing = false
	s.gen++
	s.stopTimerLocked()
}

func (s *clockSource) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

func (s *clockSource) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionLocked()
}

func (s *clockSource) positionLocked() float64 {
	if !s.playing {
		return s.offset
	}
	pos := s.offset + s.now().Sub(s.startedAt).Seconds()
	if s.duration > 0 && pos > s.duration {
		pos = s.duration
	}
	return pos
}

func (s *clockSource) Duration() float64 { return s.duration }

func (s *clockSource) OnEnded(fn func()) {
	s.mu.Lock()
	s.ended = fn
	s.mu.Unlock()
}

func (s *clockSource) finish(gen int) {
	s.mu.Lock()
	if gen != s.gen || !s.playing {
		s.mu.Unlock()
		return
	}
	s.playing = false
	s.offset = s.duration
	s.timer = nil
	fn := s.ended
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (s *clockSource) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// ─── Gain ───

type gainNode struct {
	mu    sync.RWMutex
	value float64
}

func (g *gainNode) SetValue(v float64) {
	switch {
	case v != v || v < 0:
		v = 0
	case v > 1:
		v = 1
	}
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

func (g *gainNode) Value() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}
