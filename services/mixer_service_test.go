package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/stagecast/audio"
	"github.com/akinalp/stagecast/pkg"
)

// ─── Fake audio engine ───

type fakeEngine struct {
	mu       sync.Mutex
	contexts []*fakeAudioContext
	loadErr  error
}

func (e *fakeEngine) NewContext(context.Context) (audio.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := &fakeAudioContext{engine: e}
	e.contexts = append(e.contexts, c)
	return c, nil
}

func (e *fakeEngine) contextCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.contexts)
}

func (e *fakeEngine) last() *fakeAudioContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.contexts) == 0 {
		return nil
	}
	return e.contexts[len(e.contexts)-1]
}

// micEngine, dijital mic mix destekleyen engine.
type micEngine struct {
	fakeEngine
	micGains []*fakeGain
}

func (e *micEngine) NewMicGain(_ audio.Context, value float64) (audio.Gain, error) {
	g := &fakeGain{value: value}
	e.micGains = append(e.micGains, g)
	return g, nil
}

type fakeAudioContext struct {
	engine  *fakeEngine
	sources []*fakeSource
	gains   []*fakeGain
	closed  bool
}

func (c *fakeAudioContext) LoadSource(_ context.Context, url string) (audio.Source, error) {
	if c.engine.loadErr != nil {
		return nil, c.engine.loadErr
	}
	s := &fakeSource{url: url, duration: 180}
	c.sources = append(c.sources, s)
	return s, nil
}

func (c *fakeAudioContext) NewGain(value float64) (audio.Gain, error) {
	g := &fakeGain{value: value}
	c.gains = append(c.gains, g)
	return g, nil
}

func (c *fakeAudioContext) Connect(audio.Source, audio.Gain) error { return nil }

func (c *fakeAudioContext) Close() error {
	c.closed = true
	return nil
}

type fakeSource struct {
	url      string
	duration float64
	playing  bool
	pos      float64
	starts   []float64
	ended    func()
}

func (s *fakeSource) Start(offset float64) error {
	s.playing = true
	s.pos = offset
	s.starts = append(s.starts, offset)
	return nil
}

func (s *fakeSource) Stop()              { s.playing = false }
func (s *fakeSource) Playing() bool      { return s.playing }
func (s *fakeSource) Position() float64  { return s.pos }
func (s *fakeSource) Duration() float64  { return s.duration }
func (s *fakeSource) OnEnded(fn func())  { s.ended = fn }

type fakeGain struct{ value float64 }

func (g *fakeGain) SetValue(v float64) { g.value = v }
func (g *fakeGain) Value() float64     { return g.value }

// ─── Tests ───

func TestMixerDefersGraphUntilUnlock(t *testing.T) {
	engine := &fakeEngine{}
	m := NewAudioMixer(engine)
	ctx := context.Background()

	require.NoError(t, m.Setup(ctx, "https://cdn/a.mp3"))
	require.NoError(t, m.Play())
	require.NoError(t, m.Seek(12))
	assert.Equal(t, 0, engine.contextCount())
	assert.False(t, m.Unlocked())

	require.NoError(t, m.Unlock(ctx))
	require.Equal(t, 1, engine.contextCount())

	src := engine.last().sources[0]
	assert.Equal(t, "https://cdn/a.mp3", src.url)
	assert.True(t, src.playing)
	assert.Equal(t, []float64{12}, src.starts)
	assert.True(t, m.Playing())
}

func TestMixerSetupIsIdempotent(t *testing.T) {
	engine := &fakeEngine{}
	m := NewAudioMixer(engine)
	ctx := context.Background()
	require.NoError(t, m.Unlock(ctx))

	require.NoError(t, m.Setup(ctx, "https://cdn/a.mp3"))
	require.NoError(t, m.Setup(ctx, "https://cdn/a.mp3"))

	require.Equal(t, 1, engine.contextCount())
	assert.Len(t, engine.last().sources, 1)
}

func TestMixerTrackSwitchClosesPreviousGraph(t *testing.T) {
	engine := &fakeEngine{}
	m := NewAudioMixer(engine)
	ctx := context.Background()
	require.NoError(t, m.Unlock(ctx))

	require.NoError(t, m.Setup(ctx, "https://cdn/a.mp3"))
	require.NoError(t, m.Play())
	first := engine.last()

	require.NoError(t, m.Setup(ctx, "https://cdn/b.mp3"))
	assert.True(t, first.closed)
	assert.False(t, first.sources[0].playing)

	require.Equal(t, 2, engine.contextCount())
	assert.Equal(t, "https://cdn/b.mp3", engine.last().sources[0].url)
	assert.False(t, m.Playing())

	// Eski kaynağın ended callback'i yeni parçayı etkilemez
	var ended int
	m.OnEnded(func() { ended++ })
	first.sources[0].ended()
	assert.Equal(t, 0, ended)
}

func TestMixerEndedNotifiesListeners(t *testing.T) {
	engine := &fakeEngine{}
	m := NewAudioMixer(engine)
	ctx := context.Background()
	require.NoError(t, m.Unlock(ctx))
	require.NoError(t, m.Setup(ctx, "https://cdn/a.mp3"))
	require.NoError(t, m.Play())

	var ended int
	remove := m.OnEnded(func() { ended++ })
	engine.last().sources[0].ended()

	assert.Equal(t, 1, ended)
	assert.False(t, m.Playing())
	assert.Equal(t, 180.0, m.Position())

	remove()
	engine.last().sources[0].ended()
	assert.Equal(t, 1, ended)
}

func TestMixerPauseKeepsOffset(t *testing.T) {
	engine := &fakeEngine{}
	m := NewAudioMixer(engine)
	ctx := context.Background()
	require.NoError(t, m.Unlock(ctx))
	require.NoError(t, m.Setup(ctx, "https://cdn/a.mp3"))
	require.NoError(t, m.Play())

	src := engine.last().sources[0]
	src.pos = 33
	require.NoError(t, m.Pause())
	assert.Equal(t, 33.0, m.Position())

	require.NoError(t, m.Play())
	assert.Equal(t, []float64{0, 33}, src.starts)
}

func TestMixerPlayWithoutTrack(t *testing.T) {
	m := NewAudioMixer(&fakeEngine{})
	assert.ErrorIs(t, m.Play(), pkg.ErrBadRequest)
	assert.ErrorIs(t, m.Setup(context.Background(), ""), pkg.ErrBadRequest)
	assert.ErrorIs(t, m.Seek(-1), pkg.ErrBadRequest)
}

func TestMixerLoadError(t *testing.T) {
	engine := &fakeEngine{loadErr: errors.New("404")}
	m := NewAudioMixer(engine)
	ctx := context.Background()
	require.NoError(t, m.Unlock(ctx))

	assert.Error(t, m.Setup(ctx, "https://cdn/missing.mp3"))

	// yüklenemeyen parça çalınamaz
	assert.ErrorIs(t, m.Play(), pkg.ErrBadRequest)
	assert.False(t, m.Playing())

	// aynı url ile tekrar Setup yüklemeyi yeniden dener
	engine.loadErr = nil
	require.NoError(t, m.Setup(ctx, "https://cdn/missing.mp3"))
	require.NoError(t, m.Play())
	assert.True(t, m.Playing())
}

func TestMixerVolumeClamp(t *testing.T) {
	engine := &fakeEngine{}
	m := NewAudioMixer(engine)
	ctx := context.Background()
	require.NoError(t, m.Unlock(ctx))
	require.NoError(t, m.Setup(ctx, "https://cdn/a.mp3"))

	require.NoError(t, m.SetMusicVolume(1.7))
	gain := engine.last().gains[0]
	assert.Equal(t, 1.0, gain.Value())

	require.NoError(t, m.SetVolume(-0.2))
	assert.Equal(t, 0.0, gain.Value())
}

func TestMixerMicVolumeNotSupported(t *testing.T) {
	m := NewAudioMixer(&fakeEngine{})

	err := m.SetMicVolume(0.5)
	assert.ErrorIs(t, err, pkg.ErrNotSupported)
}

func TestMixerMicVolumeWithMicMixer(t *testing.T) {
	engine := &micEngine{}
	m := NewAudioMixer(engine)
	ctx := context.Background()
	require.NoError(t, m.Unlock(ctx))
	require.NoError(t, m.Setup(ctx, "https://cdn/a.mp3"))

	require.NoError(t, m.SetMicVolume(0.3))
	require.Len(t, engine.micGains, 1)
	assert.Equal(t, 0.3, engine.micGains[0].Value())
}

func TestMixerTeardown(t *testing.T) {
	engine := &fakeEngine{}
	m := NewAudioMixer(engine)
	ctx := context.Background()
	require.NoError(t, m.Unlock(ctx))
	require.NoError(t, m.Setup(ctx, "https://cdn/a.mp3"))

	m.Teardown()
	assert.True(t, engine.last().closed)
	assert.ErrorIs(t, m.Play(), pkg.ErrBadRequest)
}
