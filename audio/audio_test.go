package audio

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MPEG-1 Layer III, 128 kbps, 44.1 kHz
var frameHeader = []byte{0xFF, 0xFB, 0x90, 0x64}

func mp3Bytes(size int, withID3 bool) []byte {
	var buf bytes.Buffer
	if withID3 {
		// 20 byte'lık tag gövdesi
		buf.Write([]byte{'I', 'D', '3', 4, 0, 0, 0, 0, 0, 20})
		buf.Write(make([]byte, 20))
	}
	buf.Write(make([]byte, 7))
	buf.Write(frameHeader)
	for buf.Len() < size {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func TestProbeMP3(t *testing.T) {
	data := mp3Bytes(16000, false)

	info, err := ProbeMP3(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, 128000, info.Bitrate)
	assert.Equal(t, 44100, info.SampleRate)
	assert.InDelta(t, 1.0, info.Duration, 0.001)
}

func TestProbeMP3SkipsID3(t *testing.T) {
	data := mp3Bytes(16030, true)

	info, err := ProbeMP3(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, 128000, info.Bitrate)
	assert.InDelta(t, 1.0, info.Duration, 0.001)
}

func TestProbeMP3UnknownSize(t *testing.T) {
	data := mp3Bytes(512, false)

	info, err := ProbeMP3(bytes.NewReader(data), 0)
	require.NoError(t, err)
	assert.Zero(t, info.Duration)
}

func TestProbeMP3NoFrame(t *testing.T) {
	_, err := ProbeMP3(bytes.NewReader(make([]byte, 4096)), 4096)
	assert.ErrorIs(t, err, ErrNoFrame)
}

// ─── Clock engine ───

type fakeProber struct {
	info *MP3Info
	err  error
}

func (p fakeProber) Probe(context.Context, string) (*MP3Info, error) {
	return p.info, p.err
}

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	fires []func()
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) AfterFunc(_ time.Duration, fn func()) *time.Timer {
	c.mu.Lock()
	c.fires = append(c.fires, fn)
	c.mu.Unlock()
	return time.NewTimer(time.Hour)
}

func (c *fakeClock) FireLast() {
	c.mu.Lock()
	fn := c.fires[len(c.fires)-1]
	c.mu.Unlock()
	fn()
}

func newTestEngine(duration float64) (*ClockEngine, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	e := NewClockEngine(fakeProber{info: &MP3Info{Bitrate: 128000, SampleRate: 44100, Duration: duration}})
	e.now = clock.Now
	e.afterFunc = clock.AfterFunc
	return e, clock
}

func TestClockSourcePosition(t *testing.T) {
	e, clock := newTestEngine(180)
	actx, err := e.NewContext(context.Background())
	require.NoError(t, err)

	src, err := actx.LoadSource(context.Background(), "https://cdn/song.mp3")
	require.NoError(t, err)
	assert.Equal(t, 180.0, src.Duration())

	require.NoError(t, src.Start(30))
	clock.Advance(12 * time.Second)
	assert.InDelta(t, 42, src.Position(), 0.001)

	src.Stop()
	clock.Advance(time.Minute)
	assert.False(t, src.Playing())
	assert.InDelta(t, 42, src.Position(), 0.001)

	// sondan büyük offset süreye kırpılır
	require.NoError(t, src.Start(500))
	assert.InDelta(t, 180, src.Position(), 0.001)
}

func TestClockSourceEnded(t *testing.T) {
	e, clock := newTestEngine(10)
	actx, _ := e.NewContext(context.Background())
	src, err := actx.LoadSource(context.Background(), "u")
	require.NoError(t, err)

	ended := 0
	src.OnEnded(func() { ended++ })

	require.NoError(t, src.Start(0))
	clock.FireLast()
	assert.Equal(t, 1, ended)
	assert.False(t, src.Playing())
	assert.Equal(t, 10.0, src.Position())

	// Stop sonrası eski timer'ın tetiklenmesi OnEnded çağırmaz
	require.NoError(t, src.Start(0))
	src.Stop()
	clock.FireLast()
	assert.Equal(t, 1, ended)
}

func TestClockContextClose(t *testing.T) {
	e, _ := newTestEngine(10)
	actx, _ := e.NewContext(context.Background())
	src, _ := actx.LoadSource(context.Background(), "u")
	require.NoError(t, src.Start(0))

	require.NoError(t, actx.Close())
	assert.False(t, src.Playing())
	require.NoError(t, actx.Close())

	_, err := actx.NewGain(0.5)
	assert.Error(t, err)
}

func TestGainClamp(t *testing.T) {
	g := &gainNode{}
	g.SetValue(1.7)
	assert.Equal(t, 1.0, g.Value())
	g.SetValue(-3)
	assert.Equal(t, 0.0, g.Value())
	g.SetValue(0.25)
	assert.Equal(t, 0.25, g.Value())
}

// ─── HTTP ───

func TestHTTPProber(t *testing.T) {
	data := mp3Bytes(32000, false)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	info, err := NewHTTPProber(5*time.Second).Probe(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, info.Duration, 0.001)
}

func TestHTTPLyricsFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.lrc" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("[00:01.00]first\n[00:05.50]second\n"))
	}))
	defer srv.Close()

	f := NewHTTPLyricsFetcher(5 * time.Second)

	sheet, err := f.Fetch(context.Background(), srv.URL+"/song.lrc")
	require.NoError(t, err)
	assert.Equal(t, 2, sheet.Len())

	_, err = f.Fetch(context.Background(), srv.URL+"/missing.lrc")
	assert.Error(t, err)

	empty, err := f.Fetch(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
}
