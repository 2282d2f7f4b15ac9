package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/stagecast/models"
	"github.com/akinalp/stagecast/pkg"
	"github.com/akinalp/stagecast/pkg/lyrics"
)

const testLRC = `[ar:Test]
[00:00.00]intro
[00:10.00]first verse
[00:20.00]chorus
[00:30.00]outro
`

func quietPlaybackConfig() PlaybackConfig {
	return PlaybackConfig{HeartbeatInterval: time.Hour, MaxPublishRate: 100, LyricsPreview: 2}
}

// ─── Sıra kaydedici ───

type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) add(op string) {
	l.mu.Lock()
	l.ops = append(l.ops, op)
	l.mu.Unlock()
}

func (l *opLog) reset() {
	l.mu.Lock()
	l.ops = nil
	l.mu.Unlock()
}

func (l *opLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

type recPlayer struct {
	*fakePlayer
	log *opLog
}

func (p recPlayer) Play() error {
	p.log.add("player:play")
	return p.fakePlayer.Play()
}

func (p recPlayer) Pause() error {
	p.log.add("player:pause")
	return p.fakePlayer.Pause()
}

func (p recPlayer) Seek(s float64) error {
	p.log.add("player:seek")
	return p.fakePlayer.Seek(s)
}

type recChannel struct {
	*fakeChannel
	log *opLog
}

func (c recChannel) Publish(ctx context.Context, topic, event string, payload any) error {
	c.log.add("publish:" + event)
	return c.fakeChannel.Publish(ctx, topic, event, payload)
}

type recStore struct {
	*fakeStore
	log *opLog
}

func (s recStore) UpsertSessionConfig(ctx context.Context, cfg *models.SessionConfig) error {
	s.log.add("persist")
	return s.fakeStore.UpsertSessionConfig(ctx, cfg)
}

// micPlayer, mikrofon kontrolü sunan player.
type micPlayer struct {
	*fakePlayer
	mic float64
}

func (p *micPlayer) SetMicVolume(v float64) error {
	p.mic = v
	return nil
}

func decodePlayback(t *testing.T, p published) models.PlaybackEvent {
	t.Helper()
	var ev models.PlaybackEvent
	require.NoError(t, json.Unmarshal(p.Payload, &ev))
	return ev
}

// ─── Host ───

func TestHostOperationOrder(t *testing.T) {
	log := &opLog{}
	player := newFakePlayer()
	channel := newFakeChannel("host", models.ChannelSubscribed)
	store := newFakeStore()
	h := NewPlaybackHost("s1", "host", recPlayer{player, log}, recChannel{channel, log}, recStore{store, log}, nil, quietPlaybackConfig())
	ctx := context.Background()

	require.NoError(t, h.Start(ctx))
	defer h.Close(ctx)
	require.NoError(t, h.SongChange(ctx, "https://cdn/a.mp3", ""))

	log.reset()
	require.NoError(t, h.Play(ctx))
	assert.Equal(t, []string{"player:play", "publish:playback_state", "persist"}, log.list())

	log.reset()
	require.NoError(t, h.Seek(ctx, 15))
	assert.Equal(t, []string{"player:seek", "publish:playback_state", "persist"}, log.list())

	log.reset()
	require.NoError(t, h.Pause(ctx))
	assert.Equal(t, []string{"player:pause", "publish:playback_state", "persist"}, log.list())

	row, err := store.GetSessionConfig(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, row.IsPlaying)
	assert.Equal(t, 15.0, row.PositionSeconds)
	assert.True(t, row.IsLive)
}

func TestHostSongChangeIncrementsGen(t *testing.T) {
	player := newFakePlayer()
	channel := newFakeChannel("host", models.ChannelSubscribed)
	store := newFakeStore()
	store.configs["s1"] = models.SessionConfig{SessionID: "s1", HostID: "host", SongGen: 4, MusicVolume: 0.5}
	h := NewPlaybackHost("s1", "host", player, channel, store, fakeLyrics{"https://cdn/a.lrc": lyrics.ParseString(testLRC)}, quietPlaybackConfig())
	ctx := context.Background()

	require.NoError(t, h.Start(ctx))
	defer h.Close(ctx)
	require.NoError(t, h.SongChange(ctx, "https://cdn/a.mp3", "https://cdn/a.lrc"))

	changed := channel.publishedEvents(models.EventSongChanged)
	require.Len(t, changed, 1)
	var ev models.SongChangedEvent
	require.NoError(t, json.Unmarshal(changed[0].Payload, &ev))
	assert.Equal(t, int64(5), ev.SongGen)
	assert.Equal(t, "https://cdn/a.lrc", ev.LyricsURL)

	url, playing, _, _ := player.snapshot()
	assert.Equal(t, "https://cdn/a.mp3", url)
	assert.False(t, playing)

	row, err := store.GetSessionConfig(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), row.SongGen)
	assert.Equal(t, 0.5, row.MusicVolume)

	require.NoError(t, player.Seek(12))
	line, ok := h.CurrentLyric()
	require.True(t, ok)
	assert.Equal(t, "first verse", line.Text)
	assert.Len(t, h.UpcomingLyrics(), 2)
}

func TestHostPlayRequiresSong(t *testing.T) {
	h := NewPlaybackHost("s1", "host", newFakePlayer(), newFakeChannel("host", models.ChannelSubscribed), newFakeStore(), nil, quietPlaybackConfig())
	ctx := context.Background()
	require.NoError(t, h.Start(ctx))
	defer h.Close(ctx)

	assert.ErrorIs(t, h.Play(ctx), pkg.ErrBadRequest)
	assert.ErrorIs(t, h.Seek(ctx, -3), pkg.ErrBadRequest)
	assert.ErrorIs(t, h.SongChange(ctx, "", ""), pkg.ErrBadRequest)
}

func TestHostPublishFailureStillPersists(t *testing.T) {
	channel := newFakeChannel("host", models.ChannelErrored)
	store := newFakeStore()
	h := NewPlaybackHost("s1", "host", newFakePlayer(), channel, store, nil, quietPlaybackConfig())
	ctx := context.Background()

	require.NoError(t, h.Start(ctx))
	defer h.Close(ctx)
	require.NoError(t, h.SongChange(ctx, "https://cdn/a.mp3", ""))
	require.NoError(t, h.Play(ctx))

	row, err := store.GetSessionConfig(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, row.IsPlaying)
	assert.Empty(t, channel.publishedEvents(""))
}

func TestHostPersistFailureReturnsError(t *testing.T) {
	store := newFakeStore()
	h := NewPlaybackHost("s1", "host", newFakePlayer(), newFakeChannel("host", models.ChannelSubscribed), store, nil, quietPlaybackConfig())
	ctx := context.Background()
	require.NoError(t, h.Start(ctx))
	defer func() {
		store.setWriteErr(nil)
		_ = h.Close(ctx)
	}()
	require.NoError(t, h.SongChange(ctx, "https://cdn/a.mp3", ""))

	store.setWriteErr(assert.AnError)
	assert.ErrorIs(t, h.Play(ctx), assert.AnError)
}

func TestHostMicVolumeNotSupported(t *testing.T) {
	channel := newFakeChannel("host", models.ChannelSubscribed)
	h := NewPlaybackHost("s1", "host", newFakePlayer(), channel, newFakeStore(), nil, quietPlaybackConfig())
	ctx := context.Background()
	require.NoError(t, h.Start(ctx))
	defer h.Close(ctx)

	before := len(channel.publishedEvents(models.EventPlaybackState))
	assert.ErrorIs(t, h.SetMicVolume(ctx, 0.4), pkg.ErrNotSupported)
	assert.Len(t, channel.publishedEvents(models.EventPlaybackState), before)
}

func TestHostMicVolumeWithController(t *testing.T) {
	player := &micPlayer{fakePlayer: newFakePlayer()}
	store := newFakeStore()
	h := NewPlaybackHost("s1", "host", player, newFakeChannel("host", models.ChannelSubscribed), store, nil, quietPlaybackConfig())
	ctx := context.Background()
	require.NoError(t, h.Start(ctx))
	defer h.Close(ctx)

	require.NoError(t, h.SetMicVolume(ctx, 1.5))
	assert.Equal(t, 1.0, player.mic)
	assert.Equal(t, 1.0, h.State().MicVolume)

	require.NoError(t, h.SetMusicVolume(ctx, 0.25))
	row, err := store.GetSessionConfig(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0.25, row.MusicVolume)
}

func TestHostEndOfTrackWithoutQueue(t *testing.T) {
	player := newFakePlayer()
	store := newFakeStore()
	h := NewPlaybackHost("s1", "host", player, newFakeChannel("host", models.ChannelSubscribed), store, nil, quietPlaybackConfig())
	ctx := context.Background()
	require.NoError(t, h.Start(ctx))
	defer h.Close(ctx)
	require.NoError(t, h.SongChange(ctx, "https://cdn/a.mp3", ""))
	require.NoError(t, h.Play(ctx))

	player.finish()

	require.Eventually(t, func() bool { return h.State().EndOfTrack }, time.Second, time.Millisecond)
	assert.False(t, h.State().IsPlaying)

	// Tekrar play baştan başlar
	require.NoError(t, h.Play(ctx))
	_, playing, pos, _ := player.snapshot()
	assert.True(t, playing)
	assert.Equal(t, 0.0, pos)
	assert.False(t, h.State().EndOfTrack)
}

func TestHostEndOfTrackAdvancesQueue(t *testing.T) {
	player := newFakePlayer()
	channel := newFakeChannel("host", models.ChannelSubscribed)
	h := NewPlaybackHost("s1", "host", player, channel, newFakeStore(), nil, quietPlaybackConfig())
	ctx := context.Background()
	require.NoError(t, h.Start(ctx))
	defer h.Close(ctx)
	require.NoError(t, h.SongChange(ctx, "https://cdn/a.mp3", ""))
	require.NoError(t, h.Play(ctx))

	h.Enqueue(models.Song{URL: "https://cdn/b.mp3"})
	h.Enqueue(models.Song{})
	require.Len(t, h.Queue(), 1)

	player.finish()

	require.Eventually(t, func() bool {
		url, playing, _, _ := player.snapshot()
		return url == "https://cdn/b.mp3" && playing
	}, time.Second, time.Millisecond)
	assert.Empty(t, h.Queue())

	changed := channel.publishedEvents(models.EventSongChanged)
	require.Len(t, changed, 2)
}

func TestHostEndOfTrackAfterCloseIsIgnored(t *testing.T) {
	player := newFakePlayer()
	channel := newFakeChannel("host", models.ChannelSubscribed)
	h := NewPlaybackHost("s1", "host", player, channel, newFakeStore(), nil, quietPlaybackConfig()).(*playbackHost)
	ctx := context.Background()
	require.NoError(t, h.Start(ctx))
	require.NoError(t, h.SongChange(ctx, "https://cdn/a.mp3", ""))
	h.Enqueue(models.Song{URL: "https://cdn/b.mp3"})
	require.NoError(t, h.Close(ctx))

	// Close'dan sonra gelen parça sonu sırayı ilerletmez
	require.NoError(t, h.advance(ctx))

	url, playing, _, _ := player.snapshot()
	assert.Equal(t, "https://cdn/a.mp3", url)
	assert.False(t, playing)
	assert.Len(t, h.Queue(), 1)
	assert.Len(t, channel.publishedEvents(models.EventSongChanged), 1)
}

func TestHostHeartbeatPublishesWhilePlaying(t *testing.T) {
	channel := newFakeChannel("host", models.ChannelSubscribed)
	cfg := PlaybackConfig{HeartbeatInterval: 5 * time.Millisecond, MaxPublishRate: 1000}
	h := NewPlaybackHost("s1", "host", newFakePlayer(), channel, newFakeStore(), nil, cfg)
	ctx := context.Background()
	require.NoError(t, h.Start(ctx))
	defer h.Close(ctx)

	// Duraklatılmışken heartbeat yok
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, channel.publishedEvents(models.EventPlaybackState))

	require.NoError(t, h.SongChange(ctx, "https://cdn/a.mp3", ""))
	require.NoError(t, h.Play(ctx))
	base := len(channel.publishedEvents(models.EventPlaybackState))

	require.Eventually(t, func() bool {
		return len(channel.publishedEvents(models.EventPlaybackState)) > base+2
	}, time.Second, time.Millisecond)
}

func TestHostCloseMarksNotLive(t *testing.T) {
	store := newFakeStore()
	h := NewPlaybackHost("s1", "host", newFakePlayer(), newFakeChannel("host", models.ChannelSubscribed), store, nil, quietPlaybackConfig())
	ctx := context.Background()
	require.NoError(t, h.Start(ctx))
	require.NoError(t, h.Close(ctx))
	require.NoError(t, h.Close(ctx))

	row, err := store.GetSessionConfig(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, row.IsLive)
}

// ─── Follower ───

func deliverJSON(t *testing.T, c *fakeChannel, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	c.deliver(models.SessionTopic("s1"), event, raw, "host")
}

func newTestFollower(t *testing.T, store SessionConfigStore, lf LyricsFetcher) (PlaybackFollower, *fakePlayer, *fakeChannel) {
	t.Helper()
	player := newFakePlayer()
	channel := newFakeChannel("guest", models.ChannelSubscribed)
	f := NewPlaybackFollower("s1", player, channel, store, lf, quietPlaybackConfig())
	require.NoError(t, f.Start(context.Background()))
	t.Cleanup(f.Close)
	return f, player, channel
}

func TestFollowerLastReceivedWins(t *testing.T) {
	f, player, channel := newTestFollower(t, newFakeStore(), nil)

	deliverJSON(t, channel, models.EventSongChanged, models.SongChangedEvent{SongGen: 1, SongURL: "A"})
	deliverJSON(t, channel, models.EventPlaybackState, models.PlaybackEvent{SongGen: 1, SongURL: "A", State: models.PlaybackState{PositionSeconds: 10, IsPlaying: true}})
	deliverJSON(t, channel, models.EventPlaybackState, models.PlaybackEvent{SongGen: 1, SongURL: "A", State: models.PlaybackState{PositionSeconds: 4, IsPlaying: true}})

	_, playing, pos, loads := player.snapshot()
	assert.Equal(t, 4.0, pos)
	assert.True(t, playing)
	assert.Equal(t, []string{"A"}, loads)
	assert.Equal(t, 4.0, f.State().PositionSeconds)
}

func TestFollowerIgnoresStaleSongGen(t *testing.T) {
	f, player, channel := newTestFollower(t, newFakeStore(), nil)

	deliverJSON(t, channel, models.EventPlaybackState, models.PlaybackEvent{SongGen: 2, SongURL: "B", State: models.PlaybackState{PositionSeconds: 5}})
	deliverJSON(t, channel, models.EventPlaybackState, models.PlaybackEvent{SongGen: 1, SongURL: "A", State: models.PlaybackState{PositionSeconds: 99, IsPlaying: true}})

	url, playing, pos, _ := player.snapshot()
	assert.Equal(t, "B", url)
	assert.False(t, playing)
	assert.Equal(t, 5.0, pos)
	assert.Equal(t, int64(2), f.SongGen())
}

func TestFollowerReloadsOnSongChange(t *testing.T) {
	lf := fakeLyrics{"B.lrc": lyrics.ParseString(testLRC)}
	f, player, channel := newTestFollower(t, newFakeStore(), lf)

	deliverJSON(t, channel, models.EventPlaybackState, models.PlaybackEvent{SongGen: 1, SongURL: "A", State: models.PlaybackState{PositionSeconds: 50, IsPlaying: true}})
	deliverJSON(t, channel, models.EventSongChanged, models.SongChangedEvent{SongGen: 2, SongURL: "B", LyricsURL: "B.lrc"})

	url, playing, pos, loads := player.snapshot()
	assert.Equal(t, "B", url)
	assert.False(t, playing)
	assert.Equal(t, 0.0, pos)
	assert.Equal(t, []string{"A", "B"}, loads)
	assert.Equal(t, "B", f.SongURL())

	deliverJSON(t, channel, models.EventPlaybackState, models.PlaybackEvent{SongGen: 2, SongURL: "B", State: models.PlaybackState{PositionSeconds: 21, IsPlaying: true}})
	line, ok := f.CurrentLyric()
	require.True(t, ok)
	assert.Equal(t, "chorus", line.Text)
}

func TestFollowerPlaybackStateBeforeSongChangedFetchesLyricsLater(t *testing.T) {
	lf := fakeLyrics{"A.lrc": lyrics.ParseString(testLRC)}
	f, player, channel := newTestFollower(t, newFakeStore(), lf)

	deliverJSON(t, channel, models.EventPlaybackState, models.PlaybackEvent{SongGen: 1, SongURL: "A", State: models.PlaybackState{PositionSeconds: 11, IsPlaying: true}})
	_, ok := f.CurrentLyric()
	assert.False(t, ok)

	// Aynı gen için song_changed: parça yeniden yüklenmez, sadece sözler gelir
	deliverJSON(t, channel, models.EventSongChanged, models.SongChangedEvent{SongGen: 1, SongURL: "A", LyricsURL: "A.lrc"})
	_, _, _, loads := player.snapshot()
	assert.Equal(t, []string{"A"}, loads)

	require.NoError(t, player.Seek(11))
	line, ok := f.CurrentLyric()
	require.True(t, ok)
	assert.Equal(t, "first verse", line.Text)
}

func TestLateFollowerReconcilesFromStore(t *testing.T) {
	store := newFakeStore()
	store.configs["s1"] = models.SessionConfig{
		SessionID:       "s1",
		HostID:          "host",
		SongURL:         "A",
		SongGen:         3,
		IsLive:          true,
		IsPlaying:       true,
		MusicVolume:     0.6,
		PositionSeconds: 40,
		PositionAt:      time.Now().Add(-2 * time.Second),
	}

	f, player, _ := newTestFollower(t, store, nil)

	url, playing, pos, _ := player.snapshot()
	assert.Equal(t, "A", url)
	assert.True(t, playing)
	assert.GreaterOrEqual(t, pos, 42.0)
	assert.Less(t, pos, 50.0)
	assert.Equal(t, int64(3), f.SongGen())
}

func TestFollowerStartWithoutRow(t *testing.T) {
	f, player, _ := newTestFollower(t, newFakeStore(), nil)

	url, _, _, _ := player.snapshot()
	assert.Empty(t, url)
	assert.Equal(t, int64(0), f.SongGen())
}

func TestHostFollowerOverBus(t *testing.T) {
	bus := &fakeBus{}
	hostChannel := newFakeChannel("host", models.ChannelSubscribed)
	guestChannel := newFakeChannel("guest", models.ChannelSubscribed)
	bus.join(hostChannel)
	bus.join(guestChannel)
	store := newFakeStore()
	ctx := context.Background()

	host := NewPlaybackHost("s1", "host", newFakePlayer(), hostChannel, store, nil, quietPlaybackConfig())
	require.NoError(t, host.Start(ctx))
	defer host.Close(ctx)

	guestPlayer := newFakePlayer()
	follower := NewPlaybackFollower("s1", guestPlayer, guestChannel, store, nil, quietPlaybackConfig())
	require.NoError(t, follower.Start(ctx))
	defer follower.Close()

	require.NoError(t, host.SongChange(ctx, "https://cdn/a.mp3", ""))
	require.NoError(t, host.Seek(ctx, 30))
	require.NoError(t, host.Play(ctx))

	url, playing, pos, _ := guestPlayer.snapshot()
	assert.Equal(t, "https://cdn/a.mp3", url)
	assert.True(t, playing)
	assert.Equal(t, 30.0, pos)

	last := hostChannel.publishedEvents(models.EventPlaybackState)
	require.NotEmpty(t, last)
	assert.Equal(t, int64(1), decodePlayback(t, last[len(last)-1]).SongGen)
}
