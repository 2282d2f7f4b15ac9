// Package services, playback senkronizasyonunu yönetir.
//
// Host otoritesi nedir?
// Oturumda playback durumunu yalnızca host yazar. Host her operasyonda önce
// yerel player'ı değiştirir, sonra durumu yayınlar, en son session config
// satırını günceller. Follower'lar hiçbir zaman yazmaz; yayını ya da satırı
// okuyup kendi player'larına uygular. Sunucu da playback yayınlarını
// yalnızca satırdaki host_id'den kabul eder.
//
// Neden song_gen?
// Yayınlar ve satır yazımları sırasız gelebilir. Parça değişince host
// song_gen'i artırır; her event ve satır bu sayacı taşır. Follower yüklü
// parçadan düşük song_gen'li her şeyi yoksayar, böylece eski parçanın
// pozisyonu yeni parçaya uygulanmaz. Sunucu da düşük song_gen'li upsert'i
// yazmaz. Host yeniden başlarsa sayaç önceki satırdan devam eder.
//
// Neden mutlak pozisyon?
// Her event position_seconds ve gönderim zamanını taşır. Follower son
// alınan değere snap eder; kaçırılan yayınlar bir sonraki heartbeat ya da
// Reconcile ile kapanır.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/akinalp/stagecast/models"
	"github.com/akinalp/stagecast/pkg"
	"github.com/akinalp/stagecast/pkg/lyrics"
)

// Playback sync varsayılanları.
const (
	DefaultSyncHeartbeat  = 2 * time.Second
	DefaultMaxPublishRate = 4 // event/sn
	DefaultLyricsPreview  = 3
)

// PlaybackConfig, host/follower ayarları.
type PlaybackConfig struct {
	// HeartbeatInterval, çalarken pozisyonun yeniden yayınlanma aralığı.
	HeartbeatInterval time.Duration
	// MaxPublishRate, heartbeat yayınları için saniyelik üst sınır.
	MaxPublishRate float64
	LyricsPreview  int
}

func (c PlaybackConfig) withDefaults() PlaybackConfig {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultSyncHeartbeat
	}
	if c.MaxPublishRate <= 0 {
		c.MaxPublishRate = DefaultMaxPublishRate
	}
	if c.LyricsPreview <= 0 {
		c.LyricsPreview = DefaultLyricsPreview
	}
	return c
}

// ─── PlaybackHost ───

// PlaybackHost, oturumun tek yetkili playback yazıcısı.
//
// Her operasyon sırasıyla:
//  1. efekti yerelde uygular (player),
//  2. yeni PlaybackState'i broadcast kanalında yayınlar,
//  3. kalıcı alanları session config satırına yazar.
//
// Yayın başarısızlığı loglanır (kalıcı satır geç gelenleri kurtarır);
// kalıcı yazım hatası çağırana döner.
type PlaybackHost interface {
	Start(ctx context.Context) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, seconds float64) error
	SyncLyrics(ctx context.Context) error
	SetMusicVolume(ctx context.Context, v float64) error
	SetMicVolume(ctx context.Context, v float64) error
	SongChange(ctx context.Context, songURL, lyricsURL string) error

	// Enqueue, parçayı kuyruğa ekler; parça bitince sıradaki çalınır.
	Enqueue(song models.Song)
	Queue() []models.Song

	State() models.PlaybackState
	CurrentLyric() (lyrics.Line, bool)
	UpcomingLyrics() []lyrics.Line

	// Close, heartbeat'i durdurur ve oturumu canlı değil olarak işaretler.
	Close(ctx context.Context) error
}

type playbackHost struct {
	sessionID string
	hostID    string
	player    Player
	channel   BroadcastChannel
	store     SessionConfigStore
	lyrics    LyricsFetcher
	cfg       PlaybackConfig
	limiter   *rate.Limiter
	now       func() time.Time

	// opMu, operasyonları seri hale getirir; kalıcı yazımlar sırayla gider.
	opMu sync.Mutex

	mu         sync.Mutex
	row        models.SessionConfig
	sheet      *lyrics.Sheet
	queue      []models.Song
	endOfTrack bool

	started     bool
	stop        chan struct{}
	wg          sync.WaitGroup
	removeEnded func()
}

// NewPlaybackHost, yeni bir PlaybackHost oluşturur.
func NewPlaybackHost(
	sessionID, hostID string,
	player Player,
	channel BroadcastChannel,
	store SessionConfigStore,
	lyricsFetcher LyricsFetcher,
	cfg PlaybackConfig,
) PlaybackHost {
	cfg = cfg.withDefaults()
	return &playbackHost{
		sessionID: sessionID,
		hostID:    hostID,
		player:    player,
		channel:   channel,
		store:     store,
		lyrics:    lyricsFetcher,
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Limit(cfg.MaxPublishRate), 1),
		now:       time.Now,
		row:       models.NewSessionConfig(sessionID, hostID),
		stop:      make(chan struct{}),
	}
}

// Start, önceki satırı (varsa) devralır, oturumu canlı işaretler ve
// heartbeat'i başlatır. SongGen önceki satırdan devam eder; follower'lar
// eski pozisyonları yeni parçaya uygulamaz.
func (h *playbackHost) Start(ctx context.Context) error {
	h.opMu.Lock()
	defer h.opMu.Unlock()

	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	prev, err := h.store.GetSessionConfig(ctx, h.sessionID)
	switch {
	case err == nil:
		h.mu.Lock()
		h.row.SongGen = prev.SongGen
		h.row.MusicVolume = prev.MusicVolume
		h.row.MicVolume = prev.MicVolume
		h.mu.Unlock()
	case errors.Is(err, pkg.ErrNotFound):
	default:
		log.Warn().Str("module", "playback").Err(err).Msg("failed to load previous session config")
	}

	h.mu.Lock()
	h.row.IsLive = true
	h.row.IsPlaying = false
	h.started = true
	row := h.stampLocked()
	h.mu.Unlock()

	h.removeEnded = h.player.OnEnded(h.trackEnded)
	if err := h.player.SetVolume(row.MusicVolume); err != nil {
		log.Warn().Str("module", "playback").Err(err).Msg("failed to apply music volume")
	}

	h.wg.Add(1)
	go h.heartbeatLoop()

	return h.persist(ctx, row)
}

func (h *playbackHost) Play(ctx context.Context) error {
	return h.apply(ctx, func() error {
		if h.row.SongURL == "" {
			return fmt.Errorf("%w: no song selected", pkg.ErrBadRequest)
		}
		if h.endOfTrack {
			if err := h.player.Seek(0); err != nil {
				return err
			}
		}
		if err := h.player.Play(); err != nil {
			return fmt.Errorf("failed to start playback: %w", err)
		}
		h.row.IsPlaying = true
		h.endOfTrack = false
		return nil
	})
}

func (h *playbackHost) Pause(ctx context.Context) error {
	return h.apply(ctx, func() error {
		if err := h.player.Pause(); err != nil {
			return fmt.Errorf("failed to pause playback: %w", err)
		}
		h.row.IsPlaying = false
		return nil
	})
}

func (h *playbackHost) Seek(ctx context.Context, seconds float64) error {
	if seconds < 0 {
		return fmt.Errorf("%w: position must not be negative", pkg.ErrBadRequest)
	}
	return h.apply(ctx, func() error {
		if err := h.player.Seek(seconds); err != nil {
			return fmt.Errorf("failed to seek: %w", err)
		}
		h.endOfTrack = false
		return nil
	})
}

// SyncLyrics, aktif lyric satırını yeniden hesaplar ve yayınlar.
func (h *playbackHost) SyncLyrics(ctx context.Context) error {
	return h.apply(ctx, func() error { return nil })
}

func (h *playbackHost) SetMusicVolume(ctx context.Context, v float64) error {
	v = models.ClampVolume(v)
	return h.apply(ctx, func() error {
		if err := h.player.SetVolume(v); err != nil {
			return fmt.Errorf("failed to set music volume: %w", err)
		}
		h.row.MusicVolume = v
		return nil
	})
}

// SetMicVolume, player mic kontrolü sunmuyorsa pkg.ErrNotSupported döner ve
// hiçbir şey yayınlanmaz.
func (h *playbackHost) SetMicVolume(ctx context.Context, v float64) error {
	v = models.ClampVolume(v)
	return h.apply(ctx, func() error {
		mic, ok := h.player.(MicVolumeController)
		if !ok {
			return fmt.Errorf("%w: player has no microphone control", pkg.ErrNotSupported)
		}
		if err := mic.SetMicVolume(v); err != nil {
			return err
		}
		h.row.MicVolume = v
		return nil
	})
}

func (h *playbackHost) SongChange(ctx context.Context, songURL, lyricsURL string) error {
	if songURL == "" {
		return fmt.Errorf("%w: song url is required", pkg.ErrBadRequest)
	}

	h.opMu.Lock()
	defer h.opMu.Unlock()
	return h.songChangeLocked(ctx, models.Song{URL: songURL, LyricsURL: lyricsURL}, false)
}

// songChangeLocked, opMu tutulurken çağrılır. autoplay, kuyruktan
// gelen parçalar içindir.
func (h *playbackHost) songChangeLocked(ctx context.Context, song models.Song, autoplay bool) error {
	sheet := h.fetchLyrics(ctx, song.LyricsURL)

	// Yükleme hatası fatal değil: follower'lar şarkıyı yine alır.
	if err := h.player.Load(ctx, song.URL); err != nil {
		log.Warn().Str("module", "playback").Str("url", song.URL).Err(err).Msg("failed to load backing track")
	}

	h.mu.Lock()
	h.row.SongGen++
	h.row.SongURL = song.URL
	h.row.LyricsURL = song.LyricsURL
	h.row.IsPlaying = false
	h.sheet = sheet
	h.endOfTrack = false
	h.mu.Unlock()

	if autoplay {
		if err := h.player.Play(); err != nil {
			log.Warn().Str("module", "playback").Err(err).Msg("failed to start queued song")
		} else {
			h.mu.Lock()
			h.row.IsPlaying = true
			h.mu.Unlock()
		}
	}

	h.mu.Lock()
	changed := models.SongChangedEvent{SongGen: h.row.SongGen, SongURL: song.URL, LyricsURL: song.LyricsURL}
	ev, row := h.snapshotLocked()
	h.mu.Unlock()

	h.publish(ctx, models.EventSongChanged, changed)
	h.publish(ctx, models.EventPlaybackState, ev)

	log.Info().Str("module", "playback").
		Str("session_id", h.sessionID).
		Int64("song_gen", changed.SongGen).
		Str("url", song.URL).
		Msg("song changed")

	return h.persist(ctx, row)
}

func (h *playbackHost) fetchLyrics(ctx context.Context, url string) *lyrics.Sheet {
	if url == "" || h.lyrics == nil {
		return nil
	}
	sheet, err := h.lyrics.Fetch(ctx, url)
	if err != nil {
		log.Warn().Str("module", "playback").Str("url", url).Err(err).Msg("failed to fetch lyrics")
		return nil
	}
	return sheet
}

func (h *playbackHost) Enqueue(song models.Song) {
	if song.URL == "" {
		return
	}
	h.mu.Lock()
	h.queue = append(h.queue, song)
	h.mu.Unlock()
}

func (h *playbackHost) Queue() []models.Song {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.Song(nil), h.queue...)
}

func (h *playbackHost) State() models.PlaybackState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stateLocked(h.player.Position())
}

func (h *playbackHost) CurrentLyric() (lyrics.Line, bool) {
	pos := h.player.Position()
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sheet.Current(pos)
}

func (h *playbackHost) UpcomingLyrics() []lyrics.Line {
	pos := h.player.Position()
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sheet.Upcoming(pos, h.cfg.LyricsPreview)
}

func (h *playbackHost) Close(ctx context.Context) error {
	h.opMu.Lock()
	defer h.opMu.Unlock()

	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return nil
	}
	h.started = false
	close(h.stop)
	h.row.IsLive = false
	h.row.IsPlaying = false
	row := h.stampLocked()
	h.mu.Unlock()

	if h.removeEnded != nil {
		h.removeEnded()
	}
	h.wg.Wait()

	if err := h.player.Pause(); err != nil {
		log.Warn().Str("module", "playback").Err(err).Msg("failed to stop playback")
	}
	return h.persist(ctx, row)
}

// apply, yerel efekt → yayın → kalıcı yazım sırasını uygular.
func (h *playbackHost) apply(ctx context.Context, effect func() error) error {
	h.opMu.Lock()
	defer h.opMu.Unlock()
	return h.applyLocked(ctx, effect)
}

func (h *playbackHost) applyLocked(ctx context.Context, effect func() error) error {
	h.mu.Lock()
	if err := effect(); err != nil {
		h.mu.Unlock()
		return err
	}
	ev, row := h.snapshotLocked()
	h.mu.Unlock()

	h.publish(ctx, models.EventPlaybackState, ev)
	return h.persist(ctx, row)
}

// snapshotLocked, o anki pozisyonla event'i ve kalıcı satırı üretir.
func (h *playbackHost) snapshotLocked() (models.PlaybackEvent, models.SessionConfig) {
	row := h.stampLocked()
	pos := row.PositionSeconds

	ev := models.PlaybackEvent{
		SongGen: h.row.SongGen,
		SongURL: h.row.SongURL,
		State:   h.stateLocked(pos),
		SentAt:  row.UpdatedAt,
	}
	return ev, row
}

func (h *playbackHost) stampLocked() models.SessionConfig {
	now := h.now().UTC()
	h.row.PositionSeconds = h.player.Position()
	h.row.PositionAt = now
	h.row.UpdatedAt = now
	return h.row
}

func (h *playbackHost) stateLocked(pos float64) models.PlaybackState {
	st := models.PlaybackState{
		PositionSeconds: pos,
		IsPlaying:       h.row.IsPlaying,
		MusicVolume:     h.row.MusicVolume,
		MicVolume:       h.row.MicVolume,
		EndOfTrack:      h.endOfTrack,
	}
	if i := h.sheet.Index(pos); i >= 0 {
		st.CurrentLyricIndex = &i
	}
	return st
}

func (h *playbackHost) publish(ctx context.Context, event string, payload any) {
	if err := h.channel.Publish(ctx, models.SessionTopic(h.sessionID), event, payload); err != nil {
		log.Warn().Str("module", "playback").
			Str("event", event).
			Err(err).
			Msg("failed to publish playback event")
	}
}

func (h *playbackHost) persist(ctx context.Context, row models.SessionConfig) error {
	if err := h.store.UpsertSessionConfig(ctx, &row); err != nil {
		return fmt.Errorf("failed to persist session config: %w", err)
	}
	return nil
}

// heartbeatLoop, çalarken pozisyonu periyodik olarak yeniden yayınlar.
// Yayın hızı limiter ile sınırlanır.
func (h *playbackHost) heartbeatLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
		}

		h.mu.Lock()
		if !h.row.IsPlaying {
			h.mu.Unlock()
			continue
		}
		pos := h.player.Position()
		ev := models.PlaybackEvent{
			SongGen: h.row.SongGen,
			SongURL: h.row.SongURL,
			State:   h.stateLocked(pos),
			SentAt:  h.now().UTC(),
		}
		h.mu.Unlock()

		if !h.limiter.Allow() {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.HeartbeatInterval)
		h.publish(ctx, models.EventPlaybackState, ev)
		cancel()
	}
}

// trackEnded, player callback'inden gelir. Kuyruk varsa sıradaki çalınır,
// yoksa paused + end-of-track durumunda kalınır.
func (h *playbackHost) trackEnded() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.advance(ctx); err != nil {
			log.Warn().Str("module", "playback").Err(err).Msg("failed to handle end of track")
		}
	}()
}

// advance, parça sonu işlemini opMu altında yapar. Close'dan sonra gelen
// callback hiçbir şey yüklemez.
func (h *playbackHost) advance(ctx context.Context) error {
	h.opMu.Lock()
	defer h.opMu.Unlock()

	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return nil
	}
	var next *models.Song
	if len(h.queue) > 0 {
		song := h.queue[0]
		h.queue = h.queue[1:]
		next = &song
	}
	h.mu.Unlock()

	if next != nil {
		return h.songChangeLocked(ctx, *next, true)
	}
	return h.applyLocked(ctx, func() error {
		h.row.IsPlaying = false
		h.endOfTrack = true
		return nil
	})
}

// ─── PlaybackFollower ───

// PlaybackFollower, host'un yayınladığı playback durumunu yerel player'a uygular.
//
// Her event mutlak pozisyon taşır; follower aldığı son değere snap eder
// (interpolasyon ya da değere göre reddetme yok). SongGen'i yüklü parçadan
// düşük event'ler eski parçaya aittir ve yoksayılır; yüksek olanlarda önce
// yeni parça yüklenir.
type PlaybackFollower interface {
	Start(ctx context.Context) error
	// Reconcile, kalıcı satırı okuyarak uzlaşır (geç katılım / kaçırılan yayın).
	Reconcile(ctx context.Context) error

	SongURL() string
	SongGen() int64
	State() models.PlaybackState
	CurrentLyric() (lyrics.Line, bool)
	UpcomingLyrics() []lyrics.Line

	Close()
}

type playbackFollower struct {
	sessionID string
	player    Player
	channel   BroadcastChannel
	store     SessionConfigStore
	lyrics    LyricsFetcher
	cfg       PlaybackConfig
	now       func() time.Time

	// applyMu, event uygulamalarını seri hale getirir.
	applyMu sync.Mutex

	mu        sync.RWMutex
	songGen   int64
	songURL   string
	lyricsURL string
	sheet     *lyrics.Sheet
	state     models.PlaybackState

	unsubs []func()
}

// NewPlaybackFollower, yeni bir PlaybackFollower oluşturur.
func NewPlaybackFollower(
	sessionID string,
	player Player,
	channel BroadcastChannel,
	store SessionConfigStore,
	lyricsFetcher LyricsFetcher,
	cfg PlaybackConfig,
) PlaybackFollower {
	return &playbackFollower{
		sessionID: sessionID,
		player:    player,
		channel:   channel,
		store:     store,
		lyrics:    lyricsFetcher,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
	}
}

// Start, kanal event'lerine abone olur ve kalıcı satırla uzlaşır.
// Henüz satır yoksa (host başlamadı) hata değildir.
func (f *playbackFollower) Start(ctx context.Context) error {
	topic := models.SessionTopic(f.sessionID)
	f.unsubs = append(f.unsubs,
		f.channel.Subscribe(topic, models.EventPlaybackState, f.onPlaybackState),
		f.channel.Subscribe(topic, models.EventSongChanged, f.onSongChanged),
	)

	if err := f.Reconcile(ctx); err != nil && !errors.Is(err, pkg.ErrNotFound) {
		return err
	}
	return nil
}

func (f *playbackFollower) onPlaybackState(payload json.RawMessage, _ string) {
	var ev models.PlaybackEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Warn().Str("module", "playback").Err(err).Msg("invalid playback event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	f.applyMu.Lock()
	defer f.applyMu.Unlock()

	if ok, _ := f.acceptSong(ctx, ev.SongGen, ev.SongURL, ""); !ok {
		return
	}
	f.applyState(ev.State)
}

func (f *playbackFollower) onSongChanged(payload json.RawMessage, _ string) {
	var ev models.SongChangedEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Warn().Str("module", "playback").Err(err).Msg("invalid song_changed event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	f.applyMu.Lock()
	defer f.applyMu.Unlock()

	if _, changed := f.acceptSong(ctx, ev.SongGen, ev.SongURL, ev.LyricsURL); changed {
		// Yeni parça host tarafında duraklatılmış başlar
		f.mu.RLock()
		st := f.state
		f.mu.RUnlock()
		st.IsPlaying = false
		st.PositionSeconds = 0
		st.CurrentLyricIndex = nil
		st.EndOfTrack = false
		f.applyState(st)
	}
}

func (f *playbackFollower) Reconcile(ctx context.Context) error {
	row, err := f.store.GetSessionConfig(ctx, f.sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session config: %w", err)
	}
	if row.SongURL == "" {
		return nil
	}

	f.applyMu.Lock()
	defer f.applyMu.Unlock()

	if ok, _ := f.acceptSong(ctx, row.SongGen, row.SongURL, row.LyricsURL); !ok {
		return nil
	}

	f.applyState(models.PlaybackState{
		PositionSeconds: row.PositionNow(f.now()),
		IsPlaying:       row.IsPlaying,
		MusicVolume:     row.MusicVolume,
		MicVolume:       row.MicVolume,
	})

	log.Info().Str("module", "playback").
		Str("session_id", f.sessionID).
		Int64("song_gen", row.SongGen).
		Bool("playing", row.IsPlaying).
		Msg("reconciled from session config")
	return nil
}

// acceptSong, applyMu tutulurken çağrılır. gen eski ise ok=false döner;
// yeni ise parça yüklenir ve changed=true olur. Yükleme hatası uyarıdır,
// durum yine uygulanır.
func (f *playbackFollower) acceptSong(ctx context.Context, gen int64, url, lyricsURL string) (ok, changed bool) {
	f.mu.RLock()
	curGen, curURL, curLyrics := f.songGen, f.songURL, f.lyricsURL
	f.mu.RUnlock()

	if gen < curGen {
		log.Debug().Str("module", "playback").
			Int64("song_gen", gen).
			Int64("current", curGen).
			Msg("stale playback event ignored")
		return false, false
	}

	if gen == curGen && url == curURL {
		if lyricsURL != "" && curLyrics == "" {
			sheet := f.fetchLyrics(ctx, lyricsURL)
			f.mu.Lock()
			f.lyricsURL = lyricsURL
			f.sheet = sheet
			f.mu.Unlock()
		}
		return true, false
	}

	// Yeni parça: eski pozisyon uygulanmadan önce player yeniden yüklenir.
	if err := f.player.Pause(); err != nil {
		log.Warn().Str("module", "playback").Err(err).Msg("failed to stop previous song")
	}
	if url != "" {
		if err := f.player.Load(ctx, url); err != nil {
			log.Warn().Str("module", "playback").Str("url", url).Err(err).Msg("failed to load song")
		}
	}
	sheet := f.fetchLyrics(ctx, lyricsURL)

	f.mu.Lock()
	f.songGen = gen
	f.songURL = url
	f.lyricsURL = lyricsURL
	f.sheet = sheet
	f.mu.Unlock()
	return true, true
}

// applyState, durumu player'a snap eder. Son alınan değer kazanır.
func (f *playbackFollower) applyState(st models.PlaybackState) {
	if err := f.player.SetVolume(st.MusicVolume); err != nil {
		log.Warn().Str("module", "playback").Err(err).Msg("failed to apply volume")
	}
	if err := f.player.Seek(st.PositionSeconds); err != nil {
		log.Warn().Str("module", "playback").Err(err).Msg("failed to seek")
	}
	if st.IsPlaying {
		if err := f.player.Play(); err != nil {
			log.Warn().Str("module", "playback").Err(err).Msg("failed to start playback")
		}
	} else if err := f.player.Pause(); err != nil {
		log.Warn().Str("module", "playback").Err(err).Msg("failed to pause playback")
	}

	f.mu.Lock()
	f.state = st
	f.mu.Unlock()
}

func (f *playbackFollower) fetchLyrics(ctx context.Context, url string) *lyrics.Sheet {
	if url == "" || f.lyrics == nil {
		return nil
	}
	sheet, err := f.lyrics.Fetch(ctx, url)
	if err != nil {
		log.Warn().Str("module", "playback").Str("url", url).Err(err).Msg("failed to fetch lyrics")
		return nil
	}
	return sheet
}

func (f *playbackFollower) SongURL() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.songURL
}

func (f *playbackFollower) SongGen() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.songGen
}

func (f *playbackFollower) State() models.PlaybackState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

func (f *playbackFollower) CurrentLyric() (lyrics.Line, bool) {
	pos := f.player.Position()
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.sheet.Current(pos)
}

func (f *playbackFollower) UpcomingLyrics() []lyrics.Line {
	pos := f.player.Position()
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.sheet.Upcoming(pos, f.cfg.LyricsPreview)
}

func (f *playbackFollower) Close() {
	for _, unsub := range f.unsubs {
		unsub()
	}
	f.unsubs = nil
	if err := f.player.Pause(); err != nil {
		log.Warn().Str("module", "playback").Err(err).Msg("failed to stop playback")
	}
}
