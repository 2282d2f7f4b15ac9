// stagecast-node, headless bir oturum katılımcısı.
//
// Host olarak başlatılırsa oturumu açar, verilen parçayı ClockEngine ile
// "çalar" ve playback durumunu yayınlar. Host değilse oturuma katılır,
// host'un durumunu takip eder ve lyric değişimlerini loglar.
//
// Kullanım:
//
//	stagecast-node -session s1 -host -song https://cdn/a.mp3 -lyrics https://cdn/a.lrc
//	stagecast-node -session s1
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/akinalp/stagecast/apiclient"
	"github.com/akinalp/stagecast/audio"
	"github.com/akinalp/stagecast/config"
	"github.com/akinalp/stagecast/live"
	"github.com/akinalp/stagecast/pkg"
	"github.com/akinalp/stagecast/pkg/deviceid"
	"github.com/akinalp/stagecast/realtime"
	"github.com/akinalp/stagecast/services"
	"github.com/akinalp/stagecast/transport"
)

const (
	httpTimeout   = 10 * time.Second
	probeTimeout  = 15 * time.Second
	statusTicker  = 5 * time.Second
	joinTimeout   = 2 * time.Minute
	deviceIDFile  = ".stagecast/device_id"
	defaultServer = "http://localhost:9090"
)

type flags struct {
	server    string
	sessionID string
	userID    string
	isHost    bool
	songURL   string
	lyricsURL string
}

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("stagecast-node failed")
	}
}

func run() error {
	var f flags
	flag.StringVar(&f.server, "server", defaultServer, "stagecast server base URL")
	flag.StringVar(&f.sessionID, "session", "", "session id to join")
	flag.StringVar(&f.userID, "user", "", "user id (empty = anonymous device id)")
	flag.BoolVar(&f.isHost, "host", false, "join as the session host")
	flag.StringVar(&f.songURL, "song", "", "backing track URL (host only)")
	flag.StringVar(&f.lyricsURL, "lyrics", "", "lyrics file URL (host only)")
	flag.Parse()

	if f.sessionID == "" {
		return errors.New("-session is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	setupLogger(cfg.Log)

	if f.userID == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to resolve home directory: %w", err)
		}
		if f.userID, err = deviceid.Load(filepath.Join(home, deviceIDFile)); err != nil {
			return err
		}
	}

	client, err := newClient(cfg, f)
	if err != nil {
		return err
	}
	defer client.Close(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx); err != nil {
		// Offline queue backoff ile yeniden bağlanır.
		log.Warn().Str("module", "node").Err(err).Msg("broadcast channel not connected yet")
	}

	joinCtx, cancel := context.WithTimeout(ctx, joinTimeout)
	sess, err := client.Join(joinCtx, f.sessionID, f.userID, f.isHost)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to join session: %s: %w", pkg.UserMessage(err), err)
	}

	log.Info().Str("module", "node").
		Str("session_id", sess.ID()).
		Str("user_id", sess.UserID()).
		Bool("host", sess.IsHost()).
		Msg("joined session")

	if sess.IsHost() && f.songURL != "" {
		if err := sess.Host().SongChange(ctx, f.songURL, f.lyricsURL); err != nil {
			return fmt.Errorf("failed to load song: %w", err)
		}
		if err := sess.Host().Play(ctx); err != nil {
			return fmt.Errorf("failed to start playback: %w", err)
		}
	}

	watch(ctx, sess)

	leaveCtx, cancelLeave := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelLeave()
	return sess.Leave(leaveCtx)
}

// newClient, uzak sunucuya konuşan bağımlılıklarla live.Client kurar.
func newClient(cfg *config.Config, f flags) (*live.Client, error) {
	api := apiclient.New(f.server, nil, httpTimeout)

	channel := realtime.New(wsEndpoint(f.server), f.userID, realtime.Options{
		HeartbeatInterval: cfg.Realtime.HeartbeatInterval,
	})

	provider := transport.NewProvider(transport.Config{
		URL:          cfg.LiveKit.URL,
		APIKey:       cfg.LiveKit.APIKey,
		APISecret:    cfg.LiveKit.APISecret,
		EmptyTimeout: cfg.LiveKit.EmptyTimeout,
	}, api, nil, channel)

	return live.NewClient(live.Options{
		Provider: provider,
		Channel:  channel,
		Chat:     api,
		Configs:  api,
		Engine:   audio.NewClockEngine(audio.NewHTTPProber(probeTimeout)),
		Lyrics:   audio.NewHTTPLyricsFetcher(httpTimeout),
		Playback: services.PlaybackConfig{
			HeartbeatInterval: cfg.Sync.HeartbeatInterval,
			MaxPublishRate:    cfg.Sync.MaxPublishRate,
		},
		Queue: services.OfflineQueueConfig{
			BackoffFloor:   cfg.Backoff.Floor,
			BackoffCeiling: cfg.Backoff.Ceiling,
		},
		AutoUnlock:   true,
		LeaveTimeout: cfg.Server.ShutdownTimeout,
	})
}

// watch, oturum bitene veya sinyal gelene kadar durumu periyodik olarak loglar.
func watch(ctx context.Context, sess *live.Session) {
	ticker := time.NewTicker(statusTicker)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Done():
			log.Info().Str("module", "node").Str("session_id", sess.ID()).Msg("session ended")
			return
		case <-ticker.C:
			logStatus(sess)
		}
	}
}

func logStatus(sess *live.Session) {
	ev := log.Info().Str("module", "node").Str("session_id", sess.ID())

	switch {
	case sess.Host() != nil:
		st := sess.Host().State()
		ev = ev.Float64("position", st.PositionSeconds).Bool("playing", st.IsPlaying)
		if line, ok := sess.Host().CurrentLyric(); ok {
			ev = ev.Str("lyric", line.Text)
		}
	case sess.Follower() != nil:
		st := sess.Follower().State()
		ev = ev.Float64("position", st.PositionSeconds).Bool("playing", st.IsPlaying)
		if line, ok := sess.Follower().CurrentLyric(); ok {
			ev = ev.Str("lyric", line.Text)
		}
	}

	ev.Strs("speakers", sess.Permissions().AllowedSpeakers()).Msg("status")
}

// wsEndpoint, http(s) base URL'ini hub'ın ws(s) adresine çevirir.
func wsEndpoint(server string) string {
	server = strings.TrimRight(server, "/")
	if rest, ok := strings.CutPrefix(server, "https://"); ok {
		return "wss://" + rest + "/ws"
	}
	if rest, ok := strings.CutPrefix(server, "http://"); ok {
		return "ws://" + rest + "/ws"
	}
	return server + "/ws"
}

func setupLogger(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
