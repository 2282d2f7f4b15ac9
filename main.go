// Package main, stagecast sunucusunun giriş noktasıdır.
//
// Sunucu, client'ların paylaştığı iki backend'i barındırır: realtime hub
// (topic pub/sub, /ws) ve durable store API'si (chat geçmişi, session config,
// LiveKit token ve webhook). Canlı oturum mantığı client tarafında, live
// paketinde yaşar.
//
// Bu dosyanın görevi: Dependency Injection "wire-up":
//  1. Config'i yükle, logger'ı kur
//  2. Database'i başlat
//  3. Repository'leri oluştur
//  4. WebSocket Hub'ı başlat
//  5. Service'leri oluştur
//  6. Handler'ları oluştur
//  7. Hub callback'lerini bağla
//  8. HTTP router + middleware + CORS
//  9. HTTP Server'ı başlat, graceful shutdown
//
// Global değişken YOK: her şey bu fonksiyonda oluşturulup birbirine bağlanıyor.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/akinalp/stagecast/config"
	"github.com/akinalp/stagecast/database"
	"github.com/akinalp/stagecast/middleware"
	"github.com/akinalp/stagecast/pkg/ratelimit"
	"github.com/akinalp/stagecast/ws"
)

func main() {
	// ─── 1. Config + Logger ───
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg.Log)

	log.Info().Str("module", "main").Int("port", cfg.Server.Port).Msg("stagecast server starting")
	if !cfg.LiveKit.Enabled() {
		log.Warn().Str("module", "main").Msg("LIVEKIT_API_KEY/SECRET not set, token and webhook endpoints are disabled")
	}

	// ─── 2. Database ───
	db, err := database.New(cfg.Database.Path, database.Migrations())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	// ─── 3. Repository Layer ───
	repos := initRepositories(db)

	// ─── 4. WebSocket Hub ───
	//
	// Hub, tüm WebSocket bağlantılarını ve topic aboneliklerini yöneten merkezi yapıdır.
	// Aynı zamanda EventPublisher interface'ini implement eder;
	// service'ler hub'a doğrudan bağımlı olmak yerine interface üzerinden erişir.
	chatLimiter := ratelimit.NewMessageRateLimiter(cfg.Realtime.ChatBurst, cfg.Realtime.ChatWindow, cfg.Realtime.ChatCooldown)
	defer chatLimiter.Stop()
	connectLimiter := ratelimit.NewConnectRateLimiter(cfg.Realtime.ConnectBurst, cfg.Realtime.ConnectWindow)
	defer connectLimiter.Stop()

	hub := ws.NewHub(chatLimiter)

	// ─── 5. Service Layer ───
	svcs := initServices(repos, hub, cfg)

	// ─── 6. Handler Layer ───
	h := initHandlers(svcs, hub, connectLimiter, cfg)

	// ─── 7. Hub Callbacks ───
	registerHubCallbacks(hub, svcs.SessionConfig)

	// ─── 8. HTTP Router + CORS ───
	mux := http.NewServeMux()
	initRoutes(mux, h, cfg.LiveKit.Enabled())

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		Debug:          false,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      corsHandler.Handler(middleware.Recover(middleware.RequestLogger(mux))),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// ─── 9. Run + Graceful Shutdown ───
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run()
		return nil
	})

	g.Go(func() error {
		log.Info().Str("module", "main").Str("addr", cfg.Server.Addr()).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Str("module", "main").Msg("shutting down")

		// Önce WebSocket bağlantılarını kapat: client'lar "server shutting down" bilir.
		// Sonra HTTP server'ı kapat: mevcut request'lerin bitmesini bekler.
		hub.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Str("module", "main").Err(err).Msg("server stopped with error")
		return
	}
	log.Info().Str("module", "main").Msg("server stopped gracefully")
}

// setupLogger, global zerolog logger'ını config'e göre ayarlar.
func setupLogger(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
