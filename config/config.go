// Package config, uygulamanın tüm konfigürasyonunu merkezi olarak yönetir.
// Environment variable'lardan okur, .env dosyasını da destekler.
//
// Süreler time.ParseDuration formatındadır ("500ms", "25s", "1m").
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config, uygulamanın tüm konfigürasyon değerlerini taşır.
// Her alt bölüm ayrı bir struct; her struct tek bir concern'ü temsil eder.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	LiveKit  LiveKitConfig
	Realtime RealtimeConfig
	Sync     SyncConfig
	Backoff  BackoffConfig
	Log      LogConfig
	CORS     CORSConfig
}

// ServerConfig, HTTP server ayarları.
type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
}

// DatabaseConfig, SQLite database ayarları.
type DatabaseConfig struct {
	Path string // SQLite dosya yolu (ör: ./data/stagecast.db)
}

// LiveKitConfig, LiveKit SFU server ayarları.
type LiveKitConfig struct {
	URL       string // LiveKit server URL (ör: ws://localhost:7880)
	APIKey    string
	APISecret string
	// EmptyTimeout, boş kalan odanın LiveKit tarafından kapatılma süresi.
	EmptyTimeout time.Duration
}

// Enabled, LiveKit kimlik bilgileri verilmiş mi.
func (c LiveKitConfig) Enabled() bool {
	return c.APIKey != "" && c.APISecret != ""
}

// RealtimeConfig, WebSocket hub ayarları.
type RealtimeConfig struct {
	HeartbeatInterval time.Duration
	PongWait          time.Duration
	MaxMessageSize    int64

	// Chat/reaction publish rate limit (kullanıcı başına)
	ChatBurst    int
	ChatWindow   time.Duration
	ChatCooldown time.Duration

	// Bağlantı rate limit (IP başına)
	ConnectBurst  int
	ConnectWindow time.Duration
}

// SyncConfig, playback sync heartbeat ayarları.
type SyncConfig struct {
	HeartbeatInterval time.Duration
	MaxPublishRate    float64 // event/sn
}

// BackoffConfig, kanal yeniden bağlanma backoff sınırları.
type BackoffConfig struct {
	Floor   time.Duration
	Ceiling time.Duration
}

// LogConfig, zerolog ayarları.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Pretty bool   // true = ConsoleWriter (development)
}

// CORSConfig, izin verilen origin'ler.
type CORSConfig struct {
	AllowedOrigins []string
}

// Load, environment variable'lardan Config oluşturur.
// .env dosyası varsa önce onu yükler (development kolaylığı için).
func Load() (*Config, error) {
	// .env yoksa hata vermez; production'da gerçek env variable'lar kullanılır.
	_ = godotenv.Load()

	p := parser{}

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            p.int("SERVER_PORT", 9090),
			ShutdownTimeout: p.duration("SERVER_SHUTDOWN_TIMEOUT", 5*time.Second),
		},
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", "./data/stagecast.db"),
		},
		LiveKit: LiveKitConfig{
			URL:          getEnv("LIVEKIT_URL", "ws://localhost:7880"),
			APIKey:       getEnv("LIVEKIT_API_KEY", ""),
			APISecret:    getEnv("LIVEKIT_API_SECRET", ""),
			EmptyTimeout: p.duration("LIVEKIT_EMPTY_TIMEOUT", 5*time.Minute),
		},
		Realtime: RealtimeConfig{
			HeartbeatInterval: p.duration("WS_HEARTBEAT_INTERVAL", 25*time.Second),
			PongWait:          p.duration("WS_PONG_WAIT", 60*time.Second),
			MaxMessageSize:    int64(p.int("WS_MAX_MESSAGE_SIZE", 8192)),
			ChatBurst:         p.int("CHAT_RATE_BURST", 5),
			ChatWindow:        p.duration("CHAT_RATE_WINDOW", 5*time.Second),
			ChatCooldown:      p.duration("CHAT_RATE_COOLDOWN", 15*time.Second),
			ConnectBurst:      p.int("WS_CONNECT_BURST", 20),
			ConnectWindow:     p.duration("WS_CONNECT_WINDOW", time.Minute),
		},
		Sync: SyncConfig{
			HeartbeatInterval: p.duration("SYNC_HEARTBEAT_INTERVAL", 2*time.Second),
			MaxPublishRate:    p.float("SYNC_MAX_PUBLISH_RATE", 4),
		},
		Backoff: BackoffConfig{
			Floor:   p.duration("BACKOFF_FLOOR", 500*time.Millisecond),
			Ceiling: p.duration("BACKOFF_CEILING", 30*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Pretty: p.bool("LOG_PRETTY", false),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		},
	}

	if p.err != nil {
		return nil, p.err
	}
	if cfg.Backoff.Ceiling < cfg.Backoff.Floor {
		return nil, fmt.Errorf("BACKOFF_CEILING must not be lower than BACKOFF_FLOOR")
	}
	return cfg, nil
}

// Addr, HTTP server'ın dinleyeceği adresi döner (ör: "0.0.0.0:9090").
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// getEnv, environment variable'ı okur, yoksa fallback değeri döner.
func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

// parser, ilk parse hatasını saklar; Load sonunda tek seferde döner.
type parser struct {
	err error
}

func (p *parser) int(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return v
}

func (p *parser) float(key string, fallback float64) float64 {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return v
}

func (p *parser) bool(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return v
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return v
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
