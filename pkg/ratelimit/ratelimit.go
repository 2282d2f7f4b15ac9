// Package ratelimit, realtime hub'ı koruyan in-memory rate limiter'ları içerir.
//
// ConnectRateLimiter: IP başına WebSocket bağlantı denemesi sınırı (token bucket,
// golang.org/x/time/rate). Kopan client'lar backoff ile yeniden bağlanır;
// backoff uygulamayan bir client hub'ı reconnect fırtınasına sokmasın diye
// upgrade öncesi kontrol edilir.
//
// MessageRateLimiter: kullanıcı başına chat/reaction publish sınırı (pencere + cooldown).
//
// pkg/ratelimit hiçbir proje içi pakete bağımlı değildir (leaf dependency).
package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// janitor, süresi dolmuş kayıtları periyodik olarak silen arka plan döngüsü.
type janitor struct {
	stop chan struct{}
	once sync.Once
}

func startJanitor(every time.Duration, sweep func()) *janitor {
	j := &janitor{stop: make(chan struct{})}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sweep()
			case <-j.stop:
				return
			}
		}
	}()
	return j
}

// Stop, temizleme goroutine'ini durdurur. Birden fazla çağrı güvenlidir.
func (j *janitor) Stop() {
	j.once.Do(func() { close(j.stop) })
}

// ─── Connect ───

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ConnectRateLimiter, IP başına bağlantı denemesi sınırı.
// window içinde en fazla maxAttempts deneme; token'lar window/maxAttempts
// aralıkla geri dolar.
//
//	limiter := NewConnectRateLimiter(20, time.Minute)
//	if !limiter.Allow(ExtractIP(r)) { return 429 }
type ConnectRateLimiter struct {
	*janitor

	mu      sync.Mutex
	entries map[string]*ipEntry
	refill  rate.Limit
	burst   int
	idle    time.Duration
	now     func() time.Time
}

// NewConnectRateLimiter, limiter'ı oluşturur ve temizleme goroutine'ini başlatır.
func NewConnectRateLimiter(maxAttempts int, window time.Duration) *ConnectRateLimiter {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	rl := &ConnectRateLimiter{
		entries: make(map[string]*ipEntry),
		refill:  rate.Every(window / time.Duration(maxAttempts)),
		burst:   maxAttempts,
		idle:    window,
		now:     time.Now,
	}
	rl.janitor = startJanitor(time.Minute, rl.cleanup)
	return rl
}

// Allow, ip için yeni bir bağlantı denemesine izin verilip verilmediğini döner.
// Reddedilen denemeler token harcamaz.
func (rl *ConnectRateLimiter) Allow(ip string) bool {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, ok := rl.entries[ip]
	if !ok {
		e = &ipEntry{limiter: rate.NewLimiter(rl.refill, rl.burst)}
		rl.entries[ip] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// RetryAfterSeconds, Retry-After header'ı için bir sonraki token'a kalan süre.
func (rl *ConnectRateLimiter) RetryAfterSeconds(ip string) int {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, ok := rl.entries[ip]
	if !ok {
		return 0
	}

	r := e.limiter.ReserveN(now, 1)
	defer r.CancelAt(now)
	if !r.OK() {
		return int(rl.idle.Seconds())
	}
	return int(math.Ceil(r.DelayFrom(now).Seconds()))
}

// cleanup, window boyunca görülmeyen IP'leri siler; bu sürede bucket zaten dolmuştur.
func (rl *ConnectRateLimiter) cleanup() {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for ip, e := range rl.entries {
		if now.Sub(e.lastSeen) > rl.idle {
			delete(rl.entries, ip)
		}
	}
}

// ExtractIP, HTTP request'ten client IP adresini çıkarır.
//
// Öncelik: X-Forwarded-For (ilk değer) → X-Real-IP → RemoteAddr.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
