package ratelimit

import (
	"math"
	"sync"
	"time"
)

// userBucket: pencere içindeki publish sayısı ve varsa cooldown bitişi.
type userBucket struct {
	count         int
	windowStart   time.Time
	cooldownUntil time.Time
}

func (b *userBucket) reset(now time.Time) {
	b.count = 1
	b.windowStart = now
	b.cooldownUntil = time.Time{}
}

// MessageRateLimiter, chat ve reaction publish'leri için kullanıcı bazlı spam koruması.
//
// window içinde en fazla maxMessages publish kabul edilir. Limit aşılınca
// cooldown başlar ve bitene kadar tüm publish'ler reddedilir; cooldown
// sonrası ilk publish yeni pencereyi açar.
// Playback heartbeat'leri bu limiter'a takılmaz (bkz. ws.Hub).
//
//	limiter := NewMessageRateLimiter(5, 5*time.Second, 15*time.Second)
//	if !limiter.Allow(userID) { reject }
type MessageRateLimiter struct {
	*janitor

	mu          sync.Mutex
	buckets     map[string]*userBucket
	maxMessages int
	window      time.Duration
	cooldown    time.Duration
	now         func() time.Time
}

// NewMessageRateLimiter, limiter'ı oluşturur ve temizleme goroutine'ini başlatır.
func NewMessageRateLimiter(maxMessages int, window, cooldown time.Duration) *MessageRateLimiter {
	rl := &MessageRateLimiter{
		buckets:     make(map[string]*userBucket),
		maxMessages: maxMessages,
		window:      window,
		cooldown:    cooldown,
		now:         time.Now,
	}
	rl.janitor = startJanitor(30*time.Second, rl.cleanup)
	return rl
}

// Allow, kullanıcının bir publish daha yapıp yapamayacağını döner.
func (rl *MessageRateLimiter) Allow(userID string) bool {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[userID]
	switch {
	case !ok:
		rl.buckets[userID] = &userBucket{count: 1, windowStart: now}
		return true
	case now.Before(b.cooldownUntil):
		return false
	case !b.cooldownUntil.IsZero(), now.Sub(b.windowStart) > rl.window:
		b.reset(now)
		return true
	}

	b.count++
	if b.count > rl.maxMessages {
		b.cooldownUntil = now.Add(rl.cooldown)
		return false
	}
	return true
}

// CooldownSeconds, aktif cooldown'un kalan süresi (saniye, yukarı yuvarlanmış). Yoksa 0.
func (rl *MessageRateLimiter) CooldownSeconds(userID string) int {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[userID]
	if !ok || !now.Before(b.cooldownUntil) {
		return 0
	}
	return int(math.Ceil(b.cooldownUntil.Sub(now).Seconds()))
}

func (rl *MessageRateLimiter) cleanup() {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for userID, b := range rl.buckets {
		if now.Sub(b.windowStart) > rl.window && !now.Before(b.cooldownUntil) {
			delete(rl.buckets, userID)
		}
	}
}
