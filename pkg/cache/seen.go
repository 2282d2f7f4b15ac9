// Package cache, chat feed'in "bu id'yi daha önce gördüm mü?" kaydı.
//
// Offline queue replay'leri ile realtime + history çakışmaları aynı id ile
// gelir; TTL süresince ikinci kez görülen id düşürülür. Süresi dolan id'ler
// periyodik olarak silinir.
package cache

import (
	"sync"
	"time"
)

// Seen, TTL'li id seti.
//
//	seen := cache.NewSeen(10*time.Minute, time.Minute)
//	if seen.Mark("m:" + msg.ID) { deliver(msg) }
type Seen struct {
	mu      sync.Mutex
	expires map[string]time.Time
	ttl     time.Duration
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewSeen, yeni bir Seen oluşturur ve temizleme goroutine'ini başlatır.
func NewSeen(ttl, sweepEvery time.Duration) *Seen {
	s := &Seen{
		expires: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go s.sweepLoop(sweepEvery)
	return s
}

// Mark, id ilk kez (veya süresi dolduktan sonra) görülüyorsa kaydeder ve true döner.
// Kontrol ve yazım aynı lock altında: aynı id için iki çağrı birden true alamaz.
func (s *Seen) Mark(id string) bool {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if exp, ok := s.expires[id]; ok && now.Before(exp) {
		return false
	}
	s.expires[id] = now.Add(s.ttl)
	return true
}

// Has, id canlı olarak kayıtlı mı.
func (s *Seen) Has(id string) bool {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.expires[id]
	return ok && now.Before(exp)
}

// Forget, id'yi siler (ör. teslim başarısız olduysa tekrar kabul edilsin).
func (s *Seen) Forget(id string) {
	s.mu.Lock()
	delete(s.expires, id)
	s.mu.Unlock()
}

// Len, kayıtlı id sayısı (süresi dolmuş ama henüz silinmemişler dahil).
func (s *Seen) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.expires)
}

// Close, temizleme goroutine'ini durdurur. Birden fazla çağrı güvenlidir.
func (s *Seen) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Seen) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *Seen) sweep() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, exp := range s.expires {
		if !now.Before(exp) {
			delete(s.expires, id)
		}
	}
}
