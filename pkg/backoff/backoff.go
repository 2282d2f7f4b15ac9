// Package backoff, kanal yeniden bağlanma denemeleri için üstel (exponential)
// bekleme süresi hesaplar.
//
//	b := backoff.New(500*time.Millisecond, 30*time.Second)
//	delay := b.Next() // 500ms, 1s, 2s, 4s ... en fazla 30s
//	b.Reset()         // yalnızca başarılı subscribe sonrası
//
// WithJitter ile her gecikmeden rastgele bir pay düşülür; sonuç yine
// [floor, ceiling] aralığında kalır. Aynı anda kopan client'lar aynı anda
// geri gelmez.
//
// Backoff thread-safe'dir; disconnect callback'leri farklı goroutine'lerden gelebilir.
package backoff

import (
	"math/rand/v2"
	"sync"
	"time"
)

// DefaultFactor, her denemede gecikmenin çarpıldığı katsayı.
const DefaultFactor = 2.0

// Backoff, floor ile ceiling arasında katlanarak büyüyen gecikme üretir.
type Backoff struct {
	mu      sync.Mutex
	floor   time.Duration
	ceiling time.Duration
	factor  float64
	next    time.Duration
	attempt int

	jitter float64        // 0..1, gecikmeden düşülebilecek en büyük oran
	rand   func() float64 // [0, 1)
}

// New, yeni bir Backoff oluşturur. floor ≤ 0 ise 100ms, ceiling < floor ise
// ceiling = floor kabul edilir.
func New(floor, ceiling time.Duration) *Backoff {
	if floor <= 0 {
		floor = 100 * time.Millisecond
	}
	if ceiling < floor {
		ceiling = floor
	}
	return &Backoff{
		floor:   floor,
		ceiling: ceiling,
		factor:  DefaultFactor,
		next:    floor,
	}
}

// WithFactor, çarpanı değiştirir (≤ 1 değerler yoksayılır).
func (b *Backoff) WithFactor(f float64) *Backoff {
	b.mu.Lock()
	defer b.mu.Unlock()

	if f > 1 {
		b.factor = f
	}
	return b
}

// WithJitter, her gecikmeden en fazla fraction oranında rastgele pay düşer.
// fraction [0, 1] aralığına kırpılır; rnd nil ise math/rand/v2 kullanılır.
func (b *Backoff) WithJitter(fraction float64, rnd func() float64) *Backoff {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.jitter = min(max(fraction, 0), 1)
	if rnd == nil {
		rnd = rand.Float64
	}
	b.rand = rnd
	return b
}

// Next, bir sonraki bekleme süresini döner ve iç durumu ilerletir.
// Dönen değer hiçbir zaman ceiling'i aşmaz ve floor'un altına inmez.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := b.next
	b.attempt++
	if b.jitter > 0 && b.rand != nil {
		d -= time.Duration(float64(d) * b.jitter * b.rand())
		d = max(d, b.floor)
	}

	// float üzerinde karşılaştır, int64 taşmasına girmeden ceiling'e kırp
	if grown := float64(b.next) * b.factor; grown >= float64(b.ceiling) {
		b.next = b.ceiling
	} else {
		b.next = time.Duration(grown)
	}

	return d
}

// Peek, Next'in döneceği değeri durumu değiştirmeden verir.
func (b *Backoff) Peek() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.next
}

// Attempts, son Reset'ten bu yana Next çağrı sayısı.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.attempt
}

// Reset, gecikmeyi floor'a döndürür.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next = b.floor
	b.attempt = 0
}

// Floor ve Ceiling, yapılandırılmış sınırlar.
func (b *Backoff) Floor() time.Duration   { return b.floor }
func (b *Backoff) Ceiling() time.Duration { return b.ceiling }
