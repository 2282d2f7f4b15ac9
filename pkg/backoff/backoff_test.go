package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextNeverExceedsCeiling(t *testing.T) {
	b := New(500*time.Millisecond, 3*time.Second)

	want := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		3 * time.Second,
		3 * time.Second,
	}
	for i, w := range want {
		got := b.Next()
		assert.Equal(t, w, got, "attempt %d", i+1)
		assert.LessOrEqual(t, got, b.Ceiling())
	}
	assert.Equal(t, 5, b.Attempts())
}

func TestResetReturnsToFloor(t *testing.T) {
	b := New(time.Second, time.Minute)
	for range 5 {
		b.Next()
	}
	assert.Greater(t, b.Peek(), time.Second)

	b.Reset()
	assert.Equal(t, time.Second, b.Next())
	assert.Equal(t, 1, b.Attempts())
}

func TestDefaultsAndFactor(t *testing.T) {
	b := New(0, 0)
	assert.Equal(t, 100*time.Millisecond, b.Floor())
	assert.Equal(t, 100*time.Millisecond, b.Ceiling())

	b = New(time.Second, time.Hour).WithFactor(3)
	b.Next()
	assert.Equal(t, 3*time.Second, b.Peek())

	b = New(time.Second, time.Hour).WithFactor(0.5)
	b.Next()
	assert.Equal(t, 2*time.Second, b.Peek())
}

func TestLargeCeilingDoesNotOverflow(t *testing.T) {
	b := New(time.Hour, time.Duration(1<<62))
	for range 100 {
		assert.Positive(t, b.Next())
	}
}

func TestJitterStaysWithinBounds(t *testing.T) {
	r := 0.0
	b := New(time.Second, 8*time.Second).WithJitter(0.5, func() float64 { return r })

	// rand=0 pay düşmez
	assert.Equal(t, time.Second, b.Next())

	r = 0.99
	d := b.Next() // 2s üzerinden
	assert.Less(t, d, 2*time.Second)
	assert.GreaterOrEqual(t, d, time.Second)

	// floor'un altına inmez
	b.Reset()
	assert.Equal(t, time.Second, b.Next())

	for range 10 {
		d := b.Next()
		assert.LessOrEqual(t, d, b.Ceiling())
		assert.GreaterOrEqual(t, d, b.Floor())
	}
	// jitter iç durumu değiştirmez
	assert.Equal(t, 8*time.Second, b.Peek())
}

func TestJitterFractionClamped(t *testing.T) {
	b := New(time.Second, time.Hour).WithJitter(3, func() float64 { return 0.5 })
	b.Next()
	// fraction=1 → 2s'nin yarısı
	assert.Equal(t, time.Second, b.Next())

	b = New(time.Second, time.Hour).WithJitter(-1, nil)
	b.Next()
	assert.Equal(t, 2*time.Second, b.Next())
}
