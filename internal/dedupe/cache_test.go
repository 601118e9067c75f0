// ABOUTME: Tests for the inbound message dedupe cache.
// ABOUTME: Validates TTL expiry, eviction order, sweeping, Forget and concurrency safety.

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newTestCache(t *testing.T, ttl time.Duration, maxSize int) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(ttl, maxSize)
	c.now = clock.now
	t.Cleanup(c.Close)
	return c, clock
}

func TestCache_Seen(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 10)

	assert.False(t, c.Seen("a"), "first sighting")
	assert.True(t, c.Seen("a"), "second sighting")
	assert.False(t, c.Seen("b"))
	assert.Equal(t, 2, c.Len())
}

func TestCache_EmptyKey(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 10)

	assert.False(t, c.Seen(""))
	assert.False(t, c.Seen(""))
	assert.Equal(t, 0, c.Len())
}

func TestCache_Expiry(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 10)

	c.Seen("a")
	clock.advance(2 * time.Minute)
	assert.False(t, c.Seen("a"), "expired key is new again")
	assert.True(t, c.Seen("a"))
}

func TestCache_EvictsOldest(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 3)

	c.Seen("a")
	c.Seen("b")
	c.Seen("c")
	c.Seen("a") // refresh a; b is now oldest
	c.Seen("d") // evicts b

	assert.Equal(t, 3, c.Len())
	assert.True(t, c.Seen("a"))
	assert.False(t, c.Seen("b"), "b was evicted")
}

func TestCache_Sweep(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 10)

	c.Seen("old-1")
	c.Seen("old-2")
	clock.advance(50 * time.Second)
	c.Seen("fresh")
	clock.advance(30 * time.Second)

	c.sweep()
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Seen("fresh"))
}

func TestCache_Forget(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 10)

	c.Seen("a")
	c.Forget("a")
	c.Forget("never-seen")
	assert.False(t, c.Seen("a"))
}

func TestCache_CloseTwice(t *testing.T) {
	c := New(time.Hour, 10)
	assert.NotPanics(t, func() {
		c.Close()
		c.Close()
	})
}

func TestCache_Defaults(t *testing.T) {
	c := New(0, 0)
	defer c.Close()

	assert.Equal(t, DefaultTTL, c.ttl)
	assert.Equal(t, DefaultMaxSize, c.maxSize)
}

func TestCache_ConcurrentSeenSingleWinner(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 100)

	var firsts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.Seen("same-message") {
				firsts.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), firsts.Load())
}

func TestNormalizeMessageID(t *testing.T) {
	tests := map[string]string{
		"<ABC@Example.com>":   "abc@example.com",
		"  <abc@example.com> ": "abc@example.com",
		"abc@example.com":     "abc@example.com",
		"":                    "",
		"<>":                  "",
	}
	for in, want := range tests {
		t.Run(fmt.Sprintf("%q", in), func(t *testing.T) {
			assert.Equal(t, want, NormalizeMessageID(in))
		})
	}
}
