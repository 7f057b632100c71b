package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrBreakerOpen is returned when a call is rejected by an open breaker.
var ErrBreakerOpen = eris.New("resilience: breaker open")

// Breaker stops calling a vendor after Threshold consecutive transient
// failures. After Cooldown one probe call is let through; its success
// closes the breaker again.
type Breaker struct {
	Vendor    string
	Threshold int
	Cooldown  time.Duration

	mu       sync.Mutex
	failures int
	openedAt time.Time
	now      func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(vendor string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{Vendor: vendor, Threshold: threshold, Cooldown: cooldown, now: time.Now}
}

// Open reports whether calls are currently rejected.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openLocked()
}

func (b *Breaker) openLocked() bool {
	return b.failures >= b.Threshold && b.now().Sub(b.openedAt) < b.Cooldown
}

// Call runs fn through the breaker. Only transient errors count as failures.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	b.mu.Lock()
	if b.openLocked() {
		b.mu.Unlock()
		return zero, eris.Wrap(ErrBreakerOpen, b.Vendor)
	}
	b.mu.Unlock()

	val, err := fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case err == nil || !IsTransient(err):
		b.failures = 0
	default:
		b.failures++
		if b.failures >= b.Threshold {
			b.openedAt = b.now()
			if b.failures == b.Threshold {
				zap.L().Warn("vendor breaker opened",
					zap.String("vendor", b.Vendor), zap.Int("failures", b.failures))
			}
		}
	}
	return val, err
}
