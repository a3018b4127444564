package logctx

import (
	"context"
	"sync"
	"time"

	"github.com/juju/ratelimit"
)

// Throttle lets one log line per key through every window. Lines arriving
// inside the window are counted and reported with the next line that passes.
type Throttle struct {
	window time.Duration

	mu         sync.Mutex
	buckets    map[string]*ratelimit.Bucket
	suppressed map[string]int
}

func NewThrottle(window time.Duration) *Throttle {
	if window <= 0 {
		window = time.Minute
	}

	return &Throttle{
		window:     window,
		buckets:    make(map[string]*ratelimit.Bucket),
		suppressed: make(map[string]int),
	}
}

// Allow reports whether a line for key may be logged now, and how many lines
// were dropped since the last one that was allowed.
func (t *Throttle) Allow(key string) (bool, int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.buckets[key]
	if !ok {
		b = ratelimit.NewBucket(t.window, 1)
		t.buckets[key] = b
	}

	if b.TakeAvailable(1) == 0 {
		t.suppressed[key]++

		return false, 0
	}

	dropped := t.suppressed[key]
	delete(t.suppressed, key)

	return true, dropped
}

// Warn logs msg at WARN level through the context logger when the key is not throttled.
func (t *Throttle) Warn(ctx context.Context, key, msg string, args ...any) {
	ok, dropped := t.Allow(key)
	if !ok {
		return
	}

	if dropped > 0 {
		args = append(args, "suppressed", dropped)
	}

	LoggerFromContext(ctx).WarnContext(ctx, msg, args...)
}
