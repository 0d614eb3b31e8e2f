// Package ratelimit spaces outbound upstream calls. A single Limiter is
// shared by every request regardless of the upstream resource it targets.
package ratelimit

import (
	"sync"
	"time"

	"github.com/sdko-org/api-proxy/internal/clock"
)

// Admission describes one pass through the gate.
type Admission struct {
	// DispatchAt is the instant recorded as the last call. The caller must
	// dispatch its upstream request right after Acquire returns.
	DispatchAt time.Time
	Waited     time.Duration
}

type Limiter struct {
	minInterval time.Duration
	clock       clock.Clock

	mu         sync.Mutex
	lastCallAt time.Time
}

func New(minInterval time.Duration, c clock.Clock) *Limiter {
	if c == nil {
		c = clock.Real{}
	}
	return &Limiter{minInterval: minInterval, clock: c}
}

// Acquire blocks until at least minInterval has passed since the previous
// admission. The delay computation, the wait and the lastCallAt update all
// happen under one lock, so concurrent callers queue behind each other
// rather than computing overlapping windows.
func (l *Limiter) Acquire() Admission {
	l.mu.Lock()
	defer l.mu.Unlock()

	var waited time.Duration
	if !l.lastCallAt.IsZero() {
		if delay := l.lastCallAt.Add(l.minInterval).Sub(l.clock.Now()); delay > 0 {
			l.clock.Sleep(delay)
			waited = delay
		}
	}

	l.lastCallAt = l.clock.Now()
	return Admission{DispatchAt: l.lastCallAt, Waited: waited}
}

func (l *Limiter) MinInterval() time.Duration {
	return l.minInterval
}
