package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

const (
	DefaultMinDelay       = 3 * time.Second
	DefaultMaxDelay       = 6 * time.Second
	DefaultThrottledDelay = 10 * time.Second
)

// Pacer decides how long to wait between page requests.
type Pacer interface {
	NormalDelay() time.Duration
	ThrottledDelay() time.Duration
}

// Sleeper blocks for a duration or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// Sleep waits for d unless ctx is cancelled first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ContextSleeper is the production Sleeper.
var ContextSleeper Sleeper = SleeperFunc(Sleep)

// JitterPacer returns a uniformly random normal delay in [min, max]
// and a fixed delay after throttling.
type JitterPacer struct {
	minDelay  time.Duration
	maxDelay  time.Duration
	throttled time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewJitterPacer(minDelay, maxDelay, throttled time.Duration) *JitterPacer {
	return NewJitterPacerWithSource(minDelay, maxDelay, throttled, rand.NewSource(time.Now().UnixNano()))
}

func NewJitterPacerWithSource(minDelay, maxDelay, throttled time.Duration, src rand.Source) *JitterPacer {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &JitterPacer{
		minDelay:  minDelay,
		maxDelay:  maxDelay,
		throttled: throttled,
		rnd:       rand.New(src),
	}
}

func DefaultPacer() *JitterPacer {
	return NewJitterPacer(DefaultMinDelay, DefaultMaxDelay, DefaultThrottledDelay)
}

func (p *JitterPacer) NormalDelay() time.Duration {
	if p.minDelay == p.maxDelay {
		return p.minDelay
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// +1 so that maxDelay itself is reachable
	delta := int64(p.maxDelay-p.minDelay) + 1
	return p.minDelay + time.Duration(p.rnd.Int63n(delta))
}

func (p *JitterPacer) ThrottledDelay() time.Duration {
	return p.throttled
}

// FixedPacer always returns the same delays. Useful for tests and for
// callers that disable jitter.
type FixedPacer struct {
	Normal    time.Duration
	Throttled time.Duration
}

func (p FixedPacer) NormalDelay() time.Duration {
	return p.Normal
}

func (p FixedPacer) ThrottledDelay() time.Duration {
	return p.Throttled
}
