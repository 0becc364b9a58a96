package ratelimit

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJitterPacerNormalDelayRange(t *testing.T) {
	p := NewJitterPacerWithSource(DefaultMinDelay, DefaultMaxDelay, DefaultThrottledDelay, rand.NewSource(42))

	for i := 0; i < 1000; i++ {
		d := p.NormalDelay()
		assert.GreaterOrEqual(t, d, 3*time.Second)
		assert.LessOrEqual(t, d, 6*time.Second)
	}
}

func TestJitterPacerDeterministicWithSeed(t *testing.T) {
	a := NewJitterPacerWithSource(time.Second, 2*time.Second, time.Second, rand.NewSource(7))
	b := NewJitterPacerWithSource(time.Second, 2*time.Second, time.Second, rand.NewSource(7))

	for i := 0; i < 10; i++ {
		assert.Equal(t, a.NormalDelay(), b.NormalDelay())
	}
}

func TestJitterPacerThrottledDelay(t *testing.T) {
	p := DefaultPacer()
	assert.Equal(t, 10*time.Second, p.ThrottledDelay())
}

func TestJitterPacerEqualBounds(t *testing.T) {
	p := NewJitterPacer(2*time.Second, time.Second, 5*time.Second)
	assert.Equal(t, 2*time.Second, p.NormalDelay())
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Minute)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSleepShortDuration(t *testing.T) {
	err := ContextSleeper.Sleep(context.Background(), time.Millisecond)
	assert.NoError(t, err)
}
