package fetch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyDelay_RespectsContextCancellation(t *testing.T) {
	rl := NewRateLimiter(100*time.Millisecond, testLogger())
	rl.UpdateLastRequestTime("www.pixiv.net")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	rl.ApplyDelay(ctx, "www.pixiv.net", 5*time.Second)

	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestApplyDelay_SleepsForExpectedDuration(t *testing.T) {
	rl := NewRateLimiter(0, testLogger())
	rl.UpdateLastRequestTime("www.pixiv.net")

	start := time.Now()
	rl.ApplyDelay(context.Background(), "www.pixiv.net", 100*time.Millisecond)
	elapsed := time.Since(start)

	// Jitter is +/- 10%
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 300*time.Millisecond)
}

func TestApplyDelay_UsesDefaultDelay(t *testing.T) {
	rl := NewRateLimiter(80*time.Millisecond, testLogger())
	rl.UpdateLastRequestTime("p.tl")

	start := time.Now()
	rl.ApplyDelay(context.Background(), "p.tl", 0)

	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestApplyDelay_NoDelayOnFirstRequest(t *testing.T) {
	rl := NewRateLimiter(0, testLogger())

	start := time.Now()
	rl.ApplyDelay(context.Background(), "fresh-host.com", 5*time.Second)

	assert.Less(t, time.Since(start), 10*time.Millisecond)
}
