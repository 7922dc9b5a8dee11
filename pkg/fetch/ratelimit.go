package fetch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RateLimiter spaces out requests to the same host
type RateLimiter struct {
	hostLastRequest   map[string]time.Time
	hostLastRequestMu sync.Mutex
	defaultDelay      time.Duration
	log               *logrus.Entry
}

// NewRateLimiter creates a RateLimiter; defaultDelay applies when a call passes no delay
func NewRateLimiter(defaultDelay time.Duration, log *logrus.Entry) *RateLimiter {
	return &RateLimiter{
		hostLastRequest: make(map[string]time.Time),
		defaultDelay:    defaultDelay,
		log:             log,
	}
}

// ApplyDelay sleeps until minDelay has passed since the last request to host,
// with +/- 10% jitter. Returns early if ctx is done.
func (rl *RateLimiter) ApplyDelay(ctx context.Context, host string, minDelay time.Duration) {
	if minDelay <= 0 {
		minDelay = rl.defaultDelay
	}
	if minDelay <= 0 {
		return
	}

	rl.hostLastRequestMu.Lock()
	lastReqTime, exists := rl.hostLastRequest[host]
	rl.hostLastRequestMu.Unlock()
	if !exists {
		return
	}

	elapsed := time.Since(lastReqTime)
	if elapsed >= minDelay {
		return
	}
	sleep := minDelay - elapsed
	if jitterRange := int64(sleep) / 5; jitterRange > 0 {
		sleep += time.Duration(rand.Int63n(jitterRange)) - sleep/10
	}
	if sleep <= 0 {
		return
	}

	rl.log.WithFields(logrus.Fields{"host": host, "sleep": sleep, "required_delay": minDelay}).Debug("Rate limit applying sleep")
	timer := time.NewTimer(sleep)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// UpdateLastRequestTime records now as the last request time for host.
// Call after the request attempt.
func (rl *RateLimiter) UpdateLastRequestTime(host string) {
	rl.hostLastRequestMu.Lock()
	rl.hostLastRequest[host] = time.Now()
	rl.hostLastRequestMu.Unlock()
}
