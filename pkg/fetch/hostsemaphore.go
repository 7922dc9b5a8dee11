package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/linkpeek/linkpeek/pkg/utils"
)

const defaultPerHost = 2

// hostSlot is the permit set of one host. users counts holders and waiters;
// a slot with no users since idleSince may be evicted.
type hostSlot struct {
	sem       *semaphore.Weighted
	users     int
	idleSince time.Time
}

// HostSemaphorePool bounds concurrent requests per host. Resolver page fetches,
// image downloads, expansions and shortener calls share one pool, so a burst of
// links to the same image host or shortener queues instead of fanning out.
type HostSemaphorePool struct {
	mu      sync.Mutex
	slots   map[string]*hostSlot
	perHost int64
	log     *logrus.Entry
}

// NewHostSemaphorePool creates a pool allowing maxPerHost concurrent requests per host
func NewHostSemaphorePool(maxPerHost int, log *logrus.Entry) *HostSemaphorePool {
	if maxPerHost <= 0 {
		log.Warnf("max_requests_per_host invalid or zero, defaulting to %d", defaultPerHost)
		maxPerHost = defaultPerHost
	}
	return &HostSemaphorePool{
		slots:   make(map[string]*hostSlot),
		perHost: int64(maxPerHost),
		log:     log,
	}
}

// hostKey folds host names that address the same server. URL hosts are
// case-insensitive and may carry a trailing root dot.
func hostKey(host string) string {
	return strings.TrimSuffix(strings.ToLower(host), ".")
}

// Acquire waits for a permit for host. The returned release is safe to call
// more than once. A deadline while waiting is reported as ErrSemaphoreTimeout.
func (p *HostSemaphorePool) Acquire(ctx context.Context, host string) (release func(), err error) {
	key := hostKey(host)
	slot := p.checkout(key)

	if err := slot.sem.Acquire(ctx, 1); err != nil {
		p.checkin(slot)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: host %s: %w", utils.ErrSemaphoreTimeout, key, err)
		}
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			slot.sem.Release(1)
			p.checkin(slot)
		})
	}, nil
}

func (p *HostSemaphorePool) checkout(key string) *hostSlot {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot, ok := p.slots[key]
	if !ok {
		slot = &hostSlot{sem: semaphore.NewWeighted(p.perHost)}
		p.slots[key] = slot
	}
	slot.users++
	return slot
}

func (p *HostSemaphorePool) checkin(slot *hostSlot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot.users--
	if slot.users == 0 {
		slot.idleSince = time.Now()
	}
}

// InUse returns how many callers hold or wait for a permit on host
func (p *HostSemaphorePool) InUse(host string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slot, ok := p.slots[hostKey(host)]; ok {
		return slot.users
	}
	return 0
}

// RunEviction drops hosts idle for longer than interval until ctx is done.
// The engine runs it for the lifetime of the process.
func (p *HostSemaphorePool) RunEviction(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			p.evictIdle(now.Add(-interval))
		case <-ctx.Done():
			return
		}
	}
}

// evictIdle removes slots with no users that went idle before cutoff
func (p *HostSemaphorePool) evictIdle(cutoff time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	evicted := 0
	for key, slot := range p.slots {
		if slot.users == 0 && slot.idleSince.Before(cutoff) {
			delete(p.slots, key)
			evicted++
		}
	}
	if evicted > 0 {
		p.log.Debugf("Evicted %d idle host slots, %d remain", evicted, len(p.slots))
	}
	return evicted
}

// Len returns the number of tracked hosts
func (p *HostSemaphorePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}
