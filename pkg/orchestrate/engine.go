package orchestrate

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/linkpeek/linkpeek/pkg/cache"
	"github.com/linkpeek/linkpeek/pkg/config"
	"github.com/linkpeek/linkpeek/pkg/expand"
	"github.com/linkpeek/linkpeek/pkg/fetch"
	"github.com/linkpeek/linkpeek/pkg/host"
	"github.com/linkpeek/linkpeek/pkg/models"
	"github.com/linkpeek/linkpeek/pkg/resolve"
	"github.com/linkpeek/linkpeek/pkg/rules"
	"github.com/linkpeek/linkpeek/pkg/shorten"
	"github.com/linkpeek/linkpeek/pkg/storage"
)

const (
	defaultParallel      = 4
	hostEvictionInterval = 5 * time.Minute
	badgerGCInterval     = 10 * time.Minute
)

// Result is the outcome of resolving one source in a batch
type Result struct {
	Source    string
	Thumbnail models.Thumbnail
	Found     bool
	Duration  time.Duration
}

// Engine owns every component built from one AppConfig and the host event bus
// connecting them
type Engine struct {
	cfg *config.AppConfig
	log *logrus.Entry

	// Shared resources
	fetcher *fetch.Fetcher
	hosts   *fetch.HostSemaphorePool

	registry   *rules.Registry
	cache      *cache.ResultCache
	resolver   *resolve.Resolver
	store      storage.ExpansionStore
	expander   *expand.Expander
	shorteners *shorten.Registry
	bus        *host.Bus

	// Coordination
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	shutdownErr  error
}

// NewEngine builds an Engine on an HTTP client configured from cfg.
// cfg must already be validated.
func NewEngine(cfg *config.AppConfig, log *logrus.Entry) (*Engine, error) {
	return NewEngineWithClient(cfg, fetch.NewClient(cfg.HTTPClientSettings, log.WithField("component", "http")), log)
}

// NewEngineWithClient builds an Engine on client
func NewEngineWithClient(cfg *config.AppConfig, client *http.Client, log *logrus.Entry) (*Engine, error) {
	store, err := storage.Open(cfg.ExpansionStore, log.WithField("component", "storage"))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	hosts := fetch.NewHostSemaphorePool(cfg.MaxRequestsPerHost, log.WithField("component", "hostsemaphore"))
	limiter := fetch.NewRateLimiter(cfg.DelayPerHost, log.WithField("component", "ratelimit"))
	fetcher := fetch.NewFetcher(client, fetch.OptionsFromConfig(cfg), hosts, limiter, log.WithField("component", "fetch"))

	registry := rules.NewRegistry()
	rules.RegisterDirect(registry)
	resultCache := cache.New(cfg.EffectiveTempDir(), log.WithField("component", "cache"))

	e := &Engine{
		cfg:        cfg,
		log:        log.WithField("component", "engine"),
		fetcher:    fetcher,
		hosts:      hosts,
		registry:   registry,
		cache:      resultCache,
		resolver:   resolve.New(registry, resultCache, fetcher, cfg, log),
		store:      store,
		expander:   expand.New(fetcher, store, cfg, log),
		shorteners: shorten.FromConfig(fetcher, cfg.Shorteners),
		bus:        host.NewBus(),
		ctx:        ctx,
		cancel:     cancel,
	}

	e.bus.Subscribe(host.Shutdown, e.resolver)
	e.bus.Subscribe(host.ClearCache, e.resolver)
	e.bus.Subscribe(host.ClearCache, e.expander)
	if _, persistent := store.(*storage.BadgerStore); !persistent {
		e.bus.Subscribe(host.Shutdown, e.expander)
	}

	go hosts.RunEviction(ctx, hostEvictionInterval)
	if bs, ok := store.(*storage.BadgerStore); ok {
		go bs.RunGC(ctx, badgerGCInterval)
	}

	e.log.WithFields(logrus.Fields{"rules": registry.Len(), "store": cfg.ExpansionStore.Backend, "temp_dir": resultCache.Dir()}).Debug("Engine ready")
	return e, nil
}

// ResolveAll resolves sources with at most parallel resolutions in flight.
// Results are in input order.
func (e *Engine) ResolveAll(ctx context.Context, sources []string, parallel int) []Result {
	if parallel <= 0 {
		parallel = defaultParallel
	}
	startTime := time.Now()
	results := make([]Result, len(sources))
	sem := semaphore.NewWeighted(int64(parallel))

	for i, src := range sources {
		results[i].Source = src
	}

	var wg sync.WaitGroup
	for i, src := range sources {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			start := time.Now()
			thumb, ok := e.resolver.ResolveString(ctx, src)
			results[i] = Result{Source: src, Thumbnail: thumb, Found: ok, Duration: time.Since(start)}
		}()
	}
	wg.Wait()

	e.logSummary(results, time.Since(startTime))
	return results
}

func (e *Engine) logSummary(results []Result, total time.Duration) {
	found := 0
	for _, r := range results {
		if r.Found {
			found++
		}
	}
	e.log.WithFields(logrus.Fields{"total": len(results), "found": found, "duration": total}).Info("Batch resolution completed")
}

// ClearCache fires host.ClearCache
func (e *Engine) ClearCache() {
	e.log.Debug("Clearing caches")
	e.bus.Fire(host.ClearCache)
}

// Shutdown cancels in-flight downloads, fires host.Shutdown, stops background
// work and closes the store. Only the first call does anything.
func (e *Engine) Shutdown() error {
	e.shutdownOnce.Do(func() {
		e.log.Debug("Shutting down engine")
		e.resolver.Stop()
		e.bus.Fire(host.Shutdown)
		e.cancel()
		e.shutdownErr = e.store.Close()
	})
	return e.shutdownErr
}

// Accessors for the wired components
func (e *Engine) Config() *config.AppConfig { return e.cfg }
func (e *Engine) Rules() *rules.Registry { return e.registry }
func (e *Engine) Resolver() *resolve.Resolver { return e.resolver }
func (e *Engine) Expander() *expand.Expander { return e.expander }
func (e *Engine) Shorteners() *shorten.Registry { return e.shorteners }
func (e *Engine) Bus() *host.Bus { return e.bus }
func (e *Engine) Cache() *cache.ResultCache { return e.cache }
func (e *Engine) Store() storage.ExpansionStore { return e.store }
