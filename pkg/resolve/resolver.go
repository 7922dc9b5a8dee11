package resolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/linkpeek/linkpeek/pkg/cache"
	"github.com/linkpeek/linkpeek/pkg/config"
	"github.com/linkpeek/linkpeek/pkg/extract"
	"github.com/linkpeek/linkpeek/pkg/fetch"
	"github.com/linkpeek/linkpeek/pkg/models"
	"github.com/linkpeek/linkpeek/pkg/rules"
	"github.com/linkpeek/linkpeek/pkg/uri"
	"github.com/linkpeek/linkpeek/pkg/utils"
)

const defaultImageExt = ".jpg"

var (
	errClearedDuringFetch = errors.New("cache cleared while downloading")
	errStopped            = errors.New("resolver stopped")
)

// Resolver turns source URIs into thumbnails.
// Direct rules answer immediately. Deferred rules are located, downloaded into
// the result cache and served from it until the cache is cleared.
type Resolver struct {
	registry *rules.Registry
	cache    *cache.ResultCache
	fetcher  *fetch.Fetcher
	timeout  time.Duration
	maxBytes int64
	group    singleflight.Group
	log      *logrus.Entry

	// Lifetime of shared downloads, ended by Stop
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	stopped  bool
	inflight sync.WaitGroup
}

// New creates a Resolver and registers the deferred pixiv rule after whatever
// registry already holds.
func New(registry *rules.Registry, c *cache.ResultCache, f *fetch.Fetcher, cfg *config.AppConfig, log *logrus.Entry) *Resolver {
	log = log.WithField("component", "resolver")
	registry.MustRegister(PixivRule(f, log))
	ctx, cancel := context.WithCancel(context.Background())
	return &Resolver{
		registry: registry,
		cache:    c,
		fetcher:  f,
		timeout:  cfg.ScrapeTimeout,
		maxBytes: cfg.MaxImageSizeBytes,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// ResolveString parses raw and resolves it. Unparsable input is no match.
func (r *Resolver) ResolveString(ctx context.Context, raw string) (models.Thumbnail, bool) {
	u, err := uri.Parse(raw)
	if err != nil {
		return models.Thumbnail{}, false
	}
	return r.Resolve(ctx, u)
}

// Resolve returns the thumbnail for u, or false when no rule matches or a
// deferred resolution fails. Failures are logged, never returned.
func (r *Resolver) Resolve(ctx context.Context, u uri.URI) (models.Thumbnail, bool) {
	rule, ok := r.registry.Match(u)
	if !ok {
		return models.Thumbnail{}, false
	}

	switch rule.Kind {
	case rules.Direct:
		return models.Thumbnail{Source: u.String(), Display: rule.Transform(u)}, true
	case rules.Deferred:
		return r.resolveDeferred(ctx, rule, u)
	}
	return models.Thumbnail{}, false
}

func (r *Resolver) resolveDeferred(ctx context.Context, rule rules.Rule, u uri.URI) (models.Thumbnail, bool) {
	key := u.String()
	if thumb, ok := r.cache.Get(key); ok {
		return thumb, true
	}

	// The shared work runs under the resolver's lifetime, not any single
	// caller's; each caller still stops waiting when its own ctx is done.
	// Flights are per cache generation, so callers arriving after a clear do
	// not join a download the clear has already invalidated.
	gen := r.cache.Generation()
	flightKey := strconv.FormatUint(gen, 10) + " " + key
	ch := r.group.DoChan(flightKey, func() (any, error) {
		if !r.begin() {
			return nil, errStopped
		}
		defer r.inflight.Done()

		if thumb, ok := r.cache.Get(key); ok {
			return thumb, nil
		}
		workCtx := r.ctx
		if r.timeout > 0 {
			var cancel context.CancelFunc
			workCtx, cancel = context.WithTimeout(workCtx, r.timeout)
			defer cancel()
		}
		return r.fetchAndStore(workCtx, gen, rule, u)
	})

	ruleLog := r.log.WithFields(logrus.Fields{"url": key, "rule": rule.Name})
	select {
	case res := <-ch:
		if errors.Is(res.Err, errClearedDuringFetch) || errors.Is(res.Err, errStopped) {
			ruleLog.Debugf("Deferred resolution abandoned: %v", res.Err)
			return models.Thumbnail{}, false
		}
		if res.Err != nil {
			ruleLog.WithField("error_type", utils.CategorizeError(res.Err)).Warnf("Deferred resolution failed: %v", res.Err)
			return models.Thumbnail{}, false
		}
		return res.Val.(models.Thumbnail), true
	case <-ctx.Done():
		ruleLog.Debugf("Gave up waiting for resolution: %v", ctx.Err())
		return models.Thumbnail{}, false
	}
}

// begin registers a shared download unless the resolver is stopped
func (r *Resolver) begin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	r.inflight.Add(1)
	return true
}

// fetchAndStore downloads the asset for u and caches it, unless the cache was
// cleared after generation gen was read.
func (r *Resolver) fetchAndStore(ctx context.Context, gen uint64, rule rules.Rule, u uri.URI) (models.Thumbnail, error) {
	asset, ok := rule.Locate(ctx, u)
	if !ok {
		return models.Thumbnail{}, fmt.Errorf("%w: %s", utils.ErrNoImage, u)
	}
	path, err := r.download(ctx, asset)
	if err != nil {
		return models.Thumbnail{}, err
	}
	thumb, ok := r.cache.PutAt(gen, u.String(), path)
	if !ok {
		return models.Thumbnail{}, fmt.Errorf("%w: %s", errClearedDuringFetch, u)
	}
	return thumb, nil
}

// download streams asset into a new cache file and returns its path.
// The file is removed on any failure.
func (r *Resolver) download(ctx context.Context, asset rules.Asset) (path string, err error) {
	assetURL, err := url.Parse(asset.URL)
	if err != nil {
		return "", fmt.Errorf("%w: asset url '%s': %w", utils.ErrParsing, asset.URL, err)
	}

	header := http.Header{}
	if asset.Referer != "" {
		header.Set("Referer", asset.Referer)
	}
	resp, err := r.fetcher.Get(ctx, asset.URL, header)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if cl := resp.Header.Get("Content-Length"); cl != "" && r.maxBytes > 0 {
		if size, perr := strconv.ParseInt(cl, 10, 64); perr == nil && size > r.maxBytes {
			io.Copy(io.Discard, resp.Body)
			return "", fmt.Errorf("%w: '%s' Content-Length %d > %d bytes", utils.ErrSizeLimit, asset.URL, size, r.maxBytes)
		}
	}

	out, err := r.cache.CreateFile(extract.Ext(assetURL, defaultImageExt))
	if err != nil {
		io.Copy(io.Discard, resp.Body)
		return "", err
	}
	name := out.Name()
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: closing '%s': %w", utils.ErrFilesystem, name, cerr)
			path = ""
		}
		if err != nil {
			if rerr := os.Remove(name); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
				r.log.Warnf("Failed to remove partial download '%s': %v", name, rerr)
			}
		}
	}()

	var reader io.Reader = resp.Body
	if r.maxBytes > 0 {
		// One extra byte tells a body of exactly maxBytes from an oversized one
		reader = io.LimitReader(resp.Body, r.maxBytes+1)
	}
	copied, err := io.Copy(out, reader)
	io.Copy(io.Discard, resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: writing '%s' (copied %d bytes): %w", utils.ErrFilesystem, name, copied, err)
	}
	if r.maxBytes > 0 && copied > r.maxBytes {
		return "", fmt.Errorf("%w: '%s' exceeds %d bytes", utils.ErrSizeLimit, asset.URL, r.maxBytes)
	}

	r.log.WithFields(logrus.Fields{"image": asset.URL, "bytes": copied}).Debug("Downloaded thumbnail")
	return name, nil
}

// Rules returns the registry the resolver matches against
func (r *Resolver) Rules() *rules.Registry { return r.registry }

// OnClear implements host.Listener: drops cached results and their files.
// Downloads still running are discarded when they finish.
func (r *Resolver) OnClear() {
	r.cache.OnClear()
}

// Stop cancels shared downloads and waits for them to clean up their files.
// Deferred resolutions fail after Stop; direct rules keep working.
func (r *Resolver) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	r.cancel()
	r.inflight.Wait()
}
