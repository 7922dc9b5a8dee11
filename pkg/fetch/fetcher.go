package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/linkpeek/linkpeek/pkg/config"
	"github.com/linkpeek/linkpeek/pkg/utils"
)

const maxTextBodyBytes = 1 << 20 // Shortener responses are a single URL

// Options controls retry and politeness behaviour of a Fetcher
type Options struct {
	UserAgent         string
	MaxRetries        int
	InitialRetryDelay time.Duration
	MaxRetryDelay     time.Duration
	DelayPerHost      time.Duration
}

// OptionsFromConfig extracts Fetcher options from a validated AppConfig
func OptionsFromConfig(cfg *config.AppConfig) Options {
	return Options{
		UserAgent:         cfg.UserAgent,
		MaxRetries:        cfg.MaxRetries,
		InitialRetryDelay: cfg.InitialRetryDelay,
		MaxRetryDelay:     cfg.MaxRetryDelay,
		DelayPerHost:      cfg.DelayPerHost,
	}
}

// Fetcher handles outbound HTTP for resolvers, expanders and shorteners.
// GET goes through retry with backoff; HEAD and POST are single attempts with
// redirects disabled so the caller can read the Location header.
type Fetcher struct {
	client     *http.Client
	noRedirect *http.Client
	opts       Options
	hosts      *HostSemaphorePool // Optional per-host concurrency limit
	limiter    *RateLimiter       // Optional per-host politeness delay
	log        *logrus.Entry
}

// NewFetcher creates a new Fetcher. hosts and limiter may be nil.
func NewFetcher(client *http.Client, opts Options, hosts *HostSemaphorePool, limiter *RateLimiter, log *logrus.Entry) *Fetcher {
	return &Fetcher{
		client:     client,
		noRedirect: withoutRedirects(client),
		opts:       opts,
		hosts:      hosts,
		limiter:    limiter,
		log:        log,
	}
}

// Get performs a GET with retries. The response status is 2xx; caller must close the body.
// header entries are added to the request (e.g. Referer).
func (f *Fetcher) Get(ctx context.Context, rawURL string, header http.Header) (*http.Response, error) {
	req, err := f.newRequest(ctx, http.MethodGet, rawURL, nil, header)
	if err != nil {
		return nil, err
	}

	release, err := f.acquireHost(ctx, req.URL.Hostname())
	if err != nil {
		return nil, err
	}
	defer release()

	resp, err := f.FetchWithRetry(ctx, req)
	if err != nil {
		if resp != nil {
			drainAndClose(resp)
		}
		return nil, err
	}
	return resp, nil
}

// GetText performs a GET and returns the trimmed response body
func (f *Fetcher) GetText(ctx context.Context, rawURL string) (string, error) {
	resp, err := f.Get(ctx, rawURL, nil)
	if err != nil {
		return "", err
	}
	defer drainAndClose(resp)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTextBodyBytes))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", utils.ErrResponseBodyRead, rawURL, err)
	}
	return strings.TrimSpace(string(body)), nil
}

// Head performs a single HEAD request without following redirects.
// Any status is returned without error; the body is already closed.
func (f *Fetcher) Head(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := f.newRequest(ctx, http.MethodHead, rawURL, nil, nil)
	if err != nil {
		return nil, err
	}
	return f.doOnce(ctx, req)
}

// PostForm posts a urlencoded form in a single attempt without following redirects.
// Any status is returned without error; the body is already closed.
func (f *Fetcher) PostForm(ctx context.Context, rawURL string, form url.Values) (*http.Response, error) {
	header := http.Header{}
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	req, err := f.newRequest(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()), header)
	if err != nil {
		return nil, err
	}
	return f.doOnce(ctx, req)
}

func (f *Fetcher) newRequest(ctx context.Context, method, rawURL string, body io.Reader, header http.Header) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", utils.ErrRequestCreation, method, rawURL, err)
	}
	if f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}

// doOnce sends req through the non-redirecting client under the host limits
func (f *Fetcher) doOnce(ctx context.Context, req *http.Request) (*http.Response, error) {
	host := req.URL.Hostname()
	release, err := f.acquireHost(ctx, host)
	if err != nil {
		return nil, err
	}
	defer release()

	resp, err := f.noRedirect.Do(req)
	if f.limiter != nil {
		f.limiter.UpdateLastRequestTime(host)
	}
	if err != nil {
		return nil, err
	}
	drainAndClose(resp)
	f.log.WithFields(logrus.Fields{"url": req.URL.String(), "method": req.Method, "status_code": resp.StatusCode}).Debug("Request completed")
	return resp, nil
}

// acquireHost takes a per-host slot and applies the politeness delay.
// The returned func releases the slot.
func (f *Fetcher) acquireHost(ctx context.Context, host string) (func(), error) {
	release := func() {}
	if f.hosts != nil {
		var err error
		if release, err = f.hosts.Acquire(ctx, host); err != nil {
			return nil, err
		}
	}
	if f.limiter != nil {
		f.limiter.ApplyDelay(ctx, host, f.opts.DelayPerHost)
	}
	return release, nil
}

// FetchWithRetry performs an HTTP request under ctx.
// It retries with exponential backoff and jitter on network errors, 5xx and 429.
// On a non-retryable non-2xx status the response is returned with an error; caller must close it.
func (f *Fetcher) FetchWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	var currentResp *http.Response

	reqLog := f.log.WithField("url", req.URL.String())
	host := req.URL.Hostname()
	maxRetries := f.opts.MaxRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, fmt.Errorf("context cancelled (%v) during retry backoff after error: %w", ctx.Err(), lastErr)
			}
			return nil, fmt.Errorf("context cancelled before first attempt: %w", ctx.Err())
		default:
		}

		if attempt > 0 {
			delay := f.backoff(attempt)
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "max_retries": maxRetries, "delay": delay}).Debug("Retrying request...")

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				if lastErr != nil {
					return nil, fmt.Errorf("context cancelled (%v) during retry delay after error: %w", ctx.Err(), lastErr)
				}
				return nil, fmt.Errorf("context cancelled during retry delay: %w", ctx.Err())
			}
		}

		currentResp, lastErr = f.client.Do(req.WithContext(ctx))
		if f.limiter != nil {
			f.limiter.UpdateLastRequestTime(host)
		}

		if lastErr != nil {
			if currentResp != nil {
				drainAndClose(currentResp)
			}
			// Context errors are final
			if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
				return nil, lastErr
			}
			reqLog.WithField("attempt", attempt).Debugf("Network error: %v", lastErr)
			continue
		}

		statusCode := currentResp.StatusCode
		resLog := reqLog.WithFields(logrus.Fields{"status_code": statusCode, "attempt": attempt})

		switch {
		case statusCode >= 200 && statusCode < 300:
			resLog.Debug("Successfully fetched")
			return currentResp, nil

		case statusCode >= 500:
			resLog.Debug("Server error, retrying...")
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrServerHTTPError, statusCode, currentResp.Status)
			drainAndClose(currentResp)
			continue

		case statusCode == http.StatusTooManyRequests:
			resLog.Debug("Received 429 Too Many Requests, retrying...")
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, currentResp.Status)
			drainAndClose(currentResp)
			continue

		case statusCode >= 400 && statusCode < 500:
			return currentResp, fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, currentResp.Status)

		default:
			return currentResp, fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, statusCode, currentResp.Status)
		}
	}

	reqLog.Debugf("All %d fetch attempts failed. Last error: %v", maxRetries+1, lastErr)
	if lastErr != nil {
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return nil, lastErr
		}
		return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
	}
	return nil, utils.ErrRetryFailed
}

// backoff returns initial * 2^(attempt-1) capped at MaxRetryDelay, with +/- 10% jitter
func (f *Fetcher) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(f.opts.InitialRetryDelay) * math.Pow(2, float64(attempt-1)))
	if delay <= 0 || (f.opts.MaxRetryDelay > 0 && delay > f.opts.MaxRetryDelay) {
		delay = f.opts.MaxRetryDelay
	}
	if delay <= 0 {
		return 0
	}
	var jitter time.Duration
	if window := int64(delay) / 5; window > 0 {
		jitter = time.Duration(rand.Int63n(window)) - delay/10
	}
	if d := delay + jitter; d > 0 {
		return d
	}
	return 0
}

// drainAndClose discards the rest of the body so the connection can be reused
func drainAndClose(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
