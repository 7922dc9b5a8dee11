package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkpeek/linkpeek/pkg/utils"
)

// testOptions returns Options with fast retry delays for testing
func testOptions(maxRetries int) Options {
	return Options{
		UserAgent:         "linkpeek-test/1.0",
		MaxRetries:        maxRetries,
		InitialRetryDelay: 10 * time.Millisecond,
		MaxRetryDelay:     50 * time.Millisecond,
	}
}

// testLogger returns a logger that discards output
func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testFetcher(maxRetries int) *Fetcher {
	return NewFetcher(&http.Client{Timeout: 5 * time.Second}, testOptions(maxRetries), nil, nil, testLogger())
}

// mockServer creates an httptest.Server that returns status codes in sequence.
func mockServer(t *testing.T, statusCodes []int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	attemptCount := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idx := int(attemptCount.Add(1)) - 1
		if idx >= len(statusCodes) {
			idx = len(statusCodes) - 1
		}
		w.WriteHeader(statusCodes[idx])
	}))
	t.Cleanup(server.Close)
	return server, attemptCount
}

func TestGet_SendsHeaders(t *testing.T) {
	var gotUA, gotReferer string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		w.Write([]byte("ok"))
	}))
	t.Cleanup(server.Close)

	header := http.Header{}
	header.Set("Referer", "http://www.pixiv.net/member_illust.php?illust_id=1")
	resp, err := testFetcher(0).Get(context.Background(), server.URL, header)

	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "linkpeek-test/1.0", gotUA)
	assert.Equal(t, "http://www.pixiv.net/member_illust.php?illust_id=1", gotReferer)
}

func TestGet_ServerError_RetrySuccess(t *testing.T) {
	server, attempts := mockServer(t, []int{500, 503, 200})

	resp, err := testFetcher(3).Get(context.Background(), server.URL, nil)

	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestGet_ServerError_AllRetriesFail(t *testing.T) {
	server, attempts := mockServer(t, []int{500})

	resp, err := testFetcher(2).Get(context.Background(), server.URL, nil)

	require.Error(t, err)
	assert.Nil(t, resp)
	assert.True(t, errors.Is(err, utils.ErrRetryFailed))
	assert.True(t, errors.Is(err, utils.ErrServerHTTPError))
	assert.Equal(t, int32(3), attempts.Load())
}

func TestGet_RateLimited_Retries(t *testing.T) {
	server, attempts := mockServer(t, []int{429, 200})

	resp, err := testFetcher(2).Get(context.Background(), server.URL, nil)

	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, int32(2), attempts.Load())
}

func TestGet_ClientError_NoRetry(t *testing.T) {
	server, attempts := mockServer(t, []int{404})

	resp, err := testFetcher(3).Get(context.Background(), server.URL, nil)

	require.Error(t, err)
	assert.Nil(t, resp, "Get closes the body of failed responses")
	assert.True(t, errors.Is(err, utils.ErrClientHTTPError))
	assert.Equal(t, int32(1), attempts.Load())
}

func TestGet_InvalidURL(t *testing.T) {
	_, err := testFetcher(0).Get(context.Background(), "http://[::1", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrRequestCreation))
}

func TestGet_ContextTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := testFetcher(3).Get(ctx, server.URL, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), time.Second)
}

func TestGet_ContextCancelledBeforeAttempt(t *testing.T) {
	server, attempts := mockServer(t, []int{200})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testFetcher(3).Get(ctx, server.URL, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, int32(0), attempts.Load())
}

func TestGetText_TrimsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("  http://tinyurl.com/abc\n"))
	}))
	t.Cleanup(server.Close)

	text, err := testFetcher(0).GetText(context.Background(), server.URL)

	require.NoError(t, err)
	assert.Equal(t, "http://tinyurl.com/abc", text)
}

func TestHead_DoesNotFollowRedirects(t *testing.T) {
	var targetHits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/target" {
			targetHits.Add(1)
			return
		}
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Location", "/target")
		w.WriteHeader(http.StatusMovedPermanently)
	}))
	t.Cleanup(server.Close)

	resp, err := testFetcher(3).Head(context.Background(), server.URL+"/short")

	require.NoError(t, err)
	assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	assert.Equal(t, "/target", resp.Header.Get("Location"))
	assert.Equal(t, int32(0), targetHits.Load())
}

func TestPostForm_ReturnsLocation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "http://example.com/long", r.PostForm.Get("url"))
		w.Header().Set("Location", "http://goo.gl/xyz")
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(server.Close)

	resp, err := testFetcher(0).PostForm(context.Background(), server.URL, url.Values{"url": {"http://example.com/long"}})

	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "http://goo.gl/xyz", resp.Header.Get("Location"))
}

func TestFetcher_HostLimitTimeout(t *testing.T) {
	server, _ := mockServer(t, []int{200})
	u, err := url.Parse(server.URL)
	require.NoError(t, err)

	pool := NewHostSemaphorePool(1, testLogger())
	release, err := pool.Acquire(context.Background(), u.Hostname())
	require.NoError(t, err)
	defer release()

	f := NewFetcher(&http.Client{}, testOptions(0), pool, nil, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = f.Head(ctx, server.URL)

	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrSemaphoreTimeout))
}

func TestBackoff_CappedAtMax(t *testing.T) {
	f := testFetcher(10)
	for attempt := 1; attempt <= 10; attempt++ {
		d := f.backoff(attempt)
		assert.LessOrEqual(t, d, 55*time.Millisecond, "attempt %d", attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}
}
