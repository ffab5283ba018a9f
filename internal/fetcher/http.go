package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/invoice-cli/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	// RatePerHost is the initial request rate allowed per host. Default 5/s.
	RatePerHost rate.Limit
	Client      *http.Client
}

// AdaptiveLimiter wraps a rate.Limiter that speeds up by 20% on success, up
// to twice the initial rate, and halves on 429, down to a quarter of it.
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive limiter starting at initialRate.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows a request.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess raises the rate.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = min(a.currentRate*1.2, a.maxRate)
	a.limiter.SetLimit(a.currentRate)
}

// OnRateLimit halves the rate.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = max(a.currentRate*0.5, a.minRate)
	a.limiter.SetLimit(a.currentRate)
	zap.L().Warn("fetcher: reducing rate after 429", zap.Float64("new_rate", float64(a.currentRate)))
}

// Limit returns the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// HTTPFetcher downloads over HTTP with per-host adaptive rate limiting.
// It does not retry: retryable failures come back as
// resilience.TransientError for the caller's retry policy.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions

	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
}

// NewHTTPFetcher creates an HTTPFetcher.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "invoice-cli/1.0"
	}
	if opts.RatePerHost <= 0 {
		opts.RatePerHost = 5
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &HTTPFetcher{client: client, opts: opts, limiters: make(map[string]*AdaptiveLimiter)}
}

func (f *HTTPFetcher) limiterFor(u *url.URL) *AdaptiveLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[u.Host]
	if !ok {
		lim = NewAdaptiveLimiter(f.opts.RatePerHost, 1)
		f.limiters[u.Host] = lim
	}
	return lim
}

// do sends req and classifies the outcome. A 304 is returned as-is.
func (f *HTTPFetcher) do(req *http.Request) (*http.Response, error) {
	lim := f.limiterFor(req.URL)
	if err := lim.Wait(req.Context()); err != nil {
		return nil, eris.Wrap(err, "fetcher: rate limiter wait")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, eris.Wrapf(err, "fetcher: get %s", req.URL.Redacted())
		}
		return nil, resilience.NewTransientError(eris.Wrapf(err, "fetcher: get %s", req.URL.Redacted()), 0)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotModified:
		lim.OnSuccess()
		return resp, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		lim.OnRateLimit()
	}
	_ = resp.Body.Close()

	err = eris.Errorf("fetcher: unexpected status %d from %s", resp.StatusCode, req.URL.Redacted())
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(err, resp.StatusCode)
	}
	return nil, err
}

// Download fetches rawURL and returns the body.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	body, _, changed, err := f.DownloadIfChanged(ctx, rawURL, "")
	if err == nil && !changed {
		return nil, eris.Errorf("fetcher: unexpected not-modified from %s", rawURL)
	}
	return body, err
}

// DownloadIfChanged sends If-None-Match when etag is set and reports
// changed=false on 304.
func (f *HTTPFetcher) DownloadIfChanged(ctx context.Context, rawURL, etag string) (io.ReadCloser, string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", false, eris.Wrap(err, "fetcher: create request")
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := f.do(req)
	if err != nil {
		return nil, "", false, err
	}
	if resp.StatusCode == http.StatusNotModified {
		_ = resp.Body.Close()
		return nil, etag, false, nil
	}
	return resp.Body, resp.Header.Get("ETag"), true, nil
}
