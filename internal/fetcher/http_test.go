package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/invoice-cli/internal/resilience"
)

func newTestFetcher() *HTTPFetcher {
	return NewHTTPFetcher(HTTPOptions{RatePerHost: rate.Inf})
}

func TestHTTPFetcher_Download(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "invoice-cli/1.0", r.Header.Get("User-Agent"))
		w.Write([]byte("Vendor Name,Approved PO List\n")) //nolint:errcheck
	}))
	defer ts.Close()

	body, err := newTestFetcher().Download(context.Background(), ts.URL+"/pos.csv")
	require.NoError(t, err)
	defer body.Close() //nolint:errcheck
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "Vendor Name,Approved PO List\n", string(data))
}

func TestHTTPFetcher_DownloadIfChanged(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte("data")) //nolint:errcheck
	}))
	defer ts.Close()

	f := newTestFetcher()
	body, etag, changed, err := f.DownloadIfChanged(context.Background(), ts.URL, "")
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, `"v1"`, etag)
	body.Close() //nolint:errcheck

	body, etag, changed, err = f.DownloadIfChanged(context.Background(), ts.URL, `"v1"`)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Nil(t, body)
	assert.Equal(t, `"v1"`, etag)
}

func TestHTTPFetcher_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusServiceUnavailable, true},
		{http.StatusBadGateway, true},
		{http.StatusTooManyRequests, true},
		{http.StatusNotFound, false},
		{http.StatusForbidden, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer ts.Close()

			_, err := newTestFetcher().Download(context.Background(), ts.URL)
			require.Error(t, err)
			assert.Equal(t, tt.transient, resilience.IsTransient(err))
		})
	}
}

func TestHTTPFetcher_ConnectionRefusedIsTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := ts.URL
	ts.Close()

	_, err := newTestFetcher().Download(context.Background(), url)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestAdaptiveLimiter(t *testing.T) {
	a := NewAdaptiveLimiter(10, 1)
	a.OnRateLimit()
	assert.InDelta(t, 5.0, float64(a.Limit()), 1e-9)
	a.OnRateLimit()
	a.OnRateLimit()
	assert.InDelta(t, 2.5, float64(a.Limit()), 1e-9)

	for i := 0; i < 20; i++ {
		a.OnSuccess()
	}
	assert.InDelta(t, 20.0, float64(a.Limit()), 1e-9)
}
