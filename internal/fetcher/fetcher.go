// Package fetcher downloads and parses tabular reference data from local
// files, HTTP and FTP.
package fetcher

import (
	"context"
	"io"
	"strings"
)

// Fetcher downloads a remote document.
type Fetcher interface {
	// Download fetches the URL and returns the body. The caller closes it.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// ConditionalFetcher can skip a download when the remote copy is unchanged.
type ConditionalFetcher interface {
	Fetcher

	// DownloadIfChanged returns changed=false and a nil body when etag still
	// matches the remote copy.
	DownloadIfChanged(ctx context.Context, url, etag string) (body io.ReadCloser, newETag string, changed bool, err error)
}

// IsRemote reports whether source is an http(s) or ftp URL.
func IsRemote(source string) bool {
	s := strings.ToLower(source)
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "ftp://")
}
