package tablefeed

import (
	"net/http"
	"time"
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=tablefeed_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option is a configuration option for the table feed.
type Option func(*Feed)

// WithHTTPClient sets the HTTP client used to download tables.
func WithHTTPClient(httpClient HTTPClient) Option {
	return func(f *Feed) {
		f.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) Option {
	return func(f *Feed) {
		for key, values := range header {
			for _, value := range values {
				f.header.Add(key, value)
			}
		}
	}
}

// WithCacheSize bounds the number of parsed tables kept in memory.
func WithCacheSize(n int) Option {
	return func(f *Feed) {
		if n > 0 {
			f.cacheSize = n
		}
	}
}

// WithCacheTTL sets how long a parsed table is served without refetching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(f *Feed) {
		if ttl > 0 {
			f.cacheTTL = ttl
		}
	}
}

// WithName sets the display name used in quote sources and error labels.
func WithName(name string) Option {
	return func(f *Feed) {
		if name != "" {
			f.name = name
		}
	}
}
