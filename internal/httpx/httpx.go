package httpx

import (
	"context"
	"net"
	"net/http"
	"time"
)

const DefaultUserAgent = "quoteupdater/1.0"

// Client is a small wrapper around http.Client with sane defaults.
// It satisfies the per-URL feeds' HTTPClient interface as well.
type Client struct {
	HTTP      *http.Client
	UserAgent string
	Headers   map[string]string
}

func New(timeout time.Duration) *Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       20,
		ForceAttemptHTTP2:     true,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
	}
	return &Client{HTTP: &http.Client{Timeout: timeout, Transport: transport}, UserAgent: DefaultUserAgent}
}

// Do sends req on ctx, filling in the user agent and default headers the
// request does not set itself.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return c.HTTP.Do(c.prepare(req.WithContext(ctx)))
}

// Doer adapts the client to interfaces that take the context from the request.
func (c *Client) Doer() *RequestDoer { return &RequestDoer{c: c} }

type RequestDoer struct{ c *Client }

func (d *RequestDoer) Do(req *http.Request) (*http.Response, error) {
	return d.c.HTTP.Do(d.c.prepare(req))
}

func (c *Client) prepare(req *http.Request) *http.Request {
	if c.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	for k, v := range c.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return req
}
