package update

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/sync/semaphore"
)

// HostToken keys mutual exclusion between tasks that hit the same host.
// The zero value carries no host and never conflicts.
type HostToken struct {
	host string
}

// TokenFor derives a token from the host of rawURL. It returns false when the
// URL does not parse or has no host; the feed call reports a better error
// for those URLs than the scheduler could.
func TokenFor(rawURL string) (HostToken, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return HostToken{}, false
	}
	host := u.Hostname()
	if host == "" {
		return HostToken{}, false
	}
	return HostToken{host: host}, true
}

// Host returns the host the token was derived from.
func (t HostToken) Host() string { return t.host }

// Conflicts reports whether tasks holding t and o must not run concurrently.
func (t HostToken) Conflicts(o HostToken) bool {
	return t.host != "" && t.host == o.host
}

// HostLocks hands out one exclusive slot per host.
type HostLocks struct {
	mu    sync.Mutex
	hosts map[HostToken]*semaphore.Weighted
}

func NewHostLocks() *HostLocks {
	return &HostLocks{hosts: make(map[HostToken]*semaphore.Weighted)}
}

// Acquire blocks until the slot for t is free or ctx is done. The zero token
// is never blocked.
func (l *HostLocks) Acquire(ctx context.Context, t HostToken) (release func(), err error) {
	if t.host == "" {
		return func() {}, nil
	}
	l.mu.Lock()
	sem, ok := l.hosts[t]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.hosts[t] = sem
	}
	l.mu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}
