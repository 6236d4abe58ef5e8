package feed_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"quoteupdater/internal/feed"
	"quoteupdater/internal/instrument"
)

type stubFeed struct {
	id   string
	kind feed.Kind
}

func (s stubFeed) ID() string      { return s.id }
func (s stubFeed) Name() string    { return s.id }
func (s stubFeed) Kind() feed.Kind { return s.kind }
func (s stubFeed) UpdateLatestQuotes(context.Context, []*instrument.Instrument) (bool, []error) {
	return false, nil
}
func (s stubFeed) UpdateHistoricalQuotes(context.Context, *instrument.Instrument) (bool, []error) {
	return false, nil
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	// Arrange: a registry with two feeds
	r := feed.NewRegistry(stubFeed{id: "B"}, stubFeed{id: "A", kind: feed.PerURL})

	// Assert: lookups resolve by id
	f, ok := r.Lookup("A")
	require.True(t, ok)
	require.Equal(t, feed.PerURL, f.Kind())
	require.Equal(t, []string{"A", "B"}, r.IDs())

	// Assert: empty and unknown ids do not resolve
	_, ok = r.Lookup("")
	require.False(t, ok)
	_, ok = r.Lookup("C")
	require.False(t, ok)

	// Act: unregister a feed
	r.Unregister("A")
	_, ok = r.Lookup("A")
	require.False(t, ok)
	require.Equal(t, []string{"B"}, r.IDs())
}

func TestKindString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "batch", feed.Batch.String())
	require.Equal(t, "per-url", feed.PerURL.String())
	require.Equal(t, "unknown", feed.Kind(42).String())
}
