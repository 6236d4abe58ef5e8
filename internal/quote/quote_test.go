package quote

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"quoteupdater/internal/provider"
)

func TestNewestBySymbol_NewestWinsAcrossProviders(t *testing.T) {
	t1 := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	t2 := t1.Add(1 * time.Hour)

	in := []provider.Quote{
		{Symbol: "SAP.DE", Price: decimal.RequireFromString("10"), Currency: "EUR", Source: "Batch:xetra", ReceivedAt: t2},
		{Symbol: "SAP.DE", Price: decimal.RequireFromString("11"), Currency: "EUR", Source: "Other:xetra", ReceivedAt: t1},
	}

	out := NewestBySymbol(in)
	if len(out) != 1 {
		t.Fatalf("want 1, got %d: %+v", len(out), out)
	}
	got := out["SAP.DE"]
	if !got.Price.Equal(decimal.RequireFromString("10")) || !got.ReceivedAt.Equal(t2) {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestNewestBySymbol_EqualTimestamps_LaterInputWins(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	in := []provider.Quote{
		{Symbol: "X", Price: decimal.RequireFromString("1"), ReceivedAt: ts},
		{Symbol: "X", Price: decimal.RequireFromString("2"), ReceivedAt: ts},
	}
	got := NewestBySymbol(in)["X"]
	if !got.Price.Equal(decimal.RequireFromString("2")) {
		t.Fatalf("later input should win: %+v", got)
	}
}

func TestNewestBySymbol_ZeroTimestampReplaced(t *testing.T) {
	got := NewestBySymbol([]provider.Quote{{Symbol: "X", Price: decimal.NewFromInt(1)}})["X"]
	if got.ReceivedAt.IsZero() {
		t.Fatalf("zero timestamp not replaced: %+v", got)
	}
}

func TestMergePrices_UpsertsByDay(t *testing.T) {
	d1 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)
	existing := []Price{{Date: d1, Close: decimal.RequireFromString("1.5")}}

	// same value on same day -> unchanged
	merged, changed := MergePrices(existing, []Price{{Date: d1.Add(5 * time.Hour), Close: decimal.RequireFromString("1.50")}})
	if changed || len(merged) != 1 {
		t.Fatalf("expected no change, got changed=%v %+v", changed, merged)
	}

	// new day prepended out of order -> sorted output
	merged, changed = MergePrices(existing, []Price{{Date: d2, Close: decimal.RequireFromString("2")}, {Date: d1, Close: decimal.RequireFromString("1.6")}})
	if !changed || len(merged) != 2 {
		t.Fatalf("expected change with 2 rows, got changed=%v %+v", changed, merged)
	}
	if !merged[0].Date.Equal(d1) || !merged[0].Close.Equal(decimal.RequireFromString("1.6")) || !merged[1].Date.Equal(d2) {
		t.Fatalf("unexpected merge: %+v", merged)
	}
}
