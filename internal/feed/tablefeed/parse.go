package tablefeed

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"quoteupdater/internal/quote"
)

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"02.01.2006",
	"2006/01/02",
	"01/02/2006",
}

// value columns in order of preference
var valueColumns = []string{"close", "price", "last"}

// Parse reads a price table with a header row naming a Date column and one of
// Close, Price or Last. Fields are separated by ',' or ';'; with ';' a decimal
// comma is accepted. Rows with an empty or unparseable value are skipped.
// The result is sorted by date with one entry per day.
func Parse(r io.Reader) ([]quote.Price, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read table: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	comma := ','
	header, _, _ := bytes.Cut(data, []byte("\n"))
	if bytes.Count(header, []byte(";")) > bytes.Count(header, []byte(",")) {
		comma = ';'
	}

	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	head, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	dateCol, valueCol, err := columns(head)
	if err != nil {
		return nil, err
	}

	var rows []quote.Price
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if len(rec) <= dateCol || len(rec) <= valueCol {
			continue
		}
		date, ok := parseDate(rec[dateCol])
		if !ok {
			continue
		}
		raw := strings.TrimSpace(rec[valueCol])
		if comma == ';' && strings.Contains(raw, ",") {
			// 1.234,56: dots group thousands, the comma is the decimal mark
			raw = strings.ReplaceAll(raw, ".", "")
			raw = strings.ReplaceAll(raw, ",", ".")
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			continue
		}
		rows = append(rows, quote.Price{Date: date, Close: v})
	}
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	merged, _ := quote.MergePrices(nil, rows)
	return merged, nil
}

func columns(head []string) (dateCol, valueCol int, err error) {
	idx := make(map[string]int, len(head))
	for i, h := range head {
		name := strings.ToLower(strings.TrimSpace(h))
		if _, ok := idx[name]; !ok {
			idx[name] = i
		}
	}
	dateCol, ok := idx["date"]
	if !ok {
		return 0, 0, fmt.Errorf("table header %q has no date column", head)
	}
	for _, name := range valueColumns {
		if i, ok := idx[name]; ok {
			return dateCol, i, nil
		}
	}
	return 0, 0, fmt.Errorf("table header %q has no close, price or last column", head)
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return quote.Day(t), true
		}
	}
	return time.Time{}, false
}
