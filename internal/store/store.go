// Package store persists quote state in an embedded SQLite database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"quoteupdater/internal/instrument"
	"quoteupdater/internal/quote"
)

const dateLayout = "2006-01-02"

type Store struct {
	sql *sql.DB
}

func Open(ctx context.Context, dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", dbPath)
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	sqldb.SetMaxOpenConns(1)
	sqldb.SetConnMaxLifetime(0)

	s := &Store{sql: sqldb}
	if err := s.migrate(ctx); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("migrate %s: %w", dbPath, err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.sql.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS latest_quotes (
			instrument_id TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			currency TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			quoted_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS prices (
			instrument_id TEXT NOT NULL,
			day TEXT NOT NULL,
			close TEXT NOT NULL,
			PRIMARY KEY (instrument_id, day)
		);`,
		`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT NOT NULL);`,
	}
	for _, stmt := range stmts {
		if _, err := s.sql.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Save upserts the latest quote and price series of every instrument in one
// transaction.
func (s *Store) Save(ctx context.Context, insts []*instrument.Instrument) error {
	tx, err := s.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	latestStmt, err := tx.PrepareContext(ctx, `INSERT INTO latest_quotes(instrument_id, value, currency, source, quoted_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(instrument_id) DO UPDATE SET value=excluded.value, currency=excluded.currency, source=excluded.source, quoted_at=excluded.quoted_at`)
	if err != nil {
		return err
	}
	defer latestStmt.Close()
	priceStmt, err := tx.PrepareContext(ctx, `INSERT INTO prices(instrument_id, day, close) VALUES(?, ?, ?)
		ON CONFLICT(instrument_id, day) DO UPDATE SET close=excluded.close`)
	if err != nil {
		return err
	}
	defer priceStmt.Close()

	for _, inst := range insts {
		if q, ok := inst.Latest(); ok {
			if _, err := latestStmt.ExecContext(ctx, inst.ID, q.Value.String(), q.Currency, q.Source, q.Time.UTC().Format(time.RFC3339Nano)); err != nil {
				return fmt.Errorf("save latest %s: %w", inst.ID, err)
			}
		}
		for _, p := range inst.Prices() {
			if _, err := priceStmt.ExecContext(ctx, inst.ID, p.Date.Format(dateLayout), p.Close.String()); err != nil {
				return fmt.Errorf("save prices %s: %w", inst.ID, err)
			}
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO meta(key, value) VALUES('saved_at', ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return tx.Commit()
}

// Restore loads stored quotes into the matching instruments. Rows for
// unknown instruments are ignored.
func (s *Store) Restore(ctx context.Context, insts []*instrument.Instrument) error {
	byID := make(map[string]*instrument.Instrument, len(insts))
	for _, inst := range insts {
		byID[inst.ID] = inst
	}

	rows, err := s.sql.QueryContext(ctx, `SELECT instrument_id, value, currency, source, quoted_at FROM latest_quotes`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var id, value, currency, source, at string
		if err := rows.Scan(&id, &value, &currency, &source, &at); err != nil {
			rows.Close()
			return err
		}
		inst, ok := byID[id]
		if !ok {
			continue
		}
		v, err := decimal.NewFromString(value)
		if err != nil {
			rows.Close()
			return fmt.Errorf("latest %s: %w", id, err)
		}
		t, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			rows.Close()
			return fmt.Errorf("latest %s: %w", id, err)
		}
		inst.SetLatest(quote.Latest{Value: v, Currency: currency, Source: source, Time: t})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	rows, err = s.sql.QueryContext(ctx, `SELECT instrument_id, day, close FROM prices ORDER BY instrument_id, day`)
	if err != nil {
		return err
	}
	defer rows.Close()
	series := make(map[string][]quote.Price)
	for rows.Next() {
		var id, day, closeValue string
		if err := rows.Scan(&id, &day, &closeValue); err != nil {
			return err
		}
		if _, ok := byID[id]; !ok {
			continue
		}
		d, err := time.Parse(dateLayout, day)
		if err != nil {
			return fmt.Errorf("prices %s: %w", id, err)
		}
		c, err := decimal.NewFromString(closeValue)
		if err != nil {
			return fmt.Errorf("prices %s: %w", id, err)
		}
		series[id] = append(series[id], quote.Price{Date: d, Close: c})
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for id, ps := range series {
		byID[id].MergePrices(ps)
	}
	return nil
}

// SavedAt returns the time of the last successful Save.
func (s *Store) SavedAt(ctx context.Context) (time.Time, bool, error) {
	var v string
	err := s.sql.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'saved_at'`).Scan(&v)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}
