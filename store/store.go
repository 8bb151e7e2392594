// Package store persists the last reading position of every publication in
// SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/filegrind/pubchannel-go/store/migrations"
)

// Store is the SQLite positions store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// PublicationRecord is a row of the publications table.
type PublicationRecord struct {
	Identifier string
	Title      string
	Location   string
	OpenedAt   time.Time
}

// Open opens (creating if needed) the database at path and applies
// migrations. An empty path keeps the database in memory for the lifetime of
// the store.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := ":memory:"
	if strings.TrimSpace(path) != "" {
		dsn = "file:" + filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Every connection to ":memory:" is a distinct database
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordOpen upserts the publication row with the current time.
func (s *Store) RecordOpen(ctx context.Context, identifier, title, location string) error {
	if strings.TrimSpace(identifier) == "" {
		return errors.New("identifier is required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO publications (identifier, title, location, opened_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(identifier) DO UPDATE SET
	title = excluded.title,
	location = excluded.location,
	opened_at = excluded.opened_at
`, identifier, title, location, s.now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("record publication %s: %w", identifier, err)
	}
	return nil
}

// Publication returns the publication row for identifier.
func (s *Store) Publication(ctx context.Context, identifier string) (PublicationRecord, bool, error) {
	var (
		rec      PublicationRecord
		openedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT identifier, title, location, opened_at FROM publications WHERE identifier = ?
`, identifier).Scan(&rec.Identifier, &rec.Title, &rec.Location, &openedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return PublicationRecord{}, false, nil
	}
	if err != nil {
		return PublicationRecord{}, false, fmt.Errorf("load publication %s: %w", identifier, err)
	}
	rec.OpenedAt = time.UnixMilli(openedAt).UTC()
	return rec, true, nil
}

// SaveLocator stores locatorJSON as the last position of identifier.
func (s *Store) SaveLocator(ctx context.Context, identifier, locatorJSON string) error {
	if strings.TrimSpace(identifier) == "" {
		return errors.New("identifier is required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO locators (identifier, locator, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(identifier) DO UPDATE SET
	locator = excluded.locator,
	updated_at = excluded.updated_at
`, identifier, locatorJSON, s.now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("save locator %s: %w", identifier, err)
	}
	return nil
}

// LastLocator returns the stored locator JSON of identifier.
func (s *Store) LastLocator(ctx context.Context, identifier string) (string, bool, error) {
	var locator string
	err := s.db.QueryRowContext(ctx, `SELECT locator FROM locators WHERE identifier = ?`, identifier).Scan(&locator)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load locator %s: %w", identifier, err)
	}
	return locator, true, nil
}
