// Package store keeps the last accepted snapshot per location and the
// selected location in SQLite, so a display that restarts while the
// backend is unreachable comes back with its last content.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"signage/internal/model"
)

//go:embed migrations/*.sql
var migrations embed.FS

const selectedLocationKey = "selected_location"

// ErrNotFound is returned when nothing was stored for the key.
var ErrNotFound = errors.New("store: not found")

// SqliteStore persists snapshots and the selected location.
type SqliteStore struct {
	DB *sqlx.DB
}

// Open connects to the SQLite file at dsn and applies migrations. Use
// ":memory:" for an ephemeral store.
func Open(dsn string) (*SqliteStore, error) {
	if dsn == "" {
		return nil, errors.New("store: empty dsn")
	}
	if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	// One connection: every :memory: connection is its own database, and the
	// writer volume is a few rows per poll.
	db.SetMaxOpenConns(1)

	s := &SqliteStore{DB: db}
	if err := s.applyMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqliteStore) applyMigrations() error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect(string(goose.DialectSQLite3)); err != nil {
		return err
	}
	if err := goose.Up(s.DB.DB, "migrations"); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}

type snapshotRow struct {
	LocationID int       `db:"location_id"`
	Records    string    `db:"records"`
	AcceptedAt time.Time `db:"accepted_at"`
}

// SaveSnapshot replaces the stored snapshot for a location.
func (s *SqliteStore) SaveSnapshot(ctx context.Context, locationID int, records []model.DisplayRecord, acceptedAt time.Time) error {
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
	INSERT INTO snapshots (location_id, records, accepted_at)
	VALUES (?, ?, ?)
	ON CONFLICT (location_id) DO UPDATE SET
	records = excluded.records,
	accepted_at = excluded.accepted_at
	`, locationID, string(data), acceptedAt.UTC())
	return err
}

// LoadSnapshot returns the stored snapshot for a location and when it was
// accepted, or ErrNotFound.
func (s *SqliteStore) LoadSnapshot(ctx context.Context, locationID int) ([]model.DisplayRecord, time.Time, error) {
	var row snapshotRow
	err := s.DB.GetContext(ctx, &row, "SELECT location_id, records, accepted_at FROM snapshots WHERE location_id = ?", locationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, err
	}

	var records []model.DisplayRecord
	if err := json.Unmarshal([]byte(row.Records), &records); err != nil {
		return nil, time.Time{}, fmt.Errorf("store: corrupt snapshot for location %d: %w", locationID, err)
	}
	return records, row.AcceptedAt, nil
}

// SaveSelectedLocation stores the selected location id; 0 clears it.
func (s *SqliteStore) SaveSelectedLocation(ctx context.Context, locationID int) error {
	_, err := s.DB.ExecContext(ctx, `
	INSERT INTO display_state (key, value)
	VALUES (?, ?)
	ON CONFLICT (key) DO UPDATE SET
	value = excluded.value
	`, selectedLocationKey, strconv.Itoa(locationID))
	return err
}

// SelectedLocation returns the stored location id, or ErrNotFound.
func (s *SqliteStore) SelectedLocation(ctx context.Context) (int, error) {
	var value string
	err := s.DB.GetContext(ctx, &value, "SELECT value FROM display_state WHERE key = ?", selectedLocationKey)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	id, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("store: bad selected location %q: %w", value, err)
	}
	return id, nil
}
