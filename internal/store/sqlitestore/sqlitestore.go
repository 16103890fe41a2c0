// Package sqlitestore is the SQLite-backed follower cache.
package sqlitestore

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"followcast/internal/cache"

	"github.com/golang-migrate/migrate/v4"
	msqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps a SQLite database holding users, tags, edges, progress and history.
type DB struct{ sql *sql.DB }

var _ cache.Store = (*DB)(nil)

// Open opens (or creates) the database at path and applies migrations.
// ":memory:" works because the pool is limited to one connection.
func Open(path string) (*DB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	d.SetMaxOpenConns(1)
	if _, err := d.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA busy_timeout=5000;`); err != nil {
		_ = d.Close()
		return nil, err
	}
	if err := migrateUp(d); err != nil {
		_ = d.Close()
		return nil, err
	}
	return &DB{sql: d}, nil
}

func (d *DB) Close() error { return d.sql.Close() }

// migrateUp applies embedded migrations. The migrate instance is not closed:
// its sqlite driver would close the shared handle.
func migrateUp(d *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations source: %w", err)
	}
	drv, err := msqlite.WithInstance(d, &msqlite.Config{})
	if err != nil {
		return fmt.Errorf("migrations driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// historyTable selects the live or rehearsal table. Never built from input.
func historyTable(rehearsal bool) string {
	if rehearsal {
		return "message_history_dry_run"
	}
	return "message_history"
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
