// Package store is the portal's persistence backend: tenant-scoped row CRUD
// over SQLite, user accounts and sign-in codes. Every committed mutation is
// handed to an EventSink as a model.ChangeEvent.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"client-portal/internal/model"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// EventSink receives change events after the write has committed.
// Implementations must not block.
type EventSink interface {
	Publish(ev model.ChangeEvent)
}

type Options struct {
	Sink   EventSink
	Logger *slog.Logger
	Now    func() time.Time
}

type Store struct {
	db     *sql.DB
	clock  *clock
	sink   EventSink
	logger *slog.Logger
}

// Open opens (creating if needed) the SQLite database at path. Call Migrate
// before first use.
func Open(path string, opts Options) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers; a single connection keeps that explicit and
	// keeps per-connection pragmas in force.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		clock:  newClock(opts.Now),
		sink:   opts.Sink,
		logger: logger,
	}, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// Migrate applies all pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	for _, r := range results {
		s.logger.Info("migration applied", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) publish(ev model.ChangeEvent) {
	if s.sink == nil {
		return
	}
	s.sink.Publish(ev)
}
