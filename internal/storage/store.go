package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"crypto-sentinel/internal/config"
	"crypto-sentinel/internal/listing"
)

var (
	// ErrNotConfigured indicates the storage backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
)

// EntryStore persists listing entries keyed by id.
//
// GetAll never fails: an unreadable backend yields an empty slice. Upsert replaces
// entries with a matching id and appends the rest; a batch becomes visible to
// readers all at once or not at all.
type EntryStore interface {
	GetAll(ctx context.Context) []listing.Entry
	Upsert(ctx context.Context, entries []listing.Entry) error
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	// Revision changes whenever the stored set changes.
	Revision(ctx context.Context) uint64
	Close()
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Open builds the backend selected by storage.driver.
func Open(ctx context.Context, cfg config.StorageConfig, db config.DatabaseConfig, logger zerolog.Logger) (EntryStore, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", config.DriverFile:
		return NewFileStore(cfg.DataDir, cfg.FileName, logger)
	case config.DriverPostgres:
		pool, err := NewPool(ctx, db)
		if err != nil {
			return nil, err
		}
		store := NewPostgresStore(pool, logger)
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	case config.DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// validateBatch rejects the whole batch when any entry is malformed.
func validateBatch(entries []listing.Entry) error {
	for i, e := range entries {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("batch entry %d: %w", i, err)
		}
	}
	return nil
}

// dedupeBatch collapses repeated ids inside one batch. The last occurrence wins and
// keeps the position of the first.
func dedupeBatch(entries []listing.Entry) []listing.Entry {
	out := make([]listing.Entry, 0, len(entries))
	pos := make(map[string]int, len(entries))
	for _, e := range entries {
		if i, ok := pos[e.ID]; ok {
			out[i] = e
			continue
		}
		pos[e.ID] = len(out)
		out = append(out, e)
	}
	return out
}

// merge applies batch onto a copy of existing and reports whether anything changed.
func merge(existing []listing.Entry, index map[string]int, batch []listing.Entry) ([]listing.Entry, map[string]int, bool) {
	merged := make([]listing.Entry, len(existing), len(existing)+len(batch))
	copy(merged, existing)
	nextIndex := make(map[string]int, len(index)+len(batch))
	for id, i := range index {
		nextIndex[id] = i
	}

	changed := false
	for _, e := range dedupeBatch(batch) {
		if i, ok := nextIndex[e.ID]; ok {
			if merged[i] != e {
				merged[i] = e
				changed = true
			}
			continue
		}
		nextIndex[e.ID] = len(merged)
		merged = append(merged, e)
		changed = true
	}
	return merged, nextIndex, changed
}
