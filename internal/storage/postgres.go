package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"crypto-sentinel/internal/listing"
)

const (
	createSchemaSQL = `CREATE SEQUENCE IF NOT EXISTS listing_entries_rev_seq;
    CREATE TABLE IF NOT EXISTS listing_entries (
        id         TEXT PRIMARY KEY,
        seq        BIGSERIAL,
        source     TEXT NOT NULL,
        title      TEXT NOT NULL DEFAULT '',
        symbol     TEXT NOT NULL DEFAULT '',
        ts         TEXT NOT NULL DEFAULT '',
        url        TEXT NOT NULL DEFAULT '',
        entry_type TEXT,
        raw_text   TEXT,
        rev        BIGINT NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS listing_entries_seq_idx ON listing_entries (seq);`

	upsertEntrySQL = `INSERT INTO listing_entries (
        id,
        source,
        title,
        symbol,
        ts,
        url,
        entry_type,
        raw_text,
        rev
    ) VALUES (
        $1,$2,$3,$4,$5,$6,NULLIF($7,''),NULLIF($8,''),nextval('listing_entries_rev_seq')
    )
    ON CONFLICT (id) DO UPDATE
    SET
        source     = EXCLUDED.source,
        title      = EXCLUDED.title,
        symbol     = EXCLUDED.symbol,
        ts         = EXCLUDED.ts,
        url        = EXCLUDED.url,
        entry_type = EXCLUDED.entry_type,
        raw_text   = EXCLUDED.raw_text,
        rev        = EXCLUDED.rev,
        updated_at = now()
    WHERE (listing_entries.source, listing_entries.title, listing_entries.symbol, listing_entries.ts,
           listing_entries.url, listing_entries.entry_type, listing_entries.raw_text)
        IS DISTINCT FROM
          (EXCLUDED.source, EXCLUDED.title, EXCLUDED.symbol, EXCLUDED.ts,
           EXCLUDED.url, EXCLUDED.entry_type, EXCLUDED.raw_text);`

	listEntriesSQL = `SELECT
        id,
        source,
        title,
        symbol,
        ts,
        url,
        COALESCE(entry_type, ''),
        COALESCE(raw_text, '')
    FROM listing_entries
    ORDER BY seq;`

	countEntriesSQL = `SELECT COUNT(*) FROM listing_entries;`

	revisionSQL = `SELECT COALESCE(MAX(rev), 0) FROM listing_entries;`

	clearEntriesSQL = `TRUNCATE listing_entries;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PostgresStore keeps entries in the listing_entries table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresStore wires a pgx pool into a store.
func NewPostgresStore(pool *pgxpool.Pool, logger zerolog.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger.With().Str("component", "postgres_store").Logger()}
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the entry table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *PostgresStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			s.logger.Warn().Err(err).Int64("key", key).Msg("advisory unlock failed")
		}
		conn.Release()
	}
	return unlock, true, nil
}

// GetAll lists entries in insertion order. Query failures are logged and yield an empty slice.
func (s *PostgresStore) GetAll(ctx context.Context) []listing.Entry {
	if s == nil {
		return []listing.Entry{}
	}
	entries, err := s.listEntries(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("list entries failed; returning empty set")
		return []listing.Entry{}
	}
	return entries
}

func (s *PostgresStore) listEntries(ctx context.Context) ([]listing.Entry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listEntriesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list entries: %w", queryErr)
	}
	defer rows.Close()

	entries := make([]listing.Entry, 0)
	skipped := 0
	for rows.Next() {
		entry, scanErr := scanEntry(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		if entry.Validate() != nil {
			skipped++
			continue
		}
		entries = append(entries, entry)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	if skipped > 0 {
		s.logger.Warn().Int("skipped", skipped).Msg("skipped malformed rows")
	}
	return entries, nil
}

// Upsert writes the batch inside one transaction.
func (s *PostgresStore) Upsert(ctx context.Context, entries []listing.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := validateBatch(entries); err != nil {
		return err
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, e := range dedupeBatch(entries) {
			batch.Queue(upsertEntrySQL,
				e.ID,
				string(e.Source),
				e.Title,
				e.Symbol,
				e.Timestamp,
				e.URL,
				e.Type,
				e.RawText,
			)
		}

		results := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, execErr := results.Exec(); execErr != nil {
				results.Close()
				return fmt.Errorf("upsert entry: %w", execErr)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("close batch: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, clearEntriesSQL); execErr != nil {
		return fmt.Errorf("clear entries: %w", execErr)
	}
	return nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countEntriesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count entries: %w", scanErr)
	}
	return int(count), nil
}

// Revision returns the highest row revision. Zero means the table is empty or unreachable.
func (s *PostgresStore) Revision(ctx context.Context) uint64 {
	pool, err := s.getPool()
	if err != nil {
		return 0
	}
	var rev int64
	if scanErr := pool.QueryRow(ctx, revisionSQL).Scan(&rev); scanErr != nil {
		s.logger.Warn().Err(scanErr).Msg("read revision failed")
		return 0
	}
	return uint64(rev)
}

func scanEntry(rows pgx.Rows) (listing.Entry, error) {
	var (
		entry  listing.Entry
		source string
	)
	if err := rows.Scan(
		&entry.ID,
		&source,
		&entry.Title,
		&entry.Symbol,
		&entry.Timestamp,
		&entry.URL,
		&entry.Type,
		&entry.RawText,
	); err != nil {
		return listing.Entry{}, fmt.Errorf("scan entry: %w", err)
	}
	entry.Source = listing.Source(source)
	return entry, nil
}

var (
	_ EntryStore     = (*PostgresStore)(nil)
	_ AdvisoryLocker = (*PostgresStore)(nil)
)
