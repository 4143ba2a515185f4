package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

const createResponseTable = `
CREATE TABLE IF NOT EXISTS response_cache (
	key        TEXT PRIMARY KEY,
	entry      BLOB NOT NULL,
	cached_at  REAL NOT NULL,
	size_bytes INTEGER NOT NULL
);
`

// SQLiteStore keeps entries in a single-table SQLite database. It mirrors the
// disk store's semantics: lazy TTL expiry on read and an oldest-first eviction
// pass after every write.
type SQLiteStore struct {
	db       *sql.DB
	ttl      time.Duration
	maxBytes int64
	now      func() time.Time

	hits      atomic.Int64
	misses    atomic.Int64
	writes    atomic.Int64
	evictions atomic.Int64
	errs      atomic.Int64
}

// NewSQLite opens (and migrates) the database at path.
func NewSQLite(path string, opts Options) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("cache: sqlite path required")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open sqlite db: %w", err)
	}
	if _, err := db.Exec(createResponseTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: migrate sqlite db: %w", err)
	}
	return &SQLiteStore{
		db:       db,
		ttl:      opts.TTL,
		maxBytes: opts.MaxBytes,
		now:      time.Now,
	}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT entry FROM response_cache WHERE key = ?`, key,
	).Scan(&payload)
	if err != nil {
		if err == sql.ErrNoRows {
			s.misses.Add(1)
			return Entry{}, false, nil
		}
		s.errs.Add(1)
		s.misses.Add(1)
		return Entry{}, false, fmt.Errorf("cache: sqlite get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		s.errs.Add(1)
		s.misses.Add(1)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM response_cache WHERE key = ?`, key)
		return Entry{}, false, fmt.Errorf("cache: sqlite decode: %w", err)
	}

	if entry.Age(s.now()) > s.ttl {
		s.misses.Add(1)
		if _, err := s.db.ExecContext(ctx, `DELETE FROM response_cache WHERE key = ?`, key); err != nil {
			s.errs.Add(1)
		}
		return Entry{}, false, nil
	}

	s.hits.Add(1)
	return entry, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, entry Entry) error {
	if err := validateEntry(entry); err != nil {
		s.errs.Add(1)
		return err
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		s.errs.Add(1)
		return fmt.Errorf("cache: sqlite encode: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO response_cache (key, entry, cached_at, size_bytes) VALUES (?, ?, ?, ?)`,
		key, payload, entry.CachedAt, int64(len(payload)),
	)
	if err != nil {
		s.errs.Add(1)
		return fmt.Errorf("cache: sqlite set: %w", err)
	}
	s.writes.Add(1)
	return s.enforceBudget(ctx)
}

// enforceBudget deletes oldest rows until the stored payload bytes drop to the
// eviction target.
func (s *SQLiteStore) enforceBudget(ctx context.Context) error {
	var total sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT SUM(size_bytes) FROM response_cache`).Scan(&total); err != nil {
		s.errs.Add(1)
		return fmt.Errorf("cache: sqlite size: %w", err)
	}
	if !total.Valid || total.Int64 <= s.maxBytes {
		return nil
	}

	target := int64(float64(s.maxBytes) * evictionTarget)
	remaining := total.Int64
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, size_bytes FROM response_cache ORDER BY cached_at ASC`)
	if err != nil {
		s.errs.Add(1)
		return fmt.Errorf("cache: sqlite eviction scan: %w", err)
	}

	var victims []string
	for rows.Next() && remaining > target {
		var key string
		var size int64
		if err := rows.Scan(&key, &size); err != nil {
			rows.Close()
			s.errs.Add(1)
			return fmt.Errorf("cache: sqlite eviction scan: %w", err)
		}
		victims = append(victims, key)
		remaining -= size
	}
	scanErr := rows.Err()
	rows.Close()
	if scanErr != nil {
		s.errs.Add(1)
		return fmt.Errorf("cache: sqlite eviction scan: %w", scanErr)
	}

	for _, key := range victims {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM response_cache WHERE key = ?`, key); err != nil {
			s.errs.Add(1)
			return fmt.Errorf("cache: sqlite evict: %w", err)
		}
		s.evictions.Add(1)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM response_cache`); err != nil {
		s.errs.Add(1)
		return fmt.Errorf("cache: sqlite clear: %w", err)
	}
	s.hits.Store(0)
	s.misses.Store(0)
	s.writes.Store(0)
	s.evictions.Store(0)
	s.errs.Store(0)
	return nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var entries int64
	var total sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(size_bytes) FROM response_cache`,
	).Scan(&entries, &total); err != nil {
		s.errs.Add(1)
		return Stats{}, fmt.Errorf("cache: sqlite stats: %w", err)
	}
	hits := s.hits.Load()
	misses := s.misses.Load()
	return Stats{
		Hits:      hits,
		Misses:    misses,
		Writes:    s.writes.Load(),
		Evictions: s.evictions.Load(),
		Errors:    s.errs.Load(),
		HitRate:   hitRate(hits, misses),
		SizeBytes: total.Int64,
		Entries:   entries,
	}, nil
}

func (s *SQLiteStore) Close(context.Context) error {
	return s.db.Close()
}
