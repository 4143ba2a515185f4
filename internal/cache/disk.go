package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// evictionTarget is the fraction of the byte budget eviction shrinks the
// directory down to, so the very next write does not trigger another pass.
const evictionTarget = 0.8

const entrySuffix = ".json"

// DiskStore is the primary backend: one JSON file per key in a flat directory.
// The directory may be shared across processes; there is no locking because
// entries are content-addressed, so a write race is last-writer-wins over
// identical content.
type DiskStore struct {
	dir      string
	ttl      time.Duration
	maxBytes int64
	logger   *slog.Logger

	// now is swapped out by tests exercising TTL expiry.
	now func() time.Time

	// mu serializes write+evict passes; reads only take counters.
	mu sync.Mutex

	hits      atomic.Int64
	misses    atomic.Int64
	writes    atomic.Int64
	evictions atomic.Int64
	errs      atomic.Int64
}

// NewDisk creates the cache directory if needed and returns a store over it.
func NewDisk(dir string, opts Options, logger *slog.Logger) (*DiskStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("cache: disk directory required")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create directory %s: %w", dir, err)
	}
	return &DiskStore{
		dir:      dir,
		ttl:      opts.TTL,
		maxBytes: opts.MaxBytes,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (s *DiskStore) path(key string) string {
	return filepath.Join(s.dir, key+entrySuffix)
}

// Get reads the entry file for key. An entry older than the TTL is deleted on
// the spot and reported as a miss; there is no background sweep.
func (s *DiskStore) Get(_ context.Context, key string) (Entry, bool, error) {
	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			s.misses.Add(1)
			return Entry{}, false, nil
		}
		s.errs.Add(1)
		s.misses.Add(1)
		return Entry{}, false, fmt.Errorf("cache: read entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// A corrupt entry is useless; drop it so the next write replaces it.
		s.errs.Add(1)
		s.misses.Add(1)
		_ = os.Remove(s.path(key))
		return Entry{}, false, fmt.Errorf("cache: decode entry: %w", err)
	}

	if entry.Age(s.now()) > s.ttl {
		s.misses.Add(1)
		if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
			s.errs.Add(1)
			s.logger.Warn("stale entry removal failed", slog.String("key", key), slog.Any("error", err))
		}
		return Entry{}, false, nil
	}

	s.hits.Add(1)
	return entry, true, nil
}

// Set writes the entry file and then runs a size-enforcement pass over the
// whole directory.
func (s *DiskStore) Set(_ context.Context, key string, entry Entry) error {
	if err := validateEntry(entry); err != nil {
		s.errs.Add(1)
		return err
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		s.errs.Add(1)
		return fmt.Errorf("cache: encode entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.WriteFile(s.path(key), raw, 0o644); err != nil {
		s.errs.Add(1)
		return fmt.Errorf("cache: write entry: %w", err)
	}
	s.writes.Add(1)
	return s.enforceBudget()
}

// enforceBudget deletes oldest-modified entries until the directory is at or
// below the eviction target. Caller holds mu.
func (s *DiskStore) enforceBudget() error {
	files, total, err := s.listEntries()
	if err != nil {
		s.errs.Add(1)
		return err
	}
	if total <= s.maxBytes {
		return nil
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	target := int64(float64(s.maxBytes) * evictionTarget)
	for _, f := range files {
		if total <= target {
			break
		}
		if err := os.Remove(f.path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			s.errs.Add(1)
			return fmt.Errorf("cache: evict %s: %w", filepath.Base(f.path), err)
		}
		total -= f.size
		s.evictions.Add(1)
		s.logger.Debug("evicted cache entry",
			slog.String("entry", filepath.Base(f.path)),
			slog.Int64("remaining_bytes", total))
	}
	return nil
}

type entryFile struct {
	path    string
	size    int64
	modTime time.Time
}

func (s *DiskStore) listEntries() ([]entryFile, int64, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, 0, fmt.Errorf("cache: list directory: %w", err)
	}
	var files []entryFile
	var total int64
	for _, d := range dirents {
		if d.IsDir() || !strings.HasSuffix(d.Name(), entrySuffix) {
			continue
		}
		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, 0, fmt.Errorf("cache: stat %s: %w", d.Name(), err)
		}
		files = append(files, entryFile{
			path:    filepath.Join(s.dir, d.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
		total += info.Size()
	}
	return files, total, nil
}

// Clear deletes every entry file and zeroes the counters.
func (s *DiskStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, _, err := s.listEntries()
	if err != nil {
		s.errs.Add(1)
		return err
	}
	for _, f := range files {
		if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.errs.Add(1)
			return fmt.Errorf("cache: clear %s: %w", filepath.Base(f.path), err)
		}
	}
	s.hits.Store(0)
	s.misses.Store(0)
	s.writes.Store(0)
	s.evictions.Store(0)
	s.errs.Store(0)
	return nil
}

// Stats walks the directory for the live size and entry count and snapshots
// the counters.
func (s *DiskStore) Stats(_ context.Context) (Stats, error) {
	files, total, err := s.listEntries()
	if err != nil {
		s.errs.Add(1)
		return Stats{}, err
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
		SizeBytes: total,
		Entries:   int64(len(files)),
	}, nil
}

// Close is a no-op; the store holds no handles between calls.
func (s *DiskStore) Close(context.Context) error { return nil }
