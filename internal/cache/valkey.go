package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

// ValkeyConfig carries connection parameters for the valkey backend.
type ValkeyConfig struct {
	Address  string
	Username string
	Password string
	DB       int
}

// keyPrefix namespaces entries so Clear can flush only what this store owns.
const keyPrefix = "genclient:response:"

// ValkeyStore keeps entries in a valkey/redis server. TTL enforcement is
// delegated to server-side PX expiry, and the size budget is the server's
// concern, so SizeBytes in Stats is always 0 for this backend.
type ValkeyStore struct {
	client valkey.Client
	ttl    time.Duration

	hits   atomic.Int64
	misses atomic.Int64
	writes atomic.Int64
	errs   atomic.Int64
}

// NewValkey connects and pings the server so a bad address fails at
// construction rather than on the first lookup.
func NewValkey(cfg ValkeyConfig, opts Options) (*ValkeyStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("cache: valkey address required")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: valkey ping: %w", err)
	}

	return &ValkeyStore{client: client, ttl: opts.TTL}, nil
}

func (s *ValkeyStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(keyPrefix+key).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			s.misses.Add(1)
			return Entry{}, false, nil
		}
		s.errs.Add(1)
		s.misses.Add(1)
		return Entry{}, false, fmt.Errorf("cache: valkey get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		s.errs.Add(1)
		s.misses.Add(1)
		return Entry{}, false, fmt.Errorf("cache: valkey bytes: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		s.errs.Add(1)
		s.misses.Add(1)
		return Entry{}, false, fmt.Errorf("cache: valkey decode: %w", err)
	}
	s.hits.Add(1)
	return entry, true, nil
}

func (s *ValkeyStore) Set(ctx context.Context, key string, entry Entry) error {
	if err := validateEntry(entry); err != nil {
		s.errs.Add(1)
		return err
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		s.errs.Add(1)
		return fmt.Errorf("cache: valkey encode: %w", err)
	}
	cmd := s.client.B().Set().Key(keyPrefix + key).Value(string(payload)).Px(s.ttl).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		s.errs.Add(1)
		return fmt.Errorf("cache: valkey set: %w", err)
	}
	s.writes.Add(1)
	return nil
}

// Clear removes every namespaced key by walking SCAN cursors, then resets the
// counters.
func (s *ValkeyStore) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		resp := s.client.Do(ctx, s.client.B().Scan().Cursor(cursor).Match(keyPrefix+"*").Count(256).Build())
		scan, err := resp.AsScanEntry()
		if err != nil {
			s.errs.Add(1)
			return fmt.Errorf("cache: valkey scan: %w", err)
		}
		if len(scan.Elements) > 0 {
			if err := s.client.Do(ctx, s.client.B().Del().Key(scan.Elements...).Build()).Error(); err != nil {
				s.errs.Add(1)
				return fmt.Errorf("cache: valkey del: %w", err)
			}
		}
		cursor = scan.Cursor
		if cursor == 0 {
			break
		}
	}
	s.hits.Store(0)
	s.misses.Store(0)
	s.writes.Store(0)
	s.errs.Store(0)
	return nil
}

func (s *ValkeyStore) Stats(ctx context.Context) (Stats, error) {
	var entries int64
	var cursor uint64
	for {
		resp := s.client.Do(ctx, s.client.B().Scan().Cursor(cursor).Match(keyPrefix+"*").Count(256).Build())
		scan, err := resp.AsScanEntry()
		if err != nil {
			s.errs.Add(1)
			return Stats{}, fmt.Errorf("cache: valkey scan: %w", err)
		}
		entries += int64(len(scan.Elements))
		cursor = scan.Cursor
		if cursor == 0 {
			break
		}
	}
	hits := s.hits.Load()
	misses := s.misses.Load()
	return Stats{
		Hits:    hits,
		Misses:  misses,
		Writes:  s.writes.Load(),
		Errors:  s.errs.Load(),
		HitRate: hitRate(hits, misses),
		Entries: entries,
	}, nil
}

func (s *ValkeyStore) Close(context.Context) error {
	s.client.Close()
	return nil
}
