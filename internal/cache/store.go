package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quillforge/genclient/internal/gen"
)

// Fingerprint is the diagnostic subset of the request stored alongside each
// entry. The prompt itself is reduced to its length so entry files stay small
// enough to dump into logs.
type Fingerprint struct {
	Model        string  `json:"model"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`
	PromptLength int     `json:"prompt_length"`
}

// Entry is the persisted representation of one cached response. Entries are
// written once and never updated in place.
type Entry struct {
	CachedAt    float64              `json:"cached_at"`
	RequestData Fingerprint          `json:"request_data"`
	Response    gen.ResponseEnvelope `json:"response"`
}

// NewEntry stamps an envelope with the write time and request fingerprint.
func NewEntry(spec gen.RequestSpec, envelope gen.ResponseEnvelope, now time.Time) Entry {
	return Entry{
		CachedAt: float64(now.UnixNano()) / float64(time.Second),
		RequestData: Fingerprint{
			Model:        spec.Model,
			Temperature:  spec.Temperature,
			MaxTokens:    spec.MaxTokens,
			PromptLength: len(spec.Prompt),
		},
		Response: envelope,
	}
}

// Age reports how long ago the entry was written.
func (e Entry) Age(now time.Time) time.Duration {
	cachedAt := time.Unix(0, int64(e.CachedAt*float64(time.Second)))
	return now.Sub(cachedAt)
}

// ErrFailedEnvelope rejects attempts to persist a failed response. Only
// successful envelopes are ever cached; a persistently failing request must
// hit the network on every call instead of getting stuck on a cached failure.
var ErrFailedEnvelope = errors.New("cache: refusing to store failed envelope")

func validateEntry(entry Entry) error {
	if !entry.Response.Success {
		return ErrFailedEnvelope
	}
	return nil
}

// Stats is the counter snapshot a store reports. HitRate is hits/(hits+misses)
// and defined as 0 when no lookups have happened.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Writes    int64   `json:"writes"`
	Evictions int64   `json:"evictions"`
	Errors    int64   `json:"errors"`
	HitRate   float64 `json:"hit_rate"`
	SizeBytes int64   `json:"size_bytes"`
	Entries   int64   `json:"entries"`
}

func hitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Store is a response cache backend. Implementations are safe for concurrent
// use within one process. Errors from any method are an optimization failure,
// not a correctness failure: callers log them and carry on.
type Store interface {
	// Get returns the entry for a key, reporting a miss for absent or
	// expired entries. Expired entries are deleted as a side effect.
	Get(ctx context.Context, key string) (Entry, bool, error)
	// Set persists an entry and enforces the backend's size budget.
	Set(ctx context.Context, key string, entry Entry) error
	// Clear removes every entry and resets all counters.
	Clear(ctx context.Context) error
	// Stats returns the current counter snapshot.
	Stats(ctx context.Context) (Stats, error)
	// Close releases backend resources.
	Close(ctx context.Context) error
}

// Options carries the construction parameters shared by every backend.
type Options struct {
	TTL      time.Duration
	MaxBytes int64
}

func (o Options) validate() error {
	if o.TTL <= 0 {
		return fmt.Errorf("cache: ttl must be positive, got %s", o.TTL)
	}
	if o.MaxBytes <= 0 {
		return fmt.Errorf("cache: max size must be positive, got %d", o.MaxBytes)
	}
	return nil
}
