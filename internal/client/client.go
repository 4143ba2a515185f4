// Package client composes the retry controller with the response cache and
// exposes the single caller-facing surface: Generate, ClearCache, CacheStats.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/quillforge/genclient/internal/cache"
	"github.com/quillforge/genclient/internal/config"
	"github.com/quillforge/genclient/internal/gen"
	"github.com/quillforge/genclient/internal/metrics"
)

// runner is the retry-controller surface the decorator needs. Tests substitute
// stubs here.
type runner interface {
	Run(ctx context.Context, spec gen.RequestSpec) gen.ResponseEnvelope
}

// Client is the caching decorator around one provider's retry controller.
// Each Client owns its own statistics; nothing is shared between instances,
// so clients for different providers never interfere.
type Client struct {
	provider string
	runner   runner
	store    cache.Store // nil when caching is disabled
	strategy cache.Strategy
	backend  string
	logger   *slog.Logger
	recorder *metrics.Recorder
	group    singleflight.Group
}

func newClient(provider string, r runner, store cache.Store, strategy cache.Strategy, backend string, logger *slog.Logger, recorder *metrics.Recorder) *Client {
	return &Client{
		provider: provider,
		runner:   r,
		store:    store,
		strategy: strategy,
		backend:  backend,
		logger:   logger,
		recorder: recorder,
	}
}

// Generate answers the request from the cache when possible and otherwise
// drives the retry loop, persisting the result only when it succeeded. A
// non-nil error is always configuration-class; every runtime outcome, success
// or failure, arrives inside the envelope.
func (c *Client) Generate(ctx context.Context, spec gen.RequestSpec) (gen.ResponseEnvelope, error) {
	if err := spec.Validate(); err != nil {
		return gen.ResponseEnvelope{}, err
	}
	started := time.Now()

	if c.store == nil {
		envelope := c.runner.Run(ctx, spec)
		c.recorder.ObserveGenerate(c.provider, envelope.Success, false, envelope.RetryCount+1, time.Since(started))
		return envelope, nil
	}

	key, err := cache.Key(spec, c.strategy)
	if err != nil {
		return gen.ResponseEnvelope{}, fmt.Errorf("client: %v: %w", err, config.ErrConfiguration)
	}

	lookupStart := time.Now()
	entry, found, err := c.store.Get(ctx, key)
	switch {
	case err != nil:
		// Cache trouble is an optimization failure: log it and pay for the
		// network call.
		c.logger.Warn("cache lookup failed", slog.String("key", key), slog.Any("error", err))
		c.recorder.ObserveCacheLookup(c.backend, metrics.CacheLookupError, time.Since(lookupStart))
	case found:
		c.recorder.ObserveCacheLookup(c.backend, metrics.CacheLookupHit, time.Since(lookupStart))
		c.recorder.ObserveGenerate(c.provider, entry.Response.Success, true, 0, time.Since(started))
		return entry.Response, nil
	default:
		c.recorder.ObserveCacheLookup(c.backend, metrics.CacheLookupMiss, time.Since(lookupStart))
	}

	// Concurrent misses for the same key collapse into one upstream flight;
	// everyone gets the same envelope.
	result, _, shared := c.group.Do(key, func() (any, error) {
		envelope := c.runner.Run(ctx, spec)
		if envelope.Success {
			storeStart := time.Now()
			if err := c.store.Set(ctx, key, cache.NewEntry(spec, envelope, time.Now())); err != nil {
				c.logger.Warn("cache store failed", slog.String("key", key), slog.Any("error", err))
				c.recorder.ObserveCacheStore(c.backend, metrics.CacheStoreError, time.Since(storeStart))
			} else {
				c.recorder.ObserveCacheStore(c.backend, metrics.CacheStoreStored, time.Since(storeStart))
			}
		}
		return envelope, nil
	})

	envelope := result.(gen.ResponseEnvelope)
	attempts := envelope.RetryCount + 1
	if shared {
		// Another caller's flight paid for the network.
		attempts = 0
	}
	c.recorder.ObserveGenerate(c.provider, envelope.Success, false, attempts, time.Since(started))
	return envelope, nil
}

// ClearCache deletes every cached entry and resets the counters. A no-op when
// caching is disabled.
func (c *Client) ClearCache(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	return c.store.Clear(ctx)
}

// CacheStats reports the current counter snapshot. With caching disabled every
// field is zero.
func (c *Client) CacheStats(ctx context.Context) (cache.Stats, error) {
	if c.store == nil {
		return cache.Stats{}, nil
	}
	return c.store.Stats(ctx)
}

// Close releases the cache backend.
func (c *Client) Close(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	return c.store.Close(ctx)
}
