package client

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quillforge/genclient/internal/cache"
	"github.com/quillforge/genclient/internal/gen"
)

type stubRunner struct {
	mu        sync.Mutex
	calls     atomic.Int64
	envelope  gen.ResponseEnvelope
	block     chan struct{} // when set, Run waits here once per call
	envelopes []gen.ResponseEnvelope
}

func (s *stubRunner) Run(ctx context.Context, spec gen.RequestSpec) gen.ResponseEnvelope {
	n := s.calls.Add(1)
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.envelopes) > 0 {
		i := int(n) - 1
		if i >= len(s.envelopes) {
			i = len(s.envelopes) - 1
		}
		return s.envelopes[i]
	}
	return s.envelope
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDiskStore(t *testing.T) cache.Store {
	t.Helper()
	store, err := cache.NewDisk(t.TempDir(), cache.Options{TTL: time.Hour, MaxBytes: 10 << 20}, discardLogger())
	require.NoError(t, err)
	return store
}

func testSpec() gen.RequestSpec {
	return gen.RequestSpec{Prompt: "summarize this", Model: "test-model", MaxTokens: 100, Temperature: 0.7}
}

func successEnvelope() gen.ResponseEnvelope {
	return gen.ResponseEnvelope{Success: true, Content: "the answer", ModelUsed: "test-model", TokenCount: 42}
}

func TestClientGenerateCachesSuccess(t *testing.T) {
	runner := &stubRunner{envelope: successEnvelope()}
	c := newClient("openai", runner, newDiskStore(t), cache.StrategyPromptHashWithModel, "disk", discardLogger(), nil)
	ctx := context.Background()

	first, err := c.Generate(ctx, testSpec())
	require.NoError(t, err)
	require.True(t, first.Success)
	require.EqualValues(t, 1, runner.calls.Load())

	// Identical request answered from the cache without touching the runner.
	second, err := c.Generate(ctx, testSpec())
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.EqualValues(t, 1, runner.calls.Load())

	stats, err := c.CacheStats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Hits)
	require.Equal(t, int64(1), stats.Misses)
	require.Equal(t, int64(1), stats.Writes)
}

func TestClientGenerateNeverCachesFailures(t *testing.T) {
	runner := &stubRunner{envelope: gen.ResponseEnvelope{
		Success: false,
		Failure: gen.FailureProvider,
		Error:   "provider returned 500",
	}}
	c := newClient("openai", runner, newDiskStore(t), cache.StrategyPromptHashWithModel, "disk", discardLogger(), nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		envelope, err := c.Generate(ctx, testSpec())
		require.NoError(t, err)
		require.False(t, envelope.Success)
	}
	require.EqualValues(t, 2, runner.calls.Load(), "failed responses must hit the network every time")

	stats, err := c.CacheStats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Writes)
	require.Zero(t, stats.Entries)
}

func TestClientGenerateFailureThenSuccess(t *testing.T) {
	runner := &stubRunner{envelopes: []gen.ResponseEnvelope{
		{Success: false, Failure: gen.FailureExhausted, Error: "request failed after 4 attempts"},
		successEnvelope(),
	}}
	c := newClient("openai", runner, newDiskStore(t), cache.StrategyPromptHashWithModel, "disk", discardLogger(), nil)
	ctx := context.Background()

	envelope, err := c.Generate(ctx, testSpec())
	require.NoError(t, err)
	require.False(t, envelope.Success)

	envelope, err = c.Generate(ctx, testSpec())
	require.NoError(t, err)
	require.True(t, envelope.Success)

	// Third call is served by the entry the successful second call wrote.
	envelope, err = c.Generate(ctx, testSpec())
	require.NoError(t, err)
	require.True(t, envelope.Success)
	require.EqualValues(t, 2, runner.calls.Load())
}

func TestClientGenerateWithoutStore(t *testing.T) {
	runner := &stubRunner{envelope: successEnvelope()}
	c := newClient("openai", runner, nil, "", "", discardLogger(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		envelope, err := c.Generate(ctx, testSpec())
		require.NoError(t, err)
		require.True(t, envelope.Success)
	}
	require.EqualValues(t, 3, runner.calls.Load(), "disabled cache means every call pays for the network")

	stats, err := c.CacheStats(ctx)
	require.NoError(t, err)
	require.Equal(t, cache.Stats{}, stats)
	require.NoError(t, c.ClearCache(ctx))
	require.NoError(t, c.Close(ctx))
}

func TestClientGenerateValidatesSpec(t *testing.T) {
	runner := &stubRunner{envelope: successEnvelope()}
	c := newClient("openai", runner, nil, "", "", discardLogger(), nil)

	_, err := c.Generate(context.Background(), gen.RequestSpec{Model: "m", MaxTokens: 10})
	require.ErrorIs(t, err, gen.ErrSpec)
	require.Zero(t, runner.calls.Load())
}

func TestClientGenerateCollapsesConcurrentMisses(t *testing.T) {
	release := make(chan struct{})
	runner := &stubRunner{envelope: successEnvelope(), block: release}
	c := newClient("openai", runner, newDiskStore(t), cache.StrategyPromptHashWithModel, "disk", discardLogger(), nil)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	results := make([]gen.ResponseEnvelope, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Generate(ctx, testSpec())
		}(i)
	}

	// Give every goroutine time to miss and join the flight, then let the
	// single upstream call finish.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.True(t, results[i].Success)
	}
	require.LessOrEqual(t, runner.calls.Load(), int64(2),
		"concurrent identical misses must collapse to at most a couple of flights")
}

func TestClientClearCache(t *testing.T) {
	runner := &stubRunner{envelope: successEnvelope()}
	c := newClient("openai", runner, newDiskStore(t), cache.StrategyPromptHashWithModel, "disk", discardLogger(), nil)
	ctx := context.Background()

	_, err := c.Generate(ctx, testSpec())
	require.NoError(t, err)
	require.NoError(t, c.ClearCache(ctx))

	_, err = c.Generate(ctx, testSpec())
	require.NoError(t, err)
	require.EqualValues(t, 2, runner.calls.Load(), "clear must force the next call back to the network")
}
