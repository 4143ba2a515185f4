package client

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/quillforge/genclient/internal/cache"
	"github.com/quillforge/genclient/internal/config"
	"github.com/quillforge/genclient/internal/gen"
	"github.com/quillforge/genclient/internal/metrics"
)

// Factory wires configuration into ready-to-use clients, one per named
// provider. All failure modes here are configuration-class and fire before any
// network activity.
type Factory struct {
	cfg      *config.Config
	logger   *slog.Logger
	recorder *metrics.Recorder
}

// NewFactory builds a factory over an already-validated configuration
// snapshot. recorder may be nil.
func NewFactory(cfg *config.Config, logger *slog.Logger, recorder *metrics.Recorder) *Factory {
	return &Factory{cfg: cfg, logger: logger, recorder: recorder}
}

// Create resolves the named provider, its credential, and the process-wide
// cache settings into a Client. An invalid cache block with caching enabled is
// a hard failure, not a silent fallback to uncached operation: masking a
// misconfigured cache would quietly turn every call into a paid one.
func (f *Factory) Create(name string) (*Client, error) {
	providerCfg, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("client: unknown provider %q (known providers: %s): %w",
			name, strings.Join(f.cfg.ProviderNames(), ", "), config.ErrConfiguration)
	}
	if err := providerCfg.Validate(name); err != nil {
		return nil, err
	}

	apiKey := os.Getenv(providerCfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("client: provider %q credential missing: set environment variable %s: %w",
			name, providerCfg.APIKeyEnv, config.ErrConfiguration)
	}

	logger := f.logger.With(slog.String("provider", name))
	transport := gen.NewTransport(name, providerCfg.BaseURL, apiKey,
		providerCfg.ConnectTimeoutDuration(), providerCfg.ReadTimeoutDuration(), logger)
	controller := gen.NewRetryController(transport, providerCfg.MaxRetries, providerCfg.RetryDelayDuration(), logger)

	if !f.cfg.Cache.Enabled {
		return newClient(name, controller, nil, "", "", logger, f.recorder), nil
	}

	if err := f.cfg.Cache.Validate(); err != nil {
		return nil, err
	}
	strategy, err := cache.ParseStrategy(f.cfg.Cache.KeyStrategy)
	if err != nil {
		return nil, fmt.Errorf("client: %v: %w", err, config.ErrConfiguration)
	}
	store, err := NewStore(f.cfg.Cache, logger)
	if err != nil {
		return nil, fmt.Errorf("client: build %s cache: %v: %w", f.cfg.Cache.Backend, err, config.ErrConfiguration)
	}

	return newClient(name, controller, store, strategy, f.cfg.Cache.Backend, logger, f.recorder), nil
}

// NewStore builds the cache backend named by cfg. It is used by the factory
// and by cache maintenance commands that operate without a provider client.
func NewStore(cfg config.CacheConfig, logger *slog.Logger) (cache.Store, error) {
	opts := cache.Options{TTL: cfg.TTL(), MaxBytes: cfg.MaxBytes()}
	switch cfg.Backend {
	case config.BackendDisk:
		return cache.NewDisk(cfg.Directory, opts, logger)
	case config.BackendSQLite:
		return cache.NewSQLite(cfg.Path, opts)
	case config.BackendValkey:
		return cache.NewValkey(cache.ValkeyConfig{
			Address:  cfg.Valkey.Address,
			Username: cfg.Valkey.Username,
			Password: cfg.Valkey.Password,
			DB:       cfg.Valkey.DB,
		}, opts)
	default:
		return nil, fmt.Errorf("client: unsupported cache backend %q", cfg.Backend)
	}
}
