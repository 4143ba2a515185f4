package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrConfiguration marks every configuration-class failure: missing fields,
// unknown providers, absent credentials. These are fatal at construction time
// and never reach the retry loop.
var ErrConfiguration = errors.New("invalid configuration")

// Config is the process-wide settings snapshot: one cache block shared by all
// clients, plus one provider block per upstream service. Loaded once at start
// and treated as immutable afterwards.
type Config struct {
	Logging   LoggingConfig             `koanf:"logging"`
	Server    ServerConfig              `koanf:"server"`
	Providers map[string]ProviderConfig `koanf:"providers"`
	Cache     CacheConfig               `koanf:"cache"`
}

// ServerConfig controls the optional HTTP serving mode. Unused by the one-shot
// CLI commands.
type ServerConfig struct {
	Listen ListenConfig `koanf:"listen"`
}

// ListenConfig carries the bind address for the HTTP listener.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format. This is the only block with
// defaults; everything request-facing is required.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ProviderConfig describes one upstream generation service. Every field is
// required: a missing field is a construction-time error, never silently
// defaulted. APIKeyEnv names the environment variable holding the credential;
// the secret itself never lives in configuration.
type ProviderConfig struct {
	BaseURL        string   `koanf:"baseUrl"`
	Model          string   `koanf:"model"`
	APIKeyEnv      string   `koanf:"apiKeyEnv"`
	MaxTokens      int      `koanf:"maxTokens"`
	Temperature    *float64 `koanf:"temperature"`
	ConnectTimeout string   `koanf:"connectTimeout"`
	ReadTimeout    string   `koanf:"readTimeout"`
	MaxRetries     int      `koanf:"maxRetries"`
	RetryDelay     string   `koanf:"retryDelay"`
}

// Validate checks every required field, naming the offender so an operator can
// fix the file without reading source.
func (p ProviderConfig) Validate(name string) error {
	required := []struct {
		field string
		ok    bool
	}{
		{"baseUrl", strings.TrimSpace(p.BaseURL) != ""},
		{"model", strings.TrimSpace(p.Model) != ""},
		{"apiKeyEnv", strings.TrimSpace(p.APIKeyEnv) != ""},
		{"maxTokens", p.MaxTokens > 0},
		{"temperature", p.Temperature != nil},
		{"connectTimeout", strings.TrimSpace(p.ConnectTimeout) != ""},
		{"readTimeout", strings.TrimSpace(p.ReadTimeout) != ""},
		{"retryDelay", strings.TrimSpace(p.RetryDelay) != ""},
	}
	for _, r := range required {
		if !r.ok {
			return fmt.Errorf("config: provider %q missing %s: %w", name, r.field, ErrConfiguration)
		}
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("config: provider %q maxRetries negative: %w", name, ErrConfiguration)
	}
	for _, d := range []struct {
		field string
		value string
	}{
		{"connectTimeout", p.ConnectTimeout},
		{"readTimeout", p.ReadTimeout},
		{"retryDelay", p.RetryDelay},
	} {
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("config: provider %q %s invalid: %v: %w", name, d.field, err, ErrConfiguration)
		}
	}
	return nil
}

// ConnectTimeoutDuration returns the parsed connect timeout. Validate runs
// before any accessor, so a parse failure here collapses to zero.
func (p ProviderConfig) ConnectTimeoutDuration() time.Duration {
	return parseDuration(p.ConnectTimeout)
}

// ReadTimeoutDuration returns the parsed read timeout.
func (p ProviderConfig) ReadTimeoutDuration() time.Duration {
	return parseDuration(p.ReadTimeout)
}

// RetryDelayDuration returns the parsed base backoff delay.
func (p ProviderConfig) RetryDelayDuration() time.Duration {
	return parseDuration(p.RetryDelay)
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// Cache backends.
const (
	BackendDisk   = "disk"
	BackendValkey = "valkey"
	BackendSQLite = "sqlite"
)

// CacheConfig controls the response cache. When Enabled is false the rest of
// the block is ignored and left unvalidated; when true, every field the
// selected backend needs is required.
type CacheConfig struct {
	Enabled     bool               `koanf:"enabled"`
	Backend     string             `koanf:"backend"`
	Directory   string             `koanf:"directory"`
	Path        string             `koanf:"path"`
	TTLSeconds  int                `koanf:"ttlSeconds"`
	MaxSizeMB   int                `koanf:"maxSizeMb"`
	KeyStrategy string             `koanf:"keyStrategy"`
	Valkey      ValkeyServerConfig `koanf:"valkey"`
}

// ValkeyServerConfig carries valkey backend connection settings.
type ValkeyServerConfig struct {
	Address  string `koanf:"address"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// Validate enforces the fail-fast contract for the cache block.
func (c CacheConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Backend {
	case BackendDisk:
		if strings.TrimSpace(c.Directory) == "" {
			return fmt.Errorf("config: cache.directory required for %s backend: %w", BackendDisk, ErrConfiguration)
		}
	case BackendSQLite:
		if strings.TrimSpace(c.Path) == "" {
			return fmt.Errorf("config: cache.path required for %s backend: %w", BackendSQLite, ErrConfiguration)
		}
	case BackendValkey:
		if strings.TrimSpace(c.Valkey.Address) == "" {
			return fmt.Errorf("config: cache.valkey.address required for %s backend: %w", BackendValkey, ErrConfiguration)
		}
	case "":
		return fmt.Errorf("config: cache.backend required: %w", ErrConfiguration)
	default:
		return fmt.Errorf("config: cache.backend unsupported: %s: %w", c.Backend, ErrConfiguration)
	}
	if c.TTLSeconds <= 0 {
		return fmt.Errorf("config: cache.ttlSeconds must be positive, got %d: %w", c.TTLSeconds, ErrConfiguration)
	}
	if c.MaxSizeMB <= 0 {
		return fmt.Errorf("config: cache.maxSizeMb must be positive, got %d: %w", c.MaxSizeMB, ErrConfiguration)
	}
	switch c.KeyStrategy {
	case "prompt_hash", "prompt_hash_with_model", "full_request_hash":
	case "":
		return fmt.Errorf("config: cache.keyStrategy required: %w", ErrConfiguration)
	default:
		return fmt.Errorf("config: cache.keyStrategy unsupported: %s: %w", c.KeyStrategy, ErrConfiguration)
	}
	return nil
}

// TTL returns the configured time-to-live.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// MaxBytes returns the size budget in bytes.
func (c CacheConfig) MaxBytes() int64 {
	return int64(c.MaxSizeMB) * 1024 * 1024
}

// Validate enforces invariants over the whole snapshot before any client is
// constructed.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config: nil: %w", ErrConfiguration)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logging.level unsupported: %s: %w", c.Logging.Level, ErrConfiguration)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("config: logging.format unsupported: %s: %w", c.Logging.Format, ErrConfiguration)
	}
	if c.Server.Listen.Port < 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: server.listen.port out of range: %d: %w", c.Server.Listen.Port, ErrConfiguration)
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("config: at least one provider required: %w", ErrConfiguration)
	}
	for name, provider := range c.Providers {
		if err := provider.Validate(name); err != nil {
			return err
		}
	}
	return c.Cache.Validate()
}

// ProviderNames returns the configured provider names, sorted for stable error
// messages.
func (c *Config) ProviderNames() []string {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultConfig seeds the ambient-only defaults. Provider and cache blocks are
// deliberately absent: they have no defaults anywhere.
func DefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "127.0.0.1",
				Port:    8080,
			},
		},
	}
}
