package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the settings snapshot with env > file > default precedence.
type Loader struct {
	envPrefix string
	path      string
}

// NewLoader prepares a loader for the given file path (may be empty when all
// configuration arrives via environment) and environment prefix.
func NewLoader(envPrefix, path string) *Loader {
	return &Loader{envPrefix: envPrefix, path: path}
}

// canonicalSegments restores the camelCase koanf keys that environment
// variable names flatten away. Keys are matched per path segment.
var canonicalSegments = map[string]string{
	"baseurl":        "baseUrl",
	"apikeyenv":      "apiKeyEnv",
	"maxtokens":      "maxTokens",
	"connecttimeout": "connectTimeout",
	"readtimeout":    "readTimeout",
	"maxretries":     "maxRetries",
	"retrydelay":     "retryDelay",
	"ttlseconds":     "ttlSeconds",
	"maxsizemb":      "maxSizeMb",
	"keystrategy":    "keyStrategy",
}

// Load assembles the effective configuration and runs Validate so every
// fail-fast invariant fires here, before any client construction.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	select {
	case <-ctx.Done():
		return Config{}, ctx.Err()
	default:
	}

	k := koanf.New(".")
	defaults := DefaultConfig()
	if err := k.Load(confmap.Provider(map[string]any{
		"logging": map[string]any{
			"level":  defaults.Logging.Level,
			"format": defaults.Logging.Format,
		},
		"server": map[string]any{
			"listen": map[string]any{
				"address": defaults.Server.Listen.Address,
				"port":    defaults.Server.Listen.Port,
			},
		},
	}, "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	if l.path != "" {
		if _, err := os.Stat(l.path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found: %w", l.path, ErrConfiguration)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", l.path, err)
		}
		parser, err := parserFor(l.path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(l.path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", l.path, err)
		}
	}

	if l.envPrefix != "" {
		transform := func(s string) string {
			// Double underscores mark nesting: GENCLIENT_CACHE__TTLSECONDS
			// becomes cache.ttlSeconds.
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			segments := strings.Split(strings.ToLower(key), "__")
			for i, segment := range segments {
				if canonical, ok := canonicalSegments[segment]; ok {
					segments[i] = canonical
				}
			}
			return strings.Join(segments, ".")
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// parserFor picks a koanf parser from the file extension.
func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported file extension on %s: %w", path, ErrConfiguration)
	}
}
