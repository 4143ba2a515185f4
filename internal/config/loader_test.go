package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const yamlConfig = `
logging:
  level: debug
providers:
  openai:
    baseUrl: https://api.example.com/v1
    model: test-model
    apiKeyEnv: EXAMPLE_API_KEY
    maxTokens: 1000
    temperature: 0.7
    connectTimeout: 10s
    readTimeout: 120s
    maxRetries: 3
    retryDelay: 1s
cache:
  enabled: true
  backend: disk
  directory: /tmp/genclient-cache
  ttlSeconds: 3600
  maxSizeMb: 100
  keyStrategy: prompt_hash_with_model
`

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoaderLoadYAML(t *testing.T) {
	loader := NewLoader("GENCLIENT", writeConfig(t, "config.yaml", yamlConfig))
	cfg, err := loader.Load(context.Background())
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "json", cfg.Logging.Format, "unset format falls back to the default")

	provider, ok := cfg.Providers["openai"]
	require.True(t, ok)
	require.Equal(t, "https://api.example.com/v1", provider.BaseURL)
	require.Equal(t, "EXAMPLE_API_KEY", provider.APIKeyEnv)
	require.NotNil(t, provider.Temperature)
	require.Equal(t, 0.7, *provider.Temperature)
	require.Equal(t, 3, provider.MaxRetries)

	require.True(t, cfg.Cache.Enabled)
	require.Equal(t, BackendDisk, cfg.Cache.Backend)
	require.Equal(t, 3600, cfg.Cache.TTLSeconds)
	require.Equal(t, "prompt_hash_with_model", cfg.Cache.KeyStrategy)
}

func TestLoaderEnvOverridesFile(t *testing.T) {
	t.Setenv("GENCLIENT_LOGGING__LEVEL", "error")
	t.Setenv("GENCLIENT_CACHE__TTLSECONDS", "60")
	t.Setenv("GENCLIENT_CACHE__KEYSTRATEGY", "full_request_hash")
	t.Setenv("GENCLIENT_PROVIDERS__OPENAI__MAXRETRIES", "7")

	loader := NewLoader("GENCLIENT", writeConfig(t, "config.yaml", yamlConfig))
	cfg, err := loader.Load(context.Background())
	require.NoError(t, err)

	require.Equal(t, "error", cfg.Logging.Level)
	require.Equal(t, 60, cfg.Cache.TTLSeconds)
	require.Equal(t, "full_request_hash", cfg.Cache.KeyStrategy)
	require.Equal(t, 7, cfg.Providers["openai"].MaxRetries)
}

func TestLoaderJSONFile(t *testing.T) {
	contents := `{
  "providers": {
    "openai": {
      "baseUrl": "https://api.example.com/v1",
      "model": "test-model",
      "apiKeyEnv": "EXAMPLE_API_KEY",
      "maxTokens": 1000,
      "temperature": 0.7,
      "connectTimeout": "10s",
      "readTimeout": "120s",
      "maxRetries": 3,
      "retryDelay": "1s"
    }
  },
  "cache": {"enabled": false}
}`
	loader := NewLoader("GENCLIENT", writeConfig(t, "config.json", contents))
	cfg, err := loader.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "test-model", cfg.Providers["openai"].Model)
	require.False(t, cfg.Cache.Enabled)
}

func TestLoaderMissingFile(t *testing.T) {
	loader := NewLoader("GENCLIENT", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := loader.Load(context.Background())
	require.ErrorIs(t, err, ErrConfiguration)
	require.Contains(t, err.Error(), "absent.yaml")
}

func TestLoaderUnsupportedExtension(t *testing.T) {
	loader := NewLoader("GENCLIENT", writeConfig(t, "config.ini", "[providers]\n"))
	_, err := loader.Load(context.Background())
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestLoaderValidationFailureSurfaces(t *testing.T) {
	broken := `
providers:
  openai:
    model: test-model
`
	loader := NewLoader("GENCLIENT", writeConfig(t, "config.yaml", broken))
	_, err := loader.Load(context.Background())
	require.ErrorIs(t, err, ErrConfiguration)
	require.Contains(t, err.Error(), "baseUrl")
}

func TestLoaderInvalidCacheConfigFailsEvenWithValidProviders(t *testing.T) {
	loader := NewLoader("GENCLIENT", writeConfig(t, "config.yaml", yamlConfig))
	t.Setenv("GENCLIENT_CACHE__BACKEND", "memcached")
	_, err := loader.Load(context.Background())
	require.ErrorIs(t, err, ErrConfiguration)
	require.Contains(t, err.Error(), "memcached")
}
