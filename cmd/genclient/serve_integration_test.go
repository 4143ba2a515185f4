package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
	"github.com/stretchr/testify/require"

	"github.com/quillforge/genclient/internal/client"
	"github.com/quillforge/genclient/internal/config"
	"github.com/quillforge/genclient/internal/metrics"
	"github.com/quillforge/genclient/internal/server"
)

const completionBody = `{
	"id": "chatcmpl-1",
	"model": "test-model",
	"choices": [{"message": {"role": "assistant", "content": "the answer"}, "finish_reason": "stop"}],
	"usage": {"prompt_tokens": 12, "completion_tokens": 30, "total_tokens": 42}
}`

func allocatePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())
	return port
}

// TestServeModeEndToEnd boots the full serving stack against a stub provider
// and drives the HTTP surface from the outside: generation, caching across
// identical requests, unknown-provider rejection, health, and metrics.
func TestServeModeEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	var providerCalls atomic.Int64
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		providerCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completionBody))
	}))
	defer provider.Close()

	t.Setenv("SERVE_TEST_API_KEY", "sk-test")
	temp := 0.7
	port := allocatePort(t)
	cfg := config.Config{
		Logging: config.LoggingConfig{Level: "error", Format: "json"},
		Server:  config.ServerConfig{Listen: config.ListenConfig{Address: "127.0.0.1", Port: port}},
		Providers: map[string]config.ProviderConfig{
			"openai": {
				BaseURL:        provider.URL,
				Model:          "test-model",
				APIKeyEnv:      "SERVE_TEST_API_KEY",
				MaxTokens:      1000,
				Temperature:    &temp,
				ConnectTimeout: "5s",
				ReadTimeout:    "10s",
				MaxRetries:     1,
				RetryDelay:     "10ms",
			},
		},
		Cache: config.CacheConfig{
			Enabled:     true,
			Backend:     config.BackendDisk,
			Directory:   t.TempDir(),
			TTLSeconds:  3600,
			MaxSizeMB:   10,
			KeyStrategy: "prompt_hash_with_model",
		},
	}
	require.NoError(t, cfg.Validate())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder := metrics.NewRecorder(nil)
	factory := client.NewFactory(&cfg, logger, recorder)
	generator, err := factory.Create("openai")
	require.NoError(t, err)
	defer generator.Close(context.Background())

	handler := server.NewHandler(map[string]server.Generator{"openai": generator}, recorder.Handler(), logger)
	srv, err := server.New(cfg.Server, logger, handler)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	defer func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Errorf("server did not shut down")
		}
	}()

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	httpClient := &http.Client{Timeout: 5 * time.Second}
	require.Eventually(t, func() bool {
		resp, err := httpClient.Get(baseURL + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	expect := httpexpect.WithConfig(httpexpect.Config{
		BaseURL:  baseURL,
		Reporter: httpexpect.NewRequireReporter(t),
		Client:   httpClient,
	})

	request := map[string]any{
		"prompt":      "question",
		"model":       "test-model",
		"max_tokens":  100,
		"temperature": 0.7,
	}

	t.Run("generate answers through the configured provider", func(t *testing.T) {
		result := expect.POST("/generate/openai").WithJSON(request).Expect()

		result.Status(http.StatusOK)
		body := result.JSON().Object()
		body.Value("success").Boolean().IsTrue()
		body.Value("content").String().IsEqual("the answer")
		body.Value("token_count").Number().IsEqual(42)
		require.EqualValues(t, 1, providerCalls.Load())
	})

	t.Run("identical request served from the cache", func(t *testing.T) {
		result := expect.POST("/generate/openai").WithJSON(request).Expect()

		result.Status(http.StatusOK)
		result.JSON().Object().Value("content").String().IsEqual("the answer")
		require.EqualValues(t, 1, providerCalls.Load(), "repeat request must not reach the provider")
	})

	t.Run("unknown provider rejected", func(t *testing.T) {
		result := expect.POST("/generate/mystery").WithJSON(request).Expect()

		result.Status(http.StatusNotFound)
		result.JSON().Object().Value("error").String().Contains("mystery")
	})

	t.Run("invalid request spec rejected", func(t *testing.T) {
		result := expect.POST("/generate/openai").
			WithJSON(map[string]any{"prompt": "q"}).
			Expect()

		result.Status(http.StatusBadRequest)
	})

	t.Run("health endpoint reports providers", func(t *testing.T) {
		result := expect.GET("/healthz").Expect()

		result.Status(http.StatusOK)
		body := result.JSON().Object()
		body.Value("status").String().IsEqual("ok")
		body.Value("providers").Number().IsEqual(1)
	})

	t.Run("metrics endpoint exposes generate counters", func(t *testing.T) {
		result := expect.GET("/metrics").Expect()

		result.Status(http.StatusOK)
		result.Body().Contains("genclient_generate_requests_total")
		result.Body().Contains("genclient_cache_operations_total")
	})
}
