package gen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// maxResponseBytes bounds how much of an upstream body is read. Generation
// responses are text; anything past this is a misbehaving provider.
const maxResponseBytes = 4 << 20

// chatMessage is one message in an OpenAI-style chat completion payload.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the outbound provider payload. Optional sampling parameters
// use pointers so gated-off fields disappear from the serialized body.
type chatRequest struct {
	Model            string        `json:"model"`
	Messages         []chatMessage `json:"messages"`
	MaxTokens        int           `json:"max_tokens"`
	Temperature      float64       `json:"temperature"`
	TopP             *float64      `json:"top_p,omitempty"`
	FrequencyPenalty *float64      `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64      `json:"presence_penalty,omitempty"`
}

// chatResponse is the subset of an OpenAI-style completion response the
// transport consumes.
type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

// chatErrorResponse is the error shape most OpenAI-compatible providers return
// alongside a non-success status.
type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Transport issues exactly one network call per Execute invocation. It owns
// payload construction, the split connect/read timeout, and outcome
// classification. Retrying is someone else's job.
type Transport struct {
	provider    string
	baseURL     string
	apiKey      string
	caps        Capabilities
	connTimeout time.Duration
	readTimeout time.Duration
	client      *http.Client
	logger      *slog.Logger
}

// NewTransport builds a transport for one provider. The underlying pool is
// pinned to a single connection so calls from one client instance serialize
// instead of piling onto a rate-limited upstream.
func NewTransport(provider, baseURL, apiKey string, connTimeout, readTimeout time.Duration, logger *slog.Logger) *Transport {
	dialer := &net.Dialer{Timeout: connTimeout}
	httpTransport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxConnsPerHost:     1,
		MaxIdleConns:        1,
		MaxIdleConnsPerHost: 1,
	}
	return &Transport{
		provider:    provider,
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		caps:        CapabilitiesFor(provider),
		connTimeout: connTimeout,
		readTimeout: readTimeout,
		client:      &http.Client{Transport: httpTransport},
		logger:      logger,
	}
}

// buildPayload assembles the provider payload from the spec, dropping sampling
// parameters the provider's capability row rejects.
func (t *Transport) buildPayload(spec RequestSpec) chatRequest {
	messages := make([]chatMessage, 0, 2)
	if spec.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: spec.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: spec.Prompt})

	payload := chatRequest{
		Model:       spec.Model,
		Messages:    messages,
		MaxTokens:   spec.MaxTokens,
		Temperature: spec.Temperature,
	}
	if t.caps.TopP {
		payload.TopP = spec.TopP
	}
	if t.caps.FrequencyPenalty {
		payload.FrequencyPenalty = spec.FrequencyPenalty
	}
	if t.caps.PresencePenalty {
		payload.PresencePenalty = spec.PresencePenalty
	}
	return payload
}

// Execute performs one generation attempt. It returns a non-nil error only for
// transient transport faults (always a *TransportError); provider rejections
// and unparseable bodies come back as terminal failed envelopes instead, so
// the retry controller never burns attempts on them.
func (t *Transport) Execute(ctx context.Context, spec RequestSpec) (ResponseEnvelope, error) {
	body, err := json.Marshal(t.buildPayload(spec))
	if err != nil {
		return ResponseEnvelope{}, fmt.Errorf("gen: marshal payload: %w", err)
	}

	// Read bound covers the whole attempt past the dial, which the dialer
	// bounds separately.
	ctx, cancel := context.WithTimeout(ctx, t.connTimeout+t.readTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ResponseEnvelope{}, fmt.Errorf("gen: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	started := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		classified := classifyTransportError(err)
		t.logger.Warn("provider call failed",
			slog.String("provider", t.provider),
			slog.String("kind", string(classified.Kind)),
			slog.Any("error", err))
		return ResponseEnvelope{}, classified
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return ResponseEnvelope{}, classifyTransportError(err)
	}
	elapsed := time.Since(started)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ResponseEnvelope{
			Success:      false,
			Failure:      FailureProvider,
			Error:        providerErrorMessage(resp.StatusCode, raw),
			ResponseTime: elapsed,
		}, nil
	}

	var completion chatResponse
	if err := json.Unmarshal(raw, &completion); err != nil || len(completion.Choices) == 0 {
		return ResponseEnvelope{
			Success:      false,
			Failure:      FailureParse,
			Error:        fmt.Sprintf("unexpected response structure from %s", t.provider),
			ResponseTime: elapsed,
		}, nil
	}

	envelope := ResponseEnvelope{
		Success:      true,
		Content:      completion.Choices[0].Message.Content,
		ResponseTime: elapsed,
		ModelUsed:    completion.Model,
		RequestID:    completion.ID,
	}
	if envelope.ModelUsed == "" {
		envelope.ModelUsed = spec.Model
	}
	if completion.Usage != nil {
		envelope.TokenCount = completion.Usage.TotalTokens
		envelope.PromptTokens = completion.Usage.PromptTokens
		envelope.CompletionTokens = completion.Usage.CompletionTokens
	}
	return envelope, nil
}

// providerErrorMessage extracts the upstream error message when the body
// carries the usual error object, falling back to the raw status.
func providerErrorMessage(status int, raw []byte) string {
	var parsed chatErrorResponse
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		return fmt.Sprintf("provider returned %d: %s", status, parsed.Error.Message)
	}
	return fmt.Sprintf("provider returned %d", status)
}
