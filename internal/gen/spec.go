package gen

import (
	"errors"
	"fmt"
	"time"
)

// RequestSpec describes one outbound generation request. Callers build a fresh
// value per call and every downstream component treats it as read-only. Nothing
// here is defaulted: prompt, model, and token budget are always caller-supplied.
type RequestSpec struct {
	Prompt           string   `json:"prompt"`
	System           string   `json:"system,omitempty"`
	Model            string   `json:"model"`
	MaxTokens        int      `json:"max_tokens"`
	Temperature      float64  `json:"temperature"`
	TopP             *float64 `json:"top_p,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
}

// ErrSpec marks a malformed RequestSpec. It is a configuration-class failure:
// raised synchronously, never retried.
var ErrSpec = errors.New("invalid request spec")

// Validate enforces the caller-supplied invariants before any network or cache
// activity happens.
func (s RequestSpec) Validate() error {
	if s.Prompt == "" {
		return fmt.Errorf("gen: prompt required: %w", ErrSpec)
	}
	if s.Model == "" {
		return fmt.Errorf("gen: model required: %w", ErrSpec)
	}
	if s.MaxTokens <= 0 {
		return fmt.Errorf("gen: max_tokens must be positive, got %d: %w", s.MaxTokens, ErrSpec)
	}
	return nil
}

// FailureClass labels the terminal failure mode carried by a failed envelope.
type FailureClass string

const (
	// FailureProvider marks a non-success status returned by the upstream
	// service. Terminal: retrying a rejected request wastes quota.
	FailureProvider FailureClass = "provider_error"
	// FailureParse marks a response body that did not match the expected
	// structure. Terminal: malformed structure indicates a contract violation,
	// not a transient condition.
	FailureParse FailureClass = "parse_error"
	// FailureExhausted marks a request that consumed every allowed attempt
	// with only transient errors encountered.
	FailureExhausted FailureClass = "retries_exhausted"
)

// ResponseEnvelope is the complete result record for one top-level generate
// call, success or failure. Intermediate per-attempt results are discarded;
// only the final envelope reaches the caller.
type ResponseEnvelope struct {
	Success          bool          `json:"success"`
	Content          string        `json:"content"`
	Error            string        `json:"error,omitempty"`
	Failure          FailureClass  `json:"failure,omitempty"`
	ResponseTime     time.Duration `json:"response_time"`
	TokenCount       int           `json:"token_count"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	ModelUsed        string        `json:"model_used"`
	RequestID        string        `json:"request_id,omitempty"`
	RetryCount       int           `json:"retry_count"`
}
