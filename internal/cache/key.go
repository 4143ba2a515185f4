// Package cache persists successful generation envelopes so identical requests
// never pay for a second provider call. Keys are content-derived, entries are
// immutable once written, and expiry is lazy: a stale entry dies the moment a
// read notices its age.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/quillforge/genclient/internal/gen"
)

// Strategy selects which RequestSpec fields participate in the cache key.
type Strategy string

const (
	// StrategyPromptHash keys on the prompt text alone. Requests differing
	// only in model or temperature collide on the same key on purpose: some
	// pipelines treat output as insensitive to those knobs.
	StrategyPromptHash Strategy = "prompt_hash"
	// StrategyPromptHashWithModel keys on model, prompt, and temperature.
	StrategyPromptHashWithModel Strategy = "prompt_hash_with_model"
	// StrategyFullRequestHash keys on the entire serialized request.
	StrategyFullRequestHash Strategy = "full_request_hash"
)

// ParseStrategy validates a configured strategy name.
func ParseStrategy(name string) (Strategy, error) {
	switch Strategy(name) {
	case StrategyPromptHash, StrategyPromptHashWithModel, StrategyFullRequestHash:
		return Strategy(name), nil
	default:
		return "", fmt.Errorf("cache: unknown key strategy %q (want %s, %s, or %s)",
			name, StrategyPromptHash, StrategyPromptHashWithModel, StrategyFullRequestHash)
	}
}

// Key derives the deterministic cache key for a spec under a strategy. A spec
// missing a field the strategy requires is a configuration error, raised here
// rather than silently degraded to a looser strategy.
func Key(spec gen.RequestSpec, strategy Strategy) (string, error) {
	switch strategy {
	case StrategyPromptHash:
		if spec.Prompt == "" {
			return "", fmt.Errorf("cache: %s requires a prompt", strategy)
		}
		return digest([]byte(spec.Prompt)), nil
	case StrategyPromptHashWithModel:
		if spec.Prompt == "" || spec.Model == "" {
			return "", fmt.Errorf("cache: %s requires prompt and model", strategy)
		}
		canonical := spec.Model + "\n" + spec.Prompt + "\n" + strconv.FormatFloat(spec.Temperature, 'g', -1, 64)
		return digest([]byte(canonical)), nil
	case StrategyFullRequestHash:
		if spec.Prompt == "" || spec.Model == "" {
			return "", fmt.Errorf("cache: %s requires prompt and model", strategy)
		}
		// json.Marshal of a struct emits fields in declaration order, so the
		// serialized form is canonical.
		serialized, err := json.Marshal(spec)
		if err != nil {
			return "", fmt.Errorf("cache: serialize request: %w", err)
		}
		return digest(serialized), nil
	default:
		return "", fmt.Errorf("cache: unknown key strategy %q", strategy)
	}
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
