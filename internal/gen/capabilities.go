package gen

import "strings"

// Capabilities declares which optional sampling parameters a provider's API
// accepts. Parameters a provider rejects are silently omitted from the payload
// instead of being sent and bounced back as a request error.
type Capabilities struct {
	TopP              bool
	FrequencyPenalty  bool
	PresencePenalty   bool
}

// providerCapabilities is the explicit per-provider capability table. Lookups
// go by provider name, never by model-name string matching, so onboarding a
// new provider means adding one row here.
var providerCapabilities = map[string]Capabilities{
	"openai":   {TopP: true, FrequencyPenalty: true, PresencePenalty: true},
	"deepseek": {TopP: true, FrequencyPenalty: true, PresencePenalty: true},
	"grok":     {TopP: true},
	"gemini":   {TopP: true},
	"winston":  {},
}

// defaultCapabilities is used for providers absent from the table. Permissive:
// an unknown provider gets the full parameter set and rejects what it must.
var defaultCapabilities = Capabilities{TopP: true, FrequencyPenalty: true, PresencePenalty: true}

// CapabilitiesFor resolves the capability row for a provider name.
func CapabilitiesFor(provider string) Capabilities {
	if caps, ok := providerCapabilities[strings.ToLower(strings.TrimSpace(provider))]; ok {
		return caps
	}
	return defaultCapabilities
}
