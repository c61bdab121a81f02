// ABOUTME: Registry of model providers a gateway can be configured for
// ABOUTME: Maps provider IDs to the default model routed in the gateway config

package credentials

// Provider describes a supported model provider.
type Provider struct {
	ID           string
	Label        string
	DefaultModel string
}

// Providers is the ordered registry. Order determines which active provider
// becomes the primary model.
var Providers = []Provider{
	{ID: "anthropic", Label: "Anthropic", DefaultModel: "anthropic/claude-sonnet-4-5"},
	{ID: "openai", Label: "OpenAI", DefaultModel: "openai/gpt-4.1"},
	{ID: "openrouter", Label: "OpenRouter", DefaultModel: "openrouter/anthropic/claude-sonnet-4.5"},
	{ID: "google", Label: "Google Gemini", DefaultModel: "google/gemini-2.5-pro"},
}

// Lookup returns the provider registered under id.
func Lookup(id string) (Provider, bool) {
	for _, p := range Providers {
		if p.ID == id {
			return p, true
		}
	}
	return Provider{}, false
}

func rank(id string) int {
	for i, p := range Providers {
		if p.ID == id {
			return i
		}
	}
	return len(Providers)
}

// ResolveModel returns the model for provider, honoring an override when present.
func ResolveModel(providerID string, overrides map[string]string) string {
	if m := overrides[providerID]; m != "" {
		return m
	}
	if p, ok := Lookup(providerID); ok {
		return p.DefaultModel
	}
	return ""
}
