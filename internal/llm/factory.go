package llm

import (
	"github.com/Mateus-rgb/Lim-Code-sub001/internal/chat"
)

// ProviderOptions carries the resolved credentials for building a provider.
type ProviderOptions struct {
	APIKey  string
	Model   string
	BaseURL string
}

// NewProvider builds the named provider, wrapped with transient-failure
// retries. Unknown names are a configuration error.
func NewProvider(name string, opts ProviderOptions) (Provider, error) {
	var p Provider
	switch name {
	case "gemini":
		p = NewGeminiProvider(opts.APIKey, opts.Model)
	case "anthropic":
		p = NewAnthropicProvider(opts.APIKey, opts.Model)
	case "openai", "openai-compat":
		p = NewOpenAIProvider(opts.APIKey, opts.Model, opts.BaseURL)
	default:
		return nil, chat.NewError(chat.ErrConfigNotFound, "unknown provider %q", name)
	}
	return WrapWithRetry(p, DefaultRetryConfig()), nil
}

// TokenCounterFor returns the provider's token-counting oracle when it has
// one, or nil to fall back to the local estimator.
func TokenCounterFor(p Provider) chat.TokenCounter {
	type unwrapper interface{ Unwrap() Provider }
	for {
		if counter, ok := p.(chat.TokenCounter); ok && p.Capabilities().CountTokens {
			return counter
		}
		u, ok := p.(unwrapper)
		if !ok {
			return nil
		}
		p = u.Unwrap()
	}
}
