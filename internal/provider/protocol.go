package provider

import (
	"context"
	"fmt"

	"github.com/promptops/whetstone/pkg/config"
)

// Protocol defines the interface for the language-model provider: a single
// completion call taking a system role and user content under a bounded token
// budget. The provider is treated as opaque, possibly slow and possibly
// failing; callers bound it with a context deadline.
type Protocol interface {
	Complete(ctx context.Context, req *CompletionRequest) (string, error)
}

// CompletionRequest represents one completion call.
type CompletionRequest struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// New constructs a provider from configuration. Provider selection is an
// injected capability, not an environment branch at the call site.
func New(cfg config.ProviderConfig) (Protocol, error) {
	switch cfg.Type {
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey, cfg.Model, cfg.Endpoint)
	case "ollama":
		return NewOllamaProvider(cfg.Endpoint, cfg.Model), nil
	case "mock":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", cfg.Type)
	}
}
