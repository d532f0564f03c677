package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/mentorlink/study-agent/internal/domain/textgen"
)

// New builds the backend named by cfg.Provider, guarded by a circuit breaker.
// Empty BaseURL and Model fall back to the provider defaults.
func New(cfg Config) (textgen.Generator, error) {
	provider := Provider(strings.ToLower(string(cfg.Provider)))
	if provider == "claude" {
		provider = ProviderAnthropic
	}
	if provider == "" {
		provider = ProviderOpenAI
	}

	def := DefaultConfig(provider)
	cfg.Provider = provider
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Breaker == (BreakerConfig{}) {
		cfg.Breaker = def.Breaker
	}

	var (
		gen textgen.Generator
		err error
	)
	switch provider {
	case ProviderOpenAI, ProviderGroq:
		gen, err = NewOpenAIClient(cfg)
	case ProviderAnthropic:
		gen, err = NewAnthropicClient(cfg)
	case ProviderOffline:
		return Offline{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("%s backend: %w", provider, err)
	}
	return WithBreaker(gen, cfg.Breaker, cfg.Logger), nil
}

// Offline is a backend that is never reachable. Used for local runs without
// credentials; every plan is produced by the deterministic fallback.
type Offline struct{}

// Generate implements textgen.Generator.
func (Offline) Generate(context.Context, string, textgen.Options) (string, error) {
	return "", ErrOffline
}

// Model implements textgen.Generator.
func (Offline) Model() string {
	return "offline"
}
