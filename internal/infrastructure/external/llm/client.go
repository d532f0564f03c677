// Package llm implements the text-generation backends used for study-plan
// generation. Every backend satisfies textgen.Generator; one is chosen at
// construction time by New.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mentorlink/study-agent/internal/domain/shared"
	"github.com/mentorlink/study-agent/internal/domain/textgen"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Provider names a backend family.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderGroq      Provider = "groq"
	ProviderAnthropic Provider = "anthropic"

	// ProviderOffline never calls out; every plan takes the fallback path.
	ProviderOffline Provider = "offline"
)

// Default endpoints and models per provider.
const (
	OpenAIBaseURL    = "https://api.openai.com/v1"
	GroqBaseURL      = "https://api.groq.com/openai/v1"
	AnthropicBaseURL = "https://api.anthropic.com/v1"

	DefaultOpenAIModel    = "gpt-4-turbo-preview"
	DefaultGroqModel      = "llama-3.3-70b-versatile"
	DefaultAnthropicModel = "claude-3-5-sonnet-20241022"

	AnthropicVersion = "2023-06-01"

	// SystemPrompt is sent to chat backends that accept a system message.
	SystemPrompt = "You are a helpful academic advisor. Always respond with valid JSON only."
)

// Config contains configuration for a text-generation backend.
type Config struct {
	Provider Provider
	BaseURL  string
	APIKey   string
	Model    string

	// Timeout is the HTTP client timeout. Per-call timeouts come from textgen.Options.
	Timeout time.Duration

	Breaker BreakerConfig
	Logger  *slog.Logger
}

// DefaultConfig returns sensible defaults for a provider.
func DefaultConfig(provider Provider) Config {
	cfg := Config{
		Provider: provider,
		Timeout:  90 * time.Second,
		Breaker:  DefaultBreakerConfig(),
	}
	switch provider {
	case ProviderGroq:
		cfg.BaseURL, cfg.Model = GroqBaseURL, DefaultGroqModel
	case ProviderAnthropic:
		cfg.BaseURL, cfg.Model = AnthropicBaseURL, DefaultAnthropicModel
	default:
		cfg.BaseURL, cfg.Model = OpenAIBaseURL, DefaultOpenAIModel
	}
	return cfg
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrMissingAPIKey is returned when a remote backend has no key configured.
	ErrMissingAPIKey = errors.New("llm: api key not configured")

	// ErrEmptyCompletion is returned when the backend answers without text.
	ErrEmptyCompletion = errors.New("llm: empty completion")

	// ErrUnknownProvider is returned by New for unsupported providers.
	ErrUnknownProvider = errors.New("llm: unknown provider")

	// ErrOffline is returned by the offline backend.
	ErrOffline = fmt.Errorf("llm: offline backend: %w: %w", textgen.ErrUnavailable, shared.ErrServiceUnavailable)
)

// APIError is a non-2xx answer from a backend.
type APIError struct {
	Provider   Provider
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("llm: %s api error: status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Unwrap maps the status onto the shared taxonomy.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return shared.ErrServiceUnavailable
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return shared.ErrUnauthorized
	case e.StatusCode >= 500:
		return shared.ErrServiceUnavailable
	default:
		return shared.ErrExternalService
	}
}

// countsAsFailure reports whether an error should move the breaker.
// Client-side mistakes and cancellations do not indicate an unhealthy backend.
func countsAsFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return true
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSPORT
// ══════════════════════════════════════════════════════════════════════════════

// transport performs JSON POSTs against a backend.
type transport struct {
	provider   Provider
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func newTransport(cfg Config) transport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return transport{
		provider:   cfg.Provider,
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// postJSON sends body to path with headers and decodes the answer into result.
func (t transport) postJSON(ctx context.Context, path string, headers map[string]string, body, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("llm: %s request: %w", t.provider, shared.ErrTimeout)
		}
		return fmt.Errorf("llm: %s request: %w", t.provider, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	t.logger.Debug("llm call finished",
		"provider", t.provider,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Provider: t.provider, StatusCode: resp.StatusCode, Body: truncate(string(respBody), 512)}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil {
				apiErr.RetryAfter = time.Duration(seconds) * time.Second
			}
		}
		return apiErr
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// withTimeout applies a per-call timeout when one is set.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
