package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mentorlink/study-agent/internal/domain/shared"
	"github.com/mentorlink/study-agent/internal/domain/textgen"
)

// BreakerConfig tunes the circuit breaker in front of a backend.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32

	// Interval clears the closed-state counts. Zero never clears them.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration

	// MinRequests and FailureRatio decide when the breaker trips.
	MinRequests  uint32
	FailureRatio float64
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		MinRequests:  3,
		FailureRatio: 0.6,
	}
}

// BreakerGenerator guards a backend with a circuit breaker. While open,
// calls fail immediately with shared.ErrServiceUnavailable and the planner
// falls back without waiting on a dead provider.
type BreakerGenerator struct {
	next textgen.Generator
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker wraps next with a circuit breaker named after its model.
func WithBreaker(next textgen.Generator, cfg BreakerConfig, logger *slog.Logger) *BreakerGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	settings := gobreaker.Settings{
		Name:        "llm:" + next.Model(),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("llm circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return !countsAsFailure(err)
		},
	}
	return &BreakerGenerator{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

var _ textgen.Generator = (*BreakerGenerator)(nil)

// Generate implements textgen.Generator.
func (g *BreakerGenerator) Generate(ctx context.Context, prompt string, opts textgen.Options) (string, error) {
	out, err := g.cb.Execute(func() (any, error) {
		return g.next.Generate(ctx, prompt, opts)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("%w: %w: %v", textgen.ErrUnavailable, shared.ErrServiceUnavailable, err)
		}
		return "", err
	}
	return out.(string), nil
}

// Model implements textgen.Generator.
func (g *BreakerGenerator) Model() string {
	return g.next.Model()
}

// State reports the breaker state, for health output.
func (g *BreakerGenerator) State() string {
	return g.cb.State().String()
}
