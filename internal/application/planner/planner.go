package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mentorlink/study-agent/internal/domain/risk"
	"github.com/mentorlink/study-agent/internal/domain/shared"
	"github.com/mentorlink/study-agent/internal/domain/student"
	"github.com/mentorlink/study-agent/internal/domain/suggestion"
	"github.com/mentorlink/study-agent/internal/domain/textgen"
	"github.com/mentorlink/study-agent/pkg/retry"
)

// Config contains planner settings.
type Config struct {
	// MaxAttempts is the number of generation attempts before falling back.
	MaxAttempts int

	// BackoffStep is the linear backoff unit: attempt n waits n*BackoffStep.
	BackoffStep time.Duration

	// Timeout bounds a single generation call.
	Timeout time.Duration

	Temperature float64
	MaxTokens   int

	// DailyBudgetMinutes caps the total task time of one plan day.
	DailyBudgetMinutes int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:        3,
		BackoffStep:        2 * time.Second,
		Timeout:            60 * time.Second,
		Temperature:        0.7,
		MaxTokens:          4096,
		DailyBudgetMinutes: 300,
	}
}

// Result is a generated (or synthesized) plan with its provenance.
type Result struct {
	Plan       suggestion.Plan
	Fallback   bool
	PromptHash string
	OutputHash string
	Model      string
	Attempts   int

	// LastError is the final generation error when Fallback is set.
	LastError error
}

// Planner produces study plans.
type Planner struct {
	generator textgen.Generator
	config    Config
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// Option configures the Planner.
type Option func(*Planner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Planner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Planner) {
		p.sleep = fn
	}
}

// New creates a new Planner.
func New(generator textgen.Generator, config Config, opts ...Option) *Planner {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	p := &Planner{
		generator: generator,
		config:    config,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Generate builds a plan for the student. It returns an error only when the
// prompt cannot be built or ctx is cancelled before any attempt; generation
// failures are absorbed by the fallback path.
func (p *Planner) Generate(ctx context.Context, s *student.Snapshot, profile risk.Profile, today time.Time) (*Result, error) {
	in := BuildInput(s, profile, today)
	prompt, err := BuildPrompt(in, p.config.DailyBudgetMinutes)
	if err != nil {
		return nil, shared.WrapError("planner", "Generate", shared.ErrUnexpected, "build prompt", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{PromptHash: Hash(prompt), Model: p.generator.Model()}

	retryOpts := []retry.Option{
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			p.logger.Warn("plan generation attempt failed",
				"user_id", in.UserID,
				"attempt", attempt,
				"max_attempts", p.config.MaxAttempts,
				"retry_in", delay,
				"error", err,
			)
		}),
	}
	if p.sleep != nil {
		retryOpts = append(retryOpts, retry.WithSleep(p.sleep))
	}
	retrier := retry.GenerationRetrier(p.config.MaxAttempts, p.config.BackoffStep, retryOpts...)

	var plan suggestion.Plan
	err = retrier.DoAttempt(ctx, func(ctx context.Context, attempt int) error {
		result.Attempts = attempt
		text := prompt
		if attempt > 1 {
			text = RetryPrompt(prompt)
		}
		parsed, err := p.attempt(ctx, text)
		if err != nil {
			return err
		}
		plan = parsed
		return nil
	})

	if err != nil {
		result.LastError = shared.WrapError("planner", "Generate", shared.ErrExhaustedRetries,
			fmt.Sprintf("giving up after %d attempts", result.Attempts), err)
		p.logger.Warn("plan generation exhausted, using fallback",
			"user_id", in.UserID,
			"attempts", result.Attempts,
			"risk", profile.OverallRisk,
			"error", err,
		)
		plan = Fallback(profile, today)
		result.Fallback = true
	}

	result.Plan = Repair(plan, profile, today, p.config.DailyBudgetMinutes)
	if out, err := json.Marshal(result.Plan); err == nil {
		result.OutputHash = Hash(string(out))
	}
	return result, nil
}

// attempt performs one generation call and parses the output. The call
// timeout travels in the options so the generator applies it to the provider
// request only, after any rate-limit wait.
func (p *Planner) attempt(ctx context.Context, prompt string) (suggestion.Plan, error) {
	text, err := p.generator.Generate(ctx, prompt, textgen.Options{
		Temperature: p.config.Temperature,
		MaxTokens:   p.config.MaxTokens,
		Timeout:     p.config.Timeout,
		JSONMode:    true,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", shared.ErrTimeout, err)
		}
		wrapped := shared.WrapError("planner", "Generate", shared.ErrTransientGeneration, "provider call failed", err)
		if errors.Is(err, textgen.ErrUnavailable) {
			return suggestion.Plan{}, retry.Permanent(wrapped)
		}
		return suggestion.Plan{}, wrapped
	}

	plan, err := ParsePlan(text)
	if err != nil {
		return suggestion.Plan{}, shared.WrapError("planner", "Generate", shared.ErrTransientGeneration, "unusable response", err)
	}
	return plan, nil
}
