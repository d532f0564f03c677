// Package textgen is the port for the external text-generation provider.
// The pipeline treats every backend the same: a prompt goes in, raw text
// comes out.
package textgen

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks a backend that refuses calls for now, such as the
// offline backend or an open circuit breaker. Retrying within the same job
// cannot succeed.
var ErrUnavailable = errors.New("text generation backend unavailable")

// Options tunes a single generation call.
type Options struct {
	Temperature float64
	MaxTokens   int

	// Timeout bounds the call. Zero leaves the caller's context in charge.
	Timeout time.Duration

	// JSONMode asks the backend to constrain output to a JSON object where supported.
	JSONMode bool
}

// DefaultOptions returns the options used for study-plan generation.
func DefaultOptions() Options {
	return Options{
		Temperature: 0.7,
		MaxTokens:   4096,
		Timeout:     60 * time.Second,
		JSONMode:    true,
	}
}

// Generator submits a prompt to a text-generation backend.
type Generator interface {
	// Generate returns the raw completion text.
	Generate(ctx context.Context, prompt string, opts Options) (string, error)

	// Model names the backend model, recorded on each suggestion.
	Model() string
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt string, opts Options) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	return f(ctx, prompt, opts)
}

// Model implements Generator.
func (f GeneratorFunc) Model() string {
	return "func"
}
