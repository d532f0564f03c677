package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mentorlink/study-agent/internal/application/queue"
	"github.com/mentorlink/study-agent/internal/domain/job"
	"github.com/mentorlink/study-agent/internal/domain/shared"
	"github.com/mentorlink/study-agent/internal/domain/textgen"
)

// ══════════════════════════════════════════════════════════════════════════════
// POOL
// ══════════════════════════════════════════════════════════════════════════════

// PoolConfig contains configuration for the Pool.
type PoolConfig struct {
	// Concurrency caps the number of jobs processed at once.
	Concurrency int

	// PollInterval is the wait after the queue was found empty.
	PollInterval time.Duration
}

// DefaultPoolConfig returns sensible defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Concurrency:  5,
		PollInterval: 2 * time.Second,
	}
}

// Pool leases jobs from the queue and runs them on a bounded set of slots.
type Pool struct {
	queue     *queue.Service
	processor *Processor
	config    PoolConfig
	logger    *slog.Logger

	slots chan struct{}
	wg    sync.WaitGroup
}

// NewPool creates a worker pool.
func NewPool(q *queue.Service, processor *Processor, config PoolConfig, logger *slog.Logger) *Pool {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultPoolConfig().Concurrency
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPoolConfig().PollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		queue:     q,
		processor: processor,
		config:    config,
		logger:    logger,
		slots:     make(chan struct{}, config.Concurrency),
	}
}

// Run leases and processes jobs until ctx is cancelled, then waits for the
// jobs already leased. A leased job is never cancelled by ctx.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool started",
		"concurrency", p.config.Concurrency,
		"poll_interval", p.config.PollInterval,
	)
	defer func() {
		p.wg.Wait()
		p.logger.Info("worker pool stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case p.slots <- struct{}{}:
		}

		rec, err := p.queue.Lease(ctx)
		if err != nil {
			<-p.slots
			if !errors.Is(err, shared.ErrNoJobAvailable) {
				p.logger.Error("failed to lease job", "error", err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.config.PollInterval):
			}
			continue
		}

		p.wg.Add(1)
		go func(rec *job.Record) {
			defer func() {
				<-p.slots
				p.wg.Done()
			}()
			p.process(context.WithoutCancel(ctx), rec)
		}(rec)
	}
}

// Drain processes queued jobs synchronously until the queue is empty and
// returns how many were processed. Used by the CLI and tests.
func (p *Pool) Drain(ctx context.Context) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		rec, err := p.queue.Lease(ctx)
		if errors.Is(err, shared.ErrNoJobAvailable) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		p.process(ctx, rec)
		n++
	}
}

func (p *Pool) process(ctx context.Context, rec *job.Record) {
	start := time.Now()
	out, err := p.processor.Process(ctx, rec)
	if err != nil {
		p.logger.Debug("job finished with error",
			"job_id", rec.ID,
			"status", out.Status,
			"elapsed", time.Since(start),
			"error", err,
		)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITED GENERATOR
// ══════════════════════════════════════════════════════════════════════════════

// rateLimitedGenerator delays generation calls beyond the pool-wide rate.
type rateLimitedGenerator struct {
	next    textgen.Generator
	limiter *rate.Limiter
}

// RateLimited wraps a generator so all calls through it share one limiter
// of perMinute calls. Calls over the limit wait; they are never dropped.
func RateLimited(next textgen.Generator, perMinute int) textgen.Generator {
	if perMinute <= 0 {
		return next
	}
	return &rateLimitedGenerator{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
	}
}

// Generate waits on ctx, then bounds only the wrapped call by opts.Timeout.
func (g *rateLimitedGenerator) Generate(ctx context.Context, prompt string, opts textgen.Options) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	return g.next.Generate(ctx, prompt, opts)
}

func (g *rateLimitedGenerator) Model() string {
	return g.next.Model()
}
