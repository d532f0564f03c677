// Package app builds the dependency graph of the study agent from the
// configuration. The worker binary and the operator CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/mentorlink/study-agent/config"
	"github.com/mentorlink/study-agent/internal/application/command"
	"github.com/mentorlink/study-agent/internal/application/planner"
	"github.com/mentorlink/study-agent/internal/application/query"
	"github.com/mentorlink/study-agent/internal/application/queue"
	"github.com/mentorlink/study-agent/internal/application/trigger"
	"github.com/mentorlink/study-agent/internal/application/worker"
	"github.com/mentorlink/study-agent/internal/domain/job"
	"github.com/mentorlink/study-agent/internal/domain/notification"
	"github.com/mentorlink/study-agent/internal/domain/risk"
	"github.com/mentorlink/study-agent/internal/domain/shared"
	"github.com/mentorlink/study-agent/internal/domain/student"
	"github.com/mentorlink/study-agent/internal/domain/suggestion"
	"github.com/mentorlink/study-agent/internal/domain/textgen"
	"github.com/mentorlink/study-agent/internal/infrastructure/alert"
	"github.com/mentorlink/study-agent/internal/infrastructure/external/academics"
	"github.com/mentorlink/study-agent/internal/infrastructure/external/llm"
	"github.com/mentorlink/study-agent/internal/infrastructure/messaging"
	"github.com/mentorlink/study-agent/internal/infrastructure/persistence/memory"
	"github.com/mentorlink/study-agent/internal/infrastructure/persistence/postgres"
	"github.com/mentorlink/study-agent/internal/infrastructure/persistence/redis"
	"github.com/mentorlink/study-agent/internal/infrastructure/scheduler"
	"github.com/mentorlink/study-agent/internal/infrastructure/scheduler/jobs"
	"github.com/mentorlink/study-agent/internal/infrastructure/telemetry"
	"github.com/mentorlink/study-agent/internal/interface/http/handlers"
	"github.com/mentorlink/study-agent/pkg/timeutil"
)

// TracerName names the tracer used around job processing.
const TracerName = "github.com/mentorlink/study-agent/worker"

// Options select the optional parts of the graph.
type Options struct {
	// Migrate applies pending migrations after connecting.
	Migrate bool

	// SkipConsumers leaves the Kafka change feed unsubscribed. The CLI sets it.
	SkipConsumers bool
}

// App is the wired service.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	// Storage
	DB          *postgres.Connection
	Cache       *redis.Cache
	Jobs        job.Repository
	Suggestions suggestion.Repository
	Trackers    suggestion.TrackerRepository
	Students    student.Source

	// Messaging
	Bus           *messaging.InMemoryEventBus
	Events        shared.EventPublisher
	ChangeFeed    *messaging.KafkaConsumer
	Notifier      notification.Notifier
	Alerter       notification.Alerter
	sentryAlerter *alert.SentryAlerter

	// Application
	Queue             *queue.Service
	Triggers          *trigger.Service
	Commands          *command.SuggestionHandler
	JobQueries        *query.JobQueries
	SuggestionQueries *query.SuggestionQueries
	Processor         *worker.Processor
	Pool              *worker.Pool

	// Scheduling
	Scheduler    *scheduler.Scheduler
	Housekeeping *jobs.HousekeepingJob

	// Interface
	Auth   *handlers.Authenticator
	Health *handlers.CompositeHealthChecker

	closers []func(context.Context) error
}

// New wires every component. On error, whatever was opened is closed.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (a *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a = &App{
		Config: cfg,
		Logger: logger,
		Health: handlers.NewCompositeHealthChecker(cfg.App.Version),
	}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
			a = nil
		}
	}()
	a.Health.SetTimeout(cfg.HTTP.HealthCheckTimeout)

	// ─────────────────────────────────────────────────────────────────────────
	// 1. TRACING & ALERTS
	// ─────────────────────────────────────────────────────────────────────────
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.App.Name,
		Environment: string(cfg.App.Environment),
		Version:     cfg.App.Version,
		SampleRatio: cfg.Telemetry.SampleRatio,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	a.onClose(shutdown)

	if err := a.initAlerts(); err != nil {
		return nil, err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. STORAGE
	// ─────────────────────────────────────────────────────────────────────────
	if err := a.initStorage(ctx, opts.Migrate); err != nil {
		return nil, err
	}
	a.initCache(ctx)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. MESSAGING
	// ─────────────────────────────────────────────────────────────────────────
	a.initMessaging(opts.SkipConsumers)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. STUDENT RECORDS
	// ─────────────────────────────────────────────────────────────────────────
	if err := a.initStudents(ctx); err != nil {
		return nil, err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. PIPELINE
	// ─────────────────────────────────────────────────────────────────────────
	if err := a.initPipeline(); err != nil {
		return nil, err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	if err := a.initScheduler(); err != nil {
		return nil, err
	}

	a.Auth = handlers.NewAuthenticator(handlers.AuthConfig{
		Secret:       []byte(cfg.Auth.JWTSecret),
		Issuer:       cfg.Auth.JWTIssuer,
		TokenTTL:     cfg.Auth.TokenTTL,
		APIKeyHashes: cfg.Auth.APIKeyHashes,
	})
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRING
// ══════════════════════════════════════════════════════════════════════════════

func (a *App) initAlerts() error {
	cfg := a.Config
	sinks := alert.Fanout{alert.NewLogAlerter(a.Logger)}

	if cfg.Sentry.DSN != "" {
		sc := alert.DefaultSentryConfig()
		sc.DSN = cfg.Sentry.DSN
		sc.ServerName = cfg.App.Name
		sc.Release = cfg.App.Version
		sc.Environment = string(cfg.App.Environment)
		if cfg.Sentry.FlushTimeout > 0 {
			sc.FlushTimeout = cfg.Sentry.FlushTimeout
		}
		s, err := alert.NewSentryAlerter(sc, a.Logger)
		if err != nil {
			return fmt.Errorf("sentry: %w", err)
		}
		a.sentryAlerter = s
		a.onClose(func(context.Context) error {
			s.Flush()
			return nil
		})
		sinks = append(sinks, s)
	}
	a.Alerter = sinks
	return nil
}

func (a *App) initStorage(ctx context.Context, migrate bool) error {
	cfg := a.Config
	if cfg.Database.URL == "" {
		a.Logger.Warn("DATABASE_URL not set, using in-memory repositories")
		a.Jobs = memory.NewJobRepository()
		a.Suggestions = memory.NewSuggestionRepository()
		a.Trackers = memory.NewTrackerRepository()
		return nil
	}

	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = cfg.Database.URL
	pgCfg.MaxConns = int32(cfg.Database.MaxConns)
	pgCfg.MinConns = int32(cfg.Database.MinConns)
	if cfg.Database.ConnMaxLifetime > 0 {
		pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	}
	if cfg.Database.ConnMaxIdleTime > 0 {
		pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
	}

	conn, err := postgres.NewConnection(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	a.DB = conn
	a.onClose(func(context.Context) error {
		conn.Close()
		return nil
	})
	a.Health.AddCheck("postgres", handlers.PingCheck(conn))

	if migrate {
		n, err := postgres.NewMigrator(conn).Migrate(ctx)
		if err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		a.Logger.Info("database schema is up to date", "applied", n)
	}

	a.Jobs = postgres.NewJobRepository(conn)
	a.Suggestions = postgres.NewSuggestionRepository(conn)
	a.Trackers = postgres.NewTrackerRepository(conn)
	return nil
}

// initCache connects Redis. Redis is optional: a failed connection is
// logged and the service runs without cache, stream or locks.
func (a *App) initCache(ctx context.Context) {
	cfg := a.Config.Redis
	if cfg.Disabled {
		return
	}

	rc := redis.DefaultConfig()
	rc.Host, rc.Port, rc.Password, rc.DB = cfg.Host, cfg.Port, cfg.Password, cfg.DB
	if cfg.PoolSize > 0 {
		rc.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		rc.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.DialTimeout > 0 {
		rc.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		rc.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		rc.WriteTimeout = cfg.WriteTimeout
	}

	cache, err := redis.NewCache(rc)
	if err == nil {
		err = cache.Ping(ctx)
		if err != nil {
			_ = cache.Close()
		}
	}
	if err != nil {
		a.Logger.Warn("failed to connect to Redis, running without cache", "addr", cfg.Addr(), "error", err)
		return
	}

	a.Cache = cache
	a.onClose(func(context.Context) error { return cache.Close() })
	a.Health.AddCheck("redis", handlers.PingCheck(cache))
}

func (a *App) initMessaging(skipConsumers bool) {
	cfg := a.Config

	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = a.Logger
	a.Bus = messaging.NewInMemoryEventBus(busCfg)
	a.onClose(func(context.Context) error { return a.Bus.Close() })
	a.Events = a.Bus

	if cfg.Kafka.Enabled() {
		writer := messaging.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic)
		a.onClose(func(context.Context) error { return writer.Close() })
		a.Events = messaging.MultiPublisher{a.Bus, messaging.NewKafkaPublisher(writer, cfg.Kafka.WriteTimeout)}

		if !skipConsumers {
			reader := messaging.NewKafkaReader(messaging.KafkaConsumerConfig{
				Brokers: cfg.Kafka.Brokers,
				Topic:   cfg.Kafka.ChangesTopic,
				GroupID: cfg.Kafka.GroupID,
			})
			a.ChangeFeed = messaging.NewKafkaConsumer(reader, a.Bus, a.Logger)
		}
	}

	if a.Cache != nil {
		a.Notifier = redis.NewStreamNotifier(a.Cache, cfg.Redis.NotificationStream, cfg.Redis.StreamMaxLen)
	} else {
		a.Notifier = memory.NewNotifier()
	}
}

func (a *App) initStudents(ctx context.Context) error {
	cfg := a.Config
	var source student.Source

	if cfg.Mongo.URI == "" {
		a.Logger.Warn("MONGO_URI not set, using an empty in-memory student source")
		source = memory.NewStudentSource()
	} else {
		ac := academics.DefaultConfig(cfg.Mongo.URI)
		if cfg.Mongo.Database != "" {
			ac.Database = cfg.Mongo.Database
		}
		if cfg.Mongo.StudentsCollection != "" {
			ac.StudentsCollection = cfg.Mongo.StudentsCollection
		}
		if cfg.Mongo.MarksCollection != "" {
			ac.MarksCollection = cfg.Mongo.MarksCollection
		}
		if cfg.Mongo.Timeout > 0 {
			ac.Timeout = cfg.Mongo.Timeout
		}
		ac.Logger = a.Logger

		records, err := academics.Connect(ctx, ac)
		if err != nil {
			return fmt.Errorf("academic records: %w", err)
		}
		a.onClose(records.Close)
		a.Health.AddCheck("mongo", handlers.PingCheck(records))
		source = records
	}

	if a.Cache != nil && cfg.Features.IsEnabled(config.FeatureCacheSnapshots, nil) {
		cached := redis.NewSnapshotCache(a.Cache, source,
			redis.WithSnapshotTTL(cfg.Redis.SnapshotTTL),
			redis.WithCacheLogger(a.Logger),
		)
		if err := cached.InvalidateOnChange(a.Bus); err != nil {
			return fmt.Errorf("snapshot cache: %w", err)
		}
		source = cached
	}
	a.Students = source
	return nil
}

func (a *App) initPipeline() error {
	cfg := a.Config
	clock := timeutil.ClockIn(cfg.App.Location)

	a.Queue = queue.NewService(a.Jobs, queue.Config{
		OnDemandWindow: cfg.Worker.OnDemandWindow,
		SweepWindow:    cfg.Worker.SweepWindow,
	}, queue.WithLogger(a.Logger))

	a.Triggers = trigger.NewService(a.Queue, a.Suggestions, trigger.Config{
		StudentRequestInterval: cfg.Worker.StudentRequestInterval,
	}, trigger.WithLogger(a.Logger))
	if cfg.Features.IsEnabled(config.FeatureTriggersAcademicEvents, nil) {
		if err := a.Triggers.Subscribe(a.Bus); err != nil {
			return fmt.Errorf("triggers: %w", err)
		}
	}

	a.Commands = command.NewSuggestionHandler(a.Suggestions, a.Trackers,
		command.WithLogger(a.Logger),
		command.WithClock(clock),
		command.WithEvents(a.Events),
	)
	a.JobQueries = query.NewJobQueries(a.Queue, nil)
	a.SuggestionQueries = query.NewSuggestionQueries(a.Suggestions, clock)

	gen, err := a.generator()
	if err != nil {
		return err
	}
	plans := planner.New(gen, planner.Config{
		MaxAttempts:        cfg.LLM.MaxAttempts,
		BackoffStep:        cfg.LLM.BackoffStep,
		Timeout:            cfg.LLM.Timeout,
		Temperature:        cfg.LLM.Temperature,
		MaxTokens:          cfg.LLM.MaxTokens,
		DailyBudgetMinutes: planner.DefaultConfig().DailyBudgetMinutes,
	}, planner.WithLogger(a.Logger))

	riskCfg := risk.DefaultConfig()
	riskCfg.Weights = risk.Weights{
		LowAttendance:     cfg.Risk.WeightLowAttendance,
		WeakSubject:       cfg.Risk.WeightWeakSubject,
		CGPADrop:          cfg.Risk.WeightCGPADrop,
		MissingAssignment: cfg.Risk.WeightMissingAssignment,
	}
	riskCfg.AttendanceThreshold = cfg.Risk.AttendanceThreshold
	riskCfg.IAThreshold = cfg.Risk.IAThreshold
	riskCfg.CGPADropThreshold = cfg.Risk.CGPADropThreshold
	riskCfg.HighScore = cfg.Risk.HighScore
	riskCfg.MediumScore = cfg.Risk.MediumScore

	a.Processor = worker.NewProcessor(worker.Dependencies{
		Queue:       a.Queue,
		Students:    a.Students,
		Profiler:    risk.NewProfiler(riskCfg, risk.WithLogger(a.Logger)),
		Planner:     plans,
		Suggestions: a.Suggestions,
		Trackers:    a.Trackers,
		Notifier:    a.Notifier,
		Alerter:     a.Alerter,
		Events:      a.Events,
	}, worker.WithLogger(a.Logger),
		worker.WithClock(clock),
		worker.WithTracer(otel.Tracer(TracerName)),
	)

	a.Pool = worker.NewPool(a.Queue, a.Processor, worker.PoolConfig{
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
	}, a.Logger)
	return nil
}

// generator picks the text-generation backend. With LLM generation turned
// off every plan comes from the fallback path.
func (a *App) generator() (textgen.Generator, error) {
	cfg := a.Config.LLM
	provider := llm.Provider(cfg.Provider)
	if !a.Config.Features.IsEnabled(config.FeaturePlansLLM, nil) {
		provider = llm.ProviderOffline
	}

	breaker := llm.DefaultBreakerConfig()
	if cfg.BreakerTimeout > 0 {
		breaker.Timeout = cfg.BreakerTimeout
	}
	if cfg.BreakerMinRequests > 0 {
		breaker.MinRequests = uint32(cfg.BreakerMinRequests)
	}
	if cfg.BreakerFailureRatio > 0 {
		breaker.FailureRatio = cfg.BreakerFailureRatio
	}

	gen, err := llm.New(llm.Config{
		Provider: provider,
		BaseURL:  cfg.BaseURL,
		APIKey:   cfg.APIKey,
		Model:    cfg.Model,
		Timeout:  cfg.Timeout,
		Breaker:  breaker,
		Logger:   a.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	a.Logger.Info("text generation backend ready", "provider", provider, "model", gen.Model())
	return worker.RateLimited(gen, cfg.RequestsPerMinute), nil
}

func (a *App) initScheduler() error {
	cfg := a.Config
	clock := timeutil.ClockIn(cfg.App.Location)

	sweepCfg := jobs.SweepConfig{
		Concurrency: cfg.Scheduler.SweepConcurrency,
		StaleAfter:  cfg.Scheduler.StaleAfter,
		Timeout:     cfg.Scheduler.SweepTimeout,
	}
	daily := jobs.NewDailySweepJob(a.Students, a.Suggestions, a.Queue, a.Logger, clock, sweepCfg)
	weekly := jobs.NewWeeklySweepJob(a.Students, a.Queue, a.Logger, clock, sweepCfg)
	a.Housekeeping = jobs.NewHousekeepingJob(a.Suggestions, a.Logger, clock, jobs.HousekeepingConfig{
		DeactivateAfter:       cfg.Scheduler.DeactivateAfter,
		DeleteUnacceptedAfter: cfg.Scheduler.DeleteUnacceptedAfter,
	})

	entries := jobs.Entries(jobs.Specs{
		DailySweep:   cfg.Scheduler.DailySweepSpec,
		WeeklySweep:  cfg.Scheduler.WeeklySweepSpec,
		Housekeeping: cfg.Scheduler.HousekeepingSpec,
	}, daily, weekly, a.Housekeeping)
	if a.Cache != nil {
		entries = jobs.ExclusiveEntries(entries, redis.NewLocker(a.Cache), cfg.Scheduler.LockTTL, a.Logger)
	}

	a.Scheduler = scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:         a.Logger,
		Timezone:       cfg.App.Location,
		MaxHistorySize: scheduler.DefaultSchedulerConfig().MaxHistorySize,
	})
	if err := a.Scheduler.RegisterAll(entries); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if !cfg.Features.IsEnabled(config.FeatureSweepsWeekly, nil) {
		if err := a.Scheduler.SetEnabled(weekly.Name(), false); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
	}
	a.Scheduler.OnJobError(func(name string, err error) {
		a.Alerter.Alert(context.Background(), notification.Alert{
			JobType: name,
			Stage:   "scheduler",
			Err:     err,
		})
	})
	return nil
}
