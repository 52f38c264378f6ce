// Package cmd provides the meetcap CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/meetcap/client"
	"github.com/otherjamesbrown/meetcap/config"
	"github.com/otherjamesbrown/meetcap/pkg/blob"
	"github.com/otherjamesbrown/meetcap/pkg/db"
	"github.com/otherjamesbrown/meetcap/pkg/jobs"
	"github.com/otherjamesbrown/meetcap/pkg/ledger"
	"github.com/otherjamesbrown/meetcap/pkg/lifecycle"
	"github.com/otherjamesbrown/meetcap/pkg/logging"
	"github.com/otherjamesbrown/meetcap/pkg/meeting"
	"github.com/otherjamesbrown/meetcap/pkg/notify"
	"github.com/otherjamesbrown/meetcap/pkg/observability"
)

// ServiceName identifies the worker in logs, metrics and /version.
const ServiceName = "meetcap-worker"

// CommandDeps holds the dependencies shared by every command.
type CommandDeps struct {
	// LoadConfig returns the validated configuration.
	LoadConfig func() (*config.Config, error)

	// ConnectToDB opens the connection pool.
	ConnectToDB func(context.Context, *config.Config) (*pgxpool.Pool, error)

	// Out receives command output (defaults to stdout).
	Out io.Writer
}

// DefaultDeps returns the dependencies for production use, reading the
// configuration file at path (empty selects the default location).
func DefaultDeps(path string) *CommandDeps {
	return &CommandDeps{
		LoadConfig:  func() (*config.Config, error) { return config.Load(path) },
		ConnectToDB: connectToDatabase,
		Out:         os.Stdout,
	}
}

func (d *CommandDeps) out() io.Writer {
	if d.Out == nil {
		return os.Stdout
	}
	return d.Out
}

func connectToDatabase(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.ConnectWithRetry(ctx, cfg.Database, 5, 2*time.Second)
}

// TransitionAPI reports capture transitions, over HTTP or in process.
type TransitionAPI interface {
	StartCaptureBot(ctx context.Context, meetingID int64) error
	EndCapture(ctx context.Context, meetingID int64) error
	FailCaptureBot(ctx context.Context, meetingID int64) error
	FailCapture(ctx context.Context, meetingID int64) error
	InitTranscription(ctx context.Context, meetingID int64) error
}

// services holds every client the worker builds at startup. Each one is
// constructed once here and closed by close, in reverse order.
type services struct {
	cfg    *config.Config
	logger logging.Logger

	pool       *pgxpool.Pool
	redis      *redis.Client
	blobs      *blob.MinioStore
	meetings   *meeting.Repository
	records    *ledger.Repository
	estimator  *ledger.Estimator
	dispatcher *jobs.RedisDispatcher
	notifier   *notify.Publisher
	mailer     *notify.Mailer
	events     *observability.EventEmitter
	tracer     *observability.Tracer
	metrics    *observability.CaptureMetrics
	registry   *prometheus.Registry
	lifecycle  *lifecycle.Orchestrator

	closers []func() error
}

// serviceNeeds selects the optional clients a command builds.
type serviceNeeds struct {
	redis   bool
	blobs   bool
	metrics bool
}

func openServices(ctx context.Context, deps *CommandDeps, needs serviceNeeds) (*services, error) {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	s := &services{
		cfg:    cfg,
		logger: newLogger(cfg),
		tracer: observability.NewTracer(),
	}

	if err := s.open(ctx, deps, needs); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *services) open(ctx context.Context, deps *CommandDeps, needs serviceNeeds) error {
	cfg := s.cfg

	pool, err := deps.ConnectToDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	s.pool = pool
	s.closers = append(s.closers, func() error { pool.Close(); return nil })

	if cfg.Logging.PersistWarnings {
		sink := logging.NewDBSink(logging.DBSinkConfig{Writer: db.NewLogWriter(pool)})
		s.logger = newLogger(cfg, sink)
		s.closers = append(s.closers, sink.Close)
	}

	s.meetings = meeting.NewRepository(pool, s.logger)
	s.records = ledger.NewRepository(pool, s.logger)
	s.estimator = ledger.NewEstimator(cfg.Estimator, s.meetings, s.records)

	if needs.metrics {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		s.metrics = observability.NewCaptureMetrics(s.registry)
		if _, err := db.RegisterPoolStatsCollector(s.registry, pool, "meetcap", ServiceName); err != nil {
			return fmt.Errorf("registering pool metrics: %w", err)
		}
	}

	if needs.redis && cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.redis = rdb
		s.closers = append(s.closers, rdb.Close)

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}

		jc := jobs.DefaultRedisConfig()
		if cfg.Redis.Namespace != "" {
			jc.Namespace = cfg.Redis.Namespace
		}
		s.dispatcher = jobs.NewRedisDispatcher(rdb, jc, s.logger)
		s.notifier = notify.NewPublisher(rdb, s.logger)
		s.events = observability.NewEventEmitter(observability.NewRedisEventPublisher(
			func(ctx context.Context, channel string, message interface{}) error {
				return rdb.Publish(ctx, channel, message).Err()
			}))
	} else {
		s.events = observability.NewEventEmitter(nil)
	}
	s.closers = append(s.closers, s.events.Close)

	if needs.blobs {
		store, err := blob.NewMinioStore(cfg.Blob, s.logger)
		if err != nil {
			return fmt.Errorf("creating blob store: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return err
		}
		s.blobs = store
	}

	if cfg.Mail.Enabled {
		mailer, err := notify.NewMailer(cfg.Mail.MailConfig, s.logger)
		if err != nil {
			return fmt.Errorf("creating mailer: %w", err)
		}
		s.mailer = mailer
	}

	if s.dispatcher != nil {
		ld := lifecycle.Deps{
			Store:       lifecycle.NewPGStore(pool, s.logger),
			Dispatcher:  s.dispatcher,
			Estimator:   s.estimator,
			FrontendURL: cfg.Core.FrontendURL,
			Tracer:      s.tracer,
			Metrics:     s.metrics,
			Logger:      s.logger,
		}
		// Typed nils must not reach the interface fields.
		if s.blobs != nil {
			ld.Blobs = s.blobs
		}
		if s.mailer != nil {
			ld.Mailer = s.mailer
		}
		if s.notifier != nil {
			ld.Notifier = s.notifier
		}
		s.lifecycle = lifecycle.NewOrchestrator(ld)
	}

	return nil
}

func newLogger(cfg *config.Config, sinks ...logging.Sink) logging.Logger {
	lc := cfg.LoggerConfig()
	lc.ServiceName = ServiceName
	lc.Output = os.Stderr
	lc.Sinks = sinks
	return logging.NewLogger(lc)
}

// transitions returns the lifecycle owner selected by core.mode.
func (s *services) transitions() (TransitionAPI, error) {
	switch s.cfg.Core.Mode {
	case config.ModeLocal:
		if s.lifecycle == nil {
			return nil, errors.New("local mode requires redis for job dispatch")
		}
		return lifecycle.NewLocalTransitions(s.lifecycle), nil
	default:
		opts := client.DefaultOptions()
		opts.RequestTimeout = s.cfg.Core.RequestTimeout
		opts.MaxRetries = s.cfg.Core.MaxRetries
		hc, err := client.NewHTTPClient(s.cfg.Core.TLS, s.cfg.Core.RequestTimeout)
		if err != nil {
			return nil, err
		}
		opts.HTTPClient = hc
		return client.NewOrchestrator(s.cfg.Core.BaseURL, opts, s.logger)
	}
}

func (s *services) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("Failed to close client", logging.Err(err))
		}
	}
	s.closers = nil
}
