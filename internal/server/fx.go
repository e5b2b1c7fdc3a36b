// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/GeobookerMx/Geobooker3-sub001/internal/api"
	"github.com/GeobookerMx/Geobooker3-sub001/internal/clock/system"
	"github.com/GeobookerMx/Geobooker3-sub001/internal/config"
	"github.com/GeobookerMx/Geobooker3-sub001/internal/id/uuid"
	"github.com/GeobookerMx/Geobooker3-sub001/internal/logging"
	"github.com/GeobookerMx/Geobooker3-sub001/internal/message"
	"github.com/GeobookerMx/Geobooker3-sub001/internal/outreach"
	"github.com/GeobookerMx/Geobooker3-sub001/internal/policy/throttle"
	gcppublisher "github.com/GeobookerMx/Geobooker3-sub001/internal/publisher/pubsub"
	"github.com/GeobookerMx/Geobooker3-sub001/internal/storage/breaker"
	memoryStorage "github.com/GeobookerMx/Geobooker3-sub001/internal/storage/memory"
	pgstore "github.com/GeobookerMx/Geobooker3-sub001/internal/storage/postgres"
	"github.com/GeobookerMx/Geobooker3-sub001/internal/telemetry"
)

// ServiceName tags every log line emitted by the process.
const ServiceName = "geobooker-outreach"

// ErrNoDatabase is returned by operations that need Postgres when db.dsn is empty.
var ErrNoDatabase = errors.New("no database configured")

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	apiServer *api.Server
	service   *outreach.Service
	settings  *outreach.SettingsLoader
	pgStore   *pgstore.OutreachStore
	publisher *gcppublisher.Publisher
	tracer    *sdktrace.TracerProvider
	closeOnce sync.Once
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg config.Config, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("Creating application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("timezone", cfg.Outreach.Timezone),
		zap.Bool("database", cfg.DB.DSN != ""),
		zap.Bool("pubsub", cfg.PubSub.TopicName != ""),
	)
	return &App{
		cfg:    cfg,
		logger: logger,
	}
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Service returns the outreach orchestrator.
func (a *App) Service() *outreach.Service { return a.service }

// Settings returns the backend settings loader.
func (a *App) Settings() *outreach.SettingsLoader { return a.settings }

// Handler returns the HTTP handler tree.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Migrate applies the Postgres schema.
func (a *App) Migrate(ctx context.Context) error {
	if a.pgStore == nil {
		return ErrNoDatabase
	}
	return a.pgStore.Migrate(ctx)
}

// Ready reports whether the backend is reachable.
func (a *App) Ready(ctx context.Context) error {
	if a.pgStore == nil {
		return nil
	}
	return a.pgStore.Ping(ctx)
}

// Run starts the HTTP server and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(a.cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(a.cfg.Server.WriteTimeoutSeconds) * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close releases infrastructure and flushes telemetry and the logger. Calls
// after the first are no-ops.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.closeInfrastructure()
		a.closeObservability(ctx)
		a.logger.Info("shutdown complete")
		if err := a.logger.Sync(); err != nil {
			a.logger.Debug("logger sync failed", zap.Error(err))
		}
	})
	return nil
}

func (a *App) closeInfrastructure() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.publisher = nil
	}
	if a.pgStore != nil {
		a.pgStore.Close()
		a.pgStore = nil
	}
}

// abort releases whatever a failed Build already acquired.
func (a *App) abort(ctx context.Context) {
	a.closeInfrastructure()
	a.closeObservability(ctx)
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		a.tracer = nil
	}
}

// Build creates the application's dependencies. Backend settings are loaded
// and awaited here, before any send path exists.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, ServiceName)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with a caller-supplied logger.
func BuildWithLogger(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	app := NewApp(cfg, logger)
	app.logger.Info("building application dependencies")

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	clock := system.NewIn(loc)

	if cfg.Telemetry.TracingEnabled {
		app.tracer, err = telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName:    ServiceName,
			ServiceVersion: cfg.Telemetry.ServiceVersion,
		})
		if err != nil {
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
	}

	store, err := setupBackend(ctx, app)
	if err != nil {
		app.abort(ctx)
		return nil, err
	}

	app.settings = outreach.NewSettingsLoader(store, cfg.DefaultSettings(), logger.Named("settings"))
	if _, err := app.settings.Load(ctx); err != nil {
		app.logger.Warn("outreach settings load failed, using defaults", zap.Error(err))
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		app.abort(ctx)
		return nil, err
	}

	tracker := outreach.NewQuotaTracker(store, app.settings, clock, loc, logger.Named("quota"))
	opts := outreach.ServiceOptions{
		Store:      store,
		Quota:      tracker,
		Dedup:      outreach.NewDedupGuard(store, cfg.Outreach.DedupFailOpen, logger.Named("dedup")),
		Throttle:   setupThrottle(app, tracker, clock),
		Composer:   message.NewComposer(),
		Launcher:   message.NewLauncher(),
		EventTopic: cfg.PubSub.TopicName,
		Clock:      clock,
		IDs:        uuid.NewUUIDGenerator(),
		Logger:     logger.Named("outreach"),
	}
	if publisher != nil {
		opts.Publisher = publisher
	}
	app.service, err = outreach.NewService(opts)
	if err != nil {
		app.abort(ctx)
		return nil, fmt.Errorf("outreach service init failed: %w", err)
	}

	app.apiServer = api.NewServer(app.service, app.settings, app.Ready, cfg, logger)
	return app, nil
}

// backend bundles the record store and settings source selected at startup.
type backend struct {
	outreach.Store
	outreach.SettingsSource
}

func setupBackend(ctx context.Context, app *App) (breaker.Backend, error) {
	var next breaker.Backend
	if app.cfg.DB.DSN == "" {
		app.logger.Warn("No DSN specified for database, using in-memory outreach store")
		next = backend{
			Store:          memoryStorage.NewOutreachStore(),
			SettingsSource: memoryStorage.NewSettingsStore(outreach.RemoteSettings{}),
		}
	} else {
		store, err := pgstore.NewOutreachStore(ctx, pgstore.OutreachStoreConfig{
			DSN:             app.cfg.DB.DSN,
			Table:           app.cfg.DB.Table,
			SettingsTable:   app.cfg.DB.SettingsTable,
			SettingsKey:     app.cfg.DB.SettingsKey,
			MaxConns:        app.cfg.DB.MaxConns,
			MinConns:        app.cfg.DB.MinConns,
			MaxConnLifetime: app.cfg.ConnLifetime(),
		})
		if err != nil {
			return nil, fmt.Errorf("outreach store init failed: %w", err)
		}
		app.pgStore = store
		app.logger.Info("outreach store initialized", zap.String("table", app.cfg.DB.Table))
		if app.cfg.DB.Migrate {
			if err := store.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("outreach schema migration failed: %w", err)
			}
			app.logger.Info("outreach schema applied")
		}
		next = store
	}

	if !app.cfg.Breaker.Enabled {
		return next, nil
	}
	b := app.cfg.Breaker
	app.logger.Info("circuit breaker enabled",
		zap.Uint32("max_requests", b.MaxRequests),
		zap.Float64("failure_ratio", b.FailureRatio),
	)
	return breaker.New(next, breaker.Config{
		MaxRequests:  b.MaxRequests,
		Interval:     time.Duration(b.IntervalSeconds) * time.Second,
		Timeout:      time.Duration(b.TimeoutSeconds) * time.Second,
		MinRequests:  b.MinRequests,
		FailureRatio: b.FailureRatio,
	}, app.logger), nil
}

func setupPublisher(ctx context.Context, app *App) (*gcppublisher.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" {
		app.logger.Info("No Pub/Sub topic configured, send events disabled")
		return nil, nil
	}
	publisher, err := gcppublisher.Dial(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.publisher = publisher
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return publisher, nil
}

func setupThrottle(app *App, tracker *outreach.QuotaTracker, clock outreach.Clock) outreach.Throttle {
	daily := throttle.NewDailyCap(tracker)
	if app.cfg.Throttle.CooldownSeconds == 0 && app.cfg.Throttle.HourlyLimit == 0 {
		return daily
	}
	app.logger.Info("cooldown throttle enabled",
		zap.Duration("cooldown", app.cfg.Cooldown()),
		zap.Int("hourly_limit", app.cfg.Throttle.HourlyLimit),
	)
	return throttle.NewChain(daily, throttle.NewCooldown(throttle.CooldownConfig{
		Cooldown:    app.cfg.Cooldown(),
		HourlyLimit: app.cfg.Throttle.HourlyLimit,
	}, clock))
}
