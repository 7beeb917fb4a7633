package main

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/stanstork/datafactory/internal/authz"
	"github.com/stanstork/datafactory/internal/config"
	"github.com/stanstork/datafactory/internal/connector"
	"github.com/stanstork/datafactory/internal/database"
	"github.com/stanstork/datafactory/internal/engine"
	"github.com/stanstork/datafactory/internal/manager"
	"github.com/stanstork/datafactory/internal/metrics"
	"github.com/stanstork/datafactory/internal/middleware"
	"github.com/stanstork/datafactory/internal/migration"
	"github.com/stanstork/datafactory/internal/notification"
	"github.com/stanstork/datafactory/internal/repository"
	"github.com/stanstork/datafactory/internal/routes"
	"github.com/stanstork/datafactory/internal/scheduler"
	"github.com/stanstork/datafactory/internal/temporal"
	"github.com/stanstork/datafactory/internal/temporal/activities"
	"github.com/stanstork/datafactory/internal/temporal/workflows"
	"github.com/stanstork/datafactory/internal/worker"

	tc "go.temporal.io/sdk/client"
	tw "go.temporal.io/sdk/worker"
)

type application struct {
	config         *config.Config
	db             *sql.DB
	logger         zerolog.Logger
	collector      *metrics.Collector
	manager        *manager.Manager
	pool           *worker.Pool
	temporalClient tc.Client
	temporalWorker tw.Worker
}

// newLogger sets up structured, level-based logging and routes the standard
// library logger through it.
func newLogger(cfg config.LogConfig, out io.Writer) zerolog.Logger {
	var w io.Writer = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	if cfg.Format == "json" {
		w = out
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logger := zerolog.New(w).With().Timestamp().Logger()
	log.SetFlags(0)
	log.SetOutput(logger)
	return logger
}

// openStore connects to the job store and brings its schema up to date.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*sql.DB, database.Dialect, error) {
	dialect, err := database.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, "", err
	}
	db, err := database.Open(ctx, dialect, cfg.Database.URL)
	if err != nil {
		return nil, "", err
	}
	if err := migration.Up(ctx, db, dialect, logger); err != nil {
		_ = db.Close()
		return nil, "", err
	}
	return db, dialect, nil
}

// newApplication wires the job manager. With scheduling false the scheduler
// and the execution backend are left out, which is what one-shot CLI
// commands want.
func newApplication(ctx context.Context, cfg *config.Config, logger zerolog.Logger, scheduling bool) (*application, error) {
	db, dialect, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	app := &application{config: cfg, db: db, logger: logger}

	jobs := repository.NewJobRepository(db, dialect)
	history := repository.NewHistoryRepository(db, dialect)
	registry := connector.Builtin()

	notifiers := []notification.Notifier{notification.NewLogNotifier(logger)}
	if cfg.Notifications.Email.Enabled {
		email, err := notification.NewEmailNotifier(cfg.Notifications.Email, logger)
		if err != nil {
			app.close()
			return nil, err
		}
		notifiers = append(notifiers, email)
	}

	opts := []engine.Option{engine.WithNotifications(notification.NewService(logger, notifiers...))}
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		app.collector = metrics.NewCollector(reg)
		opts = append(opts, engine.WithMetrics(app.collector))
	}
	eng := engine.New(jobs, history, registry, logger, opts...)

	if !scheduling || !cfg.Scheduler.Enabled {
		app.manager = manager.New(jobs, history, eng, nil, registry, logger)
		return app, nil
	}

	dispatcher, err := app.newDispatcher(eng)
	if err != nil {
		app.close()
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		app.close()
		return nil, err
	}
	schedOpts := []scheduler.Option{scheduler.WithLocation(loc)}
	if app.collector != nil {
		schedOpts = append(schedOpts, scheduler.WithGauge(app.collector))
	}
	sched := scheduler.New(dispatcher, logger, schedOpts...)

	app.manager = manager.New(jobs, history, eng, sched, registry, logger)
	return app, nil
}

// newDispatcher picks where scheduled runs execute: the in-process worker
// pool, or a Temporal worker polling the job task queue.
func (app *application) newDispatcher(eng *engine.Engine) (scheduler.Dispatcher, error) {
	cfg := app.config
	var skips scheduler.SkipRecorder
	if app.collector != nil {
		skips = app.collector
	}

	if cfg.Execution.Backend != "temporal" {
		pool, err := worker.NewPool(cfg.Scheduler.Workers, app.logger, worker.WithQueue(cfg.Scheduler.MaxQueued))
		if err != nil {
			return nil, err
		}
		app.pool = pool
		return scheduler.NewPoolDispatcher(pool, eng, skips, app.logger), nil
	}

	temporalClient, err := tc.Dial(tc.Options{
		HostPort:  cfg.Execution.Temporal.HostPort,
		Namespace: cfg.Execution.Temporal.Namespace,
		Logger:    temporal.NewAdapter(app.logger),
	})
	if err != nil {
		return nil, err
	}
	app.temporalClient = temporalClient

	queue := cfg.Execution.Temporal.TaskQueue
	if queue == "" {
		queue = temporal.DefaultTaskQueue
	}
	w := tw.New(temporalClient, queue, tw.Options{})
	workflows.Register(w, &activities.Activities{Executor: eng})

	// Start the worker in a goroutine so it doesn't block.
	go func() {
		app.logger.Info().Str("task_queue", queue).Msg("Starting Temporal worker...")
		if err := w.Run(tw.InterruptCh()); err != nil {
			app.logger.Error().Err(err).Msg("Temporal worker stopped with error")
		}
	}()
	app.temporalWorker = w

	return temporal.NewDispatcher(temporalClient, queue, skips, app.logger), nil
}

func (app *application) handler() http.Handler {
	opts := routes.Options{
		Auth:           authz.Middleware(app.config.Auth.JWTSecret),
		UploadDir:      app.config.Uploads.Directory,
		UploadMaxBytes: app.config.Uploads.MaxBytes,
	}
	if app.collector != nil {
		opts.Metrics = app.collector.Handler()
		opts.MetricsPath = app.config.Metrics.Path
	}
	router := routes.NewRouter(app.manager, app.logger, opts)

	loggedRouter := middleware.LoggingMiddleware(app.logger)(router)
	return h.CORS(
		h.AllowedOrigins(app.config.CORS.AllowedOrigins),
		h.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization", middleware.RequestIDHeader}),
		h.AllowCredentials(),
	)(loggedRouter)
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler) error {
	server := &http.Server{
		Addr:              ":" + app.config.ServerPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		app.logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-quit:
		app.logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case serveErr = <-serverErrCh:
		app.logger.Error().Err(serveErr).Msg("Server error occurred")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		app.logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		app.logger.Info().Msg("HTTP server shutdown complete.")
	}

	app.shutdown(ctx)
	return serveErr
}

// shutdown stops triggers first, then waits for in-flight runs.
func (app *application) shutdown(ctx context.Context) {
	if err := app.manager.Shutdown(ctx); err != nil {
		app.logger.Error().Err(err).Msg("Scheduler shutdown error")
	}
	if app.pool != nil {
		if err := app.pool.Stop(ctx); err != nil {
			app.logger.Error().Err(err).Msg("Worker pool did not drain")
		}
	}
	if app.temporalWorker != nil {
		app.logger.Info().Msg("Stopping Temporal worker...")
		app.temporalWorker.Stop()
		app.logger.Info().Msg("Temporal worker stopped.")
	}
	app.close()
}

func (app *application) close() {
	if app.temporalClient != nil {
		app.temporalClient.Close()
		app.temporalClient = nil
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Warn().Err(err).Msg("Failed to close database")
		}
		app.db = nil
	}
}
