package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/parlo-app/parlo-api/internal/admission"
	"github.com/parlo-app/parlo-api/internal/config"
	"github.com/parlo-app/parlo-api/internal/cooldown"
	"github.com/parlo-app/parlo-api/internal/domain"
	"github.com/parlo-app/parlo-api/internal/job"
	"github.com/parlo-app/parlo-api/internal/metrics"
	"github.com/parlo-app/parlo-api/internal/platform/gemini"
	"github.com/parlo-app/parlo-api/internal/platform/logger"
	"github.com/parlo-app/parlo-api/internal/platform/postgres"
	"github.com/parlo-app/parlo-api/internal/quota"
)

// application holds the wired dependencies of the running server.
type application struct {
	config  *config.Config
	logger  *slog.Logger
	db      *sql.DB
	metrics *metrics.Metrics

	queue      *job.Queue
	runner     *job.Runner
	controller *admission.Controller
}

// initializeApp loads configuration and wires every component: stores over
// one database handle, the quota ledger, the cooldown guard, the queue and
// runner, and the admission controller on top. All dependencies are passed
// explicitly; nothing global beyond the default slog logger.
func initializeApp(ctx context.Context) (*application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.Setup(cfg.Server.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	db, err := openDatabase(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	if err := postgres.MigrateUp(ctx, db); err != nil {
		return nil, err
	}

	m := metrics.New()

	jobStore := postgres.NewJobStore(db)
	quotaStore := postgres.NewQuotaStore(db)

	ledger := quota.NewLedger(quotaStore, quota.Limits{
		domain.RoleFree: cfg.Quota.FreeWeeklyLimit,
		domain.RolePlus: cfg.Quota.PlusWeeklyLimit,
	})
	guard := cooldown.NewGuard(cfg.Cooldown.Duration)

	queue := job.NewQueue(jobStore, cfg.Jobs.QueueSize, appLogger, m)

	generator, err := gemini.NewGenerator(ctx, cfg.LLM, appLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}

	runner := job.NewRunner(jobStore, queue, generator, ledger, m, job.RunnerConfig{
		WorkerCount:     cfg.Jobs.WorkerCount,
		MaxAttempts:     cfg.Jobs.MaxAttempts,
		BackoffBase:     cfg.Jobs.BackoffBase,
		BackoffMax:      cfg.Jobs.BackoffMax,
		StaleActiveAge:  cfg.Jobs.StaleActiveAge,
		SchedulerPeriod: cfg.Jobs.SchedulerPeriod,
	}, appLogger)

	controller := admission.NewController(ledger, guard, queue, m, appLogger)

	appLogger.Info("application initialized",
		"port", cfg.Server.Port,
		"workers", cfg.Jobs.WorkerCount,
		"free_weekly_limit", cfg.Quota.FreeWeeklyLimit,
		"plus_weekly_limit", cfg.Quota.PlusWeeklyLimit,
		"cooldown", cfg.Cooldown.Duration)

	return &application{
		config:     cfg,
		logger:     appLogger,
		db:         db,
		metrics:    m,
		queue:      queue,
		runner:     runner,
		controller: controller,
	}, nil
}

// run starts the job runner and the HTTP server, then blocks until ctx is
// cancelled and both are shut down.
func (app *application) run(ctx context.Context) error {
	if err := app.runner.Start(); err != nil {
		return fmt.Errorf("failed to start job runner: %w", err)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           app.setupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		app.logger.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	app.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("HTTP shutdown failed", "error", err)
	}

	// Stop workers after the HTTP surface so admissions drain first.
	app.runner.Stop()
	app.queue.Close()

	if err := app.db.Close(); err != nil {
		app.logger.Error("failed to close database", "error", err)
	}

	app.logger.Info("shutdown complete")
	return nil
}
