package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/neurascan/internal/config"
	"github.com/kirillkom/neurascan/internal/content"
	"github.com/kirillkom/neurascan/internal/core/usecase"
	"github.com/kirillkom/neurascan/internal/infrastructure/scheduler"
	"github.com/kirillkom/neurascan/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/neurascan/internal/observability/metrics"
)

type App struct {
	Config config.Config

	Backend   *Backend
	Readiness *usecase.Readiness
	Sessions  *usecase.SessionRegistry
	Previews  *localfs.PreviewStore
	Library   content.Library
	Metrics   *metrics.HTTPServerMetrics

	sweeper    *scheduler.CronScheduler
	initCancel context.CancelFunc
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	httpMetrics := metrics.NewHTTPServerMetrics("api")
	executor := newExecutor(cfg).WithStateObserver(func(operation string, from, to gobreaker.State) {
		slog.Warn("backend_circuit_state_changed", "operation", operation, "from", from.String(), "to", to.String())
		httpMetrics.ObserveBreakerState(operation, int(to))
	})

	library, err := content.Load()
	if err != nil {
		return nil, fmt.Errorf("load educational content: %w", err)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init preview storage: %w", err)
	}
	if removed, err := storage.Purge(ctx); err != nil {
		slog.Warn("preview_purge_failed", "error", err)
	} else if removed > 0 {
		slog.Info("preview_leftovers_removed", "count", removed)
	}
	previews := localfs.NewPreviewStore(storage)
	httpMetrics.RegisterGaugeFunc("previews", "active", "Preview handles currently held by sessions.", func() float64 {
		return float64(previews.Active())
	})

	backend, err := NewBackend(cfg, cfg.ClassifierBackend, executor)
	if err != nil {
		return nil, err
	}
	readiness := usecase.NewReadiness(backend.Name, slog.Default())

	sessions := usecase.NewSessionRegistry(backend.Classifier, previews, readiness, usecase.SessionOptions{
		MaxSessions: cfg.MaxSessions,
		IdleTTL:     cfg.SessionIdleTTL,
		Observer:    httpMetrics,
	})

	app := &App{
		Config:    cfg,
		Backend:   backend,
		Readiness: readiness,
		Sessions:  sessions,
		Previews:  previews,
		Library:   library,
		Metrics:   httpMetrics,
	}
	if cfg.SessionIdleTTL > 0 && cfg.SessionSweepSchedule != "" {
		app.sweeper = scheduler.NewCronScheduler(cfg.SessionSweepSchedule)
	}
	return app, nil
}

// Start initializes the classifier in the background and schedules the idle
// session sweep. Requests arriving before initialization completes see the
// model-not-ready error.
func (a *App) Start(ctx context.Context) error {
	initCtx, cancel := context.WithTimeout(ctx, a.Config.InitTimeout)
	a.initCancel = cancel
	go func() {
		defer cancel()
		_ = a.Readiness.Initialize(initCtx, a.Backend.Classifier)
	}()

	if a.sweeper == nil {
		return nil
	}
	return a.sweeper.Start(ctx, "session_sweep", func(runCtx context.Context) {
		a.Sessions.SweepIdle(runCtx)
	})
}

// Close ends every session, which releases their previews, then tears the
// backend down. A backend still initializing is cancelled and awaited first;
// if it does not finish before ctx ends the backend is left in place.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.sweeper != nil {
		errs = append(errs, a.sweeper.Stop(ctx))
	}
	a.Sessions.CloseAll(ctx)

	if a.initCancel != nil {
		a.initCancel()
		if err := a.Readiness.Wait(ctx); err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			slog.Warn("backend_close_skipped", "backend", a.Backend.Name, "error", err)
			return errors.Join(append(errs, err)...)
		}
	}
	errs = append(errs, a.Backend.Close())
	return errors.Join(errs...)
}
