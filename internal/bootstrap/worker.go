package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	natsgo "github.com/nats-io/nats.go"

	"github.com/kirillkom/neurascan/internal/config"
	"github.com/kirillkom/neurascan/internal/core/usecase"
	"github.com/kirillkom/neurascan/internal/infrastructure/queue/nats"
	"github.com/kirillkom/neurascan/internal/observability/metrics"
)

// Worker serves classification requests from NATS with a local backend.
type Worker struct {
	Config config.Config

	Backend   *Backend
	Readiness *usecase.Readiness
	Server    *nats.Server
	Metrics   *metrics.WorkerMetrics

	conn *natsgo.Conn
}

func NewWorker(cfg config.Config) (*Worker, error) {
	if cfg.WorkerBackend == BackendNATS {
		return nil, fmt.Errorf("worker backend cannot be %q", BackendNATS)
	}

	executor := newExecutor(cfg)
	backend, err := NewBackend(cfg, cfg.WorkerBackend, executor)
	if err != nil {
		return nil, err
	}

	conn, err := nats.Connect(cfg.NATSURL, nats.Options{
		Name:               "neurascan-worker",
		ResilienceExecutor: executor,
	})
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	readiness := usecase.NewReadiness(backend.Name, slog.Default())
	workerMetrics := metrics.NewWorkerMetrics("worker")
	server := nats.NewServer(conn, cfg.NATSSubject, backend.Classifier, readiness, nats.ServerOptions{
		Backend:        backend.Name,
		Concurrency:    cfg.WorkerConcurrency,
		RequestTimeout: cfg.NATSRequestTimeout,
		Observer:       workerMetrics,
	})

	return &Worker{
		Config:    cfg,
		Backend:   backend,
		Readiness: readiness,
		Server:    server,
		Metrics:   workerMetrics,
		conn:      conn,
	}, nil
}

// Run initializes the backend in the background and serves until ctx is
// done. Requests arriving early are answered with not-ready.
func (w *Worker) Run(ctx context.Context) error {
	go func() {
		initCtx, cancel := context.WithTimeout(ctx, w.Config.InitTimeout)
		defer cancel()
		if err := w.Readiness.Initialize(initCtx, w.Backend.Classifier); err != nil {
			slog.Error("worker_backend_unavailable", "backend", w.Backend.Name, "error", err)
		}
	}()
	slog.Info("worker_serving", "subject", w.Config.NATSSubject, "backend", w.Backend.Name)
	return w.Server.Serve(ctx)
}

func (w *Worker) Close() error {
	return errors.Join(drainFn(w.conn)(), w.Backend.Close())
}
