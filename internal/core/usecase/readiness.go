package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kirillkom/neurascan/internal/core/domain"
	"github.com/kirillkom/neurascan/internal/core/ports"
)

// Readiness holds the process-wide readiness of the classifier backend. It is
// passed explicitly to every controller and is set exactly once.
type Readiness struct {
	backend string
	logger  *slog.Logger

	once sync.Once
	done chan struct{}

	mu    sync.RWMutex
	ready bool
	err   error
}

// NewReadiness builds the readiness gate for backend. A nil logger falls back
// to slog.Default.
func NewReadiness(backend string, logger *slog.Logger) *Readiness {
	if logger == nil {
		logger = slog.Default()
	}
	return &Readiness{
		backend: backend,
		logger:  logger.With("backend", backend),
		done:    make(chan struct{}),
	}
}

// Initialize runs the backend initializer once. Later calls return the first
// outcome without invoking the backend again.
func (r *Readiness) Initialize(ctx context.Context, classifier ports.ScanClassifier) error {
	r.once.Do(func() {
		defer close(r.done)

		ready, err := classifier.Initialize(ctx)
		if err == nil && !ready {
			err = errors.New("backend reported not ready")
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if err != nil {
			r.err = domain.WrapError(domain.ErrInitialization, "initialize classifier", err)
			r.logger.Error("classifier_initialization_failed", "error", err)
			return
		}
		r.ready = true
		r.logger.Info("classifier_initialized")
	})

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

func (r *Readiness) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready
}

// Err returns the initialization failure, if any.
func (r *Readiness) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// Wait blocks until initialization has finished or ctx is done.
func (r *Readiness) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.Err()
	case <-ctx.Done():
		return fmt.Errorf("wait for readiness: %w", ctx.Err())
	}
}

func (r *Readiness) Status() domain.ReadinessStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := domain.ReadinessStatus{Phase: domain.ReadinessInitializing, Backend: r.backend}
	switch {
	case r.ready:
		status.Phase = domain.ReadinessReady
	case r.err != nil:
		status.Phase = domain.ReadinessFailed
		status.Error = r.err.Error()
	}
	return status
}
