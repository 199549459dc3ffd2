package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/neurascan/internal/config"
	"github.com/kirillkom/neurascan/internal/core/domain"
	"github.com/kirillkom/neurascan/internal/core/usecase"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		ClassifierBackend:    BackendSimulated,
		InitTimeout:          time.Second,
		StoragePath:          t.TempDir(),
		MaxSessions:          4,
		SessionIdleTTL:       time.Minute,
		SessionSweepSchedule: "@every 1m",
		SimSeed:              3,
	}
}

func TestNewAppInitializesSimulatedBackend(t *testing.T) {
	cfg := testConfig(t)
	leftover := filepath.Join(cfg.StoragePath, "stale.png")
	if err := os.WriteFile(leftover, []byte("old"), 0o644); err != nil {
		t.Fatalf("write leftover: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := os.Stat(leftover); !os.IsNotExist(err) {
		t.Fatalf("expected leftover preview to be purged, stat err = %v", err)
	}
	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	if err := app.Readiness.Wait(waitCtx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if status := app.Readiness.Status(); status.Phase != domain.ReadinessReady || status.Backend != BackendSimulated {
		t.Fatalf("unexpected readiness %+v", status)
	}

	if _, err := app.Sessions.CreateSession(ctx); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if err := app.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if app.Sessions.Len() != 0 {
		t.Fatalf("expected sessions to be closed")
	}
}

func TestNewBackendRejectsUnknownName(t *testing.T) {
	if _, err := NewBackend(config.Config{}, "tensorflow", newExecutor(config.Config{})); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestNewBackendBuildsInProcessBackends(t *testing.T) {
	executor := newExecutor(config.Config{})
	for _, name := range []string{"", "Simulated", BackendOllama, BackendONNX} {
		backend, err := NewBackend(config.Config{OllamaURL: "http://localhost:11434"}, name, executor)
		if err != nil {
			t.Fatalf("NewBackend(%q) error = %v", name, err)
		}
		if backend.Classifier == nil {
			t.Fatalf("NewBackend(%q) returned no classifier", name)
		}
		if err := backend.Close(); err != nil {
			t.Fatalf("Close(%q) error = %v", name, err)
		}
	}
}

func TestNewWorkerRejectsRemoteBackend(t *testing.T) {
	if _, err := NewWorker(config.Config{WorkerBackend: BackendNATS}); err == nil {
		t.Fatalf("expected worker to refuse the nats backend")
	}
}

type slowInitClassifier struct {
	mu       sync.Mutex
	finished bool
}

func (c *slowInitClassifier) Initialize(ctx context.Context) (bool, error) {
	<-ctx.Done()
	// Loading keeps going for a moment after cancellation, as a model load
	// that holds its own lock would.
	time.Sleep(50 * time.Millisecond)
	c.mu.Lock()
	c.finished = true
	c.mu.Unlock()
	return false, ctx.Err()
}

func (c *slowInitClassifier) Classify(context.Context, domain.ScanImage) (domain.ClassificationResult, error) {
	return domain.ClassificationResult{}, nil
}

func (c *slowInitClassifier) done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}

func TestCloseWaitsForInitializationBeforeBackendTeardown(t *testing.T) {
	classifier := &slowInitClassifier{}
	initFinishedAtClose := false
	backend := &Backend{
		Name:       "slow",
		Classifier: classifier,
		closeFn: func() error {
			initFinishedAtClose = classifier.done()
			return nil
		},
	}
	readiness := usecase.NewReadiness(backend.Name, nil)
	app := &App{
		Config:    config.Config{InitTimeout: time.Minute},
		Backend:   backend,
		Readiness: readiness,
		Sessions:  usecase.NewSessionRegistry(classifier, nil, readiness, usecase.SessionOptions{}),
	}

	if err := app.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := app.Close(closeCtx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !initFinishedAtClose {
		t.Fatalf("backend was torn down while initialization was still running")
	}
}

func TestCloseLeavesBackendWhenInitializationOutlivesDeadline(t *testing.T) {
	classifier := &slowInitClassifier{}
	closed := false
	backend := &Backend{
		Name:       "slow",
		Classifier: classifier,
		closeFn:    func() error { closed = true; return nil },
	}
	readiness := usecase.NewReadiness(backend.Name, nil)
	app := &App{
		Config:    config.Config{InitTimeout: time.Minute},
		Backend:   backend,
		Readiness: readiness,
		Sessions:  usecase.NewSessionRegistry(classifier, nil, readiness, usecase.SessionOptions{}),
	}

	if err := app.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	if err := app.Close(closeCtx); err == nil {
		t.Fatalf("expected Close to report the unfinished initialization")
	}
	if closed {
		t.Fatalf("backend must not be torn down under a running initialization")
	}
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	_ = readiness.Wait(waitCtx)
}
