package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/neurascan/internal/core/domain"
)

// ScanClassifier is the model backend contract. Real inference backends and
// the simulated one are interchangeable behind it.
type ScanClassifier interface {
	Initialize(ctx context.Context) (bool, error)
	Classify(ctx context.Context, image domain.ScanImage) (domain.ClassificationResult, error)
}

// PreviewStore hands out revocable preview handles for selected images.
type PreviewStore interface {
	Acquire(ctx context.Context, image domain.ScanImage) (domain.PreviewHandle, error)
	Open(ctx context.Context, handle domain.PreviewHandle) (io.ReadCloser, error)
	Release(ctx context.Context, handle domain.PreviewHandle) error
}

// ClassificationObserver receives lifecycle events for metrics.
type ClassificationObserver interface {
	ObserveClassification(result domain.ClassificationResult, err error, duration time.Duration)
	ObserveStaleCompletion()
	ObserveSessions(active int)
}
