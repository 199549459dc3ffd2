package ports

import (
	"context"
	"io"

	"github.com/kirillkom/neurascan/internal/core/domain"
)

// ScanSessionService is the inbound contract for per-session scan selection and classification.
type ScanSessionService interface {
	CreateSession(ctx context.Context) (domain.ScanState, error)
	Session(ctx context.Context, sessionID string) (domain.ScanState, error)
	SelectImage(ctx context.Context, sessionID string, image domain.ScanImage) (domain.ScanState, bool, error)
	ClearImage(ctx context.Context, sessionID string) (domain.ScanState, error)
	OpenPreview(ctx context.Context, sessionID string) (io.ReadCloser, domain.PreviewHandle, error)
	EndSession(ctx context.Context, sessionID string) error
}

// ReadinessReporter exposes the classifier readiness signal.
type ReadinessReporter interface {
	Ready() bool
	Status() domain.ReadinessStatus
}
