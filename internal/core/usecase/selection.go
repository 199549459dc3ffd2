package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/neurascan/internal/core/domain"
	"github.com/kirillkom/neurascan/internal/core/ports"
)

type readinessGate interface {
	Ready() bool
	Err() error
}

type ControllerOptions struct {
	Observer ports.ClassificationObserver
	Logger   *slog.Logger
	Now      func() time.Time
}

// SelectionController owns one selected image, its preview handle and the
// classification lifecycle. Every selection or clear bumps the generation;
// completions that carry an older generation are dropped.
type SelectionController struct {
	classifier ports.ScanClassifier
	previews   ports.PreviewStore
	readiness  readinessGate
	observer   ports.ClassificationObserver
	logger     *slog.Logger
	now        func() time.Time

	baseCtx    context.Context
	baseCancel context.CancelFunc
	inflight   sync.WaitGroup

	mu         sync.Mutex
	state      domain.ScanState
	cancel     context.CancelFunc
	lastActive time.Time
	closed     bool
}

func NewSelectionController(
	sessionID string,
	classifier ports.ScanClassifier,
	previews ports.PreviewStore,
	readiness readinessGate,
	opts ControllerOptions,
) *SelectionController {
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	now := opts.Now().UTC()
	return &SelectionController{
		classifier: classifier,
		previews:   previews,
		readiness:  readiness,
		observer:   opts.Observer,
		logger:     opts.Logger.With("session_id", sessionID),
		now:        opts.Now,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		state: domain.ScanState{
			SessionID: sessionID,
			Phase:     domain.PhaseIdle,
			UpdatedAt: now,
		},
		lastActive: now,
	}
}

// SelectImage replaces the current selection and starts classifying it in
// the background. Payloads that are not image media are ignored and
// reported with accepted=false.
func (c *SelectionController) SelectImage(ctx context.Context, image domain.ScanImage) (domain.ScanState, bool) {
	if !domain.IsImageMedia(image.MimeType) {
		c.logger.Debug("scan_selection_ignored", "filename", image.Filename, "mime_type", image.MimeType)
		return c.Snapshot(), false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return c.state, false
	}

	c.supersedeLocked(ctx)
	selected := &domain.SelectedImage{
		Filename: image.Filename,
		MimeType: image.MimeType,
		Size:     image.Size(),
	}
	c.state.Image = selected

	handle, err := c.previews.Acquire(ctx, image)
	if err != nil {
		c.logger.Warn("scan_preview_failed", "filename", image.Filename, "error", err)
		c.failLocked(domain.ErrorKindPreview, domain.MessagePreview)
		return c.state, true
	}
	selected.Preview = handle

	if !c.readiness.Ready() {
		if initErr := c.readiness.Err(); initErr != nil {
			c.failLocked(domain.ErrorKindInitialization, domain.MessageInitialization)
		} else {
			c.failLocked(domain.ErrorKindModelNotReady, domain.MessageModelNotReady)
		}
		c.logger.Info("scan_classification_rejected", "generation", c.state.Generation, "reason", c.state.Error.Kind)
		return c.state, true
	}

	runCtx, cancel := context.WithCancel(c.baseCtx)
	c.cancel = cancel
	c.state.Phase = domain.PhaseLoading
	generation := c.state.Generation

	c.inflight.Add(1)
	go c.classify(runCtx, generation, image)

	c.logger.Info("scan_classification_started",
		"generation", generation,
		"filename", image.Filename,
		"bytes", image.Size(),
	)
	return c.state, true
}

// ClearImage drops the selection and its preview. Without a selection it
// leaves the state untouched.
func (c *SelectionController) ClearImage(ctx context.Context) domain.ScanState {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || !c.state.HasSelection() {
		return c.state
	}
	c.supersedeLocked(ctx)
	return c.state
}

func (c *SelectionController) Snapshot() domain.ScanState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *SelectionController) OpenPreview(ctx context.Context) (io.ReadCloser, domain.PreviewHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Image == nil || c.state.Image.Preview.IsZero() {
		return nil, domain.PreviewHandle{}, domain.WrapError(domain.ErrNotFound, "open preview", errors.New("no image selected"))
	}
	handle := c.state.Image.Preview
	rc, err := c.previews.Open(ctx, handle)
	if err != nil {
		return nil, domain.PreviewHandle{}, fmt.Errorf("open preview %s: %w", handle.ID, err)
	}
	return rc, handle, nil
}

// MarkActive records a read of the session so that viewing a result keeps
// it from being swept. The snapshot itself is left unchanged.
func (c *SelectionController) MarkActive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActive = c.now().UTC()
}

// Expired reports whether the controller has been inactive for longer than
// ttl. Controllers with a classification in flight never expire.
func (c *SelectionController) Expired(now time.Time, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Phase == domain.PhaseLoading {
		return false
	}
	return now.Sub(c.lastActive) > ttl
}

// Close tears the controller down: the preview is released, in-flight work is
// cancelled and awaited.
func (c *SelectionController) Close(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.supersedeLocked(ctx)
	c.closed = true
	c.mu.Unlock()

	c.baseCancel()
	c.inflight.Wait()
}

func (c *SelectionController) classify(ctx context.Context, generation uint64, image domain.ScanImage) {
	defer c.inflight.Done()

	start := time.Now()
	result, err := c.classifier.Classify(ctx, image)
	if err == nil {
		if verr := result.Validate(); verr != nil {
			err = domain.WrapError(domain.ErrClassification, "validate result", verr)
		}
	}
	c.complete(generation, result, err, time.Since(start))
}

func (c *SelectionController) complete(generation uint64, result domain.ClassificationResult, err error, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || generation != c.state.Generation {
		c.observer.ObserveStaleCompletion()
		c.logger.Debug("scan_classification_stale",
			"generation", generation,
			"current_generation", c.state.Generation,
		)
		return
	}

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.observer.ObserveClassification(result, err, elapsed)

	if err != nil {
		c.logger.Warn("scan_classification_failed", "generation", generation, "error", err)
		c.failLocked(domain.ErrorKindClassification, domain.MessageClassification)
		return
	}

	c.state.Phase = domain.PhaseResult
	c.state.Result = domain.NewResultView(result)
	c.state.Error = nil
	c.touchLocked()
	c.logger.Info("scan_classification_completed",
		"generation", generation,
		"type", result.Type,
		"confidence", result.Confidence,
		"duration_ms", float64(elapsed.Microseconds())/1000.0,
	)
}

// supersedeLocked invalidates the current generation and returns to Idle,
// releasing the preview handle.
func (c *SelectionController) supersedeLocked(ctx context.Context) {
	c.state.Generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.state.Image != nil && !c.state.Image.Preview.IsZero() {
		handle := c.state.Image.Preview
		if err := c.previews.Release(context.WithoutCancel(ctx), handle); err != nil {
			c.logger.Warn("scan_preview_release_failed", "preview_id", handle.ID, "error", err)
		}
	}
	c.state.Phase = domain.PhaseIdle
	c.state.Image = nil
	c.state.Result = nil
	c.state.Error = nil
	c.touchLocked()
}

func (c *SelectionController) failLocked(kind domain.ScanErrorKind, message string) {
	c.state.Phase = domain.PhaseError
	c.state.Result = nil
	c.state.Error = &domain.ScanError{Kind: kind, Message: message}
	c.touchLocked()
}

func (c *SelectionController) touchLocked() {
	now := c.now().UTC()
	c.state.UpdatedAt = now
	c.lastActive = now
}

type noopObserver struct{}

func (noopObserver) ObserveClassification(domain.ClassificationResult, error, time.Duration) {}
func (noopObserver) ObserveStaleCompletion()                                                {}
func (noopObserver) ObserveSessions(int)                                                    {}
