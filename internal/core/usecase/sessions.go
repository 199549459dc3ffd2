package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/neurascan/internal/core/domain"
	"github.com/kirillkom/neurascan/internal/core/ports"
)

type SessionOptions struct {
	MaxSessions int
	IdleTTL     time.Duration
	Observer    ports.ClassificationObserver
	Logger      *slog.Logger
	Now         func() time.Time
}

// SessionRegistry maps session ids to selection controllers.
type SessionRegistry struct {
	classifier ports.ScanClassifier
	previews   ports.PreviewStore
	readiness  readinessGate
	opts       SessionOptions

	mu       sync.Mutex
	sessions map[string]*SelectionController
}

var _ ports.ScanSessionService = (*SessionRegistry)(nil)

func NewSessionRegistry(
	classifier ports.ScanClassifier,
	previews ports.PreviewStore,
	readiness readinessGate,
	opts SessionOptions,
) *SessionRegistry {
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &SessionRegistry{
		classifier: classifier,
		previews:   previews,
		readiness:  readiness,
		opts:       opts,
		sessions:   make(map[string]*SelectionController),
	}
}

func (r *SessionRegistry) CreateSession(_ context.Context) (domain.ScanState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.opts.MaxSessions > 0 && len(r.sessions) >= r.opts.MaxSessions {
		return domain.ScanState{}, domain.WrapError(
			domain.ErrTemporary,
			"create session",
			fmt.Errorf("session limit %d reached", r.opts.MaxSessions),
		)
	}

	id := uuid.NewString()
	ctrl := NewSelectionController(id, r.classifier, r.previews, r.readiness, ControllerOptions{
		Observer: r.opts.Observer,
		Logger:   r.opts.Logger,
		Now:      r.opts.Now,
	})
	r.sessions[id] = ctrl
	r.opts.Observer.ObserveSessions(len(r.sessions))
	return ctrl.Snapshot(), nil
}

func (r *SessionRegistry) Session(_ context.Context, sessionID string) (domain.ScanState, error) {
	ctrl, err := r.controller(sessionID)
	if err != nil {
		return domain.ScanState{}, err
	}
	return ctrl.Snapshot(), nil
}

func (r *SessionRegistry) SelectImage(ctx context.Context, sessionID string, image domain.ScanImage) (domain.ScanState, bool, error) {
	ctrl, err := r.controller(sessionID)
	if err != nil {
		return domain.ScanState{}, false, err
	}
	state, accepted := ctrl.SelectImage(ctx, image)
	return state, accepted, nil
}

func (r *SessionRegistry) ClearImage(ctx context.Context, sessionID string) (domain.ScanState, error) {
	ctrl, err := r.controller(sessionID)
	if err != nil {
		return domain.ScanState{}, err
	}
	return ctrl.ClearImage(ctx), nil
}

func (r *SessionRegistry) OpenPreview(ctx context.Context, sessionID string) (io.ReadCloser, domain.PreviewHandle, error) {
	ctrl, err := r.controller(sessionID)
	if err != nil {
		return nil, domain.PreviewHandle{}, err
	}
	return ctrl.OpenPreview(ctx)
}

func (r *SessionRegistry) EndSession(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	ctrl, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
		r.opts.Observer.ObserveSessions(len(r.sessions))
	}
	r.mu.Unlock()

	if !ok {
		return sessionNotFound("end session", sessionID)
	}
	ctrl.Close(ctx)
	return nil
}

// SweepIdle tears down sessions idle for longer than the configured TTL and
// returns how many were removed.
func (r *SessionRegistry) SweepIdle(ctx context.Context) int {
	if r.opts.IdleTTL <= 0 {
		return 0
	}
	now := r.opts.Now()

	r.mu.Lock()
	var expired []*SelectionController
	for id, ctrl := range r.sessions {
		if ctrl.Expired(now, r.opts.IdleTTL) {
			expired = append(expired, ctrl)
			delete(r.sessions, id)
		}
	}
	if len(expired) > 0 {
		r.opts.Observer.ObserveSessions(len(r.sessions))
	}
	r.mu.Unlock()

	for _, ctrl := range expired {
		ctrl.Close(ctx)
	}
	if len(expired) > 0 {
		r.opts.Logger.Info("scan_sessions_swept", "count", len(expired))
	}
	return len(expired)
}

// CloseAll tears down every session; used on shutdown.
func (r *SessionRegistry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	all := make([]*SelectionController, 0, len(r.sessions))
	for id, ctrl := range r.sessions {
		all = append(all, ctrl)
		delete(r.sessions, id)
	}
	r.opts.Observer.ObserveSessions(0)
	r.mu.Unlock()

	for _, ctrl := range all {
		ctrl.Close(ctx)
	}
}

func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// controller looks a session up. Every lookup counts as activity for the
// idle sweep.
func (r *SessionRegistry) controller(sessionID string) (*SelectionController, error) {
	r.mu.Lock()
	ctrl, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return nil, sessionNotFound("lookup session", sessionID)
	}
	ctrl.MarkActive()
	return ctrl, nil
}

func sessionNotFound(operation, sessionID string) error {
	return domain.WrapError(domain.ErrNotFound, operation, fmt.Errorf("session id=%s", sessionID))
}
