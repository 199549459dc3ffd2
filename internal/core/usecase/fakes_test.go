package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/neurascan/internal/core/domain"
)

type classifyOutcome struct {
	result domain.ClassificationResult
	err    error
}

type classifierFake struct {
	ready        bool
	initErr      error
	initCalls    int
	ignoreCancel bool

	mu        sync.Mutex
	calls     []string
	gates     map[string]chan classifyOutcome
	cancelled []string
}

func newClassifierFake() *classifierFake {
	return &classifierFake{ready: true, gates: make(map[string]chan classifyOutcome)}
}

func (f *classifierFake) Initialize(context.Context) (bool, error) {
	f.initCalls++
	return f.ready, f.initErr
}

func (f *classifierFake) Classify(ctx context.Context, image domain.ScanImage) (domain.ClassificationResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, image.Filename)
	gate := f.gateLocked(image.Filename)
	f.mu.Unlock()

	if f.ignoreCancel {
		out := <-gate
		return out.result, out.err
	}
	select {
	case out := <-gate:
		return out.result, out.err
	case <-ctx.Done():
		f.mu.Lock()
		f.cancelled = append(f.cancelled, image.Filename)
		f.mu.Unlock()
		return domain.ClassificationResult{}, ctx.Err()
	}
}

func (f *classifierFake) resolve(filename string, result domain.ClassificationResult, err error) {
	f.mu.Lock()
	gate := f.gateLocked(filename)
	f.mu.Unlock()
	gate <- classifyOutcome{result: result, err: err}
}

func (f *classifierFake) gateLocked(filename string) chan classifyOutcome {
	gate, ok := f.gates[filename]
	if !ok {
		gate = make(chan classifyOutcome, 1)
		f.gates[filename] = gate
	}
	return gate
}

func (f *classifierFake) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *classifierFake) wasCancelled(filename string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, name := range f.cancelled {
		if name == filename {
			return true
		}
	}
	return false
}

type previewFake struct {
	acquireErr error

	mu       sync.Mutex
	next     int
	live     map[string][]byte
	released []string
}

func newPreviewFake() *previewFake {
	return &previewFake{live: make(map[string][]byte)}
}

func (f *previewFake) Acquire(_ context.Context, image domain.ScanImage) (domain.PreviewHandle, error) {
	if f.acquireErr != nil {
		return domain.PreviewHandle{}, f.acquireErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := fmt.Sprintf("preview-%d", f.next)
	f.live[id] = append([]byte(nil), image.Data...)
	return domain.PreviewHandle{ID: id, MimeType: image.MimeType, Size: image.Size()}, nil
}

func (f *previewFake) Open(_ context.Context, handle domain.PreviewHandle) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.live[handle.ID]
	if !ok {
		return nil, errors.New("preview released")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *previewFake) Release(_ context.Context, handle domain.PreviewHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, handle.ID)
	f.released = append(f.released, handle.ID)
	return nil
}

func (f *previewFake) liveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

type observerFake struct {
	stale     chan struct{}
	completed chan error

	mu       sync.Mutex
	sessions int
}

func newObserverFake() *observerFake {
	return &observerFake{
		stale:     make(chan struct{}, 8),
		completed: make(chan error, 8),
	}
}

func (o *observerFake) ObserveClassification(_ domain.ClassificationResult, err error, _ time.Duration) {
	o.completed <- err
}

func (o *observerFake) ObserveStaleCompletion() {
	o.stale <- struct{}{}
}

func (o *observerFake) ObserveSessions(active int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sessions = active
}

type readyGate struct {
	ready bool
	err   error
}

func (g readyGate) Ready() bool { return g.ready }
func (g readyGate) Err() error  { return g.err }

func pngImage(name string) domain.ScanImage {
	return domain.ScanImage{Filename: name, MimeType: "image/png", Data: []byte("\x89PNG-" + name)}
}

func tumorResult() domain.ClassificationResult {
	return domain.ClassificationResult{Type: domain.TypeTumor, Confidence: 0.82, Timestamp: time.Now().UTC()}
}

func waitForPhase(t *testing.T, ctrl *SelectionController, phase domain.ScanPhase) domain.ScanState {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		state := ctrl.Snapshot()
		if state.Phase == phase {
			return state
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for phase %s, last state %+v", phase, state)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitForSignal[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}
