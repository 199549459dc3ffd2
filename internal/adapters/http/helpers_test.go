package httpadapter

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/kirillkom/neurascan/internal/config"
	"github.com/kirillkom/neurascan/internal/content"
	"github.com/kirillkom/neurascan/internal/core/domain"
	"github.com/kirillkom/neurascan/internal/core/ports"
	"github.com/kirillkom/neurascan/internal/core/usecase"
	"github.com/kirillkom/neurascan/internal/infrastructure/classifier/simulated"
	"github.com/kirillkom/neurascan/internal/infrastructure/storage/localfs"
)

type testApp struct {
	handler   http.Handler
	registry  *usecase.SessionRegistry
	readiness *usecase.Readiness
	previews  *localfs.PreviewStore
}

func newTestApp(t *testing.T, cfg config.Config, classifyDelay time.Duration) *testApp {
	t.Helper()
	return newTestAppWith(t, cfg, simulated.New(simulated.Config{ClassifyDelay: classifyDelay, UnknownWeight: 0.25, Seed: 7}))
}

func newTestAppWith(t *testing.T, cfg config.Config, classifier ports.ScanClassifier) *testApp {
	t.Helper()

	storage, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New() error = %v", err)
	}
	previews := localfs.NewPreviewStore(storage)
	readiness := usecase.NewReadiness("test", nil)
	_ = readiness.Initialize(context.Background(), classifier)
	registry := usecase.NewSessionRegistry(classifier, previews, readiness, usecase.SessionOptions{MaxSessions: cfg.MaxSessions})
	t.Cleanup(func() { registry.CloseAll(context.Background()) })

	library, err := content.Load()
	if err != nil {
		t.Fatalf("content.Load() error = %v", err)
	}
	return &testApp{
		handler:   NewRouter(cfg, registry, readiness, library, nil).Handler(),
		registry:  registry,
		readiness: readiness,
		previews:  previews,
	}
}

func newTestHandler(cfg config.Config) http.Handler {
	library, _ := content.Load()
	return NewRouter(cfg, &sessionServiceFake{}, readinessFake{ready: true}, library, nil).Handler()
}

func (a *testApp) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	res := httptest.NewRecorder()
	a.handler.ServeHTTP(res, req)
	return res
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// multipartUpload builds a multipart body with a single "file" part. An empty
// contentType leaves the part without a Content-Type header.
func multipartUpload(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

type sessionServiceFake struct {
	err         error
	state       domain.ScanState
	preview     []byte
	previewMime string
}

func (f *sessionServiceFake) CreateSession(context.Context) (domain.ScanState, error) {
	return f.state, f.err
}

func (f *sessionServiceFake) Session(context.Context, string) (domain.ScanState, error) {
	return f.state, f.err
}

func (f *sessionServiceFake) SelectImage(context.Context, string, domain.ScanImage) (domain.ScanState, bool, error) {
	return f.state, true, f.err
}

func (f *sessionServiceFake) ClearImage(context.Context, string) (domain.ScanState, error) {
	return f.state, f.err
}

func (f *sessionServiceFake) OpenPreview(context.Context, string) (io.ReadCloser, domain.PreviewHandle, error) {
	if f.err != nil {
		return nil, domain.PreviewHandle{}, f.err
	}
	mimeType := f.previewMime
	if mimeType == "" {
		mimeType = "image/png"
	}
	return io.NopCloser(bytes.NewReader(f.preview)), domain.PreviewHandle{ID: "p-1", MimeType: mimeType}, nil
}

func (f *sessionServiceFake) EndSession(context.Context, string) error {
	return f.err
}

type readinessFake struct {
	ready  bool
	status domain.ReadinessStatus
}

func (r readinessFake) Ready() bool                    { return r.ready }
func (r readinessFake) Status() domain.ReadinessStatus { return r.status }

type brokenClassifier struct{}

func (brokenClassifier) Initialize(context.Context) (bool, error) {
	return false, errors.New("model file missing")
}

func (brokenClassifier) Classify(context.Context, domain.ScanImage) (domain.ClassificationResult, error) {
	return domain.ClassificationResult{}, errors.New("not initialized")
}

func waitForSessionPhase(t *testing.T, app *testApp, sessionID string, phase domain.ScanPhase) domain.ScanState {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		state, err := app.registry.Session(context.Background(), sessionID)
		if err != nil {
			t.Fatalf("Session() error = %v", err)
		}
		if state.Phase == phase {
			return state
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for phase %s, last state %+v", phase, state)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
