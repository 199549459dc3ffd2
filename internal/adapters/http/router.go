package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kirillkom/neurascan/internal/config"
	"github.com/kirillkom/neurascan/internal/content"
	"github.com/kirillkom/neurascan/internal/core/domain"
	"github.com/kirillkom/neurascan/internal/core/ports"
	"github.com/kirillkom/neurascan/internal/observability/metrics"
)

const defaultMaxUploadBytes = 10 << 20

type Router struct {
	cfg       config.Config
	sessions  ports.ScanSessionService
	readiness ports.ReadinessReporter
	library   content.Library
	metrics   *metrics.HTTPServerMetrics
	spec      *apiSpec
	pages     *pageRenderer
}

func NewRouter(
	cfg config.Config,
	sessions ports.ScanSessionService,
	readiness ports.ReadinessReporter,
	library content.Library,
	httpMetrics *metrics.HTTPServerMetrics,
) *Router {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	return &Router{
		cfg:       cfg,
		sessions:  sessions,
		readiness: readiness,
		library:   library,
		metrics:   httpMetrics,
		spec:      mustLoadAPISpec(),
		pages:     mustLoadPages(),
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("GET /readyz", rt.readyz)
	mux.HandleFunc("GET /openapi.json", rt.openAPI)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	mux.HandleFunc("POST /v1/sessions", rt.createSession)
	mux.HandleFunc("GET /v1/sessions/{id}", rt.getSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", rt.endSession)
	mux.HandleFunc("PUT /v1/sessions/{id}/image", rt.selectImage)
	mux.HandleFunc("DELETE /v1/sessions/{id}/image", rt.clearImage)
	mux.HandleFunc("GET /v1/sessions/{id}/preview", rt.preview)
	mux.HandleFunc("GET /v1/education", rt.education)

	mux.HandleFunc("GET /{$}", rt.homePage)
	mux.HandleFunc("GET /classify", rt.classifyPage)
	mux.HandleFunc("POST /classify", rt.classifyUpload)
	mux.HandleFunc("POST /classify/clear", rt.classifyClear)
	mux.HandleFunc("GET /education", rt.educationPage)

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware("api", handler)
	}
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

// sessionResponse is the JSON view of a session snapshot.
type sessionResponse struct {
	domain.ScanState
	PreviewURL string `json:"preview_url,omitempty"`
}

func newSessionResponse(state domain.ScanState) sessionResponse {
	resp := sessionResponse{ScanState: state}
	if state.Image != nil && !state.Image.Preview.IsZero() {
		resp.PreviewURL = previewURL(state)
	}
	return resp
}

func previewURL(state domain.ScanState) string {
	return fmt.Sprintf("/v1/sessions/%s/preview?g=%d", state.SessionID, state.Generation)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) readyz(w http.ResponseWriter, _ *http.Request) {
	status := rt.readiness.Status()
	code := http.StatusOK
	if !rt.readiness.Ready() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (rt *Router) createSession(w http.ResponseWriter, r *http.Request) {
	state, err := rt.sessions.CreateSession(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Location", "/v1/sessions/"+state.SessionID)
	writeJSON(w, http.StatusCreated, newSessionResponse(state))
}

func (rt *Router) getSession(w http.ResponseWriter, r *http.Request) {
	state, err := rt.sessions.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(state))
}

func (rt *Router) endSession(w http.ResponseWriter, r *http.Request) {
	if err := rt.sessions.EndSession(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) selectImage(w http.ResponseWriter, r *http.Request) {
	image, err := rt.readUpload(w, r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	state, accepted, err := rt.sessions.SelectImage(r.Context(), r.PathValue("id"), image)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	code := http.StatusAccepted
	if !accepted {
		code = http.StatusOK
	}
	writeJSON(w, code, newSessionResponse(state))
}

func (rt *Router) clearImage(w http.ResponseWriter, r *http.Request) {
	state, err := rt.sessions.ClearImage(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(state))
}

func (rt *Router) preview(w http.ResponseWriter, r *http.Request) {
	body, handle, err := rt.sessions.OpenPreview(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer body.Close()

	if !domain.IsRasterMedia(handle.MimeType) {
		slog.Warn("preview_type_refused", "preview_id", handle.ID, "mime_type", handle.MimeType)
		writeError(w, http.StatusUnsupportedMediaType, "preview is not a raster image")
		return
	}

	// Previews are user supplied bytes; the browser must treat them as an
	// inert image even when opened directly.
	w.Header().Set("Content-Type", handle.MimeType)
	w.Header().Set("Content-Disposition", "inline")
	w.Header().Set("Content-Security-Policy", "sandbox; default-src 'none'")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if _, err := io.Copy(w, body); err != nil {
		slog.Warn("preview_stream_failed", "preview_id", handle.ID, "error", err)
	}
}

func (rt *Router) education(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rt.library)
}

func (rt *Router) openAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(rt.spec.json)
}

// readUpload reads the multipart "file" field. The declared content type is
// trusted unless it is missing or generic, in which case the bytes are
// sniffed.
func (rt *Router) readUpload(w http.ResponseWriter, r *http.Request) (domain.ScanImage, error) {
	limit := rt.cfg.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit+(1<<20))

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return domain.ScanImage{}, err
		}
		return domain.ScanImage{}, domain.WrapError(domain.ErrInvalidInput, "read upload", errors.New("multipart field 'file' is required"))
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return domain.ScanImage{}, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return domain.ScanImage{}, fmt.Errorf("upload exceeds %d bytes: %w", limit, errPayloadTooLarge)
	}

	mimeType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if mimeType == "" || strings.HasPrefix(mimeType, "application/octet-stream") {
		mimeType = http.DetectContentType(data[:min(len(data), 512)])
	}
	return domain.ScanImage{
		Filename: header.Filename,
		MimeType: mimeType,
		Data:     data,
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
