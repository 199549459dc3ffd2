package httpadapter

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/kirillkom/neurascan/internal/content"
	"github.com/kirillkom/neurascan/internal/core/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

const sessionCookie = "neurascan_session"

type pageRenderer struct {
	pages map[string]*template.Template
}

type pageData struct {
	Title      string
	Year       int
	Refresh    int
	Library    content.Library
	State      domain.ScanState
	PreviewURL string
}

func mustLoadPages() *pageRenderer {
	r := &pageRenderer{pages: make(map[string]*template.Template)}
	for _, name := range []string{"home", "classify", "education"} {
		r.pages[name] = template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html"))
	}
	return r
}

func (p *pageRenderer) render(w http.ResponseWriter, name string, data pageData) {
	data.Year = time.Now().Year()

	var buf bytes.Buffer
	if err := p.pages[name].ExecuteTemplate(&buf, "layout", data); err != nil {
		slog.Error("page_render_failed", "page", name, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

func (rt *Router) homePage(w http.ResponseWriter, _ *http.Request) {
	rt.pages.render(w, "home", pageData{Title: "Home", Library: rt.library})
}

func (rt *Router) educationPage(w http.ResponseWriter, _ *http.Request) {
	rt.pages.render(w, "education", pageData{Title: "Education", Library: rt.library})
}

func (rt *Router) classifyPage(w http.ResponseWriter, r *http.Request) {
	state, err := rt.pageSession(w, r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	data := pageData{Title: "Classify", Library: rt.library, State: state}
	if state.Image != nil && !state.Image.Preview.IsZero() {
		data.PreviewURL = previewURL(state)
	}
	if state.Phase == domain.PhaseLoading {
		data.Refresh = 1
	}
	rt.pages.render(w, "classify", data)
}

func (rt *Router) classifyUpload(w http.ResponseWriter, r *http.Request) {
	state, err := rt.pageSession(w, r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	image, err := rt.readUpload(w, r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if _, _, err := rt.sessions.SelectImage(r.Context(), state.SessionID, image); err != nil {
		writeDomainError(w, err)
		return
	}
	http.Redirect(w, r, "/classify", http.StatusSeeOther)
}

func (rt *Router) classifyClear(w http.ResponseWriter, r *http.Request) {
	state, err := rt.pageSession(w, r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if _, err := rt.sessions.ClearImage(r.Context(), state.SessionID); err != nil {
		writeDomainError(w, err)
		return
	}
	http.Redirect(w, r, "/classify", http.StatusSeeOther)
}

// pageSession resolves the browser's session from its cookie, creating a new
// one when the cookie is missing or the session has been swept.
func (rt *Router) pageSession(w http.ResponseWriter, r *http.Request) (domain.ScanState, error) {
	if cookie, err := r.Cookie(sessionCookie); err == nil && cookie.Value != "" {
		state, err := rt.sessions.Session(r.Context(), cookie.Value)
		if err == nil {
			return state, nil
		}
		if !domain.IsKind(err, domain.ErrNotFound) {
			return domain.ScanState{}, err
		}
	}

	state, err := rt.sessions.CreateSession(r.Context())
	if err != nil {
		return domain.ScanState{}, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    state.SessionID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return state, nil
}
