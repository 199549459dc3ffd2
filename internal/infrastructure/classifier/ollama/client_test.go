package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/neurascan/internal/core/domain"
	"github.com/kirillkom/neurascan/internal/infrastructure/resilience"
)

func scan() domain.ScanImage {
	return domain.ScanImage{Filename: "axial.png", MimeType: "image/png", Data: []byte("png-bytes")}
}

func TestClassifySendsImageAndParsesVerdict(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"response":"Sure: {\"type\":\"Tumor\",\"confidence\":0.83}"}`))
	}))
	defer server.Close()

	classifier := NewClassifier(New(server.URL, "llava", nil))
	result, err := classifier.Classify(context.Background(), scan())
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if result.Type != domain.TypeTumor || result.Confidence != 0.83 {
		t.Fatalf("unexpected result %+v", result)
	}
	if err := result.Validate(); err != nil {
		t.Fatalf("result should validate: %v", err)
	}

	images, _ := captured["images"].([]any)
	if len(images) != 1 || images[0] != base64.StdEncoding.EncodeToString([]byte("png-bytes")) {
		t.Fatalf("expected base64 image in request, got %v", captured["images"])
	}
	if captured["format"] != "json" || captured["model"] != "llava" {
		t.Fatalf("unexpected request %v", captured)
	}
	if prompt, _ := captured["prompt"].(string); !strings.Contains(prompt, "metastasis") {
		t.Fatalf("prompt should list labels, got %q", prompt)
	}
}

func TestClassifyMapsLowConfidenceToUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"{\"type\":\"healthy\",\"confidence\":0.3}"}`))
	}))
	defer server.Close()

	result, err := NewClassifier(New(server.URL, "llava", nil)).Classify(context.Background(), scan())
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if result.Type != domain.TypeUnknown || result.Confidence != 0.3 {
		t.Fatalf("expected unknown with original confidence, got %+v", result)
	}
}

func TestClassifyRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "loading model", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"response":"{\"type\":\"healthy\",\"confidence\":0.9}"}`))
	}))
	defer server.Close()

	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
	})
	result, err := NewClassifier(New(server.URL, "llava", executor)).Classify(context.Background(), scan())
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if result.Type != domain.TypeHealthy || calls.Load() != 2 {
		t.Fatalf("expected healthy after retry, got %+v after %d calls", result, calls.Load())
	}
}

func TestClassifyIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewClassifier(New(server.URL, "llava", nil)).Classify(context.Background(), scan())
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrClassification) || !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary classification error, got %v", err)
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
}

func TestClassifyRejectsMalformedVerdict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"I cannot help with that"}`))
	}))
	defer server.Close()

	_, err := NewClassifier(New(server.URL, "llava", nil)).Classify(context.Background(), scan())
	if !domain.IsKind(err, domain.ErrClassification) {
		t.Fatalf("expected classification error, got %v", err)
	}
}

func TestInitializeChecksVisionCapability(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/show":
			var payload map[string]string
			_ = json.NewDecoder(r.Body).Decode(&payload)
			switch payload["model"] {
			case "missing":
				http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
			case "llama3":
				_, _ = w.Write([]byte(`{"capabilities":["completion"]}`))
			default:
				_, _ = w.Write([]byte(`{"capabilities":["completion","vision"]}`))
			}
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	ready, err := NewClassifier(New(server.URL, "llava", nil)).Initialize(context.Background())
	if err != nil || !ready {
		t.Fatalf("expected vision model to be ready, got ready=%v err=%v", ready, err)
	}

	if ready, err := NewClassifier(New(server.URL, "llama3", nil)).Initialize(context.Background()); ready || err == nil {
		t.Fatalf("expected text-only model to be rejected, got ready=%v err=%v", ready, err)
	}

	if ready, err := NewClassifier(New(server.URL, "missing", nil)).Initialize(context.Background()); ready || err == nil {
		t.Fatalf("expected missing model to be rejected, got ready=%v err=%v", ready, err)
	}
}
