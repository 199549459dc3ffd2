package onnx

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/kirillkom/neurascan/internal/core/domain"
)

func TestNormalizeLabel(t *testing.T) {
	cases := map[string]domain.ClassificationType{
		"Glioma":      domain.TypeTumor,
		" MENINGIOMA": domain.TypeTumor,
		"no-tumor":    domain.TypeHealthy,
		"notumor":     domain.TypeHealthy,
		"Metastasis":  domain.TypeMetastasis,
		"stroke":      domain.TypeUnknown,
	}
	for raw, want := range cases {
		if got := NormalizeLabel(raw); got != want {
			t.Fatalf("NormalizeLabel(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestLoadLabelsSkipsCommentsAndBlanks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.txt")
	body := "# output order\nglioma\n\nmeningioma\nnotumor\npituitary\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write labels: %v", err)
	}
	labels, err := LoadLabels(path)
	if err != nil {
		t.Fatalf("LoadLabels() error = %v", err)
	}
	want := []domain.ClassificationType{domain.TypeTumor, domain.TypeTumor, domain.TypeHealthy, domain.TypeTumor}
	if len(labels) != len(want) {
		t.Fatalf("expected %d labels, got %v", len(want), labels)
	}
	for i := range want {
		if labels[i] != want[i] {
			t.Fatalf("label %d = %q, want %q", i, labels[i], want[i])
		}
	}
}

func TestLoadLabelsRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.txt")
	if err := os.WriteFile(path, []byte("\n# nothing\n"), 0o644); err != nil {
		t.Fatalf("write labels: %v", err)
	}
	if _, err := LoadLabels(path); err == nil {
		t.Fatalf("expected error for empty labels file")
	}
}

func TestSoftmaxAndArgmax(t *testing.T) {
	probs := Softmax([]float32{1, 3, 2})
	var sum float64
	for _, p := range probs {
		sum += float64(p)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Fatalf("probabilities should sum to 1, got %v", sum)
	}
	if Argmax(probs) != 1 {
		t.Fatalf("expected index 1, got %d", Argmax(probs))
	}
	if Argmax(nil) != -1 {
		t.Fatalf("expected -1 for empty input")
	}
}
