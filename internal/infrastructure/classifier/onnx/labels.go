package onnx

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/kirillkom/neurascan/internal/core/domain"
)

var folder = cases.Fold()

// labelAliases maps class names used by common brain MRI datasets onto the
// demo's classification types.
var labelAliases = map[string]domain.ClassificationType{
	"tumor":      domain.TypeTumor,
	"tumour":     domain.TypeTumor,
	"glioma":     domain.TypeTumor,
	"meningioma": domain.TypeTumor,
	"pituitary":  domain.TypeTumor,
	"metastasis": domain.TypeMetastasis,
	"metastases": domain.TypeMetastasis,
	"metastatic": domain.TypeMetastasis,
	"healthy":    domain.TypeHealthy,
	"normal":     domain.TypeHealthy,
	"notumor":    domain.TypeHealthy,
	"no_tumor":   domain.TypeHealthy,
	"no tumor":   domain.TypeHealthy,
}

// NormalizeLabel maps a raw model class name to a classification type.
// Unrecognized names become unknown.
func NormalizeLabel(raw string) domain.ClassificationType {
	key := strings.TrimSpace(folder.String(norm.NFKC.String(raw)))
	key = strings.ReplaceAll(key, "-", "_")
	if t, ok := labelAliases[key]; ok {
		return t
	}
	return domain.TypeUnknown
}

// LoadLabels reads one class name per line, in model output order.
func LoadLabels(path string) ([]domain.ClassificationType, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open labels: %w", err)
	}
	defer f.Close()

	var labels []domain.ClassificationType
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		labels = append(labels, NormalizeLabel(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("labels file %s is empty", path)
	}
	return labels, nil
}

func Softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	peak := logits[0]
	for _, v := range logits[1:] {
		peak = max(peak, v)
	}
	out := make([]float32, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - peak))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

func Argmax(values []float32) int {
	best := -1
	for i, v := range values {
		if best < 0 || v > values[best] {
			best = i
		}
	}
	return best
}
