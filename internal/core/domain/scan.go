package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

type ClassificationType string

const (
	TypeTumor      ClassificationType = "tumor"
	TypeMetastasis ClassificationType = "metastasis"
	TypeHealthy    ClassificationType = "healthy"
	TypeUnknown    ClassificationType = "unknown"
)

// LowConfidenceThreshold separates unknown outcomes from labelled ones.
const LowConfidenceThreshold = 0.5

// ReviewConfidenceThreshold marks results that should be verified by a professional.
const ReviewConfidenceThreshold = 0.7

var KnownTypes = []ClassificationType{TypeTumor, TypeMetastasis, TypeHealthy}

func (t ClassificationType) Valid() bool {
	switch t {
	case TypeTumor, TypeMetastasis, TypeHealthy, TypeUnknown:
		return true
	default:
		return false
	}
}

func ParseClassificationType(raw string) (ClassificationType, error) {
	t := ClassificationType(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", WrapError(ErrInvalidInput, "parse classification type", fmt.Errorf("unsupported value %q", raw))
	}
	return t, nil
}

type ClassificationResult struct {
	Type       ClassificationType `json:"type"`
	Confidence float64            `json:"confidence"`
	Timestamp  time.Time          `json:"timestamp"`
}

func (r ClassificationResult) Validate() error {
	if !r.Type.Valid() {
		return fmt.Errorf("unsupported classification type %q", r.Type)
	}
	if math.IsNaN(r.Confidence) || r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", r.Confidence)
	}
	if r.Type == TypeUnknown && r.Confidence >= LowConfidenceThreshold {
		return errors.New("unknown classification must carry low confidence")
	}
	if r.Timestamp.IsZero() {
		return errors.New("classification timestamp is missing")
	}
	return nil
}

// ResolveLabel turns a backend label and score into a result that honors the
// confidence bands: scores are clamped to [0,1] and anything below
// LowConfidenceThreshold is reported as unknown.
func ResolveLabel(label ClassificationType, score float64, at time.Time) ClassificationResult {
	switch {
	case math.IsNaN(score):
		score = 0
	case score < 0:
		score = 0
	case score > 1:
		score = 1
	}
	if !label.Valid() || score < LowConfidenceThreshold {
		label = TypeUnknown
	}
	if label == TypeUnknown && score >= LowConfidenceThreshold {
		score = math.Nextafter(LowConfidenceThreshold, 0)
	}
	return ClassificationResult{
		Type:       label,
		Confidence: score,
		Timestamp:  at.UTC(),
	}
}

type ResultDetails struct {
	Title             string `json:"title"`
	Description       string `json:"description"`
	ConfidencePercent int    `json:"confidence_percent"`
	NeedsReview       bool   `json:"needs_review"`
}

func DescribeResult(r ClassificationResult) ResultDetails {
	details := ResultDetails{
		ConfidencePercent: int(math.Round(r.Confidence * 100)),
		NeedsReview:       r.Confidence < ReviewConfidenceThreshold,
	}
	switch r.Type {
	case TypeTumor:
		details.Title = "Brain Tumor Detected"
		details.Description = "The scan shows patterns consistent with a brain tumor."
	case TypeMetastasis:
		details.Title = "Metastasis Detected"
		details.Description = "The scan shows patterns consistent with metastatic spread."
	case TypeHealthy:
		details.Title = "Healthy Brain Tissue"
		details.Description = "No abnormalities detected in the brain scan."
	default:
		details.Title = "Uncertain Classification"
		details.Description = "The system could not confidently classify this scan."
	}
	return details
}

// ScanImage is the raw payload selected by the user.
type ScanImage struct {
	Filename string
	MimeType string
	Data     []byte
}

func (img ScanImage) Size() int64 {
	return int64(len(img.Data))
}

// IsImageMedia reports whether a MIME type identifies image media.
func IsImageMedia(mimeType string) bool {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return strings.HasPrefix(mt, "image/") && len(mt) > len("image/")
}

// IsRasterMedia reports whether mimeType is one of the raster formats that
// may be served back to a browser as a preview.
func IsRasterMedia(mimeType string) bool {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/png", "image/jpeg", "image/gif", "image/bmp", "image/tiff", "image/webp":
		return true
	}
	return false
}

// PreviewHandle is a revocable reference to a stored rendering of a ScanImage.
type PreviewHandle struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

func (h PreviewHandle) IsZero() bool {
	return h.ID == ""
}
