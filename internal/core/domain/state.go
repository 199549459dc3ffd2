package domain

import "time"

type ScanPhase string

const (
	PhaseIdle    ScanPhase = "idle"
	PhaseLoading ScanPhase = "loading"
	PhaseResult  ScanPhase = "result"
	PhaseError   ScanPhase = "error"
)

type ScanErrorKind string

const (
	ErrorKindModelNotReady  ScanErrorKind = "model_not_ready"
	ErrorKindInitialization ScanErrorKind = "initialization"
	ErrorKindClassification ScanErrorKind = "classification"
	ErrorKindPreview        ScanErrorKind = "preview"
)

const (
	MessageModelNotReady  = "Classification model is not ready. Please try again later."
	MessageInitialization = "Failed to initialize the classification model. Please try again later."
	MessageClassification = "Error processing the image. Please try again with a different image."
	MessagePreview        = "Could not prepare the image preview. Please try again."
)

type ScanError struct {
	Kind    ScanErrorKind `json:"kind"`
	Message string        `json:"message"`
}

type SelectedImage struct {
	Filename string        `json:"filename"`
	MimeType string        `json:"mime_type"`
	Size     int64         `json:"size"`
	Preview  PreviewHandle `json:"preview"`
}

type ScanResultView struct {
	ClassificationResult
	Details ResultDetails `json:"details"`
}

// ScanState is a snapshot of one selection controller. At most one of
// Result and Error is set, and only in the matching phase.
type ScanState struct {
	SessionID  string          `json:"session_id"`
	Phase      ScanPhase       `json:"phase"`
	Generation uint64          `json:"generation"`
	Image      *SelectedImage  `json:"image,omitempty"`
	Result     *ScanResultView `json:"result,omitempty"`
	Error      *ScanError      `json:"error,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (s ScanState) HasSelection() bool {
	return s.Image != nil
}

func NewResultView(r ClassificationResult) *ScanResultView {
	return &ScanResultView{ClassificationResult: r, Details: DescribeResult(r)}
}

type ReadinessPhase string

const (
	ReadinessInitializing ReadinessPhase = "initializing"
	ReadinessReady        ReadinessPhase = "ready"
	ReadinessFailed       ReadinessPhase = "failed"
)

type ReadinessStatus struct {
	Phase   ReadinessPhase `json:"status"`
	Backend string         `json:"backend"`
	Error   string         `json:"error,omitempty"`
}
