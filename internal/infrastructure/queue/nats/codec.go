package nats

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/neurascan/internal/core/domain"
)

// classifyRequest is the wire payload sent to inference workers. Data is
// base64 encoded by encoding/json.
type classifyRequest struct {
	Filename string    `json:"filename"`
	MimeType string    `json:"mime_type"`
	Data     []byte    `json:"data"`
	SentAt   time.Time `json:"sent_at"`
}

type classifyReply struct {
	Result *domain.ClassificationResult `json:"result,omitempty"`
	Error  string                       `json:"error,omitempty"`
	Kind   string                       `json:"kind,omitempty"`
}

type readyReply struct {
	Status domain.ReadinessStatus `json:"status"`
}

const (
	replyKindNotReady       = "model_not_ready"
	replyKindClassification = "classification"
	replyKindBadRequest     = "bad_request"
)

func encodeRequest(image domain.ScanImage, sentAt time.Time) ([]byte, error) {
	raw, err := json.Marshal(classifyRequest{
		Filename: image.Filename,
		MimeType: image.MimeType,
		Data:     image.Data,
		SentAt:   sentAt.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal classify request: %w", err)
	}
	return raw, nil
}

func decodeRequest(raw []byte) (classifyRequest, error) {
	var req classifyRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return classifyRequest{}, fmt.Errorf("unmarshal classify request: %w", err)
	}
	if len(req.Data) == 0 {
		return classifyRequest{}, errors.New("classify request has no image data")
	}
	return req, nil
}

// decodeReply turns a worker reply into a result or a typed error.
func decodeReply(raw []byte) (domain.ClassificationResult, error) {
	var reply classifyReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return domain.ClassificationResult{}, domain.WrapError(domain.ErrClassification, "decode worker reply", err)
	}
	if reply.Error != "" {
		cause := errors.New(reply.Error)
		switch reply.Kind {
		case replyKindNotReady:
			return domain.ClassificationResult{}, domain.WrapError(domain.ErrModelNotReady, "worker classify", cause)
		case replyKindBadRequest:
			return domain.ClassificationResult{}, domain.WrapError(domain.ErrInvalidInput, "worker classify", cause)
		default:
			return domain.ClassificationResult{}, domain.WrapError(domain.ErrClassification, "worker classify", cause)
		}
	}
	if reply.Result == nil {
		return domain.ClassificationResult{}, domain.WrapError(domain.ErrClassification, "worker classify", errors.New("empty reply"))
	}
	return *reply.Result, nil
}

func encodeReply(reply classifyReply) []byte {
	raw, err := json.Marshal(reply)
	if err != nil {
		raw, _ = json.Marshal(classifyReply{Error: err.Error(), Kind: replyKindClassification})
	}
	return raw
}
