package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/neurascan/internal/core/domain"
	"github.com/kirillkom/neurascan/internal/core/ports"
	"github.com/kirillkom/neurascan/internal/infrastructure/resilience"
)

// Classifier forwards classification to inference workers over NATS
// request/reply.
type Classifier struct {
	conn           *nats.Conn
	subject        string
	requestTimeout time.Duration
	pollInterval   time.Duration
	executor       *resilience.Executor
}

var _ ports.ScanClassifier = (*Classifier)(nil)

func NewClassifier(conn *nats.Conn, subject string, requestTimeout time.Duration, executor *resilience.Executor) *Classifier {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return &Classifier{
		conn:           conn,
		subject:        subject,
		requestTimeout: requestTimeout,
		pollInterval:   500 * time.Millisecond,
		executor:       executor,
	}
}

// Initialize polls the worker pool until one worker reports its model ready
// or failed. ctx bounds the wait.
func (c *Classifier) Initialize(ctx context.Context) (bool, error) {
	for {
		status, err := c.workerStatus(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return false, fmt.Errorf("wait for inference workers: %w", err)
		case err != nil:
			slog.Debug("inference_worker_unavailable", "subject", c.subject, "error", err)
		case status.Phase == domain.ReadinessReady:
			return true, nil
		case status.Phase == domain.ReadinessFailed:
			return false, fmt.Errorf("inference worker %s backend failed: %s", status.Backend, status.Error)
		}

		timer := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, fmt.Errorf("wait for inference workers: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

func (c *Classifier) Classify(ctx context.Context, image domain.ScanImage) (domain.ClassificationResult, error) {
	payload, err := encodeRequest(image, time.Now())
	if err != nil {
		return domain.ClassificationResult{}, domain.WrapError(domain.ErrClassification, "nats.classify", err)
	}
	if limit := c.conn.MaxPayload(); limit > 0 && int64(len(payload)) > limit {
		return domain.ClassificationResult{}, domain.WrapError(
			domain.ErrInvalidInput,
			"nats.classify",
			fmt.Errorf("encoded image is %d bytes, server limit is %d", len(payload), limit),
		)
	}

	raw, err := resilience.Do(ctx, c.executor, "nats.classify", func(callCtx context.Context) ([]byte, error) {
		reqCtx, cancel := context.WithTimeout(callCtx, c.requestTimeout)
		defer cancel()
		msg, err := c.conn.RequestWithContext(reqCtx, c.subject, payload)
		if err != nil {
			return nil, fmt.Errorf("nats request %s: %w", c.subject, err)
		}
		return msg.Data, nil
	}, classifyNATSError)
	if err != nil {
		return domain.ClassificationResult{}, domain.WrapError(domain.ErrClassification, "nats.classify", wrapTemporaryIfNeeded("nats.request", err))
	}
	return decodeReply(raw)
}

func (c *Classifier) workerStatus(ctx context.Context) (domain.ReadinessStatus, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	msg, err := c.conn.RequestWithContext(reqCtx, readySubject(c.subject), nil)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return domain.ReadinessStatus{}, wrapTemporaryIfNeeded("nats.ready", err)
		}
		return domain.ReadinessStatus{}, fmt.Errorf("nats ready request: %w", err)
	}
	var reply readyReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return domain.ReadinessStatus{}, fmt.Errorf("decode ready reply: %w", err)
	}
	return reply.Status, nil
}
