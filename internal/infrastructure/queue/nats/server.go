package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/neurascan/internal/core/domain"
	"github.com/kirillkom/neurascan/internal/core/ports"
)

const workerQueueGroup = "inference-workers"

// InferenceObserver records worker side inference metrics.
type InferenceObserver interface {
	StartInference()
	FinishInference(backend string, duration time.Duration, err error)
	ObserveQueueLag(backend string, lag time.Duration)
}

type ServerOptions struct {
	Backend        string
	Concurrency    int
	RequestTimeout time.Duration
	Observer       InferenceObserver
	Logger         *slog.Logger
}

// Server answers classification requests with a local backend.
type Server struct {
	conn       *nats.Conn
	subject    string
	classifier ports.ScanClassifier
	readiness  ports.ReadinessReporter
	opts       ServerOptions
	slots      chan struct{}

	// mu orders admissions against shutdown so inflight.Add never races
	// inflight.Wait.
	mu       sync.Mutex
	closing  bool
	inflight sync.WaitGroup
}

func NewServer(conn *nats.Conn, subject string, classifier ports.ScanClassifier, readiness ports.ReadinessReporter, opts ServerOptions) *Server {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		conn:       conn,
		subject:    subject,
		classifier: classifier,
		readiness:  readiness,
		opts:       opts,
		slots:      make(chan struct{}, opts.Concurrency),
	}
}

// Serve subscribes to the classify and ready subjects and blocks until ctx is
// done, then drains both subscriptions.
func (s *Server) Serve(ctx context.Context) error {
	classifySub, err := s.conn.QueueSubscribe(s.subject, workerQueueGroup, func(msg *nats.Msg) {
		s.dispatch(ctx, msg.Data, func(payload []byte) { s.respond(msg, payload) })
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", s.subject, err)
	}

	readySub, err := s.conn.QueueSubscribe(readySubject(s.subject), workerQueueGroup, func(msg *nats.Msg) {
		s.respond(msg, s.handleReady())
	})
	if err != nil {
		_ = classifySub.Unsubscribe()
		return fmt.Errorf("nats subscribe %s: %w", readySubject(s.subject), err)
	}

	if err := s.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	s.opts.Logger.Info("inference_worker_subscribed", "subject", s.subject, "backend", s.opts.Backend)

	<-ctx.Done()
	s.beginShutdown()
	errs := []error{readySub.Drain(), classifySub.Drain()}
	s.inflight.Wait()
	if err := s.conn.FlushTimeout(5 * time.Second); err != nil {
		errs = append(errs, fmt.Errorf("nats flush after drain: %w", err))
	}
	return errors.Join(errs...)
}

// dispatch runs one classify request on a worker slot and calls reply
// exactly once. Requests arriving after shutdown began are answered with
// not-ready; admitted requests finish even if ctx is cancelled meanwhile.
func (s *Server) dispatch(ctx context.Context, raw []byte, reply func([]byte)) {
	if ctx.Err() != nil || !s.admit() {
		reply(encodeReply(classifyReply{Error: "inference worker is shutting down", Kind: replyKindNotReady}))
		return
	}
	s.slots <- struct{}{}
	go func() {
		defer func() {
			<-s.slots
			s.inflight.Done()
		}()
		reply(s.handleClassify(context.WithoutCancel(ctx), raw))
	}()
}

func (s *Server) admit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.inflight.Add(1)
	return true
}

func (s *Server) beginShutdown() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
}

func (s *Server) handleClassify(ctx context.Context, raw []byte) []byte {
	req, err := decodeRequest(raw)
	if err != nil {
		return encodeReply(classifyReply{Error: err.Error(), Kind: replyKindBadRequest})
	}
	if !req.SentAt.IsZero() && s.opts.Observer != nil {
		s.opts.Observer.ObserveQueueLag(s.opts.Backend, time.Since(req.SentAt))
	}
	if !s.readiness.Ready() {
		return encodeReply(classifyReply{Error: domain.MessageModelNotReady, Kind: replyKindNotReady})
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	if s.opts.Observer != nil {
		s.opts.Observer.StartInference()
	}
	start := time.Now()
	result, err := s.classifier.Classify(callCtx, domain.ScanImage{
		Filename: req.Filename,
		MimeType: req.MimeType,
		Data:     req.Data,
	})
	if s.opts.Observer != nil {
		s.opts.Observer.FinishInference(s.opts.Backend, time.Since(start), err)
	}
	if err != nil {
		s.opts.Logger.Warn("inference_failed", "filename", req.Filename, "error", err)
		return encodeReply(classifyReply{Error: err.Error(), Kind: replyKindClassification})
	}
	return encodeReply(classifyReply{Result: &result})
}

func (s *Server) handleReady() []byte {
	raw, err := json.Marshal(readyReply{Status: s.readiness.Status()})
	if err != nil {
		return nil
	}
	return raw
}

func (s *Server) respond(msg *nats.Msg, payload []byte) {
	if msg.Reply == "" {
		return
	}
	if err := msg.Respond(payload); err != nil {
		s.opts.Logger.Warn("nats_respond_failed", "subject", msg.Subject, "error", err)
	}
}
