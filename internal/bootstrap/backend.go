package bootstrap

import (
	"fmt"
	"strings"

	natsgo "github.com/nats-io/nats.go"

	"github.com/kirillkom/neurascan/internal/config"
	"github.com/kirillkom/neurascan/internal/core/ports"
	"github.com/kirillkom/neurascan/internal/infrastructure/classifier/ollama"
	"github.com/kirillkom/neurascan/internal/infrastructure/classifier/onnx"
	"github.com/kirillkom/neurascan/internal/infrastructure/classifier/simulated"
	"github.com/kirillkom/neurascan/internal/infrastructure/queue/nats"
	"github.com/kirillkom/neurascan/internal/infrastructure/resilience"
)

const (
	BackendSimulated = "simulated"
	BackendOllama    = "ollama"
	BackendONNX      = "onnx"
	BackendNATS      = "nats"
)

// Backend is a configured classifier plus whatever it needs torn down.
type Backend struct {
	Name       string
	Classifier ports.ScanClassifier

	closeFn func() error
}

func (b *Backend) Close() error {
	if b == nil || b.closeFn == nil {
		return nil
	}
	return b.closeFn()
}

// NewBackend builds the classifier named by name. The nats backend forwards
// to remote workers; every other backend runs in process.
func NewBackend(cfg config.Config, name string, executor *resilience.Executor) (*Backend, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "", BackendSimulated:
		return &Backend{
			Name: BackendSimulated,
			Classifier: simulated.New(simulated.Config{
				InitDelay:     cfg.SimInitDelay,
				ClassifyDelay: cfg.SimClassifyDelay,
				UnknownWeight: cfg.SimUnknownWeight,
				Seed:          cfg.SimSeed,
			}),
		}, nil

	case BackendOllama:
		client := ollama.New(cfg.OllamaURL, cfg.OllamaVisionModel, executor)
		return &Backend{Name: name, Classifier: ollama.NewClassifier(client)}, nil

	case BackendONNX:
		classifier := onnx.New(onnx.Config{
			LibraryPath: cfg.OnnxLibraryPath,
			ModelPath:   cfg.OnnxModelPath,
			LabelsPath:  cfg.OnnxLabelsPath,
			InputSize:   cfg.OnnxInputSize,
			Threads:     cfg.InferenceThreads,
		})
		return &Backend{
			Name:       name,
			Classifier: classifier,
			closeFn: func() error {
				if err := classifier.Close(); err != nil {
					return err
				}
				return onnx.DestroyEnvironment()
			},
		}, nil

	case BackendNATS:
		conn, err := nats.Connect(cfg.NATSURL, nats.Options{
			Name:               "neurascan-api",
			ResilienceExecutor: executor,
		})
		if err != nil {
			return nil, fmt.Errorf("init nats backend: %w", err)
		}
		return &Backend{
			Name:       name,
			Classifier: nats.NewClassifier(conn, cfg.NATSSubject, cfg.NATSRequestTimeout, executor),
			closeFn:    drainFn(conn),
		}, nil

	default:
		return nil, fmt.Errorf("unknown classifier backend %q", name)
	}
}

func drainFn(conn *natsgo.Conn) func() error {
	return func() error {
		if err := conn.Drain(); err != nil {
			conn.Close()
			return err
		}
		return nil
	}
}

func newExecutor(cfg config.Config) *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    cfg.ResilienceRetryMaxAttempts,
		RetryInitialBackoff: cfg.ResilienceRetryInitialBackoff,
		RetryMaxBackoff:     cfg.ResilienceRetryMaxBackoff,
		BreakerEnabled:      cfg.ResilienceBreakerEnabled,
		BreakerOpenTimeout:  cfg.ResilienceBreakerOpenTimeout,
	})
}
