// Package onnx runs a local image classification model through ONNX Runtime.
package onnx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/kirillkom/neurascan/internal/core/domain"
	"github.com/kirillkom/neurascan/internal/core/ports"
	"github.com/kirillkom/neurascan/internal/infrastructure/imaging"
)

type Config struct {
	LibraryPath string
	ModelPath   string
	LabelsPath  string
	InputSize   int
	InputName   string
	OutputName  string
	Threads     int
}

// Classifier owns one ONNX Runtime session with preallocated tensors.
// Runs are serialized because the tensors are shared.
type Classifier struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	labels  []domain.ClassificationType
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

var _ ports.ScanClassifier = (*Classifier)(nil)

func New(cfg Config) *Classifier {
	if cfg.InputSize <= 0 {
		cfg.InputSize = 224
	}
	if cfg.Threads <= 0 {
		cfg.Threads = max(1, runtime.NumCPU()/2)
	}
	return &Classifier{cfg: cfg, now: time.Now}
}

// Initialize loads the labels, starts the runtime environment and builds the
// session. It is safe to call more than once.
func (c *Classifier) Initialize(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	labels, err := LoadLabels(c.cfg.LabelsPath)
	if err != nil {
		return false, err
	}

	if !ort.IsInitialized() {
		if c.cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(c.cfg.LibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return false, fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}

	inputName, outputName, err := c.ioNames()
	if err != nil {
		return false, err
	}

	size := int64(c.cfg.InputSize)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return false, fmt.Errorf("allocate input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(labels))))
	if err != nil {
		_ = input.Destroy()
		return false, fmt.Errorf("allocate output tensor: %w", err)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		_ = input.Destroy()
		_ = output.Destroy()
		return false, fmt.Errorf("create session options: %w", err)
	}
	defer opts.Destroy()
	if err := opts.SetIntraOpNumThreads(c.cfg.Threads); err != nil {
		_ = input.Destroy()
		_ = output.Destroy()
		return false, fmt.Errorf("set intra op threads: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		c.cfg.ModelPath,
		[]string{inputName},
		[]string{outputName},
		[]ort.Value{input},
		[]ort.Value{output},
		opts,
	)
	if err != nil {
		_ = input.Destroy()
		_ = output.Destroy()
		return false, fmt.Errorf("create onnx session for %s: %w", c.cfg.ModelPath, err)
	}

	c.labels = labels
	c.session = session
	c.input = input
	c.output = output
	slog.Info("onnx_session_ready",
		"model", c.cfg.ModelPath,
		"input", inputName,
		"output", outputName,
		"labels", len(labels),
		"threads", c.cfg.Threads,
	)
	return true, nil
}

func (c *Classifier) Classify(ctx context.Context, image domain.ScanImage) (domain.ClassificationResult, error) {
	tensor, err := imaging.Preprocess(image.Data, c.cfg.InputSize, imaging.ImageNet)
	if err != nil {
		return domain.ClassificationResult{}, domain.WrapError(domain.ErrClassification, "onnx.preprocess", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return domain.ClassificationResult{}, domain.WrapError(domain.ErrModelNotReady, "onnx.classify", errors.New("session not initialized"))
	}
	if err := ctx.Err(); err != nil {
		return domain.ClassificationResult{}, err
	}

	copy(c.input.GetData(), tensor)
	if err := c.session.Run(); err != nil {
		return domain.ClassificationResult{}, domain.WrapError(domain.ErrClassification, "onnx.run", err)
	}
	if err := ctx.Err(); err != nil {
		return domain.ClassificationResult{}, err
	}

	probs := Softmax(c.output.GetData())
	best := Argmax(probs)
	if best < 0 {
		return domain.ClassificationResult{}, domain.WrapError(domain.ErrClassification, "onnx.classify", errors.New("empty model output"))
	}
	return domain.ResolveLabel(c.labels[best], float64(probs[best]), c.now()), nil
}

// Close releases the session and tensors. The shared runtime environment is
// left for DestroyEnvironment at process exit.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.session != nil {
		errs = append(errs, c.session.Destroy())
		c.session = nil
	}
	if c.input != nil {
		errs = append(errs, c.input.Destroy())
		c.input = nil
	}
	if c.output != nil {
		errs = append(errs, c.output.Destroy())
		c.output = nil
	}
	return errors.Join(errs...)
}

// DestroyEnvironment tears down the process-wide runtime.
func DestroyEnvironment() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

func (c *Classifier) ioNames() (string, string, error) {
	if c.cfg.InputName != "" && c.cfg.OutputName != "" {
		return c.cfg.InputName, c.cfg.OutputName, nil
	}
	inputs, outputs, err := ort.GetInputOutputInfo(c.cfg.ModelPath)
	if err != nil {
		return "", "", fmt.Errorf("inspect model %s: %w", c.cfg.ModelPath, err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return "", "", fmt.Errorf("model %s has no inputs or outputs", c.cfg.ModelPath)
	}
	inputName, outputName := c.cfg.InputName, c.cfg.OutputName
	if inputName == "" {
		inputName = inputs[0].Name
	}
	if outputName == "" {
		outputName = outputs[0].Name
	}
	return inputName, outputName, nil
}
