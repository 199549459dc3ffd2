package simulated

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/kirillkom/neurascan/internal/core/domain"
)

type Config struct {
	InitDelay     time.Duration
	ClassifyDelay time.Duration
	// UnknownWeight is the draw weight of unknown relative to 1.0 for each
	// known category. Values below MinUnknownWeight are raised to it so
	// unknown stays reachable.
	UnknownWeight float64
	Seed          uint64
}

// MinUnknownWeight is the smallest draw weight unknown can have.
const MinUnknownWeight = 0.05

func DefaultConfig() Config {
	return Config{
		InitDelay:     800 * time.Millisecond,
		ClassifyDelay: 1500 * time.Millisecond,
		UnknownWeight: 0.25,
	}
}

// Classifier stands in for a trained model: it waits, then draws a weighted
// random category and a confidence from that category's band.
type Classifier struct {
	cfg Config
	now func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

func New(cfg Config) *Classifier {
	if cfg.UnknownWeight < MinUnknownWeight {
		cfg.UnknownWeight = MinUnknownWeight
	}
	if cfg.InitDelay < 0 {
		cfg.InitDelay = 0
	}
	if cfg.ClassifyDelay < 0 {
		cfg.ClassifyDelay = 0
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Classifier{
		cfg: cfg,
		now: time.Now,
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (c *Classifier) Initialize(ctx context.Context) (bool, error) {
	if err := sleep(ctx, c.cfg.InitDelay); err != nil {
		return false, err
	}
	slog.Info("simulated_classifier_loaded", "unknown_weight", c.cfg.UnknownWeight)
	return true, nil
}

func (c *Classifier) Classify(ctx context.Context, image domain.ScanImage) (domain.ClassificationResult, error) {
	if len(image.Data) == 0 {
		return domain.ClassificationResult{}, domain.WrapError(domain.ErrClassification, "simulated classify", errors.New("empty image payload"))
	}
	if err := sleep(ctx, c.cfg.ClassifyDelay); err != nil {
		return domain.ClassificationResult{}, err
	}

	label, confidence := c.draw()
	return domain.ClassificationResult{
		Type:       label,
		Confidence: confidence,
		Timestamp:  c.now().UTC(),
	}, nil
}

func (c *Classifier) draw() (domain.ClassificationType, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := float64(len(domain.KnownTypes)) + c.cfg.UnknownWeight
	pick := c.rng.Float64() * total
	label := domain.TypeUnknown
	if idx := int(pick); idx < len(domain.KnownTypes) {
		label = domain.KnownTypes[idx]
	}

	if label == domain.TypeUnknown {
		return label, 0.25 + c.rng.Float64()*0.2
	}
	return label, 0.65 + c.rng.Float64()*0.3
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
