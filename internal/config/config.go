package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const configPathEnv = "CONFIG_PATH"

type Config struct {
	APIPort  string `yaml:"api_port"`
	LogLevel string `yaml:"log_level"`

	ClassifierBackend string        `yaml:"classifier_backend"`
	InferenceThreads  int           `yaml:"inference_threads"`
	InitTimeout       time.Duration `yaml:"init_timeout"`

	SimInitDelay     time.Duration `yaml:"sim_init_delay"`
	SimClassifyDelay time.Duration `yaml:"sim_classify_delay"`
	SimUnknownWeight float64       `yaml:"sim_unknown_weight"`
	SimSeed          uint64        `yaml:"sim_seed"`

	OllamaURL         string `yaml:"ollama_url"`
	OllamaVisionModel string `yaml:"ollama_vision_model"`

	OnnxLibraryPath string `yaml:"onnx_library_path"`
	OnnxModelPath   string `yaml:"onnx_model_path"`
	OnnxLabelsPath  string `yaml:"onnx_labels_path"`
	OnnxInputSize   int    `yaml:"onnx_input_size"`

	NATSURL            string        `yaml:"nats_url"`
	NATSSubject        string        `yaml:"nats_subject"`
	NATSRequestTimeout time.Duration `yaml:"nats_request_timeout"`

	WorkerBackend     string `yaml:"worker_backend"`
	WorkerConcurrency int    `yaml:"worker_concurrency"`
	WorkerMetricsPort string `yaml:"worker_metrics_port"`

	StoragePath          string        `yaml:"storage_path"`
	MaxUploadBytes       int64         `yaml:"max_upload_bytes"`
	MaxSessions          int           `yaml:"max_sessions"`
	SessionIdleTTL       time.Duration `yaml:"session_idle_ttl"`
	SessionSweepSchedule string        `yaml:"session_sweep_schedule"`

	APIRateLimitRPS     float64       `yaml:"api_rate_limit_rps"`
	APIRateLimitBurst   int           `yaml:"api_rate_limit_burst"`
	APIMaxInFlight      int           `yaml:"api_max_in_flight"`
	APIBackpressureWait time.Duration `yaml:"api_backpressure_wait"`
	APIMaxConns         int           `yaml:"api_max_conns"`

	ResilienceRetryMaxAttempts    int           `yaml:"resilience_retry_max_attempts"`
	ResilienceRetryInitialBackoff time.Duration `yaml:"resilience_retry_initial_backoff"`
	ResilienceRetryMaxBackoff     time.Duration `yaml:"resilience_retry_max_backoff"`
	ResilienceBreakerEnabled      bool          `yaml:"resilience_breaker_enabled"`
	ResilienceBreakerOpenTimeout  time.Duration `yaml:"resilience_breaker_open_timeout"`
}

func defaultConfig() Config {
	return Config{
		APIPort:  "8080",
		LogLevel: "info",

		ClassifierBackend: "simulated",
		InferenceThreads:  2,
		InitTimeout:       2 * time.Minute,

		SimInitDelay:     800 * time.Millisecond,
		SimClassifyDelay: 1500 * time.Millisecond,
		SimUnknownWeight: 0.25,

		OllamaURL:         "http://localhost:11434",
		OllamaVisionModel: "llava:7b",

		OnnxModelPath:  "./models/brain-mri.onnx",
		OnnxLabelsPath: "./models/labels.txt",
		OnnxInputSize:  224,

		NATSURL:            "nats://localhost:4222",
		NATSSubject:        "scans.classify",
		NATSRequestTimeout: 30 * time.Second,

		WorkerBackend:     "simulated",
		WorkerConcurrency: 4,
		WorkerMetricsPort: "9090",

		StoragePath:          "./data/previews",
		MaxUploadBytes:       10 << 20,
		MaxSessions:          1000,
		SessionIdleTTL:       30 * time.Minute,
		SessionSweepSchedule: "@every 1m",

		APIRateLimitRPS:     0,
		APIRateLimitBurst:   20,
		APIMaxInFlight:      64,
		APIBackpressureWait: 250 * time.Millisecond,
		APIMaxConns:         512,

		ResilienceRetryMaxAttempts:    2,
		ResilienceRetryInitialBackoff: 150 * time.Millisecond,
		ResilienceRetryMaxBackoff:     500 * time.Millisecond,
		ResilienceBreakerEnabled:      true,
		ResilienceBreakerOpenTimeout:  20 * time.Second,
	}
}

// Load starts from defaults, overlays the YAML file named by CONFIG_PATH
// when present, then applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			slog.Warn("config_file_unreadable", "path", path, "error", err)
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			slog.Warn("config_file_invalid", "path", path, "error", err)
			cfg = defaultConfig()
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	c.APIPort = mustEnv("API_PORT", c.APIPort)
	c.LogLevel = mustEnv("LOG_LEVEL", c.LogLevel)

	c.ClassifierBackend = mustEnv("CLASSIFIER_BACKEND", c.ClassifierBackend)
	c.InferenceThreads = mustEnvInt("INFERENCE_THREADS", c.InferenceThreads)
	c.InitTimeout = mustEnvDuration("CLASSIFIER_INIT_TIMEOUT", c.InitTimeout)

	c.SimInitDelay = mustEnvDuration("SIM_INIT_DELAY", c.SimInitDelay)
	c.SimClassifyDelay = mustEnvDuration("SIM_CLASSIFY_DELAY", c.SimClassifyDelay)
	c.SimUnknownWeight = mustEnvFloat("SIM_UNKNOWN_WEIGHT", c.SimUnknownWeight)
	c.SimSeed = uint64(mustEnvInt("SIM_SEED", int(c.SimSeed)))

	c.OllamaURL = mustEnv("OLLAMA_URL", c.OllamaURL)
	c.OllamaVisionModel = mustEnv("OLLAMA_VISION_MODEL", c.OllamaVisionModel)

	c.OnnxLibraryPath = mustEnv("ONNX_LIBRARY_PATH", c.OnnxLibraryPath)
	c.OnnxModelPath = mustEnv("ONNX_MODEL_PATH", c.OnnxModelPath)
	c.OnnxLabelsPath = mustEnv("ONNX_LABELS_PATH", c.OnnxLabelsPath)
	c.OnnxInputSize = mustEnvInt("ONNX_INPUT_SIZE", c.OnnxInputSize)

	c.NATSURL = mustEnv("NATS_URL", c.NATSURL)
	c.NATSSubject = mustEnv("NATS_SUBJECT", c.NATSSubject)
	c.NATSRequestTimeout = mustEnvDuration("NATS_REQUEST_TIMEOUT", c.NATSRequestTimeout)

	c.WorkerBackend = mustEnv("WORKER_BACKEND", c.WorkerBackend)
	c.WorkerConcurrency = mustEnvInt("WORKER_CONCURRENCY", c.WorkerConcurrency)
	c.WorkerMetricsPort = mustEnv("WORKER_METRICS_PORT", c.WorkerMetricsPort)

	c.StoragePath = mustEnv("STORAGE_PATH", c.StoragePath)
	c.MaxUploadBytes = int64(mustEnvInt("MAX_UPLOAD_BYTES", int(c.MaxUploadBytes)))
	c.MaxSessions = mustEnvInt("MAX_SESSIONS", c.MaxSessions)
	c.SessionIdleTTL = mustEnvDuration("SESSION_IDLE_TTL", c.SessionIdleTTL)
	c.SessionSweepSchedule = mustEnv("SESSION_SWEEP_SCHEDULE", c.SessionSweepSchedule)

	c.APIRateLimitRPS = mustEnvFloat("API_RATE_LIMIT_RPS", c.APIRateLimitRPS)
	c.APIRateLimitBurst = mustEnvInt("API_RATE_LIMIT_BURST", c.APIRateLimitBurst)
	c.APIMaxInFlight = mustEnvInt("API_MAX_IN_FLIGHT", c.APIMaxInFlight)
	c.APIBackpressureWait = mustEnvDuration("API_BACKPRESSURE_WAIT", c.APIBackpressureWait)
	c.APIMaxConns = mustEnvInt("API_MAX_CONNS", c.APIMaxConns)

	c.ResilienceRetryMaxAttempts = mustEnvInt("RESILIENCE_RETRY_MAX_ATTEMPTS", c.ResilienceRetryMaxAttempts)
	c.ResilienceRetryInitialBackoff = mustEnvDuration("RESILIENCE_RETRY_INITIAL_BACKOFF", c.ResilienceRetryInitialBackoff)
	c.ResilienceRetryMaxBackoff = mustEnvDuration("RESILIENCE_RETRY_MAX_BACKOFF", c.ResilienceRetryMaxBackoff)
	c.ResilienceBreakerEnabled = mustEnvBool("RESILIENCE_BREAKER_ENABLED", c.ResilienceBreakerEnabled)
	c.ResilienceBreakerOpenTimeout = mustEnvDuration("RESILIENCE_BREAKER_OPEN_TIMEOUT", c.ResilienceBreakerOpenTimeout)
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func mustEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
