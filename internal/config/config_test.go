package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadIncludesDemoDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("CLASSIFIER_BACKEND", "")
	t.Setenv("SIM_CLASSIFY_DELAY", "")
	t.Setenv("SIM_UNKNOWN_WEIGHT", "")
	t.Setenv("SESSION_SWEEP_SCHEDULE", "")

	cfg := Load()
	if cfg.ClassifierBackend != "simulated" {
		t.Fatalf("expected default backend simulated, got %q", cfg.ClassifierBackend)
	}
	if cfg.SimInitDelay != 800*time.Millisecond {
		t.Fatalf("expected default init delay 800ms, got %s", cfg.SimInitDelay)
	}
	if cfg.SimClassifyDelay != 1500*time.Millisecond {
		t.Fatalf("expected default classify delay 1.5s, got %s", cfg.SimClassifyDelay)
	}
	if cfg.SimUnknownWeight != 0.25 {
		t.Fatalf("expected default unknown weight 0.25, got %v", cfg.SimUnknownWeight)
	}
	if cfg.SessionSweepSchedule != "@every 1m" {
		t.Fatalf("expected default sweep schedule, got %q", cfg.SessionSweepSchedule)
	}
}

func TestLoadParsesEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("CLASSIFIER_BACKEND", "onnx")
	t.Setenv("SIM_CLASSIFY_DELAY", "250ms")
	t.Setenv("SIM_UNKNOWN_WEIGHT", "0")
	t.Setenv("MAX_SESSIONS", "12")
	t.Setenv("API_RATE_LIMIT_RPS", "5.5")
	t.Setenv("RESILIENCE_BREAKER_ENABLED", "false")

	cfg := Load()
	if cfg.ClassifierBackend != "onnx" {
		t.Fatalf("expected backend override, got %q", cfg.ClassifierBackend)
	}
	if cfg.SimClassifyDelay != 250*time.Millisecond {
		t.Fatalf("expected classify delay 250ms, got %s", cfg.SimClassifyDelay)
	}
	if cfg.SimUnknownWeight != 0 {
		t.Fatalf("expected unknown weight 0, got %v", cfg.SimUnknownWeight)
	}
	if cfg.MaxSessions != 12 {
		t.Fatalf("expected max sessions 12, got %d", cfg.MaxSessions)
	}
	if cfg.APIRateLimitRPS != 5.5 {
		t.Fatalf("expected rate limit 5.5, got %v", cfg.APIRateLimitRPS)
	}
	if cfg.ResilienceBreakerEnabled {
		t.Fatalf("expected breaker disabled")
	}
}

func TestLoadIgnoresMalformedEnvValues(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("SIM_INIT_DELAY", "soon")
	t.Setenv("MAX_SESSIONS", "many")

	cfg := Load()
	if cfg.SimInitDelay != 800*time.Millisecond {
		t.Fatalf("expected fallback init delay, got %s", cfg.SimInitDelay)
	}
	if cfg.MaxSessions != 1000 {
		t.Fatalf("expected fallback max sessions, got %d", cfg.MaxSessions)
	}
}

func TestLoadAppliesYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "neurascan.yaml")
	body := "classifier_backend: ollama\nollama_vision_model: llava:13b\nsession_idle_ttl: 5m\nmax_sessions: 50\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("CLASSIFIER_BACKEND", "")
	t.Setenv("MAX_SESSIONS", "7")

	cfg := Load()
	if cfg.ClassifierBackend != "ollama" || cfg.OllamaVisionModel != "llava:13b" {
		t.Fatalf("expected YAML values, got backend=%q model=%q", cfg.ClassifierBackend, cfg.OllamaVisionModel)
	}
	if cfg.SessionIdleTTL != 5*time.Minute {
		t.Fatalf("expected idle ttl 5m from YAML, got %s", cfg.SessionIdleTTL)
	}
	if cfg.MaxSessions != 7 {
		t.Fatalf("expected env to win over YAML, got %d", cfg.MaxSessions)
	}
	if cfg.APIPort != "8080" {
		t.Fatalf("expected untouched default port, got %q", cfg.APIPort)
	}
}

func TestLoadFallsBackOnInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("max_sessions: [oops"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("MAX_SESSIONS", "")

	cfg := Load()
	if cfg.MaxSessions != 1000 {
		t.Fatalf("expected defaults after invalid YAML, got %d", cfg.MaxSessions)
	}
}
