package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewTagsServiceAndFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "api", "warn")

	logger.Info("dropped")
	logger.Warn("kept", "session_id", "s-1")

	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &record); err != nil {
		t.Fatalf("expected exactly one JSON record, got %q: %v", buf.String(), err)
	}
	if record["msg"] != "kept" || record["service"] != "api" || record["session_id"] != "s-1" {
		t.Fatalf("unexpected record %v", record)
	}
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	if ParseLevel("verbose") != slog.LevelInfo {
		t.Fatalf("unknown level should map to info")
	}
	if ParseLevel(" DEBUG ") != slog.LevelDebug {
		t.Fatalf("level parsing should ignore case and spaces")
	}
}
