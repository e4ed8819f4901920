package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure(Options{Level: "invalid", Format: "json", Output: "stdout"}); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestConfigureInvalidFormat(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure(Options{Level: "info", Format: "xml"}); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestConfigureFileOutput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	path := filepath.Join(t.TempDir(), "ingest.log")
	log := Logger()
	if err := log.Configure(Options{Level: "debug", Format: "json", Output: path}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	log.WithComponent("file_test").Info("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !bytes.Contains(data, []byte(`"component":"file_test"`)) {
		t.Fatalf("log line not written: %s", data)
	}
}

func TestConfigureEnvLevelWins(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")

	log := Logger()
	if err := log.Configure(Options{Level: "debug", Format: "text"}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if log.GetLevel().String() != "warning" {
		t.Fatalf("level = %s, want warning", log.GetLevel())
	}
}

func TestCallerPointsOutsideLogger(t *testing.T) {
	var buf bytes.Buffer
	log := Logger()
	log.SetOutput(&buf)

	log.WithComponent("caller_test").Info("where am I")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	file, _ := line["file"].(string)
	if !strings.HasPrefix(file, "logger_test.go:") {
		t.Fatalf("caller = %q, want logger_test.go", file)
	}
}

func TestLogDataFlowEntry(t *testing.T) {
	var buf bytes.Buffer
	log := Logger()
	log.SetOutput(&buf)

	LogDataFlowEntry(log.WithComponent("raw_writer"), "coingecko", "raw/path", 3, "records")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if line["record_count"] != float64(3) || line["flow_type"] != "data_flow" {
		t.Fatalf("unexpected fields: %v", line)
	}
}

func TestLogPerformanceEntryDoesNotMutateFields(t *testing.T) {
	log := Discard()
	fields := Fields{"page": 1}
	LogPerformanceEntry(log.WithComponent("x"), "x", "fetch", time.Second, fields)
	if _, ok := fields["duration_ms"]; ok {
		t.Fatalf("caller fields mutated: %v", fields)
	}
}
