package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := New()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := New()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestConfigureInvalidFormat(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := New()
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestConfigureFileOutput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	path := filepath.Join(t.TempDir(), "bookflow.log")
	log := New()
	if err := log.Configure("debug", "json", path, 0); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	log.WithComponent("test").Info("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var line map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(data), &line); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, data)
	}
	if line["message"] != "hello" || line["component"] != "test" {
		t.Fatalf("unexpected log line: %v", line)
	}
}

func TestWithEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	log := New()
	entry := log.WithComponent("test").WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestCounters(t *testing.T) {
	before := Counters()
	IncrementSnapshotApplied()
	IncrementDeltaApplied()
	IncrementDeltaApplied()
	IncrementGap()
	IncrementS3Write(128)
	after := Counters()

	if got := after["snapshots_applied"] - before["snapshots_applied"]; got != 1 {
		t.Errorf("snapshots_applied delta = %d", got)
	}
	if got := after["deltas_applied"] - before["deltas_applied"]; got != 2 {
		t.Errorf("deltas_applied delta = %d", got)
	}
	if got := after["sequence_gaps"] - before["sequence_gaps"]; got != 1 {
		t.Errorf("sequence_gaps delta = %d", got)
	}
	if got := after["s3_writes"] - before["s3_writes"]; got != 1 {
		t.Errorf("s3_writes delta = %d", got)
	}
	for k := range after {
		if _, ok := metricNames[k]; !ok {
			t.Errorf("counter %q has no CloudWatch metric name", k)
		}
	}
}

func TestWarnRecordsComponent(t *testing.T) {
	log := New()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.WithComponent("warn_test").Warn("careful")

	if got := componentStats("warn_test").warns; got != 1 {
		t.Fatalf("warns = %d, want 1", got)
	}
}
