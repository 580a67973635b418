package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/Iron-Ham/rulesched/internal/errors"
)

func decodeLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil
	}
	var out []map[string]any
	for i, line := range strings.Split(text, "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", i, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestNewLogger(t *testing.T) {
	t.Run("creates engine.log in directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested")

		logger, err := NewLogger(dir, LevelDebug)
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		defer logger.Close()

		logPath := filepath.Join(dir, LogFileName)
		if _, err := os.Stat(logPath); os.IsNotExist(err) {
			t.Errorf("log file was not created at %s", logPath)
		}
	})

	t.Run("writes to stderr when dir is empty", func(t *testing.T) {
		logger, err := NewLogger("", LevelInfo)
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		defer logger.Close()

		if logger.file != nil {
			t.Error("expected file to be nil when dir is empty")
		}
	})
}

func TestLogLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, LevelDebug)

	logger.Debug("debug message", "key", "value")
	logger.Info("info message", "key", "value")
	logger.Warn("warn message", "key", "value")
	logger.Error("error message", "key", "value")

	entries := decodeLines(t, buf.Bytes())
	if len(entries) != 4 {
		t.Fatalf("expected 4 log lines, got %d", len(entries))
	}

	expectedLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	for i, entry := range entries {
		if entry["level"] != expectedLevels[i] {
			t.Errorf("line %d: expected level %s, got %v", i, expectedLevels[i], entry["level"])
		}
		if entry["key"] != "value" {
			t.Errorf("line %d: expected key=value, got key=%v", i, entry["key"])
		}
	}
}

func TestLogError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantLevel string
		contract  bool
	}{
		{"canceled", errors.ErrCanceled, "WARN", false},
		{"contract violation", errors.IllegalState("Release", "not held"), "ERROR", true},
		{"detector fault", errors.NewDetectorError("lockWaitStart", errors.ErrDeadlock), "ERROR", false},
		{"invalid input", errors.NewValidationError("bad"), "WARN", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerWithWriter(&buf, LevelDebug)
			logger.LogError("operation failed", tt.err, "key", "value")

			entries := decodeLines(t, buf.Bytes())
			if len(entries) != 1 {
				t.Fatalf("expected 1 log line, got %d", len(entries))
			}
			e := entries[0]
			if e["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", e["level"], tt.wantLevel)
			}
			if e["error"] != tt.err.Error() {
				t.Errorf("error = %v, want %q", e["error"], tt.err.Error())
			}
			if e["key"] != "value" {
				t.Errorf("key = %v, want value", e["key"])
			}
			if _, ok := e["contract_violation"]; ok != tt.contract {
				t.Errorf("contract_violation present = %v, want %v", ok, tt.contract)
			}
		})
	}

	var buf bytes.Buffer
	NewLoggerWithWriter(&buf, LevelDebug).LogError("nothing wrong", nil)
	if entries := decodeLines(t, buf.Bytes()); len(entries) != 1 || entries[0]["level"] != "DEBUG" {
		t.Errorf("LogError(nil) = %s, want one DEBUG line", buf.String())
	}
}

func TestLogLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, LevelWarn)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	if got := len(decodeLines(t, buf.Bytes())); got != 2 {
		t.Fatalf("expected 2 log lines (WARN and ERROR only), got %d: %s", got, buf.String())
	}
	if logger.Enabled(LevelInfo) {
		t.Error("Enabled(INFO) = true at WARN level")
	}
	if !logger.Enabled(LevelError) {
		t.Error("Enabled(ERROR) = false at WARN level")
	}
}

func TestContextPropagation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, LevelInfo)

	child := logger.WithComponent("pool").WithThread("worker-1").WithJob("index")
	child.Info("job started", "priority", "LONG")

	entries := decodeLines(t, buf.Bytes())
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]
	for key, want := range map[string]string{
		"component": "pool",
		"thread":    "worker-1",
		"job":       "index",
		"priority":  "LONG",
	} {
		if entry[key] != want {
			t.Errorf("expected %s=%s, got %v", key, want, entry[key])
		}
	}

	// parent must remain untagged
	buf.Reset()
	logger.Info("plain")
	if _, ok := decodeLines(t, buf.Bytes())[0]["job"]; ok {
		t.Error("parent logger picked up child attributes")
	}
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, LevelInfo)

	if logger.With() != logger {
		t.Error("With() with no args should return the same logger")
	}

	logger.With("foo", "bar", "count", 42, 7, "ignored").Info("test message")

	entry := decodeLines(t, buf.Bytes())[0]
	if entry["foo"] != "bar" {
		t.Errorf("expected foo=bar, got %v", entry["foo"])
	}
	if entry["count"] != float64(42) {
		t.Errorf("expected count=42, got %v", entry["count"])
	}
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()

	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")

	if err := logger.Close(); err != nil {
		t.Errorf("NopLogger.Close() returned error: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"DEBUG", LevelDebug},
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"Warn", LevelWarn},
		{"error", LevelError},
		{"invalid", LevelInfo},
		{"", LevelInfo},
	}

	for _, tc := range tests {
		if got := ParseLevel(tc.input); got != tc.expected {
			t.Errorf("ParseLevel(%q) = %q, expected %q", tc.input, got, tc.expected)
		}
	}
}

func TestValidLevels(t *testing.T) {
	levels := ValidLevels()
	expected := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if len(levels) != len(expected) {
		t.Fatalf("expected %d levels, got %d", len(expected), len(levels))
	}
	for i, level := range levels {
		if level != expected[i] {
			t.Errorf("ValidLevels()[%d] = %q, expected %q", i, level, expected[i])
		}
	}
}

func TestClose(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, LevelInfo)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	child := logger.WithJob("j")
	child.Info("test message")

	if err := logger.Close(); err != nil {
		t.Errorf("Close() returned error: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Second Close() returned error: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if len(content) == 0 {
		t.Error("log file is empty, expected content")
	}
}

func TestConcurrentWrites(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, LevelInfo)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			l := logger.WithThread("worker")
			for j := 0; j < 100; j++ {
				l.Info("concurrent write", "goroutine", n, "iteration", j)
			}
		}(i)
	}
	wg.Wait()
	logger.Close()

	content, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if got := len(decodeLines(t, content)); got != 1000 {
		t.Errorf("expected 1000 log lines, got %d", got)
	}
}
