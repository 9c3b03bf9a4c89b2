package logging

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestLoggerWritesToBuffer(t *testing.T) {
	buffer := NewLogBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelInfo, io.Discard)

	logger.Info("started", map[string]string{"session_id": "1"})

	entries := buffer.List()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != LevelInfo {
		t.Fatalf("expected info level, got %q", entry.Level)
	}
	if entry.Context["session_id"] != "1" {
		t.Fatalf("expected context session_id=1, got %v", entry.Context)
	}
}

func TestLoggerFiltersOutputByLevel(t *testing.T) {
	var output bytes.Buffer
	logger := NewLoggerWithOutput(NewLogBuffer(10), LevelWarning, &output)

	logger.Info("info", nil)
	logger.Warn("warn", nil)

	text := output.String()
	if strings.Contains(text, `msg="info"`) {
		t.Fatalf("expected info to be filtered, got %q", text)
	}
	if !strings.Contains(text, `level=warning msg="warn"`) {
		t.Fatalf("expected warning line, got %q", text)
	}
	if logger.Buffer().Len() != 2 {
		t.Fatalf("expected buffer to keep both entries, got %d", logger.Buffer().Len())
	}
}

func TestLoggerWithCategoryMergesFields(t *testing.T) {
	var output bytes.Buffer
	logger := NewLoggerWithOutput(nil, LevelDebug, &output).WithCategory("watcher")

	logger.Debug("watch added", map[string]string{"path": "/tmp/model.py"})

	text := output.String()
	if !strings.Contains(text, `mcc.category="watcher"`) {
		t.Fatalf("expected category field, got %q", text)
	}
	if !strings.Contains(text, `path="/tmp/model.py"`) {
		t.Fatalf("expected path field, got %q", text)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		" INFO ":  LevelInfo,
		"warn":    LevelWarning,
		"warning": LevelWarning,
		"error":   LevelError,
	}
	for input, expected := range cases {
		level, ok := ParseLevel(input)
		if !ok || level != expected {
			t.Fatalf("parse %q: expected %q, got %q (ok=%v)", input, expected, level, ok)
		}
	}
	if _, ok := ParseLevel("loud"); ok {
		t.Fatalf("expected unknown level to fail")
	}
}

func TestLogBufferCircular(t *testing.T) {
	buffer := NewLogBuffer(2)
	buffer.Add(LogEntry{Message: "first"})
	buffer.Add(LogEntry{Message: "second"})
	buffer.Add(LogEntry{Message: "third"})

	entries := buffer.List()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "second" || entries[1].Message != "third" {
		t.Fatalf("unexpected order: %q, %q", entries[0].Message, entries[1].Message)
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.Info("ignored", nil)
	if logger.With(nil) != nil {
		t.Fatalf("expected nil child logger")
	}
}
