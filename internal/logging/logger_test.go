package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestStdLogger_WritesJSONAboveLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStdLogger(&buf, LevelInfo)

	logger.Debug("hidden", nil)
	logger.Warn("step failed", map[string]interface{}{"step_id": "lookup", "error": errors.New("boom")})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if entry["level"] != "warn" || entry["msg"] != "step failed" {
		t.Errorf("unexpected entry: %v", entry)
	}
	if entry["error"] != "boom" {
		t.Errorf("expected error to be rendered as string, got %v", entry["error"])
	}
}

func TestStdLogger_DoesNotMutateFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStdLogger(&buf, LevelDebug)
	fields := map[string]interface{}{"k": "v"}
	logger.Info("x", fields)
	if len(fields) != 1 {
		t.Errorf("fields were mutated: %v", fields)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"debug": LevelDebug, "WARN": LevelWarn, "error": LevelError, "": LevelInfo, "bogus": LevelInfo}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
