package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/justapithecus/pgnstream/types"
)

func TestLogger_RunContextFields(t *testing.T) {
	var buf bytes.Buffer
	parent := "run-000"
	logger := NewLoggerWithWriter(&types.RunMeta{RunID: "run-001", Attempt: 2, ParentRunID: &parent}, &buf)

	logger.With(map[string]any{"archive": "standard/2013-01"}).Warn("non-numeric rating", map[string]any{"white": "?x"})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["run_id"] != "run-001" {
		t.Errorf("run_id = %v, want run-001", entry["run_id"])
	}
	if entry["parent_run_id"] != "run-000" {
		t.Errorf("parent_run_id = %v, want run-000", entry["parent_run_id"])
	}
	if entry["archive"] != "standard/2013-01" {
		t.Errorf("archive = %v", entry["archive"])
	}
	if entry["level"] != "warn" {
		t.Errorf("level = %v, want warn", entry["level"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["white"] != "?x" {
		t.Errorf("fields = %v", entry["fields"])
	}
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	level, err := ParseLevel("warn")
	if err != nil {
		t.Fatalf("ParseLevel failed: %v", err)
	}
	logger := New(&types.RunMeta{RunID: "run-001", Attempt: 1}, &buf, level)

	logger.Info("downloading range", map[string]any{"start": 0})
	logger.Warn("retrying request", nil)

	out := strings.TrimSpace(buf.String())
	if strings.Count(out, "\n") != 0 {
		t.Fatalf("expected one entry, got %q", out)
	}
	if !strings.Contains(out, `"message":"retrying request"`) {
		t.Errorf("warn entry missing: %q", out)
	}
	if strings.Contains(out, `"fields"`) {
		t.Errorf("empty fields should be omitted: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"", "debug", "info", "warn", "error"} {
		if _, err := ParseLevel(s); err != nil {
			t.Errorf("ParseLevel(%q) failed: %v", s, err)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}
