package util

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerTagsService(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "pipeline", "warn")

	logger.Info("sweep_tick")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %s", buf.String())
	}
	logger.Warn("callback_unknown_job", "job_id", "job-7")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if line["service"] != "pipeline" || line["msg"] != "callback_unknown_job" || line["job_id"] != "job-7" {
		t.Fatalf("unexpected line: %v", line)
	}
	if _, ok := line["source"]; !ok {
		t.Fatalf("expected source location in %v", line)
	}
}
