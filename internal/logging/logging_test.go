package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug, " WARN ": slog.LevelWarn, "warning": slog.LevelWarn,
		"error": slog.LevelError, "": slog.LevelInfo, "chatty": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestComponentJSON(t *testing.T) {
	var buf bytes.Buffer
	Configure(Options{Level: "debug", JSON: true, Output: &buf})
	t.Cleanup(func() { Configure(Options{}) })

	Component("nakadi.connection").Debug("state", "state", "streaming")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("not JSON: %q", buf.String())
	}
	if rec["component"] != "nakadi.connection" || rec["state"] != "streaming" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestInitFromEnv(t *testing.T) {
	t.Setenv("SUBFLOW_LOG_LEVEL", "error")
	t.Setenv("SUBFLOW_LOG_JSON", "true")
	InitFromEnv()
	t.Cleanup(func() { Configure(Options{}) })
	ctx := context.Background()
	if L().Enabled(ctx, slog.LevelWarn) || !L().Enabled(ctx, slog.LevelError) {
		t.Fatal("level from SUBFLOW_LOG_LEVEL not applied")
	}
	if _, ok := L().Handler().(*slog.JSONHandler); !ok {
		t.Fatalf("want JSON handler, got %T", L().Handler())
	}
}
