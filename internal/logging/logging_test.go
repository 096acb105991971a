package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, Config{Level: "debug", Format: "json"})
	l.With(String("agent", "uav-1")).Info(context.Background(), "edge visited",
		Float("t", 12.5),
		Int("count", 3),
		Err(errors.New("boom")),
	)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "edge visited" || rec["agent"] != "uav-1" {
		t.Fatalf("record = %v", rec)
	}
	if rec["t"] != 12.5 || rec["count"] != float64(3) || rec["error"] != "boom" {
		t.Fatalf("fields = %v", rec)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, Config{Level: "warn"})
	l.Info(context.Background(), "hidden")
	l.Warn(context.Background(), "shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestRequestLoggerReusesID(t *testing.T) {
	ctx, id := EnsureRequestID(context.Background())
	if id == "" {
		t.Fatalf("empty request id")
	}
	ctx2, l := WithRequestLogger(ctx, nil)
	if RequestIDFromContext(ctx2) != id {
		t.Fatalf("request id changed")
	}
	if l == nil {
		t.Fatalf("nil logger")
	}
	if LoggerFromContext(ContextWithLogger(ctx2, l)) == nil {
		t.Fatalf("logger not stored on context")
	}
}

func TestWithClockStampsSimTime(t *testing.T) {
	var buf bytes.Buffer
	now := 0.0
	l := WithClock(NewWithWriter(&buf, Config{Format: "json"}), func() float64 { return now })
	l = l.With(String("agent", "uav-1"))

	now = 42.5
	l.Info(context.Background(), "arrived")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec[SimTimeKey] != 42.5 || rec["agent"] != "uav-1" {
		t.Fatalf("record = %v, want sim_t 42.5 and agent", rec)
	}

	if got := WithClock(Noop(), func() float64 { return 1 }); got != Noop() {
		t.Fatalf("WithClock(Noop) = %T, want noop", got)
	}
}
