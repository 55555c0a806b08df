package observability

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNopTracer(t *testing.T) {
	tracer := NopTracer()
	ctx := context.Background()
	ctx2, span := tracer.StartSpan(ctx, "test")
	if ctx2 != ctx {
		t.Fatalf("nop tracer should return same context")
	}
	span.SetTag("key", "value")
	span.SetError(nil)
	span.Finish()
}

func fixedClock() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

func TestTextLoggerFormatsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTextLogger(&buf, LevelDebug)
	logger.now = fixedClock

	logger.With(String("doc", "input.pdf")).Info("extracted blocks", Int("count", 3), Error("err", errors.New("bad thing")))

	got := buf.String()
	want := "time=2024-01-02T03:04:05Z level=INFO msg=\"extracted blocks\" doc=input.pdf count=3 err=\"bad thing\"\n"
	if got != want {
		t.Fatalf("unexpected line:\n got %q\nwant %q", got, want)
	}
}

func TestTextLoggerDropsBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTextLogger(&buf, LevelWarn)
	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "level=WARN") || !strings.Contains(lines[1], "level=ERROR") {
		t.Fatalf("unexpected levels: %q", lines)
	}
}

func TestWithDoesNotLeakFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewTextLogger(&buf, LevelInfo)
	_ = base.With(Int("page", 1))
	base.Info("plain")
	if strings.Contains(buf.String(), "page=") {
		t.Fatalf("child fields leaked into parent: %q", buf.String())
	}
}

func TestLogTracerReportsSpan(t *testing.T) {
	var buf bytes.Buffer
	tracer := LogTracer(NewTextLogger(&buf, LevelDebug))
	_, span := tracer.StartSpan(context.Background(), "normalize.render")
	span.SetTag("pages", 2)
	span.SetError(errors.New("boom"))
	span.Finish()
	span.Finish()

	out := buf.String()
	if strings.Count(out, "\n") != 1 {
		t.Fatalf("span should be reported once, got %q", out)
	}
	for _, want := range []string{"span=normalize.render", "pages=2", "error=boom", "elapsed="} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %q", want, out)
		}
	}
}

func TestLogTracerKeepsTagTypes(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTextLogger(&buf, LevelDebug)
	logger.now = fixedClock
	tracer := LogTracer(logger).(logTracer)
	tracer.now = fixedClock
	_, span := tracer.StartSpan(context.Background(), "normalize.render")
	span.SetTag(MetricSaveTime, 1500*time.Millisecond)
	span.SetTag("scale", 0.25)
	span.SetTag(MetricPageCount, int64(3))
	span.Finish()

	want := "time=2024-01-02T03:04:05Z level=DEBUG msg=\"span finished\" span=normalize.render elapsed=0s " +
		MetricPageCount + "=3 " + MetricSaveTime + "=1.5s scale=0.25\n"
	if got := buf.String(); got != want {
		t.Fatalf("unexpected line:\n got %q\nwant %q", got, want)
	}
}
