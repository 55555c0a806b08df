package observability

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

type Field interface {
	Key() string
	Value() interface{}
}

type stringField struct{ key, val string }

func (f stringField) Key() string        { return f.key }
func (f stringField) Value() interface{} { return f.val }

type intField struct {
	key string
	val int
}

func (f intField) Key() string        { return f.key }
func (f intField) Value() interface{} { return f.val }

type int64Field struct {
	key string
	val int64
}

func (f int64Field) Key() string        { return f.key }
func (f int64Field) Value() interface{} { return f.val }

type float64Field struct {
	key string
	val float64
}

func (f float64Field) Key() string        { return f.key }
func (f float64Field) Value() interface{} { return f.val }

type durationField struct {
	key string
	val time.Duration
}

func (f durationField) Key() string        { return f.key }
func (f durationField) Value() interface{} { return f.val }

type errorField struct {
	key string
	err error
}

func (f errorField) Key() string        { return f.key }
func (f errorField) Value() interface{} { return f.err }

func String(key, value string) Field                 { return stringField{key, value} }
func Int(key string, value int) Field                { return intField{key, value} }
func Int64(key string, value int64) Field            { return int64Field{key, value} }
func Float64(key string, value float64) Field        { return float64Field{key, value} }
func Duration(key string, value time.Duration) Field { return durationField{key, value} }
func Error(key string, err error) Field              { return errorField{key, err} }

type NopLogger struct{}

func (NopLogger) Debug(string, ...Field) {}
func (NopLogger) Info(string, ...Field)  {}
func (NopLogger) Warn(string, ...Field)  {}
func (NopLogger) Error(string, ...Field) {}
func (NopLogger) With(...Field) Logger   { return NopLogger{} }

// Level orders log severities; messages below a logger's level are dropped.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// TextLogger writes one "level=... msg=... key=value" line per message.
type TextLogger struct {
	mu     *sync.Mutex
	w      io.Writer
	level  Level
	fields []Field
	now    func() time.Time
}

// NewTextLogger returns a logger writing to w that drops messages below level.
func NewTextLogger(w io.Writer, level Level) *TextLogger {
	return &TextLogger{mu: &sync.Mutex{}, w: w, level: level, now: time.Now}
}

func (l *TextLogger) Debug(msg string, fields ...Field) { l.log(LevelDebug, msg, fields) }
func (l *TextLogger) Info(msg string, fields ...Field)  { l.log(LevelInfo, msg, fields) }
func (l *TextLogger) Warn(msg string, fields ...Field)  { l.log(LevelWarn, msg, fields) }
func (l *TextLogger) Error(msg string, fields ...Field) { l.log(LevelError, msg, fields) }

func (l *TextLogger) With(fields ...Field) Logger {
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &TextLogger{mu: l.mu, w: l.w, level: l.level, fields: merged, now: l.now}
}

func (l *TextLogger) log(level Level, msg string, fields []Field) {
	if level < l.level {
		return
	}
	var b strings.Builder
	b.WriteString("time=")
	b.WriteString(l.now().UTC().Format(time.RFC3339))
	b.WriteString(" level=")
	b.WriteString(level.String())
	b.WriteString(" msg=")
	b.WriteString(quoteValue(msg))
	for _, f := range l.fields {
		writeField(&b, f)
	}
	for _, f := range fields {
		writeField(&b, f)
	}
	b.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.w, b.String())
}

func writeField(b *strings.Builder, f Field) {
	b.WriteByte(' ')
	b.WriteString(f.Key())
	b.WriteByte('=')
	switch v := f.Value().(type) {
	case nil:
		b.WriteString("<nil>")
	case error:
		b.WriteString(quoteValue(v.Error()))
	case string:
		b.WriteString(quoteValue(v))
	case float64:
		b.WriteString(fmt.Sprintf("%g", v))
	default:
		b.WriteString(quoteValue(fmt.Sprint(v)))
	}
}

func quoteValue(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

// Tracer provides distributed tracing hooks for library operations.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Span represents a tracing span.
type Span interface {
	SetTag(key string, value interface{})
	SetError(err error)
	Finish()
}

type nopTracer struct{}

func (nopTracer) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, nopSpan{}
}

// NopTracer returns a tracer that does nothing.
func NopTracer() Tracer { return nopTracer{} }

type nopSpan struct{}

func (nopSpan) SetTag(string, interface{}) {}
func (nopSpan) SetError(error)             {}
func (nopSpan) Finish()                    {}

// LogTracer reports every finished span to a logger at debug level, with its
// duration, tags and error.
func LogTracer(logger Logger) Tracer {
	if logger == nil {
		return NopTracer()
	}
	return logTracer{logger: logger, now: time.Now}
}

type logTracer struct {
	logger Logger
	now    func() time.Time
}

func (t logTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, &logSpan{tracer: t, name: name, start: t.now(), tags: map[string]interface{}{}}
}

type logSpan struct {
	tracer   logTracer
	name     string
	start    time.Time
	tags     map[string]interface{}
	err      error
	finished bool
}

func (s *logSpan) SetTag(key string, value interface{}) { s.tags[key] = value }
func (s *logSpan) SetError(err error)                   { s.err = err }

func (s *logSpan) Finish() {
	if s.finished {
		return
	}
	s.finished = true
	fields := []Field{String("span", s.name), Duration("elapsed", s.tracer.now().Sub(s.start))}
	keys := make([]string, 0, len(s.tags))
	for k := range s.tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, tagField(k, s.tags[k]))
	}
	if s.err != nil {
		fields = append(fields, Error("error", s.err))
	}
	s.tracer.logger.Debug("span finished", fields...)
}

func tagField(key string, value interface{}) Field {
	switch v := value.(type) {
	case int:
		return Int(key, v)
	case int64:
		return Int64(key, v)
	case float64:
		return Float64(key, v)
	case time.Duration:
		return Duration(key, v)
	case error:
		return Error(key, v)
	}
	return String(key, fmt.Sprint(value))
}

// Standard metric names emitted by the normalizer.
const (
	MetricExtractTime   = "normalize.extract.duration"
	MetricRenderTime    = "normalize.render.duration"
	MetricSaveTime      = "normalize.save.duration"
	MetricBlockCount    = "normalize.blocks.count"
	MetricSkippedBlocks = "normalize.blocks.skipped"
	MetricPageCount     = "normalize.pages.count"
)
