package observe

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Logger is a minimal structured logging interface.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Logging is best-effort and never panics.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)

	// With returns a logger that adds fields to every entry.
	With(fields ...Field) Logger
}

// Field is one structured log attribute.
type Field struct {
	Key   string
	Value any
}

// F builds a Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Level orders log severities.
type Level int8

const (
	LevelDebug Level = iota - 1
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[string]Level{
	"debug": LevelDebug,
	"info":  LevelInfo,
	"warn":  LevelWarn,
	"error": LevelError,
}

// ParseLevel maps a level name to a Level. The empty name is info.
func ParseLevel(name string) (Level, bool) {
	if name == "" {
		return LevelInfo, true
	}
	l, ok := levelNames[name]
	return l, ok
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// redactedKeys are logged without their value. Cached payloads and
// backend credentials must never reach the log stream.
var redactedKeys = map[string]struct{}{
	"data":       {},
	"payload":    {},
	"password":   {},
	"secret":     {},
	"token":      {},
	"apikey":     {},
	"api_key":    {},
	"dsn":        {},
	"credential": {},
}

type sink struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *sink) write(line []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.w.Write(line)
}

// jsonLogger writes one JSON object per line. Entries logged with a
// context carrying a span get its trace and span IDs.
type jsonLogger struct {
	min    Level
	out    *sink
	fields []Field
	now    func() time.Time
}

// NewLogger writes JSON lines to stderr.
func NewLogger(level string) Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter writes JSON lines to w. Unknown levels log at info.
func NewLoggerWithWriter(level string, w io.Writer) Logger {
	threshold, ok := ParseLevel(level)
	if !ok {
		threshold = LevelInfo
	}
	return &jsonLogger{min: threshold, out: &sink{w: w}, now: time.Now}
}

// With returns a child sharing the parent's writer.
func (l *jsonLogger) With(fields ...Field) Logger {
	child := *l
	child.fields = append(slices.Clip(l.fields), fields...)
	return &child
}

func (l *jsonLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelDebug, msg, fields)
}

func (l *jsonLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelInfo, msg, fields)
}

func (l *jsonLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelWarn, msg, fields)
}

func (l *jsonLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelError, msg, fields)
}

func (l *jsonLogger) log(ctx context.Context, level Level, msg string, fields []Field) {
	if level < l.min {
		return
	}

	entry := make(map[string]any, len(l.fields)+len(fields)+5)
	for _, f := range l.fields {
		entry[f.Key] = render(f)
	}
	for _, f := range fields {
		entry[f.Key] = render(f)
	}
	if ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			entry["trace_id"] = sc.TraceID().String()
			entry["span_id"] = sc.SpanID().String()
		}
	}
	entry["time"] = l.now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level.String()
	entry["msg"] = msg

	line, err := json.Marshal(entry)
	if err != nil {
		line, _ = json.Marshal(map[string]string{
			"time":  entry["time"].(string),
			"level": level.String(),
			"msg":   msg,
			"error": "unencodable fields: " + err.Error(),
		})
	}
	l.out.write(append(line, '\n'))
}

func render(f Field) any {
	if _, ok := redactedKeys[f.Key]; ok {
		return "[REDACTED]"
	}
	if err, ok := f.Value.(error); ok && err != nil {
		return err.Error()
	}
	return f.Value
}

// NopLogger returns a logger that discards everything.
func NopLogger() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...Field) {}
func (nopLogger) Info(context.Context, string, ...Field)  {}
func (nopLogger) Warn(context.Context, string, ...Field)  {}
func (nopLogger) Error(context.Context, string, ...Field) {}
func (n nopLogger) With(...Field) Logger                  { return n }

var _ Logger = (*jsonLogger)(nil)
