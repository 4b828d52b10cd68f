// Package logging provides the structured logger used across every
// orchestrator and adapter. It mirrors the teacher framework's layered
// core.Logger / core.ProductionLogger design: a small context-aware
// interface, a JSON or human-readable writer selected by configuration,
// and a no-op implementation for tests that don't care about log output.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Logger is the structured logging interface used throughout the module.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugContext(ctx context.Context, msg string, fields map[string]interface{})

	// With returns a Logger that merges component into every subsequent
	// log entry's fields, the same way ComponentAwareLogger scopes a
	// sub-logger in the teacher framework.
	With(component string) Logger
}

type contextKey string

const requestIDKey contextKey = "request_id"

// WithRequestID returns a context carrying requestID for correlation in
// log output, mirroring the teacher's baggage-propagation pattern.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// jsonLogger writes one JSON object (or, with Format "text", one text line)
// per entry to Output, dropping Info/Warn/Error entries below Level; Debug
// entries are written only when Level is "debug" or Options.Debug is set.
type jsonLogger struct {
	level     string
	debug     bool
	format    string
	component string
	service   string
	output    io.Writer
}

// Options configures a new Logger.
type Options struct {
	Level       string // "debug", "info", "warn", "error"
	Format      string // "json" or "text"
	Output      string // "stdout" or "stderr"
	ServiceName string
	Debug       bool
}

// New builds a Logger from Options.
func New(opts Options) Logger {
	out := io.Writer(os.Stdout)
	if opts.Output == "stderr" {
		out = os.Stderr
	}
	level := strings.ToLower(opts.Level)
	if level == "" {
		level = "info"
	}
	return &jsonLogger{
		level:   level,
		debug:   opts.Debug || level == "debug",
		format:  opts.Format,
		service: opts.ServiceName,
		output:  out,
	}
}

func (l *jsonLogger) With(component string) Logger {
	clone := *l
	clone.component = component
	return &clone
}

func (l *jsonLogger) Info(msg string, fields map[string]interface{}) {
	l.log(nil, "INFO", msg, fields)
}
func (l *jsonLogger) Warn(msg string, fields map[string]interface{}) {
	l.log(nil, "WARN", msg, fields)
}
func (l *jsonLogger) Error(msg string, fields map[string]interface{}) {
	l.log(nil, "ERROR", msg, fields)
}
func (l *jsonLogger) Debug(msg string, fields map[string]interface{}) {
	if l.debug {
		l.log(nil, "DEBUG", msg, fields)
	}
}

func (l *jsonLogger) InfoContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(ctx, "INFO", msg, fields)
}
func (l *jsonLogger) WarnContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(ctx, "WARN", msg, fields)
}
func (l *jsonLogger) ErrorContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(ctx, "ERROR", msg, fields)
}
func (l *jsonLogger) DebugContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if l.debug {
		l.log(ctx, "DEBUG", msg, fields)
	}
}

func (l *jsonLogger) log(ctx context.Context, level, msg string, fields map[string]interface{}) {
	rank := func(s string) int {
		switch strings.ToLower(s) {
		case "info":
			return 1
		case "warn":
			return 2
		case "error":
			return 3
		}
		return 0
	}
	if level != "DEBUG" && rank(level) < rank(l.level) {
		return
	}
	entry := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"level":     level,
		"service":   l.service,
		"message":   msg,
	}
	if l.component != "" {
		entry["component"] = l.component
	}
	if rid := requestIDFrom(ctx); rid != "" {
		entry["request_id"] = rid
	}
	for k, v := range fields {
		entry[k] = v
	}

	if l.format == "text" {
		fmt.Fprintf(l.output, "%s [%s] %s %v\n", entry["timestamp"], level, msg, fields)
		return
	}
	if data, err := json.Marshal(entry); err == nil {
		fmt.Fprintln(l.output, string(data))
	}
}

// NoOp is a Logger that discards every entry, used as the zero-value
// default so callers never need a nil check.
type NoOp struct{}

func (NoOp) Info(string, map[string]interface{})                            {}
func (NoOp) Warn(string, map[string]interface{})                            {}
func (NoOp) Error(string, map[string]interface{})                           {}
func (NoOp) Debug(string, map[string]interface{})                           {}
func (NoOp) InfoContext(context.Context, string, map[string]interface{})    {}
func (NoOp) WarnContext(context.Context, string, map[string]interface{})    {}
func (NoOp) ErrorContext(context.Context, string, map[string]interface{})   {}
func (NoOp) DebugContext(context.Context, string, map[string]interface{})   {}
func (NoOp) With(string) Logger                                             { return NoOp{} }
