// Package logging provides structured, leveled line logging.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel accepts debug, info, warn/warning and error in any case.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "", "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// sink is shared by every logger derived from the same root so that
// SetLevel and SetOutput apply to all of them.
type sink struct {
	mu       sync.Mutex
	output   io.Writer
	minLevel Level
}

// Logger writes one line per entry:
// LEVEL TIMESTAMP [component] message key=value ...
type Logger struct {
	sink      *sink
	component string
	traceID   string
}

// New creates a Logger writing INFO and above to stdout.
func New() *Logger {
	return &Logger{sink: &sink{output: os.Stdout, minLevel: LevelInfo}}
}

// Discard returns a logger that writes nothing.
func Discard() *Logger {
	l := New()
	l.SetOutput(io.Discard)
	return l
}

// WithComponent returns a logger tagged with component.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{sink: l.sink, component: component, traceID: l.traceID}
}

// WithTraceID returns a logger that adds trace_id to every entry.
func (l *Logger) WithTraceID(traceID string) *Logger {
	return &Logger{sink: l.sink, component: l.component, traceID: traceID}
}

// WithSpan tags the logger with the trace of the span in ctx, if any.
func (l *Logger) WithSpan(ctx context.Context) *Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return l
	}
	return l.WithTraceID(sc.TraceID().String())
}

// SetLevel sets the minimum level.
func (l *Logger) SetLevel(level Level) {
	l.sink.mu.Lock()
	l.sink.minLevel = level
	l.sink.mu.Unlock()
}

// SetOutput sets the writer.
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	l.sink.output = w
	l.sink.mu.Unlock()
}

func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields renders fields as sorted key=value pairs.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		v := fmt.Sprintf("%v", fields[k])
		if strings.ContainsAny(v, " \t\n\"") {
			v = fmt.Sprintf("%q", v)
		}
		fmt.Fprintf(&b, " %s=%s", k, v)
	}
	return b.String()
}

func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if levelPriority[level] < levelPriority[l.sink.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	merged := make(map[string]interface{})
	if len(fields) > 0 {
		for k, v := range fields[0] {
			merged[k] = v
		}
	}
	if l.traceID != "" {
		merged["trace_id"] = l.traceID
	}
	fieldStr := formatFields(merged)

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}
	l.sink.output.Write([]byte(line))
}

// RunStart logs the start of a run.
func (l *Logger) RunStart(runID, workspace string) {
	l.Info("run_start", map[string]interface{}{
		"run_id":    runID,
		"workspace": workspace,
	})
}

// RunComplete logs the terminal state of a run.
func (l *Logger) RunComplete(runID string, duration time.Duration, status string, tokens int) {
	fields := map[string]interface{}{
		"run_id":   runID,
		"duration": duration.String(),
		"status":   status,
		"tokens":   tokens,
	}
	if status == "completed" {
		l.Info("run_complete", fields)
	} else {
		l.Warn("run_complete", fields)
	}
}

func (l *Logger) StepStart(step, model string) {
	l.Info("step_start", map[string]interface{}{
		"step":  step,
		"model": model,
	})
}

func (l *Logger) StepComplete(step string, duration time.Duration, status string) {
	l.Info("step_complete", map[string]interface{}{
		"step":     step,
		"duration": duration.String(),
		"status":   status,
	})
}

// ModelCall logs one gateway exchange.
func (l *Logger) ModelCall(step, model string, iteration, tokens, toolCalls int, duration time.Duration) {
	l.Debug("model_call", map[string]interface{}{
		"step":       step,
		"model":      model,
		"iteration":  iteration,
		"tokens":     tokens,
		"tool_calls": toolCalls,
		"duration":   duration.String(),
	})
}

// ToolCall logs a function invocation. Arguments are not logged.
func (l *Logger) ToolCall(function string) {
	l.Debug("tool_call", map[string]interface{}{
		"function": function,
	})
}

// ToolResult logs a function outcome.
func (l *Logger) ToolResult(function string, duration time.Duration, errMsg string) {
	fields := map[string]interface{}{
		"function": function,
		"duration": duration.String(),
	}
	if errMsg != "" {
		fields["error"] = errMsg
		l.Warn("tool_error", fields)
	} else {
		l.Debug("tool_result", fields)
	}
}

// IterationLimit logs a step that stopped with tool calls pending.
func (l *Logger) IterationLimit(step string, limit int) {
	l.Warn("iteration_limit", map[string]interface{}{
		"step":  step,
		"limit": limit,
	})
}
