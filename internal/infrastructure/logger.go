package infrastructure

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"insightpipe/internal/config"
)

var (
	processLogger *slog.Logger
	processOnce   sync.Once

	sinkMu  sync.Mutex
	logSink *os.File
)

type contextKey string

// TraceIDContextKey carries the request or run correlation id.
const TraceIDContextKey contextKey = "trace_id"

// InitializeLogger builds the process logger from cfg and installs it as the
// slog default. Only the first call has any effect.
func InitializeLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var err error
	processOnce.Do(func() {
		processLogger, err = NewLogger(cfg)
		if processLogger != nil {
			slog.SetDefault(processLogger)
		}
	})
	return processLogger, err
}

// GetLogger returns the process logger, or slog.Default before
// InitializeLogger.
func GetLogger() *slog.Logger {
	if processLogger == nil {
		return slog.Default()
	}
	return processLogger
}

// NewLogger builds a JSON logger for cfg without touching process state.
// Console output goes to stderr so command output on stdout stays clean.
func NewLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var w io.Writer = os.Stderr
	switch strings.ToLower(cfg.Output) {
	case "file", "both":
		file, err := openLogSink(cfg.FilePath)
		if err != nil {
			return nil, err
		}
		w = file
		if strings.EqualFold(cfg.Output, "both") {
			w = io.MultiWriter(os.Stderr, file)
		}
	}

	return NewLoggerWithWriter(w, &slog.HandlerOptions{
		AddSource: true,
		Level:     parseLogLevel(cfg.Level),
	}), nil
}

// NewLoggerWithWriter returns a JSON logger on w whose records carry the
// correlation ids found in the context.
func NewLoggerWithWriter(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	return slog.New(&correlationHandler{Handler: slog.NewJSONHandler(w, opts)})
}

// correlationHandler adds trace_id from the context, falling back to the
// OpenTelemetry trace id, plus span_id when a span is recording.
type correlationHandler struct {
	slog.Handler
}

func (h *correlationHandler) Handle(ctx context.Context, r slog.Record) error {
	sc := trace.SpanContextFromContext(ctx)
	switch id := GetTraceID(ctx); {
	case id != "":
		r.AddAttrs(slog.String("trace_id", id))
	case sc.HasTraceID():
		r.AddAttrs(slog.String("trace_id", sc.TraceID().String()))
	}
	if sc.HasSpanID() {
		r.AddAttrs(slog.String("span_id", sc.SpanID().String()))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *correlationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &correlationHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *correlationHandler) WithGroup(name string) slog.Handler {
	return &correlationHandler{Handler: h.Handler.WithGroup(name)}
}

func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn
	}
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// CloseLogFile closes the file sink opened by NewLogger, if any.
func CloseLogFile() error {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	if logSink == nil {
		return nil
	}
	err := logSink.Close()
	logSink = nil
	return err
}

// ResetLoggerForTesting forgets the process logger so InitializeLogger can
// run again.
func ResetLoggerForTesting() {
	_ = CloseLogFile()
	processLogger = nil
	processOnce = sync.Once{}
}

func openLogSink(path string) (*os.File, error) {
	if path == "" {
		return nil, fmt.Errorf("log file path is required for file output")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	sinkMu.Lock()
	if logSink != nil {
		logSink.Close()
	}
	logSink = file
	sinkMu.Unlock()
	return file, nil
}
