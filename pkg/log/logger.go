// Package log provides structured logging utilities for the gojds gateway.
// It wraps the standard library's slog package with additional convenience methods.
package log

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with additional context and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
}

// New creates a new logger with the specified configuration
func New(service, version, level, format string) *Logger {
	var handler slog.Handler

	// Parse log level
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	// Create handler based on format
	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	// Create base logger with service context
	baseLogger := slog.New(handler).With(
		"service", service,
		"version", version,
	)

	return &Logger{
		Logger:  baseLogger,
		service: service,
		version: version,
	}
}

// WithContext returns a logger with additional context fields
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger

	if reqID := ctx.Value("request_id"); reqID != nil {
		logger = logger.With("request_id", reqID)
	}

	if traceID := ctx.Value("trace_id"); traceID != nil {
		logger = logger.With("trace_id", traceID)
	}

	return &Logger{
		Logger:  logger,
		service: l.service,
		version: l.version,
	}
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger:  l.With(fields...),
		service: l.service,
		version: l.version,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithDownstream returns a logger with downstream connection fields
func (l *Logger) WithDownstream(id uint64, remoteAddr string) *Logger {
	return l.WithFields("downstream_id", id, "remote_addr", remoteAddr)
}

// WithChannel returns a logger with mining channel fields
func (l *Logger) WithChannel(downstreamID uint64, channelID uint32) *Logger {
	return l.WithFields("downstream_id", downstreamID, "channel_id", channelID)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// Connection logging helpers

// LogConnection logs connection events
func (l *Logger) LogConnection(event, remoteAddr string) {
	l.Info("connection event",
		"event", event,
		"remote_addr", remoteAddr,
	)
}

// LogFrame logs a protocol frame at debug level
func (l *Logger) LogFrame(direction string, msgType byte, size int) {
	l.Debug("protocol frame",
		"direction", direction,
		"msg_type", msgType,
		"size", size,
	)
}

// Mining-specific logging helpers

// LogShareEvent logs a share submission event
func (l *Logger) LogShareEvent(userIdentity string, valid, blockFound bool, work float64) {
	l.Info("share event",
		"user_identity", userIdentity,
		"valid", valid,
		"block_found", blockFound,
		"share_work", work,
	)
}

// LogNewBlock logs chain progress observed from the block watcher
func (l *Logger) LogNewBlock(blockHash string, txCount int) {
	l.Info("new block",
		"block_hash", blockHash,
		"tx_count", txCount,
	)
}

// LogShutdownScope logs an applied shutdown scope
func (l *Logger) LogShutdownScope(scope string, downstreamID uint64) {
	l.Info("shutdown scope applied",
		"scope", scope,
		"downstream_id", downstreamID,
	)
}
