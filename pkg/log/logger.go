// Package log provides the structured logger used across the goore miner.
// It is a thin layer over log/slog that fixes the service attributes and
// adds scoping helpers for signers, buses and mining cycles.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger wraps slog.Logger with additional context and convenience methods
type Logger struct {
	*slog.Logger
}

type contextKey string

// CycleKey is the context key carrying the mining cycle number
const CycleKey contextKey = "cycle"

// New creates a logger writing to stdout
func New(service, version, level, format string) *Logger {
	return NewWithWriter(os.Stdout, service, version, level, format)
}

// NewWithWriter creates a logger writing to w. format is "text" or "json";
// anything else falls back to json.
func NewWithWriter(w io.Writer, service, version, level, format string) *Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl, AddSource: lvl == slog.LevelDebug}

	var handler slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{slog.New(handler).With("service", service, "version", version)}
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	return &Logger{slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))}
}

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithContext adds the cycle number carried by ctx, if any
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if cycle := ctx.Value(CycleKey); cycle != nil {
		return l.WithFields("cycle", cycle)
	}
	return l
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{l.With(fields...)}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithSigner returns a logger scoped to one mining identity
func (l *Logger) WithSigner(pubkey string) *Logger {
	return l.WithFields("signer", pubkey)
}

// WithBus returns a logger scoped to a reward bus
func (l *Logger) WithBus(busID int) *Logger {
	return l.WithFields("bus", busID)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// LogSolution logs a hash that satisfies the difficulty target along with
// the search rate that found it.
func (l *Logger) LogSolution(hash string, nonce, attempts uint64, elapsed time.Duration) {
	var rate float64
	if elapsed > 0 {
		rate = float64(attempts) / elapsed.Seconds()
	}
	l.Info("solution found",
		"hash", hash,
		"nonce", nonce,
		"attempts", attempts,
		"elapsed_ms", elapsed.Milliseconds(),
		"hashes_per_sec", rate,
	)
}

// LogSubmission logs the outcome of a transaction delivery
func (l *Logger) LogSubmission(kind, strategy, signature, status string) {
	l.Info("submission",
		"kind", kind,
		"strategy", strategy,
		"signature", signature,
		"status", status,
	)
}
