package obs

import (
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

var logger atomic.Pointer[slog.Logger]

// Logger returns the shared structured logger used across the service.
func Logger() *slog.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	l := NewLogger(os.Stdout, slog.LevelInfo)
	if logger.CompareAndSwap(nil, l) {
		return l
	}
	return logger.Load()
}

// SetLogger replaces the shared logger and returns the previous one.
func SetLogger(l *slog.Logger) *slog.Logger {
	prev := Logger()
	logger.Store(l)
	return prev
}

// NewLogger builds a JSON logger writing one object per line to w.
func NewLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}
