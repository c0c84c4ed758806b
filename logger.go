package comfytile

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler discards every record. Enabled reports false so callers skip
// formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// loggerPtr holds the active logger. A nil pointer means slog.Default().
var loggerPtr atomic.Pointer[slog.Logger]

// SetLogger configures the logger used by comfytile and its sub-packages.
// By default the process-wide slog.Default() logger is used, so grid
// reductions and tile progress show up wherever the host application
// already sends its logs.
//
// Pass nil to restore the default. Use DiscardLogger to silence output.
//
// Log levels used:
//   - [slog.LevelDebug]: per-tile geometry and timings
//   - [slog.LevelInfo]: plan summaries, upscale factors
//   - [slog.LevelWarn]: tile count reduced to honor the minimum tile size
func SetLogger(l *slog.Logger) {
	loggerPtr.Store(l)
}

// Logger returns the current logger. Safe for concurrent use.
func Logger() *slog.Logger {
	if l := loggerPtr.Load(); l != nil {
		return l
	}
	return slog.Default()
}

// DiscardLogger returns a logger that drops all records.
func DiscardLogger() *slog.Logger { return slog.New(nopHandler{}) }
