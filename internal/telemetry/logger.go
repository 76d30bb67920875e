package telemetry

import (
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

var libraryLogger atomic.Pointer[slog.Logger]

func init() {
	libraryLogger.Store(slog.New(newConsoleHandler()))
}

// newConsoleHandler returns a tinted console handler.
// Colors are disabled when stderr is not a terminal.
func newConsoleHandler() slog.Handler {
	out := os.Stderr

	return tint.NewHandler(colorable.NewColorable(out), &tint.Options{
		TimeFormat: time.StampMilli,
		NoColor:    !isatty.IsTerminal(out.Fd()) && !isatty.IsCygwinTerminal(out.Fd()),
	})
}

// SetLogger replaces the logger used by every telemetry handle.
func SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}

	libraryLogger.Store(logger)
}

func getLogger() *slog.Logger {
	return libraryLogger.Load()
}
