package internal

import (
	"io"
	"os"

	"github.com/decred/slog"
)

// Logging hands out subsystem loggers sharing one backend and level.
type Logging struct {
	backend *slog.Backend
	level   slog.Level
}

// NewLogging writes to w (stderr when nil) at the named level, defaulting to
// info for unknown names.
func NewLogging(w io.Writer, level string) *Logging {
	if w == nil {
		w = os.Stderr
	}
	lvl, ok := slog.LevelFromString(level)
	if !ok {
		lvl = slog.LevelInfo
	}
	return &Logging{backend: slog.NewBackend(w), level: lvl}
}

func (l *Logging) Logger(subsystem string) slog.Logger {
	log := l.backend.Logger(subsystem)
	log.SetLevel(l.level)
	return log
}
