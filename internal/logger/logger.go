package logger

import (
	"io"
	"log/slog"
	"os"
)

// ProgramLevel is the process-wide log level
var ProgramLevel = new(slog.LevelVar)

// Setup installs a JSON slog handler on stdout as the default logger
func Setup(level slog.Level) {
	SetupWriter(os.Stdout, level)
}

// SetupWriter installs a JSON slog handler writing to w
func SetupWriter(w io.Writer, level slog.Level) {
	ProgramLevel.Set(level)

	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     ProgramLevel,
		AddSource: false,
	}))
	slog.SetDefault(logger)
}

// LevelFor maps the --verbose and --debug flags onto a level, falling back to base
func LevelFor(verbose, debug bool, base slog.Level) slog.Level {
	switch {
	case debug:
		return slog.LevelDebug
	case verbose:
		return slog.LevelInfo
	default:
		return base
	}
}
