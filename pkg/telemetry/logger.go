package telemetry

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger carries the configured zerolog logger for one endstate process.
type Logger struct {
	zlog zerolog.Logger
}

// NewLogger opens the configured output and builds a logger on it. Output is
// "stderr" (default), "stdout" or a file path opened for append.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	var w io.Writer
	switch cfg.Output {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w = f
	}
	return newLogger(cfg, w), nil
}

func newLogger(cfg LoggingConfig, w io.Writer) *Logger {
	if cfg.Format == "console" {
		cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
		if cfg.TimeFormat == "unix" {
			cw.TimeFormat = "unix"
		}
		w = cw
	}

	switch cfg.TimeFormat {
	case "unix":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	case "unixms":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	default:
		zerolog.TimeFieldFormat = time.RFC3339
	}

	ctx := zerolog.New(w).With().Timestamp()
	if cfg.EnableCaller {
		ctx = ctx.Caller()
	}

	return &Logger{zlog: ctx.Logger().Level(ParseLevel(cfg.Level))}
}

// Zerolog returns the underlying logger. Engine and state packages take a
// zerolog.Logger directly.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// Component returns a child logger tagged with component.
func (l *Logger) Component(name string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", name).Logger()}
}

// ForCommand returns the logger for one CLI command invocation.
func (l *Logger) ForCommand(command string) zerolog.Logger {
	return l.zlog.With().Str("command", command).Logger()
}

// ParseLevel converts a level name to a zerolog level. Empty or unknown
// names map to info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
