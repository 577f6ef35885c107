package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup builds the process logger.
//   - level: trace, debug, info, warn, error (anything else falls back to info)
//   - format: "pretty" for console output, anything else for JSON lines
//   - file: optional path of a rotated JSON log written next to stdout
func Setup(level, format, file string) zerolog.Logger {
	var console io.Writer = os.Stdout
	if format == "pretty" {
		console = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	if file == "" {
		return New(console, level)
	}
	return New(zerolog.MultiLevelWriter(console, RotatingFile(file)), level)
}

// New builds a logger writing JSON lines (or whatever out renders) to out.
func New(out io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	return zerolog.New(out).
		With().
		Timestamp().
		Caller().
		Logger()
}

// RotatingFile returns a size-rotated log file: 100 MB per file, 5 backups, 30 days.
func RotatingFile(path string) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}
}

// Component derives a child logger tagged with the component name.
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
