// Package logging wires slog to a colorized console handler and a
// size-rotated log file.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultMaxFileSize is the rotation threshold used when the configured
// size cannot be parsed: 10MB.
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// Options controls handler construction. Zero values fall back to
// sensible defaults.
type Options struct {
	Level       string // "debug", "info", "warn", "error"
	Dir         string // log file directory; empty disables the file handler
	FileName    string // defaults to "webpilot.log"
	MaxFileSize string // human form, e.g. "10MB"
	Backups     int    // rotated files to keep
	NoConsole   bool   // suppress the stderr handler
}

// Setup builds the application logger and installs it as the slog
// default.
func Setup(opts Options) (*slog.Logger, error) {
	level := ParseLevel(opts.Level)

	var handlers []slog.Handler
	if !opts.NoConsole {
		handlers = append(handlers, tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: "15:04:05",
		}))
	}

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, err
		}
		name := opts.FileName
		if name == "" {
			name = "webpilot.log"
		}
		maxMB := int(ParseFileSize(opts.MaxFileSize) / (1024 * 1024))
		if maxMB < 1 {
			maxMB = 1
		}
		var w io.Writer = &lumberjack.Logger{
			Filename:   filepath.Join(opts.Dir, name),
			MaxSize:    maxMB,
			MaxBackups: opts.Backups,
		}
		handlers = append(handlers, slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	}

	log := slog.New(newTeeHandler(handlers...))
	slog.SetDefault(log)
	return log, nil
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// ParseFileSize converts a human-readable size ("10MB", "512KB", "1GB",
// "100B", bare "1048576") to bytes. Unrecognized input returns
// DefaultMaxFileSize. Suffix matching is case-insensitive and tries the
// longest suffix first so "10MB" never parses as "10M" + "B".
func ParseFileSize(s string) int64 {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return DefaultMaxFileSize
	}

	suffixes := []struct {
		unit string
		mult int64
	}{
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
		{"B", 1},
	}
	for _, sf := range suffixes {
		if !strings.HasSuffix(s, sf.unit) {
			continue
		}
		num := strings.TrimSpace(strings.TrimSuffix(s, sf.unit))
		f, err := strconv.ParseFloat(num, 64)
		if err != nil || f <= 0 {
			return DefaultMaxFileSize
		}
		return int64(f * float64(sf.mult))
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return DefaultMaxFileSize
	}
	return n
}
