// Package logging constructs charmbracelet loggers for memclaw components.
// Loggers are built once at startup and handed to each component at
// construction time; components derive prefixed sub-loggers with
// WithPrefix. There is no package-level logger.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Log levels
const (
	LevelFatal = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

// Config holds logging configuration
type Config struct {
	Level      int
	TimeFormat string
	ShowCaller bool
	File       string // optional log file, created lazily on first write
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Level:      LevelInfo,
		TimeFormat: "15:04:05",
		ShowCaller: false,
	}
}

// New builds a logger from the config. When cfg.File is set, output is
// mirrored to the file; the file is not created until the first log line is
// written, so commands that never log never touch the filesystem.
func New(cfg *Config) *log.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = "15:04:05"
	}

	var w io.Writer = os.Stderr
	if cfg.File != "" {
		w = io.MultiWriter(os.Stderr, &lazyFile{path: cfg.File})
	}

	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      timeFormat,
		ReportCaller:    cfg.ShowCaller,
	})
	logger.SetLevel(charmLevel(cfg.Level))
	return logger
}

// Discard returns a logger that drops everything. Used by tests and by
// components constructed without an explicit logger.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

// charmLevel maps our numeric levels to charmbracelet levels
func charmLevel(level int) log.Level {
	switch level {
	case LevelTrace, LevelDebug:
		return log.DebugLevel
	case LevelInfo:
		return log.InfoLevel
	case LevelWarn:
		return log.WarnLevel
	default:
		return log.ErrorLevel
	}
}

// ParseLevel converts a config string ("debug", "info", ...) to a level.
func ParseLevel(s string) int {
	switch s {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// lazyFile opens its target on first write. Open failures are remembered so
// a missing directory degrades to stderr-only logging instead of failing
// every write.
type lazyFile struct {
	mu     sync.Mutex
	path   string
	f      *os.File
	failed bool
}

func (l *lazyFile) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failed {
		return len(p), nil
	}
	if l.f == nil {
		if err := os.MkdirAll(filepath.Dir(l.path), 0750); err != nil {
			l.failed = true
			return len(p), nil
		}
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
		if err != nil {
			l.failed = true
			return len(p), nil
		}
		l.f = f
	}
	return l.f.Write(p)
}

// Elapsed logs msg at info level with the elapsed time since start appended
// as a key-value pair.
func Elapsed(logger *log.Logger, start time.Time, msg string, args ...interface{}) {
	args = append(args, "elapsed", time.Since(start).String())
	logger.Info(msg, args...)
}
