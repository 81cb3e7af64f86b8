// Package logging builds the slog loggers of the journal binaries.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const defaultPrefix = "journal"

const (
	EnvLogLevel  = "TRADEJOURNAL_LOG_LEVEL"
	EnvLogFormat = "TRADEJOURNAL_LOG_FORMAT"
)

const fileDateLayout = "20060102"

// DailyWriter appends to <prefix>-YYYYMMDD.log in dir, switching files at
// midnight and pruning files older than the retention window.
type DailyWriter struct {
	dir           string
	prefix        string
	retentionDays int
	now           func() time.Time

	mu          sync.Mutex
	currentDate string
	file        *os.File
}

// NewDailyWriter creates a daily rotating writer. Empty prefix and
// non-positive retention fall back to "journal" and 7 days.
func NewDailyWriter(dir, prefix string, retentionDays int) (*DailyWriter, error) {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	w := &DailyWriter{
		dir:           dir,
		prefix:        prefix,
		retentionDays: retentionDays,
		now:           time.Now,
	}
	if err := w.rotateIfNeeded(w.now()); err != nil {
		return nil, err
	}
	return w, nil
}

// Write implements io.Writer.
func (w *DailyWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.rotateIfNeeded(w.now()); err != nil {
		return 0, err
	}
	return w.file.Write(p)
}

// Close closes the current file.
func (w *DailyWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Path returns the file currently written to.
func (w *DailyWriter) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pathFor(w.currentDate)
}

func (w *DailyWriter) pathFor(date string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s.log", w.prefix, date))
}

func (w *DailyWriter) rotateIfNeeded(now time.Time) error {
	date := now.Format(fileDateLayout)
	if date == w.currentDate && w.file != nil {
		return nil
	}
	if w.file != nil {
		_ = w.file.Close()
	}
	file, err := os.OpenFile(w.pathFor(date), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	w.currentDate = date
	w.file = file
	w.prune(now)
	return nil
}

func (w *DailyWriter) prune(now time.Time) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	cutoff := now.AddDate(0, 0, -w.retentionDays)
	prefix := w.prefix + "-"
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".log") {
			continue
		}
		date, err := time.Parse(fileDateLayout, strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".log"))
		if err != nil {
			continue
		}
		if date.Before(cutoff) {
			_ = os.Remove(filepath.Join(w.dir, name))
		}
	}
}

// Options configures NewLogger.
type Options struct {
	// Dir enables the daily file; empty logs to Console only.
	Dir           string
	Level         string
	Format        string
	RetentionDays int
	// Console defaults to os.Stdout.
	Console io.Writer
	Service string
}

// NewLogger builds a logger, installs it as the slog default and returns
// the file writer, which is nil when opts.Dir is empty. The
// TRADEJOURNAL_LOG_LEVEL and TRADEJOURNAL_LOG_FORMAT variables override
// opts.
func NewLogger(opts Options) (*slog.Logger, *DailyWriter, error) {
	console := opts.Console
	if console == nil {
		console = os.Stdout
	}
	out := console
	var writer *DailyWriter
	if opts.Dir != "" {
		var err error
		writer, err = NewDailyWriter(opts.Dir, defaultPrefix, opts.RetentionDays)
		if err != nil {
			return nil, nil, err
		}
		out = io.MultiWriter(console, writer)
	}

	level := ParseLevel(opts.Level, slog.LevelInfo)
	if env := os.Getenv(EnvLogLevel); strings.TrimSpace(env) != "" {
		level = ParseLevel(env, level)
	}
	format := opts.Format
	if env := strings.TrimSpace(os.Getenv(EnvLogFormat)); env != "" {
		format = env
	}

	service := opts.Service
	if service == "" {
		service = defaultPrefix
	}
	logger := slog.New(newHandler(out, level, format)).With("service", service)
	slog.SetDefault(logger)
	return logger, writer, nil
}

// ParseLevel accepts debug, info, warn, error or a numeric slog level.
func ParseLevel(value string, fallback slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return fallback
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	if i, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		return slog.Level(i)
	}
	return fallback
}

func newHandler(w io.Writer, level slog.Level, format string) slog.Handler {
	options := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return slog.NewJSONHandler(w, options)
	}
	return slog.NewTextHandler(w, options)
}
