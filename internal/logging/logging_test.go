package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDailyWriterWriteAndDefaults(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewDailyWriter(dir, "", 0)
	if err != nil {
		t.Fatalf("NewDailyWriter: %v", err)
	}
	defer writer.Close()

	if _, err := writer.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	date := time.Now().Format(fileDateLayout)
	path := filepath.Join(dir, defaultPrefix+"-"+date+".log")
	if writer.Path() != path {
		t.Fatalf("expected path %q, got %q", path, writer.Path())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Fatalf("log content missing")
	}
}

func TestDailyWriterRotatesAtMidnight(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewDailyWriter(dir, "test", 30)
	if err != nil {
		t.Fatalf("NewDailyWriter: %v", err)
	}
	defer writer.Close()

	tomorrow := time.Now().AddDate(0, 0, 1)
	writer.now = func() time.Time { return tomorrow }
	if _, err := writer.Write([]byte("next day")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	path := filepath.Join(dir, "test-"+tomorrow.Format(fileDateLayout)+".log")
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "next day" {
		t.Fatalf("expected rotated file with content, got %q (%v)", data, err)
	}
}

func TestDailyWriterPrunesOldFiles(t *testing.T) {
	dir := t.TempDir()
	prefix := "test"

	oldPath := filepath.Join(dir, prefix+"-"+time.Now().AddDate(0, 0, -3).Format(fileDateLayout)+".log")
	recentPath := filepath.Join(dir, prefix+"-"+time.Now().Format(fileDateLayout)+".log")
	otherPath := filepath.Join(dir, "other-20000101.log")
	for _, p := range []string{oldPath, recentPath, otherPath} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}

	writer, err := NewDailyWriter(dir, prefix, 1)
	if err != nil {
		t.Fatalf("NewDailyWriter: %v", err)
	}
	defer writer.Close()

	if _, err := os.Stat(oldPath); err == nil {
		t.Fatalf("expected old log to be removed")
	}
	if _, err := os.Stat(recentPath); err != nil {
		t.Fatalf("expected recent log to remain: %v", err)
	}
	if _, err := os.Stat(otherPath); err != nil {
		t.Fatalf("expected foreign log to remain: %v", err)
	}
}

func TestDailyWriterCloseNil(t *testing.T) {
	w := &DailyWriter{}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNewLoggerWritesConsoleAndFile(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	t.Setenv(EnvLogFormat, "")
	old := slog.Default()
	t.Cleanup(func() { slog.SetDefault(old) })

	var console bytes.Buffer
	logger, writer, err := NewLogger(Options{Dir: t.TempDir(), Level: "debug", Console: &console})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer writer.Close()

	logger.Debug("synced", "trades", 3)
	if !strings.Contains(console.String(), "msg=synced") || !strings.Contains(console.String(), "service=journal") {
		t.Fatalf("unexpected console output %q", console.String())
	}
	data, err := os.ReadFile(writer.Path())
	if err != nil || !strings.Contains(string(data), "trades=3") {
		t.Fatalf("expected file output, got %q (%v)", data, err)
	}
}

func TestNewLoggerEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvLogFormat, "json")
	old := slog.Default()
	t.Cleanup(func() { slog.SetDefault(old) })

	var console bytes.Buffer
	logger, writer, err := NewLogger(Options{Level: "debug", Console: &console, Service: "journal-cli"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if writer != nil {
		t.Fatalf("expected no file writer without a dir")
	}

	logger.Info("hidden")
	logger.Warn("shown")
	lines := strings.Split(strings.TrimSpace(console.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", console.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("expected JSON output: %v", err)
	}
	if entry["msg"] != "shown" || entry["service"] != "journal-cli" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{in: "", want: slog.LevelInfo},
		{in: "DEBUG", want: slog.LevelDebug},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "-2", want: slog.Level(-2)},
		{in: "loud", want: slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in, slog.LevelInfo); got != tt.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
