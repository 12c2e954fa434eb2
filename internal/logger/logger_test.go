package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestWriter_NoPath(t *testing.T) {
	if w := (FileConfig{}).Writer(); w != nil {
		t.Fatalf("expected nil writer without path")
	}
}

func TestWriter_Defaults(t *testing.T) {
	w := FileConfig{Path: "x"}.Writer()
	l, ok := w.(*lj.Logger)
	if !ok {
		t.Fatalf("writer is not lumberjack.Logger")
	}
	if l.MaxSize != 10 || l.MaxBackups != 3 || l.MaxAge != 7 {
		t.Fatalf("unexpected defaults: size=%d backups=%d age=%d", l.MaxSize, l.MaxBackups, l.MaxAge)
	}
	_ = w.Close()
}

func TestWriter_Overrides(t *testing.T) {
	w := FileConfig{Path: "x2", MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}.Writer()
	l := w.(*lj.Logger)
	if l.MaxSize != 1 || l.MaxBackups != 9 || l.MaxAge != 11 || !l.Compress {
		t.Fatalf("unexpected overrides: size=%d backups=%d age=%d compress=%t", l.MaxSize, l.MaxBackups, l.MaxAge, l.Compress)
	}
	_ = w.Close()
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reporter.log")
	log, closer, err := New(Config{Level: "debug", Format: "json", File: FileConfig{Path: path}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Debug("schema created", "tables", 9)
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(b), `"msg":"schema created"`) {
		t.Fatalf("log file missing record: %s", b)
	}
}

func TestNew_Errors(t *testing.T) {
	if _, _, err := New(Config{Level: "loud"}); err == nil {
		t.Fatalf("expected error for bad level")
	}
	if _, _, err := New(Config{Format: "xml"}); err == nil {
		t.Fatalf("expected error for bad format")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
}

func TestColorTextHandler_FrameworkLevelNames(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	log := slog.New(h).With("operation", "finished")
	log.Warn("not expected to finish")
	log.Error("could not initialize the database")

	out := buf.String()
	if !strings.Contains(out, "WARNING") || !strings.Contains(out, "SEVERE") {
		t.Fatalf("expected framework level names in output: %s", out)
	}
	if !strings.Contains(out, "operation=finished") {
		t.Fatalf("bound attributes lost: %s", out)
	}
	if err := h.Handle(context.Background(), slog.NewRecord(time.Time{}, slog.LevelInfo, "x", 0)); err != nil {
		t.Fatalf("handle: %v", err)
	}
}
