package logger

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewWritesRotatedFile(t *testing.T) {
	dir := t.TempDir()

	log, err := New(Options{Dir: dir, Level: "debug", Format: "json"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if log.GetLevel() != logrus.DebugLevel {
		t.Errorf("expected debug level, got %s", log.GetLevel())
	}
	if _, ok := log.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("expected JSON formatter, got %T", log.Formatter)
	}

	log.Info("hello")

	data, err := os.ReadFile(filepath.Join(dir, "app.log"))
	if err != nil {
		t.Fatalf("expected app.log to exist: %v", err)
	}
	if len(data) == 0 {
		t.Errorf("expected app.log to contain the entry")
	}
}

func TestNewDefaults(t *testing.T) {
	log, err := New(Options{Level: "nonsense", Format: "text"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if log.GetLevel() != logrus.InfoLevel {
		t.Errorf("expected info level fallback, got %s", log.GetLevel())
	}
	if _, ok := log.Formatter.(*logrus.TextFormatter); !ok {
		t.Errorf("expected text formatter, got %T", log.Formatter)
	}
}

func TestContextEntry(t *testing.T) {
	base := logrus.New()
	base.SetOutput(io.Discard)

	if got := FromContext(context.Background(), base); got.Logger != base {
		t.Errorf("expected fallback logger when context carries none")
	}

	entry := base.WithField("request_id", "abc")
	ctx := NewContext(context.Background(), entry)
	if got := FromContext(ctx, nil); got != entry {
		t.Errorf("expected stored entry, got %v", got.Data)
	}
}

func TestNewCustomOutput(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Options{Level: "info", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := log.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("expected JSON formatter for a non-terminal writer, got %T", log.Formatter)
	}

	log.Info("to buffer")
	if buf.Len() == 0 {
		t.Error("expected entry in custom output")
	}
}
