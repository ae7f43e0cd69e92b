package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNew_Defaults(t *testing.T) {
	logger, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if logger.GetLevel() != logrus.InfoLevel {
		t.Errorf("level = %v, want info", logger.GetLevel())
	}
	if _, ok := logger.Formatter.(*logrus.TextFormatter); !ok {
		t.Errorf("formatter = %T, want *logrus.TextFormatter", logger.Formatter)
	}
}

func TestNew_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "bad level", cfg: Config{Level: "loud"}},
		{name: "bad format", cfg: Config{Format: "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestNew_JSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "taskflow.log")
	cfg := DefaultConfig()
	cfg.Format = "json"
	cfg.Level = "debug"
	cfg.File = path

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	ForComponent(logger, "sync").WithField("attempt_id", "a1").Info("attempt finished")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	line := string(data)
	for _, want := range []string{`"component":"sync"`, `"attempt_id":"a1"`, `"message":"attempt finished"`} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %s", line, want)
		}
	}
}

func TestForComponent_NilLogger(t *testing.T) {
	entry := ForComponent(nil, "daemon")
	if entry == nil {
		t.Fatal("ForComponent(nil) returned nil")
	}
	if e, ok := entry.(*logrus.Entry); !ok || e.Data["component"] != "daemon" {
		t.Errorf("ForComponent(nil) = %#v, want entry tagged daemon", entry)
	}
}
