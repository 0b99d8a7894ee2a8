package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
telemetry:
  logging:
    level: debug
engine:
  frame_interval: 10ms
  max_frames: 600
video:
  width: 640
script:
  timeout: 30s
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("logging level = %q, want debug", cfg.Telemetry.Logging.Level)
	}
	if cfg.Telemetry.Logging.Format != "console" {
		t.Errorf("logging format = %q, want default console", cfg.Telemetry.Logging.Format)
	}
	if cfg.Engine.FrameInterval != 10*time.Millisecond {
		t.Errorf("frame interval = %v, want 10ms", cfg.Engine.FrameInterval)
	}
	if cfg.Engine.QueueSize != 16 {
		t.Errorf("queue size = %d, want default 16", cfg.Engine.QueueSize)
	}
	if cfg.Engine.MaxFrames != 600 {
		t.Errorf("max frames = %d, want 600", cfg.Engine.MaxFrames)
	}
	if cfg.Video.Width != 640 || cfg.Video.Height != 240 {
		t.Errorf("video = %dx%d, want 640x240", cfg.Video.Width, cfg.Video.Height)
	}
	if cfg.Script.Timeout != 30*time.Second {
		t.Errorf("script timeout = %v, want 30s", cfg.Script.Timeout)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "zero queue",
			yaml:    "engine:\n  queue_size: 0\n",
			wantErr: "Engine.QueueSize",
		},
		{
			name:    "negative interval",
			yaml:    "engine:\n  frame_interval: -1s\n",
			wantErr: "Engine.FrameInterval",
		},
		{
			name:    "oversized width",
			yaml:    "video:\n  width: 70000\n",
			wantErr: "Video.Width",
		},
		{
			name:    "unknown log level",
			yaml:    "telemetry:\n  logging:\n    level: loud\n",
			wantErr: "Telemetry.Logging.Level",
		},
		{
			name:    "bad sampling rate",
			yaml:    "telemetry:\n  tracing:\n    sampling_rate: 2\n",
			wantErr: "Telemetry.Tracing.SamplingRate",
		},
		{
			name:    "malformed yaml",
			yaml:    "engine: [",
			wantErr: "failed to parse config YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Load() error = %v, want read failure", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emusync.yaml")
	writeFile(t, path, "engine:\n  image: demo.z64\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.Image != "demo.z64" {
		t.Errorf("image = %q, want demo.z64", cfg.Engine.Image)
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emusync.yaml")
	writeFile(t, path, "telemetry:\n  logging:\n    level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWatcher(path, zerolog.Nop())
	w.SetReloadDelay(20 * time.Millisecond)

	changes := make(chan *Config, 4)
	if err := w.Watch(ctx, func(cfg *Config) { changes <- cfg }); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer func() { _ = w.Stop() }()

	// An invalid file is skipped.
	writeFile(t, path, "engine:\n  queue_size: 0\n")
	select {
	case cfg := <-changes:
		t.Fatalf("invalid config delivered: %+v", cfg.Engine)
	case <-time.After(200 * time.Millisecond):
	}

	writeFile(t, path, "telemetry:\n  logging:\n    level: debug\n")
	select {
	case cfg := <-changes:
		if cfg.Telemetry.Logging.Level != "debug" {
			t.Errorf("reloaded level = %q, want debug", cfg.Telemetry.Logging.Level)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reload after a valid write")
	}
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "emusync.yaml")
	writeFile(t, path, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWatcher(path, zerolog.Nop())
	w.SetReloadDelay(10 * time.Millisecond)

	changes := make(chan *Config, 1)
	if err := w.Watch(ctx, func(cfg *Config) { changes <- cfg }); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer func() { _ = w.Stop() }()

	writeFile(t, filepath.Join(dir, "other.yaml"), "engine:\n  queue_size: 4\n")
	select {
	case <-changes:
		t.Fatal("reload triggered by an unrelated file")
	case <-time.After(150 * time.Millisecond):
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}
