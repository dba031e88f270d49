package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Threshold != DefaultThreshold || cfg.HistoryLimit != DefaultHistoryLimit {
		t.Errorf("Unexpected defaults: threshold %v, history %d", cfg.Threshold, cfg.HistoryLimit)
	}
	if len(cfg.Loops) != 2 {
		t.Fatalf("Expected 2 default loops, got %d", len(cfg.Loops))
	}
	if cfg.Loops[0].Backend != BackendRemote || cfg.Loops[0].Interval != 5*time.Second {
		t.Errorf("Unexpected remote loop %+v", cfg.Loops[0])
	}
	if cfg.Loops[1].Backend != BackendLocal || cfg.Loops[1].Interval != 1500*time.Millisecond {
		t.Errorf("Unexpected local loop %+v", cfg.Loops[1])
	}
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("CONFIDENCE_THRESHOLD", "0.5")
	t.Setenv("CAMERA_NAMES", "10.0.0.5=front, 10.0.0.6=yard,broken")
	t.Setenv("OLLAMA_LABELS", "Plastic, Metal")
	t.Setenv("FRAME_FRESHNESS", "5s")
	t.Setenv("HISTORY_LIMIT", "not a number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Port)
	}
	if cfg.Threshold != 0.5 {
		t.Errorf("Expected threshold 0.5, got %v", cfg.Threshold)
	}
	if len(cfg.CameraNames) != 2 || cfg.CameraNames["10.0.0.6"] != "yard" {
		t.Errorf("Unexpected camera names %v", cfg.CameraNames)
	}
	if len(cfg.OllamaLabels) != 2 || cfg.OllamaLabels[1] != "Metal" {
		t.Errorf("Unexpected labels %v", cfg.OllamaLabels)
	}
	if cfg.FrameFreshness != 5*time.Second {
		t.Errorf("Expected 5s freshness, got %v", cfg.FrameFreshness)
	}
	if cfg.HistoryLimit != DefaultHistoryLimit {
		t.Errorf("Expected invalid value to fall back to default, got %d", cfg.HistoryLimit)
	}
}

func TestLoad_ThresholdBounds(t *testing.T) {
	t.Setenv("CONFIDENCE_THRESHOLD", "0")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Threshold != 0 {
		t.Errorf("Expected threshold 0, got %v", cfg.Threshold)
	}

	for _, bad := range []string{"-0.1", "1", "1.5"} {
		t.Setenv("CONFIDENCE_THRESHOLD", bad)
		if _, err := Load(); err == nil {
			t.Errorf("Expected threshold %s to be rejected", bad)
		}
	}
}

func TestLoadLoops(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loops.yaml")
	content := `
loops:
  - name: kitchen
    source: camera:kitchen
    backend: ollama
    interval: 2s
    timeout: 10s
    autostart: true
  - name: desk
    source: webcam:1
    backend: local
    interval: 1500ms
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("LOOPS_FILE", path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.Loops) != 2 {
		t.Fatalf("Expected 2 loops, got %d", len(cfg.Loops))
	}
	kitchen := cfg.Loops[0]
	if kitchen.Name != "kitchen" || !kitchen.Autostart || kitchen.RequestTimeout() != 10*time.Second {
		t.Errorf("Unexpected kitchen loop %+v", kitchen)
	}
	if cfg.Loops[1].RequestTimeout() != 1500*time.Millisecond {
		t.Errorf("Expected timeout to default to interval, got %v", cfg.Loops[1].RequestTimeout())
	}
}

func TestLoadLoops_Invalid(t *testing.T) {
	tests := map[string]string{
		"duplicate": `
loops:
  - {name: a, source: webcam:0, backend: remote, interval: 1s}
  - {name: a, source: webcam:0, backend: remote, interval: 1s}
`,
		"bad backend": `
loops:
  - {name: a, source: webcam:0, backend: magic, interval: 1s}
`,
		"bad source": `
loops:
  - {name: a, source: usb, backend: remote, interval: 1s}
`,
		"no interval": `
loops:
  - {name: a, source: webcam:0, backend: remote}
`,
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "loops.yaml")
			os.WriteFile(path, []byte(content), 0644)
			if _, err := LoadLoops(path); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestParseSource(t *testing.T) {
	tests := []struct {
		source string
		kind   string
		arg    string
		ok     bool
	}{
		{"webcam:0", "webcam", "0", true},
		{"camera:front", "camera", "front", true},
		{"webcam:rtsp://cam/stream", "webcam", "rtsp://cam/stream", true},
		{"webcam:", "", "", false},
		{"screen:1", "", "", false},
		{"front", "", "", false},
	}

	for _, tt := range tests {
		kind, arg, err := ParseSource(tt.source)
		if (err == nil) != tt.ok {
			t.Errorf("ParseSource(%q): unexpected error state %v", tt.source, err)
			continue
		}
		if kind != tt.kind || arg != tt.arg {
			t.Errorf("ParseSource(%q) = %q, %q", tt.source, kind, arg)
		}
	}
}
