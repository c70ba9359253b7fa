package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/enigma-engine/enigma-go/engine/detector"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
queue:
  max_commands_per_phase: 32
  enable_debug_logging: true
detector:
  mode: hybrid
  confidence_threshold: 0.7
window:
  title: Phase Demo
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging section not applied: %+v", cfg.Logging)
	}
	if cfg.Queue.MaxCommandsPerPhase != 32 || !cfg.Queue.EnableDebugLogging {
		t.Errorf("queue section not applied: %+v", cfg.Queue)
	}
	if cfg.Detector.Mode != detector.ModeHybrid {
		t.Errorf("detector mode = %v, want hybrid", cfg.Detector.Mode)
	}
	if cfg.Detector.ConfidenceThreshold != 0.7 {
		t.Errorf("confidence threshold = %v, want 0.7", cfg.Detector.ConfidenceThreshold)
	}
	if cfg.Window.Title != "Phase Demo" {
		t.Errorf("window title = %q", cfg.Window.Title)
	}
	// Untouched sections keep their defaults.
	if cfg.Window.Width != 1280 || cfg.Window.Height != 720 {
		t.Errorf("window size defaults lost: %+v", cfg.Window)
	}
	if !cfg.Queue.EnablePhaseDetection {
		t.Error("queue phase detection default lost")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadRejectsBadMode(t *testing.T) {
	path := writeConfig(t, "detector:\n  mode: psychic\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown detector mode")
	}
}

func TestLoadRejectsInvalidDetectorConfig(t *testing.T) {
	path := writeConfig(t, "detector:\n  confidence_threshold: 1.5\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for out-of-range confidence threshold")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "queue: [not, a, mapping\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}
