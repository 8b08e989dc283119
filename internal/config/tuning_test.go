package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/motion-play/hoopsense/internal/detection"
	"github.com/motion-play/hoopsense/internal/mldetect"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestEmptyTuningConfigDefaults(t *testing.T) {
	cfg := EmptyTuningConfig()

	if got := cfg.DetectorConfig(); got != detection.DefaultDetectorConfig() {
		t.Errorf("DetectorConfig() = %+v, want defaults", got)
	}
	if diff := cmp.Diff(mldetect.DefaultConfig(), cfg.MLConfig()); diff != "" {
		t.Errorf("MLConfig() mismatch (-want +got):\n%s", diff)
	}
	if cfg.GetBackend() != BackendHeuristic {
		t.Errorf("GetBackend() = %q, want %q", cfg.GetBackend(), BackendHeuristic)
	}
	if cfg.GetSerialBaud() != 115200 {
		t.Errorf("GetSerialBaud() = %d, want 115200", cfg.GetSerialBaud())
	}
	if cfg.GetModelPath() != "" || cfg.GetDBPath() != "" || cfg.GetSerialPort() != "" {
		t.Error("expected empty paths by default")
	}
}

func TestDefaultTuningConfigMatchesGetters(t *testing.T) {
	cfg := DefaultTuningConfig()
	if cfg.Backend == nil || *cfg.Backend != BackendHeuristic {
		t.Errorf("Expected Backend heuristic, got %v", cfg.Backend)
	}
	if cfg.MLCooldown == nil || *cfg.MLCooldown != "500ms" {
		t.Errorf("Expected MLCooldown '500ms', got %v", cfg.MLCooldown)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if diff := cmp.Diff(EmptyTuningConfig().MLConfig(), cfg.MLConfig()); diff != "" {
		t.Errorf("populated defaults differ from getter defaults (-empty +populated):\n%s", diff)
	}
}

func TestLoadTuningConfig_JSON(t *testing.T) {
	path := writeFile(t, "tuning.json", `{
  "backend": "ml",
  "baseline_readings": 60,
  "min_rise": 25,
  "ml_confidence_floor": 0.7,
  "ml_cooldown": "750ms",
  "model_path": "models/direction.tml"
}`)

	cfg, err := LoadTuningConfig(path)
	if err != nil {
		t.Fatalf("LoadTuningConfig failed: %v", err)
	}
	if cfg.GetBackend() != BackendML {
		t.Errorf("GetBackend() = %q, want ml", cfg.GetBackend())
	}
	det := cfg.DetectorConfig()
	if det.BaselineReadings != 60 || det.MinRise != 25 {
		t.Errorf("DetectorConfig() = %+v", det)
	}
	// Unset fields keep defaults.
	if det.MaxPeakGapMs != 150 {
		t.Errorf("MaxPeakGapMs = %d, want 150", det.MaxPeakGapMs)
	}
	ml := cfg.MLConfig()
	if ml.ConfidenceFloor != float32(0.7) || ml.CooldownMs != 750 || ml.MinRise != 25 {
		t.Errorf("MLConfig() = %+v", ml)
	}
	if cfg.GetModelPath() != "models/direction.tml" {
		t.Errorf("GetModelPath() = %q", cfg.GetModelPath())
	}
}

func TestLoadTuningConfig_YAML(t *testing.T) {
	for _, ext := range []string{".yaml", ".yml"} {
		t.Run(ext, func(t *testing.T) {
			path := writeFile(t, "tuning"+ext, `
backend: heuristic
peak_multiplier: 2.0
smoothing_window: 5
ml_post_trigger_delay: 200ms
serial_port: /dev/ttyUSB0
`)
			cfg, err := LoadTuningConfig(path)
			if err != nil {
				t.Fatalf("LoadTuningConfig failed: %v", err)
			}
			if cfg.GetPeakMultiplier() != 2.0 || cfg.GetSmoothingWindow() != 5 {
				t.Errorf("got multiplier %v window %d", cfg.GetPeakMultiplier(), cfg.GetSmoothingWindow())
			}
			if cfg.GetMLPostTriggerDelay() != 200*time.Millisecond {
				t.Errorf("GetMLPostTriggerDelay() = %v", cfg.GetMLPostTriggerDelay())
			}
			if cfg.GetSerialPort() != "/dev/ttyUSB0" {
				t.Errorf("GetSerialPort() = %q", cfg.GetSerialPort())
			}
		})
	}
}

func TestLoadTuningConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"bad extension", "tuning.txt", `{}`, "extension"},
		{"bad json", "tuning.json", `{"min_rise": }`, "parse config JSON"},
		{"bad yaml", "tuning.yaml", "min_rise: [1,", "parse config YAML"},
		{"bad backend", "tuning.json", `{"backend": "quantum"}`, "backend must be"},
		{"bad duration", "tuning.json", `{"ml_cooldown": "soon"}`, "invalid ml_cooldown"},
		{"negative rise", "tuning.json", `{"min_rise": -1}`, "min_rise"},
		{"smoothing too wide", "tuning.json", `{"smoothing_window": 11}`, "smoothing_window"},
		{"floor above one", "tuning.json", `{"ml_confidence_floor": 1.5}`, "confidence_floor"},
		{"bad baud", "tuning.json", `{"serial_baud": 0}`, "serial_baud"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.file, tt.content)
			_, err := LoadTuningConfig(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadTuningConfig_MissingAndOversized(t *testing.T) {
	if _, err := LoadTuningConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	big := `{"backend": "heuristic", "pad": "` + strings.Repeat("x", 1024*1024) + `"}`
	path := writeFile(t, "big.json", big)
	_, err := LoadTuningConfig(path)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if diff := cmp.Diff(DefaultTuningConfig(), cfg); diff != "" {
		t.Errorf("defaults file differs from built-in defaults (-builtin +file):\n%s", diff)
	}
}
