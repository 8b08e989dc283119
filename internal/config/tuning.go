package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/motion-play/hoopsense/internal/detection"
	"github.com/motion-play/hoopsense/internal/mldetect"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// Backend names accepted by the backend field.
const (
	BackendHeuristic = "heuristic"
	BackendML        = "ml"
)

// TuningConfig is the root configuration of the daemon and tools. Every
// field is optional; the Get* methods supply defaults for omitted ones.
type TuningConfig struct {
	Backend *string `json:"backend,omitempty" yaml:"backend,omitempty"`

	// Heuristic detector
	BaselineReadings  *int     `json:"baseline_readings,omitempty" yaml:"baseline_readings,omitempty"`
	PeakMultiplier    *float64 `json:"peak_multiplier,omitempty" yaml:"peak_multiplier,omitempty"`
	MinRise           *float64 `json:"min_rise,omitempty" yaml:"min_rise,omitempty"`
	SmoothingWindow   *int     `json:"smoothing_window,omitempty" yaml:"smoothing_window,omitempty"`
	MinWaveDurationMs *int64   `json:"min_wave_duration_ms,omitempty" yaml:"min_wave_duration_ms,omitempty"`
	MaxWaveDurationMs *int64   `json:"max_wave_duration_ms,omitempty" yaml:"max_wave_duration_ms,omitempty"`
	MaxPeakGapMs      *int64   `json:"max_peak_gap_ms,omitempty" yaml:"max_peak_gap_ms,omitempty"`
	WaveExitThreshold *float64 `json:"wave_exit_threshold,omitempty" yaml:"wave_exit_threshold,omitempty"`

	// ML detector
	ModelPath          *string  `json:"model_path,omitempty" yaml:"model_path,omitempty"`
	MLWindowMs         *int     `json:"ml_window_ms,omitempty" yaml:"ml_window_ms,omitempty"`
	MLNormalizationMax *float64 `json:"ml_normalization_max,omitempty" yaml:"ml_normalization_max,omitempty"`
	MLConfidenceFloor  *float64 `json:"ml_confidence_floor,omitempty" yaml:"ml_confidence_floor,omitempty"`
	MLArenaSize        *int     `json:"ml_arena_size,omitempty" yaml:"ml_arena_size,omitempty"`
	MLBaselineReadings *int     `json:"ml_baseline_readings,omitempty" yaml:"ml_baseline_readings,omitempty"`
	MLCooldown         *string  `json:"ml_cooldown,omitempty" yaml:"ml_cooldown,omitempty"`                   // duration string like "500ms"
	MLPostTriggerDelay *string  `json:"ml_post_trigger_delay,omitempty" yaml:"ml_post_trigger_delay,omitempty"` // duration string like "150ms"
	MLMinFrames        *int     `json:"ml_min_frames,omitempty" yaml:"ml_min_frames,omitempty"`
	MLRingFrames       *int     `json:"ml_ring_frames,omitempty" yaml:"ml_ring_frames,omitempty"`

	// Serial input
	SerialPort *string `json:"serial_port,omitempty" yaml:"serial_port,omitempty"`
	SerialBaud *int    `json:"serial_baud,omitempty" yaml:"serial_baud,omitempty"`

	// Recording store and debug server
	DBPath      *string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	DebugListen *string `json:"debug_listen,omitempty" yaml:"debug_listen,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated
// from the built-in defaults.
func DefaultTuningConfig() *TuningConfig {
	e := EmptyTuningConfig()
	return &TuningConfig{
		Backend:            ptrString(e.GetBackend()),
		BaselineReadings:   ptrInt(e.GetBaselineReadings()),
		PeakMultiplier:     ptrFloat64(e.GetPeakMultiplier()),
		MinRise:            ptrFloat64(e.GetMinRise()),
		SmoothingWindow:    ptrInt(e.GetSmoothingWindow()),
		MinWaveDurationMs:  ptrInt64(e.GetMinWaveDurationMs()),
		MaxWaveDurationMs:  ptrInt64(e.GetMaxWaveDurationMs()),
		MaxPeakGapMs:       ptrInt64(e.GetMaxPeakGapMs()),
		WaveExitThreshold:  ptrFloat64(e.GetWaveExitThreshold()),
		MLWindowMs:         ptrInt(e.GetMLWindowMs()),
		MLNormalizationMax: ptrFloat64(e.GetMLNormalizationMax()),
		MLConfidenceFloor:  ptrFloat64(e.GetMLConfidenceFloor()),
		MLArenaSize:        ptrInt(e.GetMLArenaSize()),
		MLBaselineReadings: ptrInt(e.GetMLBaselineReadings()),
		MLCooldown:         ptrString(e.GetMLCooldown().String()),
		MLPostTriggerDelay: ptrString(e.GetMLPostTriggerDelay().String()),
		MLMinFrames:        ptrInt(e.GetMLMinFrames()),
		MLRingFrames:       ptrInt(e.GetMLRingFrames()),
		SerialBaud:         ptrInt(e.GetSerialBaud()),
		DebugListen:        ptrString(e.GetDebugListen()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON or YAML file. The
// extension selects the format. Fields omitted from the file keep their
// defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from
// DefaultConfigPath, searching parent directories. Panics if the file
// cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/tools/x/
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the set fields and the component configs they build.
func (c *TuningConfig) Validate() error {
	if c.Backend != nil {
		switch *c.Backend {
		case BackendHeuristic, BackendML:
		default:
			return fmt.Errorf("backend must be %q or %q, got %q", BackendHeuristic, BackendML, *c.Backend)
		}
	}
	for name, s := range map[string]*string{
		"ml_cooldown":           c.MLCooldown,
		"ml_post_trigger_delay": c.MLPostTriggerDelay,
	} {
		if s == nil || *s == "" {
			continue
		}
		d, err := time.ParseDuration(*s)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *s, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, d)
		}
	}
	if c.SerialBaud != nil && *c.SerialBaud <= 0 {
		return fmt.Errorf("serial_baud must be positive, got %d", *c.SerialBaud)
	}
	if err := c.DetectorConfig().Validate(); err != nil {
		return err
	}
	if err := c.MLConfig().Validate(); err != nil {
		return err
	}
	return nil
}

// DetectorConfig builds the heuristic detector configuration.
func (c *TuningConfig) DetectorConfig() detection.DetectorConfig {
	return detection.DetectorConfig{
		BaselineReadings:  c.GetBaselineReadings(),
		PeakMultiplier:    c.GetPeakMultiplier(),
		MinRise:           c.GetMinRise(),
		SmoothingWindow:   c.GetSmoothingWindow(),
		MinWaveDurationMs: c.GetMinWaveDurationMs(),
		MaxWaveDurationMs: c.GetMaxWaveDurationMs(),
		MaxPeakGapMs:      c.GetMaxPeakGapMs(),
		WaveExitThreshold: c.GetWaveExitThreshold(),
	}
}

// MLConfig builds the ML detector configuration. The trigger smoothing
// window is shared with the heuristic detector.
func (c *TuningConfig) MLConfig() mldetect.Config {
	cfg := mldetect.DefaultConfig()
	cfg.WindowMs = c.GetMLWindowMs()
	cfg.NormalizationMax = float32(c.GetMLNormalizationMax())
	cfg.ConfidenceFloor = float32(c.GetMLConfidenceFloor())
	cfg.ArenaSize = c.GetMLArenaSize()
	cfg.BaselineReadings = c.GetMLBaselineReadings()
	cfg.PeakMultiplier = c.GetPeakMultiplier()
	cfg.MinRise = c.GetMinRise()
	cfg.SmoothingWindow = c.GetSmoothingWindow()
	cfg.CooldownMs = c.GetMLCooldown().Milliseconds()
	cfg.PostTriggerDelayMs = c.GetMLPostTriggerDelay().Milliseconds()
	cfg.MinFrames = c.GetMLMinFrames()
	cfg.RingFrames = c.GetMLRingFrames()
	return cfg
}

// GetBackend returns the backend value or the default.
func (c *TuningConfig) GetBackend() string {
	if c.Backend == nil {
		return BackendHeuristic
	}
	return *c.Backend
}

// GetBaselineReadings returns the baseline_readings value or the default.
func (c *TuningConfig) GetBaselineReadings() int {
	if c.BaselineReadings == nil {
		return 100
	}
	return *c.BaselineReadings
}

// GetPeakMultiplier returns the peak_multiplier value or the default.
func (c *TuningConfig) GetPeakMultiplier() float64 {
	if c.PeakMultiplier == nil {
		return 1.5
	}
	return *c.PeakMultiplier
}

// GetMinRise returns the min_rise value or the default.
func (c *TuningConfig) GetMinRise() float64 {
	if c.MinRise == nil {
		return 10
	}
	return *c.MinRise
}

// GetSmoothingWindow returns the smoothing_window value or the default.
func (c *TuningConfig) GetSmoothingWindow() int {
	if c.SmoothingWindow == nil {
		return 3
	}
	return *c.SmoothingWindow
}

// GetMinWaveDurationMs returns the min_wave_duration_ms value or the default.
func (c *TuningConfig) GetMinWaveDurationMs() int64 {
	if c.MinWaveDurationMs == nil {
		return 5
	}
	return *c.MinWaveDurationMs
}

// GetMaxWaveDurationMs returns the max_wave_duration_ms value or the default.
func (c *TuningConfig) GetMaxWaveDurationMs() int64 {
	if c.MaxWaveDurationMs == nil {
		return 500
	}
	return *c.MaxWaveDurationMs
}

// GetMaxPeakGapMs returns the max_peak_gap_ms value or the default.
func (c *TuningConfig) GetMaxPeakGapMs() int64 {
	if c.MaxPeakGapMs == nil {
		return 150
	}
	return *c.MaxPeakGapMs
}

// GetWaveExitThreshold returns the wave_exit_threshold value or the default.
func (c *TuningConfig) GetWaveExitThreshold() float64 {
	if c.WaveExitThreshold == nil {
		return 0.3
	}
	return *c.WaveExitThreshold
}

// GetModelPath returns the model_path value, empty when unset.
func (c *TuningConfig) GetModelPath() string {
	if c.ModelPath == nil {
		return ""
	}
	return *c.ModelPath
}

// GetMLWindowMs returns the ml_window_ms value or the default.
func (c *TuningConfig) GetMLWindowMs() int {
	if c.MLWindowMs == nil {
		return 300
	}
	return *c.MLWindowMs
}

// GetMLNormalizationMax returns the ml_normalization_max value or the default.
func (c *TuningConfig) GetMLNormalizationMax() float64 {
	if c.MLNormalizationMax == nil {
		return 490
	}
	return *c.MLNormalizationMax
}

// GetMLConfidenceFloor returns the ml_confidence_floor value or the default.
func (c *TuningConfig) GetMLConfidenceFloor() float64 {
	if c.MLConfidenceFloor == nil {
		return 0.55
	}
	return *c.MLConfidenceFloor
}

// GetMLArenaSize returns the ml_arena_size value or the default.
func (c *TuningConfig) GetMLArenaSize() int {
	if c.MLArenaSize == nil {
		return 150 * 1024
	}
	return *c.MLArenaSize
}

// GetMLBaselineReadings returns the ml_baseline_readings value or the default.
func (c *TuningConfig) GetMLBaselineReadings() int {
	if c.MLBaselineReadings == nil {
		return 50
	}
	return *c.MLBaselineReadings
}

// GetMLCooldown parses and returns the ml_cooldown duration.
func (c *TuningConfig) GetMLCooldown() time.Duration {
	return parseDurationOr(c.MLCooldown, 500*time.Millisecond)
}

// GetMLPostTriggerDelay parses and returns the ml_post_trigger_delay duration.
func (c *TuningConfig) GetMLPostTriggerDelay() time.Duration {
	return parseDurationOr(c.MLPostTriggerDelay, 150*time.Millisecond)
}

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetMLMinFrames returns the ml_min_frames value or the default.
func (c *TuningConfig) GetMLMinFrames() int {
	if c.MLMinFrames == nil {
		return 100
	}
	return *c.MLMinFrames
}

// GetMLRingFrames returns the ml_ring_frames value or the default.
func (c *TuningConfig) GetMLRingFrames() int {
	if c.MLRingFrames == nil {
		return 512
	}
	return *c.MLRingFrames
}

// GetSerialPort returns the serial_port value, empty when unset.
func (c *TuningConfig) GetSerialPort() string {
	if c.SerialPort == nil {
		return ""
	}
	return *c.SerialPort
}

// GetSerialBaud returns the serial_baud value or the default.
func (c *TuningConfig) GetSerialBaud() int {
	if c.SerialBaud == nil {
		return 115200
	}
	return *c.SerialBaud
}

// GetDBPath returns the db_path value, empty when unset.
func (c *TuningConfig) GetDBPath() string {
	if c.DBPath == nil {
		return ""
	}
	return *c.DBPath
}

// GetDebugListen returns the debug_listen value or the default.
func (c *TuningConfig) GetDebugListen() string {
	if c.DebugListen == nil {
		return "localhost:8099"
	}
	return *c.DebugListen
}
