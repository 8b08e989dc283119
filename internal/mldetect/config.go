package mldetect

import (
	"fmt"

	"github.com/motion-play/hoopsense/internal/detection"
)

// NumPositions is the number of sensor columns in the model input.
const NumPositions = detection.NumSensors

// Output class order of the model's softmax.
const (
	ClassAToB = iota
	ClassBToA
	ClassNoTransit
	NumClasses
)

// Config holds the ML detector constants.
type Config struct {
	WindowMs         int     // model input length, one row per millisecond
	NormalizationMax float32 // proximity divisor applied to every input value
	ConfidenceFloor  float32 // minimum winning probability
	ArenaSize        int     // tensor arena bytes

	BaselineReadings int
	PeakMultiplier   float64
	MinRise          float64
	SmoothingWindow  int

	CooldownMs         int64
	PostTriggerDelayMs int64
	MinFrames          int // frames required before inference runs
	RingFrames         int
}

// DefaultConfig returns the production constants.
func DefaultConfig() Config {
	return Config{
		WindowMs:           300,
		NormalizationMax:   490,
		ConfidenceFloor:    0.55,
		ArenaSize:          150 * 1024,
		BaselineReadings:   50,
		PeakMultiplier:     1.5,
		MinRise:            10,
		SmoothingWindow:    3,
		CooldownMs:         500,
		PostTriggerDelayMs: 150,
		MinFrames:          100,
		RingFrames:         512,
	}
}

// smoothBufferSize bounds SmoothingWindow.
const smoothBufferSize = 10

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	switch {
	case c.WindowMs < 1:
		return fmt.Errorf("window_ms must be positive, got %d", c.WindowMs)
	case c.NormalizationMax <= 0:
		return fmt.Errorf("normalization_max must be positive, got %f", c.NormalizationMax)
	case c.ConfidenceFloor < 0 || c.ConfidenceFloor > 1:
		return fmt.Errorf("confidence_floor must be between 0 and 1, got %f", c.ConfidenceFloor)
	case c.ArenaSize < 1:
		return fmt.Errorf("arena_size must be positive, got %d", c.ArenaSize)
	case c.BaselineReadings < 1:
		return fmt.Errorf("baseline_readings must be positive, got %d", c.BaselineReadings)
	case c.PeakMultiplier < 1:
		return fmt.Errorf("peak_multiplier must be >= 1, got %f", c.PeakMultiplier)
	case c.MinRise < 0:
		return fmt.Errorf("min_rise must be non-negative, got %f", c.MinRise)
	case c.SmoothingWindow < 1 || c.SmoothingWindow > smoothBufferSize:
		return fmt.Errorf("smoothing_window must be between 1 and %d, got %d", smoothBufferSize, c.SmoothingWindow)
	case c.CooldownMs < 0 || c.PostTriggerDelayMs < 0:
		return fmt.Errorf("cooldown and post-trigger delay must be non-negative")
	case c.RingFrames < 1:
		return fmt.Errorf("ring_frames must be positive, got %d", c.RingFrames)
	case c.MinFrames > c.RingFrames:
		return fmt.Errorf("min_frames (%d) cannot exceed ring_frames (%d)", c.MinFrames, c.RingFrames)
	}
	return nil
}
