package detection

import "fmt"

// DetectorConfig holds the heuristic detector's tunable constants. It is
// read-only during a processing step and may be replaced between steps with
// HeuristicDetector.SetConfig.
type DetectorConfig struct {
	BaselineReadings  int     // idle samples needed before a sensor is ready
	PeakMultiplier    float64 // relative rise over baseline max
	MinRise           float64 // minimum absolute rise over baseline max
	SmoothingWindow   int     // moving-average length, 1..SmoothingBufferSize
	MinWaveDurationMs int64
	MaxWaveDurationMs int64
	MaxPeakGapMs      int64
	WaveExitThreshold float64 // fraction of peak below which a wave ends
}

// DefaultDetectorConfig returns production defaults.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		BaselineReadings:  100,
		PeakMultiplier:    1.5,
		MinRise:           10,
		SmoothingWindow:   3,
		MinWaveDurationMs: 5,
		MaxWaveDurationMs: 500,
		MaxPeakGapMs:      150,
		WaveExitThreshold: 0.3,
	}
}

// Validate checks that the configuration values are usable.
func (c DetectorConfig) Validate() error {
	if c.BaselineReadings < 1 || c.BaselineReadings > BaselineBufferSize {
		return fmt.Errorf("baseline_readings must be between 1 and %d, got %d", BaselineBufferSize, c.BaselineReadings)
	}
	if c.PeakMultiplier < 1 {
		return fmt.Errorf("peak_multiplier must be >= 1, got %f", c.PeakMultiplier)
	}
	if c.MinRise < 0 {
		return fmt.Errorf("min_rise must be non-negative, got %f", c.MinRise)
	}
	if c.SmoothingWindow < 1 || c.SmoothingWindow > SmoothingBufferSize {
		return fmt.Errorf("smoothing_window must be between 1 and %d, got %d", SmoothingBufferSize, c.SmoothingWindow)
	}
	if c.MinWaveDurationMs < 0 {
		return fmt.Errorf("min_wave_duration_ms must be non-negative, got %d", c.MinWaveDurationMs)
	}
	if c.MaxWaveDurationMs <= c.MinWaveDurationMs {
		return fmt.Errorf("max_wave_duration_ms (%d) must exceed min_wave_duration_ms (%d)", c.MaxWaveDurationMs, c.MinWaveDurationMs)
	}
	if c.MaxPeakGapMs < 0 {
		return fmt.Errorf("max_peak_gap_ms must be non-negative, got %d", c.MaxPeakGapMs)
	}
	if c.WaveExitThreshold < 0 || c.WaveExitThreshold > 1 {
		return fmt.Errorf("wave_exit_threshold must be between 0 and 1, got %f", c.WaveExitThreshold)
	}
	return nil
}

// clamped returns a copy with buffer-bound fields forced into range so a
// bad config can never index past the fixed rings.
func (c DetectorConfig) clamped() DetectorConfig {
	if c.BaselineReadings < 1 {
		c.BaselineReadings = 1
	}
	if c.BaselineReadings > BaselineBufferSize {
		c.BaselineReadings = BaselineBufferSize
	}
	if c.SmoothingWindow < 1 {
		c.SmoothingWindow = 1
	}
	if c.SmoothingWindow > SmoothingBufferSize {
		c.SmoothingWindow = SmoothingBufferSize
	}
	return c
}

// Threshold applies the adaptive threshold formula to a baseline maximum:
// baselineMax + max(baselineMax*(PeakMultiplier-1), MinRise).
func (c DetectorConfig) Threshold(baselineMax float64) float64 {
	return baselineMax + max(baselineMax*(c.PeakMultiplier-1), c.MinRise)
}
