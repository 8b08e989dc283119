package detection

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/motion-play/hoopsense/internal/ringbuf"
)

// WaveState is the state of a sensor's wave-envelope machine.
type WaveState uint8

const (
	WaveIdle WaveState = iota
	WaveInWave
	WaveComplete
)

func (s WaveState) String() string {
	switch s {
	case WaveIdle:
		return "IDLE"
	case WaveInWave:
		return "IN_WAVE"
	case WaveComplete:
		return "COMPLETE"
	}
	return "?"
}

// ThresholdSource records where a sensor's threshold came from.
type ThresholdSource uint8

const (
	ThresholdUnset ThresholdSource = iota
	ThresholdFallback
	ThresholdCalibrated
)

func (s ThresholdSource) String() string {
	switch s {
	case ThresholdFallback:
		return "FALLBACK"
	case ThresholdCalibrated:
		return "CALIBRATED"
	}
	return "UNSET"
}

// Wave is one wave envelope. Times are milliseconds.
type Wave struct {
	State        WaveState
	StartMs      int64
	PeakValue    float64
	PeakMs       int64
	CenterOfMass float64
	EndMs        int64

	weightedSum float64
	totalWeight float64
	paired      bool // part of a module detection; exempt from expiry
}

// DurationMs returns the wave length. It is zero until the wave completes.
func (w Wave) DurationMs() int64 {
	if w.State != WaveComplete {
		return 0
	}
	return w.EndMs - w.StartMs
}

// thresholdOverride returns a calibrated threshold for a module when one
// is available.
type thresholdOverride func(module int) (float64, bool)

// SensorTracker owns one sensor's smoothing ring, idle-only rolling
// baseline, adaptive threshold and wave-envelope state machine.
type SensorTracker struct {
	position int

	smooth   *ringbuf.Ring[float64]
	baseline *ringbuf.Ring[float64]

	baselineCount int // idle samples since the last full reset
	sinceRecalc   int
	baselineReady bool

	threshold       float64
	thresholdSource ThresholdSource

	wave Wave
}

// NewSensorTracker creates a tracker for one sensor position.
func NewSensorTracker(position int) *SensorTracker {
	return &SensorTracker{
		position: position,
		smooth:   ringbuf.New[float64](SmoothingBufferSize),
		baseline: ringbuf.New[float64](BaselineBufferSize),
	}
}

// Position returns the sensor position.
func (t *SensorTracker) Position() int { return t.position }

// Module returns the zero-based module index.
func (t *SensorTracker) Module() int { return t.position / 2 }

// Smooth pushes a raw sample and returns the moving average of the newest
// window samples.
func (t *SensorTracker) Smooth(raw float64, window int) float64 {
	t.smooth.Push(raw)
	n := min(window, t.smooth.Len())
	if n < 1 {
		return raw
	}
	var sum float64
	for i := 1; i <= n; i++ {
		v, _ := t.smooth.Last(i)
		sum += v
	}
	return sum / float64(n)
}

// Ingest feeds one smoothed sample. Until the baseline is ready every
// sample goes to the baseline. Afterwards the wave machine runs first and
// the sample reaches the baseline only if the sensor is still idle, so
// transit signal never lifts the noise floor.
func (t *SensorTracker) Ingest(value float64, tsMs int64, cfg *DetectorConfig, override thresholdOverride) {
	if !t.baselineReady {
		t.baseline.Push(value)
		t.baselineCount++
		if t.baselineCount >= cfg.BaselineReadings {
			t.baselineReady = true
			t.sinceRecalc = 0
			t.Recompute(cfg, override)
		}
		return
	}

	t.step(value, tsMs, cfg)

	if t.wave.State == WaveIdle {
		t.baseline.Push(value)
		t.baselineCount++
		t.sinceRecalc++
		if t.sinceRecalc >= BaselineRecalcInterval {
			t.sinceRecalc = 0
			t.Recompute(cfg, override)
		}
	}
}

func (t *SensorTracker) step(value float64, tsMs int64, cfg *DetectorConfig) {
	w := &t.wave
	switch w.State {
	case WaveIdle:
		if value > t.threshold {
			*w = Wave{
				State:       WaveInWave,
				StartMs:     tsMs,
				PeakValue:   value,
				PeakMs:      tsMs,
				weightedSum: value * float64(tsMs),
				totalWeight: value,
			}
		}

	case WaveInWave:
		if value > w.PeakValue {
			w.PeakValue = value
			w.PeakMs = tsMs
		}
		w.weightedSum += value * float64(tsMs)
		w.totalWeight += value

		exit := max(t.threshold, w.PeakValue*cfg.WaveExitThreshold)
		if value < exit || tsMs-w.StartMs > cfg.MaxWaveDurationMs {
			t.complete(tsMs)
		}

	case WaveComplete:
		// Waits for pairing or expiry.
	}
}

func (t *SensorTracker) complete(tsMs int64) {
	w := &t.wave
	w.State = WaveComplete
	w.EndMs = tsMs
	if w.totalWeight > 0 {
		w.CenterOfMass = w.weightedSum / w.totalWeight
	} else {
		w.CenterOfMass = float64(w.PeakMs)
	}
}

// Expire returns a completed, unpaired wave to idle once it has waited
// longer than maxPeakGapMs for a partner. It reports whether it expired.
func (t *SensorTracker) Expire(nowMs, maxPeakGapMs int64) bool {
	w := &t.wave
	if w.State != WaveComplete || w.paired {
		return false
	}
	if nowMs-w.EndMs > maxPeakGapMs {
		t.ResetWave()
		return true
	}
	return false
}

// Recompute derives the threshold. A usable calibration for the module
// wins unconditionally; otherwise the baseline formula applies.
func (t *SensorTracker) Recompute(cfg *DetectorConfig, override thresholdOverride) {
	if override != nil {
		if v, ok := override(t.Module()); ok {
			t.threshold = v
			t.thresholdSource = ThresholdCalibrated
			return
		}
	}
	t.threshold = cfg.Threshold(t.BaselineMax())
	t.thresholdSource = ThresholdFallback
}

// BaselineMax returns the noise ceiling of the rolling baseline.
func (t *SensorTracker) BaselineMax() float64 {
	raw := t.baseline.Raw()
	if len(raw) == 0 {
		return 0
	}
	return floats.Max(raw)
}

// BaselineStats returns the mean and standard deviation of the rolling
// baseline. The deviation is zero with fewer than two samples.
func (t *SensorTracker) BaselineStats() (mean, stddev float64) {
	raw := t.baseline.Raw()
	switch len(raw) {
	case 0:
		return 0, 0
	case 1:
		return raw[0], 0
	}
	mean, stddev = stat.MeanStdDev(raw, nil)
	if math.IsNaN(stddev) {
		stddev = 0
	}
	return mean, stddev
}

// ResetWave discards any in-flight or completed wave.
func (t *SensorTracker) ResetWave() { t.wave = Wave{} }

// Reset clears wave and smoothing state but keeps the baseline and
// threshold.
func (t *SensorTracker) Reset() {
	t.ResetWave()
	t.smooth.Clear()
}

// FullReset also discards the baseline and threshold.
func (t *SensorTracker) FullReset() {
	t.Reset()
	t.baseline.Clear()
	t.baselineCount = 0
	t.sinceRecalc = 0
	t.baselineReady = false
	t.threshold = 0
	t.thresholdSource = ThresholdUnset
}

// BaselineReady reports whether enough idle samples have been collected.
func (t *SensorTracker) BaselineReady() bool { return t.baselineReady }

// BaselineCount returns the number of idle samples collected.
func (t *SensorTracker) BaselineCount() int { return t.baselineCount }

// Threshold returns the current threshold.
func (t *SensorTracker) Threshold() float64 { return t.threshold }

// ThresholdSource returns where the threshold came from.
func (t *SensorTracker) ThresholdSource() ThresholdSource { return t.thresholdSource }

// Wave returns a copy of the current wave.
func (t *SensorTracker) Wave() Wave { return t.wave }

// State returns the wave state.
func (t *SensorTracker) State() WaveState { return t.wave.State }

func (t *SensorTracker) markPaired() { t.wave.paired = true }
