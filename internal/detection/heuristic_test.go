package detection

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() DetectorConfig {
	cfg := DefaultDetectorConfig()
	cfg.BaselineReadings = 10
	cfg.SmoothingWindow = 1
	return cfg
}

// pulse holds a sensor at value for [start, end) ms.
type pulse struct {
	pos        int
	start, end int64
	value      uint16
}

// run feeds every sensor one reading per millisecond in [from, to) and
// flushes the last millisecond.
func run(d *HeuristicDetector, from, to int64, base uint16, pulses ...pulse) {
	for ts := from; ts < to; ts++ {
		for pos := 0; pos < NumSensors; pos++ {
			v := base
			for _, p := range pulses {
				if p.pos == pos && ts >= p.start && ts < p.end {
					v = p.value
				}
			}
			d.AddReading(SensorReading{TimestampUs: uint64(ts) * 1000, Position: uint8(pos), Proximity: v})
		}
	}
	d.FlushReading()
}

func readyDetector(t *testing.T, base uint16) *HeuristicDetector {
	t.Helper()
	d := NewHeuristicDetector(testConfig())
	run(d, 0, 100, base)
	require.True(t, d.IsReady())
	return d
}

func TestHeuristic_EstablishesBaseline(t *testing.T) {
	d := NewHeuristicDetector(testConfig())
	assert.Equal(t, StateEstablishingBaseline, d.State())

	run(d, 0, 9, 10)
	assert.False(t, d.IsReady())
	assert.Equal(t, ThresholdUnset, d.Tracker(0).ThresholdSource())

	run(d, 9, 10, 10)
	assert.True(t, d.IsReady())
	assert.Equal(t, StateReady, d.State())
}

func TestHeuristic_Threshold(t *testing.T) {
	tests := []struct {
		name string
		base uint16
		want float64
	}{
		{"relative rise dominates", 100, 150},
		{"minimum rise dominates", 10, 20},
		{"zero baseline", 0, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := readyDetector(t, tt.base)
			for pos := 0; pos < NumSensors; pos++ {
				tr := d.Tracker(pos)
				assert.InDelta(t, tt.want, tr.Threshold(), 1e-9, "sensor %d", pos)
				assert.Equal(t, ThresholdFallback, tr.ThresholdSource())
			}
		})
	}
}

func TestHeuristic_NoSignalStaysQuiet(t *testing.T) {
	d := readyDetector(t, 50)
	// Small noise below the threshold.
	for ts := int64(100); ts < 2000; ts++ {
		for pos := 0; pos < NumSensors; pos++ {
			v := uint16(48 + (ts+int64(pos))%5)
			d.AddReading(SensorReading{TimestampUs: uint64(ts) * 1000, Position: uint8(pos), Proximity: v})
		}
	}
	d.FlushReading()

	assert.False(t, d.HasDetection())
	assert.Equal(t, StateReady, d.State())
	for pos := 0; pos < NumSensors; pos++ {
		assert.Equal(t, WaveIdle, d.Tracker(pos).State())
	}
}

func TestHeuristic_SingleModuleAToB(t *testing.T) {
	d := readyDetector(t, 10)
	run(d, 100, 200, 10,
		pulse{pos: 0, start: 100, end: 120, value: 100},
		pulse{pos: 1, start: 130, end: 150, value: 100},
	)

	require.True(t, d.HasDetection())
	res, ok := d.Result()
	require.True(t, ok)

	assert.Equal(t, DirectionAToB, res.Direction)
	assert.Equal(t, 1, res.DetectedModule)
	assert.Equal(t, 1, res.ModulesDetected)
	assert.True(t, res.DirectionConsistent)
	assert.InDelta(t, 30, res.ComGapMs, 1e-9)
	assert.Less(t, res.CenterOfMassA, res.CenterOfMassB)
	assert.Equal(t, 100.0, res.PeakSignalA)
	assert.Equal(t, 100.0, res.PeakSignalB)
	assert.Equal(t, int64(20), res.WaveDurationA)
	assert.Equal(t, int64(20), res.WaveDurationB)
	assert.Equal(t, 10.0, res.BaselineA)
	assert.Equal(t, 20.0, res.ThresholdA)
	assert.Equal(t, int64(150), res.TimestampMs)
	// 0.6*(30/50) + 0.4*(100/100)
	assert.InDelta(t, 0.76, res.Confidence, 1e-9)

	mod, ok := d.LastModule()
	require.True(t, ok)
	assert.Equal(t, 1, mod.Module)
	assert.Equal(t, DirectionAToB, mod.Direction)
}

func TestHeuristic_SingleModuleBToA(t *testing.T) {
	d := readyDetector(t, 10)
	run(d, 100, 200, 10,
		pulse{pos: 3, start: 100, end: 120, value: 90},
		pulse{pos: 2, start: 130, end: 150, value: 90},
	)

	res, ok := d.Result()
	require.True(t, ok)
	assert.Equal(t, DirectionBToA, res.Direction)
	assert.Equal(t, 2, res.DetectedModule)
	assert.Greater(t, res.CenterOfMassA, res.CenterOfMassB)
}

func TestHeuristic_ResultConsumedOnce(t *testing.T) {
	d := readyDetector(t, 10)
	run(d, 100, 200, 10,
		pulse{pos: 0, start: 100, end: 120, value: 100},
		pulse{pos: 1, start: 130, end: 150, value: 100},
	)

	_, ok := d.Result()
	require.True(t, ok)
	assert.False(t, d.HasDetection())

	res, ok := d.Result()
	assert.False(t, ok)
	assert.Equal(t, DetectionResult{}, res)
}

func TestHeuristic_ThreeModulesAgree(t *testing.T) {
	d := readyDetector(t, 10)
	run(d, 100, 200, 10,
		pulse{pos: 0, start: 100, end: 120, value: 100},
		pulse{pos: 1, start: 130, end: 150, value: 100},
		pulse{pos: 2, start: 100, end: 120, value: 120},
		pulse{pos: 3, start: 130, end: 150, value: 120},
		pulse{pos: 4, start: 100, end: 120, value: 80},
		pulse{pos: 5, start: 130, end: 150, value: 80},
	)

	res, ok := d.Result()
	require.True(t, ok)
	assert.Equal(t, DirectionAToB, res.Direction)
	assert.Equal(t, 3, res.ModulesDetected)
	assert.Equal(t, 2, res.DetectedModule, "largest combined peak is authoritative")
	assert.True(t, res.DirectionConsistent)
	assert.Equal(t, 1.0, res.Confidence)
}

func TestHeuristic_ModulesDisagree(t *testing.T) {
	d := readyDetector(t, 10)
	run(d, 100, 200, 10,
		pulse{pos: 0, start: 100, end: 120, value: 100},
		pulse{pos: 1, start: 130, end: 150, value: 100},
		pulse{pos: 3, start: 100, end: 120, value: 200},
		pulse{pos: 2, start: 130, end: 150, value: 200},
	)

	res, ok := d.Result()
	require.True(t, ok)
	assert.Equal(t, DirectionUnknown, res.Direction)
	assert.False(t, res.DirectionConsistent)
	assert.Equal(t, 2, res.ModulesDetected)
	assert.Equal(t, 2, res.DetectedModule)
}

func TestHeuristic_WaitsForSlowerModule(t *testing.T) {
	d := readyDetector(t, 10)
	pulses := []pulse{
		{pos: 0, start: 100, end: 120, value: 100},
		{pos: 1, start: 130, end: 150, value: 100},
		{pos: 2, start: 110, end: 130, value: 100},
		{pos: 3, start: 140, end: 200, value: 100},
	}
	run(d, 100, 160, 10, pulses...)
	assert.False(t, d.HasDetection(), "module 2 is still mid-wave")
	assert.Equal(t, StateDetecting, d.State())

	run(d, 160, 300, 10, pulses...)
	res, ok := d.Result()
	require.True(t, ok)
	assert.Equal(t, 2, res.ModulesDetected)
	assert.Equal(t, DirectionAToB, res.Direction)
	assert.Equal(t, int64(200), res.TimestampMs)
}

func TestHeuristic_SettleTimeoutEmits(t *testing.T) {
	d := readyDetector(t, 10)
	pulses := []pulse{
		{pos: 0, start: 100, end: 120, value: 100},
		{pos: 1, start: 130, end: 150, value: 100},
		{pos: 3, start: 140, end: 600, value: 100},
	}
	run(d, 100, 300, 10, pulses...)
	assert.False(t, d.HasDetection())

	run(d, 300, 301, 10, pulses...)
	res, ok := d.Result()
	require.True(t, ok)
	assert.Equal(t, 1, res.ModulesDetected)
	assert.Equal(t, int64(300), res.TimestampMs)
}

func TestHeuristic_UnpairedSensorNeverDetects(t *testing.T) {
	d := readyDetector(t, 10)
	run(d, 100, 600, 10, pulse{pos: 0, start: 100, end: 120, value: 200})

	assert.False(t, d.HasDetection())
	assert.Equal(t, WaveIdle, d.Tracker(0).State(), "unpaired wave expires")
}

func TestHeuristic_ShortWavesRejected(t *testing.T) {
	d := readyDetector(t, 10)
	run(d, 100, 300, 10,
		pulse{pos: 0, start: 100, end: 104, value: 100},
		pulse{pos: 1, start: 130, end: 134, value: 100},
	)
	assert.False(t, d.HasDetection())
}

func TestHeuristic_BaselineExcludesTransit(t *testing.T) {
	d := readyDetector(t, 10)
	run(d, 100, 400, 10,
		pulse{pos: 0, start: 100, end: 250, value: 300},
		pulse{pos: 1, start: 130, end: 280, value: 300},
	)
	assert.True(t, d.HasDetection())
	for pos := 0; pos < 2; pos++ {
		assert.Equal(t, 10.0, d.Tracker(pos).BaselineMax())
		assert.Equal(t, 20.0, d.Tracker(pos).Threshold())
	}
}

func TestHeuristic_ResetKeepsBaseline(t *testing.T) {
	d := readyDetector(t, 10)
	run(d, 100, 125, 10, pulse{pos: 0, start: 100, end: 200, value: 100})
	require.Equal(t, WaveInWave, d.Tracker(0).State())

	d.Reset()
	assert.True(t, d.IsReady())
	assert.Equal(t, WaveIdle, d.Tracker(0).State())
	assert.Equal(t, 20.0, d.Tracker(0).Threshold())
	assert.False(t, d.HasDetection())
}

func TestHeuristic_FullResetDiscardsBaseline(t *testing.T) {
	d := readyDetector(t, 10)
	run(d, 100, 200, 10,
		pulse{pos: 0, start: 100, end: 120, value: 100},
		pulse{pos: 1, start: 130, end: 150, value: 100},
	)
	_, ok := d.LastModule()
	require.True(t, ok)

	d.FullReset()
	assert.False(t, d.IsReady())
	assert.Equal(t, StateEstablishingBaseline, d.State())
	assert.False(t, d.HasDetection())
	_, ok = d.LastModule()
	assert.False(t, ok)

	run(d, 200, 210, 40)
	assert.True(t, d.IsReady())
	assert.Equal(t, 60.0, d.Tracker(0).Threshold())
}

func TestHeuristic_CalibrationOverride(t *testing.T) {
	cal := NewDeviceCalibration()
	cal.Modules[0].Threshold = 500
	cal.Modules[0].Valid = true
	cal.Finalize(1234)

	d := readyDetector(t, 10)
	d.SetCalibration(StaticCalibration{Cal: cal})

	assert.Equal(t, 500.0, d.Tracker(0).Threshold())
	assert.Equal(t, ThresholdCalibrated, d.Tracker(1).ThresholdSource())
	assert.Equal(t, 20.0, d.Tracker(2).Threshold(), "module 2 has no valid record")
	assert.Equal(t, ThresholdFallback, d.Tracker(2).ThresholdSource())

	// A transit that clears the baseline threshold is below the calibrated one.
	run(d, 100, 300, 10,
		pulse{pos: 0, start: 100, end: 120, value: 100},
		pulse{pos: 1, start: 130, end: 150, value: 100},
	)
	assert.False(t, d.HasDetection())

	d.SetCalibration(nil)
	// The pulses never opened a wave under the calibrated threshold, so
	// they were idle samples and now lift the baseline max to 100.
	assert.Equal(t, 150.0, d.Tracker(0).Threshold())
	assert.Equal(t, ThresholdFallback, d.Tracker(0).ThresholdSource())
	assert.Equal(t, 20.0, d.Tracker(2).Threshold(), "untouched sensor keeps its baseline")
}

func TestHeuristic_CalibrationBeforeBaseline(t *testing.T) {
	cal := NewDeviceCalibration()
	for i := range cal.Modules {
		cal.Modules[i].Threshold = 35
		cal.Modules[i].Valid = true
	}
	cal.Finalize(0)

	d := NewHeuristicDetector(testConfig())
	d.SetCalibration(StaticCalibration{Cal: cal})
	run(d, 0, 20, 10)

	for pos := 0; pos < NumSensors; pos++ {
		assert.Equal(t, 35.0, d.Tracker(pos).Threshold())
	}
}

func TestHeuristic_InvalidCalibrationIgnored(t *testing.T) {
	cal := NewDeviceCalibration()
	cal.Modules[0].Threshold = 500
	cal.Modules[0].Valid = true
	// Never finalized: bad magic.

	d := readyDetector(t, 10)
	d.SetCalibration(StaticCalibration{Cal: cal})
	assert.Equal(t, 20.0, d.Tracker(0).Threshold())
}

func TestHeuristic_CalibrationHolderSwap(t *testing.T) {
	var holder CalibrationHolder
	d := readyDetector(t, 10)
	d.SetCalibration(&holder)
	assert.Equal(t, 20.0, d.Tracker(0).Threshold())

	cal := NewDeviceCalibration()
	cal.Modules[0].Threshold = 42
	cal.Modules[0].Valid = true
	cal.Finalize(0)
	holder.Store(cal)

	// Picked up on the next periodic recompute.
	run(d, 100, 160, 10)
	assert.Equal(t, 42.0, d.Tracker(0).Threshold())

	holder.Clear()
	d.RefreshCalibration()
	assert.Equal(t, 20.0, d.Tracker(0).Threshold())
}

func TestHeuristic_SetConfigRecomputes(t *testing.T) {
	d := readyDetector(t, 10)
	cfg := testConfig()
	cfg.MinRise = 50
	d.SetConfig(cfg)
	assert.Equal(t, 60.0, d.Tracker(0).Threshold())
}

func TestHeuristic_IgnoresOutOfRangePosition(t *testing.T) {
	d := readyDetector(t, 10)
	d.AddReading(SensorReading{TimestampUs: 100_000, Position: 6, Proximity: 1000})
	d.AddReading(SensorReading{TimestampUs: 100_000, Position: 200, Proximity: 1000})
	d.FlushReading()
	assert.Nil(t, d.Tracker(6))
	assert.Equal(t, StateReady, d.State())
}

func TestHeuristic_DebugString(t *testing.T) {
	d := readyDetector(t, 10)
	var lines []string
	d.SetLogger(func(format string, v ...interface{}) { lines = append(lines, format) })
	s := d.DebugString()
	assert.Contains(t, s, "state: READY")
	assert.Contains(t, s, "last module: none")
	assert.Equal(t, NumSensors, strings.Count(s, "sensor "))

	d.DebugPrint()
	assert.NotEmpty(t, lines)
}

func TestHeuristic_SwappedSidesFlipDirection(t *testing.T) {
	var readings []SensorReading
	for ts := int64(0); ts < 200; ts++ {
		for pos := 0; pos < NumSensors; pos++ {
			v := uint16(10)
			if pos == 4 && ts >= 100 && ts < 118 {
				v = 80
			}
			if pos == 5 && ts >= 125 && ts < 140 {
				v = 95
			}
			readings = append(readings, SensorReading{TimestampUs: uint64(ts) * 1000, Position: uint8(pos), Proximity: v})
		}
	}

	detect := func(swap bool) DetectionResult {
		d := NewHeuristicDetector(testConfig())
		for _, r := range readings {
			if swap {
				r = SwapSides(r)
			}
			d.AddReading(r)
		}
		d.FlushReading()
		res, ok := d.Result()
		require.True(t, ok, "swap=%t", swap)
		return res
	}

	straight, swapped := detect(false), detect(true)
	assert.Equal(t, DirectionAToB, straight.Direction)
	assert.Equal(t, straight.Direction.Flip(), swapped.Direction)
	assert.Equal(t, straight.DetectedModule, swapped.DetectedModule)
	assert.InDelta(t, straight.Confidence, swapped.Confidence, 1e-9)
}

func TestSwapSides(t *testing.T) {
	for pos := uint8(0); pos < NumSensors; pos++ {
		r := SwapSides(SensorReading{Position: pos, Proximity: 7})
		assert.Equal(t, int(pos)/2, r.Module())
		assert.NotEqual(t, SensorReading{Position: pos}.Side(), r.Side())
		assert.Equal(t, uint16(7), r.Proximity)
	}
}
