package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completeWave(start, end, peakMs int64, peak, com float64) Wave {
	return Wave{State: WaveComplete, StartMs: start, EndMs: end, PeakMs: peakMs, PeakValue: peak, CenterOfMass: com}
}

func TestIsModuleDetected(t *testing.T) {
	cfg := DefaultDetectorConfig()
	tests := []struct {
		name string
		a, b Wave
		want bool
	}{
		{"paired", completeWave(0, 20, 10, 100, 10), completeWave(30, 50, 40, 100, 40), true},
		{"a still in wave", Wave{State: WaveInWave}, completeWave(30, 50, 40, 100, 40), false},
		{"duration at minimum", completeWave(0, 5, 2, 100, 2), completeWave(30, 50, 40, 100, 40), false},
		{"peak gap at limit", completeWave(0, 20, 10, 100, 10), completeWave(150, 170, 160, 100, 160), true},
		{"peak gap over limit", completeWave(0, 20, 10, 100, 10), completeWave(150, 170, 161, 100, 161), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsModuleDetected(tt.a, tt.b, &cfg))
		})
	}
}

func TestModuleDirection(t *testing.T) {
	early := completeWave(0, 20, 10, 100, 10)
	late := completeWave(10, 30, 20, 100, 20)
	assert.Equal(t, DirectionAToB, ModuleDirection(early, late))
	assert.Equal(t, DirectionBToA, ModuleDirection(late, early))

	// Equal centres of mass fall back to peak time.
	a := completeWave(0, 20, 12, 100, 10)
	b := completeWave(0, 20, 8, 100, 10)
	assert.Equal(t, DirectionBToA, ModuleDirection(a, b))
	assert.Equal(t, DirectionAToB, ModuleDirection(b, a))
}

func TestConfidence(t *testing.T) {
	assert.InDelta(t, 0.0, Confidence(0, 0, 1), 1e-12)
	assert.InDelta(t, 0.6, Confidence(50, 0, 1), 1e-12)
	assert.InDelta(t, 0.6+0.2, Confidence(100, 50, 1), 1e-12)
	assert.InDelta(t, 0.3+0.2+0.15, Confidence(25, 50, 2), 1e-12)
	assert.Equal(t, 1.0, Confidence(50, 100, 3))

	// Non-decreasing in gap, signal and agreement.
	prev := -1.0
	for gap := 0.0; gap <= 80; gap += 5 {
		c := Confidence(gap, 40, 1)
		assert.GreaterOrEqual(t, c, prev)
		prev = c
	}
	prev = -1.0
	for peak := 0.0; peak <= 150; peak += 10 {
		c := Confidence(20, peak, 1)
		assert.GreaterOrEqual(t, c, prev)
		prev = c
	}
	for agree := 1; agree < 3; agree++ {
		assert.GreaterOrEqual(t, Confidence(10, 10, agree+1), Confidence(10, 10, agree))
	}
}

func TestConsensus(t *testing.T) {
	_, ok := Consensus(nil, 0)
	assert.False(t, ok)

	mods := []ModuleDetection{
		{Module: 0, Direction: DirectionAToB, A: completeWave(0, 20, 10, 60, 10), B: completeWave(30, 50, 40, 60, 40)},
		{Module: 2, Direction: DirectionAToB, A: completeWave(0, 20, 10, 90, 10), B: completeWave(20, 40, 30, 90, 30),
			ThresholdA: 25, ThresholdB: 26, BaselineA: 12, BaselineB: 13},
	}
	res, ok := Consensus(mods, 77)
	require.True(t, ok)
	assert.Equal(t, DirectionAToB, res.Direction)
	assert.Equal(t, 3, res.DetectedModule)
	assert.Equal(t, 2, res.ModulesDetected)
	assert.True(t, res.DirectionConsistent)
	assert.Equal(t, 20.0, res.ComGapMs)
	assert.Equal(t, 25.0, res.ThresholdA)
	assert.Equal(t, 13.0, res.BaselineB)
	assert.Equal(t, int64(77), res.TimestampMs)
	assert.InDelta(t, 0.6*0.4+0.4*0.9+0.15, res.Confidence, 1e-12)

	mods[0].Direction = DirectionBToA
	res, _ = Consensus(mods, 77)
	assert.Equal(t, DirectionUnknown, res.Direction)
	assert.False(t, res.DirectionConsistent)
	assert.Equal(t, 3, res.DetectedModule)
	assert.InDelta(t, 0.6*0.4+0.4*0.9, res.Confidence, 1e-12)
}
