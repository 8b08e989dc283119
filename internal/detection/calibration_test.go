package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModuleCalibration_CalculateThreshold(t *testing.T) {
	tests := []struct {
		name        string
		baselineMax uint16
		signalMin   uint16
		want        uint16
	}{
		{"separated", 20, 60, 40},
		{"overlapping", 20, 15, 10},
		{"weak signal", 20, 3, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := ModuleCalibration{BaselineMax: tt.baselineMax, SignalMin: tt.signalMin}
			m.CalculateThreshold()
			assert.Equal(t, tt.want, m.Threshold)
		})
	}
}

func TestDeviceCalibration_Validity(t *testing.T) {
	var nilCal *DeviceCalibration
	assert.False(t, nilCal.IsValid())
	_, ok := nilCal.ModuleThreshold(0)
	assert.False(t, ok)
	assert.Equal(t, "calibration: none", nilCal.String())

	cal := NewDeviceCalibration()
	assert.Equal(t, uint8(3), cal.Modules[2].ModuleID)
	cal.Modules[1].Threshold = 77
	cal.Modules[1].Valid = true
	_, ok = cal.ModuleThreshold(1)
	assert.False(t, ok, "header not finalized")

	cal.Finalize(99)
	v, ok := cal.ModuleThreshold(1)
	assert.True(t, ok)
	assert.Equal(t, 77.0, v)
	_, ok = cal.ModuleThreshold(0)
	assert.False(t, ok)
	_, ok = cal.ModuleThreshold(3)
	assert.False(t, ok)
	assert.False(t, cal.IsValid(), "not every module is valid")

	cal.Modules[0].Valid = true
	cal.Modules[2].Valid = true
	assert.True(t, cal.IsValid())

	cal.Version = 2
	assert.False(t, cal.IsValid())
	assert.Contains(t, cal.String(), "magic=0xCA11B123")
}

func TestCalibrationHolder(t *testing.T) {
	var h CalibrationHolder
	assert.Nil(t, h.Calibration())
	cal := NewDeviceCalibration()
	h.Store(cal)
	assert.Same(t, cal, h.Calibration())
	h.Clear()
	assert.Nil(t, h.Calibration())
}

func TestParseDirection(t *testing.T) {
	for in, want := range map[string]Direction{
		"a->b":       DirectionAToB,
		"B->A":       DirectionBToA,
		"A_TO_B":     DirectionAToB,
		"no-transit": DirectionUnknown,
	} {
		got, err := ParseDirection(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDirection("sideways")
	assert.Error(t, err)
	assert.Equal(t, DirectionAToB, DirectionBToA.Flip())
}
