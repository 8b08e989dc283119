package detection

import (
	"fmt"
	"strings"
	"sync/atomic"
)

const (
	// CalibrationMagic marks a calibration record as populated.
	CalibrationMagic uint32 = 0xCA11B123
	// CalibrationVersion is the record layout this package understands.
	CalibrationVersion uint32 = 1
)

// ModuleCalibration is the calibration captured for one module; it covers
// both sensors on the module.
type ModuleCalibration struct {
	ModuleID uint8 // 1-based, as printed on the board

	BaselineMin    uint16
	BaselineMax    uint16 // noise ceiling
	BaselineMean   uint16
	BaselineStdDev uint16

	SignalMin  uint16 // weakest reading with an object present
	SignalMax  uint16
	SignalMean uint16

	Threshold uint16
	Valid     bool
}

// CalculateThreshold sets Threshold halfway between the noise ceiling and
// the weakest real signal. When the two overlap it falls back to SignalMin
// with a small margin.
func (m *ModuleCalibration) CalculateThreshold() {
	if m.SignalMin > m.BaselineMax {
		m.Threshold = m.BaselineMax + (m.SignalMin-m.BaselineMax)/2
		return
	}
	if m.SignalMin > 5 {
		m.Threshold = m.SignalMin - 5
		return
	}
	m.Threshold = 1
}

func (m ModuleCalibration) String() string {
	return fmt.Sprintf("module%d: baseline=%d-%d (mean=%d, std=%d), signal=%d-%d (mean=%d), threshold=%d, valid=%t",
		m.ModuleID, m.BaselineMin, m.BaselineMax, m.BaselineMean, m.BaselineStdDev,
		m.SignalMin, m.SignalMax, m.SignalMean, m.Threshold, m.Valid)
}

// DeviceCalibration is an externally owned calibration snapshot. Detectors
// only read it; they never mutate or retain ownership of it.
type DeviceCalibration struct {
	Magic       uint32
	Version     uint32
	TimestampMs uint32 // device time the calibration was captured

	// Sensor configuration at calibration time.
	MultiPulse      uint8
	IntegrationTime uint8
	LEDCurrentMA    uint8

	Modules [NumModules]ModuleCalibration
}

// NewDeviceCalibration returns an empty, invalid record with module ids set.
func NewDeviceCalibration() *DeviceCalibration {
	c := &DeviceCalibration{
		Version:         CalibrationVersion,
		MultiPulse:      1,
		IntegrationTime: 1,
		LEDCurrentMA:    200,
	}
	for i := range c.Modules {
		c.Modules[i].ModuleID = uint8(i + 1)
	}
	return c
}

// Finalize marks the record as complete.
func (c *DeviceCalibration) Finalize(timestampMs uint32) {
	c.Magic = CalibrationMagic
	c.Version = CalibrationVersion
	c.TimestampMs = timestampMs
}

func (c *DeviceCalibration) headerValid() bool {
	return c != nil && c.Magic == CalibrationMagic && c.Version == CalibrationVersion
}

// IsValid reports whether the header is valid and every module is valid.
func (c *DeviceCalibration) IsValid() bool {
	if !c.headerValid() {
		return false
	}
	for _, m := range c.Modules {
		if !m.Valid {
			return false
		}
	}
	return true
}

// ModuleThreshold returns the calibrated threshold for a zero-based module
// and whether it may be used. A module is usable when the header is valid
// and that module's record is valid, even if other modules are not.
func (c *DeviceCalibration) ModuleThreshold(module int) (float64, bool) {
	if !c.headerValid() || module < 0 || module >= NumModules {
		return 0, false
	}
	m := c.Modules[module]
	if !m.Valid {
		return 0, false
	}
	return float64(m.Threshold), true
}

func (c *DeviceCalibration) String() string {
	if c == nil {
		return "calibration: none"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "calibration: magic=0x%08X version=%d timestamp=%dms valid=%t\n",
		c.Magic, c.Version, c.TimestampMs, c.IsValid())
	fmt.Fprintf(&b, "  config: multi_pulse=%d IT=%dT LED=%dmA\n", c.MultiPulse, c.IntegrationTime, c.LEDCurrentMA)
	for _, m := range c.Modules {
		fmt.Fprintf(&b, "  %s\n", m)
	}
	return b.String()
}

// CalibrationSource is the read capability a detector holds on externally
// owned calibration. Calibration may return nil, and may return a different
// snapshot on every call.
type CalibrationSource interface {
	Calibration() *DeviceCalibration
}

// CalibrationHolder is an owner-side CalibrationSource whose snapshot can be
// swapped atomically from another task. Stored snapshots must not be
// mutated afterwards; store a new one instead.
type CalibrationHolder struct {
	p atomic.Pointer[DeviceCalibration]
}

// Store publishes cal as the current snapshot. A nil cal clears it.
func (h *CalibrationHolder) Store(cal *DeviceCalibration) { h.p.Store(cal) }

// Clear removes the current snapshot.
func (h *CalibrationHolder) Clear() { h.p.Store(nil) }

// Calibration returns the current snapshot or nil.
func (h *CalibrationHolder) Calibration() *DeviceCalibration { return h.p.Load() }

// StaticCalibration adapts a fixed snapshot to CalibrationSource.
type StaticCalibration struct{ Cal *DeviceCalibration }

// Calibration returns the fixed snapshot.
func (s StaticCalibration) Calibration() *DeviceCalibration { return s.Cal }
