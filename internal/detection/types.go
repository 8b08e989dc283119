package detection

import (
	"fmt"
	"strings"
)

const (
	// NumSensors is the number of sensor positions around the opening.
	NumSensors = 6
	// NumModules is the number of physical modules; each holds one Side A
	// and one Side B sensor.
	NumModules = NumSensors / 2

	// SmoothingBufferSize bounds the per-sensor smoothing window.
	SmoothingBufferSize = 10
	// BaselineBufferSize is the capacity of the per-sensor rolling baseline.
	BaselineBufferSize = 200
	// BaselineRecalcInterval is the number of idle baseline samples between
	// threshold recomputations once the baseline is ready.
	BaselineRecalcInterval = 50
)

// Side identifies which approach direction a sensor faces.
type Side uint8

const (
	SideA Side = iota
	SideB
)

func (s Side) String() string {
	if s == SideA {
		return "A"
	}
	return "B"
}

// SensorReading is one proximity sample from one sensor position.
type SensorReading struct {
	TimestampUs uint64 // monotonic device time
	Position    uint8  // 0..NumSensors-1
	Proximity   uint16
	Ambient     uint16 // zero when the device does not report ambient light
}

// TimestampMs returns the reading time truncated to milliseconds.
func (r SensorReading) TimestampMs() int64 { return int64(r.TimestampUs / 1000) }

// Module returns the zero-based module index of the reading's sensor.
func (r SensorReading) Module() int { return int(r.Position) / 2 }

// Side returns the side of the reading's sensor. Even positions face Side A.
func (r SensorReading) Side() Side { return Side(r.Position % 2) }

// Valid reports whether the position is in range.
func (r SensorReading) Valid() bool { return r.Position < NumSensors }

// SensorPosition returns the position of the sensor on the given side of
// a module.
func SensorPosition(module int, side Side) int { return module*2 + int(side) }

// SwapSides returns r as if the module's A and B sensors were wired the
// other way round. A transit replayed through swapped readings should
// classify in the flipped direction.
func SwapSides(r SensorReading) SensorReading {
	r.Position ^= 1
	return r
}

// Direction is the classified transit direction.
type Direction uint8

const (
	DirectionUnknown Direction = iota
	DirectionAToB
	DirectionBToA
)

func (d Direction) String() string {
	switch d {
	case DirectionAToB:
		return "A_TO_B"
	case DirectionBToA:
		return "B_TO_A"
	default:
		return "UNKNOWN"
	}
}

// Flip returns the opposite direction. Unknown stays unknown.
func (d Direction) Flip() Direction {
	switch d {
	case DirectionAToB:
		return DirectionBToA
	case DirectionBToA:
		return DirectionAToB
	default:
		return DirectionUnknown
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler. It accepts the
// canonical names and the session label spellings ("a->b", "b->a").
func (d *Direction) UnmarshalText(b []byte) error {
	dir, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = dir
	return nil
}

// ParseDirection parses a direction name or session label.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a_to_b", "a->b", "atob":
		return DirectionAToB, nil
	case "b_to_a", "b->a", "btoa":
		return DirectionBToA, nil
	case "unknown", "", "no-transit", "no_transit":
		return DirectionUnknown, nil
	}
	return DirectionUnknown, fmt.Errorf("unknown direction %q", s)
}

// DetectionResult describes one transit. It is a plain value created fresh
// for every detection; per-side fields describe the authoritative module.
type DetectionResult struct {
	Direction  Direction
	Confidence float64 // [0,1]

	CenterOfMassA float64 // ms
	CenterOfMassB float64 // ms
	ComGapMs      float64

	PeakSignalA   float64
	PeakSignalB   float64
	WaveDurationA int64 // ms
	WaveDurationB int64 // ms

	// Diagnostics.
	BaselineA  float64
	BaselineB  float64
	ThresholdA float64
	ThresholdB float64

	DetectedModule      int // 1-indexed, 0 when not applicable
	ModulesDetected     int
	DirectionConsistent bool

	TimestampMs int64 // time of the reading that completed the detection
}

// DetectorState is the coarse lifecycle state of a detector.
type DetectorState uint8

const (
	StateEstablishingBaseline DetectorState = iota
	StateReady
	StateDetecting
	StateTriggered
)

func (s DetectorState) String() string {
	switch s {
	case StateEstablishingBaseline:
		return "ESTABLISHING_BASELINE"
	case StateReady:
		return "READY"
	case StateDetecting:
		return "DETECTING"
	case StateTriggered:
		return "TRIGGERED"
	}
	return fmt.Sprintf("DetectorState(%d)", uint8(s))
}
