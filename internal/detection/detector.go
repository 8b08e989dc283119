package detection

// Detector is the contract shared by the heuristic and ML backends. The
// owning session picks one implementation and drives it from a single task.
type Detector interface {
	// AddReading ingests one sample. Readings sharing a millisecond are
	// aggregated; a reading with a new timestamp commits the previous one.
	// Out-of-range positions are ignored.
	AddReading(r SensorReading)

	// FlushReading commits the currently aggregating timestamp.
	FlushReading()

	// HasDetection reports whether a result is pending.
	HasDetection() bool

	// Result consumes the pending result. The second call without a new
	// detection returns false.
	Result() (DetectionResult, bool)

	// Reset clears in-flight detection state but keeps calibration of the
	// signal (baselines and thresholds).
	Reset()

	// FullReset also discards baselines, forcing them to be re-established.
	FullReset()

	// IsReady reports whether the detector can produce detections.
	IsReady() bool

	// State reports the coarse lifecycle state.
	State() DetectorState

	// DebugString renders the internal state for diagnostics.
	DebugString() string

	// DebugPrint writes DebugString through the detector's logger.
	DebugPrint()
}

// Verify at compile time that *HeuristicDetector implements Detector.
var _ Detector = (*HeuristicDetector)(nil)
