// Package detection owns the transit direction model shared by every
// detector backend: sensor readings, directions, results and tuning.
//
// It also implements the heuristic backend. Each of the six sensors runs
// its own SensorTracker (smoothing, idle-only rolling baseline, adaptive
// threshold and a wave-envelope state machine). HeuristicDetector pairs the
// trackers into three modules, derives a direction per module from the
// wave centres of mass and fuses the modules by consensus voting.
//
// Detectors are single-owner values with no internal locking: one task
// feeds readings and drains results. The only state shared across tasks is
// the calibration snapshot, read through CalibrationSource.
package detection
