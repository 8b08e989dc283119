package detection

import (
	"fmt"
	"strings"

	"github.com/motion-play/hoopsense/internal/monitoring"
)

// ModuleDiagnostics describes the most recent module detection.
type ModuleDiagnostics struct {
	Module                 int // 1-indexed
	Direction              Direction
	CenterOfMassA          float64
	CenterOfMassB          float64
	PeakSignalA            float64
	PeakSignalB            float64
	ThresholdA, ThresholdB float64
	TimestampMs            int64
}

// HeuristicDetector runs one SensorTracker per position and fuses the three
// modules by consensus. It is not safe for concurrent use.
type HeuristicDetector struct {
	cfg      DetectorConfig
	trackers [NumSensors]*SensorTracker
	cal      CalibrationSource
	logf     monitoring.Logger

	// aggregation of the current millisecond
	pendingMs  int64
	pendingSet [NumSensors]bool
	pendingVal [NumSensors]uint16
	hasPending bool

	// first time an unreported module pairing was seen, -1 when none
	firstPairMs int64

	result    DetectionResult
	hasResult bool

	lastModule   ModuleDiagnostics
	haveLastMod  bool
	modsScratch  [NumModules]ModuleDetection
	detectedMods int
}

// NewHeuristicDetector creates a detector with the given configuration.
// Out-of-range buffer settings are clamped.
func NewHeuristicDetector(cfg DetectorConfig) *HeuristicDetector {
	d := &HeuristicDetector{
		cfg:         cfg.clamped(),
		logf:        monitoring.Discard,
		firstPairMs: -1,
	}
	for i := range d.trackers {
		d.trackers[i] = NewSensorTracker(i)
	}
	return d
}

// SetLogger sets the diagnostic logger. nil mutes it.
func (d *HeuristicDetector) SetLogger(l monitoring.Logger) { d.logf = monitoring.OrDiscard(l) }

// Config returns the active configuration.
func (d *HeuristicDetector) Config() DetectorConfig { return d.cfg }

// SetConfig replaces the configuration between processing steps and
// recomputes the threshold of every ready sensor.
func (d *HeuristicDetector) SetConfig(cfg DetectorConfig) {
	d.cfg = cfg.clamped()
	d.recomputeAll()
}

// SetCalibration replaces the calibration source; nil clears it. Thresholds
// of ready sensors are recomputed immediately.
func (d *HeuristicDetector) SetCalibration(src CalibrationSource) {
	d.cal = src
	if cal := d.snapshot(); cal != nil && cal.IsValid() {
		d.logf("[heuristic] calibration set")
	} else {
		d.logf("[heuristic] calibration cleared (invalid or nil)")
	}
	d.recomputeAll()
}

// RefreshCalibration re-reads the calibration source and recomputes the
// threshold of every ready sensor. Owners call it after swapping the
// snapshot behind a CalibrationHolder.
func (d *HeuristicDetector) RefreshCalibration() { d.recomputeAll() }

func (d *HeuristicDetector) snapshot() *DeviceCalibration {
	if d.cal == nil {
		return nil
	}
	return d.cal.Calibration()
}

// override reads the source once per tracker recomputation.
func (d *HeuristicDetector) override(module int) (float64, bool) {
	return d.snapshot().ModuleThreshold(module)
}

func (d *HeuristicDetector) recomputeAll() {
	cal := d.snapshot()
	fixed := func(module int) (float64, bool) { return cal.ModuleThreshold(module) }
	for _, t := range d.trackers {
		if t.BaselineReady() {
			t.Recompute(&d.cfg, fixed)
		}
	}
}

// AddReading implements Detector.
func (d *HeuristicDetector) AddReading(r SensorReading) {
	if !r.Valid() {
		return
	}
	ms := r.TimestampMs()
	if d.hasPending && ms != d.pendingMs {
		d.FlushReading()
	}
	d.pendingMs = ms
	d.pendingSet[r.Position] = true
	d.pendingVal[r.Position] = r.Proximity
	d.hasPending = true
}

// FlushReading implements Detector.
func (d *HeuristicDetector) FlushReading() {
	if !d.hasPending {
		return
	}
	now := d.pendingMs
	for pos, set := range d.pendingSet {
		if !set {
			continue
		}
		t := d.trackers[pos]
		before := t.State()
		smoothed := t.Smooth(float64(d.pendingVal[pos]), d.cfg.SmoothingWindow)
		wasReady := t.BaselineReady()
		t.Ingest(smoothed, now, &d.cfg, d.override)
		if !wasReady && t.BaselineReady() {
			d.logf("[heuristic] sensor %d baseline established: max=%.1f threshold=%.1f (%s)",
				pos, t.BaselineMax(), t.Threshold(), t.ThresholdSource())
		}
		if before == WaveInWave && t.State() == WaveComplete {
			w := t.Wave()
			d.logf("[heuristic] sensor %d wave complete: start=%d peak=%d (%.1f) end=%d com=%.1f",
				pos, w.StartMs, w.PeakMs, w.PeakValue, w.EndMs, w.CenterOfMass)
		}
		d.pendingSet[pos] = false
	}
	d.hasPending = false

	for _, t := range d.trackers {
		if t.Expire(now, d.cfg.MaxPeakGapMs) {
			d.logf("[heuristic] sensor %d wave expired unpaired", t.Position())
		}
	}
	d.evaluate(now)
}

// evaluate checks every module. Once at least one module has paired it
// waits until no sensor is mid-wave, or MaxPeakGapMs has passed, so that
// slower modules can join the vote.
func (d *HeuristicDetector) evaluate(now int64) {
	n := 0
	for m := 0; m < NumModules; m++ {
		a := d.trackers[SensorPosition(m, SideA)]
		b := d.trackers[SensorPosition(m, SideB)]
		wa, wb := a.Wave(), b.Wave()
		if !IsModuleDetected(wa, wb, &d.cfg) {
			continue
		}
		a.markPaired()
		b.markPaired()
		d.modsScratch[n] = ModuleDetection{
			Module:     m,
			Direction:  ModuleDirection(wa, wb),
			A:          wa,
			B:          wb,
			ThresholdA: a.Threshold(),
			ThresholdB: b.Threshold(),
			BaselineA:  a.BaselineMax(),
			BaselineB:  b.BaselineMax(),
		}
		n++
	}
	d.detectedMods = n
	if n == 0 {
		d.firstPairMs = -1
		return
	}
	if d.firstPairMs < 0 {
		d.firstPairMs = now
	}
	if d.anyInWave() && now-d.firstPairMs < d.cfg.MaxPeakGapMs {
		return
	}

	res, _ := Consensus(d.modsScratch[:n], now)
	if d.hasResult {
		d.logf("[heuristic] undrained result overwritten")
	}
	d.result = res
	d.hasResult = true

	auth := d.modsScratch[0]
	for _, m := range d.modsScratch[:n] {
		if m.Module+1 == res.DetectedModule {
			auth = m
		}
	}
	d.lastModule = ModuleDiagnostics{
		Module:        auth.Module + 1,
		Direction:     auth.Direction,
		CenterOfMassA: auth.A.CenterOfMass,
		CenterOfMassB: auth.B.CenterOfMass,
		PeakSignalA:   auth.A.PeakValue,
		PeakSignalB:   auth.B.PeakValue,
		ThresholdA:    auth.ThresholdA,
		ThresholdB:    auth.ThresholdB,
		TimestampMs:   now,
	}
	d.haveLastMod = true

	// The paired waves are consumed by this result.
	for _, m := range d.modsScratch[:n] {
		d.trackers[SensorPosition(m.Module, SideA)].ResetWave()
		d.trackers[SensorPosition(m.Module, SideB)].ResetWave()
	}
	d.firstPairMs = -1
	d.detectedMods = 0

	d.logf("[heuristic] detection: %s confidence=%.2f module=%d modules=%d consistent=%t gap=%.1fms",
		res.Direction, res.Confidence, res.DetectedModule, res.ModulesDetected, res.DirectionConsistent, res.ComGapMs)
}

func (d *HeuristicDetector) anyInWave() bool {
	for _, t := range d.trackers {
		if t.State() == WaveInWave {
			return true
		}
	}
	return false
}

// IsModuleDetected reports whether module m (zero-based) currently holds a
// paired transit that has not been reported yet.
func (d *HeuristicDetector) IsModuleDetected(m int) bool {
	if m < 0 || m >= NumModules {
		return false
	}
	a := d.trackers[SensorPosition(m, SideA)].Wave()
	b := d.trackers[SensorPosition(m, SideB)].Wave()
	return IsModuleDetected(a, b, &d.cfg)
}

// HasDetection implements Detector.
func (d *HeuristicDetector) HasDetection() bool { return d.hasResult }

// Result implements Detector.
func (d *HeuristicDetector) Result() (DetectionResult, bool) {
	if !d.hasResult {
		return DetectionResult{}, false
	}
	d.hasResult = false
	return d.result, true
}

// LastModule returns diagnostics for the most recently detected module.
// ok is false until a module has been detected; there is no default module.
func (d *HeuristicDetector) LastModule() (ModuleDiagnostics, bool) {
	return d.lastModule, d.haveLastMod
}

// Reset implements Detector. Baselines and thresholds survive.
func (d *HeuristicDetector) Reset() {
	for _, t := range d.trackers {
		t.Reset()
	}
	d.clearTransient()
}

// FullReset implements Detector.
func (d *HeuristicDetector) FullReset() {
	for _, t := range d.trackers {
		t.FullReset()
	}
	d.clearTransient()
	d.haveLastMod = false
	d.lastModule = ModuleDiagnostics{}
}

func (d *HeuristicDetector) clearTransient() {
	d.pendingSet = [NumSensors]bool{}
	d.hasPending = false
	d.firstPairMs = -1
	d.detectedMods = 0
	d.hasResult = false
	d.result = DetectionResult{}
}

// IsReady implements Detector: every sensor has a baseline.
func (d *HeuristicDetector) IsReady() bool {
	for _, t := range d.trackers {
		if !t.BaselineReady() {
			return false
		}
	}
	return true
}

// State implements Detector.
func (d *HeuristicDetector) State() DetectorState {
	if !d.IsReady() {
		return StateEstablishingBaseline
	}
	if d.anyInWave() {
		return StateDetecting
	}
	return StateReady
}

// Tracker returns the tracker for a position, or nil when out of range.
func (d *HeuristicDetector) Tracker(pos int) *SensorTracker {
	if pos < 0 || pos >= NumSensors {
		return nil
	}
	return d.trackers[pos]
}

// DebugString implements Detector.
func (d *HeuristicDetector) DebugString() string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== HeuristicDetector ===\n")
	fmt.Fprintf(&b, "state: %s\n", d.State())
	fmt.Fprintf(&b, "calibration: %t\n", d.snapshot() != nil)
	for _, t := range d.trackers {
		mean, std := t.BaselineStats()
		w := t.Wave()
		fmt.Fprintf(&b, "sensor %d (module %d side %s): baseline %d/%d mean=%.1f std=%.1f max=%.1f threshold=%.1f (%s) wave=%s",
			t.Position(), t.Module()+1, Side(t.Position()%2), min(t.BaselineCount(), d.cfg.BaselineReadings), d.cfg.BaselineReadings,
			mean, std, t.BaselineMax(), t.Threshold(), t.ThresholdSource(), w.State)
		if w.State != WaveIdle {
			fmt.Fprintf(&b, " start=%d peak=%.1f@%d", w.StartMs, w.PeakValue, w.PeakMs)
		}
		b.WriteString("\n")
	}
	if m, ok := d.LastModule(); ok {
		fmt.Fprintf(&b, "last module: %d %s at %dms\n", m.Module, m.Direction, m.TimestampMs)
	} else {
		b.WriteString("last module: none\n")
	}
	fmt.Fprintf(&b, "pending result: %t\n", d.hasResult)
	return b.String()
}

// DebugPrint implements Detector.
func (d *HeuristicDetector) DebugPrint() {
	for _, line := range strings.Split(strings.TrimRight(d.DebugString(), "\n"), "\n") {
		d.logf("%s", line)
	}
}
