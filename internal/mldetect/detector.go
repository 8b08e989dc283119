package mldetect

import (
	"fmt"
	"strings"
	"time"

	"github.com/motion-play/hoopsense/internal/detection"
	"github.com/motion-play/hoopsense/internal/monitoring"
	"github.com/motion-play/hoopsense/internal/ringbuf"
	"github.com/motion-play/hoopsense/internal/timeutil"
	"github.com/motion-play/hoopsense/internal/tinyml"
)

// Options configure a Detector. Either Model or Interpreter must be set
// before Init.
type Options struct {
	Config Config
	// Model is a tinyml artifact.
	Model []byte
	// Pools the tensor arena may come from. The largest one is used.
	// Defaults to a heap pool holding exactly one arena.
	Pools []tinyml.Pool
	// Interpreter replaces the artifact with a ready interpreter.
	Interpreter Interpreter
	Logf        monitoring.Logger
	Clock       timeutil.Clock
}

// Detector triggers on summed side signals and classifies the captured
// window with a neural network. It implements detection.Detector and is
// not safe for concurrent use.
type Detector struct {
	cfg   Config
	opts  Options
	logf  monitoring.Logger
	clock timeutil.Clock

	interp  Interpreter
	runtime *tinymlRuntime
	ready   bool

	frames  *ringbuf.Ring[Frame]
	smoothA *ringbuf.Ring[float64]
	smoothB *ringbuf.Ring[float64]

	pending    Frame
	hasPending bool
	lastProx   [NumPositions]uint16

	state         detection.DetectorState
	baselineCount int
	baselineSumA  float64
	baselineSumB  float64
	baselineMaxA  float64
	baselineMaxB  float64
	thresholdA    float64
	thresholdB    float64

	triggerMs     int64
	lastDetection int64
	hasDetected   bool // lastDetection is set

	result    detection.DetectionResult
	hasResult bool

	lastInference time.Duration
	lastOutput    [NumClasses]float32
}

// New creates a detector. It does no model work until Init.
func New(opts Options) *Detector {
	if opts.Config == (Config{}) {
		opts.Config = DefaultConfig()
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	cfg := opts.Config
	return &Detector{
		cfg:     cfg,
		opts:    opts,
		logf:    monitoring.OrDiscard(opts.Logf),
		clock:   opts.Clock,
		frames:  ringbuf.New[Frame](max(1, cfg.RingFrames)),
		smoothA: ringbuf.New[float64](smoothBufferSize),
		smoothB: ringbuf.New[float64](smoothBufferSize),
		state:   detection.StateEstablishingBaseline,
	}
}

// Init loads the model and allocates the tensor arena once. A failure
// leaves the detector without a model; callers should fall back to
// another backend rather than run this one.
func (d *Detector) Init() error {
	if d.ready {
		return nil
	}
	if err := d.cfg.Validate(); err != nil {
		return fmt.Errorf("mldetect: %w", err)
	}

	if d.opts.Interpreter != nil {
		if err := checkShape(d.opts.Interpreter, d.cfg); err != nil {
			d.logf("[ml] ERROR: %v", err)
			return err
		}
		d.interp = d.opts.Interpreter
		d.ready = true
		d.logf("[ml] using supplied interpreter")
		return nil
	}

	pools := d.opts.Pools
	if len(pools) == 0 {
		pools = []tinyml.Pool{tinyml.NewHeapPool("heap", d.cfg.ArenaSize)}
	}
	rt, err := loadRuntime(d.opts.Model, d.cfg, pools)
	if err != nil {
		d.logf("[ml] ERROR: %v", err)
		return err
	}
	d.runtime, d.interp, d.ready = rt, rt, true
	d.logf("[ml] model %q loaded (%d bytes, schema v%d), arena %d/%d bytes from %s",
		rt.interp.Model().Name, len(d.opts.Model), rt.interp.Model().Version,
		rt.interp.ArenaUsed(), rt.interp.ArenaSize(), rt.pool.Name())
	return nil
}

// Close releases the interpreter and arena. Init may be called again.
func (d *Detector) Close() error {
	if d.runtime != nil {
		d.runtime.release()
		d.runtime = nil
	}
	d.interp = nil
	d.ready = false
	return nil
}

// ModelReady reports whether Init succeeded.
func (d *Detector) ModelReady() bool { return d.ready }

// AddReading implements detection.Detector.
func (d *Detector) AddReading(r detection.SensorReading) {
	if !r.Valid() {
		return
	}
	ms := r.TimestampMs()
	if d.hasPending && ms != d.pending.TimestampMs {
		d.FlushReading()
	}
	if !d.hasPending {
		d.pending = Frame{TimestampMs: ms}
		d.hasPending = true
	}
	d.pending.Proximity[r.Position] = r.Proximity
	d.pending.Present |= 1 << r.Position
}

// FlushReading implements detection.Detector.
func (d *Detector) FlushReading() {
	if !d.hasPending {
		return
	}
	f := d.pending
	d.hasPending = false
	if f.Present == 0 {
		return
	}
	d.frames.Push(f)

	for p := 0; p < NumPositions; p++ {
		if f.has(p) {
			d.lastProx[p] = f.Proximity[p]
		}
	}
	var sideA, sideB float64
	for p, v := range d.lastProx {
		if detection.Side(p%2) == detection.SideA {
			sideA += float64(v)
		} else {
			sideB += float64(v)
		}
	}
	d.smoothA.Push(sideA)
	d.smoothB.Push(sideB)
	a, b := d.smoothed(d.smoothA), d.smoothed(d.smoothB)
	now := f.TimestampMs

	switch d.state {
	case detection.StateEstablishingBaseline:
		d.updateBaseline(a, b)

	case detection.StateReady:
		if d.checkTrigger(a, b, now) {
			d.state = detection.StateTriggered
			d.triggerMs = now
			d.logf("[ml] trigger at %d ms (A=%.1f, B=%.1f)", now, a, b)
		}

	case detection.StateTriggered:
		if now-d.triggerMs < d.cfg.PostTriggerDelayMs {
			return
		}
		if d.ready && d.frames.Len() >= d.cfg.MinFrames {
			t0 := d.clock.Now()
			detected := d.infer(now)
			d.lastInference = d.clock.Since(t0)
			d.logf("[ml] inference took %s", d.lastInference)
			if detected {
				d.lastDetection = now
				d.hasDetected = true
			}
		} else {
			d.logf("[ml] skipping inference: model ready=%t, frames=%d", d.ready, d.frames.Len())
		}
		d.state = detection.StateReady
	}
}

func (d *Detector) smoothed(r *ringbuf.Ring[float64]) float64 {
	n := min(d.cfg.SmoothingWindow, r.Len())
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 1; i <= n; i++ {
		v, _ := r.Last(i)
		sum += v
	}
	return sum / float64(n)
}

func (d *Detector) updateBaseline(a, b float64) {
	d.baselineSumA += a
	d.baselineSumB += b
	d.baselineMaxA = max(d.baselineMaxA, a)
	d.baselineMaxB = max(d.baselineMaxB, b)
	d.baselineCount++
	if d.baselineCount < d.cfg.BaselineReadings {
		return
	}
	d.thresholdA = d.threshold(d.baselineMaxA)
	d.thresholdB = d.threshold(d.baselineMaxB)
	d.state = detection.StateReady
	n := float64(d.baselineCount)
	d.logf("[ml] baseline established: A mean=%.1f max=%.1f threshold=%.1f, B mean=%.1f max=%.1f threshold=%.1f",
		d.baselineSumA/n, d.baselineMaxA, d.thresholdA, d.baselineSumB/n, d.baselineMaxB, d.thresholdB)
}

func (d *Detector) threshold(base float64) float64 {
	return base + max(base*(d.cfg.PeakMultiplier-1), d.cfg.MinRise)
}

func (d *Detector) checkTrigger(a, b float64, now int64) bool {
	if d.hasDetected && now-d.lastDetection < d.cfg.CooldownMs {
		return false
	}
	return a > d.thresholdA || b > d.thresholdB
}

func (d *Detector) infer(now int64) bool {
	fillWindow(d.interp.Input(), d.frames, d.cfg.WindowMs, d.cfg.NormalizationMax)
	if err := d.interp.Invoke(); err != nil {
		d.logf("[ml] ERROR: inference failed: %v", err)
		return false
	}
	out := d.interp.Output()
	copy(d.lastOutput[:], out)
	d.logf("[ml] output: A_TO_B=%.3f B_TO_A=%.3f NO_TRANSIT=%.3f",
		out[ClassAToB], out[ClassBToA], out[ClassNoTransit])

	dir, conf, ok := Classify(out, d.cfg.ConfidenceFloor)
	if !ok {
		if dir == detection.DirectionUnknown {
			d.logf("[ml] classification: NO_TRANSIT")
		} else {
			d.logf("[ml] confidence %.3f below floor %.3f", conf, d.cfg.ConfidenceFloor)
		}
		return false
	}

	d.result = detection.DetectionResult{
		Direction:   dir,
		Confidence:  float64(conf),
		BaselineA:   d.baselineMaxA,
		BaselineB:   d.baselineMaxB,
		ThresholdA:  d.thresholdA,
		ThresholdB:  d.thresholdB,
		TimestampMs: now,
	}
	d.hasResult = true
	d.logf("[ml] detection: %s (confidence=%.3f)", dir, conf)
	return true
}

// Classify interprets a softmax output. NO_TRANSIT wins ties. A transit
// class is accepted when its probability reaches floor. The returned
// direction is the winning class even when rejected, or Unknown for
// NO_TRANSIT.
func Classify(out []float32, floor float32) (detection.Direction, float32, bool) {
	if len(out) < NumClasses {
		return detection.DirectionUnknown, 0, false
	}
	best, class := out[ClassNoTransit], ClassNoTransit
	if out[ClassAToB] > best {
		best, class = out[ClassAToB], ClassAToB
	}
	if out[ClassBToA] > best {
		best, class = out[ClassBToA], ClassBToA
	}
	var dir detection.Direction
	switch class {
	case ClassAToB:
		dir = detection.DirectionAToB
	case ClassBToA:
		dir = detection.DirectionBToA
	default:
		return detection.DirectionUnknown, best, false
	}
	return dir, best, best >= floor
}

// HasDetection implements detection.Detector.
func (d *Detector) HasDetection() bool { return d.hasResult }

// Result implements detection.Detector.
func (d *Detector) Result() (detection.DetectionResult, bool) {
	if !d.hasResult {
		return detection.DetectionResult{}, false
	}
	d.hasResult = false
	return d.result, true
}

// Reset implements detection.Detector. Frames, smoothing and any pending
// trigger are dropped; the baseline, thresholds and cooldown survive.
func (d *Detector) Reset() {
	d.frames.Clear()
	d.smoothA.Clear()
	d.smoothB.Clear()
	d.hasPending = false
	d.lastProx = [NumPositions]uint16{}
	d.hasResult = false
	d.triggerMs = 0
	if d.state != detection.StateEstablishingBaseline {
		d.state = detection.StateReady
	}
}

// FullReset implements detection.Detector.
func (d *Detector) FullReset() {
	d.Reset()
	d.baselineCount = 0
	d.baselineSumA, d.baselineSumB = 0, 0
	d.baselineMaxA, d.baselineMaxB = 0, 0
	d.thresholdA, d.thresholdB = 0, 0
	d.hasDetected = false
	d.lastDetection = 0
	d.state = detection.StateEstablishingBaseline
}

// IsReady implements detection.Detector: the model is loaded and the
// baseline is established.
func (d *Detector) IsReady() bool {
	return d.ready && d.state != detection.StateEstablishingBaseline
}

// State implements detection.Detector.
func (d *Detector) State() detection.DetectorState { return d.state }

// Thresholds returns the side thresholds.
func (d *Detector) Thresholds() (a, b float64) { return d.thresholdA, d.thresholdB }

// FrameCount returns the number of buffered frames.
func (d *Detector) FrameCount() int { return d.frames.Len() }

// DebugString implements detection.Detector.
func (d *Detector) DebugString() string {
	var b strings.Builder
	b.WriteString("=== MLDetector ===\n")
	fmt.Fprintf(&b, "model ready: %t\n", d.ready)
	fmt.Fprintf(&b, "state: %s\n", d.state)
	fmt.Fprintf(&b, "baseline count: %d/%d\n", min(d.baselineCount, d.cfg.BaselineReadings), d.cfg.BaselineReadings)
	fmt.Fprintf(&b, "threshold A: %.1f, B: %.1f\n", d.thresholdA, d.thresholdB)
	fmt.Fprintf(&b, "ring buffer: %d/%d frames\n", d.frames.Len(), d.frames.Cap())
	fmt.Fprintf(&b, "detection ready: %t\n", d.hasResult)
	if d.lastInference > 0 {
		fmt.Fprintf(&b, "last inference: %s\n", d.lastInference)
	}
	if d.runtime != nil {
		fmt.Fprintf(&b, "arena used: %d/%d bytes\n", d.runtime.interp.ArenaUsed(), d.runtime.interp.ArenaSize())
	}
	return b.String()
}

// DebugPrint implements detection.Detector.
func (d *Detector) DebugPrint() {
	for _, line := range strings.Split(strings.TrimRight(d.DebugString(), "\n"), "\n") {
		d.logf("%s", line)
	}
}

var _ detection.Detector = (*Detector)(nil)
