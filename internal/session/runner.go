package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/motion-play/hoopsense/internal/detection"
	"github.com/motion-play/hoopsense/internal/monitoring"
	"github.com/motion-play/hoopsense/internal/ringbuf"
	"github.com/motion-play/hoopsense/internal/timeutil"
)

// Event is one detection emitted by a Runner.
type Event struct {
	ID      string                    `json:"id"`
	At      time.Time                 `json:"at"` // wall clock when the result was drained
	Backend string                    `json:"backend"`
	Result  detection.DetectionResult `json:"result"`
}

// RunnerOptions configure a Runner.
type RunnerOptions struct {
	Logf  monitoring.Logger
	Clock timeutil.Clock
	// IdleFlush commits the aggregating timestamp when no reading has
	// arrived for this long. Zero uses DefaultIdleFlush; negative disables.
	IdleFlush time.Duration
	// History is the number of recent events kept for the debug routes.
	History int
}

const (
	DefaultIdleFlush = 50 * time.Millisecond
	defaultHistory   = 32
)

// Runner is the single owner of a detector. All detector calls happen on
// the goroutine running Run; other goroutines reach the detector only
// through Do.
type Runner struct {
	det     detection.Detector
	backend string
	logf    monitoring.Logger
	clock   timeutil.Clock
	idle    time.Duration

	cmds chan func(detection.Detector)

	mu     sync.Mutex
	recent *ringbuf.Ring[Event]
	total  uint64
}

// NewRunner wraps the selected detector.
func NewRunner(sel *Selection, opts RunnerOptions) *Runner {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.IdleFlush == 0 {
		opts.IdleFlush = DefaultIdleFlush
	}
	if opts.History <= 0 {
		opts.History = defaultHistory
	}
	return &Runner{
		det:     sel.Detector,
		backend: sel.Backend,
		logf:    monitoring.OrDiscard(opts.Logf),
		clock:   opts.Clock,
		idle:    opts.IdleFlush,
		cmds:    make(chan func(detection.Detector)),
		recent:  ringbuf.New[Event](opts.History),
	}
}

// Run feeds readings to the detector until readings is closed or ctx is
// done. Every pending result is drained after each reading and emitted on
// events; a nil events channel only records and logs them. When readings
// closes the last timestamp is flushed and drained before Run returns nil.
func (r *Runner) Run(ctx context.Context, readings <-chan detection.SensorReading, events chan<- Event) error {
	var tick <-chan time.Time
	if r.idle > 0 {
		t := r.clock.NewTicker(r.idle)
		defer t.Stop()
		tick = t.C()
	}
	sawReading := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case rd, ok := <-readings:
			if !ok {
				r.det.FlushReading()
				return r.drain(ctx, events)
			}
			r.det.AddReading(rd)
			sawReading = true
			if err := r.drain(ctx, events); err != nil {
				return err
			}

		case <-tick:
			if !sawReading {
				r.det.FlushReading()
				if err := r.drain(ctx, events); err != nil {
					return err
				}
			}
			sawReading = false

		case fn := <-r.cmds:
			fn(r.det)
		}
	}
}

func (r *Runner) drain(ctx context.Context, events chan<- Event) error {
	res, ok := r.det.Result()
	if !ok {
		return nil
	}
	ev := Event{
		ID:      uuid.NewString(),
		At:      r.clock.Now(),
		Backend: r.backend,
		Result:  res,
	}
	r.mu.Lock()
	r.recent.Push(ev)
	r.total++
	r.mu.Unlock()

	r.logf("detection %s: %s confidence=%.2f module=%d gap=%.1fms (%s)",
		ev.ID, res.Direction, res.Confidence, res.DetectedModule, res.ComGapMs, r.backend)

	if events == nil {
		return nil
	}
	select {
	case events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn on the Run goroutine and waits for it. It fails if ctx ends
// first, for example because Run is not running.
func (r *Runner) Do(ctx context.Context, fn func(detection.Detector)) error {
	done := make(chan struct{})
	wrapped := func(d detection.Detector) {
		defer close(done)
		fn(d)
	}
	select {
	case r.cmds <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// Recent returns the retained events, oldest first, and the total number
// emitted since the runner was created.
func (r *Runner) Recent() ([]Event, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, r.recent.Len())
	r.recent.Do(func(e Event) { out = append(out, e) })
	return out, r.total
}

// Backend returns the name of the backend in use.
func (r *Runner) Backend() string { return r.backend }
