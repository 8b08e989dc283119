package ingest

import (
	"context"
	"sync/atomic"

	"github.com/motion-play/hoopsense/internal/detection"
	"github.com/motion-play/hoopsense/internal/monitoring"
	"github.com/motion-play/hoopsense/internal/serialmux"
)

// Stats counts what a Pump has seen. Fields are updated atomically and may
// be read while the pump runs.
type Stats struct {
	Lines     atomic.Uint64
	Readings  atomic.Uint64
	Malformed atomic.Uint64
	Status    atomic.Uint64
}

// Pump converts lines into readings until lines is closed or ctx is done.
// Comments and blank lines are skipped, status lines are logged, malformed
// readings are counted and logged. Pump does not close out.
type Pump struct {
	Logf  monitoring.Logger
	Stats Stats
}

// Run blocks until lines is closed (returning nil) or ctx is cancelled.
func (p *Pump) Run(ctx context.Context, lines <-chan string, out chan<- detection.SensorReading) error {
	logf := monitoring.OrDiscard(p.Logf)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			p.Stats.Lines.Add(1)
			switch serialmux.ClassifyLine(line) {
			case serialmux.LineTypeEmpty, serialmux.LineTypeComment:
				continue
			case serialmux.LineTypeStatus:
				p.Stats.Status.Add(1)
				logf("board: %s", line)
				continue
			}
			r, err := ParseReading(line)
			if err != nil {
				// Only the first few are logged; a bad baud rate produces
				// nothing but garbage.
				if n := p.Stats.Malformed.Add(1); n <= maxLoggedMalformed {
					logf("ingest: %v", err)
				}
				continue
			}
			p.Stats.Readings.Add(1)
			select {
			case out <- r:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

const maxLoggedMalformed = 10
