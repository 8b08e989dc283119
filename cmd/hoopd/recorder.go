package main

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/motion-play/hoopsense/internal/detection"
	"github.com/motion-play/hoopsense/internal/monitoring"
	"github.com/motion-play/hoopsense/internal/recording"
)

const (
	recordBatchSize     = 500
	recordFlushInterval = time.Second
)

// recorder copies readings into a recording session in batches while
// passing them on unchanged.
type recorder struct {
	store     *recording.Store
	sessionID string
	logf      monitoring.Logger

	batch  []detection.SensorReading
	stored atomic.Uint64
}

func newRecorder(store *recording.Store, sessionID string, logf monitoring.Logger) *recorder {
	return &recorder{
		store:     store,
		sessionID: sessionID,
		logf:      monitoring.OrDiscard(logf),
		batch:     make([]detection.SensorReading, 0, recordBatchSize),
	}
}

// tee forwards every reading from in to out. It returns nil once in is
// closed and the final batch is written.
func (r *recorder) tee(ctx context.Context, in <-chan detection.SensorReading, out chan<- detection.SensorReading) error {
	ticker := time.NewTicker(recordFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Keep what was captured up to the shutdown.
			r.flush(context.Background())
			return ctx.Err()

		case rd, ok := <-in:
			if !ok {
				r.flush(ctx)
				return nil
			}
			r.batch = append(r.batch, rd)
			if len(r.batch) >= recordBatchSize {
				r.flush(ctx)
			}
			select {
			case out <- rd:
			case <-ctx.Done():
				r.flush(context.Background())
				return ctx.Err()
			}

		case <-ticker.C:
			r.flush(ctx)
		}
	}
}

// flush writes the pending batch. A failed write is logged and dropped so
// that detection keeps running.
func (r *recorder) flush(ctx context.Context) {
	if len(r.batch) == 0 {
		return
	}
	if err := r.store.AppendReadings(ctx, r.sessionID, r.batch); err != nil {
		r.logf("failed to record %d readings: %v", len(r.batch), err)
	} else {
		r.stored.Add(uint64(len(r.batch)))
	}
	r.batch = r.batch[:0]
}
