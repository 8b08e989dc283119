// Package session owns a direction detector: it picks the backend, feeds it
// readings from a single goroutine and turns results into events.
package session

import (
	"fmt"
	"os"

	"github.com/motion-play/hoopsense/internal/config"
	"github.com/motion-play/hoopsense/internal/detection"
	"github.com/motion-play/hoopsense/internal/mldetect"
	"github.com/motion-play/hoopsense/internal/monitoring"
	"github.com/motion-play/hoopsense/internal/timeutil"
	"github.com/motion-play/hoopsense/internal/tinyml"
)

// Options select and configure a backend.
type Options struct {
	Tuning *config.TuningConfig

	// Model overrides the artifact at Tuning's model_path.
	Model []byte
	// Pools for the ML tensor arena; nil uses a heap pool.
	Pools []tinyml.Pool

	// Calibration is consulted by the heuristic backend.
	Calibration detection.CalibrationSource

	Logf  monitoring.Logger
	Clock timeutil.Clock
}

// Selection is the detector chosen by NewDetector.
type Selection struct {
	Detector detection.Detector
	// Backend is the backend in use, which differs from the requested one
	// after a fallback.
	Backend   string
	Requested string
	// FallbackReason is why the ML backend could not be used.
	FallbackReason error

	ml *mldetect.Detector
}

// Close releases the ML interpreter if one was initialised.
func (s *Selection) Close() error {
	if s.ml != nil {
		return s.ml.Close()
	}
	return nil
}

// NewDetector builds the backend named by the tuning config. When the ML
// backend cannot load its model or allocate its arena it logs the reason
// and falls back to the heuristic detector. Only an invalid config is an
// error.
func NewDetector(opts Options) (*Selection, error) {
	tuning := opts.Tuning
	if tuning == nil {
		tuning = config.EmptyTuningConfig()
	}
	if err := tuning.Validate(); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	logf := monitoring.OrDiscard(opts.Logf)

	sel := &Selection{Requested: tuning.GetBackend()}
	if sel.Requested == config.BackendML {
		ml, err := newML(tuning, opts)
		if err == nil {
			sel.Detector, sel.Backend, sel.ml = ml, config.BackendML, ml
			return sel, nil
		}
		sel.FallbackReason = err
		logf("session: ML backend unavailable, falling back to heuristic: %v", err)
	}

	h := detection.NewHeuristicDetector(tuning.DetectorConfig())
	h.SetLogger(opts.Logf)
	if opts.Calibration != nil {
		h.SetCalibration(opts.Calibration)
	}
	sel.Detector, sel.Backend = h, config.BackendHeuristic
	return sel, nil
}

func newML(tuning *config.TuningConfig, opts Options) (*mldetect.Detector, error) {
	model := opts.Model
	if model == nil {
		path := tuning.GetModelPath()
		if path == "" {
			return nil, fmt.Errorf("%w: no model_path configured", mldetect.ErrNoModel)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read model: %w", err)
		}
		model = b
	}
	ml := mldetect.New(mldetect.Options{
		Config: tuning.MLConfig(),
		Model:  model,
		Pools:  opts.Pools,
		Logf:   opts.Logf,
		Clock:  opts.Clock,
	})
	if err := ml.Init(); err != nil {
		return nil, err
	}
	return ml, nil
}
