package main

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/motion-play/hoopsense/internal/config"
	"github.com/motion-play/hoopsense/internal/detection"
	"github.com/motion-play/hoopsense/internal/monitoring"
	"github.com/motion-play/hoopsense/internal/recording"
	"github.com/motion-play/hoopsense/internal/session"
)

// sessionInput is one recording to replay.
type sessionInput struct {
	ID       string
	Name     string
	Label    recording.Label
	Readings []detection.SensorReading
}

// BackendRun is one backend's verdict on one session.
type BackendRun struct {
	Backend    string                      `json:"backend"`
	Detections []detection.DetectionResult `json:"detections"`
	// Predicted is the direction of the most confident detection, unknown
	// when there was none.
	Predicted        detection.Direction  `json:"predicted"`
	SwappedPredicted *detection.Direction `json:"swapped_predicted,omitempty"`
	SwapConsistent   *bool                `json:"swap_consistent,omitempty"`
	ProcessingUs     int64                `json:"processing_us"`
}

// SessionResult holds every backend's run over one session.
type SessionResult struct {
	SessionID string                 `json:"session_id"`
	Name      string                 `json:"name"`
	Label     recording.Label        `json:"label"`
	Readings  int                    `json:"readings"`
	Runs      map[string]*BackendRun `json:"runs"`
}

// BackendStats aggregates one backend over all sessions.
type BackendStats struct {
	Name            string      `json:"name"`
	Sessions        int         `json:"sessions"`
	Labelled        int         `json:"labelled"`
	Correct         int         `json:"correct"`
	Accuracy        float64     `json:"accuracy"`
	Detections      int         `json:"detections"`
	MeanConfidence  float64     `json:"mean_confidence"`
	StdConfidence   float64     `json:"std_confidence"`
	SwapChecked     int         `json:"swap_checked"`
	SwapConsistent  int         `json:"swap_consistent"`
	AvgProcessingUs float64     `json:"avg_processing_us_per_reading"`
	Confusion       [][]float64 `json:"confusion"` // rows expected, cols predicted
}

// AgreementStats compares the two backends' predictions.
type AgreementStats struct {
	Compared     int     `json:"compared"`
	Agreed       int     `json:"agreed"`
	AgreementPct float64 `json:"agreement_pct"`
}

// ComparisonResult is the full report.
type ComparisonResult struct {
	Sessions      []SessionResult         `json:"sessions"`
	PerBackend    map[string]BackendStats `json:"per_backend"`
	Agreement     AgreementStats          `json:"agreement"`
	MLUnavailable string                  `json:"ml_unavailable,omitempty"`
}

// directionIndex orders confusion matrix rows and columns.
func directionIndex(d detection.Direction) int {
	switch d {
	case detection.DirectionAToB:
		return 1
	case detection.DirectionBToA:
		return 2
	}
	return 0
}

type comparer struct {
	Tuning    *config.TuningConfig
	SwapCheck bool
	Logf      monitoring.Logger
}

// newDetector builds a fresh detector for backend. ok is false when the ML
// backend was requested but fell back.
func (c *comparer) newDetector(backend string) (*session.Selection, bool, error) {
	tuning := *c.Tuning
	tuning.Backend = &backend
	sel, err := session.NewDetector(session.Options{Tuning: &tuning, Logf: c.Logf})
	if err != nil {
		return nil, false, err
	}
	if sel.Backend != backend {
		sel.Close()
		return sel, false, nil
	}
	return sel, true, nil
}

// Run replays every input through each available backend.
func (c *comparer) Run(inputs []sessionInput) (*ComparisonResult, error) {
	result := &ComparisonResult{PerBackend: make(map[string]BackendStats)}

	backends := []string{config.BackendHeuristic}
	if sel, ok, err := c.newDetector(config.BackendML); err != nil {
		return nil, err
	} else if ok {
		sel.Close()
		backends = append(backends, config.BackendML)
	} else {
		result.MLUnavailable = sel.FallbackReason.Error()
	}

	for _, in := range inputs {
		sr := SessionResult{
			SessionID: in.ID,
			Name:      in.Name,
			Label:     in.Label,
			Readings:  len(in.Readings),
			Runs:      make(map[string]*BackendRun),
		}
		for _, backend := range backends {
			run, err := c.runBackend(backend, in.Readings)
			if err != nil {
				return nil, fmt.Errorf("session %s, %s: %w", in.ID, backend, err)
			}
			sr.Runs[backend] = run
		}
		result.Sessions = append(result.Sessions, sr)
	}

	for _, backend := range backends {
		result.PerBackend[backend] = summarize(backend, result.Sessions)
	}
	if len(backends) == 2 {
		result.Agreement = agreement(result.Sessions, backends[0], backends[1])
	}
	return result, nil
}

func (c *comparer) runBackend(backend string, readings []detection.SensorReading) (*BackendRun, error) {
	sel, _, err := c.newDetector(backend)
	if err != nil {
		return nil, err
	}
	defer sel.Close()

	start := time.Now()
	dets := replay(sel.Detector, readings, false)
	run := &BackendRun{
		Backend:      backend,
		Detections:   dets,
		Predicted:    predicted(dets),
		ProcessingUs: time.Since(start).Microseconds(),
	}

	if c.SwapCheck && run.Predicted != detection.DirectionUnknown {
		swapSel, _, err := c.newDetector(backend)
		if err != nil {
			return nil, err
		}
		defer swapSel.Close()
		swapped := predicted(replay(swapSel.Detector, readings, true))
		consistent := swapped == run.Predicted.Flip()
		run.SwappedPredicted = &swapped
		run.SwapConsistent = &consistent
	}
	return run, nil
}

// replay feeds readings in order and collects every result, then flushes
// the final timestamp. With swap set each module's A and B sensors are
// exchanged.
func replay(det detection.Detector, readings []detection.SensorReading, swap bool) []detection.DetectionResult {
	var out []detection.DetectionResult
	for _, r := range readings {
		if swap {
			r = detection.SwapSides(r)
		}
		det.AddReading(r)
		if res, ok := det.Result(); ok {
			out = append(out, res)
		}
	}
	det.FlushReading()
	if res, ok := det.Result(); ok {
		out = append(out, res)
	}
	return out
}

func predicted(dets []detection.DetectionResult) detection.Direction {
	best := -1
	for i, d := range dets {
		if d.Direction == detection.DirectionUnknown {
			continue
		}
		if best < 0 || d.Confidence > dets[best].Confidence {
			best = i
		}
	}
	if best < 0 {
		return detection.DirectionUnknown
	}
	return dets[best].Direction
}

func summarize(backend string, sessions []SessionResult) BackendStats {
	st := BackendStats{Name: backend}
	confusion := mat.NewDense(3, 3, nil)
	var confidences []float64
	var totalUs float64
	var totalReadings int

	for _, s := range sessions {
		run, ok := s.Runs[backend]
		if !ok {
			continue
		}
		st.Sessions++
		totalUs += float64(run.ProcessingUs)
		totalReadings += s.Readings
		for _, d := range run.Detections {
			confidences = append(confidences, d.Confidence)
		}
		if run.SwapConsistent != nil {
			st.SwapChecked++
			if *run.SwapConsistent {
				st.SwapConsistent++
			}
		}
		if s.Label == recording.LabelNone {
			continue
		}
		st.Labelled++
		i, j := directionIndex(s.Label.Direction()), directionIndex(run.Predicted)
		confusion.Set(i, j, confusion.At(i, j)+1)
	}

	st.Detections = len(confidences)
	if len(confidences) > 0 {
		st.MeanConfidence, st.StdConfidence = stat.MeanStdDev(confidences, nil)
		if len(confidences) == 1 {
			st.StdConfidence = 0
		}
	}
	if total := mat.Sum(confusion); total > 0 {
		st.Correct = int(mat.Trace(confusion))
		st.Accuracy = mat.Trace(confusion) / total
	}
	if totalReadings > 0 {
		st.AvgProcessingUs = totalUs / float64(totalReadings)
	}
	st.Confusion = make([][]float64, 3)
	for i := range st.Confusion {
		st.Confusion[i] = mat.Row(nil, i, confusion)
	}
	return st
}

func confusionMatrix(rows [][]float64) *mat.Dense {
	m := mat.NewDense(3, 3, nil)
	for i, row := range rows {
		m.SetRow(i, row)
	}
	return m
}

func agreement(sessions []SessionResult, a, b string) AgreementStats {
	var st AgreementStats
	for _, s := range sessions {
		ra, okA := s.Runs[a]
		rb, okB := s.Runs[b]
		if !okA || !okB {
			continue
		}
		st.Compared++
		if ra.Predicted == rb.Predicted {
			st.Agreed++
		}
	}
	if st.Compared > 0 {
		st.AgreementPct = 100 * float64(st.Agreed) / float64(st.Compared)
	}
	return st
}

// backendOrder lists map keys with the heuristic backend first.
func backendOrder[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if names[i] == config.BackendHeuristic || names[j] == config.BackendHeuristic {
			return names[i] == config.BackendHeuristic
		}
		return names[i] < names[j]
	})
	return names
}
