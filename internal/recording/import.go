package recording

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/motion-play/hoopsense/internal/detection"
	"github.com/motion-play/hoopsense/internal/ingest"
)

// sessionFile is the downloaded-session JSON layout. Only the fields the
// importer uses are declared.
type sessionFile struct {
	Session struct {
		SessionID string   `json:"session_id"`
		Labels    []string `json:"labels"`
		Mode      string   `json:"mode"`
	} `json:"session"`
	Readings []struct {
		TimestampOffset int64 `json:"timestamp_offset"` // ms from session start
		Position        int   `json:"position"`
		Proximity       int   `json:"proximity"`
		Ambient         int   `json:"ambient"`
	} `json:"readings"`
}

// ImportResult summarises an import.
type ImportResult struct {
	Session  Session
	Imported int
	Skipped  int // negative offsets or out-of-range positions
}

// labelFromList picks the ground-truth label the way the training tools do:
// a->b wins over b->a, which wins over no-transit.
func labelFromList(labels []string) Label {
	for _, want := range []Label{LabelAToB, LabelBToA, LabelNoTransit} {
		for _, l := range labels {
			if Label(l) == want {
				return want
			}
		}
	}
	return LabelNone
}

// ImportSessionJSON stores a downloaded session file. name is used when the
// file carries no session id. Readings with a negative offset or an invalid
// position are skipped; the rest are stored sorted by time.
func (s *Store) ImportSessionJSON(ctx context.Context, r io.Reader, name string) (ImportResult, error) {
	var f sessionFile
	dec := json.NewDecoder(r)
	if err := dec.Decode(&f); err != nil {
		return ImportResult{}, fmt.Errorf("decode session json: %w", err)
	}

	var res ImportResult
	readings := make([]detection.SensorReading, 0, len(f.Readings))
	for _, rd := range f.Readings {
		if rd.TimestampOffset < 0 || rd.Position < 0 || rd.Position >= detection.NumSensors ||
			rd.Proximity < 0 || rd.Proximity > 0xffff {
			res.Skipped++
			continue
		}
		readings = append(readings, detection.SensorReading{
			TimestampUs: uint64(rd.TimestampOffset) * 1000,
			Position:    uint8(rd.Position),
			Proximity:   uint16(rd.Proximity),
			Ambient:     uint16(max(0, min(rd.Ambient, 0xffff))),
		})
	}
	sort.SliceStable(readings, func(i, j int) bool { return readings[i].TimestampUs < readings[j].TimestampUs })

	sess := Session{
		ID:     f.Session.SessionID,
		Name:   name,
		Label:  labelFromList(f.Session.Labels),
		Source: "json",
	}
	if f.Session.Mode != "" {
		sess.Source = "json:" + f.Session.Mode
	}
	return s.store(ctx, sess, readings, res)
}

// ImportCSV stores a CSV capture (see ingest.ReadCSV) as a new session.
func (s *Store) ImportCSV(ctx context.Context, r io.Reader, sess Session) (ImportResult, error) {
	readings, err := ingest.ReadCSV(r)
	if err != nil {
		return ImportResult{}, err
	}
	if sess.Source == "" {
		sess.Source = "csv"
	}
	return s.store(ctx, sess, readings, ImportResult{})
}

func (s *Store) store(ctx context.Context, sess Session, readings []detection.SensorReading, res ImportResult) (ImportResult, error) {
	sess, err := s.CreateSession(ctx, sess)
	if err != nil {
		return ImportResult{}, err
	}
	if err := s.AppendReadings(ctx, sess.ID, readings); err != nil {
		if derr := s.DeleteSession(ctx, sess.ID); derr != nil {
			s.logf("recording: cleanup of %s failed: %v", sess.ID, derr)
		}
		return ImportResult{}, err
	}
	sess.ReadingCount = len(readings)
	res.Session = sess
	res.Imported = len(readings)
	s.logf("recording: imported session %s (%d readings, %d skipped, label %q)", sess.ID, res.Imported, res.Skipped, sess.Label)
	return res, nil
}
