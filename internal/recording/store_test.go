package recording

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motion-play/hoopsense/internal/detection"
	"github.com/motion-play/hoopsense/internal/testutil"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "recordings.db"), t.Logf)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenMigratesToLatest(t *testing.T) {
	s := openTestStore(t)
	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.EqualValues(t, 2, version)
	assert.False(t, dirty)

	// Re-running is a no-op.
	require.NoError(t, s.MigrateUp())
}

func TestMigrateDown(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.MigrateDown())
	version, _, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.EqualValues(t, 1, version)

	_, err = s.RecordDetection(context.Background(), Detection{Direction: detection.DirectionAToB})
	assert.Error(t, err, "detections table should be gone")

	require.NoError(t, s.MigrateUp())
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recordings.db")
	ctx := context.Background()

	s, err := Open(path, nil)
	require.NoError(t, err)
	sess, err := s.CreateSession(ctx, Session{Name: "first"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path, nil)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Name)
}

func TestSessionsAndReadings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	older, err := s.CreateSession(ctx, Session{
		ID:        "older",
		Name:      "bench",
		Label:     LabelAToB,
		CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	newer, err := s.CreateSession(ctx, Session{
		Name:      "court",
		CreatedAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, newer.ID)

	readings := []detection.SensorReading{
		{TimestampUs: 2000, Position: 1, Proximity: 40},
		{TimestampUs: 1000, Position: 0, Proximity: 30, Ambient: 7},
		{TimestampUs: 2000, Position: 0, Proximity: 35},
	}
	require.NoError(t, s.AppendReadings(ctx, older.ID, readings))

	got, err := s.Readings(ctx, older.ID)
	require.NoError(t, err)
	want := []detection.SensorReading{
		{TimestampUs: 1000, Position: 0, Proximity: 30, Ambient: 7},
		{TimestampUs: 2000, Position: 1, Proximity: 40},
		{TimestampUs: 2000, Position: 0, Proximity: 35},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Readings mismatch (-want +got):\n%s", diff)
	}

	list, err := s.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID, "newest first")
	assert.Equal(t, "older", list[1].ID)
	assert.Equal(t, 3, list[1].ReadingCount)
	assert.Equal(t, LabelAToB, list[1].Label)
	assert.True(t, list[1].CreatedAt.Equal(older.CreatedAt))
}

func TestSessionErrors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, s.SetLabel(ctx, "missing", LabelBToA), ErrSessionNotFound)
	assert.ErrorIs(t, s.DeleteSession(ctx, "missing"), ErrSessionNotFound)

	_, err = s.CreateSession(ctx, Session{Label: "sideways"})
	assert.Error(t, err)

	_, err = s.CreateSession(ctx, Session{ID: "dup"})
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, Session{ID: "dup"})
	assert.Error(t, err)

	// Readings for an unknown session violate the foreign key.
	err = s.AppendReadings(ctx, "missing", []detection.SensorReading{{TimestampUs: 1}})
	assert.Error(t, err)

	err = s.AppendReadings(ctx, "dup", []detection.SensorReading{{TimestampUs: 1, Position: 6}})
	assert.Error(t, err)
	got, err := s.Readings(ctx, "dup")
	require.NoError(t, err)
	assert.Empty(t, got, "failed append is rolled back")
}

func TestSetLabel(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, Session{})
	require.NoError(t, err)

	require.NoError(t, s.SetLabel(ctx, sess.ID, LabelNoTransit))
	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, LabelNoTransit, got.Label)
	assert.Equal(t, detection.DirectionUnknown, got.Label.Direction())

	assert.Error(t, s.SetLabel(ctx, sess.ID, "up"))
}

func TestDetections(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, Session{ID: "s1"})
	require.NoError(t, err)

	id, err := s.RecordDetection(ctx, Detection{
		SessionID:   sess.ID,
		TimestampMs: 1500,
		Direction:   detection.DirectionBToA,
		Confidence:  0.82,
		Backend:     "heuristic",
		Module:      2,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = s.RecordDetection(ctx, Detection{ID: "live", TimestampMs: 9, Direction: detection.DirectionAToB, Backend: "ml"})
	require.NoError(t, err)

	got, err := s.Detections(ctx, sess.ID)
	require.NoError(t, err)
	want := []Detection{{
		ID:          id,
		SessionID:   "s1",
		TimestampMs: 1500,
		Direction:   detection.DirectionBToA,
		Confidence:  0.82,
		Backend:     "heuristic",
		Module:      2,
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Detections mismatch (-want +got):\n%s", diff)
	}

	live, err := s.Detections(ctx, "")
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "live", live[0].ID)
	assert.Zero(t, live[0].Module)

	// Deleting the session detaches its detections.
	require.NoError(t, s.DeleteSession(ctx, sess.ID))
	live, err = s.Detections(ctx, "")
	require.NoError(t, err)
	assert.Len(t, live, 2)
}

func TestLabelDirection(t *testing.T) {
	tests := []struct {
		label Label
		want  detection.Direction
		valid bool
	}{
		{LabelAToB, detection.DirectionAToB, true},
		{LabelBToA, detection.DirectionBToA, true},
		{LabelNoTransit, detection.DirectionUnknown, true},
		{LabelNone, detection.DirectionUnknown, true},
		{"a_to_b", detection.DirectionAToB, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.label.Direction(), "label %q", tt.label)
		assert.Equal(t, tt.valid, tt.label.Valid(), "label %q", tt.label)
	}
}

func TestAttachAdminRoutes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.CreateSession(ctx, Session{ID: "abc", Name: "bench", Label: LabelBToA})
	require.NoError(t, err)
	_, err = s.RecordDetection(ctx, Detection{SessionID: "abc", TimestampMs: 40, Direction: detection.DirectionBToA, Confidence: 0.7, Backend: "ml"})
	require.NoError(t, err)

	mux := http.NewServeMux()
	require.NoError(t, s.AttachAdminRoutes(mux))

	rec := testutil.ServeDebug(mux, http.MethodGet, "/debug/sessions")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "ID"))
	assert.Contains(t, body, "abc")
	assert.Contains(t, body, "b->a")

	rec = testutil.ServeDebug(mux, http.MethodGet, "/debug/sessions.json")
	assert.Equal(t, http.StatusOK, rec.Code)
	var list []Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "bench", list[0].Name)

	rec = testutil.ServeDebug(mux, http.MethodGet, "/debug/sessions.json?id=abc")
	assert.Equal(t, http.StatusOK, rec.Code)
	var detail sessionDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, LabelBToA, detail.Session.Label)
	require.Len(t, detail.Detections, 1)
	assert.Equal(t, detection.DirectionBToA, detail.Detections[0].Direction)

	rec = testutil.ServeDebug(mux, http.MethodGet, "/debug/sessions.json?id=nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = testutil.ServeDebug(mux, http.MethodPost, "/debug/sessions.json")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
