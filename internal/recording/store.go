// Package recording stores captured sensor sessions in sqlite so they can be
// replayed through the detectors offline, and keeps the detections the live
// daemon emitted.
package recording

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/motion-play/hoopsense/internal/detection"
	"github.com/motion-play/hoopsense/internal/monitoring"
)

// ErrSessionNotFound is returned when a session id is unknown.
var ErrSessionNotFound = errors.New("session not found")

// Label is the ground-truth annotation attached to a recorded session.
type Label string

const (
	LabelNone      Label = ""
	LabelAToB      Label = "a->b"
	LabelBToA      Label = "b->a"
	LabelNoTransit Label = "no-transit"
)

// Valid reports whether l is one of the known labels.
func (l Label) Valid() bool {
	switch l {
	case LabelNone, LabelAToB, LabelBToA, LabelNoTransit:
		return true
	}
	return false
}

// Direction maps the label onto a detector direction. Both the no-transit
// and the empty label map to DirectionUnknown.
func (l Label) Direction() detection.Direction {
	d, _ := detection.ParseDirection(string(l))
	return d
}

// Session is one recorded capture.
type Session struct {
	ID        string    `json:"session_id"`
	Name      string    `json:"name"`
	Label     Label     `json:"label"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`

	// ReadingCount is filled by Sessions and GetSession.
	ReadingCount int `json:"reading_count"`
}

// Detection is a detector result as persisted by the daemon.
type Detection struct {
	ID          string              `json:"detection_id"`
	SessionID   string              `json:"session_id,omitempty"` // empty for live detections outside a session
	TimestampMs int64               `json:"timestamp_ms"`
	Direction   detection.Direction `json:"direction"`
	Confidence  float64             `json:"confidence"`
	Backend     string              `json:"backend"`
	Module      int                 `json:"module"` // 1-indexed, 0 when not applicable
}

// Store is the recording database.
type Store struct {
	*sql.DB
	path string
	logf monitoring.Logger
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(path string, logf monitoring.Logger) (*Store, error) {
	dsn := "file:" + path + "?" + url.Values{
		"_pragma": {"foreign_keys(1)", "busy_timeout(5000)", "journal_mode(WAL)"},
	}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One writer at a time keeps sqlite from returning SQLITE_BUSY under the
	// daemon's concurrent insert and debug console load.
	db.SetMaxOpenConns(1)

	s := &Store{DB: db, path: path, logf: monitoring.OrDiscard(logf)}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// CreateSession inserts a session. A missing ID is generated.
func (s *Store) CreateSession(ctx context.Context, sess Session) (Session, error) {
	if !sess.Label.Valid() {
		return Session{}, fmt.Errorf("invalid label %q", sess.Label)
	}
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	_, err := s.ExecContext(ctx,
		`INSERT INTO sessions (session_id, name, label, source, created_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.Name, string(sess.Label), sess.Source, sess.CreatedAt)
	if err != nil {
		return Session{}, fmt.Errorf("create session %s: %w", sess.ID, err)
	}
	return sess, nil
}

// SetLabel replaces a session's ground-truth label.
func (s *Store) SetLabel(ctx context.Context, id string, label Label) error {
	if !label.Valid() {
		return fmt.Errorf("invalid label %q", label)
	}
	res, err := s.ExecContext(ctx, `UPDATE sessions SET label = ? WHERE session_id = ?`, string(label), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// AppendReadings adds readings to a session in a single transaction.
func (s *Store) AppendReadings(ctx context.Context, sessionID string, readings []detection.SensorReading) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO readings (session_id, timestamp_us, position, proximity, ambient) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range readings {
		if !r.Valid() {
			return fmt.Errorf("reading at %dus: position %d out of range", r.TimestampUs, r.Position)
		}
		if _, err := stmt.ExecContext(ctx, sessionID, int64(r.TimestampUs), r.Position, r.Proximity, r.Ambient); err != nil {
			return fmt.Errorf("append readings to %s: %w", sessionID, err)
		}
	}
	return tx.Commit()
}

// Readings returns a session's readings in capture order.
func (s *Store) Readings(ctx context.Context, sessionID string) ([]detection.SensorReading, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT timestamp_us, position, proximity, ambient FROM readings
		 WHERE session_id = ? ORDER BY timestamp_us, rowid`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []detection.SensorReading
	for rows.Next() {
		var (
			ts             int64
			pos, prox, amb int64
		)
		if err := rows.Scan(&ts, &pos, &prox, &amb); err != nil {
			return nil, err
		}
		out = append(out, detection.SensorReading{
			TimestampUs: uint64(ts),
			Position:    uint8(pos),
			Proximity:   uint16(prox),
			Ambient:     uint16(amb),
		})
	}
	return out, rows.Err()
}

const sessionColumns = `s.session_id, s.name, s.label, s.source, s.created_at,
	(SELECT COUNT(*) FROM readings r WHERE r.session_id = s.session_id)`

func scanSession(sc interface{ Scan(...any) error }) (Session, error) {
	var (
		sess  Session
		label string
	)
	if err := sc.Scan(&sess.ID, &sess.Name, &label, &sess.Source, &sess.CreatedAt, &sess.ReadingCount); err != nil {
		return Session{}, err
	}
	sess.Label = Label(label)
	return sess, nil
}

// Sessions lists all sessions, newest first.
func (s *Store) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := s.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions s ORDER BY s.created_at DESC, s.session_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// GetSession returns one session.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions s WHERE s.session_id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, err
}

// DeleteSession removes a session and its readings. Detections recorded
// against it are kept and detached.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// RecordDetection persists one detection. A missing ID is generated.
func (s *Store) RecordDetection(ctx context.Context, d Detection) (string, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	var sessionID, module any
	if d.SessionID != "" {
		sessionID = d.SessionID
	}
	if d.Module > 0 {
		module = d.Module
	}
	_, err := s.ExecContext(ctx,
		`INSERT INTO detections (detection_id, session_id, timestamp_ms, direction, confidence, backend, module)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, sessionID, d.TimestampMs, d.Direction.String(), d.Confidence, d.Backend, module)
	if err != nil {
		return "", fmt.Errorf("record detection: %w", err)
	}
	return d.ID, nil
}

// Detections returns the detections recorded for a session, or the live
// detections outside any session when sessionID is empty.
func (s *Store) Detections(ctx context.Context, sessionID string) ([]Detection, error) {
	query := `SELECT detection_id, COALESCE(session_id, ''), timestamp_ms, direction, confidence, backend, COALESCE(module, 0)
		FROM detections WHERE session_id = ? ORDER BY timestamp_ms, rowid`
	args := []any{sessionID}
	if sessionID == "" {
		query = `SELECT detection_id, '', timestamp_ms, direction, confidence, backend, COALESCE(module, 0)
			FROM detections WHERE session_id IS NULL ORDER BY timestamp_ms, rowid`
		args = nil
	}
	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Detection
	for rows.Next() {
		var (
			d   Detection
			dir string
		)
		if err := rows.Scan(&d.ID, &d.SessionID, &d.TimestampMs, &dir, &d.Confidence, &d.Backend, &d.Module); err != nil {
			return nil, err
		}
		if d.Direction, err = detection.ParseDirection(dir); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
