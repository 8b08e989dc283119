package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/motion-play/hoopsense/internal/detection"
)

// CSVHeader is the optional first row of a capture file.
var CSVHeader = []string{"timestamp_us", "position", "proximity", "ambient"}

// ReadCSV reads a capture file in the line protocol. An optional header row
// and '#' comment lines are skipped. Readings must not go backwards in
// time; captures stitched from several boots need splitting first.
func ReadCSV(r io.Reader) ([]detection.SensorReading, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	var (
		out    []detection.SensorReading
		lastTs uint64
	)
	for row := 1; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if row == 1 && isHeader(rec) {
			continue
		}
		if len(rec) != 3 && len(rec) != 4 {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("line %d: %w: want 3 or 4 fields, got %d", line, ErrMalformedLine, len(rec))
		}
		reading, err := parseFields(rec)
		if err != nil {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if reading.TimestampUs < lastTs {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("line %d: %w: timestamp %d before %d", line, ErrMalformedLine, reading.TimestampUs, lastTs)
		}
		lastTs = reading.TimestampUs
		out = append(out, reading)
	}
}

func isHeader(rec []string) bool {
	if len(rec) == 0 {
		return false
	}
	_, err := strconv.ParseUint(strings.TrimSpace(rec[0]), 10, 64)
	return err != nil && strings.EqualFold(strings.TrimSpace(rec[0]), CSVHeader[0])
}

// WriteCSV writes readings with a header row.
func WriteCSV(w io.Writer, readings []detection.SensorReading) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	rec := make([]string, 4)
	for _, r := range readings {
		rec[0] = strconv.FormatUint(r.TimestampUs, 10)
		rec[1] = strconv.Itoa(int(r.Position))
		rec[2] = strconv.Itoa(int(r.Proximity))
		rec[3] = strconv.Itoa(int(r.Ambient))
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
