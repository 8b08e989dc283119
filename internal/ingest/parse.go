// Package ingest turns the sensor board's line protocol into
// detection.SensorReading values, live from the serial mux or from CSV
// captures.
package ingest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/motion-play/hoopsense/internal/detection"
)

// ErrMalformedLine is wrapped by every parse failure.
var ErrMalformedLine = errors.New("malformed reading line")

// ParseReading parses "timestamp_us,position,proximity[,ambient]".
// Surrounding whitespace around fields is ignored.
func ParseReading(line string) (detection.SensorReading, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) != 3 && len(fields) != 4 {
		return detection.SensorReading{}, fmt.Errorf("%w: want 3 or 4 fields, got %d", ErrMalformedLine, len(fields))
	}
	return parseFields(fields)
}

func parseFields(fields []string) (detection.SensorReading, error) {
	var r detection.SensorReading

	ts, err := strconv.ParseUint(strings.TrimSpace(fields[0]), 10, 64)
	if err != nil {
		return r, fmt.Errorf("%w: timestamp %q", ErrMalformedLine, fields[0])
	}
	pos, err := strconv.ParseUint(strings.TrimSpace(fields[1]), 10, 8)
	if err != nil || pos >= detection.NumSensors {
		return r, fmt.Errorf("%w: position %q", ErrMalformedLine, fields[1])
	}
	prox, err := strconv.ParseUint(strings.TrimSpace(fields[2]), 10, 16)
	if err != nil {
		return r, fmt.Errorf("%w: proximity %q", ErrMalformedLine, fields[2])
	}

	r.TimestampUs = ts
	r.Position = uint8(pos)
	r.Proximity = uint16(prox)

	if len(fields) == 4 {
		amb, err := strconv.ParseUint(strings.TrimSpace(fields[3]), 10, 16)
		if err != nil {
			return r, fmt.Errorf("%w: ambient %q", ErrMalformedLine, fields[3])
		}
		r.Ambient = uint16(amb)
	}
	return r, nil
}

// FormatReading renders r in the line protocol. Ambient is written only when
// non-zero.
func FormatReading(r detection.SensorReading) string {
	if r.Ambient != 0 {
		return fmt.Sprintf("%d,%d,%d,%d", r.TimestampUs, r.Position, r.Proximity, r.Ambient)
	}
	return fmt.Sprintf("%d,%d,%d", r.TimestampUs, r.Position, r.Proximity)
}
