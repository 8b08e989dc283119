package ingest

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motion-play/hoopsense/internal/detection"
)

func TestParseReading(t *testing.T) {
	tests := []struct {
		line    string
		want    detection.SensorReading
		wantErr bool
	}{
		{line: "1500,2,87", want: detection.SensorReading{TimestampUs: 1500, Position: 2, Proximity: 87}},
		{line: " 1500, 5 ,87,12\r\n", want: detection.SensorReading{TimestampUs: 1500, Position: 5, Proximity: 87, Ambient: 12}},
		{line: "18446744073709551615,0,65535", want: detection.SensorReading{TimestampUs: 18446744073709551615, Proximity: 65535}},
		{line: "1500,6,87", wantErr: true},
		{line: "1500,-1,87", wantErr: true},
		{line: "1500,0,65536", wantErr: true},
		{line: "abc,0,1", wantErr: true},
		{line: "1500,0", wantErr: true},
		{line: "1500,0,1,2,3", wantErr: true},
		{line: "1500,0,1,x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseReading(tt.line)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedLine)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatReading(t *testing.T) {
	assert.Equal(t, "10,1,20", FormatReading(detection.SensorReading{TimestampUs: 10, Position: 1, Proximity: 20}))
	assert.Equal(t, "10,1,20,3", FormatReading(detection.SensorReading{TimestampUs: 10, Position: 1, Proximity: 20, Ambient: 3}))
}

func TestPump(t *testing.T) {
	lines := make(chan string, 8)
	out := make(chan detection.SensorReading, 8)
	for _, l := range []string{
		"# capture start",
		"",
		"1000,0,10",
		"FW 1.4 ready",
		"12x,0,1",
		"2000,1,11,4",
	} {
		lines <- l
	}
	close(lines)

	var logged []string
	p := &Pump{Logf: func(format string, v ...interface{}) { logged = append(logged, format) }}
	require.NoError(t, p.Run(context.Background(), lines, out))
	close(out)

	var got []detection.SensorReading
	for r := range out {
		got = append(got, r)
	}
	want := []detection.SensorReading{
		{TimestampUs: 1000, Position: 0, Proximity: 10},
		{TimestampUs: 2000, Position: 1, Proximity: 11, Ambient: 4},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("readings mismatch (-want +got):\n%s", diff)
	}
	assert.EqualValues(t, 6, p.Stats.Lines.Load())
	assert.EqualValues(t, 2, p.Stats.Readings.Load())
	assert.EqualValues(t, 1, p.Stats.Malformed.Load())
	assert.EqualValues(t, 1, p.Stats.Status.Load())
	assert.Len(t, logged, 2)
}

func TestPumpCancelWhileBlocked(t *testing.T) {
	lines := make(chan string, 1)
	lines <- "1000,0,10"
	out := make(chan detection.SensorReading) // nobody reads

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	p := &Pump{}
	go func() { done <- p.Run(ctx, lines, out) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not stop")
	}
}

func TestReadCSV(t *testing.T) {
	in := strings.Join([]string{
		"timestamp_us,position,proximity,ambient",
		"# boot",
		"1000,0,10,0",
		"1000,1,12",
		"2000,2,30,5",
	}, "\n")
	got, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	want := []detection.SensorReading{
		{TimestampUs: 1000, Position: 0, Proximity: 10},
		{TimestampUs: 1000, Position: 1, Proximity: 12},
		{TimestampUs: 2000, Position: 2, Proximity: 30, Ambient: 5},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ReadCSV mismatch (-want +got):\n%s", diff)
	}
}

func TestReadCSVErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bad position", "1000,9,10\n", "line 1"},
		{"backwards", "2000,0,10\n1000,0,10\n", "line 2"},
		{"field count", "1000,0,10\n1000,0\n", "line 2"},
		{"header not first", "1000,0,10\ntimestamp_us,position,proximity\n", "line 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.in))
			require.ErrorIs(t, err, ErrMalformedLine)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWriteCSVReadsBack(t *testing.T) {
	readings := []detection.SensorReading{
		{TimestampUs: 5, Position: 0, Proximity: 1},
		{TimestampUs: 6, Position: 5, Proximity: 300, Ambient: 9},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, readings))
	assert.True(t, strings.HasPrefix(buf.String(), "timestamp_us,position,proximity,ambient\n"))

	got, err := ReadCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, readings, got)
}
