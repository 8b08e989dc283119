package mldetect

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/motion-play/hoopsense/internal/ringbuf"
)

func frame(ts int64, vals map[int]uint16) Frame {
	f := Frame{TimestampMs: ts}
	for p, v := range vals {
		f.Proximity[p] = v
		f.Present |= 1 << p
	}
	return f
}

func row(vals ...float32) []float32 {
	r := make([]float32, NumPositions)
	copy(r, vals)
	return r
}

func TestFillWindow_ForwardFill(t *testing.T) {
	ring := ringbuf.New[Frame](8)
	ring.Push(frame(0, map[int]uint16{0: 5}))
	ring.Push(frame(10, map[int]uint16{0: 7, 1: 3}))
	ring.Push(frame(12, map[int]uint16{1: 4}))

	dst := make([]float32, 5*NumPositions)
	fillWindow(dst, ring, 5, 1)

	want := [][]float32{
		row(5, 0), // 8: carried from before the window
		row(5, 0), // 9
		row(7, 3), // 10
		row(7, 3), // 11
		row(7, 4), // 12
	}
	for i, w := range want {
		assert.Equal(t, w, dst[i*NumPositions:(i+1)*NumPositions], "row %d", i)
	}
}

func TestFillWindow_NormalizesAndKeepsZeroReadings(t *testing.T) {
	ring := ringbuf.New[Frame](8)
	ring.Push(frame(0, map[int]uint16{2: 490}))
	ring.Push(frame(1, map[int]uint16{2: 0}))

	dst := make([]float32, 3*NumPositions)
	fillWindow(dst, ring, 3, 490)

	assert.Equal(t, float32(1), dst[0*NumPositions+2])
	assert.Equal(t, float32(0), dst[1*NumPositions+2], "a reported zero is data")
	assert.Equal(t, float32(0), dst[2*NumPositions+2], "tail is forward-filled")
}

func TestFillWindow_Empty(t *testing.T) {
	dst := []float32{1, 2, 3}
	fillWindow(dst, ringbuf.New[Frame](4), 300, 490)
	assert.Equal(t, []float32{0, 0, 0}, dst)
}
