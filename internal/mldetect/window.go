package mldetect

import "github.com/motion-play/hoopsense/internal/ringbuf"

// Frame is one committed millisecond of readings. Present marks the
// positions that reported at this timestamp.
type Frame struct {
	TimestampMs int64
	Proximity   [NumPositions]uint16
	Present     uint8
}

func (f *Frame) has(pos int) bool { return f.Present&(1<<pos) != 0 }

// fillWindow writes a dense windowMs x NumPositions grid ending at the
// newest frame into dst. Frames are placed at their millisecond offset
// from the window start and every empty millisecond repeats the previous
// value per position; values are divided by norm. Frames older than the
// window seed the carried values.
func fillWindow(dst []float32, frames *ringbuf.Ring[Frame], windowMs int, norm float32) {
	clear(dst)
	if frames.Len() == 0 || windowMs < 1 {
		return
	}
	newest, _ := frames.Newest()
	end := newest.TimestampMs
	start := max(0, end-int64(windowMs)+1)

	var last [NumPositions]float32
	row := 0 // next grid row to write

	writeRows := func(upto int) {
		for ; row < upto && row < windowMs; row++ {
			base := row * NumPositions
			for p := range last {
				dst[base+p] = last[p] / norm
			}
		}
	}

	for i := 0; i < frames.Len(); i++ {
		f := frames.Ptr(i)
		t := -1
		if f.TimestampMs >= start {
			t = int(f.TimestampMs - start)
			if t >= windowMs {
				break
			}
			// Out-of-order frames rewrite from their own row.
			row = min(row, t)
			writeRows(t)
		}
		for p := 0; p < NumPositions; p++ {
			if f.has(p) {
				last[p] = float32(f.Proximity[p])
			}
		}
		if t >= 0 {
			writeRows(t + 1)
		}
	}
	writeRows(windowMs)
}
