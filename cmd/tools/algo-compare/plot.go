package main

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/motion-play/hoopsense/internal/config"
	"github.com/motion-play/hoopsense/internal/detection"
)

// plotSession draws every sensor's proximity trace against session time,
// with one marker per detection from each backend.
func plotSession(path string, in sessionInput, res SessionResult) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s (%s) label=%q", in.Name, in.ID, in.Label)
	p.X.Label.Text = "Time (ms)"
	p.Y.Label.Text = "Proximity"

	if len(in.Readings) == 0 {
		return fmt.Errorf("session %s has no readings", in.ID)
	}
	t0 := in.Readings[0].TimestampUs
	var peak float64
	traces := make([]plotter.XYs, detection.NumSensors)
	for _, r := range in.Readings {
		if !r.Valid() {
			continue
		}
		if r.TimestampUs < t0 {
			t0 = r.TimestampUs
		}
		peak = max(peak, float64(r.Proximity))
	}
	for _, r := range in.Readings {
		if !r.Valid() {
			continue
		}
		x := float64(r.TimestampUs-t0) / 1000
		traces[r.Position] = append(traces[r.Position], plotter.XY{X: x, Y: float64(r.Proximity)})
	}

	colors := generateColors(detection.NumSensors)
	for pos, pts := range traces {
		if len(pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("sensor %d: %w", pos, err)
		}
		line.Color = colors[pos]
		line.Width = vg.Points(1)
		if detection.Side(pos%2) == detection.SideB {
			line.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		}
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("M%d %s", pos/2+1, detection.Side(pos%2)), line)
	}

	// Heuristic markers sit just above the tallest trace, ML markers above
	// those.
	for i, backend := range backendOrder(res.Runs) {
		run := res.Runs[backend]
		if len(run.Detections) == 0 {
			continue
		}
		pts := make(plotter.XYs, 0, len(run.Detections))
		for _, d := range run.Detections {
			x := float64(d.TimestampMs) - float64(t0)/1000
			pts = append(pts, plotter.XY{X: x, Y: peak * (1.05 + 0.05*float64(i))})
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return fmt.Errorf("%s markers: %w", backend, err)
		}
		sc.GlyphStyle.Radius = vg.Points(4)
		if backend == config.BackendHeuristic {
			sc.GlyphStyle.Shape = draw.PyramidGlyph{}
			sc.GlyphStyle.Color = color.Black
		} else {
			sc.GlyphStyle.Shape = draw.CircleGlyph{}
			sc.GlyphStyle.Color = color.RGBA{R: 200, A: 255}
		}
		p.Add(sc)
		p.Legend.Add(fmt.Sprintf("%s (%s)", backend, run.Predicted), sc)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return p.Save(14*vg.Inch, 6*vg.Inch, path)
}

// generateColors returns n evenly spaced hues.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	return uint8(hueToRGB(p, q, h+1.0/3.0) * 255),
		uint8(hueToRGB(p, q, h) * 255),
		uint8(hueToRGB(p, q, h-1.0/3.0) * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 0.5:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
