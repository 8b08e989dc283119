package tinyml

import (
	"fmt"
	"math"
	"slices"
)

// kernel evaluates one operator. prepare runs once from AllocateTensors
// and checks that the graph's declared shapes match what the operator
// produces.
type kernel struct {
	prepare func(op *Operator, in, out []*TensorData) error
	eval    func(op *Operator, in, out []*TensorData)
}

var kernels = map[Opcode]kernel{
	OpConv2D:         {prepareConv2D, evalConv2D},
	OpMaxPool2D:      {prepareMaxPool2D, evalMaxPool2D},
	OpReshape:        {prepareReshape, evalCopy},
	OpFullyConnected: {prepareFullyConnected, evalFullyConnected},
	OpSoftmax:        {prepareSoftmax, evalSoftmax},
	OpQuantize:       {prepareQuantize, evalCopy},
}

func shapeErr(op *Operator, format string, v ...interface{}) error {
	return fmt.Errorf("%w: %s: %s", ErrShapeMismatch, op.Op, fmt.Sprintf(format, v...))
}

func arity(op *Operator, in, out []*TensorData, minIn, maxIn int) error {
	if len(in) < minIn || len(in) > maxIn || len(out) != 1 {
		return fmt.Errorf("%w: %s takes %d..%d inputs and 1 output, got %d and %d",
			ErrMalformedModel, op.Op, minIn, maxIn, len(in), len(out))
	}
	return nil
}

func activate(act Activation, v float32) float32 {
	switch act {
	case ActReLU:
		return max(0, v)
	case ActReLU6:
		return max(0, min(6, v))
	}
	return v
}

// outputSize returns the spatial output length and leading pad for one
// dimension.
func outputSize(in, filter, stride int, pad Padding) (out, before int) {
	if pad == PaddingSame {
		out = (in + stride - 1) / stride
		total := max(0, (out-1)*stride+filter-in)
		return out, total / 2
	}
	return (in-filter)/stride + 1, 0
}

func convStrides(op *Operator) (int, int) {
	return max(1, op.StrideH), max(1, op.StrideW)
}

// Conv2D: input NHWC, filter OHWI, optional bias [O].
func prepareConv2D(op *Operator, in, out []*TensorData) error {
	if err := arity(op, in, out, 2, 3); err != nil {
		return err
	}
	x, w, y := in[0], in[1], out[0]
	if len(x.Shape) != 4 || len(w.Shape) != 4 {
		return shapeErr(op, "input %v and filter %v must be rank 4", x.Shape, w.Shape)
	}
	if w.Shape[3] != x.Shape[3] {
		return shapeErr(op, "filter depth %d does not match input channels %d", w.Shape[3], x.Shape[3])
	}
	if len(in) == 3 && in[2].Len() != w.Shape[0] {
		return shapeErr(op, "bias has %d elements, want %d", in[2].Len(), w.Shape[0])
	}
	sh, sw := convStrides(op)
	oh, _ := outputSize(x.Shape[1], w.Shape[1], sh, op.Padding)
	ow, _ := outputSize(x.Shape[2], w.Shape[2], sw, op.Padding)
	want := []int{x.Shape[0], oh, ow, w.Shape[0]}
	if !slices.Equal(y.Shape, want) {
		return shapeErr(op, "output %v, want %v", y.Shape, want)
	}
	return nil
}

func evalConv2D(op *Operator, in, out []*TensorData) {
	x, w, y := in[0], in[1], out[0]
	var bias *TensorData
	if len(in) == 3 {
		bias = in[2]
	}
	n, h, wd, c := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	oc, kh, kw := w.Shape[0], w.Shape[1], w.Shape[2]
	oh, ow := y.Shape[1], y.Shape[2]
	sh, sw := convStrides(op)
	_, padT := outputSize(h, kh, sh, op.Padding)
	_, padL := outputSize(wd, kw, sw, op.Padding)

	for b := 0; b < n; b++ {
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				for o := 0; o < oc; o++ {
					var sum float32
					if bias != nil {
						sum = bias.At(o)
					}
					for ky := 0; ky < kh; ky++ {
						iy := oy*sh - padT + ky
						if iy < 0 || iy >= h {
							continue
						}
						for kx := 0; kx < kw; kx++ {
							ix := ox*sw - padL + kx
							if ix < 0 || ix >= wd {
								continue
							}
							xBase := ((b*h+iy)*wd + ix) * c
							wBase := ((o*kh+ky)*kw + kx) * c
							for ic := 0; ic < c; ic++ {
								sum += x.At(xBase+ic) * w.At(wBase+ic)
							}
						}
					}
					y.Set(((b*oh+oy)*ow+ox)*oc+o, activate(op.Activation, sum))
				}
			}
		}
	}
}

// poolStrides defaults each stride to the window size.
func poolStrides(op *Operator) (int, int) {
	sh, sw := op.StrideH, op.StrideW
	if sh <= 0 {
		sh = max(1, op.FilterH)
	}
	if sw <= 0 {
		sw = max(1, op.FilterW)
	}
	return sh, sw
}

func prepareMaxPool2D(op *Operator, in, out []*TensorData) error {
	if err := arity(op, in, out, 1, 1); err != nil {
		return err
	}
	x, y := in[0], out[0]
	if len(x.Shape) != 4 {
		return shapeErr(op, "input %v must be rank 4", x.Shape)
	}
	if op.FilterH < 1 || op.FilterW < 1 {
		return shapeErr(op, "window %dx%d", op.FilterH, op.FilterW)
	}
	sh, sw := poolStrides(op)
	oh, _ := outputSize(x.Shape[1], op.FilterH, sh, op.Padding)
	ow, _ := outputSize(x.Shape[2], op.FilterW, sw, op.Padding)
	want := []int{x.Shape[0], oh, ow, x.Shape[3]}
	if !slices.Equal(y.Shape, want) {
		return shapeErr(op, "output %v, want %v", y.Shape, want)
	}
	return nil
}

func evalMaxPool2D(op *Operator, in, out []*TensorData) {
	x, y := in[0], out[0]
	n, h, wd, c := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	oh, ow := y.Shape[1], y.Shape[2]
	sh, sw := poolStrides(op)
	_, padT := outputSize(h, op.FilterH, sh, op.Padding)
	_, padL := outputSize(wd, op.FilterW, sw, op.Padding)

	for b := 0; b < n; b++ {
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				for ch := 0; ch < c; ch++ {
					best := float32(math.Inf(-1))
					for ky := 0; ky < op.FilterH; ky++ {
						iy := oy*sh - padT + ky
						if iy < 0 || iy >= h {
							continue
						}
						for kx := 0; kx < op.FilterW; kx++ {
							ix := ox*sw - padL + kx
							if ix < 0 || ix >= wd {
								continue
							}
							best = max(best, x.At(((b*h+iy)*wd+ix)*c+ch))
						}
					}
					y.Set(((b*oh+oy)*ow+ox)*c+ch, activate(op.Activation, best))
				}
			}
		}
	}
}

// Reshape takes the data tensor and an optional shape tensor, which is
// ignored in favour of the declared output shape.
func prepareReshape(op *Operator, in, out []*TensorData) error {
	if err := arity(op, in, out, 1, 2); err != nil {
		return err
	}
	if in[0].Len() != out[0].Len() {
		return shapeErr(op, "%d elements into %d", in[0].Len(), out[0].Len())
	}
	if in[0].Type != out[0].Type {
		return shapeErr(op, "type %s into %s", in[0].Type, out[0].Type)
	}
	return nil
}

// evalCopy moves every element through its real value. For Quantize this
// requantizes; for Reshape it is a plain copy.
func evalCopy(_ *Operator, in, out []*TensorData) {
	x, y := in[0], out[0]
	if x.Type == TypeFloat32 && y.Type == TypeFloat32 {
		copy(y.f32, x.f32)
		return
	}
	for i := 0; i < y.Len(); i++ {
		y.Set(i, x.At(i))
	}
}

// FullyConnected: weights [O, K], optional bias [O]; the input is treated
// as [batches, K].
func prepareFullyConnected(op *Operator, in, out []*TensorData) error {
	if err := arity(op, in, out, 2, 3); err != nil {
		return err
	}
	x, w, y := in[0], in[1], out[0]
	if len(w.Shape) != 2 {
		return shapeErr(op, "weights %v must be rank 2", w.Shape)
	}
	k := w.Shape[1]
	if x.Len()%k != 0 {
		return shapeErr(op, "input of %d elements is not a multiple of %d", x.Len(), k)
	}
	if len(in) == 3 && in[2].Len() != w.Shape[0] {
		return shapeErr(op, "bias has %d elements, want %d", in[2].Len(), w.Shape[0])
	}
	if y.Len() != x.Len()/k*w.Shape[0] {
		return shapeErr(op, "output %v holds %d elements, want %d", y.Shape, y.Len(), x.Len()/k*w.Shape[0])
	}
	return nil
}

func evalFullyConnected(op *Operator, in, out []*TensorData) {
	x, w, y := in[0], in[1], out[0]
	units, k := w.Shape[0], w.Shape[1]
	batches := x.Len() / k
	for b := 0; b < batches; b++ {
		for u := 0; u < units; u++ {
			var sum float32
			if len(in) == 3 {
				sum = in[2].At(u)
			}
			xBase, wBase := b*k, u*k
			for i := 0; i < k; i++ {
				sum += x.At(xBase+i) * w.At(wBase+i)
			}
			y.Set(b*units+u, activate(op.Activation, sum))
		}
	}
}

func prepareSoftmax(op *Operator, in, out []*TensorData) error {
	if err := arity(op, in, out, 1, 1); err != nil {
		return err
	}
	if len(in[0].Shape) == 0 || in[0].Len() != out[0].Len() {
		return shapeErr(op, "input %v into output %v", in[0].Shape, out[0].Shape)
	}
	return nil
}

// evalSoftmax normalises over the last dimension.
func evalSoftmax(_ *Operator, in, out []*TensorData) {
	x, y := in[0], out[0]
	depth := x.Shape[len(x.Shape)-1]
	for base := 0; base < x.Len(); base += depth {
		hi := float32(math.Inf(-1))
		for i := 0; i < depth; i++ {
			hi = max(hi, x.At(base+i))
		}
		var sum float64
		for i := 0; i < depth; i++ {
			sum += math.Exp(float64(x.At(base+i) - hi))
		}
		for i := 0; i < depth; i++ {
			y.Set(base+i, float32(math.Exp(float64(x.At(base+i)-hi))/sum))
		}
	}
}

func prepareQuantize(op *Operator, in, out []*TensorData) error {
	if err := arity(op, in, out, 1, 1); err != nil {
		return err
	}
	if in[0].Len() != out[0].Len() {
		return shapeErr(op, "%d elements into %d", in[0].Len(), out[0].Len())
	}
	for _, t := range []*TensorData{in[0], out[0]} {
		if t.Type != TypeFloat32 && t.Scale == 0 {
			return fmt.Errorf("%w: %s: tensor %s has no quantization scale", ErrMalformedModel, op.Op, t.Name)
		}
	}
	return nil
}
