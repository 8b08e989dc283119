package tinyml

import (
	"encoding/binary"
	"fmt"
	"math"
)

// QuantizeSymmetric maps values to int8 with a zero point of 0 and a scale
// chosen so the largest magnitude lands on 127.
func QuantizeSymmetric(values []float32) ([]int8, float32) {
	var hi float32
	for _, v := range values {
		hi = max(hi, float32(math.Abs(float64(v))))
	}
	if hi == 0 {
		return make([]int8, len(values)), 1
	}
	scale := hi / 127
	q := make([]int8, len(values))
	for i, v := range values {
		q[i] = int8(clampInt(int64(math.Round(float64(v/scale))), -127, 127))
	}
	return q, scale
}

// Builder assembles a model graph layer by layer, tracking shapes as it
// goes. Errors are sticky and reported by Model or Encode.
type Builder struct {
	m        Model
	quantize bool
	err      error
}

// NewBuilder starts a graph. With quantizeWeights set, weight tensors are
// stored as symmetric int8.
func NewBuilder(name string, quantizeWeights bool) *Builder {
	return &Builder{m: Model{Version: SchemaVersion, Name: name}, quantize: quantizeWeights}
}

// SetDescription records free text in the artifact.
func (b *Builder) SetDescription(s string) { b.m.Description = s }

func (b *Builder) fail(format string, v ...interface{}) int {
	if b.err == nil {
		b.err = fmt.Errorf("tinyml: builder: "+format, v...)
	}
	return -1
}

func (b *Builder) add(t Tensor) int {
	b.m.Tensors = append(b.m.Tensors, t)
	return len(b.m.Tensors) - 1
}

func (b *Builder) shape(idx int) []int {
	if idx < 0 || idx >= len(b.m.Tensors) {
		b.fail("tensor %d does not exist", idx)
		return nil
	}
	return b.m.Tensors[idx].Shape
}

// Input declares a float32 graph input.
func (b *Builder) Input(name string, shape ...int) int {
	idx := b.add(Tensor{Name: name, Type: TypeFloat32, Shape: shape})
	b.m.Inputs = append(b.m.Inputs, idx)
	return idx
}

// Output marks a tensor as a graph output.
func (b *Builder) Output(idx int) {
	if b.shape(idx) != nil {
		b.m.Outputs = append(b.m.Outputs, idx)
	}
}

// Activation declares an arena-resident float32 tensor.
func (b *Builder) Activation(name string, shape ...int) int {
	return b.add(Tensor{Name: name, Type: TypeFloat32, Shape: shape})
}

// ConstFloat32 adds a float32 constant.
func (b *Builder) ConstFloat32(name string, shape []int, data []float32) int {
	raw := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	t := Tensor{Name: name, Type: TypeFloat32, Shape: shape, Data: raw}
	if len(data) != t.Elements() {
		return b.fail("%s: %d values for shape %v", name, len(data), shape)
	}
	return b.add(t)
}

// ConstInt8 quantizes data symmetrically and adds it as an int8 constant.
func (b *Builder) ConstInt8(name string, shape []int, data []float32) int {
	q, scale := QuantizeSymmetric(data)
	raw := make([]byte, len(q))
	for i, v := range q {
		raw[i] = byte(v)
	}
	t := Tensor{Name: name, Type: TypeInt8, Shape: shape, Scale: scale, Data: raw}
	if len(data) != t.Elements() {
		return b.fail("%s: %d values for shape %v", name, len(data), shape)
	}
	return b.add(t)
}

func (b *Builder) weights(name string, shape []int, data []float32) int {
	if b.quantize {
		return b.ConstInt8(name, shape, data)
	}
	return b.ConstFloat32(name, shape, data)
}

// Conv2D adds a convolution over an NHWC input. weights are laid out
// [outC, kh, kw, inC]; bias may be nil.
func (b *Builder) Conv2D(name string, in int, weights, bias []float32, outC, kh, kw, stride int, pad Padding, act Activation) int {
	s := b.shape(in)
	if len(s) != 4 {
		return b.fail("%s: input shape %v is not NHWC", name, s)
	}
	stride = max(1, stride)
	w := b.weights(name+"/weights", []int{outC, kh, kw, s[3]}, weights)
	inputs := []int{in, w}
	if bias != nil {
		inputs = append(inputs, b.ConstFloat32(name+"/bias", []int{outC}, bias))
	}
	oh, _ := outputSize(s[1], kh, stride, pad)
	ow, _ := outputSize(s[2], kw, stride, pad)
	out := b.Activation(name, s[0], oh, ow, outC)
	b.m.Operators = append(b.m.Operators, Operator{
		Op: OpConv2D, Inputs: inputs, Outputs: []int{out},
		StrideH: stride, StrideW: stride, Padding: pad, Activation: act,
	})
	return out
}

// MaxPool2D adds a max pooling layer with stride equal to the window.
func (b *Builder) MaxPool2D(name string, in, fh, fw int) int {
	s := b.shape(in)
	if len(s) != 4 {
		return b.fail("%s: input shape %v is not NHWC", name, s)
	}
	oh, _ := outputSize(s[1], fh, fh, PaddingValid)
	ow, _ := outputSize(s[2], fw, fw, PaddingValid)
	out := b.Activation(name, s[0], oh, ow, s[3])
	b.m.Operators = append(b.m.Operators, Operator{
		Op: OpMaxPool2D, Inputs: []int{in}, Outputs: []int{out},
		FilterH: fh, FilterW: fw, StrideH: fh, StrideW: fw,
	})
	return out
}

// Reshape adds a reshape to the given shape.
func (b *Builder) Reshape(name string, in int, shape ...int) int {
	if b.shape(in) == nil {
		return -1
	}
	out := b.add(Tensor{Name: name, Type: b.m.Tensors[in].Type, Shape: shape,
		Scale: b.m.Tensors[in].Scale, ZeroPoint: b.m.Tensors[in].ZeroPoint})
	b.m.Operators = append(b.m.Operators, Operator{Op: OpReshape, Inputs: []int{in}, Outputs: []int{out}})
	return out
}

// FullyConnected adds a dense layer. weights are laid out [units, k] where
// k is the last input dimension; bias may be nil.
func (b *Builder) FullyConnected(name string, in int, weights, bias []float32, units int, act Activation) int {
	s := b.shape(in)
	if len(s) == 0 {
		return b.fail("%s: input has no shape", name)
	}
	k := s[len(s)-1]
	batches := 1
	for _, d := range s[:len(s)-1] {
		batches *= d
	}
	w := b.weights(name+"/weights", []int{units, k}, weights)
	inputs := []int{in, w}
	if bias != nil {
		inputs = append(inputs, b.ConstFloat32(name+"/bias", []int{units}, bias))
	}
	out := b.Activation(name, batches, units)
	b.m.Operators = append(b.m.Operators, Operator{
		Op: OpFullyConnected, Inputs: inputs, Outputs: []int{out}, Activation: act,
	})
	return out
}

// Softmax adds a softmax over the last dimension.
func (b *Builder) Softmax(name string, in int) int {
	s := b.shape(in)
	if s == nil {
		return -1
	}
	out := b.Activation(name, s...)
	b.m.Operators = append(b.m.Operators, Operator{Op: OpSoftmax, Inputs: []int{in}, Outputs: []int{out}})
	return out
}

// Quantize adds a conversion of in to an int8 tensor with the given
// quantization parameters, or back to float32 when scale is zero.
func (b *Builder) Quantize(name string, in int, scale float32, zeroPoint int32) int {
	s := b.shape(in)
	if s == nil {
		return -1
	}
	t := Tensor{Name: name, Type: TypeFloat32, Shape: s}
	if scale != 0 {
		t.Type, t.Scale, t.ZeroPoint = TypeInt8, scale, zeroPoint
	}
	out := b.add(t)
	b.m.Operators = append(b.m.Operators, Operator{Op: OpQuantize, Inputs: []int{in}, Outputs: []int{out}})
	return out
}

// Model returns the assembled, validated graph.
func (b *Builder) Model() (*Model, error) {
	if b.err != nil {
		return nil, b.err
	}
	m := b.m
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Encode returns the serialized artifact.
func (b *Builder) Encode() ([]byte, error) {
	m, err := b.Model()
	if err != nil {
		return nil, err
	}
	return m.Encode(), nil
}
