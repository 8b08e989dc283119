package tinyml

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SchemaVersion is the artifact layout this runtime executes.
const SchemaVersion = 3

// TensorType is the element type of a tensor.
type TensorType uint8

const (
	TypeFloat32 TensorType = iota + 1
	TypeInt8
	TypeInt32
)

// Size returns the element size in bytes.
func (t TensorType) Size() int {
	switch t {
	case TypeFloat32, TypeInt32:
		return 4
	case TypeInt8:
		return 1
	}
	return 0
}

func (t TensorType) String() string {
	switch t {
	case TypeFloat32:
		return "float32"
	case TypeInt8:
		return "int8"
	case TypeInt32:
		return "int32"
	}
	return fmt.Sprintf("TensorType(%d)", uint8(t))
}

// Opcode identifies an operator kernel.
type Opcode uint8

const (
	OpConv2D Opcode = iota + 1
	OpMaxPool2D
	OpReshape
	OpFullyConnected
	OpSoftmax
	OpQuantize
)

func (o Opcode) String() string {
	switch o {
	case OpConv2D:
		return "CONV_2D"
	case OpMaxPool2D:
		return "MAX_POOL_2D"
	case OpReshape:
		return "RESHAPE"
	case OpFullyConnected:
		return "FULLY_CONNECTED"
	case OpSoftmax:
		return "SOFTMAX"
	case OpQuantize:
		return "QUANTIZE"
	}
	return fmt.Sprintf("Opcode(%d)", uint8(o))
}

// Padding selects how convolution and pooling treat borders.
type Padding uint8

const (
	PaddingValid Padding = iota
	PaddingSame
)

// Activation is a fused activation function.
type Activation uint8

const (
	ActNone Activation = iota
	ActReLU
	ActReLU6
)

// Tensor describes one tensor of the graph. Constant tensors carry Data
// in little-endian element order; activation tensors have no data and are
// placed in the arena.
type Tensor struct {
	Name      string
	Type      TensorType
	Shape     []int
	Scale     float32
	ZeroPoint int32
	Data      []byte
}

// Elements returns the number of elements described by the shape.
func (t *Tensor) Elements() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Bytes returns the storage size of the tensor.
func (t *Tensor) Bytes() int { return t.Elements() * t.Type.Size() }

// IsConstant reports whether the tensor carries its own data.
func (t *Tensor) IsConstant() bool { return len(t.Data) > 0 }

// Float32Data decodes a float32 constant.
func (t *Tensor) Float32Data() []float32 {
	out := make([]float32, len(t.Data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.Data[i*4:]))
	}
	return out
}

// Operator is one node of the graph.
type Operator struct {
	Op      Opcode
	Inputs  []int
	Outputs []int

	StrideH, StrideW int
	FilterH, FilterW int // pooling window
	Padding          Padding
	Activation       Activation
}

// Model is a decoded artifact.
type Model struct {
	Version     uint32
	Name        string
	Description string
	Tensors     []Tensor
	Operators   []Operator
	Inputs      []int
	Outputs     []int
}

func (m *Model) validIndex(i int) bool { return i >= 0 && i < len(m.Tensors) }

// Validate checks structural integrity: tensor references, element types,
// constant sizes and the supported op set.
func (m *Model) Validate() error {
	for i := range m.Tensors {
		t := &m.Tensors[i]
		if t.Type.Size() == 0 {
			return fmt.Errorf("%w: tensor %d (%s) has type %s", ErrMalformedModel, i, t.Name, t.Type)
		}
		for _, d := range t.Shape {
			if d <= 0 {
				return fmt.Errorf("%w: tensor %d (%s) has shape %v", ErrMalformedModel, i, t.Name, t.Shape)
			}
		}
		if t.IsConstant() && len(t.Data) != t.Bytes() {
			return fmt.Errorf("%w: tensor %d (%s) holds %d bytes, want %d", ErrMalformedModel, i, t.Name, len(t.Data), t.Bytes())
		}
	}
	for _, list := range [][]int{m.Inputs, m.Outputs} {
		for _, idx := range list {
			if !m.validIndex(idx) {
				return fmt.Errorf("%w: graph references tensor %d", ErrMalformedModel, idx)
			}
		}
	}
	if len(m.Inputs) == 0 || len(m.Outputs) == 0 {
		return fmt.Errorf("%w: graph needs at least one input and one output", ErrMalformedModel)
	}
	for i, op := range m.Operators {
		if _, ok := kernels[op.Op]; !ok {
			return fmt.Errorf("%w: operator %d is %s", ErrUnsupportedOp, i, op.Op)
		}
		for _, idx := range append(append([]int(nil), op.Inputs...), op.Outputs...) {
			if !m.validIndex(idx) {
				return fmt.Errorf("%w: operator %d (%s) references tensor %d", ErrMalformedModel, i, op.Op, idx)
			}
		}
		for _, idx := range op.Outputs {
			if m.Tensors[idx].IsConstant() {
				return fmt.Errorf("%w: operator %d (%s) writes constant tensor %d", ErrMalformedModel, i, op.Op, idx)
			}
		}
	}
	return nil
}
