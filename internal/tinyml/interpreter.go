package tinyml

import (
	"fmt"
	"strings"
)

// Interpreter executes a model inside a fixed arena. It is not safe for
// concurrent use.
type Interpreter struct {
	model *Model
	arena []byte

	tensors   []*TensorData
	opIn      [][]*TensorData
	opOut     [][]*TensorData
	used      int
	allocated bool
}

// NewInterpreter binds a validated model to an arena. No memory is laid
// out until AllocateTensors.
func NewInterpreter(m *Model, arena []byte) (*Interpreter, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil model", ErrMalformedModel)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &Interpreter{model: m, arena: arena}, nil
}

// RequiredArena returns the number of arena bytes the model needs.
func RequiredArena(m *Model) int {
	_, total := planArena(m)
	return total
}

// AllocateTensors plans the arena, creates tensor views and prepares every
// operator. It fails with ErrArenaTooSmall when the plan does not fit.
func (it *Interpreter) AllocateTensors() error {
	m := it.model
	offsets, total := planArena(m)
	if total > len(it.arena) {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrArenaTooSmall, total, len(it.arena))
	}

	tensors := make([]*TensorData, len(m.Tensors))
	for i := range m.Tensors {
		t := &m.Tensors[i]
		if t.IsConstant() {
			tensors[i] = constantView(t)
			continue
		}
		off, ok := offsets[i]
		if !ok {
			// Declared but never used by the graph.
			tensors[i] = &TensorData{Name: t.Name, Type: t.Type, Shape: t.Shape, Scale: t.Scale, ZeroPoint: t.ZeroPoint}
			continue
		}
		tensors[i] = viewBytes(t, it.arena[off:off+t.Bytes()])
	}

	opIn := make([][]*TensorData, len(m.Operators))
	opOut := make([][]*TensorData, len(m.Operators))
	for i := range m.Operators {
		op := &m.Operators[i]
		for _, idx := range op.Inputs {
			opIn[i] = append(opIn[i], tensors[idx])
		}
		for _, idx := range op.Outputs {
			opOut[i] = append(opOut[i], tensors[idx])
		}
		if err := kernels[op.Op].prepare(op, opIn[i], opOut[i]); err != nil {
			return fmt.Errorf("operator %d: %w", i, err)
		}
	}

	clear(it.arena[:total])
	it.tensors, it.opIn, it.opOut = tensors, opIn, opOut
	it.used = total
	it.allocated = true
	return nil
}

// Invoke runs every operator in graph order.
func (it *Interpreter) Invoke() error {
	if !it.allocated {
		return ErrNotAllocated
	}
	for i := range it.model.Operators {
		op := &it.model.Operators[i]
		kernels[op.Op].eval(op, it.opIn[i], it.opOut[i])
	}
	return nil
}

// Input returns graph input i, or nil when out of range or unallocated.
func (it *Interpreter) Input(i int) *TensorData {
	if !it.allocated || i < 0 || i >= len(it.model.Inputs) {
		return nil
	}
	return it.tensors[it.model.Inputs[i]]
}

// Output returns graph output i, or nil when out of range or unallocated.
func (it *Interpreter) Output(i int) *TensorData {
	if !it.allocated || i < 0 || i >= len(it.model.Outputs) {
		return nil
	}
	return it.tensors[it.model.Outputs[i]]
}

// ArenaUsed returns the bytes of the arena occupied by the plan.
func (it *Interpreter) ArenaUsed() int { return it.used }

// ArenaSize returns the arena length.
func (it *Interpreter) ArenaSize() int { return len(it.arena) }

// Model returns the bound model.
func (it *Interpreter) Model() *Model { return it.model }

// Summary renders the graph one operator per line.
func (it *Interpreter) Summary() string {
	m := it.model
	var b strings.Builder
	fmt.Fprintf(&b, "model %q v%d: %d tensors, %d operators, arena %d/%d bytes\n",
		m.Name, m.Version, len(m.Tensors), len(m.Operators), it.used, len(it.arena))
	for i, op := range m.Operators {
		if len(op.Outputs) == 0 {
			fmt.Fprintf(&b, "  %2d %s\n", i, op.Op)
			continue
		}
		out := m.Tensors[op.Outputs[0]]
		fmt.Fprintf(&b, "  %2d %-16s -> %s %v %s\n", i, op.Op, out.Name, out.Shape, out.Type)
	}
	return b.String()
}
