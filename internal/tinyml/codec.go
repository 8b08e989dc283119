package tinyml

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the artifact messages.
const (
	fieldModelVersion     protowire.Number = 1
	fieldModelName        protowire.Number = 2
	fieldModelTensors     protowire.Number = 3
	fieldModelOperators   protowire.Number = 4
	fieldModelInputs      protowire.Number = 5
	fieldModelOutputs     protowire.Number = 6
	fieldModelDescription protowire.Number = 7

	fieldTensorName      protowire.Number = 1
	fieldTensorType      protowire.Number = 2
	fieldTensorShape     protowire.Number = 3
	fieldTensorScale     protowire.Number = 4
	fieldTensorZeroPoint protowire.Number = 5
	fieldTensorData      protowire.Number = 6

	fieldOpCode       protowire.Number = 1
	fieldOpInputs     protowire.Number = 2
	fieldOpOutputs    protowire.Number = 3
	fieldOpStrideH    protowire.Number = 4
	fieldOpStrideW    protowire.Number = 5
	fieldOpFilterH    protowire.Number = 6
	fieldOpFilterW    protowire.Number = 7
	fieldOpPadding    protowire.Number = 8
	fieldOpActivation protowire.Number = 9
)

// Encode serializes the model.
func (m *Model) Encode() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldModelVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Version))
	if m.Name != "" {
		b = protowire.AppendTag(b, fieldModelName, protowire.BytesType)
		b = protowire.AppendString(b, m.Name)
	}
	if m.Description != "" {
		b = protowire.AppendTag(b, fieldModelDescription, protowire.BytesType)
		b = protowire.AppendString(b, m.Description)
	}
	for i := range m.Tensors {
		b = protowire.AppendTag(b, fieldModelTensors, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeTensor(&m.Tensors[i]))
	}
	for i := range m.Operators {
		b = protowire.AppendTag(b, fieldModelOperators, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeOperator(&m.Operators[i]))
	}
	b = appendPacked(b, fieldModelInputs, m.Inputs)
	b = appendPacked(b, fieldModelOutputs, m.Outputs)
	return b
}

func encodeTensor(t *Tensor) []byte {
	var b []byte
	if t.Name != "" {
		b = protowire.AppendTag(b, fieldTensorName, protowire.BytesType)
		b = protowire.AppendString(b, t.Name)
	}
	b = protowire.AppendTag(b, fieldTensorType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.Type))
	b = appendPacked(b, fieldTensorShape, t.Shape)
	if t.Scale != 0 {
		b = protowire.AppendTag(b, fieldTensorScale, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(t.Scale))
	}
	if t.ZeroPoint != 0 {
		b = protowire.AppendTag(b, fieldTensorZeroPoint, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(t.ZeroPoint)))
	}
	if len(t.Data) > 0 {
		b = protowire.AppendTag(b, fieldTensorData, protowire.BytesType)
		b = protowire.AppendBytes(b, t.Data)
	}
	return b
}

func encodeOperator(op *Operator) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldOpCode, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(op.Op))
	b = appendPacked(b, fieldOpInputs, op.Inputs)
	b = appendPacked(b, fieldOpOutputs, op.Outputs)
	for _, f := range []struct {
		num protowire.Number
		v   int
	}{
		{fieldOpStrideH, op.StrideH},
		{fieldOpStrideW, op.StrideW},
		{fieldOpFilterH, op.FilterH},
		{fieldOpFilterW, op.FilterW},
		{fieldOpPadding, int(op.Padding)},
		{fieldOpActivation, int(op.Activation)},
	} {
		if f.v != 0 {
			b = protowire.AppendTag(b, f.num, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(f.v))
		}
	}
	return b
}

func appendPacked(b []byte, num protowire.Number, vals []int) []byte {
	if len(vals) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vals {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

// DecodeModel parses an artifact and refuses any schema version other
// than SchemaVersion. The returned model is validated.
func DecodeModel(data []byte) (*Model, error) {
	m := &Model{}
	sawVersion := false
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldModelVersion:
			v, n := protowire.ConsumeVarint(b)
			m.Version = uint32(v)
			sawVersion = true
			return n, nil
		case fieldModelName:
			v, n := protowire.ConsumeString(b)
			m.Name = v
			return n, nil
		case fieldModelDescription:
			v, n := protowire.ConsumeString(b)
			m.Description = v
			return n, nil
		case fieldModelTensors:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			t, err := decodeTensor(v)
			if err != nil {
				return 0, fmt.Errorf("tensor %d: %w", len(m.Tensors), err)
			}
			m.Tensors = append(m.Tensors, t)
			return n, nil
		case fieldModelOperators:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			op, err := decodeOperator(v)
			if err != nil {
				return 0, fmt.Errorf("operator %d: %w", len(m.Operators), err)
			}
			m.Operators = append(m.Operators, op)
			return n, nil
		case fieldModelInputs:
			return consumeInts(typ, b, &m.Inputs)
		case fieldModelOutputs:
			return consumeInts(typ, b, &m.Outputs)
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return nil, err
	}
	if !sawVersion || m.Version != SchemaVersion {
		return nil, fmt.Errorf("%w: artifact has version %d, runtime expects %d", ErrSchemaVersion, m.Version, SchemaVersion)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeTensor(data []byte) (Tensor, error) {
	var t Tensor
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldTensorName:
			v, n := protowire.ConsumeString(b)
			t.Name = v
			return n, nil
		case fieldTensorType:
			v, n := protowire.ConsumeVarint(b)
			t.Type = TensorType(v)
			return n, nil
		case fieldTensorShape:
			return consumeInts(typ, b, &t.Shape)
		case fieldTensorScale:
			v, n := protowire.ConsumeFixed32(b)
			t.Scale = math.Float32frombits(v)
			return n, nil
		case fieldTensorZeroPoint:
			v, n := protowire.ConsumeVarint(b)
			t.ZeroPoint = int32(protowire.DecodeZigZag(v))
			return n, nil
		case fieldTensorData:
			v, n := protowire.ConsumeBytes(b)
			// Copy so the model does not pin the caller's buffer.
			t.Data = append([]byte(nil), v...)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return t, err
}

func decodeOperator(data []byte) (Operator, error) {
	var op Operator
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var dst *int
		switch num {
		case fieldOpCode:
			v, n := protowire.ConsumeVarint(b)
			op.Op = Opcode(v)
			return n, nil
		case fieldOpInputs:
			return consumeInts(typ, b, &op.Inputs)
		case fieldOpOutputs:
			return consumeInts(typ, b, &op.Outputs)
		case fieldOpStrideH:
			dst = &op.StrideH
		case fieldOpStrideW:
			dst = &op.StrideW
		case fieldOpFilterH:
			dst = &op.FilterH
		case fieldOpFilterW:
			dst = &op.FilterW
		case fieldOpPadding:
			v, n := protowire.ConsumeVarint(b)
			op.Padding = Padding(v)
			return n, nil
		case fieldOpActivation:
			v, n := protowire.ConsumeVarint(b)
			op.Activation = Activation(v)
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
		v, n := protowire.ConsumeVarint(b)
		*dst = int(v)
		return n, nil
	})
	return op, err
}

// walk iterates the fields of one message. fn consumes a field value and
// returns the number of bytes used, negative on a wire error.
func walk(data []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedModel, protowire.ParseError(n))
		}
		data = data[n:]
		m, err := fn(num, typ, data)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformedModel, num, protowire.ParseError(m))
		}
		data = data[m:]
	}
	return nil
}

// consumeInts reads a repeated integer field in packed or unpacked form.
func consumeInts(typ protowire.Type, b []byte, dst *[]int) (int, error) {
	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		if n >= 0 {
			*dst = append(*dst, int(v))
		}
		return n, nil
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		for len(packed) > 0 {
			v, m := protowire.ConsumeVarint(packed)
			if m < 0 {
				return m, nil
			}
			*dst = append(*dst, int(v))
			packed = packed[m:]
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: repeated int field with wire type %d", ErrMalformedModel, typ)
}
