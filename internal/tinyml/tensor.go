package tinyml

import (
	"math"
	"unsafe"
)

// TensorData is a live view of a tensor's storage, either inside the
// arena or over a constant's decoded data.
type TensorData struct {
	Name      string
	Type      TensorType
	Shape     []int
	Scale     float32
	ZeroPoint int32

	f32 []float32
	i8  []int8
	i32 []int32
}

// Float32 returns the storage of a float32 tensor, nil otherwise.
func (t *TensorData) Float32() []float32 { return t.f32 }

// Int8 returns the storage of an int8 tensor, nil otherwise.
func (t *TensorData) Int8() []int8 { return t.i8 }

// Int32 returns the storage of an int32 tensor, nil otherwise.
func (t *TensorData) Int32() []int32 { return t.i32 }

// Len returns the number of elements.
func (t *TensorData) Len() int {
	switch t.Type {
	case TypeFloat32:
		return len(t.f32)
	case TypeInt8:
		return len(t.i8)
	case TypeInt32:
		return len(t.i32)
	}
	return 0
}

// At returns element i as a real value, dequantizing integer tensors.
func (t *TensorData) At(i int) float32 {
	switch t.Type {
	case TypeFloat32:
		return t.f32[i]
	case TypeInt8:
		return t.Scale * float32(int32(t.i8[i])-t.ZeroPoint)
	case TypeInt32:
		return t.Scale * float32(t.i32[i]-t.ZeroPoint)
	}
	return 0
}

// Set stores a real value at element i, quantizing integer tensors.
func (t *TensorData) Set(i int, v float32) {
	switch t.Type {
	case TypeFloat32:
		t.f32[i] = v
	case TypeInt8:
		t.i8[i] = int8(clampInt(quantize(v, t.Scale, t.ZeroPoint), math.MinInt8, math.MaxInt8))
	case TypeInt32:
		t.i32[i] = int32(clampInt(quantize(v, t.Scale, t.ZeroPoint), math.MinInt32, math.MaxInt32))
	}
}

func quantize(v, scale float32, zp int32) int64 {
	if scale == 0 {
		return int64(zp)
	}
	return int64(math.Round(float64(v/scale))) + int64(zp)
}

func clampInt(v, lo, hi int64) int64 {
	return max(lo, min(hi, v))
}

// viewBytes maps a tensor onto raw bytes. buf must be aligned for the
// element type and hold at least n elements.
func viewBytes(t *Tensor, buf []byte) *TensorData {
	td := &TensorData{
		Name:      t.Name,
		Type:      t.Type,
		Shape:     t.Shape,
		Scale:     t.Scale,
		ZeroPoint: t.ZeroPoint,
	}
	n := t.Elements()
	if n == 0 || len(buf) == 0 {
		return td
	}
	p := unsafe.Pointer(unsafe.SliceData(buf))
	switch t.Type {
	case TypeFloat32:
		td.f32 = unsafe.Slice((*float32)(p), n)
	case TypeInt8:
		td.i8 = unsafe.Slice((*int8)(p), n)
	case TypeInt32:
		td.i32 = unsafe.Slice((*int32)(p), n)
	}
	return td
}

// constantView decodes a constant tensor. Multi-byte types are copied into
// fresh aligned slices; int8 data is viewed in place.
func constantView(t *Tensor) *TensorData {
	switch t.Type {
	case TypeFloat32, TypeInt32:
		buf := make([]uint32, t.Elements())
		for i := range buf {
			b := t.Data[i*4:]
			buf[i] = uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
		}
		raw := unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(buf))), len(buf)*4)
		return viewBytes(t, raw)
	}
	return viewBytes(t, t.Data)
}
