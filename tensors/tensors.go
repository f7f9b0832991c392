// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements a small CPU-resident tensor value type used to carry
// model weights, embedding matrices and mini-batch inputs.
//
// A Tensor holds its values as a flat []float32 slice, plus the dimensions of its
// shape. Independently of the in-memory representation, each Tensor carries a
// storage DType (Float32 or Float16) that controls the precision used when the
// tensor is written to disk -- see Tensor.WriteData and ReadData.
//
// Tensors also carry a Device tag. There is no device math in this module; the tag
// records where a collaborator placed (or wants) the values, and is preserved by
// the checkpoint codec.
package tensors

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// DType is the storage type used when serializing a Tensor.
// In memory values are always float32.
type DType int

const (
	// Float32 stores 4 bytes per element.
	Float32 DType = iota

	// Float16 stores 2 bytes per element, using IEEE 754 half-precision.
	// Converting float32 values out of the half-precision range saturates to +/-Inf.
	Float16
)

// String implements fmt.Stringer.
func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	}
	return fmt.Sprintf("DType(%d)", int(d))
}

// Size returns the number of bytes used per element for the DType.
func (d DType) Size() int {
	if d == Float16 {
		return 2
	}
	return 4
}

// DTypeFromString is the inverse of DType.String.
func DTypeFromString(name string) (DType, error) {
	switch name {
	case "float32", "":
		return Float32, nil
	case "float16":
		return Float16, nil
	}
	return Float32, errors.Errorf("unknown tensor dtype %q", name)
}

// Device identifies where a tensor's values live (or should live).
// This module performs no device math; the tag is bookkeeping for collaborators.
type Device string

// CPU is the default device for all tensors created by this package.
const CPU Device = "cpu"

// Tensor is a shaped, CPU-resident array of float32 values.
type Tensor struct {
	dims   []int
	data   []float32
	dtype  DType
	device Device
}

// FromFlat creates a tensor with the given dimensions from a flat slice of values,
// which is taken over by the tensor (not copied). It panics if the number of
// values doesn't match the shape size.
func FromFlat(dims []int, data []float32) *Tensor {
	size := 1
	for _, dim := range dims {
		if dim <= 0 {
			exceptions.Panicf("tensors.FromFlat: invalid dimension %d in shape %v", dim, dims)
		}
		size *= dim
	}
	if size != len(data) {
		exceptions.Panicf("tensors.FromFlat: shape %v requires %d values, got %d", dims, size, len(data))
	}
	return &Tensor{dims: append([]int{}, dims...), data: data, device: CPU}
}

// Zeros creates a zero-initialized tensor with the given dimensions.
func Zeros(dims ...int) *Tensor {
	size := 1
	for _, dim := range dims {
		if dim <= 0 {
			exceptions.Panicf("tensors.Zeros: invalid dimension %d in shape %v", dim, dims)
		}
		size *= dim
	}
	return &Tensor{dims: append([]int{}, dims...), data: make([]float32, size), device: CPU}
}

// FromVector creates a rank-1 tensor that takes over the given values.
func FromVector(values []float32) *Tensor {
	return FromFlat([]int{len(values)}, values)
}

// Dims returns a copy of the tensor's dimensions.
func (t *Tensor) Dims() []int {
	return append([]int{}, t.dims...)
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.dims) }

// Dim returns the size of the given axis.
func (t *Tensor) Dim(axis int) int { return t.dims[axis] }

// Size returns the number of elements.
func (t *Tensor) Size() int { return len(t.data) }

// Memory returns the number of bytes the tensor occupies when serialized with
// its storage DType.
func (t *Tensor) Memory() int { return len(t.data) * t.dtype.Size() }

// Data returns the underlying flat values. The slice is owned by the tensor;
// mutating it mutates the tensor.
func (t *Tensor) Data() []float32 { return t.data }

// DType returns the storage type used when the tensor is serialized.
func (t *Tensor) DType() DType { return t.dtype }

// WithDType sets the storage type used when the tensor is serialized and
// returns the tensor itself.
func (t *Tensor) WithDType(dtype DType) *Tensor {
	t.dtype = dtype
	return t
}

// Device returns the device tag of the tensor.
func (t *Tensor) Device() Device { return t.device }

// To tags the tensor as living on the given device and returns the tensor itself.
func (t *Tensor) To(device Device) *Tensor {
	if device == "" {
		device = CPU
	}
	t.device = device
	return t
}

// Row returns the values of row i of a rank-2 tensor. The returned slice aliases
// the tensor's data.
func (t *Tensor) Row(i int) []float32 {
	if t.Rank() != 2 {
		exceptions.Panicf("Tensor.Row requires a rank-2 tensor, got rank %d", t.Rank())
	}
	if i < 0 || i >= t.dims[0] {
		exceptions.Panicf("Tensor.Row: row %d out of range [0, %d)", i, t.dims[0])
	}
	width := t.dims[1]
	return t.data[i*width : (i+1)*width]
}

// SetRow overwrites row i of a rank-2 tensor with the given values.
// The length of values must match the tensor's second dimension.
func (t *Tensor) SetRow(i int, values []float32) {
	row := t.Row(i)
	if len(values) != len(row) {
		exceptions.Panicf("Tensor.SetRow: row width is %d, got %d values", len(row), len(values))
	}
	copy(row, values)
}

// Clone returns a deep copy of the tensor, preserving the storage DType and device tag.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.data))
	copy(data, t.data)
	clone := FromFlat(t.dims, data)
	clone.dtype = t.dtype
	clone.device = t.device
	return clone
}

// Equal returns whether two tensors have the same shape and the exact same values.
// Storage DType and device tags are not compared.
func (t *Tensor) Equal(other *Tensor) bool {
	if t.Rank() != other.Rank() {
		return false
	}
	for axis, dim := range t.dims {
		if other.dims[axis] != dim {
			return false
		}
	}
	for ii, value := range t.data {
		if other.data[ii] != value {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer. It prints the shape, not the values.
func (t *Tensor) String() string {
	dims := xjoin(t.dims)
	return fmt.Sprintf("(%s)[%s]", t.dtype, dims)
}

func xjoin(dims []int) string {
	parts := make([]string, len(dims))
	for ii, dim := range dims {
		parts[ii] = fmt.Sprintf("%d", dim)
	}
	return strings.Join(parts, ", ")
}

// WriteData writes the tensor values to w using the tensor's storage DType,
// in little-endian order. It returns the number of bytes written.
func (t *Tensor) WriteData(w io.Writer) (int, error) {
	buf := make([]byte, t.Memory())
	switch t.dtype {
	case Float16:
		for ii, value := range t.data {
			binary.LittleEndian.PutUint16(buf[ii*2:], float16.Fromfloat32(value).Bits())
		}
	default:
		for ii, value := range t.data {
			binary.LittleEndian.PutUint32(buf[ii*4:], math.Float32bits(value))
		}
	}
	n, err := w.Write(buf)
	if err != nil {
		return n, errors.Wrapf(err, "failed to write %s tensor data", t)
	}
	if n != len(buf) {
		return n, errors.Errorf("short write of tensor data: wrote %d of %d bytes", n, len(buf))
	}
	return n, nil
}

// ReadData reads the tensor values from r, expecting them in the tensor's
// storage DType, little-endian. The tensor shape must have been set beforehand.
func (t *Tensor) ReadData(r io.Reader) error {
	buf := make([]byte, t.Memory())
	if _, err := io.ReadFull(r, buf); err != nil {
		return errors.Wrapf(err, "failed to read %s tensor data", t)
	}
	switch t.dtype {
	case Float16:
		for ii := range t.data {
			t.data[ii] = float16.Frombits(binary.LittleEndian.Uint16(buf[ii*2:])).Float32()
		}
	default:
		for ii := range t.data {
			t.data[ii] = math.Float32frombits(binary.LittleEndian.Uint32(buf[ii*4:]))
		}
	}
	return nil
}
