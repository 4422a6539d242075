// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

// Package tensor holds the dense float32 storage the model is built on.
//
// All data is a flat []float32 in row-major order. Matrix products go through
// gonum's blas32, everything else is plain loops.
package tensor

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Tensor stores multi-dimensional float32 data in a contiguous flat slice.
// Operations allocate a new tensor unless suffixed with "InPlace".
type Tensor struct {
	data  []float32
	shape Shape
}

// New allocates a zero-filled tensor.
func New(shape Shape) *Tensor {
	return &Tensor{data: make([]float32, shape.Numel()), shape: shape}
}

// Zeros is an alias for New.
func Zeros(shape Shape) *Tensor { return New(shape) }

// Full allocates a tensor with every element set to v.
func Full(shape Shape, v float32) *Tensor {
	t := New(shape)
	for i := range t.data {
		t.data[i] = v
	}
	return t
}

// Ones allocates a tensor filled with 1.0.
func Ones(shape Shape) *Tensor { return Full(shape, 1) }

// FromSlice copies data into a new tensor.
// Panics if len(data) != shape.Numel().
func FromSlice(data []float32, shape Shape) *Tensor {
	if len(data) != shape.Numel() {
		panic(fmt.Sprintf("data length %d != shape numel %d", len(data), shape.Numel()))
	}
	d := make([]float32, len(data))
	copy(d, data)
	return &Tensor{data: d, shape: shape}
}

// FromSliceNoCopy wraps data without copying. The caller gives up ownership.
func FromSliceNoCopy(data []float32, shape Shape) *Tensor {
	if len(data) != shape.Numel() {
		panic(fmt.Sprintf("data length %d != shape numel %d", len(data), shape.Numel()))
	}
	return &Tensor{data: data, shape: shape}
}

// RandnWithStd fills a tensor with N(0, std^2) samples drawn from rng.
func RandnWithStd(shape Shape, std float32, rng *rand.Rand) *Tensor {
	t := New(shape)
	for i := range t.data {
		t.data[i] = float32(rng.NormFloat64()) * std
	}
	return t
}

// RandUniform fills a tensor with samples from U(-bound, bound), the
// initialisation PyTorch uses for nn.Linear.
func RandUniform(shape Shape, bound float32, rng *rand.Rand) *Tensor {
	t := New(shape)
	for i := range t.data {
		t.data[i] = (2*rng.Float32() - 1) * bound
	}
	return t
}

// Shape returns the tensor's shape.
func (t *Tensor) Shape() Shape { return t.shape }

// DataPtr returns the backing slice. Mutations are visible to the tensor.
func (t *Tensor) DataPtr() []float32 { return t.data }

// Data returns a copy of the backing slice.
func (t *Tensor) Data() []float32 {
	d := make([]float32, len(t.data))
	copy(d, t.data)
	return d
}

// Numel returns the number of elements.
func (t *Tensor) Numel() int { return len(t.data) }

// Row returns the i-th vector along the last dimension, sharing storage.
func (t *Tensor) Row(i int) []float32 {
	last := t.shape.At(-1)
	return t.data[i*last : (i+1)*last]
}

// Reshape returns a view with a different shape over the same storage.
func (t *Tensor) Reshape(s Shape) *Tensor {
	if t.shape.Numel() != s.Numel() {
		panic(fmt.Sprintf("cannot reshape %v to %v: different numel", t.shape, s))
	}
	return &Tensor{data: t.data, shape: s}
}

func (t *Tensor) assertShape(other *Tensor) {
	if !t.shape.Equal(other.shape) {
		panic(fmt.Sprintf("shape mismatch: %v vs %v", t.shape, other.shape))
	}
}

// AddInPlace adds o to t element-wise.
func (t *Tensor) AddInPlace(o *Tensor) {
	t.assertShape(o)
	a, b := t.data, o.data
	for i := range a {
		a[i] += b[i]
	}
}

// ReLUInPlace clamps negative elements to zero.
func (t *Tensor) ReLUInPlace() {
	for i, v := range t.data {
		if v < 0 {
			t.data[i] = 0
		}
	}
}

// Softmax computes softmax along the last dimension.
func (t *Tensor) Softmax() *Tensor {
	if t.shape.NDim() < 1 {
		panic("softmax requires at least 1 dimension")
	}
	r := New(t.shape)
	t.SoftmaxInto(r)
	return r
}

// SoftmaxInto writes the row-wise softmax of t into out.
func (t *Tensor) SoftmaxInto(out *Tensor) {
	t.assertShape(out)
	lastDim := t.shape.At(-1)
	if lastDim == 0 {
		return
	}
	for v := 0; v < len(t.data)/lastDim; v++ {
		off := v * lastDim
		dst := out.data[off : off+lastDim]
		copy(dst, t.data[off:off+lastDim])
		SoftmaxInPlace(dst)
	}
}

// HasNonFinite reports whether any element is NaN or ±Inf.
func (t *Tensor) HasNonFinite() bool { return HasNonFinite(t.data) }

// HasNonFinite reports whether xs contains NaN or ±Inf.
func HasNonFinite(xs []float32) bool {
	for _, v := range xs {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return true
		}
	}
	return false
}
