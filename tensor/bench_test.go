// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package tensor

import (
	"fmt"
	"math/rand/v2"
	"testing"
)

func benchTensor(rows, cols int, seed uint64) *Tensor {
	return RandnWithStd(NewShape(rows, cols), 1, rand.New(rand.NewPCG(seed, seed)))
}

func BenchmarkGemm(b *testing.B) {
	for _, n := range []int{64, 128, 256, 512} {
		b.Run(fmt.Sprintf("%dx%d", n, n), func(b *testing.B) {
			x, y := benchTensor(n, n, 42), benchTensor(n, n, 123)
			c := make([]float32, n*n)
			b.ReportMetric(float64(2*n*n*n), "flop/op")
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				Gemm(false, false, n, n, n, 1, x.DataPtr(), n, y.DataPtr(), n, 0, c, n)
			}
		})
	}
}

// Linear layers take this path with a [out, in] weight.
func BenchmarkMatmulTransposedB(b *testing.B) {
	x, w := benchTensor(128, 512, 42), benchTensor(2048, 512, 123)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = MatmulTransposedB(x, w)
	}
}

func BenchmarkSoftmax(b *testing.B) {
	for _, shape := range [][2]int{{64, 1024}, {256, 1024}, {16, 32000}} {
		b.Run(fmt.Sprintf("%dx%d", shape[0], shape[1]), func(b *testing.B) {
			x := benchTensor(shape[0], shape[1], 42)
			out := New(x.Shape())
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				x.SoftmaxInto(out)
			}
		})
	}
}
