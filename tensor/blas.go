// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Gemm computes C = alpha*op(A)@op(B) + beta*C on row-major slices with
// explicit leading dimensions, so callers can address strided views such as
// one head of a [seq, heads, headDim] buffer.
//
// m, n, k are the dimensions of op(A) [m, k], op(B) [k, n] and C [m, n].
// Empty products return early; gonum rejects zero-sized General matrices.
func Gemm(transA, transB bool, m, n, k int, alpha float32, a []float32, lda int, b []float32, ldb int, beta float32, c []float32, ldc int) {
	if m == 0 || n == 0 || k == 0 {
		return
	}
	tA, aRows, aCols := blas.NoTrans, m, k
	if transA {
		tA, aRows, aCols = blas.Trans, k, m
	}
	tB, bRows, bCols := blas.NoTrans, k, n
	if transB {
		tB, bRows, bCols = blas.Trans, n, k
	}
	blas32.Gemm(tA, tB, alpha,
		blas32.General{Rows: aRows, Cols: aCols, Stride: lda, Data: a[:(aRows-1)*lda+aCols]},
		blas32.General{Rows: bRows, Cols: bCols, Stride: ldb, Data: b[:(bRows-1)*ldb+bCols]},
		beta,
		blas32.General{Rows: m, Cols: n, Stride: ldc, Data: c[:(m-1)*ldc+n]},
	)
}

// MatmulTransposedB computes C = A @ B^T without materialising B^T.
// A: [M, K], B: [N, K] -> C: [M, N]. This is the Linear.Forward hot path
// because weights are stored [out, in].
func MatmulTransposedB(a, b *Tensor) *Tensor {
	if a.shape.NDim() != 2 || b.shape.NDim() != 2 {
		panic("MatmulTransposedB requires 2D tensors")
	}
	aM, aK := a.shape.At(-2), a.shape.At(-1)
	bN, bK := b.shape.At(-2), b.shape.At(-1)
	if aK != bK {
		panic(fmt.Sprintf("matmulT dimension mismatch: %d vs %d", aK, bK))
	}
	result := New(NewShape(aM, bN))
	Gemm(false, true, aM, bN, aK, 1, a.data, aK, b.data, bK, 0, result.data, bN)
	return result
}
