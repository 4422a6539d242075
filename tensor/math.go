// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package tensor

import "math"

// NegInf is the most negative finite float32. Used as -inf for masking so that
// softmax never sees a true infinity.
const NegInf = -float32(math.MaxFloat32)

// Exp computes exp(x) in float64 and rounds back to float32.
func Exp(x float32) float32 { return float32(math.Exp(float64(x))) }

// Sqrt computes sqrt(x) in float64 and rounds back to float32.
func Sqrt(x float32) float32 { return float32(math.Sqrt(float64(x))) }

// Log computes ln(x) in float64 and rounds back to float32.
func Log(x float32) float32 { return float32(math.Log(float64(x))) }

// Argmax returns the index and value of the maximum element. Ties resolve to
// the lowest index. Panics on an empty slice.
func Argmax(xs []float32) (int, float32) {
	bestIdx, bestVal := 0, xs[0]
	for i := 1; i < len(xs); i++ {
		if xs[i] > bestVal {
			bestIdx, bestVal = i, xs[i]
		}
	}
	return bestIdx, bestVal
}

// SoftmaxInPlace replaces xs with softmax(xs).
//
//	p_i = exp(x_i - max(x)) / sum_j exp(x_j - max(x))
func SoftmaxInPlace(xs []float32) {
	if len(xs) == 0 {
		return
	}
	_, maxVal := Argmax(xs)
	sum := float64(0)
	for i, v := range xs {
		e := math.Exp(float64(v - maxVal))
		xs[i] = float32(e)
		sum += e
	}
	inv := 1 / sum
	for i := range xs {
		xs[i] = float32(float64(xs[i]) * inv)
	}
}
