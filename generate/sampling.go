// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package generate

import (
	"cmp"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/fumi-engineer/moelm/tensor"
)

// Strategy picks the next token from a probability distribution over the
// vocabulary. The draw is kept apart from the model so the forward pass stays
// deterministic and the randomness can be seeded on its own.
type Strategy interface {
	Pick(probs []float32) int
}

// Greedy always picks the most probable token; ties go to the lowest id.
type Greedy struct{}

// Pick implements Strategy.
func (Greedy) Pick(probs []float32) int {
	id, _ := tensor.Argmax(probs)
	return id
}

// TopK keeps the K most probable tokens and draws one of them with weight
// proportional to its original probability. A TopK is not safe for
// concurrent use; give each generation its own.
type TopK struct {
	K   int
	src rand.Source
}

// NewTopK returns a top-k sampler seeded with seed.
func NewTopK(k int, seed uint64) *TopK {
	return &TopK{K: k, src: rand.NewPCG(seed, seed^0xda3e39cb94b95bdb)}
}

// Pick implements Strategy.
func (s *TopK) Pick(probs []float32) int {
	ids := topIndices(probs, s.K)
	weights := make([]float64, len(ids))
	for i, id := range ids {
		weights[i] = float64(probs[id])
	}
	if floats.Sum(weights) <= 0 {
		return ids[0]
	}
	return ids[int(distuv.NewCategorical(weights, s.src).Rand())]
}

// topIndices returns the ids of the k largest probabilities, largest first.
// k is clamped to the vocabulary size.
func topIndices(probs []float32, k int) []int {
	ids := make([]int, len(probs))
	for i := range ids {
		ids[i] = i
	}
	slices.SortStableFunc(ids, func(a, b int) int {
		return cmp.Compare(probs[b], probs[a])
	})
	return ids[:min(max(k, 1), len(ids))]
}
