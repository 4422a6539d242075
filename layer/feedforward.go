// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package layer

import (
	"math/rand/v2"

	"github.com/fumi-engineer/moelm/tensor"
)

// FeedForward is the two-layer position-wise network used both as the dense
// sublayer and as a single MoE expert:
//
//	FFN(x) = W_2 @ ReLU(W_1 @ x + b_1) + b_2
//
// Parameters are registered as "0" and "2", the indices the two Linear
// modules have inside nn.Sequential(Linear, ReLU, Linear).
type FeedForward struct {
	up, down *Linear
}

// NewFeedForward creates a hidden -> ffn -> hidden network.
func NewFeedForward(hiddenDim, ffnDim int, rng *rand.Rand) *FeedForward {
	return &FeedForward{
		up:   NewLinear(hiddenDim, ffnDim, true, rng),
		down: NewLinear(ffnDim, hiddenDim, true, rng),
	}
}

// Forward runs the network over any [..., hidden] input.
func (f *FeedForward) Forward(input *tensor.Tensor) *tensor.Tensor {
	h := f.up.Forward(input)
	h.ReLUInPlace()
	return f.down.Forward(h)
}

// Register adds both projections under prefix.
func (f *FeedForward) Register(prefix string, p *Params) {
	f.up.Register(Join(prefix, "0"), p)
	f.down.Register(Join(prefix, "2"), p)
}

// Up returns the hidden -> ffn projection.
func (f *FeedForward) Up() *Linear { return f.up }

// Down returns the ffn -> hidden projection.
func (f *FeedForward) Down() *Linear { return f.down }
