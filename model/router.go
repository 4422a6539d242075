// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package model

import (
	"math/rand/v2"

	"github.com/fumi-engineer/moelm/layer"
	"github.com/fumi-engineer/moelm/tensor"
)

// Router selects the top-k experts for each token via a learned gate.
//
//	p       = softmax(W_gate @ x + b_gate)
//	experts = argmax_k(p)
//	weights = p[experts]
//
// The selected weights are the experts' own probabilities and are not
// renormalised, so a low-confidence top choice attenuates its contribution.
type Router struct {
	gate     *layer.Linear
	nExperts int
	topK     int
}

// Routing is the outcome of routing one batch of tokens.
type Routing struct {
	// Probs is the full gate distribution, [tokens, experts].
	Probs *tensor.Tensor
	// Experts and Weights are [tokens * topK], slot-major within a token.
	Experts []int
	Weights []float32
	TopK    int
}

// NewRouter creates a top-k router. topK must be 1 or 2 and no larger than
// nExperts.
func NewRouter(hiddenDim, nExperts, topK int, rng *rand.Rand) (*Router, error) {
	if err := checkTopK(topK, nExperts); err != nil {
		return nil, err
	}
	return &Router{
		gate:     layer.NewLinear(hiddenDim, nExperts, true, rng),
		nExperts: nExperts,
		topK:     topK,
	}, nil
}

// Route computes the gate distribution and the top-k selection for a flat
// [tokens, hidden] input. Every selected index is a valid expert even when
// the distribution is not finite; callers check Probs for that.
func (r *Router) Route(flat *tensor.Tensor) Routing {
	probs := r.gate.Forward(flat).Softmax()
	numTokens := probs.Shape().At(0)
	pData := probs.DataPtr()

	rt := Routing{
		Probs:   probs,
		Experts: make([]int, numTokens*r.topK),
		Weights: make([]float32, numTokens*r.topK),
		TopK:    r.topK,
	}

	// Greedy selection: best expert, then best of the rest. Ties go to the
	// lower index, and the second pick always differs from the first.
	for t := 0; t < numTokens; t++ {
		row := pData[t*r.nExperts : (t+1)*r.nExperts]
		first, firstP := tensor.Argmax(row)
		rt.Experts[t*r.topK] = first
		rt.Weights[t*r.topK] = firstP
		if r.topK == 2 {
			second := 0
			if first == 0 {
				second = 1
			}
			secondP := row[second]
			for e, p := range row {
				if e != first && p > secondP {
					second, secondP = e, p
				}
			}
			rt.Experts[t*r.topK+1] = second
			rt.Weights[t*r.topK+1] = secondP
		}
	}
	return rt
}

// AuxLoss is the load-balance penalty over the full, unrouted distribution:
//
//	aux = E * sum_e (mean_t p[t, e])^2
//
// It is 1 when the batch-mean distribution is uniform and grows towards E as
// routing collapses onto one expert.
func (rt Routing) AuxLoss() float32 {
	numTokens, nExperts := rt.Probs.Shape().At(0), rt.Probs.Shape().At(1)
	if numTokens == 0 {
		return 0
	}
	mean := make([]float64, nExperts)
	pData := rt.Probs.DataPtr()
	for t := 0; t < numTokens; t++ {
		for e, p := range pData[t*nExperts : (t+1)*nExperts] {
			mean[e] += float64(p)
		}
	}
	sum := float64(0)
	for _, m := range mean {
		m /= float64(numTokens)
		sum += m * m
	}
	return float32(float64(nExperts) * sum)
}

// Counts returns how many (token, slot) assignments each expert received.
func (rt Routing) Counts() []int {
	counts := make([]int, rt.Probs.Shape().At(1))
	for _, e := range rt.Experts {
		counts[e]++
	}
	return counts
}

// Register adds the gate under prefix.
func (r *Router) Register(prefix string, p *layer.Params) {
	r.gate.Register(layer.Join(prefix, "gate"), p)
}

// Gate returns the gate projection.
func (r *Router) Gate() *layer.Linear { return r.gate }
