// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package model

import (
	"fmt"
	"math/rand/v2"
	"runtime"
	"strconv"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/fumi-engineer/moelm/layer"
	"github.com/fumi-engineer/moelm/logutil"
	"github.com/fumi-engineer/moelm/tensor"
)

// MoELayer implements token-level Mixture of Experts.
//
//	output = sum_k p_k * Expert_k(x)   for the top-k experts of each token
//
// Each expert is an independent ReLU FFN and only the selected experts run.
type MoELayer struct {
	router    *Router
	experts   []*layer.FeedForward
	hiddenDim int
	nExperts  int
	topK      int
	workers   int

	lastCounts atomic.Pointer[[]int]
}

// NewMoELayer creates a MoE layer with nExperts experts. workers bounds how
// many experts run at once; 0 means GOMAXPROCS.
func NewMoELayer(hiddenDim, ffnDim, nExperts, topK, workers int, rng *rand.Rand) (*MoELayer, error) {
	router, err := NewRouter(hiddenDim, nExperts, topK, rng)
	if err != nil {
		return nil, err
	}
	experts := make([]*layer.FeedForward, nExperts)
	for i := range experts {
		experts[i] = layer.NewFeedForward(hiddenDim, ffnDim, rng)
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &MoELayer{
		router:    router,
		experts:   experts,
		hiddenDim: hiddenDim,
		nExperts:  nExperts,
		topK:      topK,
		workers:   workers,
	}, nil
}

// assignment is one (token, slot) pair routed to an expert.
type assignment struct {
	token, slot int
	weight      float32
}

// Forward routes every token of input [..., hidden] to its top-k experts and
// returns the combined output with the same shape, plus the aux loss.
//
//  1. Route: gate softmax and top-k selection per token.
//  2. Invert: expert -> list of (token, slot) assignments.
//  3. Dispatch: each expert with work runs one batched forward over its
//     tokens on the worker pool. Experts with no tokens are skipped.
//  4. Combine: the arena holds one [tokens, hidden] plane per slot. A
//     (slot, token) cell belongs to exactly one expert, so workers write
//     without locks; planes are summed after the pool joins.
func (m *MoELayer) Forward(input *tensor.Tensor) (*tensor.Tensor, float32, error) {
	leadingDims, numTokens, _ := tensor.SplitLast(input.Shape().DimsRef())
	flat := input.Reshape(tensor.NewShape(numTokens, m.hiddenDim))
	flatData := flat.DataPtr()

	rt := m.router.Route(flat)
	if rt.Probs.HasNonFinite() {
		return nil, 0, fmt.Errorf("gate: %w", ErrNonFinite)
	}

	byExpert := make([][]assignment, m.nExperts)
	for t := 0; t < numTokens; t++ {
		for k := 0; k < m.topK; k++ {
			i := t*m.topK + k
			e := rt.Experts[i]
			byExpert[e] = append(byExpert[e], assignment{token: t, slot: k, weight: rt.Weights[i]})
		}
	}

	planeSize := numTokens * m.hiddenDim
	arena := make([]float32, m.topK*planeSize)

	var g errgroup.Group
	g.SetLimit(m.workers)
	for e, assigned := range byExpert {
		if len(assigned) == 0 {
			continue
		}
		g.Go(func() error {
			batch := make([]float32, len(assigned)*m.hiddenDim)
			for i, a := range assigned {
				copy(batch[i*m.hiddenDim:], flatData[a.token*m.hiddenDim:(a.token+1)*m.hiddenDim])
			}
			out := m.experts[e].Forward(tensor.FromSliceNoCopy(batch, tensor.NewShape(len(assigned), m.hiddenDim)))
			if out.HasNonFinite() {
				return fmt.Errorf("expert %d: %w", e, ErrNonFinite)
			}

			outData := out.DataPtr()
			for i, a := range assigned {
				dst := arena[a.slot*planeSize+a.token*m.hiddenDim:][:m.hiddenDim]
				src := outData[i*m.hiddenDim : (i+1)*m.hiddenDim]
				for d, v := range src {
					dst[d] = a.weight * v
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	combined := arena[:planeSize]
	for k := 1; k < m.topK; k++ {
		plane := arena[k*planeSize : (k+1)*planeSize]
		for i, v := range plane {
			combined[i] += v
		}
	}

	counts := rt.Counts()
	m.lastCounts.Store(&counts)
	if logutil.TraceEnabled() {
		logutil.Trace("moe dispatch", "tokens", numTokens, "top_k", m.topK, "per_expert", counts)
	}

	output := tensor.FromSliceNoCopy(combined, tensor.NewShape(numTokens, m.hiddenDim))
	return output.Reshape(tensor.WithLastDim(leadingDims, m.hiddenDim)), rt.AuxLoss(), nil
}

// LastRouting returns the per-expert assignment counts of the most recent
// Forward, or nil before the first call. Under concurrent callers it reflects
// whichever call finished last.
func (m *MoELayer) LastRouting() []int {
	if p := m.lastCounts.Load(); p != nil {
		return *p
	}
	return nil
}

// Register adds every expert and then the gate under prefix, the order a
// PyTorch state_dict lists them in.
func (m *MoELayer) Register(prefix string, p *layer.Params) {
	for i, e := range m.experts {
		e.Register(layer.Join(prefix, "experts."+strconv.Itoa(i)), p)
	}
	m.router.Register(prefix, p)
}

// Router returns the gate.
func (m *MoELayer) Router() *Router { return m.router }

// Expert returns expert i.
func (m *MoELayer) Expert(i int) *layer.FeedForward { return m.experts[i] }

// NumExperts returns the expert count.
func (m *MoELayer) NumExperts() int { return m.nExperts }
