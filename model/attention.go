// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package model

import (
	"math/rand/v2"

	"github.com/fumi-engineer/moelm/layer"
	"github.com/fumi-engineer/moelm/tensor"
)

// Attention is multi-head self-attention with a packed q/k/v projection,
// laid out like nn.MultiheadAttention so checkpoints line up:
//
//	[q; k; v] = W_in @ x + b_in
//	head_h    = softmax(Q_h @ K_h^T / sqrt(d_head) + mask) @ V_h
//	out       = W_out @ concat(head_0..head_{H-1}) + b_out
//
// No mask is applied unless one is passed to Forward.
type Attention struct {
	inProj    *layer.Linear // [3*hidden, hidden]
	outProj   *layer.Linear
	nHeads    int
	headDim   int
	hiddenDim int
	scale     float32
}

// NewAttention creates an attention layer with nHeads heads over hiddenDim.
func NewAttention(hiddenDim, nHeads int, rng *rand.Rand) *Attention {
	headDim := hiddenDim / nHeads
	return &Attention{
		inProj:    layer.NewLinear(hiddenDim, 3*hiddenDim, true, rng),
		outProj:   layer.NewLinear(hiddenDim, hiddenDim, true, rng),
		nHeads:    nHeads,
		headDim:   headDim,
		hiddenDim: hiddenDim,
		scale:     1 / tensor.Sqrt(float32(headDim)),
	}
}

// Forward attends over input [batch, seq, hidden]. mask is nil or an additive
// [seq, seq] matrix (use CausalMask for autoregressive masking).
//
// Q, K and V stay interleaved in the packed projection; each head is a pair
// of strided GEMMs over it, so nothing is copied into per-head tensors.
func (a *Attention) Forward(input *tensor.Tensor, mask []float32) *tensor.Tensor {
	dims := input.Shape().DimsRef()
	batch, seqLen := dims[0], dims[1]
	d, hd := a.hiddenDim, a.headDim

	qkv := a.inProj.Forward(input).DataPtr()
	merged := make([]float32, batch*seqLen*d)
	scores := make([]float32, seqLen*seqLen)

	for b := 0; b < batch; b++ {
		base := b * seqLen * 3 * d
		outBase := b * seqLen * d
		for h := 0; h < a.nHeads; h++ {
			qOff := base + h*hd
			kOff := base + d + h*hd
			vOff := base + 2*d + h*hd

			// scores = Q_h @ K_h^T * scale
			tensor.Gemm(false, true, seqLen, seqLen, hd,
				a.scale, qkv[qOff:], 3*d, qkv[kOff:], 3*d,
				0, scores, seqLen)

			for qi := 0; qi < seqLen; qi++ {
				row := scores[qi*seqLen : (qi+1)*seqLen]
				if mask != nil {
					mRow := mask[qi*seqLen : (qi+1)*seqLen]
					for j := range row {
						row[j] += mRow[j]
					}
				}
				tensor.SoftmaxInPlace(row)
			}

			// head_h = scores @ V_h, written straight into its column band
			tensor.Gemm(false, false, seqLen, hd, seqLen,
				1, scores, seqLen, qkv[vOff:], 3*d,
				0, merged[outBase+h*hd:], d)
		}
	}

	return a.outProj.Forward(tensor.FromSliceNoCopy(merged, tensor.NewShape(batch, seqLen, d)))
}

// Register adds the packed projection under nn.MultiheadAttention's names.
func (a *Attention) Register(prefix string, p *layer.Params) {
	p.Add(layer.Join(prefix, "in_proj_weight"), a.inProj.Weight())
	p.Add(layer.Join(prefix, "in_proj_bias"), a.inProj.Bias())
	a.outProj.Register(layer.Join(prefix, "out_proj"), p)
}

// CausalMask returns a [seqLen, seqLen] additive mask with -inf above the
// diagonal.
func CausalMask(seqLen int) []float32 {
	mask := make([]float32, seqLen*seqLen)
	for i := 0; i < seqLen; i++ {
		for j := i + 1; j < seqLen; j++ {
			mask[i*seqLen+j] = tensor.NegInf
		}
	}
	return mask
}
