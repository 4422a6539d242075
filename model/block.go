// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package model

import (
	"math/rand/v2"

	"github.com/fumi-engineer/moelm/layer"
	"github.com/fumi-engineer/moelm/tensor"
)

// FFNKind tags which feed-forward sublayer a block carries.
type FFNKind uint8

const (
	Dense FFNKind = iota
	MixtureOfExperts
)

func (k FFNKind) String() string {
	if k == MixtureOfExperts {
		return "moe"
	}
	return "dense"
}

// FFN is the feed-forward sublayer of a block. Exactly one of the two
// implementations is set, according to Kind.
type FFN struct {
	Kind  FFNKind
	dense *layer.FeedForward
	moe   *MoELayer
}

// Forward returns the sublayer output and its aux loss (0 for Dense).
func (f FFN) Forward(x *tensor.Tensor) (*tensor.Tensor, float32, error) {
	switch f.Kind {
	case MixtureOfExperts:
		return f.moe.Forward(x)
	default:
		return f.dense.Forward(x), 0, nil
	}
}

// Register adds the sublayer under "moe" or "ff" below prefix.
func (f FFN) Register(prefix string, p *layer.Params) {
	switch f.Kind {
	case MixtureOfExperts:
		f.moe.Register(layer.Join(prefix, "moe"), p)
	default:
		f.dense.Register(layer.Join(prefix, "ff"), p)
	}
}

// MoE returns the MoE layer, or nil for a Dense block.
func (f FFN) MoE() *MoELayer { return f.moe }

// TransformerBlock is a post-norm layer:
//
//	h   = LN1(x + Attention(x, mask))
//	out = LN2(h + FFN(h))
type TransformerBlock struct {
	attn *Attention
	ln1  *layer.LayerNorm
	ln2  *layer.LayerNorm
	ffn  FFN
}

// NewTransformerBlock builds block index from cfg; whether its FFN is MoE or
// Dense is fixed here.
func NewTransformerBlock(cfg Config, index int, rng *rand.Rand) (*TransformerBlock, error) {
	blk := &TransformerBlock{
		attn: NewAttention(cfg.HiddenDim, cfg.NHeads, rng),
		ln1:  layer.NewLayerNorm(cfg.HiddenDim, layer.DefaultLayerNormEps),
		ln2:  layer.NewLayerNorm(cfg.HiddenDim, layer.DefaultLayerNormEps),
	}
	if cfg.IsMoELayer(index) {
		moe, err := NewMoELayer(cfg.HiddenDim, cfg.FFNDim, cfg.NExperts, cfg.TopK, cfg.Workers, rng)
		if err != nil {
			return nil, err
		}
		blk.ffn = FFN{Kind: MixtureOfExperts, moe: moe}
	} else {
		blk.ffn = FFN{Kind: Dense, dense: layer.NewFeedForward(cfg.HiddenDim, cfg.FFNDim, rng)}
	}
	return blk, nil
}

// Forward runs the block over x [batch, seq, hidden].
func (blk *TransformerBlock) Forward(x *tensor.Tensor, mask []float32) (*tensor.Tensor, float32, error) {
	a := blk.attn.Forward(x, mask)
	a.AddInPlace(x)
	h := blk.ln1.Forward(a)

	ff, aux, err := blk.ffn.Forward(h)
	if err != nil {
		return nil, 0, err
	}
	// ff is freshly allocated by both FFN kinds
	ff.AddInPlace(h)
	return blk.ln2.Forward(ff), aux, nil
}

// Register adds the block's parameters under prefix in module order.
func (blk *TransformerBlock) Register(prefix string, p *layer.Params) {
	blk.attn.Register(layer.Join(prefix, "attn"), p)
	blk.ln1.Register(layer.Join(prefix, "ln1"), p)
	blk.ln2.Register(layer.Join(prefix, "ln2"), p)
	blk.ffn.Register(prefix, p)
}

// FFN returns the block's feed-forward sublayer.
func (blk *TransformerBlock) FFN() FFN { return blk.ffn }
