// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

// Package model implements the Mixture-of-Experts transformer: attention,
// routing, blocks and the full stack from token ids to logits.
package model

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"

	"github.com/fumi-engineer/moelm/layer"
	"github.com/fumi-engineer/moelm/tensor"
)

// Transformer is the complete Mixture-of-Experts language model.
//
//	x      = tok_emb[ids] + pos_emb[:seq]
//	x, aux = Block_i(x) for every block, aux summed
//	logits = head(LN(x))
//
// Parameters are never modified by Forward, so one Transformer can serve
// concurrent callers.
type Transformer struct {
	config Config
	tokEmb *layer.Embedding
	posEmb *tensor.Tensor // [1, MaxSeqLen, hidden]
	blocks []*TransformerBlock
	ln     *layer.LayerNorm
	head   *layer.Linear
	params *layer.Params
}

// New constructs a randomly initialised model from cfg. The positional bias
// starts at zero.
func New(cfg Config) (*Transformer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	m := &Transformer{
		config: cfg,
		tokEmb: layer.NewEmbedding(cfg.VocabSize, cfg.HiddenDim, rng),
		posEmb: tensor.Zeros(tensor.NewShape(1, cfg.MaxSeqLen, cfg.HiddenDim)),
		blocks: make([]*TransformerBlock, cfg.NLayers),
		ln:     layer.NewLayerNorm(cfg.HiddenDim, layer.DefaultLayerNormEps),
	}
	for i := range m.blocks {
		blk, err := NewTransformerBlock(cfg, i, rng)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		m.blocks[i] = blk
	}
	m.head = layer.NewLinear(cfg.HiddenDim, cfg.VocabSize, false, rng)

	m.params = layer.NewParams()
	m.params.Add("pos_emb", m.posEmb)
	m.tokEmb.Register("tok_emb", m.params)
	for i, blk := range m.blocks {
		blk.Register("layers."+strconv.Itoa(i), m.params)
	}
	m.ln.Register("ln", m.params)
	m.head.Register("head", m.params)

	slog.Debug("model initialised", "layers", cfg.NLayers, "hidden", cfg.HiddenDim,
		"experts", cfg.NExperts, "top_k", cfg.TopK, "vocab", cfg.VocabSize, "params", m.params.Numel())
	return m, nil
}

// Config returns the model's configuration.
func (m *Transformer) Config() Config { return m.config }

// VocabSize returns the number of output logits per position.
func (m *Transformer) VocabSize() int { return m.config.VocabSize }

// Params returns the named parameter registry. Writing into a tensor's data
// changes the model.
func (m *Transformer) Params() *layer.Params { return m.params }

// NumParams counts every parameter element.
func (m *Transformer) NumParams() int { return m.params.Numel() }

// Blocks returns the transformer blocks in order.
func (m *Transformer) Blocks() []*TransformerBlock { return m.blocks }

// Forward maps ids [batch][seq] to logits [batch, seq, vocab] and the total
// aux loss. All positions attend to all positions.
func (m *Transformer) Forward(ids [][]int) (*tensor.Tensor, float32, error) {
	return m.forward(ids, false)
}

// ForwardCausal is Forward with a causal attention mask in every block.
func (m *Transformer) ForwardCausal(ids [][]int) (*tensor.Tensor, float32, error) {
	return m.forward(ids, true)
}

// NextLogits runs one unbatched sequence and returns a copy of the logits at
// its last position.
func (m *Transformer) NextLogits(ids []int) ([]float32, error) {
	logits, _, err := m.Forward([][]int{ids})
	if err != nil {
		return nil, err
	}
	last := logits.Row(len(ids) - 1)
	out := make([]float32, len(last))
	copy(out, last)
	return out, nil
}

func (m *Transformer) forward(ids [][]int, causal bool) (*tensor.Tensor, float32, error) {
	seqLen, err := m.checkIDs(ids)
	if err != nil {
		return nil, 0, err
	}

	x, err := m.tokEmb.Lookup(ids)
	if err != nil {
		return nil, 0, err
	}
	xData, pos := x.DataPtr(), m.posEmb.DataPtr()[:seqLen*m.config.HiddenDim]
	for off := 0; off < len(xData); off += len(pos) {
		row := xData[off : off+len(pos)]
		for i, p := range pos {
			row[i] += p
		}
	}

	var mask []float32
	if causal {
		mask = CausalMask(seqLen)
	}

	total := float32(0)
	for i, blk := range m.blocks {
		var aux float32
		x, aux, err = blk.Forward(x, mask)
		if err != nil {
			return nil, 0, fmt.Errorf("layer %d: %w", i, err)
		}
		total += aux
	}

	logits := m.head.Forward(m.ln.Forward(x))
	if logits.HasNonFinite() {
		return nil, 0, fmt.Errorf("logits: %w", ErrNonFinite)
	}
	return logits, total, nil
}

func (m *Transformer) checkIDs(ids [][]int) (int, error) {
	if len(ids) == 0 || len(ids[0]) == 0 {
		return 0, ErrEmptyInput
	}
	seqLen := len(ids[0])
	if seqLen > m.config.MaxSeqLen {
		return 0, fmt.Errorf("%w: %d > %d", ErrSequenceTooLong, seqLen, m.config.MaxSeqLen)
	}
	for b, row := range ids {
		if len(row) != seqLen {
			return 0, fmt.Errorf("%w: row %d has %d tokens, row 0 has %d", ErrRaggedBatch, b, len(row), seqLen)
		}
		for _, id := range row {
			if id < 0 || id >= m.config.VocabSize {
				return 0, fmt.Errorf("%w: %d not in [0, %d)", ErrTokenOutOfRange, id, m.config.VocabSize)
			}
		}
	}
	return seqLen, nil
}
