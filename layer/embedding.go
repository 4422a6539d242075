// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package layer

import (
	"fmt"
	"math/rand/v2"

	"github.com/fumi-engineer/moelm/tensor"
)

// Embedding is a lookup table: token ID -> dense vector.
//
//	output[b, s, :] = weight[ids[b][s], :]
//
// Weight shape: [vocab_size, embed_dim], initialised N(0, 1) like nn.Embedding.
type Embedding struct {
	weight    *tensor.Tensor
	vocabSize int
	embedDim  int
}

// NewEmbedding creates an embedding table.
func NewEmbedding(vocabSize, embedDim int, rng *rand.Rand) *Embedding {
	return &Embedding{
		weight:    tensor.RandnWithStd(tensor.NewShape(vocabSize, embedDim), 1, rng),
		vocabSize: vocabSize,
		embedDim:  embedDim,
	}
}

// Lookup gathers embeddings for a [batch][seq] id grid into a
// [batch, seq, embed_dim] tensor. All rows must have the same length.
func (e *Embedding) Lookup(ids [][]int) (*tensor.Tensor, error) {
	batch := len(ids)
	seqLen := 0
	if batch > 0 {
		seqLen = len(ids[0])
	}
	output := tensor.New(tensor.NewShape(batch, seqLen, e.embedDim))
	out, w := output.DataPtr(), e.weight.DataPtr()
	for b, row := range ids {
		if len(row) != seqLen {
			return nil, fmt.Errorf("row %d has length %d, want %d", b, len(row), seqLen)
		}
		for s, tid := range row {
			if tid < 0 || tid >= e.vocabSize {
				return nil, fmt.Errorf("token id %d out of range [0, %d)", tid, e.vocabSize)
			}
			copy(out[(b*seqLen+s)*e.embedDim:], w[tid*e.embedDim:(tid+1)*e.embedDim])
		}
	}
	return output, nil
}

// Register adds the table under prefix.
func (e *Embedding) Register(prefix string, p *Params) {
	p.Add(Join(prefix, "weight"), e.weight)
}

// Weight returns the [vocab, dim] table.
func (e *Embedding) Weight() *tensor.Tensor { return e.weight }

// VocabSize returns the number of rows.
func (e *Embedding) VocabSize() int { return e.vocabSize }

// EmbedDim returns the vector width.
func (e *Embedding) EmbedDim() int { return e.embedDim }
