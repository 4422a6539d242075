// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package vocab

import (
	"fmt"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// BPE wraps a HuggingFace tokenizer.json. The tokenizer's own post-processor
// is expected to add <bos>/<eos>; if it does not, Encode adds them.
type BPE struct {
	tok  *tk.Tokenizer
	bos  int
	eos  int
	hasE bool
	size int
}

var _ Vocabulary = (*BPE)(nil)

// LoadBPE reads a tokenizer.json.
func LoadBPE(path string) (*BPE, error) {
	t, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewBPE(t)
}

// NewBPE adapts an already constructed tokenizer.
func NewBPE(t *tk.Tokenizer) (*BPE, error) {
	b := &BPE{tok: t, bos: -1, eos: -1}
	for _, id := range t.GetVocab(true) {
		b.size = max(b.size, id+1)
	}
	if id, ok := t.TokenToId(BOS); ok {
		b.bos = id
	}
	if id, ok := t.TokenToId(EOS); ok {
		b.eos, b.hasE = id, true
	}
	if b.size == 0 {
		return nil, fmt.Errorf("%w: empty tokenizer vocabulary", ErrMissingSpecial)
	}
	return b, nil
}

// Encode implements Vocabulary.
func (b *BPE) Encode(text string) ([]int, error) {
	enc, err := b.tok.EncodeSingle(text, true)
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(enc.Ids)+2)
	if b.bos >= 0 && (len(enc.Ids) == 0 || enc.Ids[0] != b.bos) {
		ids = append(ids, b.bos)
	}
	ids = append(ids, enc.Ids...)
	if b.hasE && (len(ids) == 0 || ids[len(ids)-1] != b.eos) {
		ids = append(ids, b.eos)
	}
	return ids, nil
}

// Decode implements Vocabulary. Special tokens are skipped by the tokenizer.
func (b *BPE) Decode(ids []int) string {
	return b.tok.Decode(ids, true)
}

// Piece implements Vocabulary.
func (b *BPE) Piece(id int) string {
	if tok, ok := b.tok.IdToToken(id); ok {
		return tok
	}
	return Unk
}

// Size implements Vocabulary.
func (b *BPE) Size() int { return b.size }

// EOS implements Vocabulary.
func (b *BPE) EOS() (int, bool) { return b.eos, b.hasE }
