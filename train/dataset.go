// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package train

import (
	"fmt"
	"log/slog"

	"github.com/fumi-engineer/moelm/vocab"
)

// Dataset is a list of token windows cut from encoded texts.
type Dataset struct {
	examples [][]int
}

// NewDataset encodes every text and splits it into windows of at most
// seqLen tokens, starting a new window every stride tokens. Texts that encode
// to a single token and windows shorter than two tokens are skipped, since
// they have no next-token target. stride <= 0 means stride = seqLen.
func NewDataset(texts []string, v vocab.Vocabulary, seqLen, stride int) (*Dataset, error) {
	if seqLen < 2 {
		return nil, fmt.Errorf("%w: sequence length %d", ErrInvalidConfig, seqLen)
	}
	if stride <= 0 {
		stride = seqLen
	}

	ds := &Dataset{}
	for i, text := range texts {
		ids, err := v.Encode(text)
		if err != nil {
			return nil, fmt.Errorf("encode text %d: %w", i, err)
		}
		ds.add(ids, seqLen, stride)
	}
	slog.Debug("dataset built", "texts", len(texts), "windows", len(ds.examples), "seq_len", seqLen, "stride", stride)
	return ds, nil
}

func (ds *Dataset) add(ids []int, seqLen, stride int) {
	if len(ids) <= 1 {
		return
	}
	for i := 0; i < max(1, len(ids)-1); i += stride {
		chunk := ids[i:min(i+seqLen, len(ids))]
		if len(chunk) < 2 {
			continue
		}
		ds.examples = append(ds.examples, chunk)
	}
}

// Len returns the number of windows.
func (ds *Dataset) Len() int { return len(ds.examples) }

// Example returns window i. The slice must not be modified.
func (ds *Dataset) Example(i int) []int { return ds.examples[i] }

// Batches groups the windows, in order, into batches of at most size
// windows each, padded with Collate.
func (ds *Dataset) Batches(size int) [][][]int {
	size = max(size, 1)
	var out [][][]int
	for i := 0; i < len(ds.examples); i += size {
		out = append(out, Collate(ds.examples[i:min(i+size, len(ds.examples))]))
	}
	return out
}

// Collate right-pads every sequence with vocab.PadID to the longest one.
func Collate(batch [][]int) [][]int {
	maxLen := 0
	for _, x := range batch {
		maxLen = max(maxLen, len(x))
	}
	out := make([][]int, len(batch))
	for i, x := range batch {
		row := make([]int, maxLen)
		copy(row, x)
		for j := len(x); j < maxLen; j++ {
			row[j] = vocab.PadID
		}
		out[i] = row
	}
	return out
}

// Shift splits a padded batch into model inputs (all but the last position)
// and next-token targets (all but the first).
func Shift(batch [][]int) (inputs, targets [][]int) {
	inputs = make([][]int, len(batch))
	targets = make([][]int, len(batch))
	for i, row := range batch {
		if len(row) == 0 {
			continue
		}
		inputs[i] = row[:len(row)-1]
		targets[i] = row[1:]
	}
	return inputs, targets
}
