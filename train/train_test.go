// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package train

import (
	"context"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fumi-engineer/moelm/model"
	"github.com/fumi-engineer/moelm/tensor"
	"github.com/fumi-engineer/moelm/vocab"
)

func testVocab(t *testing.T) *vocab.Word {
	t.Helper()
	v, err := vocab.NewWord(map[string]int{
		vocab.Pad: 0, vocab.BOS: 1, vocab.EOS: 2, vocab.Unk: 3, "hello": 4, "world": 5,
	})
	require.NoError(t, err)
	return v
}

func TestDatasetWindows(t *testing.T) {
	v := testVocab(t)

	ds, err := NewDataset([]string{"hello world"}, v, 2, 0)
	require.NoError(t, err)
	if diff := cmp.Diff([][]int{{1, 4}, {5, 2}}, ds.examples); diff != "" {
		t.Errorf("windows mismatch (-want +got):\n%s", diff)
	}

	ds, err = NewDataset([]string{"hello world"}, v, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{1, 4, 5}}, ds.examples, "trailing single-token window is dropped")

	ds, err = NewDataset([]string{"hello world hello"}, v, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{1, 4, 5, 4}, {5, 4, 2}}, ds.examples, "overlapping windows")

	_, err = NewDataset(nil, v, 1, 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestCollateAndShift(t *testing.T) {
	batch := Collate([][]int{{1, 4, 5}, {1, 4}})
	assert.Equal(t, [][]int{{1, 4, 5}, {1, 4, 0}}, batch)

	in, tgt := Shift(batch)
	assert.Equal(t, [][]int{{1, 4}, {1, 4}}, in)
	assert.Equal(t, [][]int{{4, 5}, {4, 0}}, tgt)
}

func TestBatches(t *testing.T) {
	ds := &Dataset{examples: [][]int{{1, 2}, {1, 2, 3}, {4, 5}}}
	b := ds.Batches(2)
	require.Len(t, b, 2)
	assert.Equal(t, [][]int{{1, 2, 0}, {1, 2, 3}}, b[0])
	assert.Equal(t, [][]int{{4, 5}}, b[1])
}

func TestCrossEntropyKnownValue(t *testing.T) {
	logits := tensor.FromSlice([]float32{0, float32(math.Log(3))}, tensor.NewShape(1, 1, 2))
	sum, n, err := CrossEntropy(logits, [][]int{{1}}, -1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.InDelta(t, -math.Log(0.75), sum, 1e-6)
}

func TestCrossEntropyIgnoresPad(t *testing.T) {
	logits := tensor.Zeros(tensor.NewShape(2, 3, 4))
	sum, n, err := CrossEntropy(logits, [][]int{{1, 2, 0}, {3, 0, 0}}, vocab.PadID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.InDelta(t, 3*math.Log(4), sum, 1e-5)

	_, _, err = CrossEntropy(logits, [][]int{{1, 2, 9}, {3, 0, 0}}, vocab.PadID)
	assert.ErrorIs(t, err, ErrTargetOutOfRange)

	_, _, err = CrossEntropy(logits, [][]int{{1, 2}}, vocab.PadID)
	assert.ErrorIs(t, err, ErrShape)
}

// uniform returns zero logits, so every counted target costs log(vocab).
type uniform struct {
	vocab int
	aux   float32
}

func (u uniform) Forward(ids [][]int) (*tensor.Tensor, float32, error) {
	return tensor.Zeros(tensor.NewShape(len(ids), len(ids[0]), u.vocab)), u.aux, nil
}

func TestBatchLoss(t *testing.T) {
	cfg := DefaultConfig()
	loss, ce, err := BatchLoss(uniform{vocab: 6, aux: 2}, [][]int{{1, 4, 5, 2}, {1, 4, 0, 0}}, cfg)
	require.NoError(t, err)
	assert.InDelta(t, math.Log(6), ce, 1e-5)
	assert.InDelta(t, math.Log(6)+0.02, loss, 1e-5)

	_, _, err = BatchLoss(uniform{vocab: 6}, [][]int{{1, 0, 0}}, cfg)
	assert.ErrorIs(t, err, ErrNoTargets)
}

func TestEvaluateUniform(t *testing.T) {
	v := testVocab(t)
	ds, err := NewDataset([]string{"hello world", "world", "hello hello world"}, v, 8, 0)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.BatchSize = 2
	r, err := Evaluate(context.Background(), uniform{vocab: 6, aux: 1}, ds, cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Batches)
	assert.Equal(t, 3+2+4, r.Tokens)
	assert.InDelta(t, math.Log(6), r.CE, 1e-5)
	assert.InDelta(t, 6, r.Perplexity(), 1e-4)
	assert.InDelta(t, r.CE+0.01, r.Loss, 1e-6)
}

func TestEvaluateModel(t *testing.T) {
	v := testVocab(t)
	m, err := model.New(model.Config{
		VocabSize: v.Size(), HiddenDim: 16, NLayers: 1, NHeads: 4, FFNDim: 32,
		NExperts: 2, TopK: 1, MaxSeqLen: 32, Seed: 3,
	})
	require.NoError(t, err)

	ds, err := NewDataset([]string{"hello world", "another line for test"}, v, 16, 0)
	require.NoError(t, err)
	r, err := Evaluate(context.Background(), m, ds, DefaultConfig())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, r.Loss, 0.0)
	assert.False(t, math.IsNaN(r.Loss))
	assert.GreaterOrEqual(t, r.Aux, 1.0-1e-5)
}

func TestEvaluateCancelled(t *testing.T) {
	v := testVocab(t)
	ds, err := NewDataset([]string{"hello world"}, v, 8, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Evaluate(ctx, uniform{vocab: 6}, ds, DefaultConfig())
	assert.ErrorIs(t, err, context.Canceled)
}
