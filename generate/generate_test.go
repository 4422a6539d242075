// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package generate

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fumi-engineer/moelm/model"
	"github.com/fumi-engineer/moelm/vocab"
)

func helloWorld(t *testing.T) *vocab.Word {
	t.Helper()
	v, err := vocab.NewWord(map[string]int{
		vocab.Pad: 0, vocab.BOS: 1, vocab.EOS: 2, vocab.Unk: 3, "hello": 4, "world": 5,
	})
	require.NoError(t, err)
	return v
}

// scripted emits a fixed token sequence by returning one-hot logits; after
// the script runs out it repeats the last token.
type scripted struct {
	tokens []int
	vocab  int
	calls  int
	seen   [][]int
	hook   func(call int)
}

func (s *scripted) NextLogits(ids []int) ([]float32, error) {
	if s.hook != nil {
		s.hook(s.calls)
	}
	s.seen = append(s.seen, append([]int(nil), ids...))
	tok := s.tokens[min(s.calls, len(s.tokens)-1)]
	s.calls++
	logits := make([]float32, s.vocab)
	logits[tok] = 10
	return logits, nil
}

func greedy() Options {
	return Options{MaxLen: 20, Temperature: 1}
}

func TestHelloWorld(t *testing.T) {
	m := &scripted{tokens: []int{5, 2}, vocab: 6}
	res, err := Generate(context.Background(), m, helloWorld(t), "hello", greedy())
	require.NoError(t, err)

	assert.Equal(t, []int{1, 4, 2}, m.seen[0], "prompt encoding")
	assert.Equal(t, []int{1, 4, 2, 5, 2}, res.IDs)
	assert.Equal(t, "hello world", res.Text)
	assert.Equal(t, "world", res.Completion)
	assert.Equal(t, StoppedEOS, res.State)
	assert.Equal(t, 2, res.Generated)
	assert.Equal(t, 3, res.PromptLen)
}

func TestStopsAtEOSOnThirdStep(t *testing.T) {
	m := &scripted{tokens: []int{4, 5, 2, 4, 4}, vocab: 6}
	res, err := Generate(context.Background(), m, helloWorld(t), "hello", greedy())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Generated)
	assert.Equal(t, 3, m.calls)
	assert.Equal(t, StoppedEOS, res.State)
}

func TestStopsAtMaxLen(t *testing.T) {
	m := &scripted{tokens: []int{4}, vocab: 6}
	opts := greedy()
	opts.MaxLen = 7
	res, err := Generate(context.Background(), m, helloWorld(t), "world", opts)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Generated)
	assert.Equal(t, StoppedMaxLen, res.State)
	assert.Len(t, res.IDs, 3+7)
}

func TestInvalidOptionsFailBeforeCompute(t *testing.T) {
	for name, tc := range map[string]struct {
		mutate func(*Options)
		want   error
	}{
		"zero temperature":     {func(o *Options) { o.Temperature = 0 }, ErrInvalidTemperature},
		"negative temperature": {func(o *Options) { o.Temperature = -1 }, ErrInvalidTemperature},
		"nan temperature":      {func(o *Options) { o.Temperature = float32(math.NaN()) }, ErrInvalidTemperature},
		"negative top-k":       {func(o *Options) { o.TopK = -1 }, ErrInvalidTopK},
		"zero max len":         {func(o *Options) { o.MaxLen = 0 }, ErrInvalidMaxLen},
	} {
		t.Run(name, func(t *testing.T) {
			m := &scripted{tokens: []int{4}, vocab: 6}
			opts := greedy()
			tc.mutate(&opts)
			res, err := Generate(context.Background(), m, helloWorld(t), "hello", opts)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, StoppedError, res.State)
			assert.Zero(t, m.calls, "model must not run")
		})
	}
}

type nanModel struct{}

func (nanModel) NextLogits([]int) ([]float32, error) {
	return []float32{0, float32(math.NaN()), 1, 0, 0, 0}, nil
}

func TestNonFiniteProbabilities(t *testing.T) {
	res, err := Generate(context.Background(), nanModel{}, helloWorld(t), "hello", greedy())
	assert.ErrorIs(t, err, ErrNonFiniteProbabilities)
	assert.Equal(t, StoppedError, res.State)
}

type failing struct{ err error }

func (f failing) NextLogits([]int) ([]float32, error) { return nil, f.err }

func TestModelErrorStops(t *testing.T) {
	res, err := Generate(context.Background(), failing{model.ErrSequenceTooLong}, helloWorld(t), "hello", greedy())
	assert.ErrorIs(t, err, model.ErrSequenceTooLong)
	assert.Equal(t, StoppedError, res.State)
	assert.Equal(t, "hello", res.Text)
}

func TestCancellationReturnsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := &scripted{tokens: []int{5}, vocab: 6, hook: func(call int) {
		if call == 2 {
			cancel()
		}
	}}
	res, err := Generate(ctx, m, helloWorld(t), "hello", greedy())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInterrupted))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, StoppedInterrupt, res.State)
	assert.GreaterOrEqual(t, res.Generated, 2)
	assert.Less(t, res.Generated, 20)
	assert.Equal(t, res.PromptLen+res.Generated, len(res.IDs))
}

type slowModel struct{ delay time.Duration }

func (s slowModel) NextLogits([]int) ([]float32, error) {
	time.Sleep(s.delay)
	return make([]float32, 6), nil
}

func TestStepTimeout(t *testing.T) {
	opts := greedy()
	opts.StepTimeout = 5 * time.Millisecond
	res, err := Generate(context.Background(), slowModel{time.Second}, helloWorld(t), "hello", opts)
	assert.ErrorIs(t, err, ErrStepTimeout)
	assert.Equal(t, StoppedError, res.State)
	assert.Zero(t, res.Generated)
}

func TestStream(t *testing.T) {
	var got []Token
	opts := greedy()
	opts.Stream = func(tok Token) { got = append(got, tok) }

	m := &scripted{tokens: []int{5, 4, 2}, vocab: 6}
	_, err := Generate(context.Background(), m, helloWorld(t), "hello", opts)
	require.NoError(t, err)
	assert.Equal(t, []Token{
		{Step: 0, ID: 5, Piece: "world"},
		{Step: 1, ID: 4, Piece: "hello"},
		{Step: 2, ID: 2, Piece: vocab.EOS},
	}, got)
}

func TestSystemPromptTemplate(t *testing.T) {
	opts := greedy()
	assert.Equal(t, "hi", opts.Render("hi"))

	opts.System = "be nice"
	assert.Equal(t, "be nice\n\nUser: hi\n\nDeepErNova: ", opts.Render("hi"))
	opts.AssistantName = "Bot"
	assert.Equal(t, "be nice\n\nUser: hi\n\nBot: ", opts.Render("hi"))

	m := &scripted{tokens: []int{2}, vocab: 6}
	opts.System = "hello"
	_, err := Generate(context.Background(), m, helloWorld(t), "world", opts)
	require.NoError(t, err)
	// hello user: world bot:  ->  bos hello unk world unk eos
	assert.Equal(t, []int{1, 4, 3, 5, 3, 2}, m.seen[0])
}

func newTestModel(t *testing.T) *model.Transformer {
	t.Helper()
	m, err := model.New(model.Config{
		VocabSize: 6, HiddenDim: 8, NLayers: 2, NHeads: 2, FFNDim: 16,
		NExperts: 4, TopK: 1, MaxSeqLen: 64, Seed: 42,
	})
	require.NoError(t, err)
	return m
}

func TestGreedyDeterministic(t *testing.T) {
	m := newTestModel(t)
	v := helloWorld(t)
	opts := greedy()
	opts.MaxLen = 10

	a, err := Generate(context.Background(), m, v, "hello world", opts)
	require.NoError(t, err)
	b, err := Generate(context.Background(), m, v, "hello world", opts)
	require.NoError(t, err)
	assert.Equal(t, a.IDs, b.IDs)
	assert.Equal(t, a.Text, b.Text)
	assert.LessOrEqual(t, a.Generated, 10)
}

func TestTopKSeedReproducible(t *testing.T) {
	m := newTestModel(t)
	v := helloWorld(t)
	opts := Options{MaxLen: 10, Temperature: 0.8, TopK: 3, Seed: 7}

	a, err := Generate(context.Background(), m, v, "hello", opts)
	require.NoError(t, err)
	b, err := Generate(context.Background(), m, v, "hello", opts)
	require.NoError(t, err)
	assert.Equal(t, a.IDs, b.IDs)
}
