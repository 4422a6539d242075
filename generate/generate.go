// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

// Package generate runs autoregressive decoding over a model and vocabulary.
//
// Each step feeds the full sequence through the model (no KV cache), turns
// the last position's logits into probabilities and appends one token:
//
//	Prompted -> Generating -> StoppedEOS | StoppedMaxLen | StoppedError | StoppedInterrupt
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fumi-engineer/moelm/logutil"
	"github.com/fumi-engineer/moelm/tensor"
	"github.com/fumi-engineer/moelm/vocab"
)

var (
	ErrInvalidTemperature     = errors.New("temperature must be positive")
	ErrInvalidTopK            = errors.New("top-k must not be negative")
	ErrInvalidMaxLen          = errors.New("max length must be positive")
	ErrNonFiniteProbabilities = errors.New("non-finite next-token probabilities")
	ErrInterrupted            = errors.New("generation interrupted")
	ErrStepTimeout            = errors.New("forward pass exceeded step timeout")
)

// Model is what the decoder needs from a language model: the logits for the
// token following ids.
type Model interface {
	NextLogits(ids []int) ([]float32, error)
}

// State is a decoder state.
type State int

const (
	Prompted State = iota
	Generating
	StoppedEOS
	StoppedMaxLen
	StoppedError
	StoppedInterrupt
)

func (s State) String() string {
	switch s {
	case Prompted:
		return "prompted"
	case Generating:
		return "generating"
	case StoppedEOS:
		return "eos"
	case StoppedMaxLen:
		return "max_len"
	case StoppedError:
		return "error"
	case StoppedInterrupt:
		return "interrupted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result is the outcome of a generation, complete or partial.
type Result struct {
	// IDs is the whole sequence, prompt included.
	IDs []int
	// PromptLen is how many leading IDs came from the prompt.
	PromptLen int
	// Text decodes IDs; Completion decodes only the generated part.
	Text       string
	Completion string
	Generated  int
	State      State
	Elapsed    time.Duration
}

// Generate decodes up to opts.MaxLen tokens after prompt. On cancellation
// the partial result is returned together with an error wrapping
// ErrInterrupted and the context's error.
func Generate(ctx context.Context, m Model, v vocab.Vocabulary, prompt string, opts Options) (Result, error) {
	start := time.Now()
	res := Result{State: Prompted}
	if err := opts.validate(); err != nil {
		res.State = StoppedError
		return res, err
	}

	ids, err := v.Encode(opts.Render(prompt))
	if err != nil {
		res.State = StoppedError
		return res, fmt.Errorf("encode prompt: %w", err)
	}
	res.PromptLen = len(ids)
	eos, hasEOS := v.EOS()
	strategy := opts.strategy()

	finish := func(state State, err error) (Result, error) {
		res.IDs = ids
		res.State = state
		res.Text = v.Decode(ids)
		res.Completion = v.Decode(ids[res.PromptLen:])
		res.Elapsed = time.Since(start)
		slog.Debug("generation finished", "state", state, "prompt_tokens", res.PromptLen,
			"generated", res.Generated, "elapsed", res.Elapsed)
		return res, err
	}

	res.State = Generating
	for step := range opts.MaxLen {
		if err := ctx.Err(); err != nil {
			return finish(StoppedInterrupt, fmt.Errorf("%w: %w", ErrInterrupted, err))
		}

		logits, err := forward(ctx, m, ids, opts.StepTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return finish(StoppedInterrupt, fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err()))
			}
			return finish(StoppedError, fmt.Errorf("step %d: %w", step, err))
		}

		probs, err := distribution(logits, opts.Temperature)
		if err != nil {
			return finish(StoppedError, fmt.Errorf("step %d: %w", step, err))
		}
		next := strategy.Pick(probs)
		ids = append(ids, next)
		res.Generated++

		if logutil.TraceEnabled() {
			logutil.Trace("decode step", "step", step, "token", next, "p", probs[next])
		}
		if opts.Stream != nil {
			opts.Stream(Token{Step: step, ID: next, Piece: v.Piece(next)})
		}
		if hasEOS && next == eos {
			return finish(StoppedEOS, nil)
		}
	}
	return finish(StoppedMaxLen, nil)
}

// distribution turns logits into next-token probabilities at temperature t.
func distribution(logits []float32, t float32) ([]float32, error) {
	probs := make([]float32, len(logits))
	for i, l := range logits {
		probs[i] = l / t
	}
	tensor.SoftmaxInPlace(probs)
	if len(probs) == 0 || tensor.HasNonFinite(probs) {
		return nil, ErrNonFiniteProbabilities
	}
	return probs, nil
}

type forwardResult struct {
	logits []float32
	err    error
}

// forward runs one forward pass, giving up early if ctx is cancelled or the
// step timeout passes. An abandoned pass finishes in the background and its
// result is dropped.
func forward(ctx context.Context, m Model, ids []int, timeout time.Duration) ([]float32, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, timeout, ErrStepTimeout)
		defer cancel()
	}

	done := make(chan forwardResult, 1)
	go func() {
		logits, err := m.NextLogits(ids)
		done <- forwardResult{logits, err}
	}()

	select {
	case r := <-done:
		return r.logits, r.err
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}
