// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

// Package train scores a model on a text corpus with the training objective:
// next-token cross-entropy that ignores padding, plus the MoE load-balancing
// term scaled by AuxAlpha. There is no optimizer here.
package train

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/fumi-engineer/moelm/tensor"
	"github.com/fumi-engineer/moelm/vocab"
)

var (
	ErrInvalidConfig    = errors.New("invalid evaluation config")
	ErrShape            = errors.New("logits and targets disagree")
	ErrTargetOutOfRange = errors.New("target id out of range")
	ErrNoTargets        = errors.New("no non-padding targets")
)

// Config holds the evaluation hyperparameters.
type Config struct {
	SeqLen    int     // window length in tokens
	Stride    int     // distance between window starts; 0 means SeqLen
	BatchSize int     // windows per forward pass
	AuxAlpha  float32 // MoE auxiliary loss coefficient
	IgnoreID  int     // target id left out of the cross-entropy
}

// DefaultConfig returns the settings the reference training run used.
func DefaultConfig() Config {
	return Config{
		SeqLen:    64,
		BatchSize: 8,
		AuxAlpha:  0.01,
		IgnoreID:  vocab.PadID,
	}
}

// Model is the forward pass evaluation needs.
type Model interface {
	Forward(ids [][]int) (*tensor.Tensor, float32, error)
}

// Report summarises one evaluation run.
type Report struct {
	Batches int
	Tokens  int     // targets counted by the cross-entropy
	CE      float64 // mean cross-entropy per counted token
	Aux     float64 // mean auxiliary loss per batch
	Loss    float64 // CE + AuxAlpha * Aux
	Elapsed time.Duration
}

// Perplexity is exp(CE).
func (r Report) Perplexity() float64 { return math.Exp(r.CE) }

// BatchLoss computes CE(ignore) + AuxAlpha*aux for one padded batch and
// returns the loss together with its cross-entropy part.
func BatchLoss(m Model, batch [][]int, cfg Config) (loss, ce float64, err error) {
	st, err := score(m, batch, cfg)
	if err != nil {
		return 0, 0, err
	}
	ce = st.sum / float64(st.tokens)
	return ce + float64(cfg.AuxAlpha)*float64(st.aux), ce, nil
}

type batchStats struct {
	sum    float64
	tokens int
	aux    float32
}

func score(m Model, batch [][]int, cfg Config) (batchStats, error) {
	inputs, targets := Shift(batch)
	logits, aux, err := m.Forward(inputs)
	if err != nil {
		return batchStats{}, err
	}
	sum, n, err := CrossEntropy(logits, targets, cfg.IgnoreID)
	if err != nil {
		return batchStats{}, err
	}
	if n == 0 {
		return batchStats{}, ErrNoTargets
	}
	return batchStats{sum: sum, tokens: n, aux: aux}, nil
}

// Evaluate runs every batch of ds through m. Batches with no countable
// targets are skipped. The context is checked between batches.
func Evaluate(ctx context.Context, m Model, ds *Dataset, cfg Config) (Report, error) {
	if cfg.BatchSize <= 0 {
		return Report{}, fmt.Errorf("%w: batch size %d", ErrInvalidConfig, cfg.BatchSize)
	}
	start := time.Now()
	var (
		r      Report
		ceSum  float64
		auxSum float64
	)
	for i, batch := range ds.Batches(cfg.BatchSize) {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		st, err := score(m, batch, cfg)
		if errors.Is(err, ErrNoTargets) {
			continue
		}
		if err != nil {
			return r, fmt.Errorf("batch %d: %w", i, err)
		}
		ceSum += st.sum
		auxSum += float64(st.aux)
		r.Tokens += st.tokens
		r.Batches++
		slog.Debug("eval batch", "batch", i, "tokens", st.tokens, "ce", st.sum/float64(st.tokens), "aux", st.aux)
	}
	if r.Batches == 0 {
		return r, ErrNoTargets
	}
	r.CE = ceSum / float64(r.Tokens)
	r.Aux = auxSum / float64(r.Batches)
	r.Loss = r.CE + float64(cfg.AuxAlpha)*r.Aux
	r.Elapsed = time.Since(start)
	return r, nil
}
