// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package model

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/agnivade/levenshtein"
)

// DefaultMaxSeqLen is the size of the positional bias table.
const DefaultMaxSeqLen = 1024

// FallbackPreset is used when an unknown preset name is requested.
const FallbackPreset = "3b"

// Config holds the hyperparameters defining a MoE Transformer.
type Config struct {
	VocabSize int
	HiddenDim int
	NLayers   int
	NHeads    int
	FFNDim    int
	NExperts  int
	TopK      int
	MaxSeqLen int

	// MoELayers lists the block indices that use a MixtureOfExperts FFN; the
	// rest are Dense. nil means every block is MoE.
	MoELayers []int

	// Workers bounds concurrent expert dispatch per MoE layer. 0 means
	// GOMAXPROCS.
	Workers int

	// Seed drives parameter initialisation.
	Seed uint64
}

var presets = map[string]Config{
	"tiny":    {HiddenDim: 128, NLayers: 4, NHeads: 2, FFNDim: 512, NExperts: 4, TopK: 1, MaxSeqLen: DefaultMaxSeqLen},
	"default": {HiddenDim: 256, NLayers: 8, NHeads: 4, FFNDim: 1024, NExperts: 8, TopK: 1, MaxSeqLen: DefaultMaxSeqLen},
	"3b":      {HiddenDim: 512, NLayers: 16, NHeads: 8, FFNDim: 2048, NExperts: 8, TopK: 1, MaxSeqLen: DefaultMaxSeqLen},
}

// Presets returns the preset names in sorted order.
func Presets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Preset returns the named preset. VocabSize is left zero; it comes from the
// vocabulary the model is paired with.
func Preset(name string) (Config, bool) {
	cfg, ok := presets[strings.ToLower(name)]
	return cfg, ok
}

// ConfigFor resolves a preset name, falling back to FallbackPreset for an
// unknown name. The resolved name is returned alongside the config.
func ConfigFor(name string) (Config, string) {
	if cfg, ok := Preset(name); ok {
		return cfg, strings.ToLower(name)
	}

	slog.Warn("unknown model preset, using fallback", "preset", name, "fallback", FallbackPreset, "did_you_mean", closestPreset(name))
	cfg, _ := Preset(FallbackPreset)
	return cfg, FallbackPreset
}

func closestPreset(name string) string {
	best, bestDist := "", -1
	for _, candidate := range Presets() {
		d := levenshtein.ComputeDistance(strings.ToLower(name), candidate)
		if bestDist < 0 || d < bestDist {
			best, bestDist = candidate, d
		}
	}
	return best
}

// WithVocab returns a copy of c sized for a vocabulary of n tokens.
func (c Config) WithVocab(n int) Config {
	c.VocabSize = n
	return c
}

// IsMoELayer reports whether block i uses the MixtureOfExperts FFN.
func (c Config) IsMoELayer(i int) bool {
	return c.MoELayers == nil || slices.Contains(c.MoELayers, i)
}

// Validate checks the config for structural errors.
func (c Config) Validate() error {
	switch {
	case c.VocabSize <= 0:
		return fmt.Errorf("%w: vocab size %d", ErrInvalidConfig, c.VocabSize)
	case c.HiddenDim <= 0 || c.NLayers <= 0 || c.NHeads <= 0 || c.FFNDim <= 0:
		return fmt.Errorf("%w: dimensions must be positive", ErrInvalidConfig)
	case c.HiddenDim%c.NHeads != 0:
		return fmt.Errorf("%w: hidden dim %d not divisible by %d heads", ErrInvalidConfig, c.HiddenDim, c.NHeads)
	case c.MaxSeqLen <= 0:
		return fmt.Errorf("%w: max sequence length %d", ErrInvalidConfig, c.MaxSeqLen)
	case c.Workers < 0:
		return fmt.Errorf("%w: workers %d", ErrInvalidConfig, c.Workers)
	}
	if c.hasMoE() {
		if c.NExperts <= 0 {
			return fmt.Errorf("%w: expert count %d", ErrInvalidConfig, c.NExperts)
		}
		if err := checkTopK(c.TopK, c.NExperts); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) hasMoE() bool {
	for i := range c.NLayers {
		if c.IsMoELayer(i) {
			return true
		}
	}
	return false
}

func checkTopK(topK, nExperts int) error {
	if topK != 1 && topK != 2 || topK > nExperts {
		return fmt.Errorf("%w: top_k=%d with %d experts", ErrInvalidTopK, topK, nExperts)
	}
	return nil
}

// TotalParams counts every parameter, all experts included.
//
//	total = emb + pos + N_layers * (attn + 2*norm + ffn) + norm + head
func (c Config) TotalParams() int {
	return c.countParams(c.NExperts)
}

// ActiveParams counts the parameters touched by one token: only top-k experts
// of each MoE layer contribute.
func (c Config) ActiveParams() int {
	return c.countParams(c.TopK)
}

func (c Config) countParams(experts int) int {
	d := c.HiddenDim
	emb := c.VocabSize*d + c.MaxSeqLen*d
	attn := 3*d*d + 3*d + d*d + d
	norm := 2 * d
	expert := d*c.FFNDim + c.FFNDim + c.FFNDim*d + d

	total := emb
	for i := range c.NLayers {
		total += attn + 2*norm
		if c.IsMoELayer(i) {
			total += d*c.NExperts + c.NExperts + experts*expert
		} else {
			total += expert
		}
	}
	return total + norm + d*c.VocabSize
}
