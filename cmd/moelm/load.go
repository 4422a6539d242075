// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/fumi-engineer/moelm/checkpoint"
	"github.com/fumi-engineer/moelm/model"
	"github.com/fumi-engineer/moelm/vocab"
)

var errNoVocab = errors.New("no vocabulary: pass --vocab or set MOELM_VOCAB")

// loaded is a model paired with its vocabulary.
type loaded struct {
	model      *model.Transformer
	vocab      vocab.Vocabulary
	preset     string
	vocabPath  string
	checkpoint string
	report     checkpoint.Report
}

// loadModel resolves the preset, sizes it to the vocabulary, initialises
// the weights and merges the checkpoint over them when one is given.
func loadModel(cmd *cobra.Command) (*loaded, error) {
	name, _ := cmd.Flags().GetString("preset")
	vocabPath, _ := cmd.Flags().GetString("vocab")
	ckpt, _ := cmd.Flags().GetString("checkpoint")
	workers, _ := cmd.Flags().GetUint("workers")
	seed, _ := cmd.Flags().GetUint64("seed")

	v, err := loadVocab(vocabPath)
	if err != nil {
		return nil, err
	}

	cfg, preset := model.ConfigFor(name)
	cfg = cfg.WithVocab(v.Size())
	cfg.Workers = int(workers)
	cfg.Seed = seed

	m, err := model.New(cfg)
	if err != nil {
		return nil, err
	}
	slog.Info("model created", "preset", preset, "vocab_size", cfg.VocabSize, "parameters", m.NumParams())

	l := &loaded{model: m, vocab: v, preset: preset, vocabPath: vocabPath, checkpoint: ckpt}
	if ckpt != "" {
		if l.report, err = checkpoint.Load(ckpt, m.Params()); err != nil {
			return nil, fmt.Errorf("load checkpoint: %w", err)
		}
	} else {
		slog.Warn("no checkpoint given, using freshly initialised weights")
	}
	return l, nil
}

// loadVocab reads a word vocabulary, or a HuggingFace tokenizer.json when
// the file has no top-level "vocab" object.
func loadVocab(path string) (vocab.Vocabulary, error) {
	if path == "" {
		return nil, errNoVocab
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var top map[string]json.RawMessage
	if err := json.NewDecoder(f).Decode(&top); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if _, ok := top["vocab"]; ok {
		return vocab.Load(path)
	}
	slog.Debug("loading tokenizer.json", "path", path)
	return vocab.LoadBPE(path)
}
