// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fumi-engineer/moelm/train"
)

// EvalHandler prints the evaluation loss of the model on a text file.
func EvalHandler(cmd *cobra.Command, args []string) error {
	cfg := train.DefaultConfig()
	cfg.SeqLen, _ = cmd.Flags().GetInt("seq-len")
	cfg.Stride, _ = cmd.Flags().GetInt("stride")
	cfg.BatchSize, _ = cmd.Flags().GetInt("batch")
	cfg.AuxAlpha, _ = cmd.Flags().GetFloat32("aux-alpha")

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	texts, err := readPrompts(f)
	if err != nil {
		return err
	}

	l, err := loadModel(cmd)
	if err != nil {
		return err
	}
	ds, err := train.NewDataset(texts, l.vocab, cfg.SeqLen, cfg.Stride)
	if err != nil {
		return err
	}

	r, err := train.Evaluate(cmd.Context(), l.model, ds, cfg)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "windows     %d\n", ds.Len())
	fmt.Fprintf(w, "batches     %d\n", r.Batches)
	fmt.Fprintf(w, "tokens      %d\n", r.Tokens)
	fmt.Fprintf(w, "ce          %.4f\n", r.CE)
	fmt.Fprintf(w, "perplexity  %.2f\n", r.Perplexity())
	fmt.Fprintf(w, "aux         %.4f\n", r.Aux)
	fmt.Fprintf(w, "loss        %.4f\n", r.Loss)
	fmt.Fprintf(w, "elapsed     %s\n", r.Elapsed)
	return nil
}
