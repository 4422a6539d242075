// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/fumi-engineer/moelm/checkpoint"
	"github.com/fumi-engineer/moelm/model"
	"github.com/fumi-engineer/moelm/tensor"
)

// ShowHandler prints the model configuration, and optionally every
// parameter or a safetensors copy of the weights.
func ShowHandler(cmd *cobra.Command, _ []string) error {
	l, err := loadModel(cmd)
	if err != nil {
		return err
	}
	listParams, _ := cmd.Flags().GetBool("parameters")
	if err := showInfo(cmd.OutOrStdout(), l, listParams); err != nil {
		return err
	}

	if path, _ := cmd.Flags().GetString("save"); path != "" {
		return checkpoint.Save(path, l.model.Params(), map[string]string{
			"format": "pt",
			"preset": l.preset,
		})
	}
	return nil
}

func showInfo(w io.Writer, l *loaded, listParams bool) error {
	tableRender := func(header string, rows [][]string) {
		fmt.Fprintln(w, " ", header)
		table := tablewriter.NewWriter(w)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetBorder(false)
		table.SetNoWhiteSpace(true)
		table.SetTablePadding("    ")
		table.AppendBulk(rows)
		table.Render()
		fmt.Fprintln(w)
	}

	cfg := l.model.Config()
	tableRender("Model", [][]string{
		{"", "preset", l.preset},
		{"", "parameters", humanNumber(l.model.NumParams())},
		{"", "active parameters", humanNumber(cfg.ActiveParams())},
		{"", "vocab size", strconv.Itoa(cfg.VocabSize)},
		{"", "hidden dim", strconv.Itoa(cfg.HiddenDim)},
		{"", "layers", strconv.Itoa(cfg.NLayers)},
		{"", "heads", strconv.Itoa(cfg.NHeads)},
		{"", "ffn dim", strconv.Itoa(cfg.FFNDim)},
		{"", "max seq len", strconv.Itoa(cfg.MaxSeqLen)},
	})

	var ffn [][]string
	for i, b := range l.model.Blocks() {
		row := []string{"", strconv.Itoa(i), b.FFN().Kind.String()}
		if b.FFN().Kind == model.MixtureOfExperts {
			row = append(row, fmt.Sprintf("%d experts, top-%d", cfg.NExperts, cfg.TopK))
		} else {
			row = append(row, "")
		}
		ffn = append(ffn, row)
	}
	tableRender("Layers", ffn)

	var files [][]string
	if l.vocabPath != "" {
		files = append(files, []string{"", "vocab", l.vocabPath})
	}
	if l.checkpoint != "" {
		files = append(files, []string{"", "checkpoint", l.checkpoint})
		files = append(files, []string{"", "loaded", strconv.Itoa(len(l.report.Loaded))})
		files = append(files, []string{"", "missing", strconv.Itoa(len(l.report.Missing))})
		files = append(files, []string{"", "unexpected", strconv.Itoa(len(l.report.Unexpected))})
		files = append(files, []string{"", "mismatched", strconv.Itoa(len(l.report.Mismatched))})
	}
	if len(files) > 0 {
		tableRender("Files", files)
	}

	if listParams {
		var rows [][]string
		l.model.Params().Each(func(name string, t *tensor.Tensor) {
			rows = append(rows, []string{"", name, t.Shape().String()})
		})
		tableRender("Parameters", rows)
	}
	return nil
}

func humanNumber(n int) string {
	const (
		thousand = 1_000
		million  = 1_000_000
		billion  = 1_000_000_000
	)
	switch {
	case n >= billion:
		return fmt.Sprintf("%.1fB", float64(n)/billion)
	case n >= million:
		return fmt.Sprintf("%.1fM", float64(n)/million)
	case n >= thousand:
		return fmt.Sprintf("%.1fK", float64(n)/thousand)
	default:
		return strconv.Itoa(n)
	}
}
