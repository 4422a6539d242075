// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fumi-engineer/moelm/vocab"
)

// VocabBuildHandler builds a word vocabulary from the lines of every file.
func VocabBuildHandler(cmd *cobra.Command, args []string) error {
	size, _ := cmd.Flags().GetInt("size")
	out, _ := cmd.Flags().GetString("output")

	var texts []string
	for _, path := range args {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		lines, err := readPrompts(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		texts = append(texts, lines...)
	}

	w := vocab.Build(texts, size)
	if err := w.Save(out); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d tokens from %d lines\n", out, w.Len(), len(texts))
	return nil
}
