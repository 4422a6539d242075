// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fumi-engineer/moelm/generate"
	"github.com/fumi-engineer/moelm/vocab"
)

// GenerateHandler completes one prompt, or every line of --file.
func GenerateHandler(cmd *cobra.Command, args []string) error {
	opts, err := generateOptions(cmd)
	if err != nil {
		return err
	}
	file, _ := cmd.Flags().GetString("file")

	var prompts []string
	switch {
	case file != "":
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		if prompts, err = readPrompts(f); err != nil {
			return err
		}
	case len(args) == 1:
		prompts = []string{args[0]}
	case !isTerminal(os.Stdin):
		if prompts, err = readPrompts(cmd.InOrStdin()); err != nil {
			return err
		}
	default:
		return errors.New("generate needs a prompt argument, --file or piped input")
	}

	l, err := loadModel(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	return generateAll(ctx, cmd.OutOrStdout(), l.model, l.vocab, prompts, opts)
}

// readPrompts returns the non-blank lines of r.
func readPrompts(r io.Reader) ([]string, error) {
	var prompts []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			prompts = append(prompts, line)
		}
	}
	return prompts, sc.Err()
}

// generateAll answers every prompt. A single prompt prints just the text;
// a batch prints Q/A pairs. Cancellation stops the batch after printing the
// partial answer.
func generateAll(ctx context.Context, w io.Writer, m generate.Model, v vocab.Vocabulary, prompts []string, opts generate.Options) error {
	for _, p := range prompts {
		res, err := generate.Generate(ctx, m, v, p, opts)
		if err != nil && !errors.Is(err, generate.ErrInterrupted) {
			return fmt.Errorf("%q: %w", p, err)
		}
		if len(prompts) == 1 {
			fmt.Fprintln(w, res.Text)
		} else {
			fmt.Fprintf(w, "Q: %s\nA: %s\n\n", p, res.Completion)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
