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
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fumi-engineer/moelm/envconfig"
	"github.com/fumi-engineer/moelm/generate"
	"github.com/fumi-engineer/moelm/vocab"
)

var exitWords = []string{"exit", "quit", "bye"}

// chat is an interactive session. Each line read is one turn.
type chat struct {
	model generate.Model
	vocab vocab.Vocabulary
	opts  generate.Options
	out   io.Writer

	// prompt is printed before each read; empty when input is not a terminal.
	prompt string
	// interrupts cancels only the turn in progress.
	interrupts <-chan os.Signal
}

// ChatHandler runs the interactive chat.
func ChatHandler(cmd *cobra.Command, _ []string) error {
	opts, err := generateOptions(cmd)
	if err != nil {
		return err
	}
	l, err := loadModel(cmd)
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT)
	defer signal.Stop(sigChan)

	c := &chat{
		model:      l.model,
		vocab:      l.vocab,
		opts:       opts,
		out:        cmd.OutOrStdout(),
		interrupts: sigChan,
	}
	if isTerminal(os.Stdin) {
		c.prompt = ">>> "
		if !envconfig.NoColor() {
			c.prompt = "\033[1m>>> \033[0m"
		}
	}

	fmt.Fprintf(c.out, "Chatting with %s (%s preset). Type exit, quit or bye to leave.\n\n", opts.AssistantName, l.preset)
	return c.run(cmd.Context(), cmd.InOrStdin())
}

func (c *chat) run(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		if c.prompt != "" {
			fmt.Fprint(c.out, c.prompt)
		}
		if !sc.Scan() {
			fmt.Fprintln(c.out)
			return sc.Err()
		}

		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case slices.Contains(exitWords, strings.ToLower(line)):
			fmt.Fprintln(c.out, "Goodbye!")
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		c.turn(ctx, line)
	}
}

// turn generates one reply. Errors are printed and the session goes on.
func (c *chat) turn(ctx context.Context, line string) {
	// a Ctrl-C pressed while idle at the prompt belongs to no turn
drain:
	for {
		select {
		case <-c.interrupts:
		default:
			break drain
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-c.interrupts:
			cancel()
		case <-done:
		}
	}()

	res, err := generate.Generate(ctx, c.model, c.vocab, line, c.opts)
	switch {
	case errors.Is(err, generate.ErrInterrupted):
		fmt.Fprintf(c.out, "%s: %s\n[interrupted]\n\n", c.opts.AssistantName, res.Completion)
	case err != nil:
		fmt.Fprintf(c.out, "[error] %v\n\n", err)
	default:
		fmt.Fprintf(c.out, "%s: %s\n\n", c.opts.AssistantName, res.Completion)
	}
}
