// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package main

import (
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fumi-engineer/moelm/envconfig"
	"github.com/fumi-engineer/moelm/server"
)

// RunServer serves the model over HTTP on MOELM_HOST until interrupted.
func RunServer(cmd *cobra.Command, _ []string) error {
	opts, err := generateOptions(cmd)
	if err != nil {
		return err
	}
	l, err := loadModel(cmd)
	if err != nil {
		return err
	}
	slog.Info("server config", "env", envconfig.Values())

	ln, err := net.Listen("tcp", envconfig.Host().Host)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := server.New(l.model, l.vocab, opts, server.ShowResponse{
		Preset:     l.preset,
		Checkpoint: l.checkpoint,
		Vocab:      l.vocabPath,
	})
	return server.Serve(ctx, ln, s)
}
