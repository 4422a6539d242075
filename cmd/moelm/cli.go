// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fumi-engineer/moelm/envconfig"
	"github.com/fumi-engineer/moelm/generate"
	"github.com/fumi-engineer/moelm/logutil"
)

// NewCLI builds the command tree.
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "moelm",
		Short:         "Sparse Mixture-of-Experts language model",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			slog.SetDefault(logutil.NewLogger(cmd.ErrOrStderr(), envconfig.LogLevel()))
		},
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Print(cmd.UsageString())
		},
	}

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the model interactively",
		Args:  cobra.NoArgs,
		RunE:  ChatHandler,
	}
	generateFlags(chatCmd)
	chatCmd.Flags().String("system", generate.DefaultSystemPrompt, "System prompt prepended to every turn")
	chatCmd.Flags().String("name", generate.DefaultAssistantName, "Assistant name used in the chat template")

	generateCmd := &cobra.Command{
		Use:   "generate [PROMPT]",
		Short: "Generate a completion for a prompt",
		Args:  cobra.MaximumNArgs(1),
		RunE:  GenerateHandler,
	}
	generateFlags(generateCmd)
	generateCmd.Flags().String("system", "", "System prompt; enables the chat template")
	generateCmd.Flags().StringP("file", "f", "", "Read prompts from a file, one per line")

	evalCmd := &cobra.Command{
		Use:   "eval FILE",
		Short: "Report the evaluation loss on a text file",
		Args:  cobra.ExactArgs(1),
		RunE:  EvalHandler,
	}
	evalCmd.Flags().Int("seq-len", 64, "Window length in tokens")
	evalCmd.Flags().Int("stride", 0, "Distance between window starts (default seq-len)")
	evalCmd.Flags().Int("batch", 8, "Windows per forward pass")
	evalCmd.Flags().Float32("aux-alpha", 0.01, "Weight of the MoE load-balancing loss")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the model configuration and parameters",
		Args:  cobra.NoArgs,
		RunE:  ShowHandler,
	}
	showCmd.Flags().Bool("parameters", false, "List every named parameter")
	showCmd.Flags().String("save", "", "Write the model weights to a safetensors file")

	serveCmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the HTTP server",
		Args:    cobra.NoArgs,
		RunE:    RunServer,
	}
	generateFlags(serveCmd)

	vocabCmd := &cobra.Command{
		Use:   "vocab",
		Short: "Vocabulary tools",
	}
	vocabBuildCmd := &cobra.Command{
		Use:   "build FILE...",
		Short: "Build a word vocabulary from text files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  VocabBuildHandler,
	}
	vocabBuildCmd.Flags().Int("size", 5000, "Vocabulary size including reserved tokens")
	vocabBuildCmd.Flags().StringP("output", "o", "tokenizer.json", "Output file")
	vocabCmd.AddCommand(vocabBuildCmd)

	for _, cmd := range []*cobra.Command{chatCmd, generateCmd, evalCmd, showCmd, serveCmd} {
		modelFlags(cmd)
	}

	envVars := envconfig.AsMap()
	appendEnvDocs(serveCmd, []envconfig.EnvVar{
		envVars["MOELM_HOST"],
		envVars["MOELM_DEBUG"],
		envVars["MOELM_WORKERS"],
		envVars["MOELM_STEP_TIMEOUT"],
	})
	modelEnv := []envconfig.EnvVar{
		envVars["MOELM_PRESET"],
		envVars["MOELM_CHECKPOINT"],
		envVars["MOELM_VOCAB"],
		envVars["MOELM_SEED"],
		envVars["MOELM_DEBUG"],
	}
	appendEnvDocs(chatCmd, append(modelEnv, envVars["MOELM_NOCOLOR"]))
	for _, cmd := range []*cobra.Command{generateCmd, evalCmd, showCmd} {
		appendEnvDocs(cmd, modelEnv)
	}

	rootCmd.AddCommand(chatCmd, generateCmd, evalCmd, showCmd, serveCmd, vocabCmd)
	return rootCmd
}

// modelFlags adds the flags that pick and load a model. Their defaults come
// from the environment.
func modelFlags(cmd *cobra.Command) {
	cmd.Flags().String("preset", envconfig.Preset(), "Model preset (tiny, default, 3b)")
	cmd.Flags().String("checkpoint", envconfig.Checkpoint(), "Weights file (.safetensors or .pt)")
	cmd.Flags().String("vocab", envconfig.Vocab(), "Vocabulary file (word vocab JSON or tokenizer.json)")
	cmd.Flags().Uint("workers", envconfig.Workers(), "Concurrent experts per MoE layer (0 = GOMAXPROCS)")
	cmd.Flags().Uint64("seed", envconfig.Seed(), "Seed for weight initialisation and sampling")
}

func generateFlags(cmd *cobra.Command) {
	d := generate.DefaultOptions()
	cmd.Flags().Int("max-len", d.MaxLen, "Maximum number of generated tokens")
	cmd.Flags().Float32("temperature", d.Temperature, "Sampling temperature")
	cmd.Flags().Int("top-k", d.TopK, "Sample from the K most probable tokens (0 = greedy)")
	cmd.Flags().Duration("step-timeout", envconfig.StepTimeout(), "Upper bound on one forward pass (0 = none)")
}

// generateOptions reads the flags generateFlags added.
func generateOptions(cmd *cobra.Command) (generate.Options, error) {
	opts := generate.DefaultOptions()
	var err error
	if opts.MaxLen, err = cmd.Flags().GetInt("max-len"); err != nil {
		return opts, err
	}
	if opts.Temperature, err = cmd.Flags().GetFloat32("temperature"); err != nil {
		return opts, err
	}
	if opts.TopK, err = cmd.Flags().GetInt("top-k"); err != nil {
		return opts, err
	}
	if opts.StepTimeout, err = cmd.Flags().GetDuration("step-timeout"); err != nil {
		return opts, err
	}
	if opts.Seed, err = cmd.Flags().GetUint64("seed"); err != nil {
		return opts, err
	}
	if f := cmd.Flags().Lookup("system"); f != nil {
		opts.System = f.Value.String()
	}
	if f := cmd.Flags().Lookup("name"); f != nil {
		opts.AssistantName = f.Value.String()
	}
	return opts, nil
}

func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString("\nEnvironment Variables:\n")
	for _, e := range envs {
		fmt.Fprintf(&sb, "      %-24s   %s\n", e.Name, e.Description)
	}
	cmd.SetUsageTemplate(cmd.UsageTemplate() + sb.String())
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
