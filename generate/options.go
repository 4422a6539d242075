// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package generate

import (
	"fmt"
	"time"
)

// DefaultAssistantName is the speaker label used in the chat template.
const DefaultAssistantName = "DeepErNova"

// DefaultSystemPrompt is what the interactive chat prepends to every turn.
const DefaultSystemPrompt = `You are DeepErNova, an advanced AI assistant trained with Mixture of Experts (MoE) architecture.
You are helpful, knowledgeable, and friendly. When asked about yourself, introduce yourself as DeepErNova.
You provide clear and concise answers to questions.`

// Token is one generated token, as passed to Options.Stream.
type Token struct {
	Step  int
	ID    int
	Piece string
}

// Options configures one generation call.
type Options struct {
	// MaxLen bounds the number of generated tokens.
	MaxLen int
	// Temperature divides the logits before the softmax. Must be > 0.
	Temperature float32
	// TopK restricts sampling to the K most probable tokens; 0 is greedy.
	TopK int
	// Seed seeds the top-k sampler.
	Seed uint64

	// System, when set, wraps the prompt in the chat template.
	System        string
	AssistantName string

	// StepTimeout bounds one forward pass; 0 means no bound.
	StepTimeout time.Duration

	// Stream, when set, receives every token as it is produced.
	Stream func(Token)

	// Strategy overrides the sampler TopK and Seed would build.
	Strategy Strategy
}

// DefaultOptions mirrors the chat defaults.
func DefaultOptions() Options {
	return Options{
		MaxLen:      50,
		Temperature: 0.8,
		TopK:        10,
	}
}

func (o Options) validate() error {
	switch {
	case !(o.Temperature > 0):
		return fmt.Errorf("%w: %v", ErrInvalidTemperature, o.Temperature)
	case o.TopK < 0:
		return fmt.Errorf("%w: %d", ErrInvalidTopK, o.TopK)
	case o.MaxLen <= 0:
		return fmt.Errorf("%w: %d", ErrInvalidMaxLen, o.MaxLen)
	}
	return nil
}

func (o Options) strategy() Strategy {
	switch {
	case o.Strategy != nil:
		return o.Strategy
	case o.TopK == 0:
		return Greedy{}
	default:
		return NewTopK(o.TopK, o.Seed)
	}
}

// Render applies the chat template to prompt when System is set.
//
//	System + "\n\nUser: " + prompt + "\n\n" + AssistantName + ": "
func (o Options) Render(prompt string) string {
	if o.System == "" {
		return prompt
	}
	name := o.AssistantName
	if name == "" {
		name = DefaultAssistantName
	}
	return o.System + "\n\nUser: " + prompt + "\n\n" + name + ": "
}
