// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package server

import "time"

// GenerateRequest is the body of POST /api/generate. Unset sampling fields
// fall back to the server defaults.
type GenerateRequest struct {
	Prompt      string   `json:"prompt"`
	System      string   `json:"system,omitempty"`
	MaxLen      *int     `json:"max_len,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	Seed        *uint64  `json:"seed,omitempty"`
	// Stream switches the response to newline-delimited JSON, one object
	// per token followed by a final summary.
	Stream bool `json:"stream,omitempty"`
}

// GenerateResponse is one reply object. In streaming mode Response holds a
// single token piece and only the last object has Done set.
type GenerateResponse struct {
	ID         string `json:"id"`
	Response   string `json:"response"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason,omitempty"`

	Tokens          []int         `json:"tokens,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
	TotalDuration   time.Duration `json:"total_duration,omitempty"`
}

// ShowResponse describes the loaded model.
type ShowResponse struct {
	Preset       string         `json:"preset,omitempty"`
	Checkpoint   string         `json:"checkpoint,omitempty"`
	Vocab        string         `json:"vocab,omitempty"`
	VocabSize    int            `json:"vocab_size"`
	Parameters   int            `json:"parameters"`
	ActiveParams int            `json:"active_parameters"`
	Details      map[string]any `json:"details"`
}
