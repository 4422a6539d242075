// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package model

import "errors"

var (
	// ErrInvalidTopK is returned at construction when the router's top-k is
	// not 1 or 2, or exceeds the number of experts.
	ErrInvalidTopK = errors.New("moe top-k must be 1 or 2 and not exceed the expert count")

	// ErrInvalidConfig covers every other structural config problem.
	ErrInvalidConfig = errors.New("invalid model config")

	// ErrSequenceTooLong is returned when the input is longer than the
	// positional bias table.
	ErrSequenceTooLong = errors.New("sequence exceeds maximum length")

	// ErrTokenOutOfRange is returned for ids outside [0, vocab_size).
	ErrTokenOutOfRange = errors.New("token id out of range")

	// ErrRaggedBatch is returned when batch rows differ in length.
	ErrRaggedBatch = errors.New("batch rows must have equal length")

	// ErrEmptyInput is returned for a batch with no tokens.
	ErrEmptyInput = errors.New("empty input")

	// ErrNonFinite is returned when a forward pass produces NaN or Inf.
	ErrNonFinite = errors.New("non-finite value in forward pass")
)
