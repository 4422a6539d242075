// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

// Package layer provides the inference-only building blocks of the model:
// Linear, Embedding, LayerNorm and the dense feed-forward network.
package layer

import (
	"github.com/fumi-engineer/moelm/tensor"
)

// Layer maps an input tensor to an output tensor. Implementations never
// mutate their parameters during Forward, so one Layer may serve concurrent
// callers.
type Layer interface {
	Forward(input *tensor.Tensor) *tensor.Tensor
	// Register adds the layer's parameters to p under prefix.
	Register(prefix string, p *Params)
}
