// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package layer

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/fumi-engineer/moelm/tensor"
)

// Params is an insertion-ordered registry of named parameter tensors. Names
// use PyTorch's dotted module paths (layers.0.attn.in_proj_weight) so
// checkpoints written by the reference trainer line up one to one.
type Params struct {
	m *orderedmap.OrderedMap[string, *tensor.Tensor]
}

// NewParams returns an empty registry.
func NewParams() *Params {
	return &Params{m: orderedmap.New[string, *tensor.Tensor]()}
}

// Add registers t under name. A later Add with the same name replaces the
// earlier entry but keeps its position.
func (p *Params) Add(name string, t *tensor.Tensor) { p.m.Set(name, t) }

// Get looks up a parameter by name.
func (p *Params) Get(name string) (*tensor.Tensor, bool) { return p.m.Get(name) }

// Len returns the number of registered tensors.
func (p *Params) Len() int { return p.m.Len() }

// Each calls fn for every parameter in registration order.
func (p *Params) Each(fn func(name string, t *tensor.Tensor)) {
	for pair := p.m.Oldest(); pair != nil; pair = pair.Next() {
		fn(pair.Key, pair.Value)
	}
}

// Names returns the parameter names in registration order.
func (p *Params) Names() []string {
	names := make([]string, 0, p.m.Len())
	p.Each(func(name string, _ *tensor.Tensor) { names = append(names, name) })
	return names
}

// Numel returns the total number of scalar parameters.
func (p *Params) Numel() int {
	n := 0
	p.Each(func(_ string, t *tensor.Tensor) { n += t.Numel() })
	return n
}

// Join builds a dotted parameter name, skipping an empty prefix.
func Join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
