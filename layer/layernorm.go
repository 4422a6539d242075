// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package layer

import (
	"github.com/fumi-engineer/moelm/tensor"
)

// DefaultLayerNormEps matches nn.LayerNorm.
const DefaultLayerNormEps = 1e-5

// LayerNorm normalises along the last dimension:
//
//	y = (x - mean(x)) / sqrt(var(x) + eps) * gamma + beta
//
// var is the biased (population) variance.
type LayerNorm struct {
	weight *tensor.Tensor // gamma, shape [dim]
	bias   *tensor.Tensor // beta, shape [dim]
	eps    float32
	dim    int
}

// NewLayerNorm creates a LayerNorm with gamma = 1 and beta = 0.
func NewLayerNorm(dim int, eps float32) *LayerNorm {
	return &LayerNorm{
		weight: tensor.Ones(tensor.NewShape(dim)),
		bias:   tensor.Zeros(tensor.NewShape(dim)),
		eps:    eps,
		dim:    dim,
	}
}

// Forward applies LayerNorm to every last-dim vector of input.
func (n *LayerNorm) Forward(input *tensor.Tensor) *tensor.Tensor {
	output := tensor.New(input.Shape())
	in, out := input.DataPtr(), output.DataPtr()
	w, b := n.weight.DataPtr(), n.bias.DataPtr()
	inv := 1 / float32(n.dim)

	for off := 0; off < len(in); off += n.dim {
		row := in[off : off+n.dim]

		mean := float32(0)
		for _, x := range row {
			mean += x
		}
		mean *= inv

		variance := float32(0)
		for _, x := range row {
			d := x - mean
			variance += d * d
		}
		variance *= inv
		invStd := 1 / tensor.Sqrt(variance+n.eps)

		oRow := out[off : off+n.dim]
		for i, x := range row {
			oRow[i] = (x-mean)*invStd*w[i] + b[i]
		}
	}
	return output
}

// Register adds gamma and beta under prefix.
func (n *LayerNorm) Register(prefix string, p *Params) {
	p.Add(Join(prefix, "weight"), n.weight)
	p.Add(Join(prefix, "bias"), n.bias)
}
