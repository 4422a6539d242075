// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package layer

import (
	"math/rand/v2"

	"github.com/fumi-engineer/moelm/tensor"
)

// Linear computes y = x @ W^T + b.
//
// Weight shape: [out_features, in_features], the PyTorch layout, so that
// MatmulTransposedB can be used without a transpose allocation.
type Linear struct {
	weight  *tensor.Tensor
	bias    *tensor.Tensor // nil when the layer has no bias
	inFeat  int
	outFeat int
}

// NewLinear creates a linear layer initialised like nn.Linear:
// weight and bias ~ U(-1/sqrt(in), 1/sqrt(in)).
func NewLinear(inFeatures, outFeatures int, useBias bool, rng *rand.Rand) *Linear {
	bound := 1 / tensor.Sqrt(float32(inFeatures))
	l := &Linear{
		weight:  tensor.RandUniform(tensor.NewShape(outFeatures, inFeatures), bound, rng),
		inFeat:  inFeatures,
		outFeat: outFeatures,
	}
	if useBias {
		l.bias = tensor.RandUniform(tensor.NewShape(outFeatures), bound, rng)
	}
	return l
}

// Forward computes y = x @ W^T (+ bias). Leading dims of input are treated as
// one flat batch and restored on the output.
func (l *Linear) Forward(input *tensor.Tensor) *tensor.Tensor {
	batchDims, batchSize, _ := tensor.SplitLast(input.Shape().DimsRef())
	flat := input.Reshape(tensor.NewShape(batchSize, l.inFeat))
	output := tensor.MatmulTransposedB(flat, l.weight)

	if l.bias != nil {
		out, b := output.DataPtr(), l.bias.DataPtr()
		for i := 0; i < batchSize; i++ {
			row := out[i*l.outFeat : (i+1)*l.outFeat]
			for j := range row {
				row[j] += b[j]
			}
		}
	}
	return output.Reshape(tensor.WithLastDim(batchDims, l.outFeat))
}

// Register adds weight (and bias) under prefix.
func (l *Linear) Register(prefix string, p *Params) {
	p.Add(Join(prefix, "weight"), l.weight)
	if l.bias != nil {
		p.Add(Join(prefix, "bias"), l.bias)
	}
}

// Weight returns the [out, in] weight matrix.
func (l *Linear) Weight() *tensor.Tensor { return l.weight }

// Bias returns the bias vector, or nil.
func (l *Linear) Bias() *tensor.Tensor { return l.bias }

// InFeatures returns the input dimension.
func (l *Linear) InFeatures() int { return l.inFeat }

// OutFeatures returns the output dimension.
func (l *Linear) OutFeatures() int { return l.outFeat }
