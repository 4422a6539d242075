// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package train

import (
	"fmt"

	"github.com/fumi-engineer/moelm/tensor"
)

// CrossEntropy returns the summed negative log-likelihood of targets under
// logits [batch, seq, vocab] and the number of positions counted. Positions
// whose target equals ignore are skipped.
//
//	log(softmax(x)_i) = x_i - max(x) - log(sum(exp(x - max(x))))
func CrossEntropy(logits *tensor.Tensor, targets [][]int, ignore int) (sum float64, n int, err error) {
	dims := logits.Shape().DimsRef()
	if len(dims) != 3 {
		return 0, 0, fmt.Errorf("%w: logits shape %v", ErrShape, logits.Shape())
	}
	batch, seqLen, vocabSize := dims[0], dims[1], dims[2]
	if len(targets) != batch {
		return 0, 0, fmt.Errorf("%w: %d target rows for batch %d", ErrShape, len(targets), batch)
	}

	data := logits.DataPtr()
	for b, row := range targets {
		if len(row) != seqLen {
			return 0, 0, fmt.Errorf("%w: target row %d has %d positions, want %d", ErrShape, b, len(row), seqLen)
		}
		for s, target := range row {
			if target == ignore {
				continue
			}
			if target < 0 || target >= vocabSize {
				return 0, 0, fmt.Errorf("%w: target %d at [%d,%d]", ErrTargetOutOfRange, target, b, s)
			}
			offset := (b*seqLen + s) * vocabSize
			x := data[offset : offset+vocabSize]

			_, maxVal := tensor.Argmax(x)
			var sumExp float32
			for _, l := range x {
				sumExp += tensor.Exp(l - maxVal)
			}
			sum -= float64(x[target] - maxVal - tensor.Log(sumExp))
			n++
		}
	}
	return sum, n, nil
}
