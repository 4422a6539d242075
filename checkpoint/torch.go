// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package checkpoint

import (
	"fmt"
	"log/slog"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"

	"github.com/fumi-engineer/moelm/layer"
	"github.com/fumi-engineer/moelm/tensor"
)

// nestedKeys are the keys training scripts commonly wrap a state_dict in.
var nestedKeys = []string{"state_dict", "model_state_dict", "model"}

// ReadTorchFile reads a torch.save(state_dict) archive. Entries that are not
// float tensors (step counters, optimizer state) are skipped.
func ReadTorchFile(path string) (*layer.Params, error) {
	obj, err := pytorch.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}

	entries, err := torchEntries(obj)
	if err != nil {
		return nil, err
	}

	params := layer.NewParams()
	for _, e := range entries {
		pt, ok := e.value.(*pytorch.Tensor)
		if !ok {
			slog.Debug("skipping non-tensor checkpoint entry", "name", e.key)
			continue
		}
		t, err := torchTensor(pt)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.key, err)
		}
		params.Add(e.key, t)
	}
	return params, nil
}

type torchEntry struct {
	key   string
	value any
}

func torchEntries(obj any) ([]torchEntry, error) {
	var entries []torchEntry
	switch d := obj.(type) {
	case *types.OrderedDict:
		for el := d.List.Front(); el != nil; el = el.Next() {
			entry := el.Value.(*types.OrderedDictEntry)
			if key, ok := entry.Key.(string); ok {
				entries = append(entries, torchEntry{key, entry.Value})
			}
		}
	case *types.Dict:
		for _, k := range d.Keys() {
			if key, ok := k.(string); ok {
				entries = append(entries, torchEntry{key, d.MustGet(k)})
			}
		}
	default:
		return nil, fmt.Errorf("%w: top-level object is %T, not a dict", ErrFormat, obj)
	}

	for _, nested := range nestedKeys {
		for _, e := range entries {
			if e.key != nested {
				continue
			}
			switch e.value.(type) {
			case *types.OrderedDict, *types.Dict:
				return torchEntries(e.value)
			}
		}
	}
	return entries, nil
}

// torchTensor gathers a possibly strided view out of its storage.
func torchTensor(pt *pytorch.Tensor) (*tensor.Tensor, error) {
	var src []float32
	switch s := pt.Source.(type) {
	case *pytorch.FloatStorage:
		src = s.Data
	case *pytorch.HalfStorage:
		src = s.Data
	case *pytorch.BFloat16Storage:
		src = s.Data
	case *pytorch.DoubleStorage:
		src = make([]float32, len(s.Data))
		for i, v := range s.Data {
			src[i] = float32(v)
		}
	default:
		return nil, fmt.Errorf("%w: storage %T", ErrUnsupported, pt.Source)
	}

	shape := tensor.NewShape(pt.Size...)
	out := make([]float32, shape.Numel())
	if err := gather(out, src, pt.Size, pt.Stride, pt.StorageOffset); err != nil {
		return nil, err
	}
	return tensor.FromSliceNoCopy(out, shape), nil
}

// gather copies the view (size, stride, offset) of src into dst in row-major
// order.
func gather(dst, src []float32, size, stride []int, offset int) error {
	if len(size) != len(stride) {
		return fmt.Errorf("%w: %d dims but %d strides", ErrFormat, len(size), len(stride))
	}
	idx := make([]int, len(size))
	for i := range dst {
		at := offset
		for d, n := range idx {
			at += n * stride[d]
		}
		if at < 0 || at >= len(src) {
			return fmt.Errorf("%w: element %d outside storage of %d", ErrFormat, at, len(src))
		}
		dst[i] = src[at]

		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < size[d] {
				break
			}
			idx[d] = 0
		}
	}
	return nil
}
