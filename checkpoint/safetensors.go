// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package checkpoint

import (
	"bufio"
	"cmp"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strings"

	"github.com/d4l3k/go-bfloat16"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"github.com/x448/float16"

	"github.com/fumi-engineer/moelm/layer"
	"github.com/fumi-engineer/moelm/tensor"
)

// maxHeaderSize guards against reading a garbage length as a header.
const maxHeaderSize = 100 << 20

const metadataKey = "__metadata__"

type tensorInfo struct {
	DType   string   `json:"dtype"`
	Shape   []int    `json:"shape"`
	Offsets [2]int64 `json:"data_offsets"`
}

// ReadSafetensorsFile reads every tensor of a .safetensors file.
func ReadSafetensorsFile(path string) (*layer.Params, map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return ReadSafetensors(bufio.NewReader(f))
}

// ReadSafetensors decodes a safetensors stream: an 8-byte little-endian
// header length, a JSON header, then the raw tensor bytes. F32, F64, F16 and
// BF16 tensors are widened or narrowed to float32. Tensors come back in
// data-offset order together with the header's free-form metadata.
func ReadSafetensors(r io.Reader) (*layer.Params, map[string]string, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, nil, fmt.Errorf("%w: header length: %w", ErrFormat, err)
	}
	if n > maxHeaderSize {
		return nil, nil, fmt.Errorf("%w: header length %d", ErrFormat, n)
	}
	header := make([]byte, n)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, nil, fmt.Errorf("%w: header: %w", ErrFormat, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(header, &raw); err != nil {
		return nil, nil, fmt.Errorf("%w: header: %w", ErrFormat, err)
	}

	var metadata map[string]string
	type entry struct {
		name string
		info tensorInfo
	}
	entries := make([]entry, 0, len(raw))
	for name, msg := range raw {
		if name == metadataKey {
			if err := json.Unmarshal(msg, &metadata); err != nil {
				return nil, nil, fmt.Errorf("%w: metadata: %w", ErrFormat, err)
			}
			continue
		}
		var info tensorInfo
		if err := json.Unmarshal(msg, &info); err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %w", ErrFormat, name, err)
		}
		entries = append(entries, entry{name, info})
	}
	slices.SortFunc(entries, func(a, b entry) int {
		return cmp.Or(
			cmp.Compare(a.info.Offsets[0], b.info.Offsets[0]),
			strings.Compare(a.name, b.name),
		)
	})

	params := layer.NewParams()
	var pos int64
	for _, e := range entries {
		dtype, ok := tensor.ParseDType(e.info.DType)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s: dtype %s", ErrUnsupported, e.name, e.info.DType)
		}
		if slices.ContainsFunc(e.info.Shape, func(d int) bool { return d < 0 }) {
			return nil, nil, fmt.Errorf("%w: %s: negative dimension in %v", ErrFormat, e.name, e.info.Shape)
		}
		begin, end := e.info.Offsets[0], e.info.Offsets[1]
		shape := tensor.NewShape(e.info.Shape...)
		if begin < pos || end < begin || end-begin != int64(shape.Numel()*dtype.Size()) {
			return nil, nil, fmt.Errorf("%w: %s: bad data offsets [%d, %d]", ErrFormat, e.name, begin, end)
		}
		if _, err := io.CopyN(io.Discard, r, begin-pos); err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %w", ErrFormat, e.name, err)
		}
		buf := make([]byte, end-begin)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %w", ErrFormat, e.name, err)
		}
		pos = end

		params.Add(e.name, tensor.FromSliceNoCopy(decode(dtype, buf), shape))
	}
	return params, metadata, nil
}

func decode(dtype tensor.DType, buf []byte) []float32 {
	switch dtype {
	case tensor.F16:
		out := make([]float32, len(buf)/2)
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(buf[2*i:])).Float32()
		}
		return out
	case tensor.BF16:
		return bfloat16.DecodeFloat32(buf)
	case tensor.F64:
		out := make([]float32, len(buf)/8)
		for i := range out {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:])))
		}
		return out
	default:
		out := make([]float32, len(buf)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
		}
		return out
	}
}

// WriteSafetensorsFile writes params to path as F32 safetensors.
func WriteSafetensorsFile(path string, params *layer.Params, metadata map[string]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := WriteSafetensors(w, params, metadata); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteSafetensors encodes params as F32 in registry order. The header is
// padded with spaces to an 8-byte boundary.
func WriteSafetensors(w io.Writer, params *layer.Params, metadata map[string]string) error {
	header := orderedmap.New[string, any]()
	if len(metadata) > 0 {
		header.Set(metadataKey, metadata)
	}
	var offset int64
	params.Each(func(name string, t *tensor.Tensor) {
		size := int64(t.Numel() * tensor.F32.Size())
		header.Set(name, tensorInfo{
			DType:   tensor.F32.String(),
			Shape:   t.Shape().Dims(),
			Offsets: [2]int64{offset, offset + size},
		})
		offset += size
	})

	bts, err := json.Marshal(header)
	if err != nil {
		return err
	}
	if pad := (8 - len(bts)%8) % 8; pad > 0 {
		bts = append(bts, strings.Repeat(" ", pad)...)
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(bts))); err != nil {
		return err
	}
	if _, err := w.Write(bts); err != nil {
		return err
	}

	var werr error
	params.Each(func(_ string, t *tensor.Tensor) {
		if werr == nil {
			werr = binary.Write(w, binary.LittleEndian, t.DataPtr())
		}
	})
	return werr
}
