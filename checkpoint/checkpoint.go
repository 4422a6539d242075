// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

// Package checkpoint reads and writes named parameter tensors and merges
// them loosely into a model.
//
// Loading is best effort: entries the model does not have, entries it has but
// the file lacks, and entries whose shape disagrees are skipped and reported,
// never treated as failures.
package checkpoint

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fumi-engineer/moelm/layer"
	"github.com/fumi-engineer/moelm/tensor"
)

var (
	ErrFormat        = errors.New("malformed checkpoint")
	ErrUnsupported   = errors.New("unsupported checkpoint content")
	ErrShapeMismatch = errors.New("checkpoint shape mismatch")
)

// Mismatch is a checkpoint entry whose shape differs from the model's.
type Mismatch struct {
	Name string
	Want tensor.Shape
	Got  tensor.Shape
}

func (m Mismatch) Error() string {
	return fmt.Sprintf("%s: model has %v, checkpoint has %v", m.Name, m.Want, m.Got)
}

func (m Mismatch) Unwrap() error { return ErrShapeMismatch }

// Report describes the outcome of a Merge.
type Report struct {
	Loaded     []string
	Missing    []string // in the model, absent from the checkpoint
	Unexpected []string // in the checkpoint, unknown to the model
	Mismatched []Mismatch
}

// Clean reports whether every model parameter was loaded and nothing was
// left over.
func (r Report) Clean() bool {
	return len(r.Missing) == 0 && len(r.Unexpected) == 0 && len(r.Mismatched) == 0
}

// Log writes a summary at info level and one warning per skipped entry.
func (r Report) Log(logger *slog.Logger) {
	logger.Info("checkpoint merged", "loaded", len(r.Loaded), "missing", len(r.Missing),
		"unexpected", len(r.Unexpected), "mismatched", len(r.Mismatched))
	for _, name := range r.Missing {
		logger.Warn("parameter missing from checkpoint, keeping initial value", "name", name)
	}
	for _, name := range r.Unexpected {
		logger.Warn("checkpoint entry not used by model", "name", name)
	}
	for _, m := range r.Mismatched {
		logger.Warn("checkpoint entry skipped", "error", m)
	}
}

// Merge copies every src tensor whose name and shape match a dst parameter
// into that parameter's storage.
func Merge(dst, src *layer.Params) Report {
	var r Report
	dst.Each(func(name string, t *tensor.Tensor) {
		s, ok := src.Get(name)
		switch {
		case !ok:
			r.Missing = append(r.Missing, name)
		case !s.Shape().Equal(t.Shape()):
			r.Mismatched = append(r.Mismatched, Mismatch{Name: name, Want: t.Shape(), Got: s.Shape()})
		default:
			copy(t.DataPtr(), s.DataPtr())
			r.Loaded = append(r.Loaded, name)
		}
	})
	src.Each(func(name string, _ *tensor.Tensor) {
		if _, ok := dst.Get(name); !ok {
			r.Unexpected = append(r.Unexpected, name)
		}
	})
	return r
}

// Format is a checkpoint file format.
type Format int

const (
	Safetensors Format = iota
	Torch
)

func (f Format) String() string {
	if f == Torch {
		return "torch"
	}
	return "safetensors"
}

// DetectFormat picks the format from the file extension, or from the zip
// magic torch.save writes when the extension is not recognised.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".safetensors":
		return Safetensors, nil
	case ".pt", ".pth", ".bin", ".ckpt":
		return Torch, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	if bytes.Equal(magic, []byte("PK\x03\x04")) {
		return Torch, nil
	}
	return Safetensors, nil
}

// Read loads every tensor from a checkpoint file of either format.
func Read(path string) (*layer.Params, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	slog.Debug("reading checkpoint", "path", path, "format", format)
	if format == Torch {
		return ReadTorchFile(path)
	}
	params, _, err := ReadSafetensorsFile(path)
	return params, err
}

// Load reads path and merges it into dst, logging the report.
func Load(path string, dst *layer.Params) (Report, error) {
	src, err := Read(path)
	if err != nil {
		return Report{}, err
	}
	r := Merge(dst, src)
	r.Log(slog.Default().With("path", path))
	return r, nil
}

// Save writes params to path as safetensors.
func Save(path string, params *layer.Params, metadata map[string]string) error {
	if err := WriteSafetensorsFile(path, params, metadata); err != nil {
		return err
	}
	slog.Info("checkpoint saved", "path", path, "tensors", params.Len(), "elements", params.Numel())
	return nil
}
