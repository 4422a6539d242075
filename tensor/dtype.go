// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package tensor

import "strings"

// DType tags the on-disk element type of a tensor. In memory every tensor is
// float32; the tag only matters when reading or writing checkpoints.
type DType uint8

const (
	F32 DType = iota
	F16
	BF16
	F64
)

// Size returns the byte width of one element.
func (d DType) Size() int {
	switch d {
	case F16, BF16:
		return 2
	case F64:
		return 8
	default:
		return 4
	}
}

// String returns the safetensors spelling of the type.
func (d DType) String() string {
	switch d {
	case F16:
		return "F16"
	case BF16:
		return "BF16"
	case F64:
		return "F64"
	default:
		return "F32"
	}
}

// ParseDType maps a safetensors dtype string to a DType.
func ParseDType(s string) (DType, bool) {
	switch strings.ToUpper(s) {
	case "F32":
		return F32, true
	case "F16":
		return F16, true
	case "BF16":
		return BF16, true
	case "F64":
		return F64, true
	}
	return F32, false
}
