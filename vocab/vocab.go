// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

// Package vocab maps text to token ids and back.
package vocab

import "errors"

// Reserved tokens and the ids a word vocabulary gives them.
const (
	Pad = "<pad>"
	BOS = "<bos>"
	EOS = "<eos>"
	Unk = "<unk>"

	PadID = 0
	BOSID = 1
	EOSID = 2
	UnkID = 3
)

// Specials lists the reserved tokens in id order.
var Specials = []string{Pad, BOS, EOS, Unk}

var (
	ErrMissingSpecial = errors.New("vocabulary is missing a reserved token")
	ErrDuplicateID    = errors.New("vocabulary maps two tokens to one id")
)

// Vocabulary is the contract the model and the decoder consume.
type Vocabulary interface {
	// Encode tokenises text and brackets it with <bos> and <eos>. Unknown
	// words become <unk>.
	Encode(text string) ([]int, error)
	// Decode renders ids as text with <pad>, <bos> and <eos> markers
	// removed. Unknown ids render as <unk>.
	Decode(ids []int) string
	// Piece renders one id, for streaming.
	Piece(id int) string
	// Size is one more than the largest id, the embedding table height.
	Size() int
	// EOS returns the end-of-sequence id if the vocabulary defines one.
	EOS() (int, bool)
}
