// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package vocab

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Word is a whitespace word vocabulary. Text is lower-cased and split on
// whitespace; every word is one token.
type Word struct {
	toID  map[string]int
	toTok map[int]string
	size  int
}

var _ Vocabulary = (*Word)(nil)

// file is the on-disk layout: {"vocab": {"<pad>": 0, ...}}.
type file struct {
	Vocab *orderedmap.OrderedMap[string, int] `json:"vocab"`
}

// NewWord builds a vocabulary from a token -> id mapping. The reserved tokens
// must be present and ids must be unique.
func NewWord(tokens map[string]int) (*Word, error) {
	w := &Word{
		toID:  make(map[string]int, len(tokens)),
		toTok: make(map[int]string, len(tokens)),
	}
	for tok, id := range tokens {
		if prev, ok := w.toTok[id]; ok {
			return nil, fmt.Errorf("%w: %q and %q share %d", ErrDuplicateID, prev, tok, id)
		}
		w.toID[tok] = id
		w.toTok[id] = tok
		w.size = max(w.size, id+1)
	}
	for _, s := range Specials {
		if _, ok := w.toID[s]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingSpecial, s)
		}
	}
	return w, nil
}

// Build keeps the reserved tokens plus the size-4 most frequent words of
// texts. Words tied on frequency keep the order they were first seen in.
func Build(texts []string, size int) *Word {
	type entry struct {
		word  string
		count int
		first int
	}
	seen := make(map[string]*entry)
	var order []*entry
	for _, text := range texts {
		for _, word := range fields(text) {
			if e, ok := seen[word]; ok {
				e.count++
				continue
			}
			e := &entry{word: word, count: 1, first: len(order)}
			seen[word] = e
			order = append(order, e)
		}
	}
	slices.SortStableFunc(order, func(a, b *entry) int {
		return cmp.Compare(b.count, a.count)
	})

	keep := max(size-len(Specials), 0)
	tokens := make(map[string]int, len(Specials)+keep)
	for i, s := range Specials {
		tokens[s] = i
	}
	for _, e := range order {
		if len(tokens) >= len(Specials)+keep {
			break
		}
		if _, reserved := tokens[e.word]; reserved {
			continue
		}
		tokens[e.word] = len(tokens)
	}

	w, _ := NewWord(tokens)
	slog.Debug("vocabulary built", "texts", len(texts), "distinct", len(order), "size", w.Size())
	return w
}

// Load reads a vocabulary file.
func Load(path string) (*Word, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	w, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return w, nil
}

// Read parses a vocabulary from r.
func Read(r io.Reader) (*Word, error) {
	var doc file
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, err
	}
	if doc.Vocab == nil {
		return nil, fmt.Errorf("%w: no \"vocab\" object", ErrMissingSpecial)
	}
	tokens := make(map[string]int, doc.Vocab.Len())
	for pair := doc.Vocab.Oldest(); pair != nil; pair = pair.Next() {
		tokens[pair.Key] = pair.Value
	}
	return NewWord(tokens)
}

// Save writes the vocabulary to path.
func (w *Word) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := w.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Write encodes the vocabulary as JSON with entries in id order.
func (w *Word) Write(out io.Writer) error {
	ids := make([]int, 0, len(w.toTok))
	for id := range w.toTok {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	doc := file{Vocab: orderedmap.New[string, int](orderedmap.WithCapacity[string, int](len(ids)))}
	for _, id := range ids {
		doc.Vocab.Set(w.toTok[id], id)
	}
	return json.NewEncoder(out).Encode(doc)
}

// Encode implements Vocabulary. It never fails.
func (w *Word) Encode(text string) ([]int, error) {
	words := fields(text)
	ids := make([]int, 0, len(words)+2)
	ids = append(ids, w.toID[BOS])
	unk := w.toID[Unk]
	for _, word := range words {
		id, ok := w.toID[word]
		if !ok {
			id = unk
		}
		ids = append(ids, id)
	}
	return append(ids, w.toID[EOS]), nil
}

// Decode implements Vocabulary.
func (w *Word) Decode(ids []int) string {
	words := make([]string, 0, len(ids))
	for _, id := range ids {
		tok := w.Piece(id)
		switch tok {
		case Pad, BOS, EOS:
			continue
		}
		words = append(words, tok)
	}
	return strings.Join(words, " ")
}

// Piece implements Vocabulary.
func (w *Word) Piece(id int) string {
	if tok, ok := w.toTok[id]; ok {
		return tok
	}
	return Unk
}

// ID returns the id of token.
func (w *Word) ID(token string) (int, bool) {
	id, ok := w.toID[token]
	return id, ok
}

// Size implements Vocabulary.
func (w *Word) Size() int { return w.size }

// Len is the number of tokens.
func (w *Word) Len() int { return len(w.toID) }

// EOS implements Vocabulary.
func (w *Word) EOS() (int, bool) { return w.ID(EOS) }

func fields(text string) []string {
	return strings.Fields(cases.Lower(language.Und).String(text))
}
