// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fumi-engineer/moelm/checkpoint"
	"github.com/fumi-engineer/moelm/generate"
	"github.com/fumi-engineer/moelm/vocab"
)

const corpus = `hello world
hello there world
machine learning is fun
deep learning and machine learning
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := NewCLI()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	return out.String()
}

func buildVocab(t *testing.T) string {
	t.Helper()
	out := filepath.Join(t.TempDir(), "tokenizer.json")
	run(t, "vocab", "build", writeFile(t, "corpus.txt", corpus), "--size", "12", "-o", out)
	return out
}

func TestVocabBuild(t *testing.T) {
	path := buildVocab(t)
	v, err := vocab.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 12, v.Len())

	id, ok := v.ID("learning")
	require.True(t, ok)
	assert.Equal(t, 4, id, "most frequent word follows the reserved tokens")
}

func TestShow(t *testing.T) {
	vocabPath := buildVocab(t)
	saved := filepath.Join(t.TempDir(), "model.safetensors")

	out := run(t, "show", "--preset", "tiny", "--vocab", vocabPath, "--seed", "1", "--parameters", "--save", saved)
	assert.Contains(t, out, "tiny")
	assert.Contains(t, out, "4 experts, top-1")
	assert.Contains(t, out, "layers.0.moe.gate.weight")
	assert.Contains(t, out, "head.weight")

	params, err := checkpoint.Read(saved)
	require.NoError(t, err)
	// pos_emb and tok_emb, 4 blocks of attention, norms, 4 experts and gate,
	// then the final norm and head
	assert.Equal(t, 2+4*(4+4+4*4+2)+3, params.Len())

	out = run(t, "show", "--preset", "tiny", "--vocab", vocabPath, "--checkpoint", saved)
	assert.Contains(t, out, "Files")
	assert.Contains(t, out, "mismatched")
}

func TestGenerateCommand(t *testing.T) {
	vocabPath := buildVocab(t)
	args := []string{"--preset", "tiny", "--vocab", vocabPath, "--top-k", "0", "--max-len", "3", "--temperature", "1"}

	out := run(t, append([]string{"generate", "hello world"}, args...)...)
	assert.True(t, strings.HasPrefix(out, "hello world"), out)
	assert.Equal(t, out, run(t, append([]string{"generate", "hello world"}, args...)...), "greedy is deterministic")

	batch := writeFile(t, "prompts.txt", "hello world\n\nmachine learning\n")
	out = run(t, append([]string{"generate", "--file", batch}, args...)...)
	assert.Contains(t, out, "Q: hello world\nA: ")
	assert.Contains(t, out, "Q: machine learning\nA: ")
	assert.Equal(t, 2, strings.Count(out, "Q: "))
}

func TestEvalCommand(t *testing.T) {
	vocabPath := buildVocab(t)
	data := writeFile(t, "eval.txt", corpus)
	out := run(t, "eval", data, "--preset", "tiny", "--vocab", vocabPath, "--seq-len", "8")
	assert.Contains(t, out, "perplexity")
	assert.Contains(t, out, "batches     1")
}

func TestLoadVocabErrors(t *testing.T) {
	_, err := loadVocab("")
	assert.ErrorIs(t, err, errNoVocab)

	_, err = loadVocab(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = loadVocab(writeFile(t, "bad.json", "{"))
	assert.Error(t, err)
}

func TestReadPrompts(t *testing.T) {
	got, err := readPrompts(strings.NewReader("  a b \n\n\tc\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a b", "c"}, got)
}

func testVocab(t *testing.T) *vocab.Word {
	t.Helper()
	v, err := vocab.NewWord(map[string]int{
		vocab.Pad: 0, vocab.BOS: 1, vocab.EOS: 2, vocab.Unk: 3, "hello": 4, "world": 5,
	})
	require.NoError(t, err)
	return v
}

// replies answers "world" then <eos>, after an optional delay per step.
type replies struct{ delay time.Duration }

func (r replies) NextLogits(ids []int) ([]float32, error) {
	time.Sleep(r.delay)
	logits := make([]float32, 6)
	if ids[len(ids)-1] == 5 {
		logits[2] = 10
	} else {
		logits[5] = 10
	}
	return logits, nil
}

func TestChatSession(t *testing.T) {
	var out bytes.Buffer
	c := &chat{
		model: replies{},
		vocab: testVocab(t),
		opts:  generate.Options{MaxLen: 5, Temperature: 1, AssistantName: "Bot"},
		out:   &out,
	}
	require.NoError(t, c.run(context.Background(), strings.NewReader("hello\n\n  \nQUIT\nhello\n")))
	assert.Equal(t, "Bot: world\n\nGoodbye!\n", out.String())
}

func TestChatErrorKeepsGoing(t *testing.T) {
	var out bytes.Buffer
	c := &chat{
		model: replies{},
		vocab: testVocab(t),
		opts:  generate.Options{MaxLen: 5, Temperature: 0, AssistantName: "Bot"},
		out:   &out,
	}
	require.NoError(t, c.run(context.Background(), strings.NewReader("hello\nworld\n")))
	assert.Equal(t, 2, strings.Count(out.String(), "[error] temperature must be positive"))
	assert.True(t, strings.HasSuffix(out.String(), "\n\n\n"), "EOF ends the session")
}

// interrupting raises SIGINT from inside the first forward pass.
type interrupting struct {
	replies
	sig  chan<- os.Signal
	once sync.Once
}

func (m *interrupting) NextLogits(ids []int) ([]float32, error) {
	m.once.Do(func() { m.sig <- syscall.SIGINT })
	return m.replies.NextLogits(ids)
}

func TestChatInterruptCancelsTurn(t *testing.T) {
	interrupts := make(chan os.Signal, 1)

	var out bytes.Buffer
	c := &chat{
		model:      &interrupting{replies: replies{delay: 200 * time.Millisecond}, sig: interrupts},
		vocab:      testVocab(t),
		opts:       generate.Options{MaxLen: 5, Temperature: 1, AssistantName: "Bot"},
		out:        &out,
		interrupts: interrupts,
	}
	require.NoError(t, c.run(context.Background(), strings.NewReader("hello\nhello\nbye\n")))
	assert.Equal(t, 1, strings.Count(out.String(), "[interrupted]"))
	assert.True(t, strings.HasSuffix(out.String(), "Bot: world\n\nGoodbye!\n"), "next turn runs to completion: %q", out.String())
}

func TestChatIdleInterruptIsDropped(t *testing.T) {
	interrupts := make(chan os.Signal, 1)
	interrupts <- syscall.SIGINT

	var out bytes.Buffer
	c := &chat{
		model:      replies{},
		vocab:      testVocab(t),
		opts:       generate.Options{MaxLen: 5, Temperature: 1, AssistantName: "Bot"},
		out:        &out,
		interrupts: interrupts,
	}
	require.NoError(t, c.run(context.Background(), strings.NewReader("hello\nbye\n")))
	assert.Equal(t, "Bot: world\n\nGoodbye!\n", out.String())
}

func TestHumanNumber(t *testing.T) {
	assert.Equal(t, "999", humanNumber(999))
	assert.Equal(t, "1.5K", humanNumber(1500))
	assert.Equal(t, "2.4M", humanNumber(2_400_000))
	assert.Equal(t, "3.1B", humanNumber(3_100_000_000))
}
