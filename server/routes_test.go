// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package server

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fumi-engineer/moelm/generate"
	"github.com/fumi-engineer/moelm/model"
	"github.com/fumi-engineer/moelm/vocab"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testVocab(t *testing.T) *vocab.Word {
	t.Helper()
	v, err := vocab.NewWord(map[string]int{
		vocab.Pad: 0, vocab.BOS: 1, vocab.EOS: 2, vocab.Unk: 3, "hello": 4, "world": 5,
	})
	require.NoError(t, err)
	return v
}

func testModel(t *testing.T) *model.Transformer {
	t.Helper()
	m, err := model.New(model.Config{
		VocabSize: 6, HiddenDim: 8, NLayers: 1, NHeads: 2, FFNDim: 16,
		NExperts: 4, TopK: 1, MaxSeqLen: 64, Seed: 5,
	})
	require.NoError(t, err)
	return m
}

func greedyDefaults() generate.Options {
	return generate.Options{MaxLen: 5, Temperature: 1}
}

// scripted emits one token per call, then repeats the last one.
type scripted struct {
	*model.Transformer
	mu     sync.Mutex
	tokens []int
	calls  int
}

func (s *scripted) NextLogits([]int) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	logits := make([]float32, 6)
	logits[s.tokens[min(s.calls, len(s.tokens)-1)]] = 10
	s.calls++
	return logits, nil
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRoot(t *testing.T) {
	s := New(testModel(t), testVocab(t), greedyDefaults(), ShowResponse{})
	w := do(t, s.GenerateRoutes(), http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "moelm is running", w.Body.String())
}

func TestShow(t *testing.T) {
	m := testModel(t)
	s := New(m, testVocab(t), greedyDefaults(), ShowResponse{Preset: "tiny"})
	w := do(t, s.GenerateRoutes(), http.MethodGet, "/api/show", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp ShowResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "tiny", resp.Preset)
	assert.Equal(t, 6, resp.VocabSize)
	assert.Equal(t, m.NumParams(), resp.Parameters)
	assert.Equal(t, m.Config().ActiveParams(), resp.ActiveParams)
	assert.InDelta(t, 4, resp.Details["n_experts"], 0)
}

func TestGenerate(t *testing.T) {
	s := New(testModel(t), testVocab(t), greedyDefaults(), ShowResponse{})
	h := s.GenerateRoutes()

	w := do(t, h, http.MethodPost, "/api/generate", `{"prompt":"hello world"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	_, err := uuid.Parse(w.Header().Get(requestIDHeader))
	assert.NoError(t, err)

	var resp GenerateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Done)
	assert.Equal(t, w.Header().Get(requestIDHeader), resp.ID)
	assert.Equal(t, 4, resp.PromptEvalCount)
	assert.Equal(t, []int{1, 4, 5, 2}, resp.Tokens[:4])
	assert.GreaterOrEqual(t, resp.EvalCount, 1)
	assert.LessOrEqual(t, resp.EvalCount, 5)
	assert.Contains(t, []string{"eos", "max_len"}, resp.DoneReason)

	again := do(t, h, http.MethodPost, "/api/generate", `{"prompt":"hello world"}`)
	var resp2 GenerateResponse
	require.NoError(t, json.Unmarshal(again.Body.Bytes(), &resp2))
	assert.Equal(t, resp.Tokens, resp2.Tokens, "greedy decoding is deterministic")
}

func TestGenerateHelloWorld(t *testing.T) {
	m := &scripted{Transformer: testModel(t), tokens: []int{5, 2}}
	s := New(m, testVocab(t), greedyDefaults(), ShowResponse{})

	w := do(t, s.GenerateRoutes(), http.MethodPost, "/api/generate", `{"prompt":"hello"}`, requestIDHeader, "req-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-1", w.Header().Get(requestIDHeader))

	var resp GenerateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "world", resp.Response)
	assert.Equal(t, []int{1, 4, 2, 5, 2}, resp.Tokens)
	assert.Equal(t, "eos", resp.DoneReason)
	assert.Equal(t, "req-1", resp.ID)
}

// post goes through a real listener: streaming needs a ResponseWriter that
// supports close notification.
func post(t *testing.T, h http.Handler, body string) *http.Response {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	resp, err := http.Post(srv.URL+"/api/generate", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestGenerateStream(t *testing.T) {
	m := &scripted{Transformer: testModel(t), tokens: []int{5, 4, 2}}
	s := New(m, testVocab(t), greedyDefaults(), ShowResponse{})

	resp := post(t, s.GenerateRoutes(), `{"prompt":"hello","stream":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	var got []GenerateResponse
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var r GenerateResponse
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		got = append(got, r)
	}
	require.NoError(t, sc.Err())
	require.Len(t, got, 4)
	assert.Equal(t, "world", got[0].Response)
	assert.Equal(t, "hello", got[1].Response)
	assert.Equal(t, vocab.EOS, got[2].Response)
	for _, r := range got[:3] {
		assert.False(t, r.Done)
	}
	assert.True(t, got[3].Done)
	assert.Equal(t, 3, got[3].EvalCount)
}

func TestGenerateStreamError(t *testing.T) {
	s := New(testModel(t), testVocab(t), greedyDefaults(), ShowResponse{})
	resp := post(t, s.GenerateRoutes(), `{"prompt":"hi","temperature":-1,"stream":true}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body["error"], "temperature")
}

func TestGenerateErrors(t *testing.T) {
	s := New(testModel(t), testVocab(t), greedyDefaults(), ShowResponse{})
	h := s.GenerateRoutes()

	cases := []struct {
		name   string
		body   string
		status int
		errMsg string
	}{
		{"missing body", "", http.StatusBadRequest, "missing request body"},
		{"bad json", "{", http.StatusBadRequest, ""},
		{"zero temperature", `{"prompt":"hi","temperature":0}`, http.StatusBadRequest, "temperature"},
		{"negative top-k", `{"prompt":"hi","top_k":-1}`, http.StatusBadRequest, "top-k"},
		{"zero max len", `{"prompt":"hi","max_len":0}`, http.StatusBadRequest, "max length"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/generate", tt.body)
			assert.Equal(t, tt.status, w.Code)
			var resp map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Contains(t, resp["error"], tt.errMsg)
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := New(testModel(t), testVocab(t), greedyDefaults(), ShowResponse{})
	w := do(t, s.GenerateRoutes(), http.MethodGet, "/api/generate", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
