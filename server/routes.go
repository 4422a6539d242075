// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

// Package server exposes generation over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fumi-engineer/moelm/generate"
	"github.com/fumi-engineer/moelm/model"
	"github.com/fumi-engineer/moelm/vocab"
)

const requestIDHeader = "X-Request-Id"

// Model is what the server needs from a loaded model.
type Model interface {
	generate.Model
	Config() model.Config
	NumParams() int
}

// Server holds the shared, read-only model and vocabulary. Requests run
// independently; each gets its own sampler.
type Server struct {
	model    Model
	vocab    vocab.Vocabulary
	defaults generate.Options
	info     ShowResponse
}

// New returns a server. defaults supplies the sampling settings a request
// leaves unset; info fills the descriptive part of /api/show.
func New(m Model, v vocab.Vocabulary, defaults generate.Options, info ShowResponse) *Server {
	cfg := m.Config()
	info.VocabSize = v.Size()
	info.Parameters = m.NumParams()
	info.ActiveParams = cfg.ActiveParams()
	info.Details = map[string]any{
		"hidden_dim":  cfg.HiddenDim,
		"n_layers":    cfg.NLayers,
		"n_heads":     cfg.NHeads,
		"ffn_dim":     cfg.FFNDim,
		"n_experts":   cfg.NExperts,
		"top_k":       cfg.TopK,
		"max_seq_len": cfg.MaxSeqLen,
	}
	return &Server{model: m, vocab: v, defaults: defaults, info: info}
}

// GenerateRoutes builds the gin engine.
func (s *Server) GenerateRoutes() http.Handler {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery(), requestIDMiddleware())

	r.HEAD("/", func(c *gin.Context) { c.String(http.StatusOK, "moelm is running") })
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "moelm is running") })

	r.POST("/api/generate", s.GenerateHandler)
	r.GET("/api/show", s.ShowHandler)
	r.POST("/api/show", s.ShowHandler)
	return r
}

// Serve runs the HTTP server on ln until ctx is done, then shuts it down.
func Serve(ctx context.Context, ln net.Listener, s *Server) error {
	srv := &http.Server{
		Handler:           s.GenerateRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	slog.Info("listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			u, err := uuid.NewV7()
			if err != nil {
				u = uuid.New()
			}
			id = u.String()
		}
		c.Set(requestIDHeader, id)
		c.Header(requestIDHeader, id)

		start := time.Now()
		c.Next()
		slog.Debug("request", "id", id, "method", c.Request.Method, "path", c.FullPath(),
			"status", c.Writer.Status(), "elapsed", time.Since(start))
	}
}

func requestID(c *gin.Context) string { return c.GetString(requestIDHeader) }

// ShowHandler reports the model configuration.
func (s *Server) ShowHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.info)
}

// options merges the request's sampling fields over the server defaults.
func (s *Server) options(req GenerateRequest) generate.Options {
	opts := s.defaults
	opts.Stream = nil
	opts.Strategy = nil
	if req.System != "" {
		opts.System = req.System
	}
	if req.MaxLen != nil {
		opts.MaxLen = *req.MaxLen
	}
	if req.Temperature != nil {
		opts.Temperature = *req.Temperature
	}
	if req.TopK != nil {
		opts.TopK = *req.TopK
	}
	if req.Seed != nil {
		opts.Seed = *req.Seed
	}
	return opts
}

// GenerateHandler runs one generation. A client that goes away cancels it.
func (s *Server) GenerateHandler(c *gin.Context) {
	var req GenerateRequest
	switch err := c.ShouldBindJSON(&req); {
	case errors.Is(err, io.EOF):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing request body"})
		return
	case err != nil:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := requestID(c)
	opts := s.options(req)
	if !req.Stream {
		res, err := generate.Generate(c.Request.Context(), s.model, s.vocab, req.Prompt, opts)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary(id, res))
		return
	}

	ctx := c.Request.Context()
	ch := make(chan any)
	send := func(v any) {
		select {
		case ch <- v:
		case <-ctx.Done():
		}
	}
	go func() {
		defer close(ch)
		opts.Stream = func(tok generate.Token) {
			send(GenerateResponse{ID: id, Response: tok.Piece})
		}
		res, err := generate.Generate(ctx, s.model, s.vocab, req.Prompt, opts)
		if err != nil {
			if errors.Is(err, generate.ErrInterrupted) {
				return
			}
			send(gin.H{"error": err.Error(), "status": statusFor(err)})
			return
		}
		final := summary(id, res)
		final.Response = ""
		send(final)
	}()
	streamResponse(c, ch)
}

func summary(id string, res generate.Result) GenerateResponse {
	return GenerateResponse{
		ID:              id,
		Response:        res.Completion,
		Done:            true,
		DoneReason:      res.State.String(),
		Tokens:          res.IDs,
		PromptEvalCount: res.PromptLen,
		EvalCount:       res.Generated,
		TotalDuration:   res.Elapsed,
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, generate.ErrInvalidTemperature),
		errors.Is(err, generate.ErrInvalidTopK),
		errors.Is(err, generate.ErrInvalidMaxLen),
		errors.Is(err, model.ErrSequenceTooLong),
		errors.Is(err, model.ErrTokenOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, generate.ErrStepTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// streamResponse writes every value from ch as one line of JSON. An error
// value ends the stream; before the first write it becomes a plain JSON
// error response with its status.
func streamResponse(c *gin.Context, ch chan any) {
	c.Header("Content-Type", "application/x-ndjson")
	c.Stream(func(w io.Writer) bool {
		val, ok := <-ch
		if !ok {
			return false
		}

		if h, ok := val.(gin.H); ok {
			if e, ok := h["error"].(string); ok {
				status, ok := h["status"].(int)
				if !ok {
					status = http.StatusInternalServerError
				}
				if !c.Writer.Written() {
					c.Header("Content-Type", "application/json")
					c.JSON(status, gin.H{"error": e})
				} else if err := json.NewEncoder(c.Writer).Encode(gin.H{"error": e}); err != nil {
					slog.Error("stream: encode error", "error", err)
				}
				return false
			}
		}

		bts, err := json.Marshal(val)
		if err != nil {
			slog.Info(fmt.Sprintf("stream: json.Marshal failed with %s", err))
			return false
		}
		bts = append(bts, '\n')
		if _, err := w.Write(bts); err != nil {
			slog.Info(fmt.Sprintf("stream: write failed with %s", err))
			return false
		}
		return true
	})
}
