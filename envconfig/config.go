// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

// Package envconfig reads the MOELM_* environment variables. Every getter
// reads the environment on each call, so tests can use t.Setenv.
package envconfig

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultPort = "11500"

// Host returns the address the HTTP server listens on and clients dial.
// Configurable via MOELM_HOST. Default: http://127.0.0.1:11500
func Host() *url.URL {
	port := defaultPort

	s := strings.TrimSpace(Var("MOELM_HOST"))
	scheme, hostport, ok := strings.Cut(s, "://")
	switch {
	case !ok:
		scheme, hostport = "http", s
	case scheme == "http":
		port = "80"
	case scheme == "https":
		port = "443"
	}

	hostport, path, _ := strings.Cut(hostport, "/")
	host, p, err := net.SplitHostPort(hostport)
	if err != nil {
		host, p = "127.0.0.1", port
		if ip := net.ParseIP(strings.Trim(hostport, "[]")); ip != nil {
			host = ip.String()
		} else if hostport != "" {
			host = hostport
		}
	}

	if n, err := strconv.ParseInt(p, 10, 32); err != nil || n > 65535 || n < 0 {
		slog.Warn("invalid port, using default", "port", p, "default", port)
		p = port
	}

	return &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, p),
		Path:   path,
	}
}

// LogLevel returns the log level.
// Configurable via MOELM_DEBUG: 0/false = INFO, 1/true = DEBUG, 2 = TRACE.
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("MOELM_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}
	return level
}

// StepTimeout bounds one decoder forward pass. 0 means no bound.
// Configurable via MOELM_STEP_TIMEOUT as a duration or whole seconds.
func StepTimeout() time.Duration {
	s := Var("MOELM_STEP_TIMEOUT")
	if s == "" {
		return 0
	}
	if d, err := time.ParseDuration(s); err == nil {
		return max(d, 0)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return max(time.Duration(n)*time.Second, 0)
	}
	slog.Warn("invalid environment variable, using default", "key", "MOELM_STEP_TIMEOUT", "value", s)
	return 0
}

var (
	// Workers bounds concurrent expert dispatch; 0 means GOMAXPROCS.
	Workers = Uint("MOELM_WORKERS", 0)
	// Seed seeds weight initialisation and top-k sampling.
	Seed = Uint64("MOELM_SEED", 0)
	// Checkpoint is the default weights file (.safetensors or .pt).
	Checkpoint = String("MOELM_CHECKPOINT")
	// Vocab is the default vocabulary file.
	Vocab = String("MOELM_VOCAB")
	// Preset is the default model preset name.
	Preset = StringWithDefault("MOELM_PRESET", "3b")
	// NoColor disables ANSI styling in the chat prompt.
	NoColor = Bool("MOELM_NOCOLOR")
)

// Var returns an environment variable stripped of surrounding quotes and
// whitespace.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// BoolWithDefault returns a getter for a boolean variable. A set but
// unparsable value counts as true.
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool returns a getter for a boolean variable that defaults to false.
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// String returns a getter for a string variable.
func String(k string) func() string {
	return func() string {
		return Var(k)
	}
}

// StringWithDefault returns a getter for a string variable with a fallback.
func StringWithDefault(k, defaultValue string) func() string {
	return func() string {
		if s := Var(k); s != "" {
			return s
		}
		return defaultValue
	}
}

// Uint returns a getter for an unsigned integer variable.
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// Uint64 returns a getter for a 64-bit unsigned integer variable.
func Uint64(key string, defaultValue uint64) func() uint64 {
	return func() uint64 {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return n
			}
		}
		return defaultValue
	}
}

// EnvVar describes one configuration variable.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap returns every variable with its current value.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"MOELM_DEBUG":        {"MOELM_DEBUG", LogLevel(), "Show additional debug information (e.g. MOELM_DEBUG=1, 2 for trace)"},
		"MOELM_HOST":         {"MOELM_HOST", Host(), "Address for the moelm server (default 127.0.0.1:11500)"},
		"MOELM_WORKERS":      {"MOELM_WORKERS", Workers(), "Maximum concurrent experts per MoE layer (default GOMAXPROCS)"},
		"MOELM_SEED":         {"MOELM_SEED", Seed(), "Seed for weight initialisation and sampling"},
		"MOELM_CHECKPOINT":   {"MOELM_CHECKPOINT", Checkpoint(), "Weights file to load (.safetensors or .pt)"},
		"MOELM_VOCAB":        {"MOELM_VOCAB", Vocab(), "Vocabulary file (word vocab JSON or tokenizer.json)"},
		"MOELM_PRESET":       {"MOELM_PRESET", Preset(), "Model preset: tiny, default or 3b (default \"3b\")"},
		"MOELM_STEP_TIMEOUT": {"MOELM_STEP_TIMEOUT", StepTimeout(), "Upper bound on one forward pass during generation"},
		"MOELM_NOCOLOR":      {"MOELM_NOCOLOR", NoColor(), "Disable colour in the chat prompt"},
	}
}

// Values returns every variable's current value formatted as a string.
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
