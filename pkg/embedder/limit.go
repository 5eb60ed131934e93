// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package embedder

import (
	"context"
	"errors"
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// ErrInputTooLong is returned when an input exceeds the model's maximum
// length and the policy is to reject it. This is recoverable per chunk: it
// fails the offending chunk's document, not the batch around it.
var ErrInputTooLong = errors.New("embedding input exceeds maximum length")

// OverflowPolicy selects how over-length inputs are handled.
type OverflowPolicy string

const (
	// OverflowTruncate cuts the input down to the token limit.
	OverflowTruncate OverflowPolicy = "truncate"

	// OverflowReject refuses the input with ErrInputTooLong.
	OverflowReject OverflowPolicy = "reject"
)

// InputLimit enforces a model's maximum input length in tokens.
type InputLimit struct {
	maxTokens int
	policy    OverflowPolicy
	enc       *tiktoken.Tiktoken
}

// LimitConfig configures an InputLimit.
type LimitConfig struct {
	// MaxTokens is the model's maximum input length (default: 8192).
	MaxTokens int `yaml:"max_tokens,omitempty"`

	// Policy is "truncate" (default) or "reject".
	Policy OverflowPolicy `yaml:"policy,omitempty"`

	// Encoding is the tiktoken encoding used for counting
	// (default: cl100k_base).
	Encoding string `yaml:"encoding,omitempty"`
}

// NewInputLimit creates an input-length guard.
func NewInputLimit(cfg LimitConfig) (*InputLimit, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	switch cfg.Policy {
	case OverflowTruncate, OverflowReject:
	case "":
		cfg.Policy = OverflowTruncate
	default:
		return nil, fmt.Errorf("invalid overflow policy: %q", cfg.Policy)
	}
	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "cl100k_base"
	}

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding %q: %w", encoding, err)
	}

	return &InputLimit{
		maxTokens: cfg.MaxTokens,
		policy:    cfg.Policy,
		enc:       enc,
	}, nil
}

// Apply returns text guaranteed to fit the limit, truncating or rejecting
// per policy.
func (l *InputLimit) Apply(text string) (string, error) {
	tokens := l.enc.Encode(text, nil, nil)
	if len(tokens) <= l.maxTokens {
		return text, nil
	}

	if l.policy == OverflowReject {
		return "", fmt.Errorf("%w: %d tokens > %d", ErrInputTooLong, len(tokens), l.maxTokens)
	}
	return l.enc.Decode(tokens[:l.maxTokens]), nil
}

// MaxTokens returns the configured limit.
func (l *InputLimit) MaxTokens() int {
	return l.maxTokens
}

// Limited wraps an Embedder so every input passes the length guard before
// reaching the backend.
type Limited struct {
	inner Embedder
	limit *InputLimit
}

// NewLimited creates a length-guarded embedder.
func NewLimited(inner Embedder, limit *InputLimit) *Limited {
	return &Limited{inner: inner, limit: limit}
}

func (l *Limited) Embed(ctx context.Context, text string) ([]float32, error) {
	text, err := l.limit.Apply(text)
	if err != nil {
		return nil, err
	}
	return l.inner.Embed(ctx, text)
}

func (l *Limited) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	bounded := make([]string, len(texts))
	for i, text := range texts {
		t, err := l.limit.Apply(text)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		bounded[i] = t
	}
	return l.inner.EmbedBatch(ctx, bounded)
}

func (l *Limited) Dimension() int { return l.inner.Dimension() }

func (l *Limited) Model() string { return l.inner.Model() }

func (l *Limited) Close() error { return l.inner.Close() }
