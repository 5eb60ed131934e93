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

// Package chunker splits normalized document text into overlapping pieces.
//
// Chunking is critical for retrieval quality:
//   - Too small: loses context, retrieves fragments
//   - Too large: wastes tokens, dilutes relevance
//   - Overlap: preserves context at piece boundaries so information that
//     spans a boundary is still retrievable from either side
package chunker

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Unit selects how piece size and overlap are measured.
type Unit string

const (
	// UnitChars measures size in Unicode code points.
	UnitChars Unit = "chars"

	// UnitTokens measures size in model tokens (tiktoken).
	UnitTokens Unit = "tokens"
)

// Config configures the splitter.
type Config struct {
	// Size is the maximum piece size in the configured unit.
	// Default: 1000
	Size int `yaml:"size,omitempty"`

	// Overlap is the number of units shared between consecutive pieces.
	// Must satisfy 0 <= overlap < size.
	// Default: 0
	Overlap int `yaml:"overlap,omitempty"`

	// Unit is "chars" (default) or "tokens".
	Unit Unit `yaml:"unit,omitempty"`

	// Encoding is the tiktoken encoding used when Unit is "tokens".
	// Default: cl100k_base
	Encoding string `yaml:"encoding,omitempty"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.Size <= 0 {
		c.Size = 1000
	}
	if c.Overlap < 0 {
		c.Overlap = 0
	}
	if c.Unit == "" {
		c.Unit = UnitChars
	}
	if c.Encoding == "" {
		c.Encoding = "cl100k_base"
	}
}

// Validate checks the configuration for errors.
//
// Degenerate configurations are rejected here, at construction time, so the
// per-call Split path never has to revalidate.
func (c *Config) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.Size)
	}
	if c.Overlap < 0 {
		return fmt.Errorf("overlap must be non-negative, got %d", c.Overlap)
	}
	if c.Overlap >= c.Size {
		return fmt.Errorf("overlap (%d) must be less than size (%d)", c.Overlap, c.Size)
	}
	switch c.Unit {
	case UnitChars, UnitTokens, "":
	default:
		return fmt.Errorf("invalid chunk unit: %q", c.Unit)
	}
	return nil
}

// Piece is one bounded contiguous span of a document's text.
type Piece struct {
	// Text is the piece content.
	Text string `json:"text"`

	// Index is the piece's position within the document (0-based).
	Index int `json:"index"`

	// Total is the total number of pieces for the document.
	Total int `json:"total"`

	// Start and End are offsets into the source in the configured unit
	// (runes or tokens). End is exclusive.
	Start int `json:"start"`
	End   int `json:"end"`
}

// Splitter produces ordered, overlapping pieces covering the full input.
type Splitter struct {
	config Config
	enc    *tiktoken.Tiktoken
}

// New creates a splitter from configuration.
func New(cfg Config) (*Splitter, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chunker config: %w", err)
	}

	s := &Splitter{config: cfg}
	if cfg.Unit == UnitTokens {
		enc, err := tiktoken.GetEncoding(cfg.Encoding)
		if err != nil {
			return nil, fmt.Errorf("failed to load encoding %q: %w", cfg.Encoding, err)
		}
		s.enc = enc
	}
	return s, nil
}

// Config returns the splitter configuration.
func (s *Splitter) Config() Config {
	return s.config
}

// Split splits content into overlapping pieces.
//
// The pieces cover the input with no gaps, in order. Piece n's trailing
// Overlap units equal piece n+1's leading Overlap units whenever both exist.
// Empty input yields zero pieces; callers treat that as a no-op ingestion.
func (s *Splitter) Split(content string) []Piece {
	if content == "" {
		return nil
	}

	switch s.config.Unit {
	case UnitTokens:
		return s.splitTokens(content)
	default:
		return s.splitRunes(content)
	}
}

func (s *Splitter) splitRunes(content string) []Piece {
	runes := []rune(content)
	pieces := window(len(runes), s.config.Size, s.config.Overlap)

	out := make([]Piece, len(pieces))
	for i, w := range pieces {
		out[i] = Piece{
			Text:  string(runes[w[0]:w[1]]),
			Index: i,
			Total: len(pieces),
			Start: w[0],
			End:   w[1],
		}
	}
	return out
}

func (s *Splitter) splitTokens(content string) []Piece {
	tokens := s.enc.Encode(content, nil, nil)
	if len(tokens) == 0 {
		return nil
	}
	pieces := window(len(tokens), s.config.Size, s.config.Overlap)

	out := make([]Piece, len(pieces))
	for i, w := range pieces {
		out[i] = Piece{
			Text:  s.enc.Decode(tokens[w[0]:w[1]]),
			Index: i,
			Total: len(pieces),
			Start: w[0],
			End:   w[1],
		}
	}
	return out
}

// window computes [start,end) spans of at most size units with the given
// overlap, stepping size-overlap units, covering [0,n) exactly.
func window(n, size, overlap int) [][2]int {
	step := size - overlap

	var spans [][2]int
	for start := 0; ; start += step {
		end := start + size
		if end >= n {
			spans = append(spans, [2]int{start, n})
			return spans
		}
		spans = append(spans, [2]int{start, end})
	}
}
