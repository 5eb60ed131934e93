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

package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/corpus/pkg/embedder"
	"github.com/kadirpekel/corpus/pkg/observability"
	"github.com/kadirpekel/corpus/pkg/store"
)

const (
	// DefaultAlpha weights the vector leg against the lexical leg.
	DefaultAlpha = 0.7

	// DefaultTopK is the result count when the caller does not set one.
	DefaultTopK = 10

	// DefaultBoost is the additive bonus for chunks satisfying every
	// quoted phrase literally.
	DefaultBoost = 0.25

	// defaultOverfetch widens each leg's candidate pool for re-ranking
	// headroom.
	defaultOverfetch = 4

	// maxCandidates caps the per-leg fetch regardless of top_k.
	maxCandidates = 100
)

// Config tunes the hybrid ranker.
type Config struct {
	// Alpha in [0,1] weights the vector leg; 1-Alpha weights the lexical
	// leg (default: 0.7).
	Alpha float64 `yaml:"alpha,omitempty"`

	// ExactMatchBoost is added after blending when a chunk contains every
	// quoted phrase (default: 0.25).
	ExactMatchBoost float64 `yaml:"exact_match_boost,omitempty"`

	// Overfetch multiplies top_k for per-leg candidate fetching
	// (default: 4, capped at 100 candidates per leg).
	Overfetch int `yaml:"overfetch,omitempty"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Alpha == 0 {
		c.Alpha = DefaultAlpha
	}
	if c.ExactMatchBoost == 0 {
		c.ExactMatchBoost = DefaultBoost
	}
	if c.Overfetch <= 0 {
		c.Overfetch = defaultOverfetch
	}
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	if c.Alpha < 0 || c.Alpha > 1 {
		return fmt.Errorf("alpha must be in [0,1], got %f", c.Alpha)
	}
	if c.ExactMatchBoost < 0 {
		return fmt.Errorf("exact_match_boost must be non-negative, got %f", c.ExactMatchBoost)
	}
	return nil
}

// Options control a single search call.
type Options struct {
	// TopK is the number of results to return (default: 10).
	TopK int

	// MinScore drops results below the threshold after ranking. It never
	// narrows candidate generation.
	MinScore float64

	// Alpha overrides the configured blend weight when non-negative.
	// Pass -1 (or start from DefaultOptions) to use the configured value.
	Alpha float64

	// Filter narrows both legs to matching chunks.
	Filter store.Filter
}

// DefaultOptions returns Options deferring to the searcher's configuration.
func DefaultOptions() Options {
	return Options{TopK: DefaultTopK, Alpha: -1}
}

// Result is one ranked chunk with its blended score.
type Result struct {
	Chunk store.Chunk `json:"chunk"`
	Score float64     `json:"score"`
}

// Searcher runs the hybrid vector+lexical query pipeline.
type Searcher struct {
	store      store.Store
	embedder   embedder.Embedder
	cfg        Config
	collectors *observability.Collectors
	logger     *slog.Logger
}

// NewSearcher creates a hybrid searcher. Collectors may be nil.
func NewSearcher(st store.Store, emb embedder.Embedder, cfg Config, collectors *observability.Collectors, logger *slog.Logger) (*Searcher, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if emb == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{store: st, embedder: emb, cfg: cfg, collectors: collectors, logger: logger}, nil
}

// Search parses the query, runs both legs concurrently, blends the scores
// and returns the top results.
func (s *Searcher) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	started := time.Now()
	defer func() {
		if s.collectors != nil {
			s.collectors.SearchDuration.Observe(time.Since(started).Seconds())
		}
	}()

	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is empty")
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	alpha := s.cfg.Alpha
	if opts.Alpha >= 0 {
		alpha = opts.Alpha
	}
	if alpha < 0 || alpha > 1 {
		return nil, fmt.Errorf("alpha must be in [0,1], got %f", alpha)
	}

	fetchK := topK * s.cfg.Overfetch
	if fetchK > maxCandidates {
		fetchK = maxCandidates
	}

	parsed := ParseQuery(query)
	tsquery := store.BuildTSQuery(parsed.Phrases, parsed.Terms)

	var vecHits, lexHits []store.Hit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		emb, err := s.embedder.Embed(gctx, query)
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		vecHits, err = s.store.VectorSearch(gctx, emb, fetchK, opts.Filter)
		if err != nil {
			return fmt.Errorf("vector leg: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		lexHits, err = s.store.LexicalSearch(gctx, tsquery, fetchK, opts.Filter)
		if err != nil {
			return fmt.Errorf("lexical leg: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := s.blend(vecHits, lexHits, alpha, parsed.Phrases)

	// min_score cuts the output, not the candidates.
	filtered := results[:0]
	for _, r := range results {
		if r.Score >= opts.MinScore {
			filtered = append(filtered, r)
		}
	}
	results = filtered
	if len(results) > topK {
		results = results[:topK]
	}

	s.logger.Debug("Hybrid search complete",
		"query", query,
		"vector_hits", len(vecHits),
		"lexical_hits", len(lexHits),
		"results", len(results))
	return results, nil
}

// blend merges the two candidate sets by chunk identity, min-max normalizes
// each leg, applies the alpha weighting and the exact-match boost, and
// sorts deterministically.
func (s *Searcher) blend(vecHits, lexHits []store.Hit, alpha float64, phrases []string) []Result {
	type candidate struct {
		chunk    store.Chunk
		vector   float64
		lexical  float64
		inVector bool
		inLex    bool
	}

	merged := make(map[string]*candidate, len(vecHits)+len(lexHits))
	key := func(c store.Chunk) string {
		return fmt.Sprintf("%s/%d", c.DocumentID, c.ChunkIndex)
	}

	vecNorm := normalize(vecHits)
	for i, h := range vecHits {
		merged[key(h.Chunk)] = &candidate{chunk: h.Chunk, vector: vecNorm[i], inVector: true}
	}
	lexNorm := normalize(lexHits)
	for i, h := range lexHits {
		if c, ok := merged[key(h.Chunk)]; ok {
			c.lexical = lexNorm[i]
			c.inLex = true
		} else {
			merged[key(h.Chunk)] = &candidate{chunk: h.Chunk, lexical: lexNorm[i], inLex: true}
		}
	}

	results := make([]Result, 0, len(merged))
	for _, c := range merged {
		score := alpha*c.vector + (1-alpha)*c.lexical
		if len(phrases) > 0 && matchesAllPhrases(c.chunk.TextContent, phrases) {
			score += s.cfg.ExactMatchBoost
		}
		results = append(results, Result{Chunk: c.chunk, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Chunk.ChunkIndex != results[j].Chunk.ChunkIndex {
			return results[i].Chunk.ChunkIndex < results[j].Chunk.ChunkIndex
		}
		return results[i].Chunk.DocumentID < results[j].Chunk.DocumentID
	})
	return results
}

// normalize min-max scales a leg's scores to [0,1]. A leg whose scores are
// all equal (including a single hit) normalizes to 1.0 so that its ordering
// survives the blend.
func normalize(hits []store.Hit) []float64 {
	if len(hits) == 0 {
		return nil
	}

	min, max := hits[0].Score, hits[0].Score
	for _, h := range hits[1:] {
		if h.Score < min {
			min = h.Score
		}
		if h.Score > max {
			max = h.Score
		}
	}

	norm := make([]float64, len(hits))
	if max == min {
		for i := range norm {
			norm[i] = 1.0
		}
		return norm
	}
	for i, h := range hits {
		norm[i] = (h.Score - min) / (max - min)
	}
	return norm
}
