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
	"testing"

	"github.com/kadirpekel/corpus/pkg/store"
)

// fixedEmbedder returns a preset vector for every input.
type fixedEmbedder struct {
	vec []float32
}

func (f *fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, nil
}

func (f *fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func (f *fixedEmbedder) Dimension() int { return len(f.vec) }
func (f *fixedEmbedder) Model() string  { return "fixed" }
func (f *fixedEmbedder) Close() error   { return nil }

func seedStore(t *testing.T, chunks []store.Chunk) *store.Memory {
	t.Helper()
	m := store.NewMemory()
	if err := m.InsertChunks(context.Background(), chunks); err != nil {
		t.Fatalf("seeding store failed: %v", err)
	}
	return m
}

func newSearcher(t *testing.T, st store.Store, queryVec []float32) *Searcher {
	t.Helper()
	s, err := NewSearcher(st, &fixedEmbedder{vec: queryVec}, Config{}, nil, nil)
	if err != nil {
		t.Fatalf("NewSearcher failed: %v", err)
	}
	return s
}

func TestSearchAlphaOneMatchesVectorOrder(t *testing.T) {
	st := seedStore(t, []store.Chunk{
		{DocumentID: "d", ChunkIndex: 0, TextContent: "apple", Embedding: []float32{1, 0}},
		{DocumentID: "d", ChunkIndex: 1, TextContent: "apple apple", Embedding: []float32{0.9, 0.4}},
		{DocumentID: "d", ChunkIndex: 2, TextContent: "apple apple apple", Embedding: []float32{0, 1}},
	})
	s := newSearcher(t, st, []float32{1, 0})

	results, err := s.Search(context.Background(), "apple", Options{TopK: 3, Alpha: 1})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	wantOrder := []int{0, 1, 2}
	for i, want := range wantOrder {
		if results[i].Chunk.ChunkIndex != want {
			t.Errorf("position %d: got chunk %d, want %d", i, results[i].Chunk.ChunkIndex, want)
		}
	}
}

func TestSearchAlphaZeroMatchesLexicalOrder(t *testing.T) {
	st := seedStore(t, []store.Chunk{
		{DocumentID: "d", ChunkIndex: 0, TextContent: "apple", Embedding: []float32{1, 0}},
		{DocumentID: "d", ChunkIndex: 1, TextContent: "apple apple", Embedding: []float32{0.9, 0.4}},
		{DocumentID: "d", ChunkIndex: 2, TextContent: "apple apple apple", Embedding: []float32{0, 1}},
	})
	s := newSearcher(t, st, []float32{1, 0})

	results, err := s.Search(context.Background(), "apple", Options{TopK: 3, Alpha: 0})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	wantOrder := []int{2, 1, 0}
	for i, want := range wantOrder {
		if results[i].Chunk.ChunkIndex != want {
			t.Errorf("position %d: got chunk %d, want %d", i, results[i].Chunk.ChunkIndex, want)
		}
	}
}

func TestSearchQuotedPhraseBoost(t *testing.T) {
	// The reversed-phrase chunk is far more vector-similar, but only the
	// exact-phrase chunk passes the lexical leg and earns the boost.
	st := seedStore(t, []store.Chunk{
		{DocumentID: "d", ChunkIndex: 0, TextContent: "intro to machine learning today", Embedding: []float32{0, 1}},
		{DocumentID: "d", ChunkIndex: 1, TextContent: "the learning machine buzzed", Embedding: []float32{1, 0}},
	})
	s := newSearcher(t, st, []float32{1, 0})

	results, err := s.Search(context.Background(), `"machine learning"`, Options{TopK: 5, Alpha: 0.5})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	if results[0].Chunk.ChunkIndex != 0 {
		t.Errorf("expected exact-phrase chunk first, got chunk %d", results[0].Chunk.ChunkIndex)
	}
	if len(results) > 1 && results[0].Score <= results[1].Score {
		t.Errorf("boosted score %f should exceed %f", results[0].Score, results[1].Score)
	}
}

func TestSearchMinScoreFiltersOutput(t *testing.T) {
	st := seedStore(t, []store.Chunk{
		{DocumentID: "d", ChunkIndex: 0, TextContent: "alpha term", Embedding: []float32{1, 0}},
		{DocumentID: "d", ChunkIndex: 1, TextContent: "alpha term", Embedding: []float32{0, 1}},
	})
	s := newSearcher(t, st, []float32{1, 0})

	all, err := s.Search(context.Background(), "alpha", Options{TopK: 5, Alpha: 1})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	cut, err := s.Search(context.Background(), "alpha", Options{TopK: 5, Alpha: 1, MinScore: 0.5})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(cut) >= len(all) {
		t.Errorf("expected min_score to drop results: %d vs %d", len(cut), len(all))
	}
	for _, r := range cut {
		if r.Score < 0.5 {
			t.Errorf("result below threshold survived: %f", r.Score)
		}
	}
}

func TestSearchTopKLimit(t *testing.T) {
	var chunks []store.Chunk
	for i := 0; i < 8; i++ {
		chunks = append(chunks, store.Chunk{
			DocumentID:  "d",
			ChunkIndex:  i,
			TextContent: "common text",
			Embedding:   []float32{1, float32(i) / 10},
		})
	}
	st := seedStore(t, chunks)
	s := newSearcher(t, st, []float32{1, 0})

	results, err := s.Search(context.Background(), "common", Options{TopK: 3, Alpha: 0.5})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("expected 3 results, got %d", len(results))
	}
}

func TestSearchTieBreakByChunkIndex(t *testing.T) {
	// Identical text and embeddings force equal scores.
	st := seedStore(t, []store.Chunk{
		{DocumentID: "d", ChunkIndex: 3, TextContent: "same text", Embedding: []float32{1, 0}},
		{DocumentID: "d", ChunkIndex: 1, TextContent: "same text", Embedding: []float32{1, 0}},
		{DocumentID: "d", ChunkIndex: 2, TextContent: "same text", Embedding: []float32{1, 0}},
	})
	s := newSearcher(t, st, []float32{1, 0})

	results, err := s.Search(context.Background(), "same", Options{TopK: 3, Alpha: 0.5})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, want := range []int{1, 2, 3} {
		if results[i].Chunk.ChunkIndex != want {
			t.Errorf("position %d: got chunk %d, want %d", i, results[i].Chunk.ChunkIndex, want)
		}
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	s := newSearcher(t, store.NewMemory(), []float32{1, 0})
	if _, err := s.Search(context.Background(), "  ", Options{Alpha: -1}); err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestSearchInvalidAlpha(t *testing.T) {
	s := newSearcher(t, store.NewMemory(), []float32{1, 0})
	if _, err := s.Search(context.Background(), "q", Options{Alpha: 1.5}); err == nil {
		t.Fatal("expected error for out-of-range alpha")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Alpha: 2}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for alpha > 1")
	}
	cfg = Config{Alpha: 0.5, ExactMatchBoost: -1}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for negative boost")
	}
}
