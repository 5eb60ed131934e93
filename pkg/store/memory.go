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

package store

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Store. It mirrors the Postgres semantics closely
// enough for development and tests: cosine similarity for the vector leg,
// term-frequency ranking for the lexical leg, and the same conflict and
// replace behavior.
type Memory struct {
	mu     sync.RWMutex
	chunks []Chunk
	nextID int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{nextID: 1}
}

func (m *Memory) ReplaceDocument(ctx context.Context, documentID string, chunks []Chunk) error {
	if documentID == "" {
		return storageErr("replace document", fmt.Errorf("document id is required"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.chunks[:0]
	for _, c := range m.chunks {
		if c.DocumentID != documentID {
			kept = append(kept, c)
		}
	}
	m.chunks = kept
	m.appendLocked(chunks)
	return nil
}

func (m *Memory) InsertChunks(ctx context.Context, chunks []Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := make(map[string]bool, len(m.chunks))
	for _, c := range m.chunks {
		existing[chunkKey(c)] = true
	}
	for _, c := range chunks {
		if existing[chunkKey(c)] {
			return fmt.Errorf("%w: document %s chunk %d", ErrConflict, c.DocumentID, c.ChunkIndex)
		}
		existing[chunkKey(c)] = true
	}

	m.appendLocked(chunks)
	return nil
}

func (m *Memory) appendLocked(chunks []Chunk) {
	for _, c := range chunks {
		c.ID = m.nextID
		m.nextID++
		// Copy to detach from caller-owned maps and slices.
		if c.Metadata != nil {
			meta := make(map[string]string, len(c.Metadata))
			for k, v := range c.Metadata {
				meta[k] = v
			}
			c.Metadata = meta
		}
		c.Embedding = append([]float32(nil), c.Embedding...)
		m.chunks = append(m.chunks, c)
	}
}

func (m *Memory) DeleteDocument(ctx context.Context, documentID string) (int64, error) {
	return m.DeleteByFilter(ctx, Filter{DocumentID: documentID})
}

func (m *Memory) DeleteByFilter(ctx context.Context, f Filter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	kept := m.chunks[:0]
	for _, c := range m.chunks {
		if f.Matches(c) {
			removed++
		} else {
			kept = append(kept, c)
		}
	}
	m.chunks = kept
	return removed, nil
}

func (m *Memory) CountByFilter(ctx context.Context, f Filter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, c := range m.chunks {
		if f.Matches(c) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListByFilter(ctx context.Context, f Filter, limit, offset int) ([]Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []Chunk
	for _, c := range m.chunks {
		if f.Matches(c) {
			matched = append(matched, c)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].DocumentID != matched[j].DocumentID {
			return matched[i].DocumentID < matched[j].DocumentID
		}
		return matched[i].ChunkIndex < matched[j].ChunkIndex
	})

	if offset > 0 {
		if offset >= len(matched) {
			return nil, nil
		}
		matched = matched[offset:]
	}
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *Memory) GetFingerprint(ctx context.Context, documentID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.chunks {
		if c.DocumentID == documentID {
			return c.Metadata[MetadataFingerprintKey], nil
		}
	}
	return "", nil
}

func (m *Memory) VectorSearch(ctx context.Context, embedding []float32, k int, f Filter) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []Hit
	for _, c := range m.chunks {
		if len(c.Embedding) == 0 || !f.Matches(c) {
			continue
		}
		sim, err := cosineSimilarity(embedding, c.Embedding)
		if err != nil {
			return nil, storageErr("vector search", err)
		}
		hits = append(hits, Hit{Chunk: c, Score: sim})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

var memoryWordPattern = regexp.MustCompile(`[\pL\pN_]+`)

// LexicalSearch evaluates a BuildTSQuery expression against stored chunks:
// top-level groups are ANDed, | groups need one word present, and <->
// groups need the words adjacent, mirroring to_tsquery semantics without
// stemming. The score is the total frequency of matched query words.
func (m *Memory) LexicalSearch(ctx context.Context, tsquery string, k int, f Filter) ([]Hit, error) {
	groups := parseTSGroups(tsquery)
	if len(groups) == 0 || k <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []Hit
	for _, c := range m.chunks {
		if !f.Matches(c) {
			continue
		}
		tokens := memoryWordPattern.FindAllString(strings.ToLower(c.TextContent), -1)
		score, ok := scoreTSGroups(groups, tokens)
		if ok {
			hits = append(hits, Hit{Chunk: c, Score: score})
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

type tsGroup struct {
	words    []string
	adjacent bool
}

func parseTSGroups(tsquery string) []tsGroup {
	var groups []tsGroup
	for _, part := range strings.Split(tsquery, " & ") {
		part = strings.TrimSpace(strings.Trim(strings.TrimSpace(part), "()"))
		if part == "" {
			continue
		}
		adjacent := strings.Contains(part, "<->")
		words := memoryWordPattern.FindAllString(strings.ToLower(part), -1)
		if len(words) == 0 {
			continue
		}
		groups = append(groups, tsGroup{words: words, adjacent: adjacent})
	}
	return groups
}

// scoreTSGroups returns the total matched-word frequency and whether every
// group is satisfied.
func scoreTSGroups(groups []tsGroup, tokens []string) (float64, bool) {
	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}

	var score float64
	for _, g := range groups {
		if g.adjacent {
			if !hasAdjacent(tokens, g.words) {
				return 0, false
			}
			for _, w := range g.words {
				score += float64(counts[w])
			}
			continue
		}
		matched := false
		for _, w := range g.words {
			if counts[w] > 0 {
				matched = true
				score += float64(counts[w])
			}
		}
		if !matched {
			return 0, false
		}
	}
	return score, true
}

func hasAdjacent(tokens, want []string) bool {
outer:
	for i := 0; i+len(want) <= len(tokens); i++ {
		for j, w := range want {
			if tokens[i+j] != w {
				continue outer
			}
		}
		return true
	}
	return false
}

func (m *Memory) Close() error {
	return nil
}

func chunkKey(c Chunk) string {
	return fmt.Sprintf("%s/%d", c.DocumentID, c.ChunkIndex)
}

func cosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d vs %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}
