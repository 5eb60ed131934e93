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
	"errors"
	"testing"
)

func seedChunks(docID string, texts ...string) []Chunk {
	chunks := make([]Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = Chunk{
			DocumentID:  docID,
			ChunkIndex:  i,
			TextContent: text,
			SourceURI:   docID + ".txt",
			Embedding:   []float32{float32(i + 1), 1},
			Metadata: map[string]string{
				MetadataFingerprintKey: "fp-" + docID,
			},
		}
	}
	return chunks
}

func TestMemoryReplaceDocument(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.ReplaceDocument(ctx, "doc-1", seedChunks("doc-1", "one", "two", "three")); err != nil {
		t.Fatalf("ReplaceDocument failed: %v", err)
	}
	if err := m.ReplaceDocument(ctx, "doc-1", seedChunks("doc-1", "only")); err != nil {
		t.Fatalf("ReplaceDocument failed: %v", err)
	}

	n, err := m.CountByFilter(ctx, Filter{DocumentID: "doc-1"})
	if err != nil {
		t.Fatalf("CountByFilter failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 chunk after replace, got %d", n)
	}
}

func TestMemoryInsertConflict(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.InsertChunks(ctx, seedChunks("doc-1", "one")); err != nil {
		t.Fatalf("InsertChunks failed: %v", err)
	}
	err := m.InsertChunks(ctx, seedChunks("doc-1", "again"))
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestMemoryDeleteAndFingerprint(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.ReplaceDocument(ctx, "doc-1", seedChunks("doc-1", "one", "two")); err != nil {
		t.Fatalf("ReplaceDocument failed: %v", err)
	}

	fp, err := m.GetFingerprint(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetFingerprint failed: %v", err)
	}
	if fp != "fp-doc-1" {
		t.Errorf("expected fp-doc-1, got %q", fp)
	}

	removed, err := m.DeleteDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("DeleteDocument failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 rows removed, got %d", removed)
	}

	fp, err = m.GetFingerprint(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetFingerprint failed: %v", err)
	}
	if fp != "" {
		t.Errorf("expected empty fingerprint after delete, got %q", fp)
	}
}

func TestMemoryListOrderingAndPaging(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.ReplaceDocument(ctx, "doc-b", seedChunks("doc-b", "b0", "b1")); err != nil {
		t.Fatal(err)
	}
	if err := m.ReplaceDocument(ctx, "doc-a", seedChunks("doc-a", "a0")); err != nil {
		t.Fatal(err)
	}

	all, err := m.ListByFilter(ctx, Filter{}, 0, 0)
	if err != nil {
		t.Fatalf("ListByFilter failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(all))
	}
	if all[0].DocumentID != "doc-a" || all[1].DocumentID != "doc-b" || all[1].ChunkIndex != 0 {
		t.Errorf("unexpected ordering: %v %v %v",
			all[0].DocumentID, all[1].DocumentID, all[2].DocumentID)
	}

	page, err := m.ListByFilter(ctx, Filter{}, 1, 1)
	if err != nil {
		t.Fatalf("ListByFilter failed: %v", err)
	}
	if len(page) != 1 || page[0].DocumentID != "doc-b" || page[0].ChunkIndex != 0 {
		t.Errorf("unexpected page: %+v", page)
	}
}

func TestMemoryVectorSearch(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	chunks := []Chunk{
		{DocumentID: "doc-1", ChunkIndex: 0, TextContent: "north", Embedding: []float32{0, 1}},
		{DocumentID: "doc-1", ChunkIndex: 1, TextContent: "east", Embedding: []float32{1, 0}},
		{DocumentID: "doc-1", ChunkIndex: 2, TextContent: "northeast", Embedding: []float32{1, 1}},
	}
	if err := m.ReplaceDocument(ctx, "doc-1", chunks); err != nil {
		t.Fatal(err)
	}

	hits, err := m.VectorSearch(ctx, []float32{0, 1}, 2, Filter{})
	if err != nil {
		t.Fatalf("VectorSearch failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].TextContent != "north" {
		t.Errorf("expected exact direction first, got %q", hits[0].TextContent)
	}
	if hits[0].Score <= hits[1].Score {
		t.Errorf("expected descending scores: %f %f", hits[0].Score, hits[1].Score)
	}
}

func TestMemoryLexicalSearch(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	chunks := []Chunk{
		{DocumentID: "doc-1", ChunkIndex: 0, TextContent: "the red car drove fast", Embedding: []float32{1, 0}},
		{DocumentID: "doc-1", ChunkIndex: 1, TextContent: "a blue bike", Embedding: []float32{0, 1}},
		{DocumentID: "doc-1", ChunkIndex: 2, TextContent: "red red red wine", Embedding: []float32{1, 1}},
	}
	if err := m.ReplaceDocument(ctx, "doc-1", chunks); err != nil {
		t.Fatal(err)
	}

	hits, err := m.LexicalSearch(ctx, BuildTSQuery(nil, []string{"red"}), 10, Filter{})
	if err != nil {
		t.Fatalf("LexicalSearch failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ChunkIndex != 2 {
		t.Errorf("expected highest term frequency first, got chunk %d", hits[0].ChunkIndex)
	}
}

func TestMemoryLexicalPhraseAdjacency(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	chunks := []Chunk{
		{DocumentID: "doc-1", ChunkIndex: 0, TextContent: "machine learning in practice", Embedding: []float32{1, 0}},
		{DocumentID: "doc-1", ChunkIndex: 1, TextContent: "learning machine operators", Embedding: []float32{0, 1}},
	}
	if err := m.ReplaceDocument(ctx, "doc-1", chunks); err != nil {
		t.Fatal(err)
	}

	hits, err := m.LexicalSearch(ctx, BuildTSQuery([]string{"machine learning"}, nil), 10, Filter{})
	if err != nil {
		t.Fatalf("LexicalSearch failed: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected only the adjacent match, got %d hits", len(hits))
	}
	if hits[0].ChunkIndex != 0 {
		t.Errorf("expected chunk 0, got %d", hits[0].ChunkIndex)
	}
}

func TestMemoryFilteredSearch(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	a := seedChunks("doc-a", "shared words here")
	a[0].Metadata[MetadataDocumentTypeKey] = "markdown"
	b := seedChunks("doc-b", "shared words there")
	b[0].Metadata[MetadataDocumentTypeKey] = "pdf"
	if err := m.InsertChunks(ctx, append(a, b...)); err != nil {
		t.Fatal(err)
	}

	hits, err := m.LexicalSearch(ctx, "shared", 10, Filter{DocumentType: "pdf"})
	if err != nil {
		t.Fatalf("LexicalSearch failed: %v", err)
	}
	if len(hits) != 1 || hits[0].DocumentID != "doc-b" {
		t.Errorf("filter not applied: %+v", hits)
	}
}
