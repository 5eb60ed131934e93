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

// Package store persists document chunks and serves the vector and lexical
// search legs over PostgreSQL with the pgvector extension.
package store

import (
	"context"
	"time"
)

// MetadataFingerprintKey is the metadata key holding the document's content
// fingerprint. Every chunk of a document carries the same value.
const MetadataFingerprintKey = "fingerprint"

// MetadataDocumentTypeKey is the metadata key holding the document type.
const MetadataDocumentTypeKey = "document_type"

// Chunk is one stored piece of a document.
type Chunk struct {
	// ID is the storage row id. Zero for chunks not yet written.
	ID int64 `json:"id,omitempty"`

	// DocumentID groups all chunks of one source document.
	DocumentID string `json:"document_id"`

	// ChunkIndex is the chunk's position within its document, starting at 0.
	ChunkIndex int `json:"chunk_index"`

	// TextContent is the chunk's text.
	TextContent string `json:"text_content"`

	// SourceURI is the locator the document was loaded from.
	SourceURI string `json:"source_uri,omitempty"`

	// Embedding is the chunk's vector. May be nil for rows listed without
	// embeddings.
	Embedding []float32 `json:"embedding,omitempty"`

	// Metadata holds arbitrary key-value pairs, including the document
	// fingerprint and type.
	Metadata map[string]string `json:"metadata,omitempty"`

	IndexedAt time.Time `json:"indexed_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Hit is a chunk returned by a search leg with its raw leg score.
// Vector scores are cosine similarity (1 - distance); lexical scores are
// ts_rank_cd values. Scores from different legs are not comparable until
// normalized.
type Hit struct {
	Chunk
	Score float64 `json:"score"`
}

// Filter narrows stored chunks by document attributes. All set fields are
// ANDed together; the zero Filter matches everything.
type Filter struct {
	// DocumentID matches chunks of a single document.
	DocumentID string

	// DocumentType matches the document_type metadata value exactly.
	DocumentType string

	// SourceURIPattern is a SQL LIKE pattern over source_uri
	// (e.g. "docs/%" or "%.md").
	SourceURIPattern string

	// Metadata matches each key to an exact metadata value.
	Metadata map[string]string
}

// IsZero reports whether the filter matches everything.
func (f Filter) IsZero() bool {
	return f.DocumentID == "" && f.DocumentType == "" &&
		f.SourceURIPattern == "" && len(f.Metadata) == 0
}

// Matches reports whether a chunk satisfies the filter. This is the
// in-process equivalent of the SQL the filter compiles to.
func (f Filter) Matches(c Chunk) bool {
	if f.DocumentID != "" && c.DocumentID != f.DocumentID {
		return false
	}
	if f.DocumentType != "" && c.Metadata[MetadataDocumentTypeKey] != f.DocumentType {
		return false
	}
	if f.SourceURIPattern != "" && !likeMatch(f.SourceURIPattern, c.SourceURI) {
		return false
	}
	for k, v := range f.Metadata {
		if c.Metadata[k] != v {
			return false
		}
	}
	return true
}

// Store is the persistence contract used by the ingestion pipeline, the
// hybrid searcher and the bulk manager.
type Store interface {
	// ReplaceDocument atomically swaps a document's chunks: prior rows are
	// deleted and the new set inserted in one transaction. Concurrent
	// replacements of the same document serialize.
	ReplaceDocument(ctx context.Context, documentID string, chunks []Chunk) error

	// InsertChunks inserts chunks without deleting anything first. A chunk
	// whose (document_id, chunk_index) already exists fails the whole call
	// with a conflict error.
	InsertChunks(ctx context.Context, chunks []Chunk) error

	// DeleteDocument removes every chunk of a document and returns the
	// number of rows removed.
	DeleteDocument(ctx context.Context, documentID string) (int64, error)

	// DeleteByFilter removes every chunk the filter matches.
	DeleteByFilter(ctx context.Context, f Filter) (int64, error)

	// CountByFilter returns how many chunks the filter matches.
	CountByFilter(ctx context.Context, f Filter) (int64, error)

	// ListByFilter returns matching chunks ordered by document_id then
	// chunk_index. Embeddings are included so listed chunks can be
	// re-inserted verbatim.
	ListByFilter(ctx context.Context, f Filter, limit, offset int) ([]Chunk, error)

	// GetFingerprint returns the stored fingerprint for a document, or
	// ("", nil) when the document is not indexed.
	GetFingerprint(ctx context.Context, documentID string) (string, error)

	// VectorSearch returns the k nearest chunks by cosine distance.
	VectorSearch(ctx context.Context, embedding []float32, k int, f Filter) ([]Hit, error)

	// LexicalSearch returns the k best full-text matches for a tsquery
	// built with BuildTSQuery.
	LexicalSearch(ctx context.Context, tsquery string, k int, f Filter) ([]Hit, error)

	// Close releases the underlying connections.
	Close() error
}
