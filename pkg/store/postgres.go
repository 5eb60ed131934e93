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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/pgvector/pgvector-go"
)

const defaultTable = "chunks"

// PostgresConfig configures the Postgres-backed store.
type PostgresConfig struct {
	// Table is the chunk table name (default: "chunks").
	Table string `yaml:"table,omitempty"`

	// Dimension is the embedding size. Must match the embedder.
	Dimension int `yaml:"dimension"`

	// TextSearchConfig is the full-text search configuration
	// (default: "english").
	TextSearchConfig string `yaml:"text_search_config,omitempty"`
}

// Postgres stores chunks in a PostgreSQL table with a pgvector embedding
// column and a full-text index.
type Postgres struct {
	db       *sql.DB
	table    string
	dim      int
	tsConfig string
	logger   *slog.Logger
}

// NewPostgres creates a Postgres store over an existing connection pool.
func NewPostgres(db *sql.DB, cfg PostgresConfig, logger *slog.Logger) (*Postgres, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", cfg.Dimension)
	}
	table := cfg.Table
	if table == "" {
		table = defaultTable
	}
	if !validIdentifier(table) {
		return nil, fmt.Errorf("invalid table name: %q", cfg.Table)
	}
	tsConfig := cfg.TextSearchConfig
	if tsConfig == "" {
		tsConfig = "english"
	}
	if !validIdentifier(tsConfig) {
		return nil, fmt.Errorf("invalid text search config: %q", cfg.TextSearchConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Postgres{
		db:       db,
		table:    table,
		dim:      cfg.Dimension,
		tsConfig: tsConfig,
		logger:   logger,
	}, nil
}

// EnsureSchema creates the pgvector extension, the chunk table and its
// indexes if they do not exist.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id          bigserial PRIMARY KEY,
			document_id text NOT NULL,
			chunk_index int NOT NULL,
			text_content text NOT NULL,
			source_uri  text,
			embedding   vector(%d),
			metadata    jsonb NOT NULL DEFAULT '{}'::jsonb,
			indexed_at  timestamptz NOT NULL DEFAULT now(),
			updated_at  timestamptz NOT NULL DEFAULT now(),
			UNIQUE (document_id, chunk_index)
		)`, s.table, s.dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx
			ON %s USING ivfflat (embedding vector_cosine_ops)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_fts_idx
			ON %s USING gin (to_tsvector('%s', text_content))`, s.table, s.table, s.tsConfig),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_metadata_idx
			ON %s USING gin (metadata)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_document_idx
			ON %s (document_id)`, s.table, s.table),
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return storageErr("ensure schema", err)
		}
	}

	s.logger.Debug("Schema ready", "table", s.table, "dimension", s.dim)
	return nil
}

// ReplaceDocument atomically swaps a document's chunks inside one
// transaction. An advisory lock keyed on the document id serializes
// concurrent writers of the same document without blocking others.
func (s *Postgres) ReplaceDocument(ctx context.Context, documentID string, chunks []Chunk) error {
	if documentID == "" {
		return storageErr("replace document", fmt.Errorf("document id is required"))
	}
	for i := range chunks {
		if len(chunks[i].Embedding) != s.dim {
			return storageErr("replace document",
				fmt.Errorf("chunk %d: embedding dimension %d, want %d", i, len(chunks[i].Embedding), s.dim))
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("replace document", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryKey(documentID)); err != nil {
		return storageErr("replace document", err)
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE document_id = $1`, s.table), documentID); err != nil {
		return storageErr("replace document", err)
	}

	if err := s.insertTx(ctx, tx, chunks); err != nil {
		return storageErr("replace document", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("replace document", err)
	}

	s.logger.Debug("Replaced document", "document_id", documentID, "chunks", len(chunks))
	return nil
}

// InsertChunks inserts chunks without removing existing rows. Any
// (document_id, chunk_index) collision rolls back the whole batch and
// returns ErrConflict.
func (s *Postgres) InsertChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("insert chunks", err)
	}
	defer tx.Rollback()

	if err := s.insertTx(ctx, tx, chunks); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return storageErr("insert chunks", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("insert chunks", err)
	}
	return nil
}

func (s *Postgres) insertTx(ctx context.Context, tx *sql.Tx, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (document_id, chunk_index, text_content, source_uri, embedding, metadata, indexed_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, s.table))
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range chunks {
		c := &chunks[i]
		meta, err := json.Marshal(metadataOrEmpty(c.Metadata))
		if err != nil {
			return fmt.Errorf("marshal metadata for chunk %d: %w", i, err)
		}
		indexedAt := c.IndexedAt
		if indexedAt.IsZero() {
			indexedAt = now
		}
		if _, err := stmt.ExecContext(ctx,
			c.DocumentID, c.ChunkIndex, c.TextContent, c.SourceURI,
			pgvector.NewVector(c.Embedding), meta, indexedAt, now); err != nil {
			return err
		}
	}
	return nil
}

// DeleteDocument removes every chunk of a document.
func (s *Postgres) DeleteDocument(ctx context.Context, documentID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE document_id = $1`, s.table), documentID)
	if err != nil {
		return 0, storageErr("delete document", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("delete document", err)
	}
	return n, nil
}

// DeleteByFilter removes every chunk the filter matches.
func (s *Postgres) DeleteByFilter(ctx context.Context, f Filter) (int64, error) {
	clause, args := buildFilterClause(f, 1)
	query := fmt.Sprintf(`DELETE FROM %s WHERE true%s`, s.table, clause)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, storageErr("delete by filter", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("delete by filter", err)
	}
	return n, nil
}

// CountByFilter returns how many chunks the filter matches.
func (s *Postgres) CountByFilter(ctx context.Context, f Filter) (int64, error) {
	clause, args := buildFilterClause(f, 1)
	query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE true%s`, s.table, clause)

	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, storageErr("count by filter", err)
	}
	return n, nil
}

// ListByFilter returns matching chunks with embeddings, ordered by
// document_id then chunk_index.
func (s *Postgres) ListByFilter(ctx context.Context, f Filter, limit, offset int) ([]Chunk, error) {
	clause, args := buildFilterClause(f, 1)
	next := len(args) + 1

	query := fmt.Sprintf(
		`SELECT id, document_id, chunk_index, text_content, source_uri, embedding, metadata, indexed_at, updated_at
		 FROM %s WHERE true%s
		 ORDER BY document_id, chunk_index`, s.table, clause)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", next)
		args = append(args, limit)
		next++
	}
	if offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", next)
		args = append(args, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list by filter", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, storageErr("list by filter", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list by filter", err)
	}
	return chunks, nil
}

// GetFingerprint returns the stored content fingerprint of a document.
// The fingerprint is carried in every chunk's metadata, so any row serves.
func (s *Postgres) GetFingerprint(ctx context.Context, documentID string) (string, error) {
	var fp sql.NullString
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT metadata->>'%s' FROM %s WHERE document_id = $1 LIMIT 1`,
		MetadataFingerprintKey, s.table), documentID).Scan(&fp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", storageErr("get fingerprint", err)
	}
	return fp.String, nil
}

// VectorSearch returns the k nearest chunks by cosine distance, scored as
// similarity (1 - distance).
func (s *Postgres) VectorSearch(ctx context.Context, embedding []float32, k int, f Filter) ([]Hit, error) {
	if len(embedding) != s.dim {
		return nil, storageErr("vector search",
			fmt.Errorf("query dimension %d, want %d", len(embedding), s.dim))
	}
	if k <= 0 {
		return nil, nil
	}

	clause, args := buildFilterClause(f, 2)
	args = append([]any{pgvector.NewVector(embedding)}, args...)
	limitIdx := len(args) + 1
	args = append(args, k)

	query := fmt.Sprintf(
		`SELECT id, document_id, chunk_index, text_content, source_uri, embedding, metadata, indexed_at, updated_at,
		        1 - (embedding <=> $1) AS score
		 FROM %s
		 WHERE embedding IS NOT NULL%s
		 ORDER BY embedding <=> $1
		 LIMIT $%d`, s.table, clause, limitIdx)

	return s.queryHits(ctx, "vector search", query, args)
}

// LexicalSearch returns the k best full-text matches ranked by ts_rank_cd.
// The tsquery argument must come from BuildTSQuery; an empty tsquery
// returns no hits.
func (s *Postgres) LexicalSearch(ctx context.Context, tsquery string, k int, f Filter) ([]Hit, error) {
	if strings.TrimSpace(tsquery) == "" || k <= 0 {
		return nil, nil
	}

	clause, args := buildFilterClause(f, 2)
	args = append([]any{tsquery}, args...)
	limitIdx := len(args) + 1
	args = append(args, k)

	query := fmt.Sprintf(
		`SELECT id, document_id, chunk_index, text_content, source_uri, embedding, metadata, indexed_at, updated_at,
		        ts_rank_cd(to_tsvector('%s', text_content), to_tsquery('%s', $1)) AS score
		 FROM %s
		 WHERE to_tsvector('%s', text_content) @@ to_tsquery('%s', $1)%s
		 ORDER BY score DESC
		 LIMIT $%d`, s.tsConfig, s.tsConfig, s.table, s.tsConfig, s.tsConfig, clause, limitIdx)

	return s.queryHits(ctx, "lexical search", query, args)
}

func (s *Postgres) queryHits(ctx context.Context, op, query string, args []any) ([]Hit, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			c         Chunk
			srcURI    sql.NullString
			vec       pgvector.Vector
			metaRaw   []byte
			score     float64
			indexedAt time.Time
			updatedAt time.Time
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.TextContent,
			&srcURI, &vec, &metaRaw, &indexedAt, &updatedAt, &score); err != nil {
			return nil, storageErr(op, err)
		}
		c.SourceURI = srcURI.String
		c.Embedding = vec.Slice()
		c.IndexedAt = indexedAt
		c.UpdatedAt = updatedAt
		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &c.Metadata); err != nil {
				return nil, storageErr(op, fmt.Errorf("unmarshal metadata: %w", err))
			}
		}
		hits = append(hits, Hit{Chunk: c, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return hits, nil
}

// Close is a no-op; the connection pool is owned by DBPool.
func (s *Postgres) Close() error {
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (Chunk, error) {
	var (
		c       Chunk
		srcURI  sql.NullString
		vec     pgvector.Vector
		metaRaw []byte
	)
	if err := row.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.TextContent,
		&srcURI, &vec, &metaRaw, &c.IndexedAt, &c.UpdatedAt); err != nil {
		return Chunk{}, err
	}
	c.SourceURI = srcURI.String
	c.Embedding = vec.Slice()
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &c.Metadata); err != nil {
			return Chunk{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return c, nil
}

func metadataOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// advisoryKey maps a document id to the int64 key space of
// pg_advisory_xact_lock.
func advisoryKey(documentID string) int64 {
	return int64(xxhash.Sum64String(documentID))
}

func validIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
