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

package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/corpus/pkg/store"
)

const (
	// listPageSize bounds a single ListByFilter call during scans.
	listPageSize = 500

	// defaultSampleSize is the number of document summaries Preview returns.
	defaultSampleSize = 10

	// summarySnippetLen truncates chunk text in preview summaries.
	summarySnippetLen = 120
)

// ConflictError reports documents whose restore collided with live data.
// Fail-closed: none of the conflicting documents were touched.
type ConflictError struct {
	DocumentIDs []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("restore conflicts with live data for %d document(s): %s",
		len(e.DocumentIDs), strings.Join(e.DocumentIDs, ", "))
}

// DocumentSummary identifies one matched document in a preview.
type DocumentSummary struct {
	DocumentID string `json:"document_id"`
	SourceURI  string `json:"source_uri,omitempty"`
	ChunkCount int    `json:"chunk_count"`
	Snippet    string `json:"snippet,omitempty"`
}

// PreviewResult reports what a filter would affect, without mutating
// anything.
type PreviewResult struct {
	MatchedDocuments int               `json:"matched_documents"`
	MatchedChunks    int64             `json:"matched_chunks"`
	Sample           []DocumentSummary `json:"sample,omitempty"`
}

// RestoreResult reports a restore outcome.
type RestoreResult struct {
	RestoredDocuments int      `json:"restored_documents"`
	RestoredChunks    int      `json:"restored_chunks"`
	SkippedDocuments  int      `json:"skipped_documents"`
	Conflicts         []string `json:"conflicts,omitempty"`
}

// Manager runs filtered bulk operations against the store.
type Manager struct {
	store  store.Store
	logger *slog.Logger
}

// NewManager creates a bulk manager.
func NewManager(st store.Store, logger *slog.Logger) (*Manager, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: st, logger: logger}, nil
}

// Preview reports the filter's reach: matched document and chunk counts
// plus identifying summaries for the first few documents.
func (m *Manager) Preview(ctx context.Context, f store.Filter) (*PreviewResult, error) {
	chunkCount, err := m.store.CountByFilter(ctx, f)
	if err != nil {
		return nil, err
	}

	result := &PreviewResult{MatchedChunks: chunkCount}

	summaries := make(map[string]*DocumentSummary)
	var order []string
	err = m.scan(ctx, f, func(c store.Chunk) {
		s, ok := summaries[c.DocumentID]
		if !ok {
			s = &DocumentSummary{
				DocumentID: c.DocumentID,
				SourceURI:  c.SourceURI,
				Snippet:    snippet(c.TextContent),
			}
			summaries[c.DocumentID] = s
			order = append(order, c.DocumentID)
		}
		s.ChunkCount++
	})
	if err != nil {
		return nil, err
	}

	result.MatchedDocuments = len(order)
	for i, id := range order {
		if i >= defaultSampleSize {
			break
		}
		result.Sample = append(result.Sample, *summaries[id])
	}
	return result, nil
}

// Export serializes every matching chunk, embeddings included, into a
// backup record. The store is not mutated.
func (m *Manager) Export(ctx context.Context, f store.Filter) (*BackupRecord, error) {
	var chunks []store.Chunk
	err := m.scan(ctx, f, func(c store.Chunk) {
		chunks = append(chunks, c)
	})
	if err != nil {
		return nil, err
	}

	record := NewBackupRecord(chunks)
	m.logger.Info("Exported chunks",
		"backup_id", record.ID,
		"chunks", len(chunks),
		"documents", len(record.DocumentIDs()))
	return record, nil
}

// Delete removes every matching chunk and returns the count.
func (m *Manager) Delete(ctx context.Context, f store.Filter) (int64, error) {
	deleted, err := m.store.DeleteByFilter(ctx, f)
	if err != nil {
		return 0, err
	}
	m.logger.Info("Bulk delete complete", "chunks_deleted", deleted)
	return deleted, nil
}

// DeleteWithExport exports the matching chunks and then deletes them,
// returning the backup record alongside the deleted count. The record is
// produced before any row is removed.
func (m *Manager) DeleteWithExport(ctx context.Context, f store.Filter) (*BackupRecord, int64, error) {
	record, err := m.Export(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	deleted, err := m.Delete(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	return record, deleted, nil
}

// Restore re-inserts a backup's chunks document by document. A document
// whose id is live with different content is recorded as a conflict and
// left untouched; a document already present with identical content is
// skipped. Restore never overwrites newer data.
func (m *Manager) Restore(ctx context.Context, record *BackupRecord) (*RestoreResult, error) {
	if record == nil || len(record.Chunks) == 0 {
		return &RestoreResult{}, nil
	}

	byDoc := make(map[string][]store.Chunk)
	for _, c := range record.Chunks {
		// Row ids belong to the old rows; new rows get fresh ids.
		c.ID = 0
		byDoc[c.DocumentID] = append(byDoc[c.DocumentID], c)
	}

	result := &RestoreResult{}
	for _, docID := range record.DocumentIDs() {
		chunks := byDoc[docID]

		disposition, err := m.classifyRestore(ctx, docID, chunks)
		if err != nil {
			return nil, err
		}
		switch disposition {
		case restoreConflict:
			result.Conflicts = append(result.Conflicts, docID)
			continue
		case restoreSkip:
			result.SkippedDocuments++
			continue
		}

		if err := m.store.InsertChunks(ctx, chunks); err != nil {
			if errors.Is(err, store.ErrConflict) {
				// Raced with a concurrent writer; fail closed.
				result.Conflicts = append(result.Conflicts, docID)
				continue
			}
			return nil, err
		}
		result.RestoredDocuments++
		result.RestoredChunks += len(chunks)
	}

	m.logger.Info("Restore complete",
		"backup_id", record.ID,
		"restored_documents", result.RestoredDocuments,
		"restored_chunks", result.RestoredChunks,
		"skipped", result.SkippedDocuments,
		"conflicts", len(result.Conflicts))

	if len(result.Conflicts) > 0 {
		return result, &ConflictError{DocumentIDs: result.Conflicts}
	}
	return result, nil
}

type restoreDisposition int

const (
	restoreProceed restoreDisposition = iota
	restoreSkip
	restoreConflict
)

// classifyRestore decides what to do with one document: insert into the
// empty slot, skip an identical live copy, or reject a divergent one.
func (m *Manager) classifyRestore(ctx context.Context, docID string, chunks []store.Chunk) (restoreDisposition, error) {
	live, err := m.store.ListByFilter(ctx, store.Filter{DocumentID: docID}, 0, 0)
	if err != nil {
		return restoreConflict, err
	}
	if len(live) == 0 {
		return restoreProceed, nil
	}
	if sameDocument(live, chunks) {
		return restoreSkip, nil
	}
	return restoreConflict, nil
}

// sameDocument compares a live chunk set to a backup's by fingerprint,
// count and text.
func sameDocument(live, backup []store.Chunk) bool {
	if len(live) != len(backup) {
		return false
	}
	liveByIndex := make(map[int]store.Chunk, len(live))
	for _, c := range live {
		liveByIndex[c.ChunkIndex] = c
	}
	for _, b := range backup {
		l, ok := liveByIndex[b.ChunkIndex]
		if !ok {
			return false
		}
		if l.TextContent != b.TextContent {
			return false
		}
		if l.Metadata[store.MetadataFingerprintKey] != b.Metadata[store.MetadataFingerprintKey] {
			return false
		}
	}
	return true
}

// scan pages through every chunk the filter matches.
func (m *Manager) scan(ctx context.Context, f store.Filter, fn func(store.Chunk)) error {
	offset := 0
	for {
		page, err := m.store.ListByFilter(ctx, f, listPageSize, offset)
		if err != nil {
			return err
		}
		for _, c := range page {
			fn(c)
		}
		if len(page) < listPageSize {
			return nil
		}
		offset += len(page)
	}
}

func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= summarySnippetLen {
		return text
	}
	return string(runes[:summarySnippetLen]) + "…"
}
