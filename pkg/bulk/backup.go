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

// Package bulk applies filtered preview, export, delete and restore
// operations across stored chunks. Export produces the recovery artifact
// that makes bulk delete reversible.
package bulk

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/corpus/pkg/store"
)

// BackupRecord is a portable snapshot of chunks. It carries full rows,
// embeddings included, so a restore reconstructs byte-identical data.
type BackupRecord struct {
	// ID identifies this backup.
	ID string `json:"id"`

	// CreatedAt is the export time.
	CreatedAt time.Time `json:"created_at"`

	// Chunks are the exported rows in document_id, chunk_index order.
	Chunks []store.Chunk `json:"chunks"`
}

// NewBackupRecord wraps chunks in a record with a fresh id.
func NewBackupRecord(chunks []store.Chunk) *BackupRecord {
	return &BackupRecord{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Chunks:    chunks,
	}
}

// DocumentIDs returns the distinct document ids in the record, in first-seen
// order.
func (r *BackupRecord) DocumentIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, c := range r.Chunks {
		if !seen[c.DocumentID] {
			seen[c.DocumentID] = true
			ids = append(ids, c.DocumentID)
		}
	}
	return ids
}

// WriteFile serializes the record as JSON to path.
func (r *BackupRecord) WriteFile(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal backup: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write backup file: %w", err)
	}
	return nil
}

// ReadBackupFile loads a record written by WriteFile.
func ReadBackupFile(path string) (*BackupRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read backup file: %w", err)
	}
	var record BackupRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("parse backup file: %w", err)
	}
	return &record, nil
}
