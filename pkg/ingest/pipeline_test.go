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

package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kadirpekel/corpus/pkg/chunker"
	"github.com/kadirpekel/corpus/pkg/loader"
	"github.com/kadirpekel/corpus/pkg/store"
)

type countingEmbedder struct {
	batches int
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1}, nil
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.batches++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (e *countingEmbedder) Dimension() int { return 2 }
func (e *countingEmbedder) Model() string  { return "counting" }
func (e *countingEmbedder) Close() error   { return nil }

func newTestPipeline(t *testing.T) (*Pipeline, *store.Memory, *countingEmbedder) {
	t.Helper()

	splitter, err := chunker.New(chunker.Config{Size: 40, Overlap: 10})
	if err != nil {
		t.Fatalf("chunker.New failed: %v", err)
	}
	emb := &countingEmbedder{}
	mem := store.NewMemory()

	p, err := NewPipeline(loader.NewRegistry(), splitter, emb, mem, PipelineConfig{Workers: 2}, nil, nil)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	return p, mem, emb
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s failed: %v", name, err)
	}
	return path
}

func TestIngestIndexesDocument(t *testing.T) {
	p, mem, _ := newTestPipeline(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "doc.txt", "The quick brown fox jumps over the lazy dog, repeatedly and with enthusiasm.")

	res := p.Ingest(context.Background(), path, Options{})
	if res.Status != StatusIndexed {
		t.Fatalf("expected indexed, got %s (err: %v)", res.Status, res.Err)
	}
	if res.ChunksWritten == 0 {
		t.Error("expected chunks to be written")
	}
	if res.DocumentID != DocumentID(path) {
		t.Errorf("unexpected document id %q", res.DocumentID)
	}

	n, err := mem.CountByFilter(context.Background(), store.Filter{DocumentID: res.DocumentID})
	if err != nil {
		t.Fatal(err)
	}
	if int(n) != res.ChunksWritten {
		t.Errorf("store has %d chunks, result says %d", n, res.ChunksWritten)
	}

	fp, err := mem.GetFingerprint(context.Background(), res.DocumentID)
	if err != nil {
		t.Fatal(err)
	}
	if fp == "" {
		t.Error("fingerprint not stored")
	}
}

func TestIngestSkipsUnchanged(t *testing.T) {
	p, _, emb := newTestPipeline(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "doc.txt", "stable content that does not change between runs")

	first := p.Ingest(context.Background(), path, Options{})
	if first.Status != StatusIndexed {
		t.Fatalf("first ingest: %s (err: %v)", first.Status, first.Err)
	}
	batchesAfterFirst := emb.batches

	second := p.Ingest(context.Background(), path, Options{})
	if second.Status != StatusSkipped {
		t.Fatalf("expected skipped, got %s", second.Status)
	}
	if emb.batches != batchesAfterFirst {
		t.Error("skipped ingest must not call the embedder")
	}
}

func TestIngestEmptySourceClearsAndReindexes(t *testing.T) {
	p, mem, _ := newTestPipeline(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "doc.txt", "content that will later be emptied out")

	first := p.Ingest(context.Background(), path, Options{})
	if first.Status != StatusIndexed || first.ChunksWritten == 0 {
		t.Fatalf("first ingest: %s, %d chunks (err: %v)", first.Status, first.ChunksWritten, first.Err)
	}

	writeFile(t, dir, "doc.txt", "")
	second := p.Ingest(context.Background(), path, Options{})
	if second.Status != StatusIndexed || second.ChunksWritten != 0 {
		t.Fatalf("empty ingest: %s, %d chunks (err: %v)", second.Status, second.ChunksWritten, second.Err)
	}
	n, err := mem.CountByFilter(context.Background(), store.Filter{DocumentID: first.DocumentID})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("prior chunks should be gone, found %d", n)
	}

	// Zero rows means no stored fingerprint, so an unchanged empty source
	// indexes again instead of skipping.
	third := p.Ingest(context.Background(), path, Options{})
	if third.Status != StatusIndexed {
		t.Fatalf("expected indexed for repeated empty source, got %s", third.Status)
	}
}

func TestIngestReindexesChangedContent(t *testing.T) {
	p, mem, _ := newTestPipeline(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "doc.txt", "original content of the document")

	first := p.Ingest(context.Background(), path, Options{})
	if first.Status != StatusIndexed {
		t.Fatal(first.Err)
	}
	oldFP, _ := mem.GetFingerprint(context.Background(), first.DocumentID)

	writeFile(t, dir, "doc.txt", "completely different content after the edit")
	second := p.Ingest(context.Background(), path, Options{})
	if second.Status != StatusIndexed {
		t.Fatalf("expected re-index, got %s", second.Status)
	}

	newFP, _ := mem.GetFingerprint(context.Background(), second.DocumentID)
	if newFP == oldFP {
		t.Error("fingerprint did not change with content")
	}
}

func TestIngestForceReindex(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "doc.txt", "unchanging content")

	if res := p.Ingest(context.Background(), path, Options{}); res.Status != StatusIndexed {
		t.Fatal(res.Err)
	}
	res := p.Ingest(context.Background(), path, Options{ForceReindex: true})
	if res.Status != StatusIndexed {
		t.Errorf("expected forced re-index, got %s", res.Status)
	}
}

func TestIngestMissingFileFails(t *testing.T) {
	p, _, _ := newTestPipeline(t)

	res := p.Ingest(context.Background(), "/nonexistent/nope.txt", Options{})
	if res.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", res.Status)
	}
	if !loader.IsUnreachable(res.Err) {
		t.Errorf("expected unreachable source error, got %v", res.Err)
	}
}

func TestIngestMetadataFlowsToChunks(t *testing.T) {
	p, mem, _ := newTestPipeline(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "doc.txt", "tagged content")

	res := p.Ingest(context.Background(), path, Options{
		DocumentType: "note",
		Metadata:     map[string]string{"team": "infra"},
	})
	if res.Status != StatusIndexed {
		t.Fatal(res.Err)
	}

	chunks, err := mem.ListByFilter(context.Background(), store.Filter{DocumentID: res.DocumentID}, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) == 0 {
		t.Fatal("no chunks stored")
	}
	for _, c := range chunks {
		if c.Metadata["team"] != "infra" {
			t.Errorf("custom metadata missing on chunk %d", c.ChunkIndex)
		}
		if c.Metadata[store.MetadataDocumentTypeKey] != "note" {
			t.Errorf("document type missing on chunk %d", c.ChunkIndex)
		}
		if c.SourceURI != path {
			t.Errorf("source uri %q, want %q", c.SourceURI, path)
		}
	}
}

func TestIngestBatch(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	dir := t.TempDir()

	locators := []string{
		writeFile(t, dir, "a.txt", "first document body"),
		writeFile(t, dir, "b.txt", "second document body"),
		filepath.Join(dir, "missing.txt"),
	}

	results := p.IngestBatch(context.Background(), locators, Options{})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, loc := range locators {
		if results[i].Locator != loc {
			t.Errorf("result %d out of order: %q", i, results[i].Locator)
		}
	}
	if results[0].Status != StatusIndexed || results[1].Status != StatusIndexed {
		t.Errorf("expected first two indexed: %s %s", results[0].Status, results[1].Status)
	}
	if results[2].Status != StatusFailed {
		t.Errorf("expected missing file to fail, got %s", results[2].Status)
	}

	snap := p.Metrics().Snapshot()
	if snap.IndexedDocs != 2 || snap.FailedDocs != 1 {
		t.Errorf("metrics mismatch: %+v", snap)
	}
}

func TestFingerprintDeterminism(t *testing.T) {
	if Fingerprint("same") != Fingerprint("same") {
		t.Error("fingerprint must be deterministic")
	}
	if Fingerprint("one") == Fingerprint("two") {
		t.Error("different content should fingerprint differently")
	}
	if DocumentID("/a/b.txt") != DocumentID("/a/b.txt") {
		t.Error("document id must be deterministic")
	}
	if DocumentID("/a/b.txt") == DocumentID("/a/c.txt") {
		t.Error("different locators should get different ids")
	}
}
