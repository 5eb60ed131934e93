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

package corpus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/kadirpekel/corpus/pkg/config"
	"github.com/kadirpekel/corpus/pkg/ingest"
	"github.com/kadirpekel/corpus/pkg/search"
	"github.com/kadirpekel/corpus/pkg/store"
)

// fakeOllama serves deterministic embeddings over the Ollama wire format.
func fakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		vec := []float32{float32(len(req.Prompt) % 7), 1, 0.5}
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": vec})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, host string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(`
database:
  dsn: postgres://unused/corpus
store:
  dimension: 3
embedder:
  provider: ollama
  ollama:
    host: ` + host + `
    dimension: 3
chunker:
  size: 60
  overlap: 10
`))
	if err != nil {
		t.Fatalf("config.Parse failed: %v", err)
	}
	return cfg
}

func TestOpenWithStoreEndToEnd(t *testing.T) {
	srv := fakeOllama(t)
	cfg := testConfig(t, srv.URL)
	mem := store.NewMemory()

	c, err := OpenWithStore(cfg, mem, nil)
	if err != nil {
		t.Fatalf("OpenWithStore failed: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	if err := os.WriteFile(path, []byte("the red car drove past the harbor at dawn"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := c.Ingest(ctx, path, ingest.Options{DocumentType: "note"})
	if res.Status != ingest.StatusIndexed {
		t.Fatalf("ingest: %s (err: %v)", res.Status, res.Err)
	}

	results, err := c.Search(ctx, `"red car"`, search.DefaultOptions())
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected search results")
	}
	if results[0].Chunk.DocumentID != res.DocumentID {
		t.Errorf("expected ingested document in results")
	}

	deleted, err := c.DeleteDocument(ctx, res.DocumentID)
	if err != nil {
		t.Fatalf("DeleteDocument failed: %v", err)
	}
	if deleted == 0 {
		t.Error("expected deleted chunks")
	}

	stats := c.Stats()
	if stats.Ingest.IndexedDocs != 1 {
		t.Errorf("stats not tracked: %+v", stats.Ingest)
	}
}

func TestBulkLifecycleThroughFacade(t *testing.T) {
	srv := fakeOllama(t)
	cfg := testConfig(t, srv.URL)
	mem := store.NewMemory()

	c, err := OpenWithStore(cfg, mem, nil)
	if err != nil {
		t.Fatalf("OpenWithStore failed: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt"} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("draft content for "+name), 0o644); err != nil {
			t.Fatal(err)
		}
		if res := c.Ingest(ctx, path, ingest.Options{DocumentType: "draft"}); res.Status != ingest.StatusIndexed {
			t.Fatalf("ingest %s: %v", name, res.Err)
		}
	}

	filter := store.Filter{DocumentType: "draft"}
	preview, err := c.BulkPreview(ctx, filter)
	if err != nil {
		t.Fatalf("BulkPreview failed: %v", err)
	}
	if preview.MatchedDocuments != 2 {
		t.Errorf("expected 2 documents, got %d", preview.MatchedDocuments)
	}

	record, deleted, err := c.BulkDeleteWithExport(ctx, filter)
	if err != nil {
		t.Fatalf("BulkDeleteWithExport failed: %v", err)
	}
	if deleted == 0 || len(record.Chunks) == 0 {
		t.Fatalf("expected exported and deleted chunks, got %d / %d", len(record.Chunks), deleted)
	}

	restored, err := c.BulkRestore(ctx, record)
	if err != nil {
		t.Fatalf("BulkRestore failed: %v", err)
	}
	if restored.RestoredDocuments != 2 {
		t.Errorf("expected 2 restored documents, got %d", restored.RestoredDocuments)
	}
}

func TestCollectorsObserveSearchAndCache(t *testing.T) {
	srv := fakeOllama(t)
	cfg := testConfig(t, srv.URL)
	mem := store.NewMemory()

	c, err := OpenWithStore(cfg, mem, nil)
	if err != nil {
		t.Fatalf("OpenWithStore failed: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	if err := os.WriteFile(path, []byte("the red car drove past the harbor at dawn"), 0o644); err != nil {
		t.Fatal(err)
	}
	if res := c.Ingest(ctx, path, ingest.Options{}); res.Err != nil {
		t.Fatalf("Ingest failed: %v", res.Err)
	}

	// The same query twice: the second embedding comes from the cache.
	for i := 0; i < 2; i++ {
		if _, err := c.Search(ctx, "red car", search.DefaultOptions()); err != nil {
			t.Fatalf("Search failed: %v", err)
		}
	}

	families, err := c.MetricsRegistry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	var searchSamples uint64
	var cacheHits, cacheMisses float64
	for _, mf := range families {
		if len(mf.GetMetric()) == 0 {
			continue
		}
		m := mf.GetMetric()[0]
		switch mf.GetName() {
		case "corpus_search_duration_seconds":
			searchSamples = m.GetHistogram().GetSampleCount()
		case "corpus_embedding_cache_hits_total":
			cacheHits = m.GetCounter().GetValue()
		case "corpus_embedding_cache_misses_total":
			cacheMisses = m.GetCounter().GetValue()
		}
	}

	if searchSamples != 2 {
		t.Errorf("expected 2 search duration samples, got %d", searchSamples)
	}
	if cacheMisses == 0 {
		t.Error("expected cache misses from ingestion and the first query")
	}
	if cacheHits == 0 {
		t.Error("expected a cache hit from the repeated query")
	}
}

func TestOpenWithStoreRejectsNil(t *testing.T) {
	if _, err := OpenWithStore(nil, store.NewMemory(), nil); err == nil {
		t.Error("expected error for nil config")
	}
	srv := fakeOllama(t)
	if _, err := OpenWithStore(testConfig(t, srv.URL), nil, nil); err == nil {
		t.Error("expected error for nil store")
	}
}
