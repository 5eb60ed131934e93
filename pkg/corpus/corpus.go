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

// Package corpus wires the ingestion and retrieval components into one
// handle. Open builds the whole stack from configuration; the handle owns
// its resources and no package-level state exists.
package corpus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kadirpekel/corpus/pkg/bulk"
	"github.com/kadirpekel/corpus/pkg/chunker"
	"github.com/kadirpekel/corpus/pkg/config"
	"github.com/kadirpekel/corpus/pkg/embedder"
	"github.com/kadirpekel/corpus/pkg/ingest"
	"github.com/kadirpekel/corpus/pkg/loader"
	"github.com/kadirpekel/corpus/pkg/observability"
	"github.com/kadirpekel/corpus/pkg/search"
	"github.com/kadirpekel/corpus/pkg/store"
)

// Corpus is the assembled pipeline: loaders, chunker, embedder, store,
// searcher and bulk manager behind one handle.
type Corpus struct {
	cfg        *config.Config
	logger     *slog.Logger
	pool       *store.DBPool
	store      store.Store
	embedder   embedder.Embedder
	cache      *embedder.Cache
	pipeline   *ingest.Pipeline
	searcher   *search.Searcher
	bulk       *bulk.Manager
	collectors *observability.Collectors
	registry   *prometheus.Registry
}

// MetricsRegistry exposes the handle's Prometheus registry for scraping.
func (c *Corpus) MetricsRegistry() *prometheus.Registry {
	return c.registry
}

// Open builds the full stack from config: connection pool, schema, store,
// embedder with cache, chunker, loader registry, pipeline, searcher and
// bulk manager. The caller must Close the returned handle.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Corpus, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	pool := store.NewDBPool()
	db, err := pool.Get(cfg.Database)
	if err != nil {
		return nil, err
	}

	pg, err := store.NewPostgres(db, cfg.Store, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	c, err := assemble(cfg, pg, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	c.pool = pool
	return c, nil
}

// OpenWithStore builds the stack over an existing store. Used for embedding
// the pipeline in tests or alternative storage setups; the caller keeps
// ownership of the store's connections.
func OpenWithStore(cfg *config.Config, st store.Store, logger *slog.Logger) (*Corpus, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return assemble(cfg, st, logger)
}

func assemble(cfg *config.Config, st store.Store, logger *slog.Logger) (*Corpus, error) {
	emb, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	var active embedder.Embedder = emb
	if cfg.Embedder.Limit != (embedder.LimitConfig{}) {
		limit, err := embedder.NewInputLimit(cfg.Embedder.Limit)
		if err != nil {
			return nil, err
		}
		active = embedder.NewLimited(active, limit)
	}

	var cache *embedder.Cache
	if cfg.Embedder.CacheSize >= 0 {
		cache = embedder.NewCache(active, cfg.Embedder.CacheSize)
		active = cache
	}

	splitter, err := chunker.New(cfg.Chunker)
	if err != nil {
		return nil, err
	}

	// Each handle gets its own registry so repeated Opens never collide on
	// collector registration.
	registry := prometheus.NewRegistry()
	collectors := observability.NewCollectors(registry)
	if cache != nil {
		cache.SetCounters(collectors.CacheHits, collectors.CacheMisses)
	}

	pipeline, err := ingest.NewPipeline(
		loader.NewRegistry(), splitter, active, st, cfg.Ingest, collectors, logger)
	if err != nil {
		return nil, err
	}

	searcher, err := search.NewSearcher(st, active, cfg.Search, collectors, logger)
	if err != nil {
		return nil, err
	}

	bulkMgr, err := bulk.NewManager(st, logger)
	if err != nil {
		return nil, err
	}

	return &Corpus{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		embedder:   emb,
		cache:      cache,
		pipeline:   pipeline,
		searcher:   searcher,
		bulk:       bulkMgr,
		collectors: collectors,
		registry:   registry,
	}, nil
}

func buildEmbedder(cfg *config.Config) (embedder.Embedder, error) {
	switch cfg.Embedder.Provider {
	case "ollama":
		return embedder.NewOllamaEmbedder(cfg.Embedder.Ollama)
	case "openai":
		return embedder.NewOpenAIEmbedder(cfg.Embedder.OpenAI)
	default:
		return nil, fmt.Errorf("unknown embedder provider: %q", cfg.Embedder.Provider)
	}
}

// Close tears down in reverse construction order.
func (c *Corpus) Close() error {
	var firstErr error
	if err := c.embedder.Close(); err != nil {
		firstErr = err
	}
	if err := c.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if c.pool != nil {
		if err := c.pool.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Ingest processes a single source.
func (c *Corpus) Ingest(ctx context.Context, locator string, opts ingest.Options) ingest.Result {
	return c.pipeline.Ingest(ctx, locator, opts)
}

// IngestBatch processes sources concurrently.
func (c *Corpus) IngestBatch(ctx context.Context, locators []string, opts ingest.Options) []ingest.Result {
	return c.pipeline.IngestBatch(ctx, locators, opts)
}

// Search runs a hybrid query.
func (c *Corpus) Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	return c.searcher.Search(ctx, query, opts)
}

// DeleteDocument removes one document's chunks and returns the count.
func (c *Corpus) DeleteDocument(ctx context.Context, documentID string) (int64, error) {
	return c.store.DeleteDocument(ctx, documentID)
}

// BulkPreview reports what a filter would affect.
func (c *Corpus) BulkPreview(ctx context.Context, f store.Filter) (*bulk.PreviewResult, error) {
	return c.bulk.Preview(ctx, f)
}

// BulkExport snapshots every matching chunk.
func (c *Corpus) BulkExport(ctx context.Context, f store.Filter) (*bulk.BackupRecord, error) {
	return c.bulk.Export(ctx, f)
}

// BulkDelete removes every matching chunk.
func (c *Corpus) BulkDelete(ctx context.Context, f store.Filter) (int64, error) {
	return c.bulk.Delete(ctx, f)
}

// BulkDeleteWithExport exports matching chunks before deleting them.
func (c *Corpus) BulkDeleteWithExport(ctx context.Context, f store.Filter) (*bulk.BackupRecord, int64, error) {
	return c.bulk.DeleteWithExport(ctx, f)
}

// BulkRestore re-inserts a backup, failing closed on conflicts.
func (c *Corpus) BulkRestore(ctx context.Context, record *bulk.BackupRecord) (*bulk.RestoreResult, error) {
	return c.bulk.Restore(ctx, record)
}

// Watch keeps a directory in sync with the store until the context ends.
func (c *Corpus) Watch(ctx context.Context, cfg ingest.WatcherConfig, opts ingest.Options) (*ingest.Watcher, error) {
	w, err := ingest.NewWatcher(c.pipeline, cfg, opts, c.logger)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// Stats returns ingestion counters and embedding cache statistics.
func (c *Corpus) Stats() Stats {
	s := Stats{Ingest: c.pipeline.Metrics().Snapshot()}
	if c.cache != nil {
		s.CacheHits, s.CacheMisses = c.cache.Stats()
		s.CacheEntries = c.cache.Len()
	}
	return s
}

// Stats aggregates runtime counters.
type Stats struct {
	Ingest       ingest.MetricsSnapshot `json:"ingest"`
	CacheHits    int64                  `json:"cache_hits"`
	CacheMisses  int64                  `json:"cache_misses"`
	CacheEntries int                    `json:"cache_entries"`
}
