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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kadirpekel/corpus/pkg/chunker"
	"github.com/kadirpekel/corpus/pkg/embedder"
	"github.com/kadirpekel/corpus/pkg/loader"
	"github.com/kadirpekel/corpus/pkg/observability"
	"github.com/kadirpekel/corpus/pkg/store"
)

// Status is the outcome of ingesting one source.
type Status string

const (
	// StatusIndexed means the document's chunks were (re)written.
	StatusIndexed Status = "indexed"

	// StatusSkipped means the content fingerprint was unchanged.
	StatusSkipped Status = "skipped"

	// StatusFailed means the source could not be ingested.
	StatusFailed Status = "failed"
)

// Options control a single ingestion.
type Options struct {
	// ForceReindex bypasses the fingerprint check.
	ForceReindex bool

	// DocumentType tags the document (e.g. "markdown", "pdf"). Defaults to
	// the loader's name.
	DocumentType string

	// Metadata is merged into every chunk's metadata. Loader-provided keys
	// win on collision.
	Metadata map[string]string
}

// Result reports one source's ingestion outcome.
type Result struct {
	Locator       string `json:"locator"`
	DocumentID    string `json:"document_id"`
	Status        Status `json:"status"`
	ChunksWritten int    `json:"chunks_written,omitempty"`
	Err           error  `json:"-"`
}

// PipelineConfig tunes the ingestion pipeline.
type PipelineConfig struct {
	// Workers bounds concurrent document processing in IngestBatch
	// (default: 4).
	Workers int `yaml:"workers,omitempty"`

	// Retry configures transient-failure handling around embedding and
	// storage calls.
	Retry RetryConfig `yaml:"retry,omitempty"`
}

// SetDefaults fills unset fields.
func (c *PipelineConfig) SetDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
}

// Pipeline turns source locators into stored, searchable chunks:
// load, fingerprint, chunk, embed, replace.
type Pipeline struct {
	loaders    *loader.Registry
	splitter   *chunker.Splitter
	embedder   embedder.Embedder
	store      store.Store
	retryer    *Retryer
	metrics    *Metrics
	collectors *observability.Collectors
	workers    int
	logger     *slog.Logger
}

// NewPipeline wires the ingestion stages together. Collectors may be nil.
func NewPipeline(
	loaders *loader.Registry,
	splitter *chunker.Splitter,
	emb embedder.Embedder,
	st store.Store,
	cfg PipelineConfig,
	collectors *observability.Collectors,
	logger *slog.Logger,
) (*Pipeline, error) {
	if loaders == nil {
		return nil, fmt.Errorf("loader registry is required")
	}
	if splitter == nil {
		return nil, fmt.Errorf("splitter is required")
	}
	if emb == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	cfg.SetDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		loaders:    loaders,
		splitter:   splitter,
		embedder:   emb,
		store:      st,
		retryer:    NewRetryer(cfg.Retry),
		metrics:    NewMetrics(),
		collectors: collectors,
		workers:    cfg.Workers,
		logger:     logger,
	}, nil
}

// Metrics returns the pipeline's counters.
func (p *Pipeline) Metrics() *Metrics {
	return p.metrics
}

// Ingest processes a single source end to end. A failure is reported in
// the Result, never panicked or half-written: the store is only touched
// once the document's chunks and embeddings are fully prepared.
func (p *Pipeline) Ingest(ctx context.Context, locator string, opts Options) Result {
	started := time.Now()
	p.metrics.IncrementTotal()

	res := p.ingest(ctx, locator, opts)

	switch res.Status {
	case StatusIndexed:
		p.metrics.IncrementIndexed()
		p.metrics.AddChunksWritten(res.ChunksWritten)
		if p.collectors != nil {
			p.collectors.DocumentsIndexed.Inc()
			p.collectors.ChunksWritten.Add(float64(res.ChunksWritten))
		}
		p.logger.Info("Indexed document",
			"locator", locator,
			"document_id", res.DocumentID,
			"chunks", res.ChunksWritten,
			"elapsed", time.Since(started))
	case StatusSkipped:
		p.metrics.IncrementSkipped()
		if p.collectors != nil {
			p.collectors.DocumentsSkipped.Inc()
		}
		p.logger.Debug("Skipped unchanged document",
			"locator", locator,
			"document_id", res.DocumentID)
	case StatusFailed:
		p.metrics.IncrementFailed()
		if p.collectors != nil {
			p.collectors.DocumentsFailed.Inc()
		}
		p.logger.Warn("Failed to ingest document",
			"locator", locator,
			"error", res.Err)
	}
	if p.collectors != nil {
		p.collectors.IngestDuration.Observe(time.Since(started).Seconds())
	}

	return res
}

func (p *Pipeline) ingest(ctx context.Context, locator string, opts Options) Result {
	docID := DocumentID(locator)
	res := Result{Locator: locator, DocumentID: docID}

	raw, err := p.loaders.Load(ctx, locator)
	if err != nil {
		res.Status = StatusFailed
		res.Err = err
		return res
	}

	fp := Fingerprint(raw.Content)
	if !opts.ForceReindex {
		stored, err := p.store.GetFingerprint(ctx, docID)
		if err != nil {
			res.Status = StatusFailed
			res.Err = fmt.Errorf("fingerprint lookup: %w", err)
			return res
		}
		if stored != "" && stored == fp {
			res.Status = StatusSkipped
			return res
		}
	}

	pieces := p.splitter.Split(raw.Content)

	chunks, err := p.buildChunks(ctx, docID, locator, fp, raw, pieces, opts)
	if err != nil {
		res.Status = StatusFailed
		res.Err = err
		return res
	}

	err = p.retryer.Do(ctx, "replace_document", func() error {
		return p.store.ReplaceDocument(ctx, docID, chunks)
	})
	if err != nil {
		res.Status = StatusFailed
		res.Err = fmt.Errorf("storing: %w", err)
		return res
	}

	res.Status = StatusIndexed
	res.ChunksWritten = len(chunks)
	return res
}

func (p *Pipeline) buildChunks(
	ctx context.Context,
	docID, locator, fp string,
	raw *loader.RawDocument,
	pieces []chunker.Piece,
	opts Options,
) ([]store.Chunk, error) {
	if len(pieces) == 0 {
		// An empty document still replaces prior content. With zero rows
		// there is nowhere to keep the fingerprint, so re-ingesting the
		// same empty source reports indexed again rather than skipped.
		return nil, nil
	}

	texts := make([]string, len(pieces))
	for i, piece := range pieces {
		texts[i] = piece.Text
	}

	var embeddings [][]float32
	err := p.retryer.Do(ctx, "embed_chunks", func() error {
		var embErr error
		embeddings, embErr = p.embedder.EmbedBatch(ctx, texts)
		return embErr
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	if len(embeddings) != len(pieces) {
		return nil, fmt.Errorf("embedding count %d does not match chunk count %d", len(embeddings), len(pieces))
	}

	docType := opts.DocumentType
	if docType == "" {
		docType = raw.LoaderName
	}

	chunks := make([]store.Chunk, len(pieces))
	for i, piece := range pieces {
		meta := make(map[string]string, len(opts.Metadata)+len(raw.Metadata)+3)
		for k, v := range opts.Metadata {
			meta[k] = v
		}
		for k, v := range raw.Metadata {
			meta[k] = v
		}
		meta[store.MetadataFingerprintKey] = fp
		meta[store.MetadataDocumentTypeKey] = docType
		if raw.Title != "" {
			meta["title"] = raw.Title
		}

		chunks[i] = store.Chunk{
			DocumentID:  docID,
			ChunkIndex:  piece.Index,
			TextContent: piece.Text,
			SourceURI:   locator,
			Embedding:   embeddings[i],
			Metadata:    meta,
		}
	}
	return chunks, nil
}

// IngestBatch processes sources concurrently with a bounded worker pool.
// Results are returned in input order; one source's failure never aborts
// the others.
func (p *Pipeline) IngestBatch(ctx context.Context, locators []string, opts Options) []Result {
	if len(locators) == 0 {
		return nil
	}

	p.logger.Info("Starting batch ingestion",
		"sources", len(locators),
		"workers", p.workers)

	results := make([]Result, len(locators))
	semaphore := make(chan struct{}, p.workers)
	var wg sync.WaitGroup

	for i, locator := range locators {
		select {
		case <-ctx.Done():
			for j := i; j < len(locators); j++ {
				results[j] = Result{
					Locator:    locators[j],
					DocumentID: DocumentID(locators[j]),
					Status:     StatusFailed,
					Err:        ctx.Err(),
				}
			}
			wg.Wait()
			return results
		case semaphore <- struct{}{}:
		}

		wg.Add(1)
		go func(idx int, loc string) {
			defer func() {
				<-semaphore
				wg.Done()
			}()
			results[idx] = p.Ingest(ctx, loc, opts)
		}(i, locator)
	}

	wg.Wait()

	snap := p.metrics.Snapshot()
	p.logger.Info("Batch ingestion complete",
		"total", len(locators),
		"indexed", snap.IndexedDocs,
		"skipped", snap.SkippedDocs,
		"failed", snap.FailedDocs)
	return results
}
