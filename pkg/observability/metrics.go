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

// Package observability exposes Prometheus collectors and logger setup
// shared across the pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors bundles the Prometheus metrics the pipeline and searcher
// update.
type Collectors struct {
	DocumentsIndexed prometheus.Counter
	DocumentsSkipped prometheus.Counter
	DocumentsFailed  prometheus.Counter
	ChunksWritten    prometheus.Counter
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	IngestDuration   prometheus.Histogram
	SearchDuration   prometheus.Histogram
}

// NewCollectors creates and registers the collectors. Pass
// prometheus.DefaultRegisterer for the process-global registry, or a fresh
// registry in tests.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		DocumentsIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corpus",
			Name:      "documents_indexed_total",
			Help:      "Documents successfully indexed.",
		}),
		DocumentsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corpus",
			Name:      "documents_skipped_total",
			Help:      "Documents skipped because their fingerprint was unchanged.",
		}),
		DocumentsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corpus",
			Name:      "documents_failed_total",
			Help:      "Documents that failed to ingest.",
		}),
		ChunksWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corpus",
			Name:      "chunks_written_total",
			Help:      "Chunks written to the store.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corpus",
			Name:      "embedding_cache_hits_total",
			Help:      "Embedding cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corpus",
			Name:      "embedding_cache_misses_total",
			Help:      "Embedding cache misses.",
		}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "corpus",
			Name:      "ingest_duration_seconds",
			Help:      "Per-document ingestion latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		SearchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "corpus",
			Name:      "search_duration_seconds",
			Help:      "Hybrid search latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(
			c.DocumentsIndexed,
			c.DocumentsSkipped,
			c.DocumentsFailed,
			c.ChunksWritten,
			c.CacheHits,
			c.CacheMisses,
			c.IngestDuration,
			c.SearchDuration,
		)
	}
	return c
}
