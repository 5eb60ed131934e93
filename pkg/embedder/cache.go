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

package embedder

import (
	"context"
	"sync"
	"sync/atomic"
)

// Cache wraps an Embedder with an in-process vector cache keyed on exact
// text equality.
//
// Embeddings for a fixed model version never change, so entries are valid
// for the lifetime of the process. The batch path deduplicates inputs and
// only sends cache misses to the underlying embedder.
type Cache struct {
	inner      Embedder
	maxEntries int

	mu      sync.RWMutex
	entries map[string][]float32

	hits   int64
	misses int64

	hitsCounter   Counter
	missesCounter Counter
}

// Counter is the increment-only subset of a metrics counter. Satisfied by
// prometheus.Counter.
type Counter interface {
	Inc()
}

// NewCache wraps inner with a cache. maxEntries <= 0 means unbounded.
func NewCache(inner Embedder, maxEntries int) *Cache {
	return &Cache{
		inner:      inner,
		maxEntries: maxEntries,
		entries:    make(map[string][]float32),
	}
}

// SetCounters mirrors hit and miss counts into external metrics counters.
// Either may be nil. Call before the cache sees traffic.
func (c *Cache) SetCounters(hits, misses Counter) {
	c.hitsCounter = hits
	c.missesCounter = misses
}

// Embed returns the cached vector for text, or embeds and caches it.
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.lookup(text); ok {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.insert(text, vec)
	return vec, nil
}

// EmbedBatch returns vectors for texts in input order, embedding as few
// unique strings as possible: duplicates and cache hits never reach the
// underlying embedder.
func (c *Cache) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))

	// Collect unique cache misses, remembering every position that
	// wants each missing text.
	missPositions := make(map[string][]int)
	var missing []string
	for i, text := range texts {
		if vec, ok := c.lookup(text); ok {
			results[i] = vec
			continue
		}
		if _, seen := missPositions[text]; !seen {
			missing = append(missing, text)
		}
		missPositions[text] = append(missPositions[text], i)
	}

	if len(missing) == 0 {
		return results, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}

	for i, text := range missing {
		c.insert(text, vecs[i])
		for _, pos := range missPositions[text] {
			results[pos] = vecs[i]
		}
	}
	return results, nil
}

func (c *Cache) lookup(text string) ([]float32, bool) {
	c.mu.RLock()
	vec, ok := c.entries[text]
	c.mu.RUnlock()

	if ok {
		atomic.AddInt64(&c.hits, 1)
		if c.hitsCounter != nil {
			c.hitsCounter.Inc()
		}
		return vec, true
	}
	atomic.AddInt64(&c.misses, 1)
	if c.missesCounter != nil {
		c.missesCounter.Inc()
	}
	return nil, false
}

func (c *Cache) insert(text string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		// Evict an arbitrary entry. Embeddings are cheap to recompute
		// relative to the bookkeeping an LRU would need here.
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
	c.entries[text] = vec
}

// Clear drops all cached vectors.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string][]float32)
	c.mu.Unlock()
}

// Len returns the number of cached vectors.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns cache hit and miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}

// Dimension returns the underlying embedder's dimension.
func (c *Cache) Dimension() int {
	return c.inner.Dimension()
}

// Model returns the underlying embedder's model name.
func (c *Cache) Model() string {
	return c.inner.Model()
}

// Close closes the underlying embedder.
func (c *Cache) Close() error {
	c.Clear()
	return c.inner.Close()
}

// Ensure Cache implements Embedder.
var _ Embedder = (*Cache)(nil)
