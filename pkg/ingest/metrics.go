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
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks ingestion counters. Safe for concurrent use; counters are
// updated atomically by the pipeline workers.
type Metrics struct {
	totalDocs     int64
	indexedDocs   int64
	skippedDocs   int64
	failedDocs    int64
	chunksWritten int64

	mu        sync.RWMutex
	startTime time.Time
	endTime   time.Time
}

// NewMetrics creates a zeroed metrics tracker.
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncrementTotal() {
	atomic.AddInt64(&m.totalDocs, 1)
}

func (m *Metrics) IncrementIndexed() {
	atomic.AddInt64(&m.indexedDocs, 1)
}

func (m *Metrics) IncrementSkipped() {
	atomic.AddInt64(&m.skippedDocs, 1)
}

func (m *Metrics) IncrementFailed() {
	atomic.AddInt64(&m.failedDocs, 1)
}

func (m *Metrics) AddChunksWritten(n int) {
	atomic.AddInt64(&m.chunksWritten, int64(n))
}

func (m *Metrics) SetStartTime(t time.Time) {
	m.mu.Lock()
	m.startTime = t
	m.mu.Unlock()
}

func (m *Metrics) SetEndTime(t time.Time) {
	m.mu.Lock()
	m.endTime = t
	m.mu.Unlock()
}

// Reset zeroes all counters.
func (m *Metrics) Reset() {
	atomic.StoreInt64(&m.totalDocs, 0)
	atomic.StoreInt64(&m.indexedDocs, 0)
	atomic.StoreInt64(&m.skippedDocs, 0)
	atomic.StoreInt64(&m.failedDocs, 0)
	atomic.StoreInt64(&m.chunksWritten, 0)

	m.mu.Lock()
	m.startTime = time.Time{}
	m.endTime = time.Time{}
	m.mu.Unlock()
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	TotalDocs     int64         `json:"total_docs"`
	IndexedDocs   int64         `json:"indexed_docs"`
	SkippedDocs   int64         `json:"skipped_docs"`
	FailedDocs    int64         `json:"failed_docs"`
	ChunksWritten int64         `json:"chunks_written"`
	Elapsed       time.Duration `json:"elapsed"`
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	start, end := m.startTime, m.endTime
	m.mu.RUnlock()

	var elapsed time.Duration
	switch {
	case start.IsZero():
	case end.IsZero():
		elapsed = time.Since(start)
	default:
		elapsed = end.Sub(start)
	}

	return MetricsSnapshot{
		TotalDocs:     atomic.LoadInt64(&m.totalDocs),
		IndexedDocs:   atomic.LoadInt64(&m.indexedDocs),
		SkippedDocs:   atomic.LoadInt64(&m.skippedDocs),
		FailedDocs:    atomic.LoadInt64(&m.failedDocs),
		ChunksWritten: atomic.LoadInt64(&m.chunksWritten),
		Elapsed:       elapsed,
	}
}
