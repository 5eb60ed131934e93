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
	"time"

	"github.com/kadirpekel/corpus/pkg/store"
)

// waitFor polls cond until it holds or the timeout expires. File events
// arrive asynchronously, so assertions on watcher effects must be eventual.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestWatcherKeepsStoreInSync(t *testing.T) {
	p, mem, _ := newTestPipeline(t)
	dir := t.TempDir()

	w, err := NewWatcher(p, WatcherConfig{
		Path:          dir,
		DebounceDelay: 50 * time.Millisecond,
	}, Options{}, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	path := filepath.Join(dir, "doc.txt")
	docID := DocumentID(path)
	content := "the quick brown fox jumps over the lazy dog, repeatedly and with enthusiasm"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 5*time.Second, func() bool {
		n, _ := mem.CountByFilter(ctx, store.Filter{DocumentID: docID})
		return n > 0
	}, "created file was never ingested")

	fp, err := mem.GetFingerprint(ctx, docID)
	if err != nil || fp == "" {
		t.Fatalf("expected a stored fingerprint, got %q (%v)", fp, err)
	}

	if err := os.WriteFile(path, []byte(content+" with fresh material appended"), 0o644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 5*time.Second, func() bool {
		now, _ := mem.GetFingerprint(ctx, docID)
		return now != "" && now != fp
	}, "modified file was never re-ingested")

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 5*time.Second, func() bool {
		n, _ := mem.CountByFilter(ctx, store.Filter{DocumentID: docID})
		return n == 0
	}, "removed file's chunks were never deleted")
}

func TestWatcherExtensionFilter(t *testing.T) {
	p, mem, _ := newTestPipeline(t)
	dir := t.TempDir()

	w, err := NewWatcher(p, WatcherConfig{
		Path:          dir,
		DebounceDelay: 50 * time.Millisecond,
		Extensions:    []string{".md"},
	}, Options{}, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	logPath := writeFile(t, dir, "trace.log", "noise that should stay out of the index entirely")
	mdPath := writeFile(t, dir, "notes.md", "signal worth indexing, with enough words to make a chunk")

	waitFor(t, 5*time.Second, func() bool {
		n, _ := mem.CountByFilter(ctx, store.Filter{DocumentID: DocumentID(mdPath)})
		return n > 0
	}, "watched extension was never ingested")

	if n, _ := mem.CountByFilter(ctx, store.Filter{DocumentID: DocumentID(logPath)}); n != 0 {
		t.Errorf("unwatched extension was ingested, %d chunks", n)
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	dir := t.TempDir()

	w, err := NewWatcher(p, WatcherConfig{Path: dir, DebounceDelay: 50 * time.Millisecond}, Options{}, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("second Stop should be a no-op, got: %v", err)
	}
}