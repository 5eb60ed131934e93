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
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherConfig configures directory watching.
type WatcherConfig struct {
	// Path is the directory to watch, recursively.
	Path string `yaml:"path"`

	// DebounceDelay coalesces rapid events on the same file
	// (default: 500ms).
	DebounceDelay time.Duration `yaml:"debounce_delay,omitempty"`

	// Extensions limits watched files (e.g. [".md", ".txt"]). Empty
	// watches everything.
	Extensions []string `yaml:"extensions,omitempty"`
}

// Watcher keeps a directory tree and the store in sync: file creates and
// writes re-ingest, removes and renames delete the document.
type Watcher struct {
	pipeline *Pipeline
	watcher  *fsnotify.Watcher
	cfg      WatcherConfig
	opts     Options
	logger   *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	watching bool
}

// NewWatcher creates a directory watcher driving the given pipeline.
func NewWatcher(pipeline *Pipeline, cfg WatcherConfig, opts Options, logger *slog.Logger) (*Watcher, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("watch path is required")
	}
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	return &Watcher{
		pipeline: pipeline,
		watcher:  fw,
		cfg:      cfg,
		opts:     opts,
		logger:   logger,
	}, nil
}

// Start begins watching. It returns immediately; event handling runs until
// Stop is called or the context is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watching {
		return nil
	}

	if err := w.addRecursive(w.cfg.Path); err != nil {
		return err
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.watching = true

	go w.loop(ctx)

	w.logger.Info("Started watching", "path", w.cfg.Path)
	return nil
}

// Stop ends watching and closes the underlying watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.watching {
		return nil
	}
	w.cancel()
	w.watching = false

	if err := w.watcher.Close(); err != nil {
		return err
	}
	w.logger.Info("Stopped watching", "path", w.cfg.Path)
	return nil
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if err := w.watcher.Add(path); err != nil {
				w.logger.Warn("Failed to watch directory", "path", path, "error", err)
			}
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context) {
	pending := make(map[string]fsnotify.Event)
	var pendingMu sync.Mutex
	var debounceTimer *time.Timer

	flush := func() {
		pendingMu.Lock()
		events := pending
		pending = make(map[string]fsnotify.Event)
		pendingMu.Unlock()

		for _, event := range events {
			w.handle(ctx, event)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}

			pendingMu.Lock()
			pending[event.Name] = event
			pendingMu.Unlock()

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.cfg.DebounceDelay, flush)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "path", w.cfg.Path, "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	path := event.Name

	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			if err := w.addRecursive(path); err != nil {
				w.logger.Warn("Failed to watch new directory", "path", path, "error", err)
			}
			return
		}
		w.reingest(ctx, path)

	case event.Op&fsnotify.Write == fsnotify.Write:
		w.reingest(ctx, path)

	case event.Op&fsnotify.Remove == fsnotify.Remove,
		event.Op&fsnotify.Rename == fsnotify.Rename:
		docID := DocumentID(path)
		if _, err := w.pipeline.store.DeleteDocument(ctx, docID); err != nil {
			w.logger.Warn("Failed to delete removed document", "path", path, "error", err)
		} else {
			w.logger.Info("Removed document", "path", path, "document_id", docID)
		}
	}
}

func (w *Watcher) reingest(ctx context.Context, path string) {
	if !w.wantFile(path) {
		return
	}
	w.pipeline.Ingest(ctx, path, w.opts)
}

func (w *Watcher) wantFile(path string) bool {
	if len(w.cfg.Extensions) == 0 {
		return true
	}
	ext := filepath.Ext(path)
	for _, want := range w.cfg.Extensions {
		if ext == want {
			return true
		}
	}
	return false
}
