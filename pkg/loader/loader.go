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

// Package loader maps source locators (file paths, URLs) to format-specific
// converters that produce normalized UTF-8 text plus structural metadata.
package loader

import (
	"context"
	"sort"
	"strings"
)

// Loader converts one class of sources into raw text.
type Loader interface {
	// Name returns the loader name for logging and failure reports.
	Name() string

	// CanLoad determines if this loader can handle the given locator.
	CanLoad(locator string) bool

	// Load reads the source and returns its text content and metadata.
	// Failures are returned as *SourceError.
	Load(ctx context.Context, locator string) (*RawDocument, error)

	// Priority returns the priority (higher = preferred when multiple
	// loaders match).
	Priority() int
}

// RawDocument is the loader output handed to the ingestion pipeline.
type RawDocument struct {
	Content    string            // Normalized UTF-8 text content
	Title      string            // Document title, if available
	Metadata   map[string]string // Structural metadata (pages, sheets, ...)
	LoaderName string            // Name of the loader that produced this
	Size       int64             // Raw source size in bytes
}

// Registry manages the ordered set of loaders.
type Registry struct {
	loaders []Loader
}

// NewRegistry creates a registry with the built-in loaders registered.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(NewTextLoader())
	r.Register(NewPDFLoader())
	r.Register(NewOfficeLoader())
	r.Register(NewWebLoader(nil))
	return r
}

// Register adds a loader to the registry.
func (r *Registry) Register(l Loader) {
	r.loaders = append(r.loaders, l)

	// Sort by priority (higher first)
	sort.SliceStable(r.loaders, func(i, j int) bool {
		return r.loaders[i].Priority() > r.loaders[j].Priority()
	})
}

// Load selects the first loader whose predicate matches the locator and
// invokes it. No loader matching yields an unsupported-format failure.
func (r *Registry) Load(ctx context.Context, locator string) (*RawDocument, error) {
	for _, l := range r.loaders {
		if !l.CanLoad(locator) {
			continue
		}
		doc, err := l.Load(ctx, locator)
		if err != nil {
			return nil, err
		}
		doc.LoaderName = l.Name()
		return doc, nil
	}

	return nil, NewSourceError(KindUnsupported, locator, "",
		"no loader registered for this source", nil)
}

// HasLoaderFor checks if any loader can handle the given locator, without
// reading it. Useful for filtering before a batch ingestion.
func (r *Registry) HasLoaderFor(locator string) bool {
	for _, l := range r.loaders {
		if l.CanLoad(locator) {
			return true
		}
	}
	return false
}

// Loaders returns all registered loaders (for debugging).
func (r *Registry) Loaders() []Loader {
	return r.loaders
}

// isURL reports whether the locator is a web address rather than a path.
func isURL(locator string) bool {
	return strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://")
}
