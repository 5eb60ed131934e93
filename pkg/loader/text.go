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

package loader

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// TextLoader handles plain text files.
type TextLoader struct{}

// NewTextLoader creates a new text loader.
func NewTextLoader() *TextLoader {
	return &TextLoader{}
}

// Name returns the loader name.
func (tl *TextLoader) Name() string {
	return "TextLoader"
}

// CanLoad checks if this is a local text file.
func (tl *TextLoader) CanLoad(locator string) bool {
	if isURL(locator) {
		return false
	}
	return !tl.isBinaryFile(locator)
}

// Load reads and cleans text content.
func (tl *TextLoader) Load(ctx context.Context, locator string) (*RawDocument, error) {
	contentBytes, err := os.ReadFile(locator)
	if err != nil {
		return nil, NewSourceError(KindUnreachable, locator, tl.Name(),
			"failed to read file", err)
	}

	content, ok := cleanUTF8(string(contentBytes))
	if !ok {
		return nil, NewSourceError(KindCorrupt, locator, tl.Name(),
			"content is mostly invalid UTF-8", nil)
	}

	return &RawDocument{
		Content:  content,
		Title:    filepath.Base(locator),
		Metadata: map[string]string{"type": "text"},
		Size:     int64(len(contentBytes)),
	}, nil
}

// Priority returns low priority (1) so format-specific loaders win.
func (tl *TextLoader) Priority() int {
	return 1
}

// isBinaryFile checks if a file is binary by sniffing its first 512 bytes.
func (tl *TextLoader) isBinaryFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		// Unreadable files are handled (and classified) by Load.
		return false
	}
	defer f.Close()

	buffer := make([]byte, 512)
	n, err := f.Read(buffer)
	if err != nil || n == 0 {
		return false
	}

	mimeType := http.DetectContentType(buffer[:n])
	return !isTextMimeType(mimeType)
}

// isTextMimeType checks if a MIME type is text-based.
func isTextMimeType(mimeType string) bool {
	return strings.HasPrefix(mimeType, "text/") ||
		mimeType == "application/json" ||
		mimeType == "application/xml" ||
		strings.Contains(mimeType, "javascript")
}

// cleanUTF8 validates and cleans UTF-8 content. It returns false when more
// than half of the input had to be discarded.
func cleanUTF8(content string) (string, bool) {
	if utf8.ValidString(content) {
		return content, true
	}

	cleaned := strings.ToValidUTF8(content, "")
	if len(content) > 0 {
		invalidRatio := float64(len(content)-len(cleaned)) / float64(len(content))
		if invalidRatio > 0.5 {
			return "", false
		}
	}
	return cleaned, true
}

// Ensure TextLoader implements Loader.
var _ Loader = (*TextLoader)(nil)
