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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFLoader extracts text from PDF files.
type PDFLoader struct{}

// NewPDFLoader creates a new PDF loader.
func NewPDFLoader() *PDFLoader {
	return &PDFLoader{}
}

// Name returns the loader name.
func (pl *PDFLoader) Name() string {
	return "PDFLoader"
}

// CanLoad checks the file extension.
func (pl *PDFLoader) CanLoad(locator string) bool {
	return !isURL(locator) && strings.ToLower(filepath.Ext(locator)) == ".pdf"
}

// Load extracts page text from the PDF.
func (pl *PDFLoader) Load(ctx context.Context, locator string) (*RawDocument, error) {
	file, err := os.Open(locator)
	if err != nil {
		return nil, NewSourceError(KindUnreachable, locator, pl.Name(),
			"failed to open PDF file", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, NewSourceError(KindUnreachable, locator, pl.Name(),
			"failed to stat PDF file", err)
	}

	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		if isEncryptionError(err) {
			return nil, NewSourceError(KindEncrypted, locator, pl.Name(),
				"PDF is password protected", err)
		}
		return nil, NewSourceError(KindCorrupt, locator, pl.Name(),
			"failed to parse PDF", err)
	}

	var contentParts []string
	totalPages := reader.NumPage()

	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page does not fail the document.
			continue
		}
		if strings.TrimSpace(text) != "" {
			contentParts = append(contentParts, text)
		}
	}

	return &RawDocument{
		Content: strings.Join(contentParts, "\n\n"),
		Title:   filepath.Base(locator),
		Metadata: map[string]string{
			"type":  "pdf",
			"pages": fmt.Sprintf("%d", totalPages),
		},
		Size: info.Size(),
	}, nil
}

// Priority returns medium priority (5).
func (pl *PDFLoader) Priority() int {
	return 5
}

// isEncryptionError detects password-protected PDFs from the parser error.
func isEncryptionError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "encrypt") || strings.Contains(msg, "password")
}

// Ensure PDFLoader implements Loader.
var _ Loader = (*PDFLoader)(nil)
