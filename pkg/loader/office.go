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
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

// oleMagic is the OLE compound file signature. Password-protected Office
// documents are OLE containers wrapping the encrypted OOXML payload.
var oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// OfficeLoader handles Word (.docx) and Excel (.xlsx) documents.
type OfficeLoader struct{}

// NewOfficeLoader creates a new Office document loader.
func NewOfficeLoader() *OfficeLoader {
	return &OfficeLoader{}
}

// Name returns the loader name.
func (ol *OfficeLoader) Name() string {
	return "OfficeLoader"
}

// CanLoad checks the file extension.
func (ol *OfficeLoader) CanLoad(locator string) bool {
	if isURL(locator) {
		return false
	}
	ext := strings.ToLower(filepath.Ext(locator))
	return ext == ".docx" || ext == ".xlsx"
}

// Load extracts text from the Office document.
func (ol *OfficeLoader) Load(ctx context.Context, locator string) (*RawDocument, error) {
	info, err := os.Stat(locator)
	if err != nil {
		return nil, NewSourceError(KindUnreachable, locator, ol.Name(),
			"failed to stat file", err)
	}

	if encrypted, err := ol.isEncryptedContainer(locator); err == nil && encrypted {
		return nil, NewSourceError(KindEncrypted, locator, ol.Name(),
			"document is password protected", nil)
	}

	switch strings.ToLower(filepath.Ext(locator)) {
	case ".docx":
		return ol.loadWord(locator, info.Size())
	case ".xlsx":
		return ol.loadExcel(ctx, locator, info.Size())
	default:
		return nil, NewSourceError(KindUnsupported, locator, ol.Name(),
			"unsupported Office format", nil)
	}
}

// Priority returns medium priority (5).
func (ol *OfficeLoader) Priority() int {
	return 5
}

func (ol *OfficeLoader) loadWord(locator string, size int64) (*RawDocument, error) {
	doc, err := docx.ReadDocxFile(locator)
	if err != nil {
		return nil, NewSourceError(KindCorrupt, locator, ol.Name(),
			"failed to parse Word document", err)
	}
	defer doc.Close()

	content := doc.Editable().GetContent()
	return &RawDocument{
		Content: content,
		Title:   filepath.Base(locator),
		Metadata: map[string]string{
			"type":       "docx",
			"paragraphs": fmt.Sprintf("%d", len(strings.Split(content, "\n\n"))),
		},
		Size: size,
	}, nil
}

func (ol *OfficeLoader) loadExcel(ctx context.Context, locator string, size int64) (*RawDocument, error) {
	f, err := excelize.OpenFile(locator)
	if err != nil {
		return nil, NewSourceError(KindCorrupt, locator, ol.Name(),
			"failed to parse Excel document", err)
	}
	defer f.Close()

	var contentParts []string
	sheets := f.GetSheetList()

	for _, sheetName := range sheets {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}

		var sheetText strings.Builder
		sheetText.WriteString(sheetName + "\n")
		for _, row := range rows {
			var cells []string
			for _, cell := range row {
				if text := strings.TrimSpace(cell); text != "" {
					cells = append(cells, text)
				}
			}
			if len(cells) > 0 {
				sheetText.WriteString(strings.Join(cells, "\t") + "\n")
			}
		}
		if text := strings.TrimSpace(sheetText.String()); text != sheetName {
			contentParts = append(contentParts, sheetText.String())
		}
	}

	return &RawDocument{
		Content: strings.Join(contentParts, "\n\n"),
		Title:   filepath.Base(locator),
		Metadata: map[string]string{
			"type":   "xlsx",
			"sheets": fmt.Sprintf("%d", len(sheets)),
		},
		Size: size,
	}, nil
}

// isEncryptedContainer sniffs for the OLE compound-file signature that
// password-protected OOXML documents are wrapped in.
func (ol *OfficeLoader) isEncryptedContainer(locator string) (bool, error) {
	f, err := os.Open(locator)
	if err != nil {
		return false, err
	}
	defer f.Close()

	header := make([]byte, len(oleMagic))
	n, err := f.Read(header)
	if err != nil || n < len(oleMagic) {
		return false, err
	}
	return bytes.Equal(header, oleMagic), nil
}

// Ensure OfficeLoader implements Loader.
var _ Loader = (*OfficeLoader)(nil)
