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

// Package ingest drives documents from their sources into the store:
// load, change-detect, chunk, embed, write.
package ingest

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint computes the content hash used for change detection. Two
// loads of a source with identical normalized content produce the same
// fingerprint regardless of load time.
func Fingerprint(content string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(content))
}

// DocumentID derives the stable document identity from its locator. The
// same locator always maps to the same document, so re-ingesting replaces
// rather than duplicates.
func DocumentID(locator string) string {
	return fmt.Sprintf("doc-%016x", xxhash.Sum64String(locator))
}
