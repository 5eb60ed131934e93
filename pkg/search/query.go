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

// Package search merges vector and lexical retrieval into a single ranked
// result list with phrase-aware exact-match boosting.
package search

import (
	"regexp"
	"strings"
)

// ParsedQuery is a free-text query split into its quoted phrases and loose
// terms. Phrases must match as adjacent word sequences; terms contribute
// individually to lexical relevance.
type ParsedQuery struct {
	Phrases []string
	Terms   []string
}

// IsEmpty reports whether the query contains no usable parts.
func (q ParsedQuery) IsEmpty() bool {
	return len(q.Phrases) == 0 && len(q.Terms) == 0
}

// ParseQuery splits a query into double-quoted phrases and remaining loose
// terms. An unbalanced trailing quote is treated as loose terms rather than
// an error.
func ParseQuery(query string) ParsedQuery {
	var parsed ParsedQuery

	rest := query
	for {
		open := strings.IndexByte(rest, '"')
		if open < 0 {
			parsed.Terms = append(parsed.Terms, strings.Fields(rest)...)
			break
		}
		parsed.Terms = append(parsed.Terms, strings.Fields(rest[:open])...)

		close := strings.IndexByte(rest[open+1:], '"')
		if close < 0 {
			parsed.Terms = append(parsed.Terms, strings.Fields(rest[open+1:])...)
			break
		}

		phrase := strings.TrimSpace(rest[open+1 : open+1+close])
		if phrase != "" {
			parsed.Phrases = append(parsed.Phrases, phrase)
		}
		rest = rest[open+close+2:]
	}

	return parsed
}

var wordPattern = regexp.MustCompile(`[\pL\pN_]+`)

// containsPhrase reports whether text contains the phrase's words as an
// adjacent sequence, case-insensitive and word-boundary aware: "red car"
// matches "a red car passed" but not "red sports car" or "reddish carpet".
func containsPhrase(text, phrase string) bool {
	want := wordPattern.FindAllString(strings.ToLower(phrase), -1)
	if len(want) == 0 {
		return true
	}
	words := wordPattern.FindAllString(strings.ToLower(text), -1)

outer:
	for i := 0; i+len(want) <= len(words); i++ {
		for j, w := range want {
			if words[i+j] != w {
				continue outer
			}
		}
		return true
	}
	return false
}

// matchesAllPhrases reports whether text satisfies every quoted phrase.
func matchesAllPhrases(text string, phrases []string) bool {
	for _, p := range phrases {
		if !containsPhrase(text, p) {
			return false
		}
	}
	return true
}
