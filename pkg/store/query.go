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

package store

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// buildFilterClause compiles a Filter into SQL conditions. Placeholders
// start at $next; the returned string is empty when the filter is zero,
// otherwise it begins with " AND ".
func buildFilterClause(f Filter, next int) (string, []any) {
	var conds []string
	var args []any

	add := func(cond string, arg any) {
		conds = append(conds, fmt.Sprintf(cond, next))
		args = append(args, arg)
		next++
	}

	if f.DocumentID != "" {
		add("document_id = $%d", f.DocumentID)
	}
	if f.DocumentType != "" {
		add("metadata->>'"+MetadataDocumentTypeKey+"' = $%d", f.DocumentType)
	}
	if f.SourceURIPattern != "" {
		add("source_uri LIKE $%d", f.SourceURIPattern)
	}

	// Stable ordering keeps generated SQL deterministic for a given filter.
	keys := make([]string, 0, len(f.Metadata))
	for k := range f.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cond := fmt.Sprintf("metadata->>%s = $%%d", quoteLiteral(k))
		add(cond, f.Metadata[k])
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(conds, " AND "), args
}

// quoteLiteral escapes a string for embedding as a SQL literal. Metadata
// keys cannot be bound as placeholders inside the ->> operator's left-hand
// expression position across all drivers, so they are quoted inline.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

var tsTokenPattern = regexp.MustCompile(`[\pL\pN_]+`)

// BuildTSQuery compiles parsed query parts into a tsquery expression.
// Words inside a phrase are joined with the <-> adjacency operator, loose
// terms are ORed together, and the phrase groups and the term group are
// ANDed. Tokens are reduced to letters, digits and underscores, which makes
// the result safe to pass to to_tsquery.
func BuildTSQuery(phrases []string, terms []string) string {
	var groups []string

	for _, phrase := range phrases {
		words := tsTokenPattern.FindAllString(strings.ToLower(phrase), -1)
		if len(words) == 0 {
			continue
		}
		if len(words) == 1 {
			groups = append(groups, words[0])
			continue
		}
		groups = append(groups, "("+strings.Join(words, " <-> ")+")")
	}

	var loose []string
	for _, term := range terms {
		words := tsTokenPattern.FindAllString(strings.ToLower(term), -1)
		loose = append(loose, words...)
	}
	if len(loose) > 0 {
		if len(loose) == 1 {
			groups = append(groups, loose[0])
		} else {
			groups = append(groups, "("+strings.Join(loose, " | ")+")")
		}
	}

	return strings.Join(groups, " & ")
}

// likeMatch evaluates a SQL LIKE pattern against a value in-process.
// Only % and _ wildcards are supported, matching PostgreSQL defaults.
func likeMatch(pattern, value string) bool {
	var re strings.Builder
	re.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			re.WriteString(".*")
		case '_':
			re.WriteString(".")
		default:
			re.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	re.WriteString("$")
	matched, err := regexp.MatchString(re.String(), value)
	return err == nil && matched
}
