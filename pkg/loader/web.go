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
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// maxWebBody bounds how much of a response body is read.
const maxWebBody = 10 << 20 // 10 MiB

// WebLoader fetches http(s) URLs and extracts their text.
type WebLoader struct {
	client *http.Client
}

// NewWebLoader creates a web loader. A nil client uses a default with a
// 30 second timeout.
func NewWebLoader(client *http.Client) *WebLoader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebLoader{client: client}
}

// Name returns the loader name.
func (wl *WebLoader) Name() string {
	return "WebLoader"
}

// CanLoad checks for an http(s) scheme.
func (wl *WebLoader) CanLoad(locator string) bool {
	return isURL(locator)
}

// Load fetches the URL and extracts text content. HTML responses are
// reduced to their visible text; other text responses pass through.
func (wl *WebLoader) Load(ctx context.Context, locator string) (*RawDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, NewSourceError(KindUnreachable, locator, wl.Name(),
			"invalid URL", err)
	}

	resp, err := wl.client.Do(req)
	if err != nil {
		return nil, NewSourceError(KindUnreachable, locator, wl.Name(),
			"request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewSourceError(KindUnreachable, locator, wl.Name(),
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxWebBody))
	if err != nil {
		return nil, NewSourceError(KindUnreachable, locator, wl.Name(),
			"failed to read response body", err)
	}

	contentType := resp.Header.Get("Content-Type")
	var content, title string

	switch {
	case strings.Contains(contentType, "text/html"):
		content, title = extractHTMLText(string(body))
	case strings.HasPrefix(contentType, "text/"),
		strings.Contains(contentType, "json"),
		strings.Contains(contentType, "xml"):
		cleaned, ok := cleanUTF8(string(body))
		if !ok {
			return nil, NewSourceError(KindCorrupt, locator, wl.Name(),
				"response is mostly invalid UTF-8", nil)
		}
		content = cleaned
	default:
		return nil, NewSourceError(KindUnsupported, locator, wl.Name(),
			fmt.Sprintf("unsupported content type %q", contentType), nil)
	}

	if title == "" {
		title = locator
	}

	return &RawDocument{
		Content: content,
		Title:   title,
		Metadata: map[string]string{
			"type":         "web",
			"content_type": contentType,
		},
		Size: int64(len(body)),
	}, nil
}

// Priority returns high priority (10); the scheme predicate is exact.
func (wl *WebLoader) Priority() int {
	return 10
}

// extractHTMLText walks the parsed HTML and collects visible text, skipping
// script and style subtrees. Parse errors are tolerated; html.Parse always
// returns a tree for HTML-ish input.
func extractHTMLText(raw string) (content, title string) {
	root, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return raw, ""
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			case "title":
				if title == "" && n.FirstChild != nil {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			}
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				sb.WriteString(text)
				sb.WriteString("\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	return strings.TrimSpace(sb.String()), title
}

// Ensure WebLoader implements Loader.
var _ Loader = (*WebLoader)(nil)
