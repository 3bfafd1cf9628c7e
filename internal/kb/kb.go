// Package kb holds the support knowledge base used to ground smart
// replies: local JSON documents plus articles scraped from help pages.
package kb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	readability "codeberg.org/readeck/go-readability/v2"
)

const (
	maxArticleSize = 50 * 1024 // 50KB text per scraped article
	fetchTimeout   = 30 * time.Second
)

// Doc is one knowledge base entry.
type Doc struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	URL     string   `json:"url,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// Base is an in-memory keyword-searchable document set.
type Base struct {
	mu     sync.RWMutex
	docs   []Doc
	client *http.Client
}

func New() *Base {
	return &Base{client: &http.Client{Timeout: fetchTimeout}}
}

// Add appends documents to the base.
func (b *Base) Add(docs ...Doc) {
	b.mu.Lock()
	b.docs = append(b.docs, docs...)
	b.mu.Unlock()
}

// Len returns the number of loaded documents.
func (b *Base) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.docs)
}

// LoadDir reads every .json file in dir. Each file holds either a single
// Doc or an array of Docs.
func (b *Base) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("kb: read dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("kb: read %s: %w", e.Name(), err)
		}
		var docs []Doc
		if err := json.Unmarshal(raw, &docs); err != nil {
			var one Doc
			if err := json.Unmarshal(raw, &one); err != nil {
				return fmt.Errorf("kb: parse %s: %w", e.Name(), err)
			}
			docs = []Doc{one}
		}
		b.Add(docs...)
	}
	return nil
}

// FetchURL scrapes a help page, extracts its readable text and adds it
// as a document.
func (b *Base) FetchURL(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("kb: invalid url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("kb: %w", err)
	}
	req.Header.Set("User-Agent", "freeda-kb/1.0")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("kb: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("kb: fetch %s: HTTP %d", rawURL, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/html") {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxArticleSize))
		b.Add(Doc{ID: rawURL, Title: rawURL, Content: string(body), URL: rawURL})
		return nil
	}

	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return fmt.Errorf("kb: parse: %w", err)
	}

	var buf bytes.Buffer
	if err := article.RenderText(&buf); err != nil {
		return fmt.Errorf("kb: render: %w", err)
	}
	text := buf.String()
	if len(text) > maxArticleSize {
		text = text[:maxArticleSize]
	}

	b.Add(Doc{ID: rawURL, Title: article.Title(), Content: text, URL: rawURL})
	return nil
}

// Result is a scored search hit.
type Result struct {
	Doc   Doc
	Score int
}

// Search ranks documents by keyword overlap with the query. Title hits
// weigh more than body hits. Documents with no overlap are omitted.
func (b *Base) Search(query string, limit int) []Result {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var results []Result
	for _, doc := range b.docs {
		title := strings.ToLower(doc.Title)
		content := strings.ToLower(doc.Content)
		tags := strings.ToLower(strings.Join(doc.Tags, " "))

		score := 0
		for _, term := range terms {
			if strings.Contains(title, term) {
				score += 3
			}
			if strings.Contains(tags, term) {
				score += 2
			}
			score += strings.Count(content, term)
		}
		if score > 0 {
			results = append(results, Result{Doc: doc, Score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// Context assembles the best-matching excerpts into a block suitable for
// a system prompt. Returns "" when nothing matches.
func (b *Base) Context(query string, limit, maxChars int) string {
	results := b.Search(query, limit)
	if len(results) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, r := range results {
		excerpt := r.Doc.Content
		if len(excerpt) > maxChars {
			excerpt = excerpt[:maxChars]
		}
		fmt.Fprintf(&sb, "### %s\n%s\n\n", r.Doc.Title, strings.TrimSpace(excerpt))
	}
	return strings.TrimSpace(sb.String())
}

// tokenize lowercases and splits a query, dropping short stopword-like
// tokens that would match everything.
func tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	var terms []string
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?'\"()")
		if len(f) >= 3 {
			terms = append(terms, f)
		}
	}
	return terms
}
