package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Citation is one structured web search result.
type Citation struct {
	Index   int    `json:"index"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Source  string `json:"source,omitempty"`
	Date    string `json:"date,omitempty"`
}

const webSearchMaxResults = 20

// WebSearcher performs web searches. The default implementation scrapes the
// DuckDuckGo HTML endpoint; tests inject canned results.
type WebSearcher interface {
	Search(ctx context.Context, query, searchType string, limit int) ([]Citation, error)
}

// WebSearch runs every query through the searcher, dedupes by (url, title),
// and caps results at min(limit, 20) per query. Errors become single-entry
// synthetic citations so the model always sees something per query.
func WebSearch(ctx context.Context, searcher WebSearcher, queries []string, searchType string, limit int) []Citation {
	if limit <= 0 || limit > webSearchMaxResults {
		limit = webSearchMaxResults
	}
	if searchType != "news" {
		searchType = "text"
	}

	seen := make(map[string]struct{})
	var citations []Citation
	for _, query := range queries {
		results, err := searcher.Search(ctx, query, searchType, limit)
		if err != nil {
			citations = append(citations, Citation{
				Index:   len(citations) + 1,
				Title:   fmt.Sprintf("search failed: %s", query),
				Snippet: err.Error(),
			})
			continue
		}
		count := 0
		for _, result := range results {
			if count >= limit {
				break
			}
			key := result.URL + "\x00" + result.Title
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			result.Index = len(citations) + 1
			citations = append(citations, result)
			count++
		}
	}
	return citations
}

// FormatCitations renders citations as a prompt block.
func FormatCitations(citations []Citation) string {
	var b strings.Builder
	for _, c := range citations {
		fmt.Fprintf(&b, "[%d] %s\n    %s\n    %s\n", c.Index, c.Title, c.URL, c.Snippet)
	}
	return b.String()
}

// DuckDuckGoSearcher scrapes the DuckDuckGo HTML endpoint. No API key is
// required, which keeps web search working against the local provider setup.
type DuckDuckGoSearcher struct {
	client *http.Client
}

// NewDuckDuckGoSearcher creates a searcher with a 15s request timeout.
func NewDuckDuckGoSearcher() *DuckDuckGoSearcher {
	return &DuckDuckGoSearcher{client: &http.Client{Timeout: 15 * time.Second}}
}

func (s *DuckDuckGoSearcher) Search(ctx context.Context, query, searchType string, limit int) ([]Citation, error) {
	endpoint := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(query)
	if searchType == "news" {
		endpoint += "&iar=news"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; milo-agent)")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse search results: %w", err)
	}

	var citations []Citation
	doc.Find(".result").EachWithBreak(func(i int, sel *goquery.Selection) bool {
		link := sel.Find(".result__a")
		href, _ := link.Attr("href")
		title := strings.TrimSpace(link.Text())
		snippet := strings.TrimSpace(sel.Find(".result__snippet").Text())
		if href == "" || title == "" {
			return true
		}
		citations = append(citations, Citation{
			Title:   title,
			URL:     resolveRedirect(href),
			Snippet: snippet,
			Source:  "duckduckgo",
		})
		return len(citations) < limit
	})
	return citations, nil
}

// resolveRedirect unwraps DuckDuckGo's uddg redirect parameter.
func resolveRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}
