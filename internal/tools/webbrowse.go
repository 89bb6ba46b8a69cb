package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	browseTimeout  = 15 * time.Second
	browseCharCap  = 20000
	browseMaxBytes = 2 * 1024 * 1024
)

// PageContent is the extracted text of one browsed URL.
type PageContent struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// Browser fetches and extracts page text.
type Browser struct {
	client  *http.Client
	charCap int
}

// NewBrowser creates a Browser with the standard per-URL timeout.
func NewBrowser() *Browser {
	return &Browser{
		client:  &http.Client{Timeout: browseTimeout},
		charCap: browseCharCap,
	}
}

// Browse fetches each URL, extracts the title and readable text, and returns
// one entry per URL. Per-URL failures become entry errors.
func (b *Browser) Browse(ctx context.Context, urls []string) []PageContent {
	out := make([]PageContent, 0, len(urls))
	for _, target := range urls {
		out = append(out, b.fetchOne(ctx, target))
	}
	return out
}

func (b *Browser) fetchOne(ctx context.Context, target string) PageContent {
	page := PageContent{URL: target}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		page.Error = err.Error()
		return page
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; milo-agent)")

	resp, err := b.client.Do(req)
	if err != nil {
		page.Error = fmt.Sprintf("fetch failed: %v", err)
		return page
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		page.Error = fmt.Sprintf("status %d", resp.StatusCode)
		return page
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, browseMaxBytes))
	if err != nil {
		page.Error = fmt.Sprintf("parse failed: %v", err)
		return page
	}

	page.Title = strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, noscript").Remove()

	// Block-level tags become newlines so paragraph structure survives.
	doc.Find("p, div, br, li, h1, h2, h3, h4, h5, h6, tr, article, section").Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml("\n")
	})

	text := doc.Find("body").Text()
	text = collapseWhitespace(text)
	if len([]rune(text)) > b.charCap {
		text = string([]rune(text)[:b.charCap]) + "\n... (truncated)"
	}
	page.Text = text
	return page
}

var (
	multiSpaceRe   = regexp.MustCompile(`[ \t]+`)
	multiNewlineRe = regexp.MustCompile(`\n{3,}`)
)

func collapseWhitespace(text string) string {
	text = multiSpaceRe.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	return strings.TrimSpace(multiNewlineRe.ReplaceAllString(text, "\n\n"))
}

// FormatPages renders browsed pages as a prompt block.
func FormatPages(pages []PageContent) string {
	var b strings.Builder
	for _, page := range pages {
		if page.Error != "" {
			fmt.Fprintf(&b, "=== %s ===\nERROR: %s\n\n", page.URL, page.Error)
			continue
		}
		fmt.Fprintf(&b, "=== %s ===\nTitle: %s\n\n%s\n\n", page.URL, page.Title, page.Text)
	}
	return b.String()
}
