package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
)

// maxPageChars caps extracted page text handed back to the model.
const maxPageChars = 50000

// Article is the readable part of an HTML document.
type Article struct {
	Title   string
	Excerpt string
	Text    string
}

// Report renders the article the way tools hand content to the model.
func (a Article) Report(limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "TITLE: %s\n", a.Title)
	if a.Excerpt != "" {
		fmt.Fprintf(&b, "EXCERPT: %s\n", a.Excerpt)
	}
	b.WriteString("\n-- CONTENT --\n")
	text := a.Text
	if limit > 0 && len(text) > limit {
		text = text[:limit] + "\n... (content truncated) ..."
	}
	b.WriteString(text)
	return b.String()
}

// ExtractArticle runs readability over r and strips any markup left in the
// text. base may be nil.
func ExtractArticle(r io.Reader, base *url.URL) (Article, error) {
	if base == nil {
		base = &url.URL{}
	}
	article, err := readability.FromReader(r, base)
	if err != nil {
		return Article{}, fmt.Errorf("failed to parse article: %w", err)
	}
	p := bluemonday.StrictPolicy()
	return Article{
		Title:   strings.TrimSpace(p.Sanitize(article.Title)),
		Excerpt: strings.TrimSpace(p.Sanitize(article.Excerpt)),
		Text:    strings.TrimSpace(p.Sanitize(article.TextContent)),
	}, nil
}

// PageTool fetches a URL and returns its readable content. Workers use it to
// inspect pages that earlier steps published.
type PageTool struct {
	Client    *http.Client
	UserAgent string
}

func NewPageTool() *PageTool {
	return &PageTool{
		Client:    &http.Client{Timeout: 30 * time.Second},
		UserAgent: "Mozilla/5.0 (compatible; planpilot/1.0)",
	}
}

func (s *PageTool) Name() string {
	return "fetch_page"
}

func (s *PageTool) Description() string {
	return "Fetch a webpage URL and extract the main content as clean, sanitized text."
}

func (s *PageTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The full URL of the page to read (e.g., https://example.com/pricing)",
			},
		},
		"required": []string{"url"},
	}
}

func (s *PageTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %v", err)
	}
	parsedURL, err := url.Parse(args.URL)
	if err != nil || parsedURL.Scheme == "" {
		return "", fmt.Errorf("invalid url %q", args.URL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, args.URL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("User-Agent", s.UserAgent)

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch URL: status code %d", resp.StatusCode)
	}

	article, err := ExtractArticle(resp.Body, parsedURL)
	if err != nil {
		return "", err
	}
	return article.Report(maxPageChars), nil
}
