package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

const blogSource = "blog"

// BlogFetcher pulls articles from dev.to: the article listing comes from
// the JSON API, the body text is extracted from the article page HTML.
type BlogFetcher struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewBlogFetcher creates a dev.to article fetcher.
func NewBlogFetcher() *BlogFetcher {
	return &BlogFetcher{
		baseURL: "https://dev.to",
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

func (f *BlogFetcher) Source() string {
	return blogSource
}

type devtoArticle struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Reactions   int    `json:"public_reactions_count"`
	Language    string `json:"language"`
}

func (f *BlogFetcher) Fetch(ctx context.Context, query string, limit int) ([]Resource, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{
		"tag":      {tagify(query)},
		"per_page": {fmt.Sprintf("%d", limit)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/api/articles?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blog request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("blog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("blog API returned status %d", resp.StatusCode)
	}

	var articles []devtoArticle
	if err := json.NewDecoder(resp.Body).Decode(&articles); err != nil {
		return nil, fmt.Errorf("failed to decode blog response: %w", err)
	}

	resources := make([]Resource, 0, len(articles))
	for _, art := range articles {
		text, err := f.articleText(ctx, art.URL)
		if err != nil {
			// The listing description is enough to index the article.
			slog.Debug("falling back to article description", "url", art.URL, "error", err)
			text = art.Description
		}
		lang := art.Language
		if lang == "" {
			lang = "en"
		}
		resources = append(resources, Resource{
			Title:      art.Title,
			Text:       text,
			URL:        art.URL,
			Source:     blogSource,
			Language:   lang,
			Popularity: float64(art.Reactions),
		})
	}
	return resources, nil
}

// articleText fetches the article page and extracts its body paragraphs.
func (f *BlogFetcher) articleText(ctx context.Context, articleURL string) (string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, articleURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("article page returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to parse article page: %w", err)
	}

	var parts []string
	doc.Find("article p, #article-body p").EachWithBreak(func(_ int, p *goquery.Selection) bool {
		if t := strings.TrimSpace(p.Text()); t != "" {
			parts = append(parts, t)
		}
		return len(parts) < 40
	})
	if len(parts) == 0 {
		return "", fmt.Errorf("no article body found")
	}
	return strings.Join(parts, "\n"), nil
}

// tagify maps a free-text query onto a dev.to tag: first word, lowercase,
// alphanumerics only.
func tagify(query string) string {
	fields := strings.Fields(strings.ToLower(query))
	if len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	for _, r := range fields[0] {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var _ Fetcher = (*BlogFetcher)(nil)
