package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const wikipediaSource = "wikipedia"

// WikipediaFetcher searches the MediaWiki API of one language edition.
type WikipediaFetcher struct {
	language string
	client   *http.Client
	limiter  *rate.Limiter
}

// NewWikipediaFetcher creates a fetcher for the given language edition
// ("en", "fr", ...).
func NewWikipediaFetcher(language string) *WikipediaFetcher {
	if language == "" {
		language = "en"
	}
	return &WikipediaFetcher{
		language: language,
		client:   &http.Client{Timeout: 15 * time.Second},
		// The API asks for no more than a request per second per client.
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

func (f *WikipediaFetcher) Source() string {
	return wikipediaSource
}

type wikipediaSearchResponse struct {
	Query struct {
		Search []struct {
			Title     string `json:"title"`
			Snippet   string `json:"snippet"`
			WordCount int    `json:"wordcount"`
		} `json:"search"`
	} `json:"query"`
}

func (f *WikipediaFetcher) Fetch(ctx context.Context, query string, limit int) ([]Resource, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("https://%s.wikipedia.org/w/api.php", f.language)
	params := url.Values{
		"action":   {"query"},
		"list":     {"search"},
		"srsearch": {query},
		"srlimit":  {fmt.Sprintf("%d", limit)},
		"format":   {"json"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create wikipedia request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wikipedia request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wikipedia API returned status %d", resp.StatusCode)
	}

	var result wikipediaSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode wikipedia response: %w", err)
	}

	resources := make([]Resource, 0, len(result.Query.Search))
	for _, hit := range result.Query.Search {
		resources = append(resources, Resource{
			Title:      hit.Title,
			Text:       stripMarkup(hit.Snippet),
			URL:        fmt.Sprintf("https://%s.wikipedia.org/wiki/%s", f.language, url.PathEscape(strings.ReplaceAll(hit.Title, " ", "_"))),
			Source:     wikipediaSource,
			Language:   f.language,
			Popularity: float64(hit.WordCount),
		})
	}
	return resources, nil
}

// stripMarkup removes the <span> highlight tags the search API embeds in
// snippets.
func stripMarkup(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

var _ Fetcher = (*WikipediaFetcher)(nil)
