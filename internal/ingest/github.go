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

const githubSource = "github"

// GitHubFetcher searches repositories via the GitHub search API. Awesome
// lists and tutorial repositories make decent learning resources, so the
// query is biased toward them.
type GitHubFetcher struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
}

// NewGitHubFetcher creates a fetcher. The token is optional; without one
// the unauthenticated rate limit of 10 searches per minute applies.
func NewGitHubFetcher(token string) *GitHubFetcher {
	return &GitHubFetcher{
		baseURL: "https://api.github.com",
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Every(6*time.Second), 1),
	}
}

func (f *GitHubFetcher) Source() string {
	return githubSource
}

type githubSearchResponse struct {
	Items []struct {
		FullName    string   `json:"full_name"`
		Description string   `json:"description"`
		HTMLURL     string   `json:"html_url"`
		Stargazers  int      `json:"stargazers_count"`
		Topics      []string `json:"topics"`
	} `json:"items"`
}

func (f *GitHubFetcher) Fetch(ctx context.Context, query string, limit int) ([]Resource, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{
		"q":        {query + " tutorial OR course OR learning"},
		"sort":     {"stars"},
		"order":    {"desc"},
		"per_page": {fmt.Sprintf("%d", limit)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/search/repositories?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create github request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github API returned status %d", resp.StatusCode)
	}

	var result githubSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode github response: %w", err)
	}

	resources := make([]Resource, 0, len(result.Items))
	for _, item := range result.Items {
		text := item.Description
		if len(item.Topics) > 0 {
			text += " Topics: " + strings.Join(item.Topics, ", ")
		}
		resources = append(resources, Resource{
			Title:      item.FullName,
			Text:       strings.TrimSpace(text),
			URL:        item.HTMLURL,
			Source:     githubSource,
			Language:   "en",
			Popularity: float64(item.Stargazers),
		})
	}
	return resources, nil
}

var _ Fetcher = (*GitHubFetcher)(nil)
