package crossencoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	// DefaultBaseURL is the default scorer sidecar address.
	DefaultBaseURL = "http://localhost:8501"

	// DefaultRequestTimeout bounds a single scoring call.
	DefaultRequestTimeout = 10 * time.Second

	// DefaultProbeInterval limits how often an unavailable scorer is re-probed.
	DefaultProbeInterval = 1 * time.Minute
)

// HTTPConfig holds configuration for the HTTP scorer client.
type HTTPConfig struct {
	// BaseURL is the scorer base URL (default: http://localhost:8501).
	BaseURL string

	// Timeout bounds each scoring request.
	Timeout time.Duration

	// ProbeInterval limits how often availability is re-checked after a
	// failed probe.
	ProbeInterval time.Duration

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client
}

// HTTPGateway talks to a cross-encoder model server over HTTP
// (POST /score with a query/text pair). Availability is probed against
// /healthz and cached; an unreachable scorer puts the gateway in degraded
// mode until a later probe succeeds.
type HTTPGateway struct {
	baseURL       string
	timeout       time.Duration
	probeInterval time.Duration
	client        *http.Client

	mu        sync.Mutex
	available bool
	lastProbe time.Time
}

type scoreRequest struct {
	Query string `json:"query"`
	Text  string `json:"text"`
}

type scoreResponse struct {
	Score float64 `json:"score"`
}

// NewHTTPGateway creates a scorer client and probes availability once.
func NewHTTPGateway(ctx context.Context, cfg HTTPConfig) *HTTPGateway {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	probeInterval := cfg.ProbeInterval
	if probeInterval <= 0 {
		probeInterval = DefaultProbeInterval
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	g := &HTTPGateway{
		baseURL:       baseURL,
		timeout:       timeout,
		probeInterval: probeInterval,
		client:        client,
	}

	g.mu.Lock()
	g.available = g.probe(ctx)
	g.lastProbe = time.Now()
	g.mu.Unlock()

	if !g.Available() {
		slog.Warn("cross-encoder scorer unreachable, reranking degraded", "url", baseURL)
	}
	return g
}

// Score returns the relevance score for a (query, document) pair.
func (g *HTTPGateway) Score(ctx context.Context, query, document string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	jsonBody, err := json.Marshal(scoreRequest{Query: query, Text: document})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal score request: %w", err)
	}

	url := fmt.Sprintf("%s/score", g.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		g.markUnavailable()
		return 0, fmt.Errorf("failed to reach scorer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("scorer error (status %d): %s", resp.StatusCode, string(body))
	}

	var scoreResp scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&scoreResp); err != nil {
		return 0, fmt.Errorf("failed to decode score response: %w", err)
	}

	return scoreResp.Score, nil
}

// Available reports whether the scorer can currently be used. An
// unavailable scorer is re-probed at most once per probe interval.
func (g *HTTPGateway) Available() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.available {
		return true
	}
	if time.Since(g.lastProbe) < g.probeInterval {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()
	g.available = g.probe(ctx)
	g.lastProbe = time.Now()
	if g.available {
		slog.Info("cross-encoder scorer back online", "url", g.baseURL)
	}
	return g.available
}

func (g *HTTPGateway) markUnavailable() {
	g.mu.Lock()
	g.available = false
	g.lastProbe = time.Now()
	g.mu.Unlock()
}

func (g *HTTPGateway) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Ensure HTTPGateway implements Gateway interface.
var _ Gateway = (*HTTPGateway)(nil)
