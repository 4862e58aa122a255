// Package search proxies web searches to a SerpAPI-compatible backend.
//
// The agent's built-in WebSearch tool is disallowed by policy; the UI and the
// search tool hit this proxy instead so the API key stays server-side and a
// token bucket caps upstream spend.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/agentgate/internal/config"
)

const (
	defaultBaseURL  = "https://serpapi.com/search"
	defaultEngine   = "google"
	defaultNum      = 5
	maxNum          = 10
	snippetMaxChars = 200
)

var (
	// ErrNoAPIKey means the proxy is unconfigured; handlers map it to 503.
	ErrNoAPIKey = errors.New("search: api key not configured (set SERPAPI_API_KEY)")
	// ErrRateLimited means the local token bucket is empty; handlers map it to 429.
	ErrRateLimited = errors.New("search: rate limit exceeded")
)

// Result is one normalized organic hit.
type Result struct {
	Position      int    `json:"position"`
	Title         string `json:"title"`
	Link          string `json:"link"`
	Snippet       string `json:"snippet"`
	DisplayedLink string `json:"displayed_link,omitempty"`
}

// Response is the proxy's reply shape for both GET and POST.
type Response struct {
	Success      bool     `json:"success"`
	Query        string   `json:"query"`
	Results      []Result `json:"results"`
	TotalResults int      `json:"total_results"`
	Error        string   `json:"error,omitempty"`
}

// Client calls the upstream search API with a process-local token bucket.
type Client struct {
	apiKey  string
	baseURL string
	engine  string
	http    *http.Client
	limiter *rate.Limiter
}

func New(cfg config.SearchConfig) *Client {
	engine := cfg.Engine
	if engine == "" {
		engine = defaultEngine
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		engine:  engine,
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool { return c.apiKey != "" }

// Search runs one query. numResults ≤ 0 uses the default; values above the
// cap are clamped. Returns ErrNoAPIKey / ErrRateLimited for the handler to
// translate, any other error wraps an upstream failure.
func (c *Client) Search(ctx context.Context, query string, numResults int) (*Response, error) {
	if c.apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if !c.limiter.Allow() {
		return nil, ErrRateLimited
	}
	if numResults <= 0 {
		numResults = defaultNum
	}
	if numResults > maxNum {
		numResults = maxNum
	}

	q := url.Values{}
	q.Set("engine", c.engine)
	q.Set("q", query)
	q.Set("api_key", c.apiKey)
	q.Set("num", strconv.Itoa(numResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "agentgate/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search upstream: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("search read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search upstream status %d", resp.StatusCode)
	}

	var parsed struct {
		OrganicResults []struct {
			Title         string `json:"title"`
			Link          string `json:"link"`
			Snippet       string `json:"snippet"`
			DisplayedLink string `json:"displayed_link"`
		} `json:"organic_results"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("search decode: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("search upstream: %s", parsed.Error)
	}

	out := &Response{Success: true, Query: query, Results: []Result{}}
	for i, item := range parsed.OrganicResults {
		if i >= numResults {
			break
		}
		snippet := item.Snippet
		if len(snippet) > snippetMaxChars {
			snippet = snippet[:snippetMaxChars]
		}
		out.Results = append(out.Results, Result{
			Position:      i + 1,
			Title:         item.Title,
			Link:          item.Link,
			Snippet:       snippet,
			DisplayedLink: item.DisplayedLink,
		})
	}
	out.TotalResults = len(out.Results)
	return out, nil
}
