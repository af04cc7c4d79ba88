// Package search queries the Tavily web search API.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/tabchat/internal/errdefs"
)

const (
	DefaultBaseURL    = "https://api.tavily.com"
	defaultMaxResults = 2
	defaultTimeout    = 15 * time.Second
	maxResponseBytes  = 1 << 20
)

// Result is one search hit, shaped like Tavily's result objects.
type Result struct {
	Title   string  `json:"title,omitempty"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// Options configures a Client.
type Options struct {
	APIKey     string
	BaseURL    string
	MaxResults int
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client calls Tavily's /search endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	maxResults int
	timeout    time.Duration
	http       *http.Client
}

// New creates a Client, filling zero options with defaults.
func New(opts Options) *Client {
	c := &Client{
		apiKey:     opts.APIKey,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		maxResults: opts.MaxResults,
		timeout:    opts.Timeout,
		http:       opts.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.maxResults <= 0 {
		c.maxResults = defaultMaxResults
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	return c
}

type searchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type searchResponse struct {
	Results []Result `json:"results"`
}

// Search returns at most the configured number of results for query. All
// remote failures are wrapped as errdefs.ErrExternalCapability.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query is empty: %w", errdefs.ErrInvalidInput)
	}
	if c.apiKey == "" {
		return nil, errdefs.External("web search", errors.New("TABCHAT_SEARCH_TAVILY_API_KEY is not set"))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(searchRequest{Query: query, MaxResults: c.maxResults})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errdefs.External("web search", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errdefs.External("web search", fmt.Errorf("reading response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errdefs.External("web search", fmt.Errorf("status %d: %s", resp.StatusCode, remoteMessage(raw)))
	}

	var sr searchResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, errdefs.External("web search", fmt.Errorf("decoding response: %w", err))
	}
	if len(sr.Results) > c.maxResults {
		sr.Results = sr.Results[:c.maxResults]
	}
	if sr.Results == nil {
		sr.Results = []Result{}
	}
	return sr.Results, nil
}

// remoteMessage extracts Tavily's error detail, falling back to the raw body.
func remoteMessage(raw []byte) string {
	var e struct {
		Detail any    `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil {
		switch d := e.Detail.(type) {
		case string:
			return d
		case map[string]any:
			if msg, ok := d["error"].(string); ok {
				return msg
			}
		}
		if e.Error != "" {
			return e.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
