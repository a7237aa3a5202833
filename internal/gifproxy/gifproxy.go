package gifproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// MediaItem is one candidate meme returned by the provider.
type MediaItem struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	PreviewURL string `json:"preview_url,omitempty"`
	Title      string `json:"title,omitempty"`
}

// Page is a results slice plus an opaque cursor for the next page; an empty
// cursor means the provider has no more results.
type Page struct {
	Results []MediaItem `json:"results"`
	Next    string      `json:"next,omitempty"`
}

// ProviderError wraps a non-2xx provider response so handlers can map it to a
// 502 instead of leaking provider internals.
type ProviderError struct {
	StatusCode int
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("gif provider responded %d", e.StatusCode)
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Search forwards a query to the provider. An empty cursor starts from the
// first page.
func (c *Client) Search(ctx context.Context, query, cursor string, limit int) (*Page, error) {
	params := url.Values{}
	params.Set("q", query)
	return c.fetch(ctx, "/search", params, cursor, limit)
}

// Trending returns the provider's current trending set.
func (c *Client) Trending(ctx context.Context, cursor string, limit int) (*Page, error) {
	return c.fetch(ctx, "/featured", url.Values{}, cursor, limit)
}

type providerResponse struct {
	Results []struct {
		ID           string `json:"id"`
		Title        string `json:"title"`
		MediaFormats map[string]struct {
			URL string `json:"url"`
		} `json:"media_formats"`
	} `json:"results"`
	Next string `json:"next"`
}

func (c *Client) fetch(ctx context.Context, path string, params url.Values, cursor string, limit int) (*Page, error) {
	params.Set("key", c.apiKey)
	if cursor != "" {
		params.Set("pos", cursor)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprint(limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{StatusCode: resp.StatusCode}
	}

	var raw providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding provider response: %w", err)
	}

	page := &Page{Next: raw.Next, Results: make([]MediaItem, 0, len(raw.Results))}
	for _, r := range raw.Results {
		item := MediaItem{ID: r.ID, Title: r.Title}
		if gif, ok := r.MediaFormats["gif"]; ok {
			item.URL = gif.URL
		}
		if preview, ok := r.MediaFormats["tinygif"]; ok {
			item.PreviewURL = preview.URL
		}
		page.Results = append(page.Results, item)
	}
	return page, nil
}
