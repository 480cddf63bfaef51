package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Searcher is the contract with the external dataset-search backend.
type Searcher interface {
	// Discover searches for datasets matching a free-text query.
	Discover(ctx context.Context, query string, limit int) ([]Ref, error)

	// GetInfo fetches full metadata for a known accession.
	GetInfo(ctx context.Context, id string) (Ref, error)
}

// HTTPSearchClient talks to the dataset-search backend over HTTP/JSON.
type HTTPSearchClient struct {
	baseURL    string
	httpClient *http.Client
	onProgress ProgressFunc
}

// SearchClientConfig holds configuration for the search client.
type SearchClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	OnProgress ProgressFunc
}

// NewHTTPSearchClient creates a search client for the given backend.
func NewHTTPSearchClient(config SearchClientConfig) *HTTPSearchClient {
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	return &HTTPSearchClient{
		baseURL: config.BaseURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		onProgress: config.OnProgress,
	}
}

type discoverResponse struct {
	Datasets []Ref `json:"datasets"`
}

// Discover searches for datasets matching the query.
func (c *HTTPSearchClient) Discover(ctx context.Context, query string, limit int) ([]Ref, error) {
	c.report(Progress{Message: "Searching datasets", Progress: 10, Step: "discover", CurrentTerm: query})

	u := fmt.Sprintf("%s/discover?q=%s&limit=%s",
		c.baseURL, url.QueryEscape(query), strconv.Itoa(limit))

	var result discoverResponse
	if err := c.getJSON(ctx, u, &result); err != nil {
		return nil, err
	}

	c.report(Progress{
		Message:       fmt.Sprintf("Found %d datasets", len(result.Datasets)),
		Progress:      100,
		Step:          "discover",
		DatasetsFound: len(result.Datasets),
		CurrentTerm:   query,
	})
	return result.Datasets, nil
}

// GetInfo fetches full metadata for one accession.
func (c *HTTPSearchClient) GetInfo(ctx context.Context, id string) (Ref, error) {
	var ref Ref
	u := fmt.Sprintf("%s/datasets/%s", c.baseURL, url.PathEscape(id))
	if err := c.getJSON(ctx, u, &ref); err != nil {
		return Ref{}, err
	}
	if ref.ID == "" {
		ref.ID = id
	}
	return ref, nil
}

func (c *HTTPSearchClient) getJSON(ctx context.Context, u string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("search backend returned status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *HTTPSearchClient) report(p Progress) {
	if c.onProgress != nil {
		c.onProgress(p)
	}
}
