// Package mcp provides MCP server tools for the spamming engine: a
// read-only reporting surface over contenderd's HTTP API (run status,
// run listing, campaign status). It never starts or stops a run —
// scenario execution is a CLI concern — so the underlying client only
// needs GET.
package mcp

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a thin read-only HTTP client for contenderd's reporting API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new client against contenderd's HTTP API at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Get performs a GET request and returns the raw JSON body.
func (c *Client) Get(path string) (json.RawMessage, error) {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	return json.RawMessage(body), nil
}
