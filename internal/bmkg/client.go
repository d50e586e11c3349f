// Package bmkg provides the client for the BMKG nowcast REST API.
package bmkg

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

const maxBodyBytes = 5 * 1024 * 1024

// ListItem is one entry from GET /v1/nowcast.
type ListItem struct {
	Code        string `json:"code"`
	Province    string `json:"province"`
	Description string `json:"description"`
	PublishedAt string `json:"published_at"`
	DetailURL   string `json:"detail_url"`
}

// Area is a geographic region affected by a warning. Code is the
// administrative area code when the feed provides one. Polygon is a flat
// list of [lat, lon] pairs as the feed returns it.
type Area struct {
	Name    string      `json:"name"`
	Code    string      `json:"code,omitempty"`
	Polygon [][]float64 `json:"polygon,omitempty"`
}

// Warning is one weather warning from GET /v1/nowcast/{code}.
type Warning struct {
	Identifier     string `json:"identifier"`
	Event          string `json:"event"`
	Severity       string `json:"severity"`
	Urgency        string `json:"urgency"`
	Certainty      string `json:"certainty"`
	Effective      string `json:"effective"`
	Expires        string `json:"expires"`
	Headline       string `json:"headline"`
	Description    string `json:"description"`
	Sender         string `json:"sender"`
	InfographicURL string `json:"infographic_url"`
	Areas          []Area `json:"areas"`
	IsExpired      bool   `json:"is_expired"`
}

// Detail is the body of GET /v1/nowcast/{code}.
type Detail struct {
	Province string    `json:"province"`
	Warnings []Warning `json:"warnings"`
}

type listResponse struct {
	Data []ListItem `json:"data"`
}

type detailResponse struct {
	Data Detail `json:"data"`
}

// Client calls the BMKG nowcast REST API.
type Client struct {
	baseURL string
	client  HTTPClient
}

// New creates a Client for the API at baseURL.
func New(baseURL string, client HTTPClient) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// NowcastList fetches all currently published warnings.
func (c *Client) NowcastList(ctx context.Context) ([]ListItem, error) {
	var resp listResponse
	if err := c.getJSON(ctx, "/v1/nowcast", &resp); err != nil {
		return nil, fmt.Errorf("nowcast list: %w", err)
	}
	return resp.Data, nil
}

// NowcastDetail fetches the warnings for one nowcast code. The API wraps
// the detail in a "data" key; responses without the wrapper are accepted
// as well.
func (c *Client) NowcastDetail(ctx context.Context, code string) (*Detail, error) {
	body, err := c.get(ctx, "/v1/nowcast/"+url.PathEscape(code))
	if err != nil {
		return nil, fmt.Errorf("nowcast detail %s: %w", code, err)
	}

	var resp detailResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("nowcast detail %s: decode response: %w", code, err)
	}
	if resp.Data.Province == "" && len(resp.Data.Warnings) == 0 {
		var bare Detail
		if err := json.Unmarshal(body, &bare); err == nil {
			return &bare, nil
		}
	}
	return &resp.Data, nil
}

// SearchWilayah searches Indonesian administrative areas. The response is
// returned verbatim for the dashboard.
func (c *Client) SearchWilayah(ctx context.Context, query string) (json.RawMessage, error) {
	body, err := c.get(ctx, "/v1/wilayah/search?q="+url.QueryEscape(query))
	if err != nil {
		return nil, fmt.Errorf("search wilayah: %w", err)
	}
	return body, nil
}

// Provinces lists all provinces, verbatim.
func (c *Client) Provinces(ctx context.Context) (json.RawMessage, error) {
	body, err := c.get(ctx, "/v1/wilayah/provinces")
	if err != nil {
		return nil, fmt.Errorf("provinces: %w", err)
	}
	return body, nil
}

// Healthy reports whether the API answers the nowcast endpoint. No
// retries; this backs the dashboard health view.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/nowcast", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	body, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// get performs a GET with retries on network errors and 5xx responses.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	var body []byte
	backoff := retry.WithMaxRetries(2, retry.NewFibonacci(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("http get: %w", err))
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("unexpected status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return retry.RetryableError(fmt.Errorf("read body: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}
