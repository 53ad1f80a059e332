// Package storeclient talks to the remote record store over HTTP.
package storeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/okian/orbit/internal/domain/model"
)

const (
	recordsPath       = "/records"
	defaultTimeout    = 30 * time.Second
	maxErrorBodyBytes = 4 << 10
)

// Client fetches the history and submits records.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New creates a client for the store at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchAll returns the full history in creation order.
func (c *Client) FetchAll(ctx context.Context) ([]model.ContributionRecord, error) {
	var payload model.BootstrapPayload
	if _, err := c.doRequest(ctx, http.MethodGet, recordsPath, nil, &payload); err != nil {
		return nil, fmt.Errorf("fetch records: %w", err)
	}
	if payload.Records == nil {
		payload.Records = []model.ContributionRecord{}
	}
	return payload.Records, nil
}

// Submit persists rec and returns the canonical record. A 409 is reported
// as ErrConflict.
func (c *Client) Submit(ctx context.Context, rec model.ContributionRecord) (model.ContributionRecord, error) {
	var canonical model.ContributionRecord
	if _, err := c.doRequest(ctx, http.MethodPost, recordsPath, rec, &canonical); err != nil {
		return model.ContributionRecord{}, fmt.Errorf("submit record %s: %w", rec.ID, err)
	}
	return canonical, nil
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, result any) (int, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to create request: %w", ErrTransport, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		msg := strings.TrimSpace(string(raw))
		var errResp errorResponse
		if json.Unmarshal(raw, &errResp) == nil && errResp.Message != "" {
			msg = errResp.Message
		}
		if resp.StatusCode == http.StatusConflict {
			return resp.StatusCode, fmt.Errorf("%w: %s", ErrConflict, msg)
		}
		return resp.StatusCode, fmt.Errorf("%w: status %d: %s", ErrTransport, resp.StatusCode, msg)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: failed to decode response: %w", ErrTransport, err)
		}
	}
	return resp.StatusCode, nil
}
