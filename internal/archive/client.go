// Package archive talks to the archive backend: the collection listing,
// unloading a collection, and pushing refreshed credentials for on-demand
// sources.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultAPIPrefix is the backend api mount point.
const DefaultAPIPrefix = "/wabac/api"

// ErrUnexpectedStatus is wrapped by every *StatusError.
var ErrUnexpectedStatus = errors.New("unexpected backend status")

// StatusError reports a non-success HTTP status from the backend.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: backend returned status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: backend returned status %d: %s", e.Op, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrUnexpectedStatus }

// Client is an HTTP client for the backend api.
type Client struct {
	api    string
	client *http.Client
	logger *zap.Logger
}

// NewClient creates a client for the api rooted at apiURL
// (for example http://localhost:9990/wabac/api).
func NewClient(apiURL string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid api url %q: scheme must be http or https", apiURL)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		api:    strings.TrimRight(apiURL, "/"),
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

type listResponse struct {
	Colls []Collection `json:"colls"`
}

// List returns the loaded collections.
func (c *Client) List(ctx context.Context) ([]Collection, error) {
	var result listResponse
	if err := c.do(ctx, "list", http.MethodGet, c.api+"/index", nil, &result); err != nil {
		return nil, err
	}
	return result.Colls, nil
}

// Delete unloads a collection and returns the listing that remains.
func (c *Client) Delete(ctx context.Context, id string) ([]Collection, error) {
	var result listResponse
	if err := c.do(ctx, "delete", http.MethodDelete, c.api+"/"+url.PathEscape(id), nil, &result); err != nil {
		return nil, err
	}
	return result.Colls, nil
}

type updateAuthRequest struct {
	Headers map[string]string `json:"headers"`
}

// UpdateAuth posts refreshed credential headers for a collection.
func (c *Client) UpdateAuth(ctx context.Context, collectionID string, headers map[string]string) error {
	if headers == nil {
		headers = map[string]string{}
	}
	endpoint := c.api + "/" + url.PathEscape(collectionID) + "/updateAuth"
	return c.do(ctx, "updateAuth", http.MethodPost, endpoint, updateAuthRequest{Headers: headers}, nil)
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("backend request",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("url", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(bodyBytes))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}
