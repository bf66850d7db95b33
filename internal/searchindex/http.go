package searchindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPClient implements Client over the service's JSON REST API.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the remote file-search service.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Upload stages a document for remote indexing.
func (c *HTTPClient) Upload(ctx context.Context, req UploadRequest) (string, error) {
	var resp struct {
		OperationRef string `json:"operationRef"`
	}
	path := fmt.Sprintf("/v1/stores/%s/documents", url.PathEscape(req.StoreRef))
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	if resp.OperationRef == "" {
		return "", fmt.Errorf("upload: service returned no operation reference")
	}
	return resp.OperationRef, nil
}

// Operation fetches the current state of an indexing operation.
func (c *HTTPClient) Operation(ctx context.Context, ref string) (*Operation, error) {
	var op Operation
	path := fmt.Sprintf("/v1/operations/%s", url.PathEscape(ref))
	if err := c.do(ctx, http.MethodGet, path, nil, &op); err != nil {
		return nil, fmt.Errorf("operation %s: %w", ref, err)
	}
	return &op, nil
}

// Query searches a remote store directly.
func (c *HTTPClient) Query(ctx context.Context, req QueryRequest) ([]QueryHit, error) {
	var resp struct {
		Hits []QueryHit `json:"hits"`
	}
	path := fmt.Sprintf("/v1/stores/%s/query", url.PathEscape(req.StoreRef))
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return resp.Hits, nil
}

// Delete removes an indexed document from its remote store.
func (c *HTTPClient) Delete(ctx context.Context, documentRef string) error {
	path := fmt.Sprintf("/v1/documents/%s", url.PathEscape(documentRef))
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete %s: %w", documentRef, err)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload, result any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
