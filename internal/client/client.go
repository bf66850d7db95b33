// Package client provides an HTTP client for the corpusd server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/corpusd/corpusd/internal/chunker"
	"github.com/corpusd/corpusd/internal/models"
	"github.com/corpusd/corpusd/internal/status"
)

// Client talks to the corpusd REST API. Every request carries the
// owner id; the server scopes all documents to it.
type Client struct {
	baseURL    string
	ownerID    string
	httpClient *http.Client
}

// New creates a client.
// If baseURL is empty, uses CORPUSD_SERVER_URL or defaults to localhost:8184.
// Timeout can be configured via CORPUSD_CLIENT_TIMEOUT (default 5m; uploads
// embed synchronously on the server).
func New(baseURL, ownerID string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("CORPUSD_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8184"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := 5 * time.Minute
	if t := os.Getenv("CORPUSD_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: baseURL,
		ownerID: ownerID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// UploadResult is the server's answer to an accepted upload.
type UploadResult struct {
	Document *models.Document `json:"document"`
	Job      struct {
		DocumentID string `json:"documentId"`
		State      string `json:"state"`
	} `json:"job"`
}

// UploadRequest describes one document upload.
type UploadRequest struct {
	StoreRef string
	Filename string
	MimeType string
	Language string
	Pages    []chunker.Page
	Payload  []byte
}

// Upload submits a document for ingestion.
func (c *Client) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	fields := map[string]string{
		"store_ref": req.StoreRef,
		"mime_type": req.MimeType,
		"language":  req.Language,
	}
	if len(req.Pages) > 0 {
		pages, err := json.Marshal(req.Pages)
		if err != nil {
			return nil, fmt.Errorf("marshal pages: %w", err)
		}
		fields["pages"] = string(pages)
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := writer.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("write field %s: %w", k, err)
		}
	}

	part, err := writer.CreateFormFile("file", req.Filename)
	if err != nil {
		return nil, fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(req.Payload); err != nil {
		return nil, fmt.Errorf("write payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	var result UploadResult
	err = c.do(ctx, "POST", "/api/documents", writer.FormDataContentType(), body, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ListDocuments returns the caller's documents in a store.
func (c *Client) ListDocuments(ctx context.Context, storeRef string) ([]models.Document, error) {
	var resp struct {
		Documents []models.Document `json:"documents"`
	}
	path := "/api/documents?store=" + url.QueryEscape(storeRef)
	if err := c.do(ctx, "GET", path, "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Documents, nil
}

// Status returns the ingestion status of a document.
func (c *Client) Status(ctx context.Context, documentID string) (*models.JobStatus, error) {
	var jobStatus models.JobStatus
	path := "/api/documents/" + url.PathEscape(documentID) + "/status"
	if err := c.do(ctx, "GET", path, "", nil, &jobStatus); err != nil {
		return nil, err
	}
	return &jobStatus, nil
}

// Delete removes a document.
func (c *Client) Delete(ctx context.Context, documentID string) error {
	path := "/api/documents/" + url.PathEscape(documentID)
	return c.do(ctx, "DELETE", path, "", nil, nil)
}

// SearchRequest describes one retrieval query.
type SearchRequest struct {
	StoreRef string `json:"storeRef"`
	Query    string `json:"query"`
	Language string `json:"language,omitempty"`
	TopK     int    `json:"topK,omitempty"`
	Mode     string `json:"mode,omitempty"`
}

// Search runs retrieval and returns the matching chunks.
func (c *Client) Search(ctx context.Context, req SearchRequest) ([]models.ChunkMatch, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var resp struct {
		Matches []models.ChunkMatch `json:"matches"`
	}
	err = c.do(ctx, "POST", "/api/search", "application/json", bytes.NewReader(payload), &resp)
	if err != nil {
		return nil, err
	}
	return resp.Matches, nil
}

// WatchDocument subscribes to a document's status room and invokes
// handler for every update until ctx is cancelled or the document
// reaches a terminal state.
func (c *Client) WatchDocument(ctx context.Context, documentID string, handler func(models.JobStatus)) error {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/ws"

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("websocket connect: %w", err)
	}
	defer conn.Close()

	subscribe := status.Inbound{Action: "subscribe", Room: status.DocumentRoom(documentID)}
	if err := conn.WriteJSON(subscribe); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	// Unblock ReadJSON when the caller gives up
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var envelope struct {
			Event string           `json:"event"`
			Data  models.JobStatus `json:"data"`
		}
		if err := conn.ReadJSON(&envelope); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read status: %w", err)
		}
		if envelope.Event != "document-status" {
			continue
		}

		handler(envelope.Data)
		if envelope.Data.State.Terminal() {
			return nil
		}
	}
}

// do executes one request and decodes the JSON response into result.
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Owner-ID", c.ownerID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server error (%s): %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("server error: %s - %s", resp.Status, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
