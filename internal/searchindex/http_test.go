package searchindex

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPClientUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/stores/my-store/documents" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("missing auth header, got %q", got)
		}

		var req UploadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.PayloadRef != "blob://abc" {
			t.Errorf("payload ref = %q", req.PayloadRef)
		}

		json.NewEncoder(w).Encode(map[string]string{"operationRef": "op-77"})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "secret")
	ref, err := client.Upload(context.Background(), UploadRequest{
		StoreRef:   "my-store",
		PayloadRef: "blob://abc",
		Filename:   "a.pdf",
		MimeType:   "application/pdf",
	})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if ref != "op-77" {
		t.Errorf("operation ref = %q, want op-77", ref)
	}
}

func TestHTTPClientOperationStates(t *testing.T) {
	responses := map[string]Operation{
		"pending": {Ref: "pending", Done: false},
		"done":    {Ref: "done", Done: true, DocumentRef: strPtr("remote-1")},
		"failed":  {Ref: "failed", Done: true, Failure: &OperationError{Code: "QUOTA", Message: "store full"}},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ref := r.URL.Path[len("/v1/operations/"):]
		op, ok := responses[ref]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(op)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "")

	op, err := client.Operation(context.Background(), "pending")
	if err != nil {
		t.Fatalf("Operation() error = %v", err)
	}
	if op.Done {
		t.Errorf("pending operation reported done")
	}

	op, err = client.Operation(context.Background(), "done")
	if err != nil {
		t.Fatalf("Operation() error = %v", err)
	}
	if !op.Done || op.DocumentRef == nil || *op.DocumentRef != "remote-1" {
		t.Errorf("done operation = %+v", op)
	}

	op, err = client.Operation(context.Background(), "failed")
	if err != nil {
		t.Fatalf("Operation() error = %v", err)
	}
	if op.Failure == nil || op.Failure.Code != "QUOTA" {
		t.Errorf("failed operation = %+v", op)
	}

	_, err = client.Operation(context.Background(), "missing")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 StatusError, got %v", err)
	}
}

func TestHTTPClientQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"hits": []QueryHit{
				{DocumentRef: "remote-1", Text: "passage", Score: 0.91, PageNumber: 3},
			},
		})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "")
	hits, err := client.Query(context.Background(), QueryRequest{StoreRef: "s", Query: "q", TopK: 5})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(hits) != 1 || hits[0].DocumentRef != "remote-1" {
		t.Errorf("hits = %+v", hits)
	}
}

func TestStatusErrorRetryable(t *testing.T) {
	tests := []struct {
		code      int
		retryable bool
	}{
		{429, true},
		{500, true},
		{503, true},
		{400, false},
		{404, false},
	}
	for _, tt := range tests {
		err := &StatusError{StatusCode: tt.code}
		if err.Retryable() != tt.retryable {
			t.Errorf("StatusError(%d).Retryable() = %v, want %v", tt.code, err.Retryable(), tt.retryable)
		}
	}
}

func strPtr(s string) *string { return &s }
