package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/corpusd/corpusd/internal/chunker"
	"github.com/corpusd/corpusd/internal/db"
	"github.com/corpusd/corpusd/internal/service"
)

// ownerHeader carries the caller identity. Corpusd sits behind a
// gateway that authenticates the user and forwards the id.
const ownerHeader = "X-Owner-ID"

// maxUploadMemory bounds the multipart parts held in memory; larger
// file parts spill to disk.
const maxUploadMemory = 10 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps service errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrUnsupportedMimeType),
		errors.Is(err, service.ErrEmptyPayload),
		errors.Is(err, service.ErrPayloadTooLarge),
		errors.Is(err, chunker.ErrAllPagesEmpty):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, db.ErrNotFound):
		status = http.StatusNotFound
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(ownerHeader)
	if id == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing " + ownerHeader + " header"})
		return "", false
	}
	return id, true
}

// handleUpload accepts a multipart form: the raw file under "file",
// the extracted page text as JSON under "pages", plus "store_ref" and
// optional "language".
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid multipart form: " + err.Error()})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "file part is required"})
		return
	}
	defer file.Close()

	payload, err := io.ReadAll(io.LimitReader(file, service.MaxPayloadBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "read file: " + err.Error()})
		return
	}

	var pages []chunker.Page
	if raw := r.FormValue("pages"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &pages); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid pages JSON: " + err.Error()})
			return
		}
	}

	mimeType := r.FormValue("mime_type")
	if mimeType == "" {
		mimeType = header.Header.Get("Content-Type")
	}

	doc, job, err := s.ingest.Upload(r.Context(), service.UploadInput{
		OwnerID:  ownerID,
		StoreRef: r.FormValue("store_ref"),
		Filename: header.Filename,
		MimeType: mimeType,
		Language: r.FormValue("language"),
		Pages:    pages,
		Payload:  payload,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"document": doc,
		"job": map[string]any{
			"documentId": job.DocumentID,
			"state":      job.State,
		},
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	storeRef := r.URL.Query().Get("store")
	if storeRef == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "store query parameter is required"})
		return
	}

	docs, err := s.ingest.List(r.Context(), ownerID, storeRef)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := owner(w, r); !ok {
		return
	}

	status, err := s.ingest.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}

	if err := s.ingest.Delete(r.Context(), ownerID, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type searchPayload struct {
	StoreRef string `json:"storeRef"`
	Query    string `json:"query"`
	Language string `json:"language,omitempty"`
	TopK     int    `json:"topK,omitempty"`
	Mode     string `json:"mode,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}

	var payload searchPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return
	}
	if payload.Query == "" || payload.StoreRef == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "storeRef and query are required"})
		return
	}

	matches, err := s.search.Search(r.Context(), service.SearchRequest{
		OwnerID:  ownerID,
		StoreRef: payload.StoreRef,
		Query:    payload.Query,
		Language: payload.Language,
		TopK:     payload.TopK,
		Mode:     service.SearchMode(payload.Mode),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}
