package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/corpusd/corpusd/internal/cache"
	"github.com/corpusd/corpusd/internal/embedding"
	"github.com/corpusd/corpusd/internal/metrics"
	"github.com/corpusd/corpusd/internal/models"
	"github.com/corpusd/corpusd/internal/searchindex"
)

// SearchStore is the persistence surface the search service needs.
// *db.Client satisfies it.
type SearchStore interface {
	QueryReadyDocumentIDs(ctx context.Context, ownerID, storeRef string) ([]models.Document, error)
	QuerySearchChunks(ctx context.Context, embedding []float32, documentIDs []surrealmodels.RecordID, limit int) ([]models.ChunkMatch, error)
}

// SearchMode selects where retrieval runs.
type SearchMode string

const (
	// SearchLocal queries the local chunk index.
	SearchLocal SearchMode = "local"
	// SearchRemote delegates to the remote file-search store.
	SearchRemote SearchMode = "remote"
)

// SearchRequest is one retrieval query.
type SearchRequest struct {
	OwnerID  string
	StoreRef string
	Query    string
	Language string
	TopK     int
	Mode     SearchMode
}

// SearchService retrieves relevant chunks for a query, locally or via
// the remote index, behind one result shape.
type SearchService struct {
	store      SearchStore
	embedder   embedding.Embedder
	index      searchindex.Client
	cache      *cache.Manager
	floor      float64
	topK       int
	searchTTL  time.Duration
	collectors *metrics.Metrics
	logger     *slog.Logger
}

// NewSearchService creates the retrieval service. floor is the minimum
// similarity a match must reach; topK the default result count.
func NewSearchService(
	store SearchStore,
	embedder embedding.Embedder,
	index searchindex.Client,
	cacheManager *cache.Manager,
	floor float64,
	topK int,
	searchTTL time.Duration,
	collectors *metrics.Metrics,
	logger *slog.Logger,
) *SearchService {
	if floor <= 0 {
		floor = 0.25
	}
	if topK < 1 {
		topK = 5
	}
	if searchTTL <= 0 {
		searchTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchService{
		store:      store,
		embedder:   embedder,
		index:      index,
		cache:      cacheManager,
		floor:      floor,
		topK:       topK,
		searchTTL:  searchTTL,
		collectors: collectors,
		logger:     logger,
	}
}

// Search runs retrieval for a query. Results are cached per store,
// query and language; cache entries die when any document in the store
// changes.
func (s *SearchService) Search(ctx context.Context, req SearchRequest) ([]models.ChunkMatch, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if req.OwnerID == "" || req.StoreRef == "" {
		return nil, fmt.Errorf("ownerID and storeRef are required")
	}
	if req.TopK < 1 {
		req.TopK = s.topK
	}
	if req.Language == "" {
		req.Language = "en"
	}
	if req.Mode == "" {
		req.Mode = SearchLocal
	}

	start := time.Now()
	fetch := func(ctx context.Context) (any, error) {
		switch req.Mode {
		case SearchRemote:
			return s.searchRemote(ctx, req)
		default:
			return s.searchLocal(ctx, req)
		}
	}

	if s.cache == nil {
		matches, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		s.collectors.ObserveSearch(string(req.Mode), time.Since(start))
		return matches.([]models.ChunkMatch), nil
	}

	var matches []models.ChunkMatch
	key := cache.SearchKey(req.StoreRef, req.Query, req.Language)
	err := s.cache.GetOrSet(ctx, key, &matches, s.searchTTL, fetch,
		cache.TagStore(req.StoreRef), cache.TagUser(req.OwnerID), cache.TagAllDocuments)
	if err != nil {
		return nil, err
	}
	s.collectors.ObserveSearch(string(req.Mode), time.Since(start))
	return matches, nil
}

// searchLocal embeds the query and runs KNN over the owner's ready
// documents. No ready documents or no hits above the floor is an empty
// result, never an error.
func (s *SearchService) searchLocal(ctx context.Context, req SearchRequest) ([]models.ChunkMatch, error) {
	vector, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	docs, err := s.store.QueryReadyDocumentIDs(ctx, req.OwnerID, req.StoreRef)
	if err != nil {
		return nil, fmt.Errorf("resolve document scope: %w", err)
	}
	if len(docs) == 0 {
		return []models.ChunkMatch{}, nil
	}

	ids := make([]surrealmodels.RecordID, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
	}

	matches, err := s.store.QuerySearchChunks(ctx, vector, ids, req.TopK)
	if err != nil {
		return nil, err
	}
	return s.finalize(matches), nil
}

// searchRemote delegates to the remote store and normalizes the hits
// into the local citation shape.
func (s *SearchService) searchRemote(ctx context.Context, req SearchRequest) ([]models.ChunkMatch, error) {
	hits, err := s.index.Query(ctx, searchindex.QueryRequest{
		StoreRef: req.StoreRef,
		Query:    req.Query,
		TopK:     req.TopK,
	})
	if err != nil {
		return nil, fmt.Errorf("remote search: %w", err)
	}

	matches := make([]models.ChunkMatch, 0, len(hits))
	for _, hit := range hits {
		matches = append(matches, models.ChunkMatch{
			DocumentID: hit.DocumentRef,
			PageNumber: hit.PageNumber,
			Text:       hit.Text,
			Similarity: hit.Score,
		})
	}
	return s.finalize(matches), nil
}

// finalize applies the relevance floor and rounds similarities for
// stable presentation.
func (s *SearchService) finalize(matches []models.ChunkMatch) []models.ChunkMatch {
	out := make([]models.ChunkMatch, 0, len(matches))
	for _, m := range matches {
		if m.Similarity < s.floor {
			continue
		}
		m.Similarity = math.Round(m.Similarity*10000) / 10000
		out = append(out, m)
	}
	return out
}
