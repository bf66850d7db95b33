package db

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/corpusd/corpusd/internal/models"
)

// chunkRecord is the insert shape for the chunk table.
type chunkRecord struct {
	Document      surrealmodels.RecordID `json:"document"`
	Text          string                 `json:"text"`
	SequenceIndex int                    `json:"sequence_index"`
	PageNumber    int                    `json:"page_number"`
	Language      string                 `json:"language"`
	Embedding     []float32              `json:"embedding"`
}

// QueryInsertChunks bulk-inserts chunks for a document.
func (c *Client) QueryInsertChunks(ctx context.Context, documentID string, inputs []models.ChunkInput) (int, error) {
	if len(inputs) == 0 {
		return 0, nil
	}

	docRef := surrealmodels.NewRecordID("document", documentID)
	records := make([]chunkRecord, len(inputs))
	for i, in := range inputs {
		records[i] = chunkRecord{
			Document:      docRef,
			Text:          in.Text,
			SequenceIndex: in.SequenceIndex,
			PageNumber:    in.PageNumber,
			Language:      in.Language,
			Embedding:     in.Embedding,
		}
	}

	results, err := surrealdb.Query[[]models.Chunk](ctx, c.db, `
		INSERT INTO chunk $records
	`, map[string]any{"records": records})
	if err != nil {
		return 0, fmt.Errorf("insert chunks: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return 0, nil
	}
	return len((*results)[0].Result), nil
}

// QueryDeleteChunks removes all chunks belonging to a document. Returns
// the number of chunks removed.
func (c *Client) QueryDeleteChunks(ctx context.Context, documentID string) (int, error) {
	results, err := surrealdb.Query[[]models.Chunk](ctx, c.db, `
		DELETE chunk WHERE document = type::record("document", $id) RETURN BEFORE
	`, map[string]any{"id": documentID})
	if err != nil {
		return 0, fmt.Errorf("delete chunks: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return 0, nil
	}
	return len((*results)[0].Result), nil
}

// chunkHit is the row shape returned by the vector search query.
type chunkHit struct {
	ID         surrealmodels.RecordID `json:"id"`
	Document   surrealmodels.RecordID `json:"document"`
	Text       string                 `json:"text"`
	PageNumber int                    `json:"page_number"`
	Similarity float64                `json:"similarity"`
}

// QuerySearchChunks runs a KNN search over chunk embeddings restricted
// to the given document records. Results come back ordered by cosine
// similarity, best first. The ef parameter of 40 trades a little speed
// for recall.
func (c *Client) QuerySearchChunks(
	ctx context.Context,
	embedding []float32,
	documentIDs []surrealmodels.RecordID,
	limit int,
) ([]models.ChunkMatch, error) {
	if len(documentIDs) == 0 {
		return []models.ChunkMatch{}, nil
	}
	if limit < 1 {
		limit = 5
	}

	sql := fmt.Sprintf(`
		SELECT id, document, text, page_number,
			vector::similarity::cosine(embedding, $emb) AS similarity
		FROM chunk
		WHERE embedding <|%d,40|> $emb AND document IN $docs
		ORDER BY similarity DESC
	`, limit)

	results, err := surrealdb.Query[[]chunkHit](ctx, c.db, sql, map[string]any{
		"emb":  embedding,
		"docs": documentIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.ChunkMatch{}, nil
	}

	hits := (*results)[0].Result
	matches := make([]models.ChunkMatch, 0, len(hits))
	for _, hit := range hits {
		matches = append(matches, models.ChunkMatch{
			ChunkID:    models.MustRecordIDString(hit.ID),
			DocumentID: models.MustRecordIDString(hit.Document),
			PageNumber: hit.PageNumber,
			Text:       hit.Text,
			Similarity: hit.Similarity,
		})
	}
	return matches, nil
}

// QueryCountChunks returns the number of stored chunks for a document.
func (c *Client) QueryCountChunks(ctx context.Context, documentID string) (int, error) {
	results, err := surrealdb.Query[[]struct {
		C int `json:"c"`
	}](ctx, c.db, `
		SELECT count() AS c FROM chunk
		WHERE document = type::record("document", $id)
		GROUP ALL
	`, map[string]any{"id": documentID})
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].C, nil
}
