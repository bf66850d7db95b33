package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Generator embeds chunk texts in paced batches. A failed batch is
// retried one text at a time so a single bad chunk cannot sink its
// neighbors; only fatal API errors abort the run.
type Generator struct {
	embedder  Embedder
	batchSize int
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// Result is one successfully embedded text, identified by its position
// in the input slice.
type Result struct {
	Index  int
	Vector []float32
}

// NewGenerator creates a Generator. batchDelay is the minimum spacing
// between batch requests to the provider; zero disables pacing.
func NewGenerator(embedder Embedder, batchSize int, batchDelay time.Duration, logger *slog.Logger) *Generator {
	if batchSize < 1 {
		batchSize = 10
	}
	if logger == nil {
		logger = slog.Default()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if batchDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(batchDelay), 1)
	}

	return &Generator{
		embedder:  embedder,
		batchSize: batchSize,
		limiter:   limiter,
		logger:    logger,
	}
}

// Generate embeds all texts and returns the successful results in input
// order along with per-chunk failures. The error return is non-nil only
// when the run as a whole must stop: context cancellation or a fatal
// API error.
func (g *Generator) Generate(ctx context.Context, texts []string) ([]Result, []*ChunkError, error) {
	if len(texts) == 0 {
		return nil, nil, nil
	}

	var results []Result
	var failures []*ChunkError

	for start := 0; start < len(texts); start += g.batchSize {
		end := start + g.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		if err := g.limiter.Wait(ctx); err != nil {
			return results, failures, err
		}

		vectors, err := g.embedder.EmbedBatch(ctx, batch)
		if err == nil {
			for i, v := range vectors {
				results = append(results, Result{Index: start + i, Vector: v})
			}
			continue
		}
		if errors.Is(err, ErrFatalAPI) {
			return results, failures, err
		}
		if ctx.Err() != nil {
			return results, failures, ctx.Err()
		}

		g.logger.Warn("batch embedding failed, retrying per chunk",
			"batch_start", start, "batch_size", len(batch), "error", err)

		batchResults, batchFailures, err := g.embedEach(ctx, batch, start)
		if err != nil {
			return results, failures, err
		}
		results = append(results, batchResults...)
		failures = append(failures, batchFailures...)
	}

	if len(failures) > 0 {
		g.logger.Warn("embedding run completed with failures",
			"total", len(texts), "failed", len(failures))
	}
	return results, failures, nil
}

// embedEach retries a failed batch one text at a time, isolating
// individual failures.
func (g *Generator) embedEach(ctx context.Context, batch []string, offset int) ([]Result, []*ChunkError, error) {
	var results []Result
	var failures []*ChunkError

	for i, text := range batch {
		vector, err := g.embedder.Embed(ctx, text)
		if err != nil {
			if errors.Is(err, ErrFatalAPI) {
				return results, failures, fmt.Errorf("chunk %d: %w", offset+i, err)
			}
			if ctx.Err() != nil {
				return results, failures, ctx.Err()
			}
			failures = append(failures, &ChunkError{Index: offset + i, Err: err})
			continue
		}
		results = append(results, Result{Index: offset + i, Vector: vector})
	}

	return results, failures, nil
}
