// Package chunker splits document pages into bounded, overlapping segments
// suitable for embedding and retrieval.
package chunker

import (
	"errors"
	"log/slog"
	"strings"
)

// ErrAllPagesEmpty indicates the document contained no usable text.
// Individual empty pages are skipped; this is returned only when every
// page is empty or whitespace.
var ErrAllPagesEmpty = errors.New("no non-empty pages in document")

// Page is one page of extracted document text.
type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Segment is a bounded slice of page text. Index is the document-global
// sequence position, monotonic across pages.
type Segment struct {
	Text       string
	PageNumber int
	Language   string
	Index      int
}

// Config defines chunking parameters.
type Config struct {
	// Size is the window length in runes.
	Size int
	// Overlap is the number of trailing runes repeated at the start of
	// the next segment to preserve context across boundaries.
	Overlap int
}

// DefaultConfig returns the standard 800-rune window with 100-rune overlap.
func DefaultConfig() Config {
	return Config{Size: 800, Overlap: 100}
}

func (c Config) normalized() Config {
	if c.Size < 1 {
		c.Size = 800
	}
	if c.Overlap < 0 {
		c.Overlap = 0
	}
	if c.Overlap >= c.Size {
		c.Overlap = c.Size / 2
	}
	return c
}

// SplitPages splits each page into overlapping segments and concatenates
// them into one ordered list. Empty or whitespace-only pages are skipped
// and logged, never treated as failures. Splitting is rune-based so a
// boundary can never fall inside a multi-byte character, and joining all
// segments of a page (dropping each segment's leading overlap) reproduces
// the page text exactly.
func SplitPages(pages []Page, language string, cfg Config, logger *slog.Logger) ([]Segment, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if language == "" {
		language = "en"
	}
	cfg = cfg.normalized()

	var segments []Segment
	index := 0
	for _, page := range pages {
		if strings.TrimSpace(page.Text) == "" {
			logger.Warn("skipping empty page", "page", page.Number)
			continue
		}
		for _, text := range splitText(page.Text, cfg) {
			segments = append(segments, Segment{
				Text:       text,
				PageNumber: page.Number,
				Language:   language,
				Index:      index,
			})
			index++
		}
	}

	if len(segments) == 0 {
		return nil, ErrAllPagesEmpty
	}
	return segments, nil
}

// splitText cuts text into rune windows of cfg.Size advancing by
// cfg.Size-cfg.Overlap. The final window always reaches the end of the
// text, so no runes are lost.
func splitText(text string, cfg Config) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := cfg.Size - cfg.Overlap
	var out []string
	for start := 0; ; start += step {
		end := start + cfg.Size
		if end >= len(runes) {
			out = append(out, string(runes[start:]))
			break
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

// Reassemble joins segments of a single page back into the original text
// by dropping each segment's leading overlap. Used by tests and by the
// integrity check in the ingestion pipeline.
func Reassemble(texts []string, cfg Config) string {
	cfg = cfg.normalized()
	var b strings.Builder
	for i, t := range texts {
		if i == 0 {
			b.WriteString(t)
			continue
		}
		runes := []rune(t)
		if len(runes) > cfg.Overlap {
			b.WriteString(string(runes[cfg.Overlap:]))
		}
	}
	return b.String()
}
