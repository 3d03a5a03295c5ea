package enhance

import (
	"log/slog"

	"github.com/oklog/ulid/v2"
)

const (
	// DefaultMaxItems is the per-batch item ceiling; the 10-20 range is the
	// sweet spot for composite rewrite prompts.
	DefaultMaxItems = 15
	// DefaultMaxTokens is the per-batch token budget.
	DefaultMaxTokens = 1500
)

// Batcher partitions chunks into size-bounded batches, preserving input
// order across batch boundaries.
type Batcher struct {
	maxItems  int
	maxTokens int
	estimate  TokenEstimator
	log       *slog.Logger
}

// NewBatcher builds a batcher. Non-positive limits fall back to the
// defaults; a nil estimator falls back to EstimateTokens.
func NewBatcher(maxItems, maxTokens int, estimate TokenEstimator, log *slog.Logger) *Batcher {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if estimate == nil {
		estimate = EstimateTokens
	}
	if log == nil {
		log = slog.Default()
	}
	return &Batcher{maxItems: maxItems, maxTokens: maxTokens, estimate: estimate, log: log}
}

// Chunk wraps raw texts into ContentChunks with token estimates and source
// indices assigned in input order.
func (b *Batcher) Chunk(texts []string) []ContentChunk {
	chunks := make([]ContentChunk, 0, len(texts))
	for i, text := range texts {
		chunks = append(chunks, ContentChunk{
			ID:              ulid.Make().String(),
			Text:            text,
			SourceIndex:     i,
			EstimatedTokens: b.estimate(text),
		})
	}
	return chunks
}

// Split greedily packs chunks into batches bounded by both the item count
// and the token budget. A single chunk over the budget forms its own batch
// flagged Oversized; nothing is ever dropped or truncated. Empty input
// yields an empty batch list.
func (b *Batcher) Split(chunks []ContentChunk) []Batch {
	if len(chunks) == 0 {
		return nil
	}

	var batches []Batch
	current := Batch{BatchID: ulid.Make().String()}

	flush := func() {
		if len(current.Chunks) > 0 {
			batches = append(batches, current)
			current = Batch{BatchID: ulid.Make().String()}
		}
	}

	for _, c := range chunks {
		if c.EstimatedTokens > b.maxTokens {
			// Too large for any batch; isolate it and flag for the caller.
			flush()
			batches = append(batches, Batch{
				BatchID:         ulid.Make().String(),
				Chunks:          []ContentChunk{c},
				EstimatedTokens: c.EstimatedTokens,
				Oversized:       true,
			})
			continue
		}
		if len(current.Chunks) >= b.maxItems || current.EstimatedTokens+c.EstimatedTokens > b.maxTokens {
			flush()
		}
		current.Chunks = append(current.Chunks, c)
		current.EstimatedTokens += c.EstimatedTokens
	}
	flush()

	b.log.Debug("Split chunks into batches",
		"chunk_count", len(chunks),
		"batch_count", len(batches),
		"max_items", b.maxItems,
		"max_tokens", b.maxTokens)
	return batches
}
