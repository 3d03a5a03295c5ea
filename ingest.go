package enhance

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/oklog/ulid/v2"
)

// ErrBinaryPayload is returned when raw input is not text. Extraction of
// binary formats happens upstream; the core only accepts plain text.
var ErrBinaryPayload = errors.New("payload is not plain text")

// DefaultChunkChars bounds one chunk's length when splitting raw text.
const DefaultChunkChars = 2000

// ChunksFromRaw guards and splits a raw extract into ContentChunks. The
// payload must detect as text; paragraphs are packed greedily up to
// maxChars, and a single paragraph over the limit becomes its own chunk.
func ChunksFromRaw(raw []byte, maxChars int, estimate TokenEstimator) ([]ContentChunk, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if maxChars <= 0 {
		maxChars = DefaultChunkChars
	}
	if estimate == nil {
		estimate = EstimateTokens
	}

	if !isText(mimetype.Detect(raw)) {
		return nil, fmt.Errorf("ingest: detected %s: %w", mimetype.Detect(raw).String(), ErrBinaryPayload)
	}

	var texts []string
	var current strings.Builder
	for _, para := range strings.Split(string(raw), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(para) > maxChars {
			texts = append(texts, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	if current.Len() > 0 {
		texts = append(texts, current.String())
	}

	chunks := make([]ContentChunk, 0, len(texts))
	for i, text := range texts {
		chunks = append(chunks, ContentChunk{
			ID:              ulid.Make().String(),
			Text:            text,
			SourceIndex:     i,
			EstimatedTokens: estimate(text),
		})
	}
	return chunks, nil
}

// isText walks the detected type's parent chain looking for text/plain.
func isText(mt *mimetype.MIME) bool {
	for ; mt != nil; mt = mt.Parent() {
		if mt.Is("text/plain") {
			return true
		}
	}
	return false
}
