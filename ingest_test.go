package enhance

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunksFromRawEmpty(t *testing.T) {
	chunks, err := ChunksFromRaw(nil, 0, nil)
	require.NoError(t, err)
	assert.Nil(t, chunks)
}

func TestChunksFromRawRejectsBinary(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}
	_, err := ChunksFromRaw(png, 0, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBinaryPayload)
}

func TestChunksFromRawPacksParagraphs(t *testing.T) {
	raw := []byte("first paragraph here\n\nsecond paragraph here\n\nthird paragraph here")
	chunks, err := ChunksFromRaw(raw, 50, nil)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, "first paragraph here\n\nsecond paragraph here", chunks[0].Text)
	assert.Equal(t, "third paragraph here", chunks[1].Text)
	for i, c := range chunks {
		assert.Equal(t, i, c.SourceIndex)
		assert.NotEmpty(t, c.ID)
		assert.Equal(t, EstimateTokens(c.Text), c.EstimatedTokens)
	}
	assert.NotEqual(t, chunks[0].ID, chunks[1].ID)
}

func TestChunksFromRawOversizedParagraph(t *testing.T) {
	long := strings.Repeat("word ", 100)
	raw := []byte("short one\n\n" + long + "\n\nshort two")
	chunks, err := ChunksFromRaw(raw, 50, nil)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "short one", chunks[0].Text)
	assert.Equal(t, strings.TrimSpace(long), chunks[1].Text)
	assert.Equal(t, "short two", chunks[2].Text)
}

func TestChunksFromRawSkipsBlankParagraphs(t *testing.T) {
	raw := []byte("alpha\n\n\n\n   \n\nbeta")
	chunks, err := ChunksFromRaw(raw, 0, nil)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "alpha\n\nbeta", chunks[0].Text)
}

func TestChunksFromRawCustomEstimator(t *testing.T) {
	words := func(text string) int { return len(strings.Fields(text)) }
	chunks, err := ChunksFromRaw([]byte("one two three"), 0, words)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 3, chunks[0].EstimatedTokens)
}
