package enhance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectModelSmallestFit(t *testing.T) {
	c := DefaultCatalog()

	m, err := c.SelectModel(1000, "")
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash-lite", m.Name)

	// Over flash-lite's 80% headroom, into the next tier.
	m, err = c.SelectModel(7000, "")
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash", m.Name)

	m, err = c.SelectModel(20000, "")
	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-pro", m.Name)
}

func TestSelectModelHeadroom(t *testing.T) {
	c := DefaultCatalog()

	// 8192 * 0.8 = 6553: the boundary stays in the smallest tier.
	m, err := c.SelectModel(6553, "")
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash-lite", m.Name)

	m, err = c.SelectModel(6554, "")
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash", m.Name)
}

func TestSelectModelPreferred(t *testing.T) {
	c := DefaultCatalog()

	m, err := c.SelectModel(1000, "gemini-1.5-pro")
	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-pro", m.Name, "a preferred model that fits wins")

	// Preferred too small for the input: fall back to tier selection.
	m, err = c.SelectModel(20000, "gemini-2.0-flash-lite")
	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-pro", m.Name)

	// Unknown preferred name is ignored.
	m, err = c.SelectModel(1000, "no-such-model")
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash-lite", m.Name)
}

func TestSelectModelNoneFit(t *testing.T) {
	c := DefaultCatalog()
	_, err := c.SelectModel(1_000_000, "")
	require.ErrorIs(t, err, ErrNoSuitableModel)
}

func TestEstimateCost(t *testing.T) {
	m := ModelConfig{CostPer1KInput: 0.03, CostPer1KOutput: 0.06}
	assert.InDelta(t, 0.03+0.12, EstimateCost(1000, 2000, m), 1e-9)
	assert.Zero(t, EstimateCost(0, 0, m))
}

func TestEstimateBatchCost(t *testing.T) {
	m := ModelConfig{Name: "tier", CostPer1KInput: 0.001, CostPer1KOutput: 0.002}
	chunks := []ContentChunk{
		{EstimatedTokens: 100},
		{EstimatedTokens: 300},
	}

	est := EstimateBatchCost(chunks, m)
	assert.Equal(t, 2, est.TotalItems)
	assert.Equal(t, 400, est.EstimatedInputTokens)
	assert.Equal(t, 600, est.EstimatedOutputTokens)
	assert.InDelta(t, 0.4/1000*1+0.6/1000*2, est.EstimatedCost, 1e-9)
	assert.InDelta(t, est.EstimatedCost/2, est.CostPerItem, 1e-9)
	assert.Equal(t, "tier", est.Model)
}

func TestEstimateBatchCostEmpty(t *testing.T) {
	est := EstimateBatchCost(nil, ModelConfig{Name: "tier"})
	assert.Zero(t, est.TotalItems)
	assert.Zero(t, est.EstimatedCost)
	assert.Zero(t, est.CostPerItem)
}

func TestEstimateTokensRule(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens("abc"))
	assert.Equal(t, 25, EstimateTokens(string(make([]byte, 100))))
}
