package enhance

import (
	"errors"
	"fmt"
)

// ErrNoSuitableModel is returned when no configured tier can hold the input.
var ErrNoSuitableModel = errors.New("no configured model can hold the input")

// ModelConfig is the static, read-only description of one model tier.
type ModelConfig struct {
	Name              string  `json:"name"`
	MaxTokens         int     `json:"maxTokens"`
	RequestsPerMinute int     `json:"requestsPerMinute"`
	TokensPerMinute   int     `json:"tokensPerMinute"`
	CostPer1KInput    float64 `json:"costPer1kInput"`
	CostPer1KOutput   float64 `json:"costPer1kOutput"`
	FallbackModel     string  `json:"fallbackModel,omitempty"`
}

// ModelCatalog holds the configured tiers plus a cheapest-first preference
// order used when the caller expresses no preference.
type ModelCatalog struct {
	models     map[string]ModelConfig
	preference []string
}

// headroomFactor leaves room for the expected rewrite on top of the input:
// a tier only qualifies when the input fits in 80% of its context window.
const headroomFactor = 0.8

// DefaultCatalog returns the built-in Gemini tiers.
func DefaultCatalog() *ModelCatalog {
	return NewCatalog([]ModelConfig{
		{
			Name:              "gemini-2.0-flash-lite",
			MaxTokens:         8192,
			RequestsPerMinute: 4000,
			TokensPerMinute:   4_000_000,
			CostPer1KInput:    0.000075,
			CostPer1KOutput:   0.0003,
		},
		{
			Name:              "gemini-2.0-flash",
			MaxTokens:         16384,
			RequestsPerMinute: 2000,
			TokensPerMinute:   4_000_000,
			CostPer1KInput:    0.00015,
			CostPer1KOutput:   0.0006,
			FallbackModel:     "gemini-2.0-flash-lite",
		},
		{
			Name:              "gemini-1.5-pro",
			MaxTokens:         32768,
			RequestsPerMinute: 1000,
			TokensPerMinute:   4_000_000,
			CostPer1KInput:    0.00125,
			CostPer1KOutput:   0.005,
			FallbackModel:     "gemini-2.0-flash",
		},
	})
}

// NewCatalog builds a catalog from the given tiers. Preference order is the
// slice order, which callers should list cheapest first.
func NewCatalog(tiers []ModelConfig) *ModelCatalog {
	c := &ModelCatalog{models: make(map[string]ModelConfig, len(tiers))}
	for _, m := range tiers {
		c.models[m.Name] = m
		c.preference = append(c.preference, m.Name)
	}
	return c
}

// Lookup returns the tier config for name.
func (c *ModelCatalog) Lookup(name string) (ModelConfig, bool) {
	m, ok := c.models[name]
	return m, ok
}

// Names returns the preference-ordered tier names.
func (c *ModelCatalog) Names() []string {
	out := make([]string, len(c.preference))
	copy(out, c.preference)
	return out
}

// fits reports whether the input leaves the configured headroom in the tier.
func (m ModelConfig) fits(estimatedTokens int) bool {
	return float64(estimatedTokens) <= float64(m.MaxTokens)*headroomFactor
}

// SelectModel returns the smallest tier whose context window comfortably
// exceeds the estimated input. A preferred model wins when it still fits.
func (c *ModelCatalog) SelectModel(estimatedTokens int, preferred string) (ModelConfig, error) {
	if preferred != "" {
		if m, ok := c.models[preferred]; ok && m.fits(estimatedTokens) {
			return m, nil
		}
	}
	for _, name := range c.preference {
		if m := c.models[name]; m.fits(estimatedTokens) {
			return m, nil
		}
	}
	return ModelConfig{}, fmt.Errorf("select model for %d tokens: %w", estimatedTokens, ErrNoSuitableModel)
}

// EstimateCost prices a call against a tier. Pure function.
func EstimateCost(inputTokens, outputTokens int, m ModelConfig) float64 {
	inputCost := float64(inputTokens) / 1000 * m.CostPer1KInput
	outputCost := float64(outputTokens) / 1000 * m.CostPer1KOutput
	return inputCost + outputCost
}

// BatchCostEstimate summarizes the expected spend for a set of chunks before
// any call is made.
type BatchCostEstimate struct {
	TotalItems            int     `json:"totalItems"`
	EstimatedInputTokens  int     `json:"estimatedInputTokens"`
	EstimatedOutputTokens int     `json:"estimatedOutputTokens"`
	EstimatedCost         float64 `json:"estimatedCost"`
	CostPerItem           float64 `json:"costPerItem"`
	Model                 string  `json:"model"`
}

// outputExpansion assumes the rewrite runs half again as long as the input.
const outputExpansion = 1.5

// EstimateBatchCost prices a whole chunk set against one tier up front.
func EstimateBatchCost(chunks []ContentChunk, m ModelConfig) BatchCostEstimate {
	est := BatchCostEstimate{TotalItems: len(chunks), Model: m.Name}
	for _, c := range chunks {
		est.EstimatedInputTokens += c.EstimatedTokens
		est.EstimatedOutputTokens += int(float64(c.EstimatedTokens) * outputExpansion)
	}
	est.EstimatedCost = EstimateCost(est.EstimatedInputTokens, est.EstimatedOutputTokens, m)
	if len(chunks) > 0 {
		est.CostPerItem = est.EstimatedCost / float64(len(chunks))
	}
	return est
}
