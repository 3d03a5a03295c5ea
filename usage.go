package enhance

import (
	"time"
)

// UsageStats accumulates per-session usage. Mutated only by the rate limiter
// under its lock; lives for the session unless explicitly reset.
type UsageStats struct {
	RequestCount    int            `json:"requestCount"`
	TotalTokens     int            `json:"totalTokens"`
	TotalCost       float64        `json:"totalCost"`
	RateLimitHits   int            `json:"rateLimitHits"`
	ModelUsage      map[string]int `json:"modelUsage"`
	LastRequestTime time.Time      `json:"lastRequestTime"`
}

// UsageSummary is a display-ready view of the stats plus the live window.
type UsageSummary struct {
	RequestCount  int            `json:"requestCount"`
	TotalTokens   int            `json:"totalTokens"`
	TotalCost     float64        `json:"totalCost"`
	RateLimitHits int            `json:"rateLimitHits"`
	ModelUsage    map[string]int `json:"modelUsage"`
	CurrentRPM    int            `json:"currentRpm"`
	CurrentTPM    int            `json:"currentTpm"`
}

func (s *UsageStats) record(model string, tokens int, cost float64, now time.Time) {
	s.RequestCount++
	s.TotalTokens += tokens
	s.TotalCost += cost
	s.LastRequestTime = now
	if s.ModelUsage == nil {
		s.ModelUsage = make(map[string]int)
	}
	s.ModelUsage[model]++
}
