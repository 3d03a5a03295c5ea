package enhance

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// window is the trailing interval quotas are enforced over.
	window = time.Minute

	defaultMaxRetries  = 3
	defaultBackoff     = 2 * time.Second
	maxBackoff         = 60 * time.Second
	defaultCallTimeout = 45 * time.Second
)

// tokenStamp is one token-count entry in the sliding window.
type tokenStamp struct {
	at     time.Time
	tokens int
}

// CallOptions tune a single gated call.
type CallOptions struct {
	PreferredModel string
	MaxRetries     int           // <0 → no retry, 0 → default
	Backoff        time.Duration // 0 → default
	Timeout        time.Duration // 0 → default
	Temperature    float32
	MaxOutput      int
}

// CallResult is the outcome of one gated call, failures included. Err is nil
// exactly when ErrKind is empty.
type CallResult struct {
	Text         string
	ModelUsed    string
	InputTokens  int
	OutputTokens int
	Cost         float64
	Latency      time.Duration
	Attempts     int
	ErrKind      ErrorKind
	Err          error
}

// RateLimiter gates every enhancement call behind per-minute request and
// token quotas, retries transient failures with exponential backoff, and
// tracks cumulative usage and cost. Safe for concurrent use; the check +
// window update pair runs under one lock so two callers can never both see
// the same spare capacity.
type RateLimiter struct {
	mu       sync.Mutex
	catalog  *ModelCatalog
	client   Enhancer
	log      *slog.Logger
	stats    UsageStats
	requests []time.Time
	tokens   []tokenStamp

	// injectable for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRateLimiter builds a limiter over the given catalog and client.
func NewRateLimiter(catalog *ModelCatalog, client Enhancer, log *slog.Logger) *RateLimiter {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if client == nil {
		client = UnavailableEnhancer{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &RateLimiter{
		catalog: catalog,
		client:  client,
		log:     log,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Catalog exposes the limiter's model tiers.
func (l *RateLimiter) Catalog() *ModelCatalog { return l.catalog }

// prune drops window entries older than one minute. Caller holds l.mu.
func (l *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(l.requests) && !l.requests[i].After(cutoff) {
		i++
	}
	l.requests = l.requests[i:]
	j := 0
	for j < len(l.tokens) && !l.tokens[j].at.After(cutoff) {
		j++
	}
	l.tokens = l.tokens[j:]
}

// CheckLimit reports whether a call against the model would stay inside its
// per-minute quotas, and if not, how long until the oldest window entry
// expires and capacity frees up.
func (l *RateLimiter) CheckLimit(m ModelConfig) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkLocked(m, l.now())
}

func (l *RateLimiter) checkLocked(m ModelConfig, now time.Time) (bool, time.Duration) {
	l.prune(now)

	tokenSum := 0
	for _, ts := range l.tokens {
		tokenSum += ts.tokens
	}

	overRequests := m.RequestsPerMinute > 0 && len(l.requests) >= m.RequestsPerMinute
	overTokens := m.TokensPerMinute > 0 && tokenSum >= m.TokensPerMinute
	if !overRequests && !overTokens {
		return true, 0
	}

	var wait time.Duration
	if overRequests && len(l.requests) > 0 {
		wait = l.requests[0].Add(window).Sub(now)
	}
	if overTokens && len(l.tokens) > 0 {
		if w := l.tokens[0].at.Add(window).Sub(now); w > wait {
			wait = w
		}
	}
	if wait < 0 {
		wait = 0
	}
	return false, wait
}

// acquire blocks until the window has capacity for the call, then records it.
// The check and the record happen under one lock acquisition.
func (l *RateLimiter) acquire(ctx context.Context, m ModelConfig, estimatedTokens int) error {
	for {
		l.mu.Lock()
		now := l.now()
		ok, wait := l.checkLocked(m, now)
		if ok {
			l.requests = append(l.requests, now)
			l.tokens = append(l.tokens, tokenStamp{at: now, tokens: estimatedTokens})
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		l.log.Debug("Rate limit window full, waiting",
			"model", m.Name,
			"wait", wait)
		if err := l.sleep(ctx, wait+10*time.Millisecond); err != nil {
			return err
		}
	}
}

// Call runs one gated enhancement call: select a tier, wait for window
// capacity, dispatch, classify and retry failures with exponential backoff.
// Exhausted retries come back as a failed CallResult, never a panic, so batch
// aggregation can carry on.
func (l *RateLimiter) Call(ctx context.Context, prompt string, opts CallOptions) CallResult {
	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	} else if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}

	estimated := EstimateTokens(prompt)
	model, err := l.catalog.SelectModel(estimated, opts.PreferredModel)
	if err != nil {
		return CallResult{ErrKind: ErrorKindNoSuitableModel, Err: err}
	}

	l.log.Debug("Starting gated call",
		"model", model.Name,
		"estimated_tokens", estimated,
		"max_retries", maxRetries)

	var lastErr error
	lastKind := ErrorKindTransient
	attempts := 0

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := l.acquire(ctx, model, estimated); err != nil {
			return CallResult{ModelUsed: model.Name, Attempts: attempts, ErrKind: ClassifyError(err), Err: err}
		}

		attempts++
		start := l.now()
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		completion, callErr := l.client.Complete(callCtx, CompletionRequest{
			Model:       model.Name,
			Prompt:      prompt,
			MaxTokens:   opts.MaxOutput,
			Temperature: opts.Temperature,
		})
		cancel()
		latency := l.now().Sub(start)

		if callErr == nil {
			inTok := completion.PromptTokens
			if inTok == 0 {
				inTok = estimated
			}
			cost := EstimateCost(inTok, completion.CompletionTokens, model)

			l.mu.Lock()
			l.stats.record(model.Name, inTok+completion.CompletionTokens, cost, l.now())
			l.mu.Unlock()

			if attempt > 0 {
				l.log.Debug("Attempt succeeded", "attempt", attempt+1, "model", model.Name)
			}
			return CallResult{
				Text:         completion.Text,
				ModelUsed:    model.Name,
				InputTokens:  inTok,
				OutputTokens: completion.CompletionTokens,
				Cost:         cost,
				Latency:      latency,
				Attempts:     attempts,
			}
		}

		kind := ClassifyError(callErr)
		lastErr = callErr
		lastKind = kind

		l.mu.Lock()
		l.stats.record(model.Name, 0, 0, l.now())
		if kind == ErrorKindRateLimited {
			l.stats.RateLimitHits++
		}
		l.mu.Unlock()

		if kind == ErrorKindFatal || kind == ErrorKindCancelled || kind == ErrorKindDependencyMissing {
			l.log.Debug("Non-retryable failure", "attempt", attempt+1, "kind", kind, "error", callErr)
			return CallResult{
				ModelUsed: model.Name,
				Latency:   latency,
				Attempts:  attempts,
				ErrKind:   kind,
				Err:       callErr,
			}
		}
		if attempt == maxRetries {
			break
		}

		delay := backoff << attempt
		if delay > maxBackoff {
			delay = maxBackoff
		}
		if kind == ErrorKindRateLimited {
			if hint, ok := retryHint(callErr); ok {
				delay = hint
			}
			// Repeated throttling: drop to the cheaper tier when one exists.
			if model.FallbackModel != "" {
				if fb, ok := l.catalog.Lookup(model.FallbackModel); ok && fb.fits(estimated) {
					l.log.Debug("Switching to fallback model", "from", model.Name, "to", fb.Name)
					model = fb
				}
			}
		}

		l.log.Debug("Attempt failed, retrying",
			"attempt", attempt+1,
			"kind", kind,
			"delay", delay,
			"error", callErr)
		if err := l.sleep(ctx, delay); err != nil {
			return CallResult{ModelUsed: model.Name, Attempts: attempts, ErrKind: ClassifyError(err), Err: err}
		}
	}

	l.log.Debug("Retries exhausted", "attempts", attempts, "kind", lastKind, "error", lastErr)
	return CallResult{
		ModelUsed: model.Name,
		Attempts:  attempts,
		ErrKind:   lastKind,
		Err:       lastErr,
	}
}

// Stats returns a copy of the cumulative usage stats.
func (l *RateLimiter) Stats() UsageStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.stats
	out.ModelUsage = make(map[string]int, len(l.stats.ModelUsage))
	for k, v := range l.stats.ModelUsage {
		out.ModelUsage[k] = v
	}
	return out
}

// Summary returns the stats plus the live sliding-window counters.
func (l *RateLimiter) Summary() UsageSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	tokenSum := 0
	for _, ts := range l.tokens {
		tokenSum += ts.tokens
	}
	usage := make(map[string]int, len(l.stats.ModelUsage))
	for k, v := range l.stats.ModelUsage {
		usage[k] = v
	}
	return UsageSummary{
		RequestCount:  l.stats.RequestCount,
		TotalTokens:   l.stats.TotalTokens,
		TotalCost:     l.stats.TotalCost,
		RateLimitHits: l.stats.RateLimitHits,
		ModelUsage:    usage,
		CurrentRPM:    len(l.requests),
		CurrentTPM:    tokenSum,
	}
}

// ResetStats clears cumulative usage; explicit user action only.
func (l *RateLimiter) ResetStats() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats = UsageStats{}
}

// sleepCtx sleeps in short steps so cancellation is honored promptly.
func sleepCtx(ctx context.Context, d time.Duration) error {
	const step = 200 * time.Millisecond
	for d > 0 {
		s := d
		if s > step {
			s = step
		}
		t := time.NewTimer(s)
		select {
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return ctx.Err()
		case <-t.C:
		}
		d -= s
	}
	return nil
}
