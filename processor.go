package enhance

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// DefaultConcurrency is the ceiling on batches in flight at once.
const DefaultConcurrency = 5

// defaultTemperature matches the rewrite temperature the service has always
// used for enhancement calls.
const defaultTemperature = 0.7

// ErrNoProcessor is returned when a processor is constructed without a
// rate limiter.
var ErrNoProcessor = errors.New("processor requires a rate limiter")

// Processor drives concurrent dispatch of batches through the rate limiter
// and reassembles per-chunk results in original source order regardless of
// completion order.
type Processor struct {
	limiter *RateLimiter
	prompts *PromptBuilder
	store   *SessionStore
	tracker *Tracker
	log     *slog.Logger
}

// NewProcessor wires a processor. The store and tracker may be nil; a nil
// prompt builder falls back to the built-in template set.
func NewProcessor(limiter *RateLimiter, prompts *PromptBuilder, store *SessionStore, log *slog.Logger) (*Processor, error) {
	if limiter == nil {
		return nil, ErrNoProcessor
	}
	if prompts == nil {
		var err error
		prompts, err = NewPromptBuilder()
		if err != nil {
			return nil, err
		}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Processor{limiter: limiter, prompts: prompts, store: store, log: log}, nil
}

// SetTracker attaches a progress tracker that observes every completed batch.
func (p *Processor) SetTracker(t *Tracker) { p.tracker = t }

// runState is the shared mutable state of one run; everything behind mu.
type runState struct {
	mu        sync.Mutex
	results   []EnhancementResult
	completed int
	cost      float64
	fatalSeen bool
	cancelled bool
}

// Process enhances all chunks: batch, dispatch through the rate limiter with
// at most Concurrency batches in flight, and return one result per input
// chunk in source order. Per-chunk and per-batch failures never abort the
// run; a fatal call error stops scheduling of the remaining batches unless
// WithContinueOnFatal is set.
func (p *Processor) Process(ctx context.Context, chunks []ContentChunk, optFns ...func(*Options)) (*RunResult, error) {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	estimate := opts.Estimator
	if estimate == nil {
		estimate = EstimateTokens
	}

	start := p.limiter.now()
	out := &RunResult{}
	if len(chunks) == 0 {
		return out, nil
	}

	// Normalize a working copy: source order is input order, and every chunk
	// carries a token estimate.
	work := make([]ContentChunk, len(chunks))
	copy(work, chunks)
	for i := range work {
		work[i].SourceIndex = i
		if work[i].EstimatedTokens == 0 {
			work[i].EstimatedTokens = estimate(work[i].Text)
		}
	}

	batcher := NewBatcher(opts.MaxItems, opts.MaxTokens, estimate, p.log)
	batches := batcher.Split(work)
	total := len(work)

	p.log.Debug("Starting run",
		"chunk_count", total,
		"batch_count", len(batches),
		"concurrency", opts.Concurrency,
		"sequential", opts.Sequential,
		"tone", opts.Tone,
		"output_type", opts.OutputType)

	if p.tracker != nil {
		p.tracker.begin(total, start)
	}

	state := &runState{results: make([]EnhancementResult, total)}

	var r Runner
	if opts.Sequential {
		r = NewSequentialRunner()
	} else {
		r = NewLimitedRunner(ctx, opts.Concurrency)
	}

	for _, batch := range batches {
		batch := batch // loop capture
		r.Go(func() error {
			// A batch only starts while the run is still live: not cancelled
			// by the caller, not past a fatal failure under fail-fast.
			if skip, kind := p.shouldSkip(ctx, state, &opts); skip {
				p.markBatch(state, batch, kind, "batch not started", &opts)
				return nil
			}

			results := p.processBatch(ctx, batch, &opts)
			p.recordBatch(state, batch, results, &opts)
			return nil
		})
	}

	// Batch tasks never surface errors; failures travel as result data.
	if err := r.Wait(); err != nil {
		p.log.Debug("Runner wait failed", "error", err)
	}

	state.mu.Lock()
	out.Results = state.results
	out.Cancelled = state.cancelled
	out.TotalCost = state.cost
	state.mu.Unlock()

	for i := range out.Results {
		// Chunks of batches that never even reached a skip check (runner
		// aborted) still need placeholder entries to keep the count total.
		if out.Results[i].OriginalText == "" && !out.Results[i].Success && out.Results[i].ErrorKind == ErrorKindNone {
			out.Results[i] = failedResult(work[i], ErrorKindCancelled, "batch not started", &opts)
			out.Results[i].ModelUsed = ""
		}
		if out.Results[i].Success {
			out.Completed++
		} else {
			out.Failed++
		}
	}
	out.Elapsed = p.limiter.now().Sub(start)

	if opts.StoreKey != "" && p.store != nil {
		if err := p.store.Put(opts.StoreKey, out.Results); err != nil {
			// Fail-soft: the run already holds the data in memory.
			p.log.Warn("Persisting run results degraded", "key", opts.StoreKey, "error", err)
		}
	}

	p.log.Info("Run finished",
		"completed", out.Completed,
		"failed", out.Failed,
		"cancelled", out.Cancelled,
		"cost", out.TotalCost,
		"elapsed", out.Elapsed)
	return out, nil
}

// shouldSkip decides whether a not-yet-started batch may still run.
func (p *Processor) shouldSkip(ctx context.Context, state *runState, opts *Options) (bool, ErrorKind) {
	if ctx.Err() != nil || (opts.CancelRequested != nil && opts.CancelRequested()) {
		state.mu.Lock()
		state.cancelled = true
		state.mu.Unlock()
		return true, ErrorKindCancelled
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.fatalSeen && !opts.ContinueOnFatal {
		return true, ErrorKindCancelled
	}
	return false, ErrorKindNone
}

// processBatch runs one composite call and splits the answer per chunk.
func (p *Processor) processBatch(ctx context.Context, batch Batch, opts *Options) []EnhancementResult {
	results := make([]EnhancementResult, len(batch.Chunks))

	prompt, err := p.prompts.BuildBatchPrompt(opts.PromptLabel, opts.Tone, opts.OutputType, batch.Chunks)
	if err != nil {
		p.log.Debug("Prompt build failed", "batch_id", batch.BatchID, "error", err)
		for i, c := range batch.Chunks {
			results[i] = failedResult(c, ErrorKindFatal, err.Error(), opts)
		}
		return results
	}

	call := p.limiter.Call(ctx, prompt, CallOptions{
		PreferredModel: opts.PreferredModel,
		MaxRetries:     opts.MaxRetries,
		Backoff:        opts.Backoff,
		Timeout:        opts.CallTimeout,
		Temperature:    defaultTemperature,
	})

	if call.Err != nil {
		p.log.Debug("Batch call failed",
			"batch_id", batch.BatchID,
			"kind", call.ErrKind,
			"attempts", call.Attempts,
			"error", call.Err)
		for i, c := range batch.Chunks {
			r := failedResult(c, call.ErrKind, call.Err.Error(), opts)
			r.ModelUsed = call.ModelUsed
			r.LatencyMs = call.Latency.Milliseconds()
			results[i] = r
		}
		return results
	}

	segments := ParseBatchResponse(call.Text, len(batch.Chunks))
	perChunkCost := call.Cost / float64(len(batch.Chunks))
	for i, c := range batch.Chunks {
		if i < len(segments) && segments[i] != "" {
			results[i] = EnhancementResult{
				SourceIndex:  c.SourceIndex,
				OriginalText: c.Text,
				EnhancedText: segments[i],
				Success:      true,
				Tone:         opts.Tone,
				OutputType:   opts.OutputType,
				ModelUsed:    call.ModelUsed,
				CostEstimate: perChunkCost,
				LatencyMs:    call.Latency.Milliseconds(),
			}
			continue
		}
		r := failedResult(c, ErrorKindParseFailure, "response segment missing", opts)
		r.ModelUsed = call.ModelUsed
		r.CostEstimate = perChunkCost
		r.LatencyMs = call.Latency.Milliseconds()
		results[i] = r
	}
	if len(segments) != len(batch.Chunks) {
		p.log.Debug("Batch response split mismatch",
			"batch_id", batch.BatchID,
			"expected", len(batch.Chunks),
			"got", len(segments))
	}
	return results
}

// recordBatch folds one executed batch into the shared state and fires the
// progress callback.
func (p *Processor) recordBatch(state *runState, batch Batch, results []EnhancementResult, opts *Options) {
	batchCost := 0.0
	failures := 0
	fatal := false
	for _, r := range results {
		batchCost += r.CostEstimate
		if !r.Success {
			failures++
			if r.ErrorKind == ErrorKindFatal || r.ErrorKind == ErrorKindDependencyMissing {
				fatal = true
			}
		}
	}

	state.mu.Lock()
	for _, r := range results {
		state.results[r.SourceIndex] = r
	}
	state.completed += len(results)
	state.cost += batchCost
	if fatal {
		state.fatalSeen = true
	}
	completed := state.completed
	cost := state.cost
	state.mu.Unlock()

	if p.tracker != nil {
		p.tracker.observe(len(results), failures, batchCost)
	}
	if opts.OnProgress != nil {
		opts.OnProgress(completed, len(state.results), cost)
	}
}

// markBatch records placeholder results for a batch that never started.
func (p *Processor) markBatch(state *runState, batch Batch, kind ErrorKind, detail string, opts *Options) {
	state.mu.Lock()
	defer state.mu.Unlock()
	for _, c := range batch.Chunks {
		state.results[c.SourceIndex] = failedResult(c, kind, detail, opts)
	}
}

// failedResult synthesizes the placeholder entry that keeps the result count
// total when a chunk's call failed.
func failedResult(c ContentChunk, kind ErrorKind, detail string, opts *Options) EnhancementResult {
	return EnhancementResult{
		SourceIndex:  c.SourceIndex,
		OriginalText: c.Text,
		Success:      false,
		ErrorKind:    kind,
		ErrorDetail:  detail,
		Tone:         opts.Tone,
		OutputType:   opts.OutputType,
	}
}
