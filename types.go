package enhance

import (
	"time"
)

// ErrorKind classifies why an enhancement call or store operation failed.
type ErrorKind string

const (
	ErrorKindNone                ErrorKind = ""
	ErrorKindRateLimited         ErrorKind = "rate_limited"
	ErrorKindTransient           ErrorKind = "transient"
	ErrorKindTimeout             ErrorKind = "timeout"
	ErrorKindParseFailure        ErrorKind = "parse_failure"
	ErrorKindFatal               ErrorKind = "fatal"
	ErrorKindPersistenceDegraded ErrorKind = "persistence_degraded"
	ErrorKindNoSuitableModel     ErrorKind = "no_suitable_model"
	ErrorKindDependencyMissing   ErrorKind = "dependency_missing"
	ErrorKindCancelled           ErrorKind = "cancelled"
)

// Retryable reports whether a call failing with this kind is worth retrying.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrorKindRateLimited, ErrorKindTransient, ErrorKindTimeout:
		return true
	}
	return false
}

// ContentChunk is one unit of source text to be rewritten. Immutable after
// creation; SourceIndex preserves the caller's ordering for reassembly.
type ContentChunk struct {
	ID              string `json:"id"`
	Text            string `json:"text"`
	SourceIndex     int    `json:"sourceIndex"`
	EstimatedTokens int    `json:"estimatedTokens"`
}

// Batch groups consecutive chunks into one API request.
// Invariant: len(Chunks) <= the batcher's MaxItems and EstimatedTokens <= its
// MaxTokens, except when Oversized is set for a single too-large chunk.
type Batch struct {
	BatchID         string         `json:"batchId"`
	Chunks          []ContentChunk `json:"chunks"`
	EstimatedTokens int            `json:"estimatedTokens"`
	Oversized       bool           `json:"oversized,omitempty"`
}

// EnhancementResult is the per-chunk outcome of a run. One result exists for
// every input chunk, failures included; SourceIndex is never renumbered.
type EnhancementResult struct {
	SourceIndex  int       `json:"sourceIndex"`
	OriginalText string    `json:"originalText"`
	EnhancedText string    `json:"enhancedText"`
	Success      bool      `json:"success"`
	ErrorKind    ErrorKind `json:"errorKind,omitempty"`
	ErrorDetail  string    `json:"errorDetail,omitempty"`
	Tone         string    `json:"tone"`
	OutputType   string    `json:"outputType"`
	ModelUsed    string    `json:"modelUsed"`
	CostEstimate float64   `json:"costEstimate"`
	LatencyMs    int64     `json:"latencyMs"`
}

// RunResult is the total, order-preserving outcome of a processor run.
type RunResult struct {
	Results   []EnhancementResult `json:"results"`
	Cancelled bool                `json:"cancelled"`
	Completed int                 `json:"completed"`
	Failed    int                 `json:"failed"`
	TotalCost float64             `json:"totalCost"`
	Elapsed   time.Duration       `json:"elapsed"`
}

// ProgressFunc is invoked after each batch completes, success or failure.
type ProgressFunc func(completedItems, totalItems int, runningCost float64)

// TokenEstimator converts text into an estimated token count. The default is
// the rough one-token-per-four-characters rule.
type TokenEstimator func(text string) int

// EstimateTokens is the default TokenEstimator.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// Runner lets the processor schedule work with any concurrency model.
type Runner interface {
	Go(fn func() error) // schedule
	Wait() error        // join / propagate first err
}

// Options represents functional options for a processor run.
type Options struct {
	Tone            string
	OutputType      string
	PreferredModel  string
	PromptLabel     string         // template tag; "" → the built-in template
	Concurrency     int            // max batches in flight; <=0 → default
	MaxItems        int            // per-batch item ceiling; <=0 → default
	MaxTokens       int            // per-batch token budget; <=0 → default
	Estimator       TokenEstimator // nil → EstimateTokens
	Sequential      bool           // force the batch-by-batch fallback mode
	ContinueOnFatal bool           // override fail-fast on the first fatal error
	OnProgress      ProgressFunc
	CancelRequested func() bool // polled between batch starts
	CallTimeout     time.Duration
	MaxRetries      int
	Backoff         time.Duration
	StoreKey        string // when set, the full result set is persisted under this key
}

func WithTone(tone string) func(*Options) {
	return func(o *Options) { o.Tone = tone }
}

func WithOutputType(t string) func(*Options) {
	return func(o *Options) { o.OutputType = t }
}

func WithPreferredModel(name string) func(*Options) {
	return func(o *Options) { o.PreferredModel = name }
}

func WithPromptLabel(label string) func(*Options) {
	return func(o *Options) { o.PromptLabel = label }
}

func WithConcurrency(n int) func(*Options) {
	return func(o *Options) { o.Concurrency = n }
}

func WithBatchLimits(maxItems, maxTokens int) func(*Options) {
	return func(o *Options) {
		o.MaxItems = maxItems
		o.MaxTokens = maxTokens
	}
}

func WithEstimator(fn TokenEstimator) func(*Options) {
	return func(o *Options) { o.Estimator = fn }
}

// WithSequential forces the synchronous fallback mode: batches run one at a
// time with the same output contract as the concurrent mode.
func WithSequential() func(*Options) {
	return func(o *Options) { o.Sequential = true }
}

// WithContinueOnFatal keeps scheduling batches after a fatal call error
// instead of the default fail-fast behavior.
func WithContinueOnFatal() func(*Options) {
	return func(o *Options) { o.ContinueOnFatal = true }
}

func WithProgress(fn ProgressFunc) func(*Options) {
	return func(o *Options) { o.OnProgress = fn }
}

// WithCancel registers a flag the caller may flip to stop scheduling new
// batches. In-flight batches finish; accumulated results are returned.
func WithCancel(requested func() bool) func(*Options) {
	return func(o *Options) { o.CancelRequested = requested }
}

func WithCallTimeout(d time.Duration) func(*Options) {
	return func(o *Options) { o.CallTimeout = d }
}

func WithRetry(max int, backoff time.Duration) func(*Options) {
	return func(o *Options) {
		o.MaxRetries = max
		o.Backoff = backoff
	}
}

// WithStoreKey persists the run's results through the session store under the
// given key once the run completes.
func WithStoreKey(key string) func(*Options) {
	return func(o *Options) { o.StoreKey = key }
}
