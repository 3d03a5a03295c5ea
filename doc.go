// Package enhance turns large collections of text chunks into AI-rewritten
// training data. It batches chunks into composite prompts, dispatches them
// concurrently against a rate- and cost-constrained model API, retries and
// degrades on failure, and reassembles per-chunk results in original order,
// while a memory-bounded session store spills large intermediate artifacts
// to disk.
//
// # Problem Statement
//
// Rewriting thousands of content chunks through a hosted model API runs into
// the same walls every time:
//
//   - Per-minute request and token quotas that concurrent callers trip over
//   - Transient provider faults and throttling that need backoff, not crashes
//   - Composite responses that must be split back into per-chunk answers
//   - Result sets too large to keep in memory on small hosts
//   - Partial failures that should never discard the rest of a run
//
// The enhance package addresses these with a gated rate limiter, a greedy
// size-bounded batcher, a bounded-concurrency batch processor with a
// sequential fallback mode, and a spill-to-disk session store. Every input
// chunk produces exactly one result, failures included, so a run's output is
// always total and order-preserving.
//
// # Basic Usage
//
//	ctx := context.Background()
//	client, _ := genai.NewClient(ctx, nil)
//
//	session, err := enhance.NewSession(enhance.SessionConfig{
//	    Client: enhance.NewLiveEnhancer(client, nil),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	chunks, _ := enhance.ChunksFromRaw(rawText, 0, nil)
//	run, err := session.Processor.Process(ctx, chunks,
//	    enhance.WithTone("formal"),
//	    enhance.WithOutputType("qa_pair"),
//	    enhance.WithConcurrency(4),
//	    enhance.WithProgress(func(done, total int, cost float64) {
//	        fmt.Printf("%d/%d ($%.4f)\n", done, total, cost)
//	    }),
//	)
//
// run.Results holds one EnhancementResult per input chunk in source order;
// run.Completed and run.Failed report the split.
//
// # Planning and Cost
//
// A run can be priced before any call is made:
//
//	plan, _ := session.Processor.Plan(chunks, enhance.WithTone("formal"))
//	fmt.Println(plan)
//
// # Cancellation and Failure Policy
//
// Cancellation is cooperative at batch granularity: in-flight batches
// finish, unstarted batches are skipped, and skipped chunks come back marked
// cancelled rather than being dropped. A fatal call error (bad API key,
// malformed request) stops scheduling of the remaining batches by default;
// WithContinueOnFatal keeps going instead. Both policies leave the result
// count intact.
package enhance
