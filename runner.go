package enhance

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// DefaultRunner returns the default implementation backed by errgroup.Group.
func DefaultRunner(ctx context.Context) Runner {
	return newErrGroupRunner(ctx, runtime.NumCPU())
}

// NewLimitedRunner creates a runner with bounded concurrency.
func NewLimitedRunner(ctx context.Context, maxConcurrency int) Runner {
	return newErrGroupRunner(ctx, maxConcurrency)
}

// NewSequentialRunner creates the synchronous fallback runner: tasks run
// inline in submission order, one at a time. Output contracts are identical
// to the concurrent runner; only wall-clock throughput differs.
func NewSequentialRunner() Runner {
	return &sequentialRunner{}
}

// errGroupRunner is the concurrent implementation backed by errgroup.Group.
type errGroupRunner struct {
	ctx context.Context // derived ctx shared by all tasks
	eg  *errgroup.Group
	sem chan struct{} // concurrency gate
}

func newErrGroupRunner(parent context.Context, maxConcurrency int) *errGroupRunner {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	eg, ctx := errgroup.WithContext(parent)
	return &errGroupRunner{
		ctx: ctx,
		eg:  eg,
		sem: make(chan struct{}, maxConcurrency),
	}
}

func (r *errGroupRunner) Go(fn func() error) {
	r.eg.Go(func() error {
		r.sem <- struct{}{}        // acquire
		defer func() { <-r.sem }() // release
		return fn()
	})
}

func (r *errGroupRunner) Wait() error { return r.eg.Wait() }

// sequentialRunner runs each task inline at submission time.
type sequentialRunner struct {
	err error
}

func (r *sequentialRunner) Go(fn func() error) {
	if r.err != nil {
		return
	}
	r.err = fn()
}

func (r *sequentialRunner) Wait() error { return r.err }
