package enhance

import (
	"fmt"
	"sync"
	"time"
)

// Snapshot is a display-ready view of a run in flight. Completed and failed
// counts are reported distinctly; a run that finishes with failures is never
// summarized as full success.
type Snapshot struct {
	Total     int           `json:"total"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Pending   int           `json:"pending"`
	Fraction  float64       `json:"fraction"`
	Cost      float64       `json:"cost"`
	Elapsed   time.Duration `json:"elapsed"`
	ETA       time.Duration `json:"eta"`
}

// Tracker derives progress fractions, ETA, and running cost from processor
// counters. Safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	total     int
	processed int // items attempted, success or failure
	failed    int
	cost      float64
	started   time.Time
	now       func() time.Time
}

// NewTracker returns an idle tracker; the processor arms it at run start.
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

func (t *Tracker) begin(total int, started time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = total
	t.processed = 0
	t.failed = 0
	t.cost = 0
	t.started = started
}

func (t *Tracker) observe(items, failures int, cost float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed += items
	t.failed += failures
	t.cost += cost
}

// Snapshot computes the current progress view.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{
		Total:     t.total,
		Completed: t.processed - t.failed,
		Failed:    t.failed,
		Pending:   t.total - t.processed,
		Cost:      t.cost,
	}
	if t.total > 0 {
		s.Fraction = float64(t.processed) / float64(t.total)
	}
	if !t.started.IsZero() {
		s.Elapsed = t.now().Sub(t.started)
		if t.processed > 0 && s.Pending > 0 {
			perItem := s.Elapsed / time.Duration(t.processed)
			s.ETA = perItem * time.Duration(s.Pending)
		}
	}
	return s
}

// Summary renders the run state as one line, calling out failures when any.
func (t *Tracker) Summary() string {
	s := t.Snapshot()
	switch {
	case s.Pending > 0:
		return fmt.Sprintf("processing: %d of %d items done (%d failed)", s.Completed+s.Failed, s.Total, s.Failed)
	case s.Failed > 0:
		return fmt.Sprintf("completed with %d failures (%d of %d succeeded)", s.Failed, s.Completed, s.Total)
	default:
		return fmt.Sprintf("completed: all %d items succeeded", s.Total)
	}
}

// EstimateProcessingTime gives a rough human estimate before a run starts.
func EstimateProcessingTime(numItems, maxItemsPerBatch int) string {
	if maxItemsPerBatch <= 0 {
		maxItemsPerBatch = DefaultMaxItems
	}
	numBatches := (numItems + maxItemsPerBatch - 1) / maxItemsPerBatch
	switch {
	case numBatches <= 1:
		return "1-2 minutes"
	case numBatches <= 5:
		return "3-5 minutes"
	case numBatches <= 10:
		return "5-10 minutes"
	case numBatches <= 20:
		return "10-20 minutes"
	default:
		return fmt.Sprintf("%.0f+ minutes", float64(numBatches)*1.5)
	}
}
