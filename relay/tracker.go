package relay

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// DefaultTrackedBatches is how many batches a Tracker keeps by default.
const DefaultTrackedBatches = 256

// Tracker keeps live per-job states of recent batches. Once more than limit
// batches were started, the oldest is forgotten.
type Tracker struct {
	limit   int
	batches *xsync.Map[string, *BatchProgress]

	mu    sync.Mutex
	order []string
}

// NewTracker creates a Tracker keeping up to limit batches.
func NewTracker(limit int) *Tracker {
	if limit <= 0 {
		limit = DefaultTrackedBatches
	}
	return &Tracker{
		limit:   limit,
		batches: xsync.NewMap[string, *BatchProgress](),
	}
}

// Start registers a batch of total jobs, all Pending.
func (t *Tracker) Start(batchID string, total int) *BatchProgress {
	p := &BatchProgress{
		id:        batchID,
		total:     total,
		startedAt: time.Now(),
		states:    xsync.NewMap[int, State](),
		outcomes:  xsync.NewMap[int, Outcome](),
	}
	for i := 0; i < total; i++ {
		p.states.Store(i, StatePending)
	}

	t.batches.Store(batchID, p)

	t.mu.Lock()
	t.order = append(t.order, batchID)
	for len(t.order) > t.limit {
		evicted := t.order[0]
		t.order = t.order[1:]
		t.batches.Delete(evicted)
	}
	t.mu.Unlock()

	return p
}

// Get returns the progress of a tracked batch.
func (t *Tracker) Get(batchID string) (*BatchProgress, bool) {
	return t.batches.Load(batchID)
}

// Len returns the number of tracked batches.
func (t *Tracker) Len() int {
	return t.batches.Size()
}

// BatchProgress is the live view of one batch. A nil *BatchProgress ignores
// updates, so untracked batches need no special casing.
type BatchProgress struct {
	id        string
	total     int
	startedAt time.Time

	states   *xsync.Map[int, State]
	outcomes *xsync.Map[int, Outcome]

	done       atomic.Bool
	finishedAt atomic.Int64
}

func (p *BatchProgress) setState(index int, s State) {
	if p == nil {
		return
	}
	p.states.Store(index, s)
}

func (p *BatchProgress) finish(o Outcome) {
	if p == nil {
		return
	}
	p.outcomes.Store(o.Index, o)
	p.states.Store(o.Index, o.State)
}

func (p *BatchProgress) complete(at time.Time) {
	if p == nil {
		return
	}
	p.finishedAt.Store(at.UnixNano())
	p.done.Store(true)
}

// JobProgress is one job in a Snapshot.
type JobProgress struct {
	Index   int      `json:"index"`
	State   State    `json:"state"`
	Outcome *Outcome `json:"outcome,omitempty"`
}

// Snapshot is a point-in-time copy of a batch's progress.
type Snapshot struct {
	BatchID    string        `json:"batchId"`
	Total      int           `json:"total"`
	Completed  int           `json:"completed"`
	Done       bool          `json:"done"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt *time.Time    `json:"finishedAt,omitempty"`
	Jobs       []JobProgress `json:"jobs"`
	Summary    Summary       `json:"summary"`
}

// Snapshot copies the current state of every job.
func (p *BatchProgress) Snapshot() Snapshot {
	snap := Snapshot{
		BatchID:   p.id,
		Total:     p.total,
		Done:      p.done.Load(),
		StartedAt: p.startedAt,
		Jobs:      make([]JobProgress, 0, p.total),
	}
	if snap.Done {
		at := time.Unix(0, p.finishedAt.Load())
		snap.FinishedAt = &at
	}

	p.states.Range(func(index int, s State) bool {
		job := JobProgress{Index: index, State: s}
		if o, ok := p.outcomes.Load(index); ok {
			job.Outcome = &o
			job.State = o.State
			snap.Summary.Add(o)
			snap.Completed++
		}
		snap.Jobs = append(snap.Jobs, job)
		return true
	})
	sort.Slice(snap.Jobs, func(a, b int) bool {
		return snap.Jobs[a].Index < snap.Jobs[b].Index
	})
	return snap
}
