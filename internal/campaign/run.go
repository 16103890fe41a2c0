package campaign

import (
	"sync"
	"time"
)

// State is the lifecycle of one run.
type State string

const (
	StateCreated   State = "created"
	StateValidated State = "validated"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
)

// Terminal reports whether the run has stopped.
func (s State) Terminal() bool { return s == StateCompleted || s == StateAborted }

// Run is one execution of a descriptor. Its fields are guarded by mu and
// read through Snapshot.
type Run struct {
	ID string

	mu         sync.Mutex
	desc       Descriptor
	state      State
	forced     bool
	sent       int
	skipped    int
	startedAt  time.Time
	finishedAt *time.Time
	err        error
	done       chan struct{}
}

func newRun(id string, d Descriptor) *Run {
	return &Run{ID: id, desc: d, state: StateCreated, done: make(chan struct{})}
}

// Snapshot is a point-in-time copy of a run.
type Snapshot struct {
	RunID        string     `json:"run_id"`
	CampaignID   string     `json:"campaign_id"`
	Account      string     `json:"account"`
	State        State      `json:"state"`
	DryRun       bool       `json:"dry_run"`
	ForcedDryRun bool       `json:"forced_dry_run"`
	Sent         int        `json:"sent"`
	Skipped      int        `json:"skipped"`
	Remaining    *int       `json:"remaining,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Error        string     `json:"error,omitempty"`
}

func (r *Run) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{
		RunID:        r.ID,
		CampaignID:   r.desc.ID,
		Account:      r.desc.Account,
		State:        r.state,
		DryRun:       r.desc.DryRun,
		ForcedDryRun: r.forced,
		Sent:         r.sent,
		Skipped:      r.skipped,
		Remaining:    r.remainingLocked(),
		StartedAt:    r.startedAt,
		FinishedAt:   r.finishedAt,
	}
	if r.err != nil {
		s.Error = r.err.Error()
	}
	return s
}

// Descriptor returns the descriptor as the run currently sees it.
func (r *Run) Descriptor() Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.desc
}

// Done is closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} { return r.done }

func (r *Run) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Run) start(now time.Time) {
	r.mu.Lock()
	r.state = StateRunning
	r.startedAt = now
	r.mu.Unlock()
}

func (r *Run) forceDryRun() {
	r.mu.Lock()
	r.desc.DryRun = true
	r.forced = true
	r.mu.Unlock()
}

func (r *Run) remainingLocked() *int {
	if r.desc.Count == nil {
		return nil
	}
	n := *r.desc.Count - r.sent
	if n < 0 {
		n = 0
	}
	return &n
}

// exhausted reports whether the send-count cap is reached.
func (r *Run) exhausted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.desc.Count != nil && r.sent >= *r.desc.Count
}

func (r *Run) recordSent() (sent int, remaining *int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent++
	return r.sent, r.remainingLocked()
}

func (r *Run) recordSkipped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped++
	return r.skipped
}

func (r *Run) finish(now time.Time, err error) {
	r.mu.Lock()
	r.finishedAt = &now
	r.err = err
	if err != nil {
		r.state = StateAborted
	} else {
		r.state = StateCompleted
	}
	r.mu.Unlock()
}

func (r *Run) markDone() { close(r.done) }
