package campaign

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrAlreadyRunning rejects a second run for an account.
	ErrAlreadyRunning = errors.New("campaign already running for account")
	// ErrIngestionRunning rejects a run while the account's cache is being built.
	ErrIngestionRunning = errors.New("cache build running for account")
)

// Registry tracks at most one active run per account.
type Registry struct {
	base   context.Context
	runner *Runner
	// Busy reports whether a cache build is active for the account.
	Busy func(account string) bool

	mu     sync.Mutex
	active map[string]*Run
	last   map[string]*Run
	wg     sync.WaitGroup
}

// NewRegistry starts runs under base; cancelling it aborts them.
func NewRegistry(base context.Context, runner *Runner) *Registry {
	return &Registry{base: base, runner: runner, active: map[string]*Run{}, last: map[string]*Run{}}
}

// Submit validates d and starts a run in the background.
func (g *Registry) Submit(d Descriptor) (*Run, error) {
	norm, err := d.Normalize()
	if err != nil {
		return nil, err
	}
	run := newRun(uuid.NewString(), norm)
	run.setState(StateValidated)

	g.mu.Lock()
	if _, ok := g.active[norm.Account]; ok {
		g.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	if g.Busy != nil && g.Busy(norm.Account) {
		g.mu.Unlock()
		return nil, ErrIngestionRunning
	}
	g.active[norm.Account] = run
	g.last[norm.Account] = run
	g.wg.Add(1)
	g.mu.Unlock()

	go g.execute(run)
	return run, nil
}

func (g *Registry) execute(run *Run) {
	defer g.wg.Done()
	err := g.runner.Run(g.base, run)
	run.finish(g.runner.now(), err)
	snap := run.Snapshot()
	g.runner.notify(run, Event{Type: EventStopped, Sent: snap.Sent, Remaining: snap.Remaining, State: snap.State, Error: snap.Error})

	g.mu.Lock()
	if g.active[snap.Account] == run {
		delete(g.active, snap.Account)
	}
	g.mu.Unlock()
	run.markDone()
}

// Active returns the running run for account, if any.
func (g *Registry) Active(account string) (*Run, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.active[account]
	return r, ok
}

// Running reports whether account has an active run.
func (g *Registry) Running(account string) bool {
	_, ok := g.Active(account)
	return ok
}

// Last returns the most recently submitted run for account.
func (g *Registry) Last(account string) (*Run, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.last[account]
	return r, ok
}

// Wait blocks until all runs have stopped or timeout passes. It reports
// whether every run stopped.
func (g *Registry) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
