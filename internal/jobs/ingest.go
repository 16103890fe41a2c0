// Package jobs runs follower cache builds in the background and reports
// their status.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"followcast/internal/cache"
	"followcast/internal/ingest"
	"followcast/internal/logging"
	"followcast/internal/metrics"
	"followcast/internal/model"
)

// ErrBuildRunning is returned when a build for the account is already active.
var ErrBuildRunning = errors.New("cache build already running")

// Task is a handle to one background build.
type Task struct {
	Account string
	Mode    ingest.Mode
	Started time.Time
	done    chan struct{}
	err     error
}

// Done is closed when the build returns.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err is the build result; valid after Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Manager owns background builds. Builds run under the manager's base
// context, so they outlive the request that started them and stop on shutdown.
type Manager struct {
	base    context.Context
	store   cache.Store
	builder *ingest.Builder

	mu     sync.Mutex
	active map[string]*Task
	wg     sync.WaitGroup
}

func NewManager(base context.Context, store cache.Store, builder *ingest.Builder) *Manager {
	return &Manager{base: base, store: store, builder: builder, active: map[string]*Task{}}
}

// StartBuild launches a build for account and returns immediately.
func (m *Manager) StartBuild(account string, mode ingest.Mode) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[account]; ok {
		return nil, ErrBuildRunning
	}
	t := &Task{Account: account, Mode: mode, Started: time.Now().UTC(), done: make(chan struct{})}
	m.active[account] = t
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		t.err = m.RunBuildOnce(m.base, account, mode)
		m.mu.Lock()
		delete(m.active, account)
		m.mu.Unlock()
		close(t.done)
	}()
	return t, nil
}

// RunBuildOnce resolves the expected follower count and crawls synchronously.
func (m *Manager) RunBuildOnce(ctx context.Context, account string, mode ingest.Mode) error {
	start := time.Now()
	metrics.IngestRuns.Inc()
	expected, err := m.builder.ExpectedFollowers(ctx, account)
	if err != nil {
		logging.Warn("ingest_expected_unknown", map[string]any{"account": account, "error": err.Error()})
		if ctx.Err() != nil {
			metrics.IngestErrors.Inc()
			return ctx.Err()
		}
	}
	if err := m.builder.Build(ctx, account, expected, mode); err != nil {
		metrics.IngestErrors.Inc()
		logging.Error("ingest_error", map[string]any{"account": account, "error": err.Error()})
		return err
	}
	metrics.ObserveIngestDuration(start)
	return nil
}

// Building reports whether a build for account is active in this process.
func (m *Manager) Building(account string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[account]
	return ok
}

// Wait blocks until every started build has returned.
func (m *Manager) Wait() { m.wg.Wait() }

// Status derives the cache state from stored progress and in-process activity.
// An active build reports in_progress from the moment it starts, before its
// progress row is reset or written.
func (m *Manager) Status(ctx context.Context, account string) (model.CacheStatus, error) {
	building := m.Building(account)
	p, err := m.store.LoadProgress(ctx, account)
	switch {
	case errors.Is(err, cache.ErrNotFound):
		if building {
			return model.CacheStatus{State: model.CacheInProgress}, nil
		}
		return model.CacheStatus{State: model.CacheNone}, nil
	case err != nil:
		return model.CacheStatus{}, err
	case building:
		if p.Done() {
			// rebuild of a finished cache that has not reset yet
			return model.CacheStatus{State: model.CacheInProgress}, nil
		}
		return model.CacheStatus{State: model.CacheInProgress, Percent: p.Percent}, nil
	case p.Done():
		return model.CacheStatus{State: model.CacheComplete, Percent: 100}, nil
	}
	return model.CacheStatus{State: model.CacheIncomplete, Percent: p.Percent}, nil
}

// RunRefreshLoop calls refresh on a ticker until ctx is cancelled. Errors are
// logged and the loop keeps going.
func RunRefreshLoop(ctx context.Context, interval time.Duration, refresh func(ctx context.Context) error) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Info("refresh_loop_stop", nil)
			return ctx.Err()
		case <-t.C:
			if err := refresh(ctx); err != nil {
				logging.Error("refresh_error", map[string]any{"error": err.Error()})
			}
		}
	}
}
