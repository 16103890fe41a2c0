package campaign

import (
	"context"
	"sync"
	"testing"
	"time"

	"followcast/internal/cache/cachetest"
	"followcast/internal/model"
	"followcast/internal/query"
	"followcast/internal/schedule"
	"followcast/internal/store/sqlitestore"
	"followcast/internal/xclient"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.t = c.t.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type fakeMessenger struct {
	mu    sync.Mutex
	level xclient.AccessLevel
	// errs holds errors returned, in order, for a recipient before success.
	errs  map[string][]error
	sent  []string
	block chan struct{}
}

func newMessenger(level xclient.AccessLevel) *fakeMessenger {
	return &fakeMessenger{level: level, errs: map[string][]error{}}
}

func (m *fakeMessenger) AccessLevel(ctx context.Context) (xclient.AccessLevel, error) {
	return m.level, nil
}

func (m *fakeMessenger) SendDirectMessage(ctx context.Context, recipientID, text string) error {
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if q := m.errs[recipientID]; len(q) > 0 {
		m.errs[recipientID] = q[1:]
		return q[0]
	}
	m.sent = append(m.sent, recipientID)
	return nil
}

func (m *fakeMessenger) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

type countingCandidates struct {
	inner *query.Engine
	mu    sync.Mutex
	calls []query.Params
}

func (c *countingCandidates) Followers(ctx context.Context, p query.Params) ([]model.Follower, error) {
	c.mu.Lock()
	c.calls = append(c.calls, p)
	c.mu.Unlock()
	return c.inner.Followers(ctx, p)
}

func (c *countingCandidates) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Notify(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) Types() []EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventType, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	db     *sqlitestore.DB
	clock  *fakeClock
	msgr   *fakeMessenger
	cands  *countingCandidates
	events *eventLog
	runner *Runner
}

func newHarness(t *testing.T, level xclient.AccessLevel) *harness {
	t.Helper()
	db, err := sqlitestore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	cachetest.Seed(t, db, "me")
	h := &harness{
		db:     db,
		clock:  newFakeClock(),
		msgr:   newMessenger(level),
		cands:  &countingCandidates{inner: query.NewEngine(db)},
		events: &eventLog{},
	}
	h.runner = &Runner{
		Candidates: h.cands,
		History:    db,
		Messenger:  h.msgr,
		Notifier:   h.events,
		Limits:     schedule.Limits{Ceiling: 1000, Window: 24 * time.Hour},
		PageSize:   100,
		Backoff:    time.Minute,
		Now:        h.clock.Now,
		Sleep:      h.clock.Sleep,
	}
	return h
}

// run validates d and executes it synchronously.
func (h *harness) run(t *testing.T, d Descriptor) *Run {
	t.Helper()
	norm, err := d.Normalize()
	require.NoError(t, err)
	run := newRun("run-1", norm)
	err = h.runner.Run(context.Background(), run)
	run.finish(h.clock.Now(), err)
	return run
}

func (h *harness) history(t *testing.T, rehearsal bool) []model.Follower {
	t.Helper()
	rows, err := h.db.QueryFollowers(context.Background(), cacheQuery(rehearsal))
	require.NoError(t, err)
	var out []model.Follower
	for _, r := range rows {
		if r.ContactedAt != nil {
			out = append(out, r)
		}
	}
	return out
}

func intp(v int) *int { return &v }
