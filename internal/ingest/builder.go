// Package ingest crawls an account's followers into the cache.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"followcast/internal/cache"
	"followcast/internal/logging"
	"followcast/internal/metrics"
	"followcast/internal/model"
	"followcast/internal/retry"
	"followcast/internal/xclient"
)

// Mode selects whether an unfinished crawl is continued.
type Mode string

const (
	// Rebuild always drops existing edges and starts from the newest follower.
	Rebuild Mode = "rebuild"
	// Resume continues from the stored cursor when the last crawl did not finish.
	Resume Mode = "resume"
)

// ParseMode accepts "rebuild" and "resume"; empty means Resume.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", Resume:
		return Resume, nil
	case Rebuild:
		return Rebuild, nil
	}
	return "", fmt.Errorf("unknown build mode %q", s)
}

type Options struct {
	PageSize    int
	LookupBatch int
	// Backoff is the fixed delay between remote retries.
	Backoff time.Duration
}

// Builder writes one followee's follower graph into a cache.Store page by page.
type Builder struct {
	store cache.Store
	src   xclient.FollowerSource
	opts  Options
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewBuilder(store cache.Store, src xclient.FollowerSource, opts Options) *Builder {
	if opts.PageSize <= 0 {
		opts.PageSize = 5000
	}
	if opts.LookupBatch <= 0 {
		opts.LookupBatch = 100
	}
	return &Builder{store: store, src: src, opts: opts, now: time.Now, sleep: retry.Sleep}
}

// WithClock replaces time.Now and the back-off sleep; tests use it.
func (b *Builder) WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) *Builder {
	if now != nil {
		b.now = now
	}
	if sleep != nil {
		b.sleep = sleep
	}
	return b
}

// classify retries rate limits and unknown failures; permanent API refusals stop.
func classify(err error) (retry.Decision, string) {
	reason := xclient.Reason(err)
	switch reason {
	case "rejected", "read_only":
		return retry.Stop, reason
	}
	return retry.Retry, reason
}

func (b *Builder) policy(endpoint string) retry.Policy {
	return retry.Policy{Name: endpoint, Backoff: b.opts.Backoff, Classify: classify, Sleep: b.sleep}
}

// Build crawls account's followers. expected is the remote follower count used
// for progress percentages. A store error or ctx cancellation aborts the crawl
// with progress left at the last committed page. So does a remote rejection or
// read-only refusal (a suspended or protected followee); rate limits and other
// remote errors are retried.
func (b *Builder) Build(ctx context.Context, account string, expected int, mode Mode) error {
	if account == "" {
		return errors.New("ingest: empty account")
	}
	prog, err := b.store.LoadProgress(ctx, account)
	if err != nil && !errors.Is(err, cache.ErrNotFound) {
		return fmt.Errorf("load progress: %w", err)
	}
	resume := err == nil && mode == Resume && !prog.Done()

	stored := 0
	if resume {
		if stored, err = b.store.CountEdges(ctx, account); err != nil {
			return fmt.Errorf("count edges: %w", err)
		}
	} else {
		prog = model.TaskProgress{FolloweeID: account, StartedAt: b.now().UTC()}
		if err := b.store.ResetFollowee(ctx, account, prog.StartedAt); err != nil {
			return fmt.Errorf("reset followee: %w", err)
		}
	}
	logging.Info("ingest_start", map[string]any{"account": account, "resume": resume, "cursor": prog.Cursor, "stored": stored, "expected": expected})

	for {
		var ids []string
		var next string
		_, err := retry.Do(ctx, b.policy("followers/ids"), func(ctx context.Context, _ int) error {
			var err error
			ids, next, err = b.src.FollowerIDs(ctx, account, prog.Cursor, b.opts.PageSize)
			return err
		})
		if err != nil {
			return fmt.Errorf("followers page: %w", err)
		}
		users, err := b.collectProfiles(ctx, ids)
		if err != nil {
			return fmt.Errorf("lookup profiles: %w", err)
		}

		page := cache.Page{
			Users:    users,
			StartAge: stored,
			Expected: expected,
			Progress: model.TaskProgress{FolloweeID: account, Cursor: next, StartedAt: prog.StartedAt},
		}
		n, err := b.store.WritePage(ctx, account, page)
		if err != nil {
			return fmt.Errorf("write page: %w", err)
		}
		stored += n
		prog.Cursor = next
		metrics.IngestPages.Inc()
		metrics.IngestUsers.Add(float64(n))
		logging.Debug("ingest_page", map[string]any{"account": account, "ids": len(ids), "profiles": len(users), "inserted": n, "stored": stored, "percent": cache.Percent(stored, expected)})

		if next == "" {
			if err := b.store.CompleteProgress(ctx, account, b.now().UTC()); err != nil {
				return fmt.Errorf("complete progress: %w", err)
			}
			logging.Info("ingest_complete", map[string]any{"account": account, "stored": stored})
			return nil
		}
	}
}

// ExpectedFollowers reads the account's remote follower count. A missing
// profile yields zero, which keeps progress at 0% until the terminal write.
func (b *Builder) ExpectedFollowers(ctx context.Context, account string) (int, error) {
	var users []model.User
	_, err := retry.Do(ctx, b.policy("users/lookup"), func(ctx context.Context, _ int) error {
		var err error
		users, err = b.src.UsersByIDs(ctx, []string{account})
		return err
	})
	if err != nil {
		return 0, err
	}
	for _, u := range users {
		if u.ID == account {
			return u.FollowersCount, nil
		}
	}
	return 0, nil
}
