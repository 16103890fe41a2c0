package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"followcast/internal/logging"
	"followcast/internal/metrics"
	"followcast/internal/model"
	"followcast/internal/query"
	"followcast/internal/retry"
	"followcast/internal/schedule"
	"followcast/internal/xclient"
)

// Candidates pages eligible followers.
type Candidates interface {
	Followers(ctx context.Context, p query.Params) ([]model.Follower, error)
}

// History is the part of the store a run writes to and paces against.
type History interface {
	schedule.History
	AppendHistory(ctx context.Context, e model.HistoryEvent, rehearsal bool) error
}

// Runner executes runs. It holds no per-run state and is safe for
// concurrent use across accounts.
type Runner struct {
	Candidates Candidates
	History    History
	Messenger  xclient.Messenger
	Notifier   Notifier
	Limits     schedule.Limits
	// PageSize is the number of candidates pulled per query.
	PageSize int
	// Backoff is the fixed delay after a failed send or access probe.
	Backoff time.Duration
	Now     func() time.Time
	Sleep   func(ctx context.Context, d time.Duration) error
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	return retry.Sleep(ctx, d)
}

func (r *Runner) notify(run *Run, e Event) {
	if r.Notifier == nil {
		return
	}
	d := run.Descriptor()
	e.RunID, e.CampaignID, e.Account, e.DryRun = run.ID, d.ID, d.Account, d.DryRun
	if e.At.IsZero() {
		e.At = r.now()
	}
	r.Notifier.Notify(e)
}

// classifySend retries rate limits and unknown failures forever; read-only
// and rejected recipients are skipped.
func classifySend(err error) (retry.Decision, string) {
	reason := xclient.Reason(err)
	switch reason {
	case "read_only", "rejected":
		return retry.Stop, reason
	}
	return retry.Retry, reason
}

func (r *Runner) policy(name string) retry.Policy {
	return retry.Policy{Name: name, Backoff: r.Backoff, Classify: classifySend, Sleep: r.sleep}
}

// checkAccess forces rehearsal when the token cannot send direct messages.
func (r *Runner) checkAccess(ctx context.Context, run *Run) error {
	if run.Descriptor().DryRun {
		return nil
	}
	if r.Messenger == nil {
		run.forceDryRun()
		logging.Warn("campaign_forced_dry_run", map[string]any{"run_id": run.ID, "reason": "no messenger"})
		return nil
	}
	var level xclient.AccessLevel
	_, err := retry.Do(ctx, r.policy("account/verify_credentials"), func(ctx context.Context, _ int) error {
		var err error
		level, err = r.Messenger.AccessLevel(ctx)
		return err
	})
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil || !level.CanDirectMessage() {
		run.forceDryRun()
		fields := map[string]any{"run_id": run.ID, "access_level": string(level)}
		if err != nil {
			fields["error"] = err.Error()
		}
		logging.Warn("campaign_forced_dry_run", fields)
	}
	return nil
}

// Run drives run to completion. It returns nil when candidates are exhausted
// or the count cap is reached, and an error for store failures or ctx end.
func (r *Runner) Run(ctx context.Context, run *Run) error {
	if err := r.checkAccess(ctx, run); err != nil {
		return err
	}
	run.start(r.now())
	r.notify(run, Event{Type: EventStarted})

	d := run.Descriptor()
	gate := schedule.Gate{History: r.History, Limits: r.Limits}
	pageSize := r.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	skipped := 0
	for {
		if run.exhausted() {
			return nil
		}
		// Skipped recipients stay uncontacted and lead every later page.
		offset, limit := skipped, pageSize
		page, err := r.Candidates.Followers(ctx, query.Params{
			Account:    d.Account,
			CampaignID: d.ID,
			Tags:       d.Tags,
			Sort:       d.Sort,
			Offset:     &offset,
			Limit:      &limit,
			Rehearsal:  d.DryRun,
		})
		if err != nil {
			return fmt.Errorf("query candidates: %w", err)
		}
		for _, f := range page {
			if run.exhausted() {
				return nil
			}
			ok, err := r.sendOne(ctx, gate, run, f)
			if err != nil {
				return err
			}
			if !ok {
				skipped++
			}
		}
		if len(page) < limit {
			return nil
		}
	}
}

// sendOne waits for the gate and sends to f. It reports false when the
// recipient was skipped.
func (r *Runner) sendOne(ctx context.Context, gate schedule.Gate, run *Run, f model.Follower) (bool, error) {
	d := run.Descriptor()
	delay, err := gate.Next(ctx, r.now(), d.Pacing, d.DryRun)
	if err != nil {
		return false, fmt.Errorf("load send history: %w", err)
	}
	if delay.Wait > 0 {
		resume := delay.ResumeAt
		r.notify(run, Event{Type: EventWaiting, RecipientID: f.ID, ResumeAt: &resume, Cause: string(delay.Cause)})
		metrics.ObserveSendWait(string(delay.Cause), delay.Wait)
		if err := r.sleep(ctx, delay.Wait); err != nil {
			return false, err
		}
	}

	if !d.DryRun {
		_, err := retry.Do(ctx, r.policy("direct_messages/events/new"), func(ctx context.Context, _ int) error {
			return r.Messenger.SendDirectMessage(ctx, f.ID, d.Message)
		})
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			reason := xclient.Reason(err)
			metrics.IncSendFailure(reason)
			n := run.recordSkipped()
			fields := map[string]any{"run_id": run.ID, "recipient_id": f.ID, "reason": reason, "skipped": n, "error": err.Error()}
			if errors.Is(err, xclient.ErrReadOnly) {
				logging.Error("campaign_send_read_only", fields)
			} else {
				logging.Info("campaign_recipient_skipped", fields)
			}
			return false, nil
		}
	}

	at := r.now()
	if err := r.History.AppendHistory(ctx, model.HistoryEvent{CampaignID: d.ID, RecipientID: f.ID, SentAt: at}, d.DryRun); err != nil {
		return false, fmt.Errorf("append history: %w", err)
	}
	metrics.IncSent(d.DryRun)
	sent, remaining := run.recordSent()
	r.notify(run, Event{Type: EventSent, RecipientID: f.ID, At: at, Sent: sent, Remaining: remaining})
	return true, nil
}
