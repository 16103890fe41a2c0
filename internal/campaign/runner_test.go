package campaign

import (
	"context"
	"errors"
	"testing"
	"time"

	"followcast/internal/cache"
	"followcast/internal/model"
	"followcast/internal/schedule"
	"followcast/internal/xclient"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cacheQuery(rehearsal bool) cache.FollowerQuery {
	return cache.FollowerQuery{Followee: "me", CampaignID: DeriveID("hello"), IncludeContacted: true, Rehearsal: rehearsal}
}

func ids(fs []model.Follower) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.ID)
	}
	return out
}

func TestBurstRunStopsAtCount(t *testing.T) {
	h := newHarness(t, xclient.AccessReadWriteDirectM)
	run := h.run(t, Descriptor{Account: "me", Message: "hello", Pacing: model.PacingBurst, Count: intp(3)})

	snap := run.Snapshot()
	assert.Equal(t, StateCompleted, snap.State)
	assert.Equal(t, 3, snap.Sent)
	require.NotNil(t, snap.Remaining)
	assert.Zero(t, *snap.Remaining)
	assert.Equal(t, []string{"u1", "u2", "u3"}, h.msgr.Sent())
	assert.Len(t, h.history(t, false), 3)
	assert.Empty(t, h.history(t, true))
	assert.Equal(t, 1, h.cands.Calls(), "no page is requested after the cap")
	assert.Empty(t, h.clock.Sleeps())
	assert.Equal(t, []EventType{EventStarted, EventSent, EventSent, EventSent}, h.events.Types())
}

func TestRunWithoutCountExhaustsCandidates(t *testing.T) {
	h := newHarness(t, xclient.AccessReadWriteDirectM)
	run := h.run(t, Descriptor{Account: "me", Message: "hello", Sort: model.SortInfluence})
	assert.Equal(t, StateCompleted, run.Snapshot().State)
	assert.Equal(t, []string{"u2", "u4", "u1", "u3"}, h.msgr.Sent())

	// A second run of the same message finds nobody left.
	h.msgr.sent = nil
	run = h.run(t, Descriptor{Account: "me", Message: "hello"})
	assert.Equal(t, StateCompleted, run.Snapshot().State)
	assert.Empty(t, h.msgr.Sent())
}

func TestMissingPermissionForcesRehearsal(t *testing.T) {
	h := newHarness(t, xclient.AccessRead)
	run := h.run(t, Descriptor{Account: "me", Message: "hello"})

	snap := run.Snapshot()
	assert.Equal(t, StateCompleted, snap.State)
	assert.True(t, snap.DryRun)
	assert.True(t, snap.ForcedDryRun)
	assert.Equal(t, 4, snap.Sent)
	assert.Empty(t, h.msgr.Sent(), "no live sends")
	assert.Empty(t, h.history(t, false))
	assert.Len(t, h.history(t, true), 4)
}

func TestDryRunSkipsAccessProbeAndRemote(t *testing.T) {
	h := newHarness(t, xclient.AccessReadWriteDirectM)
	run := h.run(t, Descriptor{Account: "me", Message: "hello", DryRun: true, Count: intp(2)})
	snap := run.Snapshot()
	assert.False(t, snap.ForcedDryRun)
	assert.Equal(t, 2, snap.Sent)
	assert.Empty(t, h.msgr.Sent())
	assert.Len(t, h.history(t, true), 2)
}

func TestRejectedRecipientIsSkippedAcrossPages(t *testing.T) {
	h := newHarness(t, xclient.AccessReadWriteDirectM)
	h.runner.PageSize = 2
	h.msgr.errs["u2"] = []error{&xclient.APIError{Status: 403, Code: 349, Message: "You cannot send messages to this user."}}
	run := h.run(t, Descriptor{Account: "me", Message: "hello"})

	snap := run.Snapshot()
	assert.Equal(t, StateCompleted, snap.State)
	assert.Equal(t, 3, snap.Sent)
	assert.Equal(t, 1, snap.Skipped)
	assert.Equal(t, []string{"u1", "u3", "u4"}, h.msgr.Sent())
	assert.Equal(t, []string{"u1", "u3", "u4"}, ids(h.history(t, false)))
	for _, c := range h.cands.calls[1:] {
		assert.Equal(t, 1, *c.Offset, "skipped recipient is stepped over")
	}
}

func TestReadOnlySignalSkipsRecipient(t *testing.T) {
	h := newHarness(t, xclient.AccessReadWriteDirectM)
	h.msgr.errs["u1"] = []error{&xclient.APIError{Status: 403, Code: 93}}
	run := h.run(t, Descriptor{Account: "me", Message: "hello"})
	snap := run.Snapshot()
	assert.Equal(t, 3, snap.Sent)
	assert.Equal(t, 1, snap.Skipped)
	assert.NotContains(t, h.msgr.Sent(), "u1")
}

func TestRateLimitAndUnknownErrorsRetrySameRecipient(t *testing.T) {
	h := newHarness(t, xclient.AccessReadWriteDirectM)
	h.msgr.errs["u1"] = []error{&xclient.APIError{Status: 429}, errors.New("connection reset")}
	run := h.run(t, Descriptor{Account: "me", Message: "hello", Count: intp(1)})
	assert.Equal(t, 1, run.Snapshot().Sent)
	assert.Equal(t, []string{"u1"}, h.msgr.Sent())
	assert.Equal(t, []time.Duration{time.Minute, time.Minute}, h.clock.Sleeps())
}

func TestSpreadPacingWaitsBetweenSends(t *testing.T) {
	h := newHarness(t, xclient.AccessReadWriteDirectM)
	h.runner.Limits.Ceiling = 24
	run := h.run(t, Descriptor{Account: "me", Message: "hello", Pacing: model.PacingSpread, Count: intp(3)})
	assert.Equal(t, 3, run.Snapshot().Sent)
	assert.Equal(t, []time.Duration{time.Hour, time.Hour}, h.clock.Sleeps())

	var waits []Event
	for _, e := range h.events.events {
		if e.Type == EventWaiting {
			waits = append(waits, e)
		}
	}
	require.Len(t, waits, 2)
	assert.Equal(t, "pacing", waits[0].Cause)
	require.NotNil(t, waits[0].ResumeAt)
}

func TestRateLimitWindowHoldsRun(t *testing.T) {
	h := newHarness(t, xclient.AccessReadWriteDirectM)
	h.runner.Limits = schedule.Limits{Ceiling: 2, Window: time.Hour}
	run := h.run(t, Descriptor{Account: "me", Message: "hello", Count: intp(3)})
	assert.Equal(t, 3, run.Snapshot().Sent)
	assert.Equal(t, []time.Duration{time.Hour}, h.clock.Sleeps(), "third send waits for the window")
}

type failingHistory struct {
	History
}

func (failingHistory) AppendHistory(ctx context.Context, e model.HistoryEvent, rehearsal bool) error {
	return errors.New("disk full")
}

func TestStoreFailureAbortsRun(t *testing.T) {
	h := newHarness(t, xclient.AccessReadWriteDirectM)
	h.runner.History = failingHistory{History: h.db}
	run := h.run(t, Descriptor{Account: "me", Message: "hello"})
	snap := run.Snapshot()
	assert.Equal(t, StateAborted, snap.State)
	assert.Contains(t, snap.Error, "disk full")
	assert.Zero(t, snap.Sent)
}
