// Package cachetest holds the behavior every cache.Store variant must share.
package cachetest

import (
	"context"
	"testing"
	"time"

	"followcast/internal/cache"
	"followcast/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Opener returns a fresh, empty store; cleanup is the opener's job.
type Opener func(t *testing.T) cache.Store

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// Users is a small follower set in follow-recency order.
func Users() []model.User {
	return []model.User{
		{ID: "u1", Username: "ann", Name: "Ann", Description: "Love Dad Health", FollowersCount: 50},
		{ID: "u2", Username: "bob", Name: "Bob", Description: "golang gopher", FollowersCount: 500},
		{ID: "u3", Username: "cat", Name: "Cat", Description: "HEALTH coach", FollowersCount: 5},
		{ID: "u4", Username: "dan", Name: "Dan", Description: "", FollowersCount: 500},
	}
}

// Seed writes Users as one page for followee.
func Seed(t *testing.T, s cache.Store, followee string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.ResetFollowee(ctx, followee, t0))
	n, err := s.WritePage(ctx, followee, cache.Page{
		Users:    Users(),
		Progress: model.TaskProgress{StartedAt: t0, Cursor: "c1", Percent: 40},
	})
	require.NoError(t, err)
	require.Equal(t, 4, n)
}

func ids(fs []model.Follower) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.ID)
	}
	return out
}

func intp(v int) *int { return &v }

// Run executes the shared suite against open.
func Run(t *testing.T, open Opener) {
	t.Run("ProgressLifecycle", func(t *testing.T) { testProgress(t, open(t)) })
	t.Run("IdempotentPageWrite", func(t *testing.T) { testIdempotent(t, open(t)) })
	t.Run("TagMatch", func(t *testing.T) { testTagMatch(t, open(t)) })
	t.Run("SortAndPaging", func(t *testing.T) { testSortAndPaging(t, open(t)) })
	t.Run("ContactedExclusion", func(t *testing.T) { testExclusion(t, open(t)) })
	t.Run("RecentSends", func(t *testing.T) { testRecentSends(t, open(t)) })
	t.Run("ExpectedPercent", func(t *testing.T) { testExpectedPercent(t, open(t)) })
}

func testProgress(t *testing.T, s cache.Store) {
	ctx := context.Background()
	_, err := s.LoadProgress(ctx, "me")
	require.ErrorIs(t, err, cache.ErrNotFound)

	Seed(t, s, "me")
	p, err := s.LoadProgress(ctx, "me")
	require.NoError(t, err)
	assert.Equal(t, "c1", p.Cursor)
	assert.Equal(t, 40, p.Percent)
	assert.True(t, p.StartedAt.Equal(t0))
	assert.Nil(t, p.FinishedAt)

	n, err := s.CountEdges(ctx, "me")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	done := t0.Add(time.Hour)
	require.NoError(t, s.CompleteProgress(ctx, "me", done))
	p, err = s.LoadProgress(ctx, "me")
	require.NoError(t, err)
	assert.Equal(t, 100, p.Percent)
	require.NotNil(t, p.FinishedAt)
	assert.True(t, p.FinishedAt.Equal(done))

	require.NoError(t, s.ResetFollowee(ctx, "me", done))
	n, err = s.CountEdges(ctx, "me")
	require.NoError(t, err)
	assert.Zero(t, n)
	p, err = s.LoadProgress(ctx, "me")
	require.NoError(t, err)
	assert.Equal(t, "", p.Cursor)
	assert.Zero(t, p.Percent)
	assert.Nil(t, p.FinishedAt)

	assert.ErrorIs(t, s.CompleteProgress(ctx, "nobody", done), cache.ErrNotFound)
}

func testIdempotent(t *testing.T, s cache.Store) {
	ctx := context.Background()
	Seed(t, s, "me")
	n, err := s.WritePage(ctx, "me", cache.Page{Users: Users(), StartAge: 4, Progress: model.TaskProgress{StartedAt: t0}})
	require.NoError(t, err)
	assert.Zero(t, n, "re-ingested followers must not add edges")
	count, err := s.CountEdges(ctx, "me")
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	all, err := s.QueryFollowers(ctx, cache.FollowerQuery{Followee: "me", CampaignID: "c", IncludeContacted: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2", "u3", "u4"}, ids(all))
	for i, f := range all {
		assert.Equal(t, i, f.Age)
	}

	changed := Users()[:1]
	changed[0].Description = "unrelated hobby"
	_, err = s.WritePage(ctx, "me", cache.Page{Users: changed, Progress: model.TaskProgress{StartedAt: t0}})
	require.NoError(t, err)
	got, err := s.QueryFollowers(ctx, cache.FollowerQuery{Followee: "me", CampaignID: "c", Tags: []string{"health"}, IncludeContacted: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"u3"}, ids(got), "changed bio must drop old tags")
	got, err = s.QueryFollowers(ctx, cache.FollowerQuery{Followee: "me", CampaignID: "c", Tags: []string{"hobby"}, IncludeContacted: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, ids(got))
}

func testTagMatch(t *testing.T, s cache.Store) {
	ctx := context.Background()
	Seed(t, s, "me")
	got, err := s.QueryFollowers(ctx, cache.FollowerQuery{Followee: "me", CampaignID: "c", Tags: []string{"health"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u3"}, ids(got))
	assert.Equal(t, "Love Dad Health", got[0].Description)

	got, err = s.QueryFollowers(ctx, cache.FollowerQuery{Followee: "me", CampaignID: "c", Tags: []string{"unrelated"}})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.QueryFollowers(ctx, cache.FollowerQuery{Followee: "me", CampaignID: "c", Tags: []string{"unrelated", "gopher"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, ids(got))

	got, err = s.QueryFollowers(ctx, cache.FollowerQuery{Followee: "other", CampaignID: "c"})
	require.NoError(t, err)
	assert.Empty(t, got, "only followers of the queried account")
}

func testSortAndPaging(t *testing.T, s cache.Store) {
	ctx := context.Background()
	Seed(t, s, "me")
	q := cache.FollowerQuery{Followee: "me", CampaignID: "c", Sort: model.SortInfluence}
	got, err := s.QueryFollowers(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2", "u4", "u1", "u3"}, ids(got))

	q.Sort = model.SortRecent
	q.Offset = intp(1)
	got, err = s.QueryFollowers(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2", "u3", "u4"}, ids(got))

	q.Limit = intp(2)
	got, err = s.QueryFollowers(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2", "u3"}, ids(got))

	q.Offset = nil
	got, err = s.QueryFollowers(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, ids(got))

	q.Sort = ""
	q.Limit = nil
	got, err = s.QueryFollowers(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2", "u3", "u4"}, ids(got), "unknown sort falls back to age")
}

func testExclusion(t *testing.T, s cache.Store) {
	ctx := context.Background()
	Seed(t, s, "me")
	sent := t0.Add(time.Minute)
	require.NoError(t, s.AppendHistory(ctx, model.HistoryEvent{CampaignID: "c", RecipientID: "u2", SentAt: sent}, false))
	require.NoError(t, s.AppendHistory(ctx, model.HistoryEvent{CampaignID: "other", RecipientID: "u3", SentAt: sent}, false))
	require.NoError(t, s.AppendHistory(ctx, model.HistoryEvent{CampaignID: "c", RecipientID: "u4", SentAt: sent}, true))

	got, err := s.QueryFollowers(ctx, cache.FollowerQuery{Followee: "me", CampaignID: "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u3", "u4"}, ids(got))

	got, err = s.QueryFollowers(ctx, cache.FollowerQuery{Followee: "me", CampaignID: "c", Rehearsal: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2", "u3"}, ids(got), "rehearsal history is separate")

	got, err = s.QueryFollowers(ctx, cache.FollowerQuery{Followee: "me", CampaignID: "c", IncludeContacted: true})
	require.NoError(t, err)
	require.Equal(t, []string{"u1", "u2", "u3", "u4"}, ids(got))
	assert.Nil(t, got[0].ContactedAt)
	require.NotNil(t, got[1].ContactedAt)
	assert.True(t, got[1].ContactedAt.Equal(sent))
	assert.Nil(t, got[2].ContactedAt, "other campaigns do not count")
}

func testRecentSends(t *testing.T, s cache.Store) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendHistory(ctx, model.HistoryEvent{CampaignID: "c", RecipientID: "r", SentAt: t0.Add(time.Duration(i) * time.Minute)}, false))
	}
	require.NoError(t, s.AppendHistory(ctx, model.HistoryEvent{CampaignID: "c", RecipientID: "r", SentAt: t0.Add(time.Hour)}, true))

	got, err := s.RecentSends(ctx, false, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].Equal(t0.Add(2*time.Minute)))
	assert.True(t, got[2].Equal(t0.Add(4*time.Minute)))

	got, err = s.RecentSends(ctx, true, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Equal(t0.Add(time.Hour)))
}

func testExpectedPercent(t *testing.T, s cache.Store) {
	ctx := context.Background()
	require.NoError(t, s.ResetFollowee(ctx, "me", t0))
	_, err := s.WritePage(ctx, "me", cache.Page{Users: Users(), Expected: 4, Progress: model.TaskProgress{StartedAt: t0, Cursor: "x"}})
	require.NoError(t, err)
	p, err := s.LoadProgress(ctx, "me")
	require.NoError(t, err)
	assert.Equal(t, 99, p.Percent, "non-terminal pages stop at 99")

	require.NoError(t, s.ResetFollowee(ctx, "me", t0))
	_, err = s.WritePage(ctx, "me", cache.Page{Users: Users()[:1], Expected: 3, Progress: model.TaskProgress{StartedAt: t0, Cursor: "x"}})
	require.NoError(t, err)
	p, err = s.LoadProgress(ctx, "me")
	require.NoError(t, err)
	assert.Equal(t, 33, p.Percent)
}
