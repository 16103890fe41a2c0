package query

import (
	"context"
	"testing"

	"followcast/internal/cache/cachetest"
	"followcast/internal/model"
	"followcast/internal/store/sqlitestore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func TestCleanTags(t *testing.T) {
	got, err := CleanTags([]string{"  Health ", "", "health", "DAD", "   "})
	require.NoError(t, err)
	assert.Equal(t, []string{"health", "dad"}, got)

	got, err = CleanTags([]string{" ", ""})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = CleanTags([]string{"two words"})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestNormalizeRejectsNegativePaging(t *testing.T) {
	_, err := Normalize(Params{Account: "me", Offset: intp(-1)})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = Normalize(Params{Account: "me", Limit: intp(-5)})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = Normalize(Params{})
	assert.ErrorIs(t, err, ErrInvalid)

	q, err := Normalize(Params{Account: "me", Offset: intp(0), Limit: intp(0), Tags: []string{"A"}})
	require.NoError(t, err)
	assert.Equal(t, "me", q.Followee)
	assert.Equal(t, []string{"a"}, q.Tags)
}

func TestFollowersTagMatchIsCaseInsensitive(t *testing.T) {
	db, err := sqlitestore.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	cachetest.Seed(t, db, "me")
	e := NewEngine(db)
	ctx := context.Background()

	rows, err := e.Followers(ctx, Params{Account: "me", CampaignID: "c", Tags: []string{" HEALTH "}})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "u1", rows[0].ID)
	assert.Equal(t, "u3", rows[1].ID)

	rows, err = e.Followers(ctx, Params{Account: "me", CampaignID: "c", Tags: []string{"unrelated"}})
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = e.Followers(ctx, Params{Account: "me", CampaignID: "c", Tags: []string{"", "  "}, Sort: model.SortInfluence, Limit: intp(1)})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "u2", rows[0].ID, "blank tags mean no restriction")

	_, err = e.Followers(ctx, Params{Account: "me", Tags: []string{"a b"}})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestFollowersExcludesContactedUnlessAsked(t *testing.T) {
	db, err := sqlitestore.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	cachetest.Seed(t, db, "me")
	ctx := context.Background()
	require.NoError(t, db.AppendHistory(ctx, model.HistoryEvent{CampaignID: "c", RecipientID: "u1"}, false))
	e := NewEngine(db)

	rows, err := e.Followers(ctx, Params{Account: "me", CampaignID: "c"})
	require.NoError(t, err)
	for _, r := range rows {
		assert.NotEqual(t, "u1", r.ID)
	}
	rows, err = e.Followers(ctx, Params{Account: "me", CampaignID: "c", IncludeContacted: true})
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.NotNil(t, rows[0].ContactedAt)
}
