// Package cache defines the persistent follower cache shared by ingestion,
// queries and campaigns. sqlitestore is the primary implementation;
// filestore keeps the same contract in a single JSON file.
package cache

import (
	"context"
	"errors"
	"time"

	"followcast/internal/model"
)

// ErrNotFound is returned when a followee has no progress row.
var ErrNotFound = errors.New("not found")

// Page is one ingestion page written atomically.
type Page struct {
	// Users in follow-recency order; ages are assigned from StartAge.
	Users    []model.User
	StartAge int
	// Expected is the remote follower count. When positive, Progress.Percent
	// is recomputed from the stored edge count after the page is applied.
	Expected int
	// Progress is persisted in the same transaction as the users.
	Progress model.TaskProgress
}

// Percent is floor(100*stored/expected) clamped to 0..99; only the terminal
// write reports 100.
func Percent(stored, expected int) int {
	if expected <= 0 {
		return 0
	}
	p := int(int64(stored) * 100 / int64(expected))
	if p < 0 {
		return 0
	}
	if p > 99 {
		return 99
	}
	return p
}

// FollowerQuery is the store-level form of a follower query. Tags are
// already lowercased and non-empty.
type FollowerQuery struct {
	Followee         string
	CampaignID       string
	Tags             []string
	Sort             model.SortMode
	Offset           *int
	Limit            *int
	IncludeContacted bool
	Rehearsal        bool
}

// Store is the capability set every cache variant provides.
type Store interface {
	// LoadProgress returns ErrNotFound when the followee was never crawled.
	LoadProgress(ctx context.Context, followee string) (model.TaskProgress, error)
	// ResetFollowee deletes all edges of followee and writes fresh progress.
	ResetFollowee(ctx context.Context, followee string, started time.Time) error
	CountEdges(ctx context.Context, followee string) (int, error)
	// WritePage upserts users, refreshes changed tags, inserts edges and saves
	// progress in one transaction. It returns the number of edges inserted.
	WritePage(ctx context.Context, followee string, page Page) (int, error)
	// CompleteProgress is the terminal write: percent 100 and a finish time.
	CompleteProgress(ctx context.Context, followee string, finished time.Time) error

	QueryFollowers(ctx context.Context, q FollowerQuery) ([]model.Follower, error)

	AppendHistory(ctx context.Context, e model.HistoryEvent, rehearsal bool) error
	// RecentSends returns up to limit send times from the selected table, oldest first.
	RecentSends(ctx context.Context, rehearsal bool, limit int) ([]time.Time, error)

	Close() error
}
