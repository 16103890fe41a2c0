package model

import "time"

// User is a follower profile as returned by the remote lookup.
type User struct {
	ID              string
	Username        string
	Name            string
	Description     string
	FollowersCount  int
	ProfileImageURL string
}

// Follower is one row of a follower query.
type Follower struct {
	ID              string     `json:"id"`
	Username        string     `json:"username"`
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	Age             int        `json:"age"`
	FollowersCount  int        `json:"followers_count"`
	ProfileImageURL string     `json:"profile_image_url"`
	ContactedAt     *time.Time `json:"contacted_at"`
}

// TaskProgress tracks a resumable follower crawl for one followee.
type TaskProgress struct {
	FolloweeID string
	Cursor     string
	Percent    int
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Done reports whether the terminal progress write happened.
func (p TaskProgress) Done() bool { return p.FinishedAt != nil }

// CacheState is the lifecycle of an account's follower cache.
type CacheState string

const (
	CacheNone       CacheState = "none"
	CacheIncomplete CacheState = "incomplete"
	CacheInProgress CacheState = "in_progress"
	CacheComplete   CacheState = "complete"
)

type CacheStatus struct {
	State   CacheState `json:"state"`
	Percent int        `json:"percent"`
}

// HistoryEvent is one recorded send.
type HistoryEvent struct {
	CampaignID  string
	RecipientID string
	SentAt      time.Time
}

// SortMode orders follower queries.
type SortMode string

const (
	SortInfluence SortMode = "influence"
	SortRecent    SortMode = "recent"
)

// Pacing decides how sends spread across the rate-limit window.
type Pacing string

const (
	PacingBurst  Pacing = "burst"
	PacingSpread Pacing = "spread"
)
