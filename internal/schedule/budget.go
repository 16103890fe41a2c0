package schedule

import (
	"context"
	"time"

	"followcast/internal/model"
)

// History is the read side of the message history a Gate needs.
type History interface {
	RecentSends(ctx context.Context, rehearsal bool, limit int) ([]time.Time, error)
}

// Gate reads the selected history table and computes the next delay.
type Gate struct {
	History History
	Limits  Limits
}

// Next loads the last Ceiling sends and returns the delay at now.
func (g Gate) Next(ctx context.Context, now time.Time, pacing model.Pacing, rehearsal bool) (Delay, error) {
	limit := g.Limits.Ceiling
	if limit < 1 {
		limit = 1
	}
	hist, err := g.History.RecentSends(ctx, rehearsal, limit)
	if err != nil {
		return Delay{}, err
	}
	return CalcDelay(now, hist, pacing, g.Limits), nil
}
