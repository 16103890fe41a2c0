package ingest

import (
	"context"

	"followcast/internal/model"
	"followcast/internal/retry"
)

// collectProfiles looks up ids in batches and returns the profiles in ids
// order. Ids the remote did not return (suspended, deleted) are dropped.
func (b *Builder) collectProfiles(ctx context.Context, ids []string) ([]model.User, error) {
	batch := b.opts.LookupBatch
	if batch <= 0 || batch > 100 {
		batch = 100
	}
	byID := make(map[string]model.User, len(ids))
	for i := 0; i < len(ids); i += batch {
		end := i + batch
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[i:end]
		var users []model.User
		_, err := retry.Do(ctx, b.policy("users/lookup"), func(ctx context.Context, _ int) error {
			var err error
			users, err = b.src.UsersByIDs(ctx, chunk)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			byID[u.ID] = u
		}
	}
	out := make([]model.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}
