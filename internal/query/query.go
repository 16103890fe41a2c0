// Package query answers follower queries against the cache.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"followcast/internal/cache"
	"followcast/internal/model"
)

// ErrInvalid marks malformed query input.
var ErrInvalid = errors.New("invalid query")

// Params is a follower query as received from a caller.
type Params struct {
	Account          string
	CampaignID       string
	Tags             []string
	Sort             model.SortMode
	Offset           *int
	Limit            *int
	IncludeContacted bool
	Rehearsal        bool
}

type Engine struct {
	store cache.Store
}

func NewEngine(store cache.Store) *Engine { return &Engine{store: store} }

// Followers validates p and returns the matching rows. It never returns a
// partial result.
func (e *Engine) Followers(ctx context.Context, p Params) ([]model.Follower, error) {
	q, err := Normalize(p)
	if err != nil {
		return nil, err
	}
	rows, err := e.store.QueryFollowers(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query followers: %w", err)
	}
	return rows, nil
}

// Normalize cleans tags and checks bounds, producing the store-level query.
func Normalize(p Params) (cache.FollowerQuery, error) {
	if p.Account == "" {
		return cache.FollowerQuery{}, fmt.Errorf("%w: account is required", ErrInvalid)
	}
	if p.Offset != nil && *p.Offset < 0 {
		return cache.FollowerQuery{}, fmt.Errorf("%w: offset must not be negative", ErrInvalid)
	}
	if p.Limit != nil && *p.Limit < 0 {
		return cache.FollowerQuery{}, fmt.Errorf("%w: limit must not be negative", ErrInvalid)
	}
	tags, err := CleanTags(p.Tags)
	if err != nil {
		return cache.FollowerQuery{}, err
	}
	return cache.FollowerQuery{
		Followee:         p.Account,
		CampaignID:       p.CampaignID,
		Tags:             tags,
		Sort:             p.Sort,
		Offset:           p.Offset,
		Limit:            p.Limit,
		IncludeContacted: p.IncludeContacted,
		Rehearsal:        p.Rehearsal,
	}, nil
}

// CleanTags trims and lowercases tags and drops empty ones. A tag with inner
// whitespace can never match a stored tag and is rejected.
func CleanTags(in []string) ([]string, error) {
	var out []string
	seen := map[string]struct{}{}
	for _, t := range in {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if strings.IndexFunc(t, unicode.IsSpace) >= 0 {
			return nil, fmt.Errorf("%w: tag %q contains whitespace", ErrInvalid, t)
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}
