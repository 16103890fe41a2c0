// Package filestore keeps the follower cache in a single JSON snapshot.
// Every mutation rewrites the file through a temp file and rename; a failed
// write reloads the last good snapshot.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"followcast/internal/cache"
	"followcast/internal/model"
	"followcast/internal/util"
)

type fileUser struct {
	Handle          string   `json:"handle"`
	Name            string   `json:"name"`
	FollowerCount   int      `json:"follower_count"`
	Bio             string   `json:"bio"`
	BioHash         string   `json:"bio_hash"`
	ProfileImageURL string   `json:"profile_image_url"`
	Tags            []string `json:"tags"`
}

type fileProgress struct {
	Cursor     string `json:"cursor"`
	Percent    int    `json:"percent"`
	StartedAt  int64  `json:"start_time"`
	FinishedAt *int64 `json:"finish_time,omitempty"`
}

type fileEvent struct {
	CampaignID  string `json:"campaign_id"`
	RecipientID string `json:"recipient_id"`
	SentAt      int64  `json:"sent_at"`
}

type snapshot struct {
	Users map[string]*fileUser `json:"users"`
	// Edges maps followee to follower to age.
	Edges    map[string]map[string]int `json:"edges"`
	Progress map[string]fileProgress   `json:"progress"`
	History  []fileEvent               `json:"message_history"`
	DryRun   []fileEvent               `json:"message_history_dry_run"`
}

func emptySnapshot() snapshot {
	return snapshot{
		Users:    map[string]*fileUser{},
		Edges:    map[string]map[string]int{},
		Progress: map[string]fileProgress{},
	}
}

// Store is a cache.Store backed by one JSON file.
type Store struct {
	mu   sync.Mutex
	path string
	snap snapshot
}

var _ cache.Store = (*Store)(nil)

// Open loads path, or starts empty when it does not exist yet.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("filestore: empty path")
	}
	s := &Store{path: path}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) reload() error {
	s.snap = emptySnapshot()
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, &s.snap); err != nil {
		return fmt.Errorf("filestore: decode %s: %w", s.path, err)
	}
	if s.snap.Users == nil {
		s.snap.Users = map[string]*fileUser{}
	}
	if s.snap.Edges == nil {
		s.snap.Edges = map[string]map[string]int{}
	}
	if s.snap.Progress == nil {
		s.snap.Progress = map[string]fileProgress{}
	}
	return nil
}

// commit writes the snapshot atomically. On failure the in-memory state is
// rolled back to what is on disk.
func (s *Store) commit() error {
	err := s.write()
	if err != nil {
		if rerr := s.reload(); rerr != nil {
			return errors.Join(err, rerr)
		}
	}
	return err
}

func (s *Store) write() error {
	b, err := json.Marshal(s.snap)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".followcast-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func toProgress(followee string, p fileProgress) model.TaskProgress {
	out := model.TaskProgress{
		FolloweeID: followee,
		Cursor:     p.Cursor,
		Percent:    p.Percent,
		StartedAt:  time.UnixMilli(p.StartedAt).UTC(),
	}
	if p.FinishedAt != nil {
		t := time.UnixMilli(*p.FinishedAt).UTC()
		out.FinishedAt = &t
	}
	return out
}

func fromProgress(p model.TaskProgress) fileProgress {
	out := fileProgress{Cursor: p.Cursor, Percent: p.Percent, StartedAt: p.StartedAt.UTC().UnixMilli()}
	if p.FinishedAt != nil {
		ms := p.FinishedAt.UTC().UnixMilli()
		out.FinishedAt = &ms
	}
	return out
}

func (s *Store) LoadProgress(ctx context.Context, followee string) (model.TaskProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.snap.Progress[followee]
	if !ok {
		return model.TaskProgress{FolloweeID: followee}, cache.ErrNotFound
	}
	return toProgress(followee, p), nil
}

func (s *Store) ResetFollowee(ctx context.Context, followee string, started time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snap.Edges, followee)
	s.snap.Progress[followee] = fromProgress(model.TaskProgress{StartedAt: started})
	return s.commit()
}

func (s *Store) CountEdges(ctx context.Context, followee string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snap.Edges[followee]), nil
}

func (s *Store) WritePage(ctx context.Context, followee string, page cache.Page) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	edges := s.snap.Edges[followee]
	if edges == nil {
		edges = map[string]int{}
		s.snap.Edges[followee] = edges
	}
	inserted := 0
	for _, u := range page.Users {
		hash := util.BioHash(u.Description)
		rec, known := s.snap.Users[u.ID]
		if !known {
			rec = &fileUser{}
			s.snap.Users[u.ID] = rec
		}
		if !known || rec.BioHash != hash {
			rec.Tags = util.BioTags(u.Description)
		}
		rec.Handle = u.Username
		rec.Name = u.Name
		rec.FollowerCount = u.FollowersCount
		rec.Bio = u.Description
		rec.BioHash = hash
		rec.ProfileImageURL = u.ProfileImageURL
		if _, dup := edges[u.ID]; !dup {
			edges[u.ID] = page.StartAge + inserted
			inserted++
		}
	}
	progress := page.Progress
	if page.Expected > 0 {
		progress.Percent = cache.Percent(page.StartAge+inserted, page.Expected)
	}
	s.snap.Progress[followee] = fromProgress(progress)
	if err := s.commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *Store) CompleteProgress(ctx context.Context, followee string, finished time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.snap.Progress[followee]
	if !ok {
		return cache.ErrNotFound
	}
	ms := finished.UTC().UnixMilli()
	p.Cursor, p.Percent, p.FinishedAt = "", 100, &ms
	s.snap.Progress[followee] = p
	return s.commit()
}

func (s *Store) history(rehearsal bool) []fileEvent {
	if rehearsal {
		return s.snap.DryRun
	}
	return s.snap.History
}

func (s *Store) QueryFollowers(ctx context.Context, q cache.FollowerQuery) ([]model.Follower, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	contacted := map[string]int64{}
	for _, e := range s.history(q.Rehearsal) {
		if e.CampaignID != q.CampaignID {
			continue
		}
		if e.SentAt > contacted[e.RecipientID] {
			contacted[e.RecipientID] = e.SentAt
		}
	}
	out := []model.Follower{}
	for id, age := range s.snap.Edges[q.Followee] {
		u := s.snap.Users[id]
		if u == nil {
			continue
		}
		sent, was := contacted[id]
		if was && !q.IncludeContacted {
			continue
		}
		if len(q.Tags) > 0 && !hasAnyTag(u.Tags, q.Tags) {
			continue
		}
		f := model.Follower{
			ID: id, Username: u.Handle, Name: u.Name, Description: u.Bio,
			Age: age, FollowersCount: u.FollowerCount, ProfileImageURL: u.ProfileImageURL,
		}
		if was {
			t := time.UnixMilli(sent).UTC()
			f.ContactedAt = &t
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if q.Sort == model.SortInfluence {
			if a.FollowersCount != b.FollowersCount {
				return a.FollowersCount > b.FollowersCount
			}
		} else if a.Age != b.Age {
			return a.Age < b.Age
		}
		return a.ID < b.ID
	})
	if q.Offset != nil {
		if *q.Offset >= len(out) {
			return []model.Follower{}, nil
		}
		out = out[*q.Offset:]
	}
	if q.Limit != nil && *q.Limit < len(out) {
		out = out[:*q.Limit]
	}
	return out, nil
}

func hasAnyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}

func (s *Store) AppendHistory(ctx context.Context, e model.HistoryEvent, rehearsal bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := fileEvent{CampaignID: e.CampaignID, RecipientID: e.RecipientID, SentAt: e.SentAt.UTC().UnixMilli()}
	if rehearsal {
		s.snap.DryRun = append(s.snap.DryRun, ev)
	} else {
		s.snap.History = append(s.snap.History, ev)
	}
	return s.commit()
}

func (s *Store) RecentSends(ctx context.Context, rehearsal bool, limit int) ([]time.Time, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	h := s.history(rehearsal)
	times := make([]int64, 0, len(h))
	for _, e := range h {
		times = append(times, e.SentAt)
	}
	s.mu.Unlock()
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	if len(times) > limit {
		times = times[len(times)-limit:]
	}
	out := make([]time.Time, 0, len(times))
	for _, ms := range times {
		out = append(out, time.UnixMilli(ms).UTC())
	}
	return out, nil
}
