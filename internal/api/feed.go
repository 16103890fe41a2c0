package api

import (
	"sync"

	"followcast/internal/campaign"
)

// FeedItem is a campaign event with its position in the feed.
type FeedItem struct {
	Seq   uint64         `json:"seq"`
	Event campaign.Event `json:"event"`
}

// Feed keeps the most recent campaign events in a ring buffer. It is a
// campaign.Notifier; clients poll it with the last sequence they saw.
type Feed struct {
	mu    sync.Mutex
	items []FeedItem
	next  uint64
	size  int
	start int
}

func NewFeed(size int) *Feed {
	if size <= 0 {
		size = 1024
	}
	return &Feed{items: make([]FeedItem, 0, size), size: size, next: 1}
}

func (f *Feed) Notify(e campaign.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item := FeedItem{Seq: f.next, Event: e}
	f.next++
	if len(f.items) < f.size {
		f.items = append(f.items, item)
		return
	}
	f.items[f.start] = item
	f.start = (f.start + 1) % f.size
}

// After returns buffered items with Seq > after, oldest first.
func (f *Feed) After(after uint64) []FeedItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []FeedItem{}
	for i := 0; i < len(f.items); i++ {
		it := f.items[(f.start+i)%len(f.items)]
		if it.Seq > after {
			out = append(out, it)
		}
	}
	return out
}
