// Package memory provides in-process repositories and a blob store for
// development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// Store is an in-memory implementation of every tracker repository.
type Store struct {
	mu         sync.RWMutex
	users      map[string]tracker.User
	items      map[string]tracker.TrackedItem
	watchlists map[string]tracker.Watchlist
	wlOrder    []string
	history    []tracker.PriceHistoryEntry
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		users:      make(map[string]tracker.User),
		items:      make(map[string]tracker.TrackedItem),
		watchlists: make(map[string]tracker.Watchlist),
	}
}

// SaveUser upserts a user.
func (s *Store) SaveUser(_ context.Context, user tracker.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
	return nil
}

// GetUser returns a user by id.
func (s *Store) GetUser(_ context.Context, id string) (tracker.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return tracker.User{}, fmt.Errorf("user %s: %w", id, tracker.ErrNotFound)
	}
	return user, nil
}

// GetItem returns an item by id.
func (s *Store) GetItem(_ context.Context, id string) (tracker.TrackedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return tracker.TrackedItem{}, fmt.Errorf("item %s: %w", id, tracker.ErrNotFound)
	}
	return item, nil
}

// ListItems returns a user's items ordered by title.
func (s *Store) ListItems(_ context.Context, userID string) ([]tracker.TrackedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []tracker.TrackedItem
	for _, item := range s.items {
		if item.UserID == userID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

// SaveItem upserts an item.
func (s *Store) SaveItem(_ context.Context, item tracker.TrackedItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
	return nil
}

// DeleteItem removes an item. History is untouched.
func (s *Store) DeleteItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return fmt.Errorf("item %s: %w", id, tracker.ErrNotFound)
	}
	delete(s.items, id)
	return nil
}

// ListWatchlists returns every watchlist in creation order.
func (s *Store) ListWatchlists(_ context.Context) ([]tracker.Watchlist, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tracker.Watchlist, 0, len(s.wlOrder))
	for _, id := range s.wlOrder {
		out = append(out, cloneWatchlist(s.watchlists[id]))
	}
	return out, nil
}

// GetWatchlist returns one watchlist.
func (s *Store) GetWatchlist(_ context.Context, id string) (tracker.Watchlist, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wl, ok := s.watchlists[id]
	if !ok {
		return tracker.Watchlist{}, fmt.Errorf("watchlist %s: %w", id, tracker.ErrNotFound)
	}
	return cloneWatchlist(wl), nil
}

// SaveWatchlist upserts a watchlist.
func (s *Store) SaveWatchlist(_ context.Context, wl tracker.Watchlist) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watchlists[wl.ID]; !ok {
		s.wlOrder = append(s.wlOrder, wl.ID)
	}
	s.watchlists[wl.ID] = cloneWatchlist(wl)
	return nil
}

// RemoveItem drops an item from every watchlist.
func (s *Store) RemoveItem(_ context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropMemberLocked(itemID)
	return nil
}

// CreateEntry appends a history entry.
func (s *Store) CreateEntry(_ context.Context, entry tracker.PriceHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, entry)
	return nil
}

// RecentEntries returns up to n entries for itemID, newest first.
func (s *Store) RecentEntries(_ context.Context, itemID string, n int) ([]tracker.PriceHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []tracker.PriceHistoryEntry
	for _, e := range s.history {
		if e.Subject.ItemID == itemID {
			out = append(out, e)
		}
	}
	sortNewestFirst(out)
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// DetachItem snapshots missing titles and clears the item reference.
func (s *Store) DetachItem(_ context.Context, itemID, title string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detachLocked(itemID, title), nil
}

// RemoveTrackedItem detaches history, drops memberships and deletes the
// item under one lock.
func (s *Store) RemoveTrackedItem(_ context.Context, itemID, title string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[itemID]; !ok {
		return 0, fmt.Errorf("item %s: %w", itemID, tracker.ErrNotFound)
	}
	n := s.detachLocked(itemID, title)
	s.dropMemberLocked(itemID)
	delete(s.items, itemID)
	return n, nil
}

func (s *Store) detachLocked(itemID, title string) int {
	n := 0
	for i, e := range s.history {
		if e.Subject.ItemID != itemID {
			continue
		}
		snapshot := e.Subject.Title
		if snapshot == "" {
			snapshot = title
		}
		s.history[i].Subject = tracker.Unowned(snapshot)
		n++
	}
	return n
}

func (s *Store) dropMemberLocked(itemID string) {
	for id, wl := range s.watchlists {
		kept := wl.ItemIDs[:0:0]
		for _, member := range wl.ItemIDs {
			if member != itemID {
				kept = append(kept, member)
			}
		}
		wl.ItemIDs = kept
		s.watchlists[id] = wl
	}
}

// QueryEntries filters history, newest first.
func (s *Store) QueryEntries(_ context.Context, q tracker.HistoryQuery) ([]tracker.PriceHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []tracker.PriceHistoryEntry
	for _, e := range s.history {
		switch {
		case q.ItemID != "":
			if e.Subject.ItemID != q.ItemID {
				continue
			}
		case q.Title != "":
			if e.Subject.IsOwned() || e.Subject.Title != q.Title {
				continue
			}
		}
		if !q.Since.IsZero() && e.RecordedAt.Before(q.Since) {
			continue
		}
		if !q.MatchesEvent(e.EventName) {
			continue
		}
		out = append(out, e)
	}
	sortNewestFirst(out)
	return out, nil
}

// SnapshotTitles lists unique titles of detached entries, sorted.
func (s *Store) SnapshotTitles(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]struct{}{}
	var titles []string
	for _, e := range s.history {
		if e.Subject.IsOwned() || e.Subject.Title == "" {
			continue
		}
		if _, ok := seen[e.Subject.Title]; ok {
			continue
		}
		seen[e.Subject.Title] = struct{}{}
		titles = append(titles, e.Subject.Title)
	}
	sort.Strings(titles)
	return titles, nil
}

func sortNewestFirst(entries []tracker.PriceHistoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].RecordedAt.After(entries[j].RecordedAt)
	})
}

func cloneWatchlist(wl tracker.Watchlist) tracker.Watchlist {
	wl.ItemIDs = append([]string(nil), wl.ItemIDs...)
	return wl
}
