package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

func entryAt(id, itemID, title string, at time.Time, event string) tracker.PriceHistoryEntry {
	price := decimal.NewNullDecimal(decimal.RequireFromString("10.00"))
	return tracker.PriceHistoryEntry{
		ID:           id,
		Subject:      tracker.Subject{ItemID: itemID, Title: title},
		Price:        price,
		PriceNumeric: price,
		RecordedAt:   at,
		EventName:    event,
	}
}

func TestStoreRecentEntriesNewestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateEntry(ctx, entryAt("e1", "item-1", "Widget", base, "")))
	require.NoError(t, s.CreateEntry(ctx, entryAt("e2", "item-1", "Widget", base.Add(48*time.Hour), "")))
	require.NoError(t, s.CreateEntry(ctx, entryAt("e3", "item-2", "Other", base.Add(72*time.Hour), "")))

	got, err := s.RecentEntries(ctx, "item-1", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "e2", got[0].ID)
}

func TestStoreDetachKeepsExistingSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	at := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateEntry(ctx, entryAt("e1", "item-1", "Old Title", at, "")))
	require.NoError(t, s.CreateEntry(ctx, entryAt("e2", "item-1", "", at, "")))

	n, err := s.DetachItem(ctx, "item-1", "New Title")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	old, err := s.QueryEntries(ctx, tracker.HistoryQuery{Title: "Old Title"})
	require.NoError(t, err)
	require.Len(t, old, 1)
	require.False(t, old[0].Subject.IsOwned())

	filled, err := s.QueryEntries(ctx, tracker.HistoryQuery{Title: "New Title"})
	require.NoError(t, err)
	require.Len(t, filled, 1)

	titles, err := s.SnapshotTitles(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"New Title", "Old Title"}, titles)
}

func TestStoreQueryFilters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	at := time.Date(2025, 7, 20, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateEntry(ctx, entryAt("old", "item-1", "Widget", at.AddDate(0, 0, -40), "")))
	require.NoError(t, s.CreateEntry(ctx, entryAt("prime", "item-1", "Widget", at, "Prime Day")))
	require.NoError(t, s.CreateEntry(ctx, entryAt("plain", "item-1", "Widget", at.Add(time.Hour), "")))

	got, err := s.QueryEntries(ctx, tracker.HistoryQuery{ItemID: "item-1", Since: at.AddDate(0, 0, -30)})
	require.NoError(t, err)
	require.Len(t, got, 2)

	got, err = s.QueryEntries(ctx, tracker.HistoryQuery{ItemID: "item-1", Event: " PRIME day"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "prime", got[0].ID)

	// Owned entries never match a snapshot query.
	got, err = s.QueryEntries(ctx, tracker.HistoryQuery{Title: "Widget"})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestStoreWatchlistsKeepOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.SaveWatchlist(ctx, tracker.Watchlist{ID: "wl-b", ItemIDs: []string{"i1", "i2"}}))
	require.NoError(t, s.SaveWatchlist(ctx, tracker.Watchlist{ID: "wl-a", ItemIDs: []string{"i2"}}))

	require.NoError(t, s.RemoveItem(ctx, "i2"))
	lists, err := s.ListWatchlists(ctx)
	require.NoError(t, err)
	require.Len(t, lists, 2)
	require.Equal(t, "wl-b", lists[0].ID)
	require.Equal(t, []string{"i1"}, lists[0].ItemIDs)
	require.Empty(t, lists[1].ItemIDs)
}

func TestStoreItemsAndUsers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	_, err := s.GetItem(ctx, "missing")
	require.ErrorIs(t, err, tracker.ErrNotFound)
	require.ErrorIs(t, s.DeleteItem(ctx, "missing"), tracker.ErrNotFound)

	require.NoError(t, s.SaveItem(ctx, tracker.TrackedItem{ID: "i1", UserID: "u1", Title: "B"}))
	require.NoError(t, s.SaveItem(ctx, tracker.TrackedItem{ID: "i2", UserID: "u1", Title: "A"}))
	items, err := s.ListItems(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "A", items[0].Title)

	require.NoError(t, s.SaveUser(ctx, tracker.User{ID: "u1", Email: "u1@example.com"}))
	user, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "u1@example.com", user.Email)
}

func TestStoreRemoveTrackedItem(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	at := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveItem(ctx, tracker.TrackedItem{ID: "item-1", UserID: "u1", Title: "Widget"}))
	require.NoError(t, s.SaveWatchlist(ctx, tracker.Watchlist{ID: "wl1", UserID: "u1", ItemIDs: []string{"item-1", "item-2"}}))
	require.NoError(t, s.CreateEntry(ctx, entryAt("e1", "item-1", "", at, "")))

	n, err := s.RemoveTrackedItem(ctx, "item-1", "Widget")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = s.GetItem(ctx, "item-1")
	require.ErrorIs(t, err, tracker.ErrNotFound)
	wl, err := s.GetWatchlist(ctx, "wl1")
	require.NoError(t, err)
	require.Equal(t, []string{"item-2"}, wl.ItemIDs)
	entries, err := s.QueryEntries(ctx, tracker.HistoryQuery{Title: "Widget"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.False(t, entries[0].Subject.IsOwned())

	_, err = s.RemoveTrackedItem(ctx, "item-1", "Widget")
	require.ErrorIs(t, err, tracker.ErrNotFound)
}
