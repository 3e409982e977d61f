package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// ForItem lists an item's entries inside the days window, optionally
// filtered by event name.
func (r *Recorder) ForItem(ctx context.Context, itemID string, days int, event string) ([]tracker.PriceHistoryEntry, error) {
	if itemID == "" {
		return nil, fmt.Errorf("item history: item id is required")
	}
	entries, err := r.store.QueryEntries(ctx, tracker.HistoryQuery{
		ItemID: itemID,
		Since:  Since(r.clock.Now(), days),
		Event:  strings.TrimSpace(event),
	})
	if err != nil {
		return nil, fmt.Errorf("item history: %w", err)
	}
	return entries, nil
}

// ForSnapshot lists entries left behind by a deleted item with the given title.
func (r *Recorder) ForSnapshot(ctx context.Context, title string, days int, event string) ([]tracker.PriceHistoryEntry, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("snapshot history: title is required")
	}
	entries, err := r.store.QueryEntries(ctx, tracker.HistoryQuery{
		Title: title,
		Since: Since(r.clock.Now(), days),
		Event: strings.TrimSpace(event),
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot history: %w", err)
	}
	return entries, nil
}

// SnapshotTitles lists the unique titles that own detached history.
func (r *Recorder) SnapshotTitles(ctx context.Context) ([]string, error) {
	titles, err := r.store.SnapshotTitles(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot titles: %w", err)
	}
	return titles, nil
}
