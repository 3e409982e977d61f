// Package history writes and reads the append-only price history.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// Observation is the data captured for one history write.
type Observation struct {
	Price        decimal.NullDecimal
	PriceNumeric decimal.NullDecimal
	Availability string
	EventName    string
}

// Recorder creates history entries and detaches them from deleted items.
type Recorder struct {
	store  tracker.HistoryStore
	ids    tracker.IDGenerator
	clock  tracker.Clock
	logger *zap.Logger
}

// NewRecorder constructs a Recorder.
func NewRecorder(store tracker.HistoryStore, ids tracker.IDGenerator, clock tracker.Clock, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, ids: ids, clock: clock, logger: logger}
}

// Record writes exactly one entry for item.
func (r *Recorder) Record(ctx context.Context, item tracker.TrackedItem, obs Observation) (tracker.PriceHistoryEntry, error) {
	if item.ID == "" {
		return tracker.PriceHistoryEntry{}, fmt.Errorf("record history: item id is required")
	}
	id, err := r.ids.NewID()
	if err != nil {
		return tracker.PriceHistoryEntry{}, fmt.Errorf("record history: %w", err)
	}
	price, numeric := Reconcile(obs.Price, obs.PriceNumeric)
	availability := strings.TrimSpace(obs.Availability)
	if availability == "" {
		availability = "Unknown"
	}
	entry := tracker.PriceHistoryEntry{
		ID:           id,
		Subject:      tracker.Owned(item.ID, item.Title),
		Price:        price,
		PriceNumeric: numeric,
		Availability: availability,
		RecordedAt:   r.clock.Now(),
		EventName:    strings.TrimSpace(obs.EventName),
	}
	if err := r.store.CreateEntry(ctx, entry); err != nil {
		return tracker.PriceHistoryEntry{}, fmt.Errorf("create history entry: %w", err)
	}
	r.logger.Debug("history entry recorded",
		zap.String("item_id", item.ID),
		zap.String("entry_id", entry.ID),
		zap.Stringer("price", entry.Price.Decimal),
		zap.String("event", entry.EventName),
	)
	return entry, nil
}

// Detach keeps an item's history alive ahead of its deletion: entries keep
// (or gain) the item's title as snapshot and lose the item reference.
func (r *Recorder) Detach(ctx context.Context, item tracker.TrackedItem) (int, error) {
	n, err := r.store.DetachItem(ctx, item.ID, item.Title)
	if err != nil {
		return 0, fmt.Errorf("detach history: %w", err)
	}
	r.logger.Info("history detached", zap.String("item_id", item.ID), zap.Int("entries", n))
	return n, nil
}

// Latest returns the newest entry for an item.
func (r *Recorder) Latest(ctx context.Context, itemID string) (tracker.PriceHistoryEntry, bool, error) {
	entries, err := r.store.RecentEntries(ctx, itemID, 1)
	if err != nil {
		return tracker.PriceHistoryEntry{}, false, fmt.Errorf("latest history: %w", err)
	}
	if len(entries) == 0 {
		return tracker.PriceHistoryEntry{}, false, nil
	}
	return entries[0], true, nil
}

// Reconcile enforces price == price_numeric. A lone value is copied to the
// other field; when both are present and disagree the numeric field is
// recomputed from the display price.
func Reconcile(price, numeric decimal.NullDecimal) (decimal.NullDecimal, decimal.NullDecimal) {
	switch {
	case price.Valid && !numeric.Valid:
		return price, price
	case !price.Valid && numeric.Valid:
		return numeric, numeric
	case price.Valid && numeric.Valid && !price.Decimal.Equal(numeric.Decimal):
		return price, price
	}
	return price, numeric
}

// Window clamps a day count to [1,365], defaulting to 30.
func Window(days int) int {
	switch {
	case days == 0:
		return 30
	case days < 1:
		return 1
	case days > 365:
		return 365
	}
	return days
}

// Since returns the lower bound of a days window ending at now.
func Since(now time.Time, days int) time.Time {
	return now.AddDate(0, 0, -Window(days))
}
