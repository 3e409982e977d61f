package tracker

import (
	"context"
	"errors"
	"io"
	"time"
)

// Sentinel errors shared across stores and services.
var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateTitle = errors.New("item with this title is already tracked")
	ErrInvalidDepth   = errors.New("depth must be between 1 and 10")
)

// Page-depth bounds for a listing search.
const (
	DefaultDepth = 3
	MaxDepth     = 10
)

// ValidateDepth resolves a requested depth; zero selects the default.
func ValidateDepth(depth int) (int, error) {
	if depth == 0 {
		return DefaultDepth, nil
	}
	if depth < 1 || depth > MaxDepth {
		return 0, ErrInvalidDepth
	}
	return depth, nil
}

// ListingSource searches a retailer and returns raw listings, following at
// most maxPages result pages.
type ListingSource interface {
	Search(ctx context.Context, query string, maxPages int) ([]RawListing, error)
}

// ItemStore persists tracked items.
type ItemStore interface {
	GetItem(ctx context.Context, id string) (TrackedItem, error)
	ListItems(ctx context.Context, userID string) ([]TrackedItem, error)
	SaveItem(ctx context.Context, item TrackedItem) error
	DeleteItem(ctx context.Context, id string) error
}

// WatchlistStore persists watchlists and their ordered membership.
type WatchlistStore interface {
	ListWatchlists(ctx context.Context) ([]Watchlist, error)
	GetWatchlist(ctx context.Context, id string) (Watchlist, error)
	SaveWatchlist(ctx context.Context, wl Watchlist) error
	RemoveItem(ctx context.Context, itemID string) error
}

// UserStore reads user profiles.
type UserStore interface {
	GetUser(ctx context.Context, id string) (User, error)
}

// HistoryStore is the append-only price history repository.
type HistoryStore interface {
	CreateEntry(ctx context.Context, entry PriceHistoryEntry) error
	// RecentEntries returns up to n entries for the item, newest first.
	RecentEntries(ctx context.Context, itemID string, n int) ([]PriceHistoryEntry, error)
	// DetachItem fills missing title snapshots with title and clears the
	// item reference on every entry of the item. It returns the number of
	// entries detached.
	DetachItem(ctx context.Context, itemID, title string) (int, error)
	QueryEntries(ctx context.Context, q HistoryQuery) ([]PriceHistoryEntry, error)
	SnapshotTitles(ctx context.Context) ([]string, error)
}

// ItemRemover deletes an item in one atomic step: its history is detached
// (title snapshots filled from title), it leaves every watchlist and the
// item row is removed. Nothing changes when any part fails.
type ItemRemover interface {
	RemoveTrackedItem(ctx context.Context, itemID, title string) (int, error)
}

// Notifier delivers a message to recipients.
type Notifier interface {
	Notify(ctx context.Context, subject, body string, recipients []string) error
}

// ResultCache holds the latest manual search results per user.
type ResultCache interface {
	Put(ctx context.Context, userID string, listings []RawListing) error
	Get(ctx context.Context, userID string) ([]RawListing, bool, error)
}

// Publisher pushes events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
