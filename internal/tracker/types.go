package tracker

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TrackedItem is a product a user watches.
type TrackedItem struct {
	ID           string              `json:"id"`
	UserID       string              `json:"user_id"`
	Title        string              `json:"title"`
	Price        decimal.NullDecimal `json:"price"`
	TargetPrice  decimal.NullDecimal `json:"target_price"`
	Rating       *float64            `json:"rating,omitempty"`
	Reviews      *int                `json:"reviews,omitempty"`
	Availability string              `json:"availability"`
	LastScraped  time.Time           `json:"last_scraped"`
}

// Watchlist groups tracked items for a user. ItemIDs keep insertion order.
type Watchlist struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	Name            string    `json:"name"`
	ItemIDs         []string  `json:"item_ids"`
	ScrapingEnabled bool      `json:"scraping_enabled"`
	ScrapingTime    string    `json:"scraping_time"`
	CreatedAt       time.Time `json:"created_at"`
}

// User is the owner of items and watchlists.
type User struct {
	ID              string `json:"id"`
	Email           string `json:"email"`
	ScrapingEnabled bool   `json:"scraping_enabled"`
}

// Subject identifies what a history entry describes. An owned subject links
// to a live tracked item; an unowned one only carries the title left behind
// by a deleted item.
type Subject struct {
	ItemID string `json:"item_id,omitempty"`
	Title  string `json:"title_snapshot,omitempty"`
}

// Owned links an entry to a live item.
func Owned(itemID, title string) Subject {
	return Subject{ItemID: itemID, Title: title}
}

// Unowned describes an entry that survived the deletion of its item.
func Unowned(title string) Subject {
	return Subject{Title: title}
}

// IsOwned reports whether the subject still references an item.
func (s Subject) IsOwned() bool {
	return s.ItemID != ""
}

// PriceHistoryEntry is one immutable price observation.
type PriceHistoryEntry struct {
	ID           string              `json:"id"`
	Subject      Subject             `json:"subject"`
	Price        decimal.NullDecimal `json:"price"`
	PriceNumeric decimal.NullDecimal `json:"price_numeric"`
	Availability string              `json:"availability"`
	RecordedAt   time.Time           `json:"recorded_at"`
	EventName    string              `json:"event_name,omitempty"`
}

// RawListing is one search result returned by a ListingSource.
type RawListing struct {
	Title        string              `json:"title"`
	PriceText    string              `json:"price_text"`
	Price        decimal.NullDecimal `json:"price"`
	Rating       *float64            `json:"rating,omitempty"`
	Reviews      *int                `json:"reviews,omitempty"`
	Availability string              `json:"availability"`
	Link         string              `json:"link"`
}

// SaleEvent is a named calendar window, inclusive on both ends.
type SaleEvent struct {
	Name  string    `json:"name"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether the calendar date of t falls inside the window.
func (e SaleEvent) Contains(t time.Time) bool {
	d := civilDate(t)
	return !d.Before(civilDate(e.Start)) && !d.After(civilDate(e.End))
}

func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// HistoryQuery filters history reads. Exactly one of ItemID or Title is set;
// a Title query only matches entries whose item reference is gone.
type HistoryQuery struct {
	ItemID string
	Title  string
	Since  time.Time
	Event  string
}

// MatchesEvent applies the case-insensitive, whitespace-trimmed event filter.
func (q HistoryQuery) MatchesEvent(eventName string) bool {
	want := strings.TrimSpace(q.Event)
	if want == "" {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(eventName), want)
}
