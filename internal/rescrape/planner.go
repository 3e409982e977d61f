// Package rescrape decides which tracked items are due for a fresh price
// check on a scheduling tick.
package rescrape

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/metrics"
	"github.com/JakeFAU/pricewatch/internal/sale"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// DefaultFreshnessDays is how long an observation stays fresh outside a
// sale event.
const DefaultFreshnessDays = 7

// Decision explains why an item is or is not due.
type Decision string

// Due decisions.
const (
	DueNoHistory    Decision = "no_history"
	DueEventNotSeen Decision = "not_scraped_during_event"
	DueStale        Decision = "stale"
	NotDueEventSeen Decision = "scraped_during_event"
	NotDueFresh     Decision = "fresh"
)

// Due reports whether the decision schedules a scrape.
func (d Decision) Due() bool {
	switch d {
	case DueNoHistory, DueEventNotSeen, DueStale:
		return true
	default:
		return false
	}
}

// Candidate is an item considered by a plan together with its decision.
type Candidate struct {
	Item        tracker.TrackedItem `json:"item"`
	WatchlistID string              `json:"watchlist_id"`
	LastScraped *time.Time          `json:"last_scraped,omitempty"`
	Decision    Decision            `json:"decision"`
}

// Plan is the outcome of one evaluation.
type Plan struct {
	Today  time.Time   `json:"today"`
	Event  string      `json:"event,omitempty"`
	Due    []Candidate `json:"due"`
	NotDue []Candidate `json:"not_due"`
}

// Items returns the due items in candidate order.
func (p Plan) Items() []tracker.TrackedItem {
	out := make([]tracker.TrackedItem, 0, len(p.Due))
	for _, c := range p.Due {
		out = append(out, c.Item)
	}
	return out
}

// Planner evaluates the re-scrape policy. It keeps no state between calls.
type Planner struct {
	watchlists    tracker.WatchlistStore
	users         tracker.UserStore
	items         tracker.ItemStore
	history       tracker.HistoryStore
	calendar      *sale.Calendar
	freshnessDays int
	logger        *zap.Logger
}

// Option customizes a Planner.
type Option func(*Planner)

// WithFreshnessDays overrides the freshness window.
func WithFreshnessDays(days int) Option {
	return func(p *Planner) {
		if days > 0 {
			p.freshnessDays = days
		}
	}
}

// NewPlanner constructs a Planner.
func NewPlanner(
	watchlists tracker.WatchlistStore,
	users tracker.UserStore,
	items tracker.ItemStore,
	history tracker.HistoryStore,
	calendar *sale.Calendar,
	logger *zap.Logger,
	opts ...Option,
) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Planner{
		watchlists:    watchlists,
		users:         users,
		items:         items,
		history:       history,
		calendar:      calendar,
		freshnessDays: DefaultFreshnessDays,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan selects the candidates for now and decides which are due.
func (p *Planner) Plan(ctx context.Context, now time.Time) (Plan, error) {
	event, active := p.calendar.Active(now)
	plan := Plan{Today: civil(now)}
	if active {
		plan.Event = event.Name
	}

	candidates, err := p.Candidates(ctx)
	if err != nil {
		return Plan{}, err
	}
	for _, c := range candidates {
		latest, err := p.history.RecentEntries(ctx, c.Item.ID, 1)
		if err != nil {
			return Plan{}, fmt.Errorf("load latest entry for %s: %w", c.Item.ID, err)
		}
		var last time.Time
		if len(latest) > 0 {
			last = latest[0].RecordedAt
			c.LastScraped = &last
		}
		c.Decision = Decide(last, len(latest) > 0, event, active, now, p.freshnessDays)

		p.logger.Debug("rescrape decision",
			zap.String("item_id", c.Item.ID),
			zap.String("title", c.Item.Title),
			zap.String("decision", string(c.Decision)),
			zap.String("event", plan.Event),
		)
		if c.Decision.Due() {
			plan.Due = append(plan.Due, c)
		} else {
			plan.NotDue = append(plan.NotDue, c)
		}
	}
	metrics.SetPlanned(len(plan.Due))
	p.logger.Info("rescrape plan ready",
		zap.Time("today", plan.Today),
		zap.String("event", plan.Event),
		zap.Int("candidates", len(candidates)),
		zap.Int("due", len(plan.Due)),
	)
	return plan, nil
}

// Candidates returns the first item of every non-empty watchlist whose
// owner has scheduled scraping enabled, in watchlist order. An item heading
// several watchlists is considered once.
func (p *Planner) Candidates(ctx context.Context) ([]Candidate, error) {
	watchlists, err := p.watchlists.ListWatchlists(ctx)
	if err != nil {
		return nil, fmt.Errorf("list watchlists: %w", err)
	}

	enabled := make(map[string]bool)
	seen := make(map[string]bool)
	var out []Candidate
	for _, wl := range watchlists {
		if len(wl.ItemIDs) == 0 {
			continue
		}
		on, known := enabled[wl.UserID]
		if !known {
			user, err := p.users.GetUser(ctx, wl.UserID)
			switch {
			case errors.Is(err, tracker.ErrNotFound):
				on = false
			case err != nil:
				return nil, fmt.Errorf("load user %s: %w", wl.UserID, err)
			default:
				on = user.ScrapingEnabled
			}
			enabled[wl.UserID] = on
		}
		if !on {
			continue
		}

		first := wl.ItemIDs[0]
		if seen[first] {
			continue
		}
		item, err := p.items.GetItem(ctx, first)
		if errors.Is(err, tracker.ErrNotFound) {
			p.logger.Warn("watchlist references missing item",
				zap.String("watchlist_id", wl.ID),
				zap.String("item_id", first),
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load item %s: %w", first, err)
		}
		seen[first] = true
		out = append(out, Candidate{Item: item, WatchlistID: wl.ID})
	}
	return out, nil
}

// Decide applies the due rule to one item. Dates are compared as calendar
// days in now's location.
func Decide(last time.Time, hasLast bool, event tracker.SaleEvent, active bool, now time.Time, freshnessDays int) Decision {
	if !hasLast {
		return DueNoHistory
	}
	last = last.In(now.Location())
	if active {
		if event.Contains(last) {
			return NotDueEventSeen
		}
		return DueEventNotSeen
	}
	if DaysBetween(last, now) > freshnessDays {
		return DueStale
	}
	return NotDueFresh
}

// DaysBetween counts whole calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(civil(b).Sub(civil(a)).Hours() / 24)
}

func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
