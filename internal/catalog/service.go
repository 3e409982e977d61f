// Package catalog implements the operator-facing item operations: manual
// search and tracking, target prices, deletion, watchlists and history
// views.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/alert"
	"github.com/JakeFAU/pricewatch/internal/history"
	"github.com/JakeFAU/pricewatch/internal/pricing"
	"github.com/JakeFAU/pricewatch/internal/sale"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// Validation errors reported to callers as bad requests.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidSelection = errors.New("selected result does not exist")
	ErrInvalidTarget    = errors.New("target price must be greater than zero")
)

// UserRepository reads and writes user profiles.
type UserRepository interface {
	tracker.UserStore
	SaveUser(ctx context.Context, user tracker.User) error
}

// Deps are the collaborators of a Service.
type Deps struct {
	Source     tracker.ListingSource
	Cache      tracker.ResultCache
	Items      tracker.ItemStore
	Watchlists tracker.WatchlistStore
	Users      UserRepository
	Recorder   *history.Recorder
	Alerts     *alert.Engine
	Calendar   *sale.Calendar
	Clock      tracker.Clock
	IDs        tracker.IDGenerator
	Logger     *zap.Logger
}

// Service runs manual operations.
type Service struct {
	deps   Deps
	logger *zap.Logger
}

// New builds a Service.
func New(deps Deps) (*Service, error) {
	if deps.Items == nil || deps.Watchlists == nil || deps.Recorder == nil {
		return nil, errors.New("catalog: item and watchlist stores and a history recorder are required")
	}
	if deps.Users == nil || deps.Clock == nil || deps.IDs == nil || deps.Calendar == nil {
		return nil, errors.New("catalog: user store, clock, id generator and calendar are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{deps: deps, logger: logger.Named("catalog")}, nil
}

// SaveUser upserts a user profile.
func (s *Service) SaveUser(ctx context.Context, user tracker.User) (tracker.User, error) {
	user.ID = strings.TrimSpace(user.ID)
	user.Email = strings.TrimSpace(user.Email)
	if user.ID == "" {
		return tracker.User{}, fmt.Errorf("user id is required: %w", ErrInvalidInput)
	}
	if err := s.deps.Users.SaveUser(ctx, user); err != nil {
		return tracker.User{}, fmt.Errorf("save user: %w", err)
	}
	return user, nil
}

// User returns a user profile.
func (s *Service) User(ctx context.Context, userID string) (tracker.User, error) {
	user, err := s.deps.Users.GetUser(ctx, userID)
	if err != nil {
		return tracker.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// Search runs the listing source for a user and caches the results.
func (s *Service) Search(ctx context.Context, userID, query string, depth int) ([]tracker.RawListing, error) {
	query = strings.TrimSpace(query)
	if query == "" || userID == "" {
		return nil, fmt.Errorf("user and query are required: %w", ErrInvalidInput)
	}
	d, err := tracker.ValidateDepth(depth)
	if err != nil {
		return nil, err
	}
	if s.deps.Source == nil || s.deps.Cache == nil {
		return nil, errors.New("manual search is not configured")
	}
	listings, err := s.deps.Source.Search(ctx, query, d)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	if err := s.deps.Cache.Put(ctx, userID, listings); err != nil {
		return nil, fmt.Errorf("cache results: %w", err)
	}
	s.logger.Info("manual search finished",
		zap.String("user_id", userID), zap.String("query", query), zap.Int("depth", d), zap.Int("results", len(listings)))
	return listings, nil
}

// Results returns the user's cached search results, or an empty list once
// they have expired.
func (s *Service) Results(ctx context.Context, userID string) ([]tracker.RawListing, error) {
	if s.deps.Cache == nil {
		return []tracker.RawListing{}, nil
	}
	listings, ok, err := s.deps.Cache.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read cached results: %w", err)
	}
	if !ok || listings == nil {
		return []tracker.RawListing{}, nil
	}
	return listings, nil
}

// TrackRequest selects a cached result to track.
type TrackRequest struct {
	UserID      string
	Index       int
	TargetPrice decimal.NullDecimal
	WatchlistID string
}

// Track creates a TrackedItem from a cached search result.
func (s *Service) Track(ctx context.Context, req TrackRequest) (tracker.TrackedItem, error) {
	if err := validateTarget(req.TargetPrice); err != nil {
		return tracker.TrackedItem{}, err
	}
	listings, err := s.Results(ctx, req.UserID)
	if err != nil {
		return tracker.TrackedItem{}, err
	}
	if req.Index < 0 || req.Index >= len(listings) {
		return tracker.TrackedItem{}, ErrInvalidSelection
	}
	l := listings[req.Index]
	title := strings.TrimSpace(l.Title)
	if title == "" {
		return tracker.TrackedItem{}, fmt.Errorf("listing has no title: %w", ErrInvalidSelection)
	}

	existing, err := s.deps.Items.ListItems(ctx, req.UserID)
	if err != nil {
		return tracker.TrackedItem{}, fmt.Errorf("list items: %w", err)
	}
	for _, it := range existing {
		if it.Title == title {
			return tracker.TrackedItem{}, fmt.Errorf("%q: %w", title, tracker.ErrDuplicateTitle)
		}
	}

	var wl tracker.Watchlist
	if req.WatchlistID != "" {
		if wl, err = s.ownedWatchlist(ctx, req.UserID, req.WatchlistID); err != nil {
			return tracker.TrackedItem{}, err
		}
	}

	id, err := s.deps.IDs.NewID()
	if err != nil {
		return tracker.TrackedItem{}, fmt.Errorf("generate item id: %w", err)
	}
	price := pricing.Normalize(l.PriceText)
	if !price.Valid {
		price = l.Price
	}
	item := tracker.TrackedItem{
		ID:           id,
		UserID:       req.UserID,
		Title:        title,
		Price:        price,
		TargetPrice:  req.TargetPrice,
		Rating:       l.Rating,
		Reviews:      l.Reviews,
		Availability: l.Availability,
		LastScraped:  s.deps.Clock.Now(),
	}
	if err := s.deps.Items.SaveItem(ctx, item); err != nil {
		return tracker.TrackedItem{}, fmt.Errorf("save item: %w", err)
	}
	if req.WatchlistID != "" {
		wl.ItemIDs = append(wl.ItemIDs, item.ID)
		if err := s.deps.Watchlists.SaveWatchlist(ctx, wl); err != nil {
			return item, fmt.Errorf("add to watchlist: %w", err)
		}
	}
	s.logger.Info("item tracked", zap.String("item_id", item.ID), zap.String("title", item.Title))
	return item, nil
}

// Items lists a user's tracked items.
func (s *Service) Items(ctx context.Context, userID string) ([]tracker.TrackedItem, error) {
	items, err := s.deps.Items.ListItems(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	if items == nil {
		items = []tracker.TrackedItem{}
	}
	return items, nil
}

// Item returns one tracked item.
func (s *Service) Item(ctx context.Context, itemID string) (tracker.TrackedItem, error) {
	item, err := s.deps.Items.GetItem(ctx, itemID)
	if err != nil {
		return tracker.TrackedItem{}, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// LookupItems resolves item ids in order.
func (s *Service) LookupItems(ctx context.Context, ids []string) ([]tracker.TrackedItem, error) {
	items := make([]tracker.TrackedItem, 0, len(ids))
	for _, id := range ids {
		item, err := s.Item(ctx, id)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// SetTarget sets or clears an item's target price.
func (s *Service) SetTarget(ctx context.Context, itemID string, target decimal.NullDecimal) (tracker.TrackedItem, error) {
	if err := validateTarget(target); err != nil {
		return tracker.TrackedItem{}, err
	}
	item, err := s.Item(ctx, itemID)
	if err != nil {
		return tracker.TrackedItem{}, err
	}
	item.TargetPrice = target
	if err := s.deps.Items.SaveItem(ctx, item); err != nil {
		return tracker.TrackedItem{}, fmt.Errorf("save item: %w", err)
	}
	return item, nil
}

// DeleteItem detaches the item's history, removes it from every watchlist
// and deletes it.
func (s *Service) DeleteItem(ctx context.Context, itemID string) (int, error) {
	item, err := s.Item(ctx, itemID)
	if err != nil {
		return 0, err
	}
	var detached int
	if remover, ok := s.deps.Items.(tracker.ItemRemover); ok {
		detached, err = remover.RemoveTrackedItem(ctx, item.ID, item.Title)
		if err != nil {
			return 0, fmt.Errorf("delete item: %w", err)
		}
	} else {
		detached, err = s.deps.Recorder.Detach(ctx, item)
		if err != nil {
			return 0, err
		}
		if err := s.deps.Watchlists.RemoveItem(ctx, item.ID); err != nil {
			return detached, fmt.Errorf("remove from watchlists: %w", err)
		}
		if err := s.deps.Items.DeleteItem(ctx, item.ID); err != nil {
			return detached, fmt.Errorf("delete item: %w", err)
		}
	}
	s.logger.Info("item deleted, history retained",
		zap.String("item_id", item.ID), zap.String("title", item.Title), zap.Int("entries", detached))
	return detached, nil
}

// CreateWatchlist creates an empty watchlist for a user.
func (s *Service) CreateWatchlist(ctx context.Context, userID, name string) (tracker.Watchlist, error) {
	name = strings.TrimSpace(name)
	if userID == "" || name == "" {
		return tracker.Watchlist{}, fmt.Errorf("user and name are required: %w", ErrInvalidInput)
	}
	id, err := s.deps.IDs.NewID()
	if err != nil {
		return tracker.Watchlist{}, fmt.Errorf("generate watchlist id: %w", err)
	}
	wl := tracker.Watchlist{
		ID:              id,
		UserID:          userID,
		Name:            name,
		ScrapingEnabled: true,
		ScrapingTime:    "03:00",
		CreatedAt:       s.deps.Clock.Now(),
	}
	if err := s.deps.Watchlists.SaveWatchlist(ctx, wl); err != nil {
		return tracker.Watchlist{}, fmt.Errorf("save watchlist: %w", err)
	}
	return wl, nil
}

// AddToWatchlist appends items the watchlist does not hold yet. Items must
// belong to the watchlist's owner.
func (s *Service) AddToWatchlist(ctx context.Context, watchlistID string, itemIDs []string) (tracker.Watchlist, error) {
	wl, err := s.deps.Watchlists.GetWatchlist(ctx, watchlistID)
	if err != nil {
		return tracker.Watchlist{}, fmt.Errorf("get watchlist: %w", err)
	}
	present := make(map[string]bool, len(wl.ItemIDs))
	for _, id := range wl.ItemIDs {
		present[id] = true
	}
	for _, id := range itemIDs {
		if present[id] {
			continue
		}
		item, err := s.Item(ctx, id)
		if err != nil {
			return tracker.Watchlist{}, err
		}
		if item.UserID != wl.UserID {
			return tracker.Watchlist{}, fmt.Errorf("item %s: %w", id, tracker.ErrNotFound)
		}
		wl.ItemIDs = append(wl.ItemIDs, id)
		present[id] = true
	}
	if err := s.deps.Watchlists.SaveWatchlist(ctx, wl); err != nil {
		return tracker.Watchlist{}, fmt.Errorf("save watchlist: %w", err)
	}
	return wl, nil
}

// SetWatchlistScraping sets the watchlist's scraping flag.
func (s *Service) SetWatchlistScraping(ctx context.Context, watchlistID string, enabled bool) (tracker.Watchlist, error) {
	wl, err := s.deps.Watchlists.GetWatchlist(ctx, watchlistID)
	if err != nil {
		return tracker.Watchlist{}, fmt.Errorf("get watchlist: %w", err)
	}
	wl.ScrapingEnabled = enabled
	if err := s.deps.Watchlists.SaveWatchlist(ctx, wl); err != nil {
		return tracker.Watchlist{}, fmt.Errorf("save watchlist: %w", err)
	}
	return wl, nil
}

// HistoryView is a history listing with its heading.
type HistoryView struct {
	Title       string                      `json:"title"`
	TargetPrice decimal.NullDecimal         `json:"target_price"`
	Entries     []tracker.PriceHistoryEntry `json:"entries"`
}

// ItemHistory returns the item's entries within the last days (clamped to
// [1,365], 0 selects 30), optionally filtered by event.
func (s *Service) ItemHistory(ctx context.Context, itemID string, days int, event string) (HistoryView, error) {
	item, err := s.Item(ctx, itemID)
	if err != nil {
		return HistoryView{}, err
	}
	entries, err := s.deps.Recorder.ForItem(ctx, itemID, history.Window(days), event)
	if err := nonEmpty(entries, err); err != nil {
		return HistoryView{}, err
	}
	return HistoryView{Title: item.Title, TargetPrice: item.TargetPrice, Entries: entries}, nil
}

// TitleHistory returns detached entries carrying title.
func (s *Service) TitleHistory(ctx context.Context, title string, days int, event string) (HistoryView, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return HistoryView{}, fmt.Errorf("title is required: %w", ErrInvalidInput)
	}
	entries, err := s.deps.Recorder.ForSnapshot(ctx, title, history.Window(days), event)
	if err := nonEmpty(entries, err); err != nil {
		return HistoryView{}, err
	}
	return HistoryView{Title: title, Entries: entries}, nil
}

// nonEmpty reports an empty history listing as not found.
func nonEmpty(entries []tracker.PriceHistoryEntry, err error) error {
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("price history: %w", tracker.ErrNotFound)
	}
	return nil
}

// Titles lists the titles of deleted items that still have history.
func (s *Service) Titles(ctx context.Context) ([]string, error) {
	titles, err := s.deps.Recorder.SnapshotTitles(ctx)
	if err != nil {
		return nil, err
	}
	if titles == nil {
		titles = []string{}
	}
	return titles, nil
}

// Events lists the sale event names.
func (s *Service) Events() []string {
	return s.deps.Calendar.Names()
}

// Compare runs the ad-hoc price check for an item.
func (s *Service) Compare(ctx context.Context, itemID string, price decimal.Decimal, link string) (alert.Comparison, error) {
	if !price.IsPositive() {
		return alert.Comparison{}, fmt.Errorf("price must be greater than zero: %w", ErrInvalidInput)
	}
	if s.deps.Alerts == nil {
		return alert.Comparison{}, errors.New("alerts are not configured")
	}
	item, err := s.Item(ctx, itemID)
	if err != nil {
		return alert.Comparison{}, err
	}
	return s.deps.Alerts.Compare(ctx, item, price, link)
}

func (s *Service) ownedWatchlist(ctx context.Context, userID, watchlistID string) (tracker.Watchlist, error) {
	wl, err := s.deps.Watchlists.GetWatchlist(ctx, watchlistID)
	if err != nil {
		return tracker.Watchlist{}, fmt.Errorf("get watchlist: %w", err)
	}
	if wl.UserID != userID {
		return tracker.Watchlist{}, fmt.Errorf("watchlist %s: %w", watchlistID, tracker.ErrNotFound)
	}
	return wl, nil
}

func validateTarget(target decimal.NullDecimal) error {
	if target.Valid && !target.Decimal.IsPositive() {
		return ErrInvalidTarget
	}
	return nil
}
