package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/catalog"
	"github.com/JakeFAU/pricewatch/internal/scheduler"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

type userRequest struct {
	Email           string `json:"email"`
	ScrapingEnabled *bool  `json:"scraping_enabled"`
}

type searchRequest struct {
	Query string `json:"query"`
	Depth int    `json:"depth"`
}

type trackRequest struct {
	Index       *int                `json:"index"`
	TargetPrice decimal.NullDecimal `json:"target_price"`
	WatchlistID string              `json:"watchlist_id"`
}

type targetRequest struct {
	TargetPrice decimal.NullDecimal `json:"target_price"`
}

type compareRequest struct {
	Price decimal.Decimal `json:"price"`
	Link  string          `json:"link"`
}

type watchlistRequest struct {
	Name string `json:"name"`
}

type watchlistItemsRequest struct {
	ItemIDs []string `json:"item_ids"`
}

type scrapingRequest struct {
	Enabled *bool `json:"enabled"`
}

type runRequest struct {
	ItemIDs []string `json:"item_ids"`
}

func (s *Server) saveUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	user := tracker.User{ID: chi.URLParam(r, "user_id"), Email: req.Email, ScrapingEnabled: true}
	if req.ScrapingEnabled != nil {
		user.ScrapingEnabled = *req.ScrapingEnabled
	}
	saved, err := s.catalog.SaveUser(r.Context(), user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.catalog.User(r.Context(), chi.URLParam(r, "user_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	depth := req.Depth
	if depth == 0 {
		depth = s.cfg.Scrape.DefaultDepth
	}
	if s.cfg.Scrape.MaxDepth > 0 && depth > s.cfg.Scrape.MaxDepth {
		s.fail(w, r, tracker.ErrInvalidDepth)
		return
	}
	listings, err := s.catalog.Search(r.Context(), chi.URLParam(r, "user_id"), req.Query, depth)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": listings})
}

func (s *Server) results(w http.ResponseWriter, r *http.Request) {
	listings, err := s.catalog.Results(r.Context(), chi.URLParam(r, "user_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": listings})
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.catalog.Items(r.Context(), chi.URLParam(r, "user_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) trackItem(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Index == nil {
		s.fail(w, r, fmt.Errorf("index is required: %w", catalog.ErrInvalidInput))
		return
	}
	item, err := s.catalog.Track(r.Context(), catalog.TrackRequest{
		UserID:      chi.URLParam(r, "user_id"),
		Index:       *req.Index,
		TargetPrice: req.TargetPrice,
		WatchlistID: req.WatchlistID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) createWatchlist(w http.ResponseWriter, r *http.Request) {
	var req watchlistRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	wl, err := s.catalog.CreateWatchlist(r.Context(), chi.URLParam(r, "user_id"), req.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wl)
}

func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.catalog.Item(r.Context(), chi.URLParam(r, "item_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) deleteItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "item_id")
	detached, err := s.catalog.DeleteItem(r.Context(), itemID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item_id": itemID, "history_kept": detached})
}

func (s *Server) setTarget(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	item, err := s.catalog.SetTarget(r.Context(), chi.URLParam(r, "item_id"), req.TargetPrice)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) scrapeItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.catalog.Item(r.Context(), chi.URLParam(r, "item_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	result := s.runner.ScrapeItem(r.Context(), item, s.runner.ActiveEvent())
	status := http.StatusOK
	if result.Outcome == tracker.OutcomeFailed {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}

func (s *Server) compare(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	cmp, err := s.catalog.Compare(r.Context(), chi.URLParam(r, "item_id"), req.Price, req.Link)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

func (s *Server) itemHistory(w http.ResponseWriter, r *http.Request) {
	days, err := daysParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	view, err := s.catalog.ItemHistory(r.Context(), chi.URLParam(r, "item_id"), days, r.URL.Query().Get("event"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) snapshotHistory(w http.ResponseWriter, r *http.Request) {
	title := strings.TrimSpace(r.URL.Query().Get("title"))
	if title == "" {
		s.fail(w, r, fmt.Errorf("title is required: %w", catalog.ErrInvalidInput))
		return
	}
	days, err := daysParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	view, err := s.catalog.TitleHistory(r.Context(), title, days, r.URL.Query().Get("event"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) historyTitles(w http.ResponseWriter, r *http.Request) {
	titles, err := s.catalog.Titles(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"titles": titles})
}

func (s *Server) saleEvents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"events": s.catalog.Events()})
}

func (s *Server) addToWatchlist(w http.ResponseWriter, r *http.Request) {
	var req watchlistItemsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	wl, err := s.catalog.AddToWatchlist(r.Context(), chi.URLParam(r, "watchlist_id"), req.ItemIDs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wl)
}

func (s *Server) setWatchlistScraping(w http.ResponseWriter, r *http.Request) {
	var req scrapingRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Enabled == nil {
		s.fail(w, r, fmt.Errorf("enabled is required: %w", catalog.ErrInvalidInput))
		return
	}
	wl, err := s.catalog.SetWatchlistScraping(r.Context(), chi.URLParam(r, "watchlist_id"), *req.Enabled)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wl)
}

// startRun scrapes the listed items, or the full planned batch when none
// are given. Either way the request blocks until the batch finishes.
func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if s.batches != nil && s.batches.IsRunning() {
		s.fail(w, r, scheduler.ErrBusy)
		return
	}

	var report tracker.BatchReport
	if len(req.ItemIDs) == 0 {
		if s.batches == nil {
			s.fail(w, r, fmt.Errorf("item_ids are required when the scheduler is disabled: %w", catalog.ErrInvalidInput))
			return
		}
		var err error
		report, err = s.batches.RunNow(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
	} else {
		items, err := s.catalog.LookupItems(r.Context(), req.ItemIDs)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		report = s.runner.RunManual(r.Context(), items)
	}

	s.logger.Info("manual run finished",
		zap.String("run_id", report.RunID),
		zap.Int("items", len(report.Results)),
	)
	writeJSON(w, http.StatusOK, map[string]any{"report": report, "counters": report.Counters()})
}

func daysParam(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("days"))
	if raw == "" {
		return 0, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("days must be an integer: %w", catalog.ErrInvalidInput)
	}
	return days, nil
}
