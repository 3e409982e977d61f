package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/alert"
	"github.com/JakeFAU/pricewatch/internal/catalog"
	"github.com/JakeFAU/pricewatch/internal/config"
	"github.com/JakeFAU/pricewatch/internal/history"
	"github.com/JakeFAU/pricewatch/internal/resultcache"
	"github.com/JakeFAU/pricewatch/internal/sale"
	"github.com/JakeFAU/pricewatch/internal/scheduler"
	"github.com/JakeFAU/pricewatch/internal/storage/memory"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

type stubSource struct {
	listings []tracker.RawListing
}

func (s stubSource) Search(context.Context, string, int) ([]tracker.RawListing, error) {
	return s.listings, nil
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, string, []string) error { return nil }

type fakeRunner struct {
	mu      sync.Mutex
	scraped []string
	manual  [][]string
	result  tracker.ItemResult
}

func (f *fakeRunner) ScrapeItem(_ context.Context, item tracker.TrackedItem, _ string) tracker.ItemResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scraped = append(f.scraped, item.ID)
	res := f.result
	res.ItemID = item.ID
	return res
}

func (f *fakeRunner) RunManual(_ context.Context, items []tracker.TrackedItem) tracker.BatchReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(items))
	results := make([]tracker.ItemResult, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
		results = append(results, tracker.ItemResult{ItemID: it.ID, Outcome: tracker.OutcomeRecorded})
	}
	f.manual = append(f.manual, ids)
	return tracker.BatchReport{RunID: "run-manual", Trigger: "manual", Results: results}
}

func (f *fakeRunner) ActiveEvent() string { return "" }

type fakeBatches struct {
	running bool
	report  tracker.BatchReport
	err     error
	calls   int
}

func (f *fakeBatches) RunNow(context.Context) (tracker.BatchReport, error) {
	f.calls++
	return f.report, f.err
}

func (f *fakeBatches) IsRunning() bool { return f.running }

type harness struct {
	server  *Server
	store   *memory.Store
	runner  *fakeRunner
	batches *fakeBatches
	rec     *history.Recorder
}

func newHarness(t *testing.T, cfg config.Config, checks ...ReadinessCheck) harness {
	t.Helper()
	clock := fixedClock{now: time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	ids := &seqIDs{}
	rec := history.NewRecorder(store, ids, clock, zap.NewNop())
	require.NoError(t, store.SaveUser(context.Background(), tracker.User{ID: "u1", Email: "u1@example.com", ScrapingEnabled: true}))
	svc, err := catalog.New(catalog.Deps{
		Source: stubSource{listings: []tracker.RawListing{
			{Title: "Widget X Pro", PriceText: "$75.00", Availability: "In Stock"},
		}},
		Cache:      resultcache.New(resultcache.DefaultTTL, clock),
		Items:      store,
		Watchlists: store,
		Users:      store,
		Recorder:   rec,
		Alerts:     alert.NewEngine(nopNotifier{}, store, store, zap.NewNop()),
		Calendar:   sale.Default(),
		Clock:      clock,
		IDs:        ids,
	})
	require.NoError(t, err)
	runner := &fakeRunner{result: tracker.ItemResult{Outcome: tracker.OutcomeRecorded, AlertSent: true}}
	batches := &fakeBatches{report: tracker.BatchReport{RunID: "run-plan", Trigger: "manual"}}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	cfg.Scrape.DefaultDepth = 3
	cfg.Scrape.MaxDepth = 10
	return harness{
		server:  NewServer(svc, runner, batches, cfg, zap.NewNop(), checks...),
		store:   store,
		runner:  runner,
		batches: batches,
		rec:     rec,
	}
}

func (h harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthReadyAndMetrics(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{})
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/readyz", nil).Code)

	rec := h.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyzReportsFailingCheck(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{}, func(context.Context) error { return errors.New("db down") })
	rec := h.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPIKeyRequired(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}})

	rec := h.do(t, http.MethodGet, "/v1/users/u1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/users/u1", nil)
	req.Header.Set("X-API-Key", "secret")
	ok := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(ok, req)
	assert.Equal(t, http.StatusOK, ok.Code)

	probe := h.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, probe.Code, "probes stay open")
}

func TestSearchTrackAndDuplicate(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{})

	bad := h.do(t, http.MethodPost, "/v1/users/u1/search", map[string]any{"query": "widget", "depth": 11})
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	rec := h.do(t, http.MethodPost, "/v1/users/u1/search", map[string]any{"query": "widget"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	results := decode[map[string][]tracker.RawListing](t, rec)["results"]
	require.Len(t, results, 1)

	cached := h.do(t, http.MethodGet, "/v1/users/u1/results", nil)
	assert.Len(t, decode[map[string][]tracker.RawListing](t, cached)["results"], 1)

	missing := h.do(t, http.MethodPost, "/v1/users/u1/items", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, missing.Code)

	outOfRange := h.do(t, http.MethodPost, "/v1/users/u1/items", map[string]any{"index": 4})
	assert.Equal(t, http.StatusBadRequest, outOfRange.Code)

	created := h.do(t, http.MethodPost, "/v1/users/u1/items", map[string]any{"index": 0, "target_price": "80"})
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	item := decode[tracker.TrackedItem](t, created)
	assert.Equal(t, "Widget X Pro", item.Title)
	assert.True(t, item.Price.Decimal.Equal(decimal.RequireFromString("75")))
	assert.True(t, item.TargetPrice.Decimal.Equal(decimal.RequireFromString("80")))

	dup := h.do(t, http.MethodPost, "/v1/users/u1/items", map[string]any{"index": 0})
	assert.Equal(t, http.StatusConflict, dup.Code)

	list := h.do(t, http.MethodGet, "/v1/users/u1/items", nil)
	assert.Len(t, decode[map[string][]tracker.TrackedItem](t, list)["items"], 1)
}

func TestTargetScrapeAndDelete(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{})
	ctx := context.Background()
	item := tracker.TrackedItem{ID: "item-1", UserID: "u1", Title: "Widget X"}
	require.NoError(t, h.store.SaveItem(ctx, item))

	neg := h.do(t, http.MethodPut, "/v1/items/item-1/target", map[string]any{"target_price": "-3"})
	assert.Equal(t, http.StatusBadRequest, neg.Code)

	set := h.do(t, http.MethodPut, "/v1/items/item-1/target", map[string]any{"target_price": "50"})
	require.Equal(t, http.StatusOK, set.Code)
	assert.True(t, decode[tracker.TrackedItem](t, set).TargetPrice.Valid)

	scrape := h.do(t, http.MethodPost, "/v1/items/item-1/scrape", nil)
	require.Equal(t, http.StatusOK, scrape.Code)
	result := decode[tracker.ItemResult](t, scrape)
	assert.True(t, result.AlertSent)
	assert.Equal(t, []string{"item-1"}, h.runner.scraped)

	unknown := h.do(t, http.MethodPost, "/v1/items/nope/scrape", nil)
	assert.Equal(t, http.StatusNotFound, unknown.Code)

	_, err := h.rec.Record(ctx, item, history.Observation{Price: decimal.NewNullDecimal(decimal.RequireFromString("70"))})
	require.NoError(t, err)

	del := h.do(t, http.MethodDelete, "/v1/items/item-1", nil)
	require.Equal(t, http.StatusOK, del.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, del)["history_kept"])

	gone := h.do(t, http.MethodGet, "/v1/items/item-1", nil)
	assert.Equal(t, http.StatusNotFound, gone.Code)

	titles := h.do(t, http.MethodGet, "/v1/history/titles", nil)
	assert.Equal(t, []string{"Widget X"}, decode[map[string][]string](t, titles)["titles"])

	snap := h.do(t, http.MethodGet, "/v1/history/snapshot?title=Widget%20X", nil)
	require.Equal(t, http.StatusOK, snap.Code)
	assert.Len(t, decode[catalog.HistoryView](t, snap).Entries, 1)

	noTitle := h.do(t, http.MethodGet, "/v1/history/snapshot", nil)
	assert.Equal(t, http.StatusBadRequest, noTitle.Code)
}

func TestItemHistoryParams(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{})
	ctx := context.Background()
	item := tracker.TrackedItem{ID: "item-1", UserID: "u1", Title: "Widget X"}
	require.NoError(t, h.store.SaveItem(ctx, item))

	empty := h.do(t, http.MethodGet, "/v1/items/item-1/history", nil)
	assert.Equal(t, http.StatusNotFound, empty.Code)

	_, err := h.rec.Record(ctx, item, history.Observation{
		Price:     decimal.NewNullDecimal(decimal.RequireFromString("70")),
		EventName: "Prime Day",
	})
	require.NoError(t, err)

	bad := h.do(t, http.MethodGet, "/v1/items/item-1/history?days=abc", nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	ok := h.do(t, http.MethodGet, "/v1/items/item-1/history?days=7&event=prime%20day", nil)
	require.Equal(t, http.StatusOK, ok.Code, ok.Body.String())
	view := decode[catalog.HistoryView](t, ok)
	assert.Equal(t, "Widget X", view.Title)
	require.Len(t, view.Entries, 1)

	other := h.do(t, http.MethodGet, "/v1/items/item-1/history?event=Black%20Friday", nil)
	assert.Equal(t, http.StatusNotFound, other.Code)
}

func TestCompareEndpoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{})
	ctx := context.Background()
	item := tracker.TrackedItem{ID: "item-1", UserID: "u1", Title: "Widget X"}
	require.NoError(t, h.store.SaveItem(ctx, item))
	_, err := h.rec.Record(ctx, item, history.Observation{Price: decimal.NewNullDecimal(decimal.RequireFromString("100"))})
	require.NoError(t, err)

	zero := h.do(t, http.MethodPost, "/v1/items/item-1/compare", map[string]any{"price": "0"})
	assert.Equal(t, http.StatusBadRequest, zero.Code)

	rec := h.do(t, http.MethodPost, "/v1/items/item-1/compare", map[string]any{"price": "75"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cmp := decode[alert.Comparison](t, rec)
	require.True(t, cmp.DropPercent.Valid)
	assert.True(t, cmp.DropPercent.Decimal.Equal(decimal.NewFromInt(25)))
}

func TestWatchlistEndpoints(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{})
	ctx := context.Background()
	require.NoError(t, h.store.SaveItem(ctx, tracker.TrackedItem{ID: "item-1", UserID: "u1", Title: "A"}))
	require.NoError(t, h.store.SaveItem(ctx, tracker.TrackedItem{ID: "item-2", UserID: "u2", Title: "B"}))

	created := h.do(t, http.MethodPost, "/v1/users/u1/watchlists", map[string]any{"name": "Daily"})
	require.Equal(t, http.StatusCreated, created.Code)
	wl := decode[tracker.Watchlist](t, created)
	assert.True(t, wl.ScrapingEnabled)

	added := h.do(t, http.MethodPost, "/v1/watchlists/"+wl.ID+"/items", map[string]any{"item_ids": []string{"item-1", "item-1"}})
	require.Equal(t, http.StatusOK, added.Code)
	assert.Equal(t, []string{"item-1"}, decode[tracker.Watchlist](t, added).ItemIDs)

	foreign := h.do(t, http.MethodPost, "/v1/watchlists/"+wl.ID+"/items", map[string]any{"item_ids": []string{"item-2"}})
	assert.Equal(t, http.StatusNotFound, foreign.Code)

	missing := h.do(t, http.MethodPut, "/v1/watchlists/"+wl.ID+"/scraping", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, missing.Code)

	off := h.do(t, http.MethodPut, "/v1/watchlists/"+wl.ID+"/scraping", map[string]any{"enabled": false})
	require.Equal(t, http.StatusOK, off.Code)
	assert.False(t, decode[tracker.Watchlist](t, off).ScrapingEnabled)
}

func TestUsersAndSaleEvents(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{})
	saved := h.do(t, http.MethodPut, "/v1/users/u9", map[string]any{"email": "u9@example.com", "scraping_enabled": false})
	require.Equal(t, http.StatusOK, saved.Code)
	user := decode[tracker.User](t, h.do(t, http.MethodGet, "/v1/users/u9", nil))
	assert.Equal(t, "u9@example.com", user.Email)
	assert.False(t, user.ScrapingEnabled)

	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/v1/users/ghost", nil).Code)

	events := decode[map[string][]string](t, h.do(t, http.MethodGet, "/v1/sale-events", nil))["events"]
	assert.NotEmpty(t, events)
	assert.IsIncreasing(t, events)
}

func TestRunsEndpoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{})
	require.NoError(t, h.store.SaveItem(context.Background(), tracker.TrackedItem{ID: "item-1", UserID: "u1", Title: "A"}))

	subset := h.do(t, http.MethodPost, "/v1/runs", map[string]any{"item_ids": []string{"item-1"}})
	require.Equal(t, http.StatusOK, subset.Code)
	assert.Equal(t, [][]string{{"item-1"}}, h.runner.manual)

	unknown := h.do(t, http.MethodPost, "/v1/runs", map[string]any{"item_ids": []string{"nope"}})
	assert.Equal(t, http.StatusNotFound, unknown.Code)

	planned := h.do(t, http.MethodPost, "/v1/runs", nil)
	require.Equal(t, http.StatusOK, planned.Code)
	assert.Equal(t, 1, h.batches.calls)
	body := decode[map[string]json.RawMessage](t, planned)
	assert.Contains(t, string(body["report"]), "run-plan")

	h.batches.running = true
	busy := h.do(t, http.MethodPost, "/v1/runs", nil)
	assert.Equal(t, http.StatusConflict, busy.Code)

	h.batches.running = false
	h.batches.err = scheduler.ErrBusy
	raced := h.do(t, http.MethodPost, "/v1/runs", nil)
	assert.Equal(t, http.StatusConflict, raced.Code)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	cases := map[error]int{
		fmt.Errorf("wrap: %w", tracker.ErrNotFound):   http.StatusNotFound,
		tracker.ErrDuplicateTitle:                     http.StatusConflict,
		tracker.ErrInvalidDepth:                       http.StatusBadRequest,
		catalog.ErrInvalidTarget:                      http.StatusBadRequest,
		fmt.Errorf("x: %w", context.DeadlineExceeded): http.StatusGatewayTimeout,
		errors.New("boom"):                            http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(err), err.Error())
	}
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	handler := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

func TestResponseWriterHijackAndFlush(t *testing.T) {
	t.Parallel()

	inner := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw := &responseWriter{ResponseWriter: inner, status: http.StatusOK}
	_, _, err := rw.Hijack()
	require.NoError(t, err)
	assert.True(t, inner.hijacked)
	rw.Flush()
	assert.True(t, inner.Flushed)

	plain := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err = plain.Hijack()
	require.Error(t, err)
}
