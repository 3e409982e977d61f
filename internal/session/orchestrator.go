// Package session drives tracked items from a listing search to a recorded
// price and an alert decision.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/alert"
	"github.com/JakeFAU/pricewatch/internal/history"
	"github.com/JakeFAU/pricewatch/internal/match"
	"github.com/JakeFAU/pricewatch/internal/metrics"
	"github.com/JakeFAU/pricewatch/internal/pricing"
	"github.com/JakeFAU/pricewatch/internal/sale"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// Batch triggers.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
	TriggerSingle    = "single"
)

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Source   tracker.ListingSource
	Matcher  *match.Matcher
	Recorder *history.Recorder
	Alerts   *alert.Engine
	Items    tracker.ItemStore
	Calendar *sale.Calendar
	Clock    tracker.Clock
	IDs      tracker.IDGenerator
	Logger   *zap.Logger
}

// Orchestrator runs scrape sessions. Items in a batch are processed one at
// a time; a failure is confined to its item's result.
type Orchestrator struct {
	source   tracker.ListingSource
	matcher  *match.Matcher
	recorder *history.Recorder
	alerts   *alert.Engine
	items    tracker.ItemStore
	calendar *sale.Calendar
	clock    tracker.Clock
	ids      tracker.IDGenerator
	depth    int
	logger   *zap.Logger
	tracer   trace.Tracer
}

// New validates the search depth and builds an Orchestrator.
func New(deps Deps, depth int) (*Orchestrator, error) {
	d, err := tracker.ValidateDepth(depth)
	if err != nil {
		return nil, err
	}
	if deps.Source == nil || deps.Matcher == nil || deps.Recorder == nil || deps.Alerts == nil {
		return nil, errors.New("session: source, matcher, recorder and alert engine are required")
	}
	if deps.Items == nil || deps.Calendar == nil || deps.Clock == nil || deps.IDs == nil {
		return nil, errors.New("session: item store, calendar, clock and id generator are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		source:   deps.Source,
		matcher:  deps.Matcher,
		recorder: deps.Recorder,
		alerts:   deps.Alerts,
		items:    deps.Items,
		calendar: deps.Calendar,
		clock:    deps.Clock,
		ids:      deps.IDs,
		depth:    d,
		logger:   logger.Named("session"),
		tracer:   otel.Tracer("github.com/JakeFAU/pricewatch/internal/session"),
	}, nil
}

// Depth returns the configured page depth.
func (o *Orchestrator) Depth() int {
	return o.depth
}

// ActiveEvent names the sale event running now, or "".
func (o *Orchestrator) ActiveEvent() string {
	return o.calendar.ActiveName(o.clock.Now())
}

// RunBatch scrapes items in order, tagging entries with event. Once ctx is
// done the remaining items are reported as skipped; the item in flight
// finishes its write first.
func (o *Orchestrator) RunBatch(ctx context.Context, items []tracker.TrackedItem, event, trigger string) tracker.BatchReport {
	runID, err := o.ids.NewID()
	if err != nil {
		runID = fmt.Sprintf("run-%d", o.clock.Now().UnixNano())
	}
	ctx, span := o.tracer.Start(ctx, "session.RunBatch", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("trigger", trigger),
		attribute.String("event", event),
		attribute.Int("items", len(items)),
	))
	defer span.End()

	report := tracker.BatchReport{
		RunID:     runID,
		Trigger:   trigger,
		EventName: event,
		StartedAt: o.clock.Now(),
		Results:   make([]tracker.ItemResult, 0, len(items)),
	}
	logger := o.logger.With(zap.String("run_id", runID), zap.String("trigger", trigger))
	logger.Info("batch started", zap.Int("items", len(items)), zap.String("event", event))

	start := time.Now()
	for _, item := range items {
		if ctx.Err() != nil {
			res := skipped(item, tracker.ReasonCanceled)
			metrics.ObserveItem(string(res.Outcome), res.Reason)
			report.Results = append(report.Results, res)
			continue
		}
		report.Results = append(report.Results, o.ScrapeItem(ctx, item, event))
	}
	report.FinishedAt = o.clock.Now()
	metrics.ObserveBatch(trigger, time.Since(start))

	c := report.Counters()
	span.SetAttributes(
		attribute.Int("recorded", c.Recorded),
		attribute.Int("skipped", c.Skipped),
		attribute.Int("failed", c.Failed),
	)
	logger.Info("batch finished",
		zap.Int("recorded", c.Recorded),
		zap.Int("skipped", c.Skipped),
		zap.Int("failed", c.Failed),
		zap.Int("alerts_sent", c.AlertsSent),
	)
	return report
}

// RunManual runs a batch for an explicit item set, tagging entries with the
// sale event active today.
func (o *Orchestrator) RunManual(ctx context.Context, items []tracker.TrackedItem) tracker.BatchReport {
	return o.RunBatch(ctx, items, o.ActiveEvent(), TriggerManual)
}

// ScrapeItem runs one session: search, match, record, alert.
func (o *Orchestrator) ScrapeItem(ctx context.Context, item tracker.TrackedItem, event string) tracker.ItemResult {
	ctx, span := o.tracer.Start(ctx, "session.ScrapeItem", trace.WithAttributes(
		attribute.String("item_id", item.ID),
		attribute.String("title", item.Title),
	))
	defer span.End()

	res := o.scrape(ctx, item, event)
	metrics.ObserveItem(string(res.Outcome), res.Reason)
	span.SetAttributes(attribute.String("outcome", string(res.Outcome)), attribute.String("reason", res.Reason))
	if res.Outcome == tracker.OutcomeFailed {
		span.SetStatus(codes.Error, res.Error)
	}
	return res
}

func (o *Orchestrator) scrape(ctx context.Context, item tracker.TrackedItem, event string) tracker.ItemResult {
	logger := o.logger.With(zap.String("item_id", item.ID), zap.String("title", item.Title))

	listings, err := o.source.Search(ctx, item.Title, o.depth)
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("item skipped, shutting down", zap.Error(err))
			return skipped(item, tracker.ReasonCanceled)
		}
		logger.Warn("listing search failed", zap.Error(err))
		return failed(item, tracker.ReasonSourceError, err)
	}
	if len(listings) == 0 {
		logger.Info("item skipped", zap.String("reason", tracker.ReasonNoListings))
		return skipped(item, tracker.ReasonNoListings)
	}

	best, ok := o.matcher.Best(item.Title, listings)
	if !ok {
		logger.Info("item skipped", zap.String("reason", tracker.ReasonNoMatch))
		return skipped(item, tracker.ReasonNoMatch)
	}
	if !o.matcher.Usable(best) {
		logger.Info("item skipped",
			zap.String("reason", tracker.ReasonLowScore),
			zap.String("best_title", best.Listing.Title),
			zap.Float64("score", best.Score),
			zap.Float64("threshold", o.matcher.Threshold()),
		)
		res := skipped(item, tracker.ReasonLowScore)
		res.MatchTitle = best.Listing.Title
		res.Score = best.Score
		return res
	}

	price := pricing.Normalize(best.Listing.PriceText)
	if !price.Valid && best.Listing.Price.Valid {
		price = best.Listing.Price
	}

	// The write and what follows it must not be torn by shutdown.
	writeCtx := context.WithoutCancel(ctx)
	entry, err := o.recorder.Record(writeCtx, item, history.Observation{
		Price:        price,
		Availability: best.Listing.Availability,
		EventName:    event,
	})
	if err != nil {
		logger.Warn("history write failed", zap.Error(err))
		res := failed(item, tracker.ReasonStoreError, err)
		res.MatchTitle = best.Listing.Title
		res.Score = best.Score
		return res
	}

	updated := applyObservation(item, best.Listing, entry)
	if err := o.items.SaveItem(writeCtx, updated); err != nil {
		logger.Warn("item update failed after history write", zap.Error(err))
	}

	decision := o.alerts.Evaluate(writeCtx, updated, entry.PriceNumeric, best.Listing.Link)
	logger.Info("price recorded",
		zap.String("entry_id", entry.ID),
		zap.String("price", pricing.Format(entry.PriceNumeric)),
		zap.String("match", best.Listing.Title),
		zap.Float64("score", best.Score),
		zap.String("event", event),
		zap.Bool("alert_sent", decision.Sent),
	)
	return tracker.ItemResult{
		ItemID:     item.ID,
		Title:      item.Title,
		Outcome:    tracker.OutcomeRecorded,
		MatchTitle: best.Listing.Title,
		Score:      best.Score,
		Price:      entry.PriceNumeric,
		EntryID:    entry.ID,
		AlertFired: decision.Fired,
		AlertSent:  decision.Sent,
		Error:      decision.Error,
	}
}

func applyObservation(item tracker.TrackedItem, l tracker.RawListing, entry tracker.PriceHistoryEntry) tracker.TrackedItem {
	if entry.PriceNumeric.Valid {
		item.Price = entry.PriceNumeric
	}
	if l.Rating != nil {
		item.Rating = l.Rating
	}
	if l.Reviews != nil {
		item.Reviews = l.Reviews
	}
	item.Availability = entry.Availability
	item.LastScraped = entry.RecordedAt
	return item
}

func skipped(item tracker.TrackedItem, reason string) tracker.ItemResult {
	return tracker.ItemResult{ItemID: item.ID, Title: item.Title, Outcome: tracker.OutcomeSkipped, Reason: reason}
}

func failed(item tracker.TrackedItem, reason string, err error) tracker.ItemResult {
	return tracker.ItemResult{
		ItemID:  item.ID,
		Title:   item.Title,
		Outcome: tracker.OutcomeFailed,
		Reason:  reason,
		Error:   err.Error(),
	}
}
