// Package alert decides when a price observation warrants a notification
// and hands the message to a mail transport.
package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/metrics"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// Subject is the mail subject of every price alert.
const Subject = "Price Alert: Below Target Price!"

var errNoRecipient = errors.New("owner has no email address")

// Decision reports what the engine did for one observation.
type Decision struct {
	Fired bool   `json:"fired"`
	Sent  bool   `json:"sent"`
	Error string `json:"error,omitempty"`
}

// Comparison is the ad-hoc price-drop report.
type Comparison struct {
	Previous    decimal.NullDecimal `json:"previous"`
	Current     decimal.Decimal     `json:"current"`
	DropPercent decimal.NullDecimal `json:"drop_percent"`
	BelowTarget bool                `json:"below_target"`
	Decision    Decision            `json:"decision"`
}

// Engine evaluates alert rules.
type Engine struct {
	notifier tracker.Notifier
	users    tracker.UserStore
	history  tracker.HistoryStore
	logger   *zap.Logger
}

// NewEngine constructs an Engine. history is only needed for Compare.
func NewEngine(notifier tracker.Notifier, users tracker.UserStore, history tracker.HistoryStore, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{notifier: notifier, users: users, history: history, logger: logger}
}

// ShouldFire is the production rule: both prices known and price < target.
func ShouldFire(target, price decimal.NullDecimal) bool {
	return target.Valid && price.Valid && price.Decimal.LessThan(target.Decimal)
}

// Evaluate applies the production rule for a freshly recorded price and
// delivers the alert when it fires. Delivery failures are logged and
// reported in the Decision, never returned.
func (e *Engine) Evaluate(ctx context.Context, item tracker.TrackedItem, price decimal.NullDecimal, link string) Decision {
	if !ShouldFire(item.TargetPrice, price) {
		e.logger.Debug("no alert, price not below target",
			zap.String("item_id", item.ID),
			zap.Stringer("price", price.Decimal),
			zap.Stringer("target", item.TargetPrice.Decimal),
		)
		return Decision{}
	}
	return e.deliver(ctx, item, price.Decimal, link)
}

// Compare is the interactive mode: report the drop against the previous
// entry and fire only if current is also below the target.
func (e *Engine) Compare(ctx context.Context, item tracker.TrackedItem, current decimal.Decimal, link string) (Comparison, error) {
	out := Comparison{Current: current}
	if e.history != nil {
		prev, err := e.history.RecentEntries(ctx, item.ID, 1)
		if err != nil {
			return Comparison{}, fmt.Errorf("load previous entry: %w", err)
		}
		if len(prev) > 0 && prev[0].PriceNumeric.Valid {
			out.Previous = prev[0].PriceNumeric
			out.DropPercent = DropPercent(prev[0].PriceNumeric.Decimal, current)
		}
	}
	out.BelowTarget = ShouldFire(item.TargetPrice, decimal.NewNullDecimal(current))
	if out.BelowTarget {
		out.Decision = e.deliver(ctx, item, current, link)
	}
	return out, nil
}

// DropPercent returns (previous-current)/previous*100 rounded to two
// places; a zero previous price has no defined drop.
func DropPercent(previous, current decimal.Decimal) decimal.NullDecimal {
	if previous.IsZero() {
		return decimal.NullDecimal{}
	}
	pct := previous.Sub(current).Div(previous).Mul(decimal.NewFromInt(100)).Round(2)
	return decimal.NewNullDecimal(pct)
}

// Message composes the alert body.
func Message(title string, target, current decimal.Decimal, link string) string {
	return fmt.Sprintf("%s has dropped below your target price!\n\nTarget Price: $%s\nCurrent Price: $%s\n\nLink: %s",
		title, target.StringFixed(2), current.StringFixed(2), link)
}

func (e *Engine) deliver(ctx context.Context, item tracker.TrackedItem, price decimal.Decimal, link string) Decision {
	d := Decision{Fired: true}
	logger := e.logger.With(zap.String("item_id", item.ID), zap.String("user_id", item.UserID))

	user, err := e.users.GetUser(ctx, item.UserID)
	if err == nil && user.Email == "" {
		err = errNoRecipient
	}
	if err != nil {
		logger.Warn("alert recipient lookup failed", zap.Error(err))
		metrics.ObserveAlert("recipient_error")
		d.Error = err.Error()
		return d
	}

	body := Message(item.Title, item.TargetPrice.Decimal, price, link)
	if err := e.notifier.Notify(ctx, Subject, body, []string{user.Email}); err != nil {
		logger.Warn("alert delivery failed", zap.Error(err))
		metrics.ObserveAlert("delivery_error")
		d.Error = err.Error()
		return d
	}
	logger.Info("price alert sent",
		zap.String("recipient", user.Email),
		zap.String("price", price.StringFixed(2)),
		zap.String("target", item.TargetPrice.Decimal.StringFixed(2)),
	)
	metrics.ObserveAlert("sent")
	d.Sent = true
	return d
}
