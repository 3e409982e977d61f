package tracker

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcome classifies how a single item fared in a batch.
type Outcome string

// Item outcomes reported in a BatchReport.
const (
	OutcomeRecorded Outcome = "recorded"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// Skip reasons.
const (
	ReasonNoListings  = "no_listings"
	ReasonNoMatch     = "no_match"
	ReasonLowScore    = "below_threshold"
	ReasonUpToDate    = "up_to_date"
	ReasonCanceled    = "canceled"
	ReasonSourceError = "listing_source_error"
	ReasonStoreError  = "persistence_error"
)

// ItemResult is the per-item result value of a scrape session.
type ItemResult struct {
	ItemID     string              `json:"item_id"`
	Title      string              `json:"title"`
	Outcome    Outcome             `json:"outcome"`
	Reason     string              `json:"reason,omitempty"`
	Error      string              `json:"error,omitempty"`
	MatchTitle string              `json:"match_title,omitempty"`
	Score      float64             `json:"score,omitempty"`
	Price      decimal.NullDecimal `json:"price"`
	EntryID    string              `json:"entry_id,omitempty"`
	AlertFired bool                `json:"alert_fired"`
	AlertSent  bool                `json:"alert_sent"`
}

// OK reports whether a history entry was written.
func (r ItemResult) OK() bool {
	return r.Outcome == OutcomeRecorded
}

// BatchReport collects the item results of one batch run.
type BatchReport struct {
	RunID      string       `json:"run_id"`
	Trigger    string       `json:"trigger"`
	EventName  string       `json:"event_name,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Results    []ItemResult `json:"results"`
}

// BatchCounters summarizes a BatchReport.
type BatchCounters struct {
	Recorded   int `json:"recorded"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
	AlertsSent int `json:"alerts_sent"`
}

// Counters tallies the results by outcome.
func (b BatchReport) Counters() BatchCounters {
	var c BatchCounters
	for _, r := range b.Results {
		switch r.Outcome {
		case OutcomeRecorded:
			c.Recorded++
		case OutcomeSkipped:
			c.Skipped++
		case OutcomeFailed:
			c.Failed++
		}
		if r.AlertSent {
			c.AlertsSent++
		}
	}
	return c
}
