package match

import (
	"strings"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// DefaultThreshold is the minimum score a match needs to be usable.
const DefaultThreshold = 75.0

// Scorer compares two lower-cased titles and returns a score in [0,100].
type Scorer func(a, b string) float64

// Result is the best-scoring listing for a title.
type Result struct {
	Listing tracker.RawListing
	Index   int
	Score   float64
}

// Matcher picks the best listing for a tracked title.
type Matcher struct {
	scorer    Scorer
	threshold float64
}

// New returns a Matcher. A nil scorer selects PartialRatio; a non-positive
// threshold selects DefaultThreshold.
func New(scorer Scorer, threshold float64) *Matcher {
	if scorer == nil {
		scorer = PartialRatio
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Matcher{scorer: scorer, threshold: threshold}
}

// Threshold returns the minimum usable score.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Best scans listings in order and keeps the first one with the highest
// score. ok is false when there are no listings.
func (m *Matcher) Best(title string, listings []tracker.RawListing) (Result, bool) {
	if len(listings) == 0 {
		return Result{}, false
	}
	target := strings.ToLower(title)
	best := Result{Index: -1, Score: -1}
	for i, l := range listings {
		score := 0.0
		if l.Title != "" {
			score = m.scorer(target, strings.ToLower(l.Title))
		}
		if score > best.Score {
			best = Result{Listing: l, Index: i, Score: score}
		}
	}
	return best, true
}

// Usable reports whether a result meets the threshold.
func (m *Matcher) Usable(r Result) bool {
	return r.Score >= m.threshold
}
