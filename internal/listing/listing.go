// Package listing holds the retailer-facing pieces shared by the listing
// sources: result-page parsing, pagination, availability lookups and bot
// challenge resolution.
package listing

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// Errors returned by listing sources.
var (
	// ErrChallenge means the retailer answered with a bot challenge the
	// source cannot resolve.
	ErrChallenge = errors.New("bot challenge encountered")
	// ErrUnsolved is returned by a Solver that has no answer.
	ErrUnsolved = errors.New("challenge not solved")
	// ErrNeedsBrowser means a plain HTTP fetch got a script-rendered shell
	// instead of result markup.
	ErrNeedsBrowser = errors.New("results page needs a browser to render")
)

// PageFetcher loads and parses one page.
type PageFetcher func(ctx context.Context, pageURL string) (*goquery.Document, error)

// Collect parses first and follows next-page links through fetch until
// maxPages pages were read or there is no next page. A failure on a later
// page ends pagination but keeps what was already parsed.
func Collect(
	ctx context.Context,
	first *goquery.Document,
	maxPages int,
	base *url.URL,
	fetch PageFetcher,
	logger *zap.Logger,
) ([]tracker.RawListing, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxPages < 1 {
		maxPages = 1
	}

	doc := first
	var out []tracker.RawListing
	for page := 1; ; page++ {
		out = append(out, ParseResults(doc, base)...)
		if page >= maxPages {
			break
		}
		next, ok := NextPage(doc, base)
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			return out, fmt.Errorf("collect results: %w", err)
		}
		nextDoc, err := fetch(ctx, next)
		if err != nil {
			if ctx.Err() != nil {
				return out, fmt.Errorf("collect results: %w", ctx.Err())
			}
			logger.Warn("result page failed, stopping pagination",
				zap.Int("page", page+1),
				zap.String("url", next),
				zap.Error(err),
			)
			break
		}
		doc = nextDoc
	}
	return out, nil
}

// Enrich fills availability from each listing's detail page. Listings
// without a link, or whose page fails to load, keep their current value.
func Enrich(ctx context.Context, listings []tracker.RawListing, fetch PageFetcher, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for i := range listings {
		if listings[i].Link == "" {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		doc, err := fetch(ctx, listings[i].Link)
		if err != nil {
			logger.Debug("availability lookup failed",
				zap.String("link", listings[i].Link),
				zap.Error(err),
			)
			continue
		}
		listings[i].Availability = ParseAvailability(doc)
	}
}
