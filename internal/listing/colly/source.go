// Package collysource implements a plain-HTTP listing source with colly for
// storefronts and mirrors that serve result pages without a browser.
package collysource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/listing"
	"github.com/JakeFAU/pricewatch/internal/policy/ratelimit"
	"github.com/JakeFAU/pricewatch/internal/policy/retry"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// Config controls collector behavior.
type Config struct {
	BaseURL           string
	UserAgent         string
	Timeout           time.Duration
	FetchAvailability bool
	// Retry governs transient failures. The zero value means retry.Default().
	Retry retry.Policy
}

// Source implements tracker.ListingSource using colly.
type Source struct {
	cfg           Config
	base          *url.URL
	limiter       *ratelimit.Limiter
	logger        *zap.Logger
	baseCollector *colly.Collector
}

var _ tracker.ListingSource = (*Source)(nil)

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Source.
func New(cfg Config, limiter *ratelimit.Limiter, logger *zap.Logger) (*Source, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.Config{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	c.AllowURLRevisit = true

	return &Source{
		cfg:           cfg,
		base:          base,
		limiter:       limiter,
		logger:        logger.Named("colly"),
		baseCollector: c,
	}, nil
}

// Search reads up to maxPages result pages for query. A challenge page
// fails the search with listing.ErrChallenge; this source cannot solve one.
func (s *Source) Search(ctx context.Context, query string, maxPages int) ([]tracker.RawListing, error) {
	first, err := s.fetch(ctx, listing.SearchURL(s.base, query))
	if err != nil {
		return nil, err
	}
	if len(listing.ParseResults(first, s.base)) == 0 {
		if html, herr := first.Html(); herr == nil && listing.IsScriptShell(html) {
			return nil, fmt.Errorf("search %q: %w", query, listing.ErrNeedsBrowser)
		}
	}
	listings, err := listing.Collect(ctx, first, maxPages, s.base, s.fetch, s.logger)
	if err != nil {
		return listings, err
	}
	if s.cfg.FetchAvailability {
		listing.Enrich(ctx, listings, s.fetch, s.logger)
	}
	return listings, nil
}

func (s *Source) fetch(ctx context.Context, pageURL string) (*goquery.Document, error) {
	var doc *goquery.Document
	err := s.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		var err error
		doc, err = s.fetchOnce(ctx, pageURL)
		if err != nil && !errors.Is(err, listing.ErrChallenge) {
			s.logger.Debug("fetch failed", zap.String("url", pageURL), zap.Error(err))
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Source) fetchOnce(ctx context.Context, pageURL string) (*goquery.Document, error) {
	if err := s.limiter.Wait(ctx, pageURL); err != nil {
		return nil, retry.Permanent(err)
	}

	var (
		body     []byte
		fetchErr error
	)
	collector := s.buildCollector()
	s.configureCollectorHooks(collector, &body, &fetchErr)
	if err := runCollector(ctx, collector, pageURL, &fetchErr); err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("parse %s: %w", pageURL, err))
	}
	if listing.IsChallenge(doc) {
		return nil, retry.Permanent(fmt.Errorf("%s: %w", pageURL, listing.ErrChallenge))
	}
	return doc, nil
}

func (s *Source) buildCollector() *colly.Collector {
	collector := s.baseCollector.Clone()
	collector.AllowURLRevisit = true
	if s.cfg.UserAgent != "" {
		collector.UserAgent = s.cfg.UserAgent
	}
	collector.SetRequestTimeout(s.cfg.Timeout)
	return collector
}

func (s *Source) configureCollectorHooks(hooks collectorHooks, body *[]byte, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.5")
	})
	hooks.OnResponse(func(r *colly.Response) {
		*body = append([]byte(nil), r.Body...)
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && clientError(r.StatusCode) {
			err = retry.Permanent(err)
		}
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, pageURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(pageURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

// clientError reports 4xx statuses other than 429, which retrying won't fix.
func clientError(status int) bool {
	return status >= 400 && status < 500 && status != http.StatusTooManyRequests
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
