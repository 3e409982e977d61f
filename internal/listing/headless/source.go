// Package headless implements the interactive listing source on a real
// Chrome instance driven by chromedp. A browser session can stop on a bot
// challenge and wait for an operator, so searches run one at a time.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/listing"
	"github.com/JakeFAU/pricewatch/internal/policy/ratelimit"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

const (
	defaultNavigationTimeout = 30 * time.Second
	defaultSettleDelay       = 2 * time.Second

	searchBoxSelector   = `input[name="field-keywords"]`
	resultsSelector     = "div.s-main-slot"
	captchaImage        = "div.a-row.a-text-center img"
	captchaInput        = "input#captchacharacters"
	captchaSubmit       = "button[type='submit']"
	captchaRefreshXPath = `//a[contains(., 'Try different image')]`
	challengeVisibleJS  = `(() => {
  const box = document.querySelector("div.a-section > div.a-box > div.a-box-inner");
  return !!box && box.offsetParent !== null && !!document.querySelector("input#captchacharacters");
})()`
)

// Config controls the browser session.
type Config struct {
	BaseURL           string
	UserAgent         string
	NavigationTimeout time.Duration
	// ShowBrowser runs Chrome with a window so an operator can solve
	// challenges by hand.
	ShowBrowser       bool
	FetchAvailability bool
	SettleDelay       time.Duration
	Challenge         listing.ChallengePolicy
}

// Source implements tracker.ListingSource with chromedp.
type Source struct {
	cfg         Config
	base        *url.URL
	limiter     *ratelimit.Limiter
	solver      listing.Solver
	logger      *zap.Logger
	mu          sync.Mutex
	allocator   context.Context
	allocCancel context.CancelFunc
}

var _ tracker.ListingSource = (*Source)(nil)

// New prepares a browser allocator. Chrome starts on the first search.
func New(cfg Config, limiter *ratelimit.Limiter, solver listing.Solver, logger *zap.Logger) (*Source, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if solver == nil {
		return nil, fmt.Errorf("challenge solver is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.Config{})
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	} else if cfg.SettleDelay == 0 {
		cfg.SettleDelay = defaultSettleDelay
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("lang", "en-US"),
	)
	if cfg.ShowBrowser {
		opts = append(opts, chromedp.Flag("headless", false))
	} else {
		opts = append(opts, chromedp.Flag("headless", "new"))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Source{
		cfg:         cfg,
		base:        base,
		limiter:     limiter,
		solver:      solver,
		logger:      logger.Named("headless"),
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts the browser down.
func (s *Source) Close() {
	s.allocCancel()
}

// Search opens the storefront, clears any challenge, submits query and
// reads up to maxPages result pages.
func (s *Source) Search(ctx context.Context, query string, maxPages int) ([]tracker.RawListing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}

	taskCtx, cancel := chromedp.NewContext(s.allocator)
	// chromedp's cancel blocks on a second call before the browser is
	// allocated, and both the defer and AfterFunc may fire.
	taskCancel := sync.OnceFunc(cancel)
	defer taskCancel()
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	page := &browserPage{ctx: taskCtx, timeout: s.cfg.NavigationTimeout}
	if err := s.open(ctx, page, s.base.String()); err != nil {
		return nil, err
	}
	outcome, err := listing.ResolveChallenge(ctx, page, s.solver, s.cfg.Challenge, s.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", listing.ErrChallenge, err)
	}
	if outcome.Seen {
		s.logger.Info("challenge cleared", zap.Int("attempts", outcome.Attempts), zap.Bool("manual", outcome.Manual))
	}

	if err := page.run(
		chromedp.WaitVisible(searchBoxSelector, chromedp.ByQuery),
		chromedp.SendKeys(searchBoxSelector, query+kb.Enter, chromedp.ByQuery),
		chromedp.WaitReady(resultsSelector, chromedp.ByQuery),
		chromedp.Sleep(s.cfg.SettleDelay),
	); err != nil {
		return nil, fmt.Errorf("submit search: %w", err)
	}
	first, err := page.document()
	if err != nil {
		return nil, err
	}

	fetch := func(ctx context.Context, pageURL string) (*goquery.Document, error) {
		if err := s.open(ctx, page, pageURL); err != nil {
			return nil, err
		}
		if err := page.run(chromedp.WaitReady(resultsSelector, chromedp.ByQuery), chromedp.Sleep(s.cfg.SettleDelay)); err != nil {
			return nil, fmt.Errorf("wait for results: %w", err)
		}
		return page.document()
	}
	listings, err := listing.Collect(ctx, first, maxPages, s.base, fetch, s.logger)
	if err != nil {
		return listings, err
	}
	if s.cfg.FetchAvailability {
		listing.Enrich(ctx, listings, s.detailFetcher(taskCtx), s.logger)
	}
	s.logger.Info("search finished", zap.String("query", query), zap.Int("listings", len(listings)))
	return listings, nil
}

// detailFetcher loads product pages in a separate tab so the result page
// stays where it is.
func (s *Source) detailFetcher(taskCtx context.Context) listing.PageFetcher {
	return func(ctx context.Context, pageURL string) (*goquery.Document, error) {
		tabCtx, cancel := chromedp.NewContext(taskCtx)
		defer cancel()
		tab := &browserPage{ctx: tabCtx, timeout: s.cfg.NavigationTimeout}
		if err := s.open(ctx, tab, pageURL); err != nil {
			return nil, err
		}
		return tab.document()
	}
}

func (s *Source) open(ctx context.Context, page *browserPage, pageURL string) error {
	if err := s.limiter.Wait(ctx, pageURL); err != nil {
		return err
	}
	err := page.run(
		networkSetupAction(s.cfg.UserAgent, defaultHeaders()),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", pageURL, err)
	}
	return nil
}

// browserPage is one chromedp tab. Every call gets its own navigation
// timeout; ctx cancellation reaches it through the tab context.
type browserPage struct {
	ctx     context.Context
	timeout time.Duration
}

func (p *browserPage) run(actions ...chromedp.Action) error {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()
	if err := chromedp.Run(ctx, actions...); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func (p *browserPage) document() (*goquery.Document, error) {
	var html string
	if err := p.run(chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	return doc, nil
}

func (p *browserPage) ChallengeVisible(context.Context) (bool, error) {
	var visible bool
	if err := p.run(chromedp.Evaluate(challengeVisibleJS, &visible)); err != nil {
		return false, err
	}
	return visible, nil
}

func (p *browserPage) CaptureChallenge(context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(chromedp.Screenshot(captchaImage, &buf, chromedp.NodeVisible, chromedp.ByQuery)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *browserPage) SubmitAnswer(_ context.Context, answer string) error {
	return p.run(
		chromedp.SetValue(captchaInput, "", chromedp.ByQuery),
		chromedp.SendKeys(captchaInput, strings.TrimSpace(answer), chromedp.ByQuery),
		chromedp.Click(captchaSubmit, chromedp.ByQuery),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (p *browserPage) RefreshChallenge(context.Context) error {
	return p.run(
		chromedp.Click(captchaRefreshXPath, chromedp.BySearch),
		chromedp.Sleep(2*time.Second),
	)
}

func networkSetupAction(userAgent string, headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if userAgent != "" {
			if err := emulation.SetUserAgentOverride(userAgent).WithAcceptLanguage("en-US").Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func defaultHeaders() http.Header {
	return http.Header{
		"Accept":                    {"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
		"Accept-Language":           {"en-US,en;q=0.5"},
		"Dnt":                       {"1"},
		"Upgrade-Insecure-Requests": {"1"},
	}
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			headers[key] = values[0]
		default:
			headers[key] = strings.Join(values, ", ")
		}
	}
	return headers
}
