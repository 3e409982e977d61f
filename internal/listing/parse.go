package listing

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/pricewatch/internal/pricing"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// Page selectors.
const (
	resultCardSelector   = `div.s-main-slot div[data-component-type="s-search-result"]`
	priceSelector        = "span.a-price span.a-offscreen"
	ratingSelector       = "span.a-icon-alt"
	reviewsSelector      = "span.a-size-base.s-underline-text"
	linkSelector         = "a.a-link-normal"
	nextPageSelector     = "a.s-pagination-next"
	availabilitySelector = "#availability"
	inStockSelector      = "span.a-size-medium.a-color-success"
	warningSelector      = "span.a-size-base.a-color-price.a-text-bold"
	challengeSelector    = "div.a-section > div.a-box > div.a-box-inner"
	challengeInput       = "input#captchacharacters"

	sponsoredPrefix = "Sponsored Ad -"
)

// Availability texts used when a detail page says nothing usable.
const (
	AvailabilityUnknown      = "Unknown"
	AvailabilityNotAvailable = "Not available"
)

// ParseResults extracts every result card on a search page. Relative links
// are resolved against base.
func ParseResults(doc *goquery.Document, base *url.URL) []tracker.RawListing {
	var out []tracker.RawListing
	doc.Find(resultCardSelector).Each(func(_ int, card *goquery.Selection) {
		out = append(out, parseCard(card, base))
	})
	return out
}

func parseCard(card *goquery.Selection, base *url.URL) tracker.RawListing {
	l := tracker.RawListing{
		Title:        cardTitle(card),
		Availability: AvailabilityUnknown,
	}

	l.PriceText = strings.TrimSpace(card.Find(priceSelector).First().Text())
	if l.PriceText != "" {
		l.Price = pricing.Normalize(l.PriceText)
	}

	if fields := strings.Fields(card.Find(ratingSelector).First().Text()); len(fields) > 0 {
		if v, err := strconv.ParseFloat(fields[0], 64); err == nil {
			l.Rating = &v
		}
	}

	reviews := strings.ReplaceAll(strings.TrimSpace(card.Find(reviewsSelector).First().Text()), ",", "")
	if v, err := strconv.Atoi(reviews); err == nil {
		l.Reviews = &v
	}

	if href, ok := card.Find(linkSelector).First().Attr("href"); ok {
		l.Link = resolve(base, href)
	}
	return l
}

func cardTitle(card *goquery.Selection) string {
	h2 := card.Find("h2").First()
	if h2.Length() == 0 {
		return ""
	}
	title, _ := h2.Attr("aria-label")
	if strings.TrimSpace(title) == "" {
		spans := h2.Find("span")
		switch {
		case spans.Length() > 1:
			title = spans.Eq(1).Text()
		case spans.Length() == 1:
			title = spans.Eq(0).Text()
		default:
			title = h2.Text()
		}
	}
	title = strings.TrimSpace(title)
	if strings.HasPrefix(title, sponsoredPrefix) {
		title = strings.TrimSpace(strings.TrimPrefix(title, sponsoredPrefix))
	}
	return title
}

// NextPage returns the absolute URL of the next result page, if any.
func NextPage(doc *goquery.Document, base *url.URL) (string, bool) {
	href, ok := doc.Find(nextPageSelector).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return "", false
	}
	return resolve(base, href), true
}

// ParseAvailability reads a product detail page.
func ParseAvailability(doc *goquery.Document) string {
	box := doc.Find(availabilitySelector).First()
	if box.Length() == 0 {
		return AvailabilityUnknown
	}
	if text := strings.TrimSpace(box.Find(inStockSelector).First().Text()); text != "" {
		return text
	}
	if text := strings.TrimSpace(box.Find(warningSelector).First().Text()); text != "" {
		return text
	}
	return AvailabilityNotAvailable
}

// IsChallenge reports whether the document is a bot-challenge page.
func IsChallenge(doc *goquery.Document) bool {
	return doc.Find(challengeSelector).Length() > 0 && doc.Find(challengeInput).Length() > 0
}

// SearchURL builds the result-page URL for query.
func SearchURL(base *url.URL, query string) string {
	u := base.ResolveReference(&url.URL{Path: "/s"})
	u.RawQuery = url.Values{"k": []string{query}}.Encode()
	return u.String()
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
