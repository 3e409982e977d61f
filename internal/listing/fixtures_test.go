package listing

import (
	"fmt"
	"strings"
)

type card struct {
	ariaLabel string
	spans     []string
	price     string
	rating    string
	reviews   string
	href      string
}

func resultsPage(next string, cards ...card) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="s-main-slot">`)
	for _, c := range cards {
		b.WriteString(`<div data-component-type="s-search-result">`)
		if c.ariaLabel != "" {
			fmt.Fprintf(&b, `<h2 aria-label=%q>`, c.ariaLabel)
		} else {
			b.WriteString(`<h2>`)
		}
		for _, s := range c.spans {
			fmt.Fprintf(&b, `<span>%s</span>`, s)
		}
		b.WriteString(`</h2>`)
		if c.price != "" {
			fmt.Fprintf(&b, `<span class="a-price"><span class="a-offscreen">%s</span></span>`, c.price)
		}
		if c.rating != "" {
			fmt.Fprintf(&b, `<i><span class="a-icon-alt">%s</span></i>`, c.rating)
		}
		if c.reviews != "" {
			fmt.Fprintf(&b, `<span class="a-size-base s-underline-text">%s</span>`, c.reviews)
		}
		if c.href != "" {
			fmt.Fprintf(&b, `<a class="a-link-normal" href=%q>link</a>`, c.href)
		}
		b.WriteString(`</div>`)
	}
	b.WriteString(`</div>`)
	if next != "" {
		fmt.Fprintf(&b, `<a class="s-pagination-item s-pagination-next" href=%q>Next</a>`, next)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

const challengePage = `<html><body>
<div class="a-section"><div class="a-box"><div class="a-box-inner">
<div class="a-row a-text-center"><img src="/captcha.jpg"></div>
<input id="captchacharacters" name="field-keywords">
<button type="submit">Continue shopping</button>
</div></div></div></body></html>`

func detailPage(inner string) string {
	return `<html><body><div id="availability">` + inner + `</div></body></html>`
}
