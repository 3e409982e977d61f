package listing

import (
	"strings"
)

// shellLengthThreshold bounds the page size under which dense scripting
// alone marks a page as a shell.
const shellLengthThreshold = 2048

var spaMarkers = []string{
	"__next",
	`id="root"`,
	`id="app"`,
	"data-reactroot",
}

// IsScriptShell reports whether html looks like a client-rendered shell: an
// empty body, a known SPA mount point, or a small page dominated by script.
func IsScriptShell(html string) bool {
	if strings.TrimSpace(html) == "" {
		return true
	}
	if len(html) < shellLengthThreshold && scriptDensityHigh(html) {
		return true
	}
	for _, marker := range spaMarkers {
		if strings.Contains(html, marker) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether script elements cover at least a
// quarter of the document.
func scriptDensityHigh(html string) bool {
	lower := strings.ToLower(html)
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Unterminated tag; the rest of the document is script.
			coverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		next := total
		if end := strings.Index(lower[contentStart:], closeTag); end != -1 {
			next = contentStart + end + len(closeTag)
		}
		coverage += next - start
		pos = next
	}
	return coverage*100/total >= 25
}
