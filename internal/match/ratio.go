// Package match scores scraped listings against a tracked item's title.
package match

import "strings"

// PartialRatio returns the best similarity (0..100) between the shorter
// string and any equally long window of the longer one, including the
// windows that hang off either end. Similarity is the normalized
// insert/delete distance: 100 * 2*LCS / (len(a)+len(b)). Strings of equal
// length are scored in both directions and the higher score wins.
func PartialRatio(a, b string) float64 {
	s1, s2 := []rune(a), []rune(b)
	if len(s1) == 0 || len(s2) == 0 {
		return 0
	}
	if len(s1) > len(s2) {
		s1, s2 = s2, s1
	}
	best := partial(s1, s2)
	if len(s1) == len(s2) && best < 100 {
		best = max(best, partial(s2, s1))
	}
	return best
}

// partial slides s1 over s2; len(s1) <= len(s2).
func partial(s1, s2 []rune) float64 {
	if strings.Contains(string(s2), string(s1)) {
		return 100
	}

	m, n := len(s1), len(s2)
	best := 0.0
	consider := func(window []rune) bool {
		if score := ratio(s1, window); score > best {
			best = score
		}
		return best == 100
	}
	for k := 1; k < m; k++ {
		if consider(s2[:k]) {
			return best
		}
	}
	for i := 0; i+m <= n; i++ {
		if consider(s2[i : i+m]) {
			return best
		}
	}
	for k := m - 1; k >= 1; k-- {
		if consider(s2[n-k:]) {
			return best
		}
	}
	return best
}

func ratio(a, b []rune) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 100
	}
	return 100 * float64(2*lcs(a, b)) / float64(total)
}

func lcs(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
