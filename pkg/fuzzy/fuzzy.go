// Package fuzzy matches a free-text item name against the names already in the
// expense sheet.
//
// A candidate matches when it is similar enough to the query (sequence
// similarity ratio at or above a threshold, best N only) or when it contains the
// query as a case-insensitive substring. The two stages are independent and
// their results are unioned.
package fuzzy

import (
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// DefaultThreshold is the minimum similarity ratio for the similarity stage.
const DefaultThreshold = 0.6

// Default caps on the number of similarity-stage results.
const (
	SearchLimit = 5
	DeleteLimit = 10
)

// Matcher composes the similarity and substring stages.
type Matcher struct {
	// Threshold is the minimum ratio in [0, 1]. Zero means DefaultThreshold.
	Threshold float64
	// Limit caps the similarity stage. Zero means SearchLimit.
	Limit int
}

// Match returns the union of Similar and Substring, deduplicated, similarity
// results first.
func (m Matcher) Match(query string, candidates []string) []string {
	threshold := m.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	limit := m.Limit
	if limit <= 0 {
		limit = SearchLimit
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(names []string) {
		for _, n := range names {
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}

	add(CloseMatches(query, candidates, limit, threshold))
	add(Substring(query, candidates))
	return out
}

// Substring returns every candidate containing the trimmed, lower-cased query.
func Substring(query string, candidates []string) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	var out []string
	for _, c := range candidates {
		if strings.Contains(strings.ToLower(c), q) {
			out = append(out, c)
		}
	}
	return out
}

type scored struct {
	score float64
	name  string
}

// CloseMatches returns up to n candidates whose Ratio against word is at least
// cutoff, best first. Equal scores are ordered by descending candidate text.
// Duplicate candidates are scored, and returned, once per occurrence.
func CloseMatches(word string, candidates []string, n int, cutoff float64) []string {
	if n <= 0 || cutoff < 0 || cutoff > 1 {
		return nil
	}

	// word stays the second sequence so its index is built once.
	m := difflib.NewMatcher(nil, runes(word))

	var results []scored
	for _, c := range candidates {
		m.SetSeq1(runes(c))
		if m.RealQuickRatio() < cutoff || m.QuickRatio() < cutoff {
			continue
		}
		if score := m.Ratio(); score >= cutoff {
			results = append(results, scored{score: score, name: c})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].name > results[j].name
	})
	if len(results) > n {
		results = results[:n]
	}

	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.name
	}
	return out
}

// Ratio returns the similarity of a and b as 2*M/T, where T is the total
// number of runes and M the number of runes in matching blocks. Identical
// strings score 1, strings with nothing in common 0.
func Ratio(a, b string) float64 {
	return difflib.NewMatcher(runes(a), runes(b)).Ratio()
}

// runes splits s into one element per rune.
func runes(s string) []string {
	return strings.Split(s, "")
}
