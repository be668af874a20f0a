package pipeline

import (
	"strings"

	"phishdetect/internal/netident"
)

// OrientationRule skips a candidate whose URL mentions a direction keyword
// that its registered domain does not. Generic directional-icon pages keep
// surfacing as reverse-search hits for unrelated sites; a domain that itself
// carries the keyword is assumed to be legitimately about it.
type OrientationRule struct {
	URLKeyword    string
	DomainKeyword string
}

// CandidateFilter is the declarative skip-list applied to every candidate
// before the expensive render/compare step.
type CandidateFilter struct {
	Denylist    []string // lowercased URL substrings of known false-positive sources
	Orientation []OrientationRule
}

// DefaultFilter carries the dictionary/encyclopedia mirrors and the
// directional-icon pairs that have historically produced false positives.
// The vertical rule deliberately checks the domain for "horizontal": it
// reproduces the tuned production behavior for directional-icon matches.
func DefaultFilter() *CandidateFilter {
	return &CandidateFilter{
		Denylist: []string{
			"www.mijnwoordenboek.nl/puzzelwoordenboek/dot/1",
			"amsterdamvertical",
			"dotgroningen",
			"britannica",
			"en.wikipedia.org/wiki/language",
		},
		Orientation: []OrientationRule{
			{URLKeyword: "horizontal", DomainKeyword: "horizontal"},
			{URLKeyword: "vertical", DomainKeyword: "horizontal"},
		},
	}
}

// Skip reports whether a candidate URL should be excluded from image
// comparison.
func (f *CandidateFilter) Skip(candidate string) bool {
	if candidate == "" {
		return true
	}
	lower := strings.ToLower(candidate)
	for _, entry := range f.Denylist {
		if strings.Contains(lower, entry) {
			return true
		}
	}
	for _, rule := range f.Orientation {
		if strings.Contains(lower, rule.URLKeyword) &&
			!strings.Contains(netident.RegisteredDomain(candidate), rule.DomainKeyword) {
			return true
		}
	}
	return false
}
