package report

import "strings"

// Match is the outcome of a successful pattern lookup.
type Match struct {
	Pattern    Pattern
	Impression string
}

// MatchFinding selects the best pattern for a corrected finding.
//
// patterns must be the insertion-ordered list for a single (study type,
// category) pair. A pattern matches when its text appears in the finding,
// case-insensitively. Among matching patterns the longest text wins; equal
// lengths resolve to the most recently added. The second return is false
// when nothing matched; that is a normal outcome, not an error.
//
// The matcher never touches persistence. Recording an UnmatchedFinding on a
// miss is the caller's job.
func MatchFinding(patterns []Pattern, finding string) (Match, bool, error) {
	needle := strings.ToLower(strings.TrimSpace(finding))
	if needle == "" {
		return Match{}, false, NewInvalidInput("finding text is empty")
	}

	best := -1
	bestLen := 0
	for i, p := range patterns {
		text := strings.ToLower(strings.TrimSpace(p.PatternText))
		if text == "" || !strings.Contains(needle, text) {
			continue
		}
		// >= keeps the later of two equal-length matches.
		if len(text) >= bestLen {
			best = i
			bestLen = len(text)
		}
	}
	if best < 0 {
		return Match{}, false, nil
	}
	return Match{Pattern: patterns[best], Impression: patterns[best].ImpressionText}, true, nil
}
