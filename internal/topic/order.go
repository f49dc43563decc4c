package topic

import "slices"

// SortBySpecificity orders patterns in place so that the pattern with the
// most placeholders comes first and plain filters come last. Patterns with
// the same key keep their declaration order.
func SortBySpecificity(patterns []*Pattern) {
	slices.SortStableFunc(patterns, func(a, b *Pattern) int {
		return a.Specificity() - b.Specificity()
	})
}

// FirstMatch returns the first pattern in patterns that matches topic,
// together with the captured placeholder values. patterns is expected to be
// sorted with SortBySpecificity.
func FirstMatch(patterns []*Pattern, topic string) (*Pattern, map[string]string, bool) {
	for _, p := range patterns {
		if vars, ok := p.MatchVars(topic); ok {
			return p, vars, true
		}
	}
	return nil, nil, false
}
