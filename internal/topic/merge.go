package topic

import "strings"

// Subscription is one entry of a broker SUBSCRIBE request.
type Subscription struct {
	// Topic is the broker-level topic, including any shared prefix.
	Topic string
	QoS   byte
}

// concreteLevel stands in for a wildcard level when testing whether one
// filter covers another. It never occurs in a valid topic.
const concreteLevel = "\x00"

// Merge reduces the patterns destined for one client connection to the
// filters that must be sent to the broker.
//
// Patterns with the same filter are declared once, first declaration
// wins. Each remaining filter is then compared with the filters kept so
// far that have the same QoS: a kept filter covered by the candidate is
// replaced by it, and a candidate covered by a kept filter is dropped.
// Filters with different QoS are never merged.
//
// Coverage is decided by Covers, which is a heuristic: it turns the
// wildcards of one filter into concrete levels and matches the result
// against the other filter. It can merge "a/#" into "a/+/+", for
// example, so it must only be used to reduce broker traffic. Handlers are
// always matched against their own unmerged patterns.
func Merge(patterns []*Pattern, sharedEnabled bool) []Subscription {
	candidates := make([]Subscription, 0, len(patterns))
	seen := make(map[string]struct{}, len(patterns))
	for _, p := range patterns {
		if _, dup := seen[p.filter]; dup {
			continue
		}
		seen[p.filter] = struct{}{}
		candidates = append(candidates, Subscription{
			Topic: p.SubscribeTopic(sharedEnabled),
			QoS:   p.template.QoS,
		})
	}

	kept := make([]Subscription, 0, len(candidates))
	for _, c := range candidates {
		covered := false
		for i, k := range kept {
			if k.QoS != c.QoS {
				continue
			}
			if Covers(c.Topic, k.Topic) {
				kept[i] = c
				continue
			}
			if Covers(k.Topic, c.Topic) {
				covered = true
				break
			}
		}
		if !covered {
			kept = append(kept, c)
		}
	}

	out := kept[:0]
	emitted := make(map[string]struct{}, len(kept))
	for _, s := range kept {
		if _, dup := emitted[s.Topic]; dup {
			continue
		}
		emitted[s.Topic] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Covers reports whether general matches the concrete form of specific,
// with "+" levels of specific replaced by a placeholder level and "#"
// replaced by two placeholder levels.
func Covers(general, specific string) bool {
	concrete := strings.ReplaceAll(specific, singleLevelText, concreteLevel)
	concrete = strings.ReplaceAll(concrete, multiLevelText, concreteLevel+"/"+concreteLevel)
	return Matches(general, concrete)
}

// Filters converts subs into a topic to QoS map, the shape taken by a
// multi-filter SUBSCRIBE.
func Filters(subs []Subscription) map[string]byte {
	out := make(map[string]byte, len(subs))
	for _, s := range subs {
		out[s.Topic] = s.QoS
	}
	return out
}
