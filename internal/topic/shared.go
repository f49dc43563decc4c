package topic

import (
	"fmt"
	"strings"
)

// Shared-subscription prefixes.
const (
	SharePrefix = "$share/"
	QueuePrefix = "$queue/"
)

// SharedTopic returns the broker-level topic for filter. When shared is
// false the filter is returned unchanged; otherwise it is prefixed with
// "$share/<group>/" or, for an empty group, "$queue/".
func SharedTopic(filter, group string, shared bool) string {
	if !shared {
		return filter
	}
	if group != "" {
		return SharePrefix + group + "/" + filter
	}
	return QueuePrefix + filter
}

// SubscribeTopic returns the topic to send in SUBSCRIBE for this pattern.
// Shared delivery applies only when the pattern requested it and the
// owning client has shared subscriptions enabled.
func (p *Pattern) SubscribeTopic(sharedEnabled bool) string {
	return SharedTopic(p.filter, p.template.Group, sharedEnabled && p.template.Shared)
}

// SplitShared removes a "$share/<group>/" or "$queue/" prefix from a
// declared topic. A topic without either prefix is returned unchanged
// with shared set to false.
func SplitShared(declared string) (filter, group string, shared bool, err error) {
	switch {
	case strings.HasPrefix(declared, SharePrefix):
		rest := declared[len(SharePrefix):]
		idx := strings.IndexByte(rest, separator)
		if idx <= 0 || idx == len(rest)-1 {
			return "", "", false, fmt.Errorf("%w: %q: expected $share/<group>/<topic>", ErrInvalidFilter, declared)
		}
		group = rest[:idx]
		if strings.ContainsAny(group, "+#") {
			return "", "", false, fmt.Errorf("%w: %q: group cannot contain wildcards", ErrInvalidFilter, declared)
		}
		return rest[idx+1:], group, true, nil

	case strings.HasPrefix(declared, QueuePrefix):
		rest := declared[len(QueuePrefix):]
		if rest == "" {
			return "", "", false, fmt.Errorf("%w: %q: expected $queue/<topic>", ErrInvalidFilter, declared)
		}
		return rest, "", true, nil
	}

	return declared, "", false, nil
}
