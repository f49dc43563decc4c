package topic

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	separator       = '/'
	singleLevel     = '+'
	multiLevel      = '#'
	systemPrefix    = '$'
	singleLevelText = "+"
	multiLevelText  = "#"
)

// Matches reports whether topic is matched by the MQTT topic filter.
//
// Semantics follow MQTT 3.1.1 section 4.7:
//   - "+" matches exactly one level (which may be empty)
//   - "#" matches the parent level and any number of child levels
//   - topics starting with "$" are not matched by a filter whose first
//     level is a wildcard
func Matches(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}

	if topic[0] == systemPrefix && (filter[0] == singleLevel || filter[0] == multiLevel) {
		return false
	}

	fi, ti := 0, 0
	for {
		fEnd := levelEnd(filter, fi)
		fLevel := filter[fi:fEnd]

		if fLevel == multiLevelText {
			return true
		}

		tEnd := levelEnd(topic, ti)
		tLevel := topic[ti:tEnd]

		if fLevel != singleLevelText && fLevel != tLevel {
			return false
		}

		fDone := fEnd == len(filter)
		tDone := tEnd == len(topic)

		switch {
		case fDone && tDone:
			return true
		case fDone:
			return false
		case tDone:
			// "a/#" also matches "a".
			return filter[fEnd+1:] == multiLevelText
		}

		fi, ti = fEnd+1, tEnd+1
	}
}

// levelEnd returns the index of the next separator at or after start, or
// len(s) when there is none.
func levelEnd(s string, start int) int {
	if i := strings.IndexByte(s[start:], separator); i >= 0 {
		return start + i
	}
	return len(s)
}

// ValidateFilter checks that filter is a well-formed MQTT topic filter.
func ValidateFilter(filter string) error {
	if filter == "" {
		return ErrEmptyTopic
	}
	if !utf8.ValidString(filter) || strings.ContainsRune(filter, 0) {
		return fmt.Errorf("%w: %q is not valid UTF-8 text", ErrInvalidFilter, filter)
	}

	levels := strings.Split(filter, string(separator))
	for i, level := range levels {
		if strings.ContainsRune(level, singleLevel) && level != singleLevelText {
			return fmt.Errorf("%w: %q: '+' must occupy an entire level", ErrInvalidFilter, filter)
		}
		if strings.ContainsRune(level, multiLevel) {
			if level != multiLevelText {
				return fmt.Errorf("%w: %q: '#' must occupy an entire level", ErrInvalidFilter, filter)
			}
			if i != len(levels)-1 {
				return fmt.Errorf("%w: %q: '#' must be the last level", ErrInvalidFilter, filter)
			}
		}
	}

	return nil
}

// ValidateTopic checks that name is a publishable topic name: non-empty,
// valid UTF-8 and free of wildcards.
func ValidateTopic(name string) error {
	if name == "" {
		return ErrEmptyTopic
	}
	if !utf8.ValidString(name) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q is not valid UTF-8 text", ErrInvalidTopic, name)
	}
	if IsWildcard(name) {
		return fmt.Errorf("%w: %q contains a wildcard", ErrInvalidTopic, name)
	}
	return nil
}

// IsWildcard reports whether filter contains a "+" or "#" wildcard.
func IsWildcard(filter string) bool {
	return strings.ContainsAny(filter, "+#")
}
