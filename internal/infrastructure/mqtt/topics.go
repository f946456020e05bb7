package mqtt

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Topic syntax constants.
const (
	// maxTopicLength is the MQTT limit on the UTF-8 encoded topic length.
	maxTopicLength = 65535

	// sharedPrefix introduces a shared subscription: $share/<group>/<filter>.
	sharedPrefix = "$share/"

	topicSeparator      = "/"
	singleLevelWildcard = "+"
	multiLevelWildcard  = "#"
)

// ValidateTopicName checks a topic used for publishing.
//
// A topic name must be non-empty valid UTF-8 without NUL characters and
// must not contain wildcards.
//
// Returns:
//   - error: wraps ErrInvalidTopic, or nil if valid
func ValidateTopicName(topic string) error {
	if err := checkTopicString(topic); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTopic, err)
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: %q contains a wildcard", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidateTopicFilter checks a subscription filter.
//
// Rules:
//   - "#" may only appear as the whole last level ("a/#", "#")
//   - "+" must occupy a whole level ("a/+/c", "+")
//   - "$share/<group>/<filter>" requires a non-empty group without
//     wildcards and a valid inner filter
//
// Returns:
//   - error: wraps ErrInvalidTopicFilter, or nil if valid
func ValidateTopicFilter(filter string) error {
	if err := checkTopicString(filter); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTopicFilter, err)
	}

	inner := filter
	if strings.HasPrefix(filter, sharedPrefix) {
		group, rest, ok := strings.Cut(strings.TrimPrefix(filter, sharedPrefix), topicSeparator)
		if !ok || group == "" || rest == "" {
			return fmt.Errorf("%w: %q: shared subscription needs $share/<group>/<filter>", ErrInvalidTopicFilter, filter)
		}
		if strings.ContainsAny(group, "+#") {
			return fmt.Errorf("%w: %q: share group cannot contain wildcards", ErrInvalidTopicFilter, filter)
		}
		inner = rest
	}

	levels := strings.Split(inner, topicSeparator)
	for i, level := range levels {
		switch {
		case level == multiLevelWildcard:
			if i != len(levels)-1 {
				return fmt.Errorf("%w: %q: '#' must be the last level", ErrInvalidTopicFilter, filter)
			}
		case level == singleLevelWildcard:
		case strings.ContainsAny(level, "+#"):
			return fmt.Errorf("%w: %q: wildcards must occupy a whole level", ErrInvalidTopicFilter, filter)
		}
	}
	return nil
}

func checkTopicString(s string) error {
	switch {
	case s == "":
		return fmt.Errorf("topic cannot be empty")
	case len(s) > maxTopicLength:
		return fmt.Errorf("topic length %d exceeds %d bytes", len(s), maxTopicLength)
	case !utf8.ValidString(s):
		return fmt.Errorf("topic is not valid UTF-8")
	case strings.ContainsRune(s, 0):
		return fmt.Errorf("topic contains NUL")
	}
	return nil
}

// MatchTopic reports whether a published topic matches a subscription filter.
//
// "+" matches exactly one level and "#" matches the parent level and any
// number of children. Topics starting with "$" are never matched by a
// filter whose first level is a wildcard. For shared subscriptions the
// inner filter is matched.
func MatchTopic(filter, topic string) bool {
	if strings.HasPrefix(filter, sharedPrefix) {
		_, inner, ok := strings.Cut(strings.TrimPrefix(filter, sharedPrefix), topicSeparator)
		if !ok {
			return false
		}
		filter = inner
	}

	if filter == topic {
		return true
	}

	filterLevels := strings.Split(filter, topicSeparator)
	topicLevels := strings.Split(topic, topicSeparator)

	if strings.HasPrefix(topic, "$") && (filterLevels[0] == singleLevelWildcard || filterLevels[0] == multiLevelWildcard) {
		return false
	}

	for i, fl := range filterLevels {
		if fl == multiLevelWildcard {
			return true
		}
		if i >= len(topicLevels) {
			return false
		}
		if fl != singleLevelWildcard && fl != topicLevels[i] {
			return false
		}
	}

	return len(filterLevels) == len(topicLevels)
}
