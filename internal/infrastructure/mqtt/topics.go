package mqtt

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Topic level separator and wildcards.
const (
	TopicSeparator   = "/"
	SingleLevelWild  = "+"
	MultiLevelWild   = "#"
	maxTopicLength   = 65535
	wildcardCharsSet = SingleLevelWild + MultiLevelWild
)

// SplitTopic breaks a topic into its levels. Empty levels are kept, so
// "a//b" yields ["a", "", "b"] and "/a" yields ["", "a"].
func SplitTopic(topic string) []string {
	return strings.Split(topic, TopicSeparator)
}

// ValidateTopic checks a topic name used for publishing.
func ValidateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic is empty", ErrInvalidTopic)
	}
	if len(topic) > maxTopicLength {
		return fmt.Errorf("%w: topic exceeds %d bytes", ErrInvalidTopic, maxTopicLength)
	}
	if !utf8.ValidString(topic) || strings.ContainsRune(topic, 0) {
		return fmt.Errorf("%w: topic is not valid UTF-8", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, wildcardCharsSet) {
		return fmt.Errorf("%w: %q contains a wildcard", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidateFilter checks a subscription filter: "+" must fill a whole
// level and "#" must be the whole last level.
func ValidateFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("%w: filter is empty", ErrInvalidFilter)
	}
	if len(filter) > maxTopicLength || !utf8.ValidString(filter) {
		return fmt.Errorf("%w: %q", ErrInvalidFilter, filter)
	}

	levels := SplitTopic(filter)
	for i, level := range levels {
		if level == MultiLevelWild {
			if i != len(levels)-1 {
				return fmt.Errorf("%w: %q has # before the last level", ErrInvalidFilter, filter)
			}
			continue
		}
		if level == SingleLevelWild {
			continue
		}
		if strings.ContainsAny(level, wildcardCharsSet) {
			return fmt.Errorf("%w: %q mixes a wildcard into level %q", ErrInvalidFilter, filter, level)
		}
	}
	return nil
}

// MatchTopic reports whether topic matches the subscription filter.
// Topics beginning with "$" are never matched by a leading wildcard.
func MatchTopic(filter, topic string) bool {
	if strings.HasPrefix(topic, "$") && (strings.HasPrefix(filter, SingleLevelWild) || strings.HasPrefix(filter, MultiLevelWild)) {
		return false
	}

	f := SplitTopic(filter)
	t := SplitTopic(topic)

	for i, level := range f {
		if level == MultiLevelWild {
			// "a/#" also matches the parent level "a".
			return true
		}
		if i >= len(t) {
			return false
		}
		if level != SingleLevelWild && level != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}

// WildcardIndex returns the level index of the first wildcard in filter,
// or -1 when the filter is a plain topic.
func WildcardIndex(filter string) int {
	for i, level := range SplitTopic(filter) {
		if level == SingleLevelWild || level == MultiLevelWild {
			return i
		}
	}
	return -1
}
