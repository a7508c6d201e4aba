package bus

import "strings"

// TopicMatches reports whether a dot-separated topic matches a pattern.
// "*" matches exactly one segment, "#" matches the rest of the topic
// (including zero segments).
func TopicMatches(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	pp := strings.Split(pattern, ".")
	tp := strings.Split(topic, ".")
	return matchSegments(pp, tp)
}

func matchSegments(pattern, topic []string) bool {
	for i, seg := range pattern {
		if seg == "#" {
			return true
		}
		if i >= len(topic) {
			return false
		}
		if seg != "*" && seg != topic[i] {
			return false
		}
	}
	return len(pattern) == len(topic)
}
