package event

import "strings"

// MatchTopic reports whether a dotted topic matches a pattern.
//
// Three pattern forms are recognized:
//   - literal:        "a.b.c" matches only "a.b.c"
//   - suffix wildcard "a.b.*" matches any topic under the prefix "a.b."
//     (including "a.b.c.d"), and "a.b" itself is NOT a match
//   - segment wildcard "a.*.c" matches exactly one segment in place of "*"
//
// Matching is O(depth); no regex.
func MatchTopic(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	if pattern == "*" {
		return true
	}

	// Suffix wildcard: everything under the dotted prefix.
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok && !strings.Contains(prefix, "*") {
		return strings.HasPrefix(topic, prefix+".")
	}

	if !strings.Contains(pattern, "*") {
		return false
	}

	// Segment wildcards: each "*" consumes exactly one segment.
	pSegs := strings.Split(pattern, ".")
	tSegs := strings.Split(topic, ".")
	if len(pSegs) != len(tSegs) {
		return false
	}
	for i, ps := range pSegs {
		if ps == "*" {
			continue
		}
		if ps != tSegs[i] {
			return false
		}
	}
	return true
}

// ValidPattern reports whether the pattern is well formed: non-empty
// segments, and "*" only as a whole segment.
func ValidPattern(pattern string) bool {
	if pattern == "" {
		return false
	}
	for seg := range strings.SplitSeq(pattern, ".") {
		if seg == "" {
			return false
		}
		if strings.Contains(seg, "*") && seg != "*" {
			return false
		}
	}
	return true
}
