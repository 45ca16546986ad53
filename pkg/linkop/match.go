package linkop

// MatchPattern reports whether data starts with pattern. A nil element is a
// wildcard; data shorter than pattern never matches.
func MatchPattern(data []byte, pattern []*byte) bool {
	if len(data) < len(pattern) {
		return false
	}
	for i, p := range pattern {
		if p != nil && *p != data[i] {
			return false
		}
	}
	return true
}

// Pattern builds a pattern from byte values; -1 is a wildcard.
func Pattern(values ...int) []*byte {
	pattern := make([]*byte, len(values))
	for i, v := range values {
		if v < 0 {
			continue
		}
		b := byte(v)
		pattern[i] = &b
	}
	return pattern
}
