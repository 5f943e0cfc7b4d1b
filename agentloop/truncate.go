package agentloop

// TailChars returns at most limit characters from the end of s, cutting on
// a rune boundary. A non-positive limit yields the empty string.
func TailChars(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[len(runes)-limit:])
}

// HeadChars returns at most limit characters from the start of s, cutting
// on a rune boundary. A non-positive limit yields the empty string.
func HeadChars(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
