package util

// ContainsInt reports whether slice contains item.
func ContainsInt(slice []int, item int) bool {
	for _, v := range slice {
		if v == item {
			return true
		}
	}
	return false
}

// TruncateString truncates s to maxLen runes and appends "..." if truncated
// (UTF-8 safe). If preserveWords is true, truncates at the last space before
// maxLen when possible.
func TruncateString(s string, maxLen int, preserveWords bool) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."[:maxLen]
	}
	cut := maxLen - 3
	if preserveWords {
		if idx := lastSpaceBeforeRune(runes, cut); idx > 0 {
			cut = idx
		}
	}
	return string(runes[:cut]) + "..."
}

// TruncateWithMarker truncates s to at most maxLen runes, appending an
// explicit truncation marker so downstream consumers can tell the text
// is incomplete.
func TruncateWithMarker(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	const marker = "... [truncated]"
	cut := maxLen - len(marker)
	if cut < 0 {
		cut = 0
	}
	if idx := lastSpaceBeforeRune(runes, cut); idx > 0 {
		cut = idx
	}
	return string(runes[:cut]) + marker
}

func lastSpaceBeforeRune(runes []rune, pos int) int {
	if pos >= len(runes) {
		pos = len(runes) - 1
	}
	// The rune at pos itself may be the boundary space.
	for i := pos; i >= 0; i-- {
		if runes[i] == ' ' || runes[i] == '\t' || runes[i] == '\n' {
			return i
		}
	}
	return -1
}
