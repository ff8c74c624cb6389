package extract

import "strings"

// Normalize collapses whitespace runs (non-breaking spaces included) to a
// single space and trims both ends.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeLines normalizes each line and drops the empty ones.
func NormalizeLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = Normalize(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// joinTexts normalizes every fragment, drops the empty ones and joins the
// rest with sep.
func joinTexts(parts []string, sep string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = Normalize(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
