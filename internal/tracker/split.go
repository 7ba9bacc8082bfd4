package tracker

import "strings"

// lineBreak picks the separator used to split accepted text: the first of
// "\r\n", "\n", "\r" present anywhere in s, else "\n". Text mixing styles
// is split on the winning separator only, so "a\r\nb\nc" yields
// ["a", "b\nc"].
func lineBreak(s string) string {
	for _, sep := range []string{"\r\n", "\n", "\r"} {
		if strings.Contains(s, sep) {
			return sep
		}
	}
	return "\n"
}

// splitLines breaks accepted text into per-line fragments.
func splitLines(s string) []string {
	return strings.Split(s, lineBreak(s))
}
