package extract

import (
	"strings"
	"unicode/utf8"
)

// validUTF8 returns content as a string, replacing invalid sequences with U+FFFD.
func validUTF8(content []byte) string {
	if !utf8.Valid(content) {
		return strings.ToValidUTF8(string(content), "\ufffd")
	}
	return string(content)
}

func chunkText(e *Extractor, src Source) ([]Unit, error) {
	return textUnits(lineWindows(validUTF8(src.Content), e.lineWindow)), nil
}

// lineWindows groups the lines of s into windows of n lines joined by "\n".
// The last window may be shorter. Windows that are only whitespace are dropped.
func lineWindows(s string, n int) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	out := make([]string, 0, (len(lines)+n-1)/n)
	for start := 0; start < len(lines); start += n {
		end := start + n
		if end > len(lines) {
			end = len(lines)
		}
		w := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(w) == "" {
			continue
		}
		out = append(out, w)
	}
	return out
}
