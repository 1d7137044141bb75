package bridge

import "strings"

// MaxAnswerLen is the maximum length of an outbound answer. The chat
// surface enforces a hard length cap, so answers are cut on a sentence
// boundary instead of mid-word.
const MaxAnswerLen = 800

// sentence-terminating punctuation accepted as a truncation point
const truncMarks = ".!?;:,"

// StripMonologue removes inner-monologue spans (text delimited by single
// asterisks) while leaving **bold** markup intact. Unbalanced asterisks are
// kept as-is.
func StripMonologue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	i := 0
	for i < len(s) {
		if strings.HasPrefix(s[i:], "**") {
			end := strings.Index(s[i+2:], "**")
			if end < 0 {
				b.WriteString(s[i:])
				break
			}
			b.WriteString(s[i : i+2+end+2])
			i += 2 + end + 2
			continue
		}
		if s[i] == '*' {
			end := strings.IndexByte(s[i+1:], '*')
			if end < 0 {
				b.WriteString(s[i:])
				break
			}
			i += 1 + end + 1
			continue
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

// IsQuestion reports whether a monologue-stripped message asks a question:
// trimmed of surrounding whitespace, it must end with '?'.
func IsQuestion(stripped string) bool {
	return strings.HasSuffix(strings.TrimSpace(stripped), "?")
}

// TruncateAnswer cuts s to at most limit characters, ending on the last
// sentence-terminating punctuation mark at or before the limit (inclusive of
// the mark). When no mark exists in the prefix, it hard-cuts at the limit.
// Strings within the limit are returned unmodified.
func TruncateAnswer(s string, limit int) string {
	if limit <= 0 {
		limit = MaxAnswerLen
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	prefix := runes[:limit]
	for i := len(prefix) - 1; i >= 0; i-- {
		if strings.ContainsRune(truncMarks, prefix[i]) {
			return string(prefix[:i+1])
		}
	}
	return string(prefix)
}
