package irc

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SplitMessage breaks body into the fewest chunks such that overhead
// plus each chunk fits in limit bytes.  overhead is everything the
// formatted command adds around the text, CRLF excluded.
//
// Chunks end at the last whitespace inside the budget; a word longer
// than the budget is cut on a rune boundary.  Whitespace at a split
// point is dropped and empty chunks are never returned.
func SplitMessage(body string, overhead, limit int) []string {
	budget := limit - overhead
	if budget < utf8.UTFMax {
		budget = utf8.UTFMax
	}

	var chunks []string
	rest := body
	for len(rest) > budget {
		cut := strings.LastIndexFunc(rest[:budget+1], unicode.IsSpace)
		if cut <= 0 {
			cut = budget
			for cut > 0 && !utf8.RuneStart(rest[cut]) {
				cut--
			}
			if cut == 0 {
				cut = budget
			}
		}

		chunk := strings.TrimRightFunc(rest[:cut], unicode.IsSpace)
		rest = strings.TrimLeftFunc(rest[cut:], unicode.IsSpace)
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	if strings.TrimSpace(rest) != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}
