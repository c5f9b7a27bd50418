package irc

import (
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		overhead int
		limit    int
		want     []string
	}{
		{"fits", "hello world", 10, 40, []string{"hello world"}},
		{"exact fit", "abcde", 5, 10, []string{"abcde"}},
		{"split at space", "hello big world", 0, 10, []string{"hello big", "world"}},
		{"space at budget edge", "aaaa bbbb", 0, 4, []string{"aaaa", "bbbb"}},
		{"hard cut", "abcdefghij", 0, 4, []string{"abcd", "efgh", "ij"}},
		{"overhead counts", "one two three", 8, 16, []string{"one two", "three"}},
		{"runs of spaces dropped", "aaa     bbb", 0, 5, []string{"aaa", "bbb"}},
		{"empty", "", 0, 10, nil},
		{"only spaces", "    ", 0, 10, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitMessage(tt.body, tt.overhead, tt.limit))
		})
	}
}

func TestSplitMessage_Properties(t *testing.T) {
	bodies := []string{
		strings.Repeat("lorem ipsum dolor sit amet ", 40),
		strings.Repeat("x", 1000),
		strings.Repeat("日本語のテキスト ", 60),
		"short",
		strings.Repeat("é", 301) + " tail",
	}
	for _, body := range bodies {
		for _, limit := range []int{30, 57, 100, 400} {
			overhead := len("PRIVMSG #channel :")
			chunks := SplitMessage(body, overhead, limit)
			for _, c := range chunks {
				assert.NotEmpty(t, c)
				assert.LessOrEqual(t, overhead+len(c), limit, "chunk %q", c)
				assert.True(t, utf8.ValidString(c), "chunk cut inside a rune: %q", c)
			}
			assert.Equal(t, stripSpace(body), stripSpace(strings.Join(chunks, "")))
		}
	}
}

func TestSplitMessage_MultibyteHardCut(t *testing.T) {
	chunks := SplitMessage("ééééé", 0, 5)
	assert.Equal(t, []string{"éé", "éé", "é"}, chunks)
}
