package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramer_Decode(t *testing.T) {
	tests := []struct {
		name    string
		chunks  []string
		want    []string
		pending string
	}{
		{"single line", []string{"PING :x\r\n"}, []string{"PING :x"}, ""},
		{"two lines", []string{"a\r\nb\r\n"}, []string{"a", "b"}, ""},
		{"partial tail", []string{"a\r\nb"}, []string{"a"}, "b"},
		{"tail completed", []string{"a\r\nb", "c\r\n"}, []string{"a", "bc"}, ""},
		{"terminator split", []string{"abc\r", "\ndef\r\n"}, []string{"abc", "def"}, ""},
		{"empty line", []string{"\r\n"}, []string{""}, ""},
		{"bare lf is not a terminator", []string{"a\nb\r\n"}, []string{"a\nb"}, ""},
		{"no terminator yet", []string{"NOTICE", " x :hi"}, nil, "NOTICE x :hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFramer(nil)
			var got []string
			for _, c := range tt.chunks {
				got = append(got, f.Decode([]byte(c))...)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.pending, string(f.Pending()))
		})
	}
}

// Every way of cutting a stream into chunks yields the same lines.
func TestFramer_SplitInvariant(t *testing.T) {
	stream := ":nick!u@h PRIVMSG #chan :héllo wörld\r\nPING :token\r\n:srv 001 ene :Welcome\r\n"
	want := NewFramer(nil).Decode([]byte(stream))
	require.Len(t, want, 3)

	raw := []byte(stream)
	for size := 1; size <= len(raw); size++ {
		f := NewFramer(nil)
		var got []string
		for i := 0; i < len(raw); i += size {
			end := i + size
			if end > len(raw) {
				end = len(raw)
			}
			got = append(got, f.Decode(raw[i:end])...)
		}
		assert.Equal(t, want, got, "chunk size %d", size)
		assert.Empty(t, f.Pending(), "chunk size %d", size)
	}
}

func TestFramer_MultibyteAcrossChunks(t *testing.T) {
	f := NewFramer(nil)
	raw := []byte("ü\r\n") // ü is two bytes
	assert.Empty(t, f.Decode(raw[:1]))
	assert.Equal(t, []string{"ü"}, f.Decode(raw[1:]))
}

func TestFramer_InvalidBytesDoNotFail(t *testing.T) {
	f := NewFramer(nil)
	lines := f.Decode([]byte{'a', 0xff, 'b', '\r', '\n'})
	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], "a"))
	assert.True(t, strings.HasSuffix(lines[0], "b"))
}

func TestFramer_Encode(t *testing.T) {
	f := NewFramer(nil)
	assert.Equal(t, "NICK ene\r\n", string(f.Encode("NICK ene")))
	assert.Equal(t, "NICK ene\r\n", string(f.Encode("NICK ene\r\n")))
}

func TestFramer_DoesNotRetainCallerBuffer(t *testing.T) {
	f := NewFramer(nil)
	buf := []byte("abc")
	f.Decode(buf)
	copy(buf, "xyz")
	assert.Equal(t, "abc", string(f.Pending()))
}

func TestCodec_Latin1(t *testing.T) {
	c, err := NewCodec("latin1")
	require.NoError(t, err)

	// 0xE9 is é in both ISO-8859-1 and windows-1252.
	assert.Equal(t, "café", c.Decode([]byte{'c', 'a', 'f', 0xe9}))
	assert.Equal(t, []byte{'c', 'a', 'f', 0xe9}, c.Encode("café"))

	// Runes outside the charset are replaced instead of failing.
	out := c.Encode("日本")
	assert.NotEmpty(t, out)
}

func TestCodec_Unknown(t *testing.T) {
	_, err := NewCodec("klingon-8")
	assert.Error(t, err)
}

func TestCodec_DefaultName(t *testing.T) {
	c, err := NewCodec("")
	require.NoError(t, err)
	assert.Equal(t, "utf-8", c.Name())
}
