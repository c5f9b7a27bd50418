// Package wire turns a byte stream into CRLF-terminated text lines and
// back.  It is shared by the server connection and DCC chat sessions.
package wire

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// DefaultEncoding is used when no encoding is configured.
const DefaultEncoding = "utf-8"

// Codec converts between wire bytes and Go strings for one named text
// encoding.  Decoding substitutes U+FFFD for invalid input and encoding
// replaces runes the charset cannot represent, so neither direction
// ever fails.
type Codec struct {
	name string
	enc  encoding.Encoding
}

// NewCodec looks up an encoding by its WHATWG label ("utf-8",
// "latin1", "windows-1251", "shift_jis", ...).
func NewCodec(name string) (*Codec, error) {
	if name == "" {
		name = DefaultEncoding
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	canonical, err := htmlindex.Name(enc)
	if err != nil {
		canonical = strings.ToLower(name)
	}
	return &Codec{name: canonical, enc: enc}, nil
}

// UTF8 returns the default codec.
func UTF8() *Codec {
	return &Codec{name: DefaultEncoding, enc: unicode.UTF8}
}

// Name returns the canonical encoding name.
func (c *Codec) Name() string { return c.name }

// Decode converts raw line bytes to a string.
func (c *Codec) Decode(b []byte) string {
	out, err := c.enc.NewDecoder().Bytes(b)
	if err != nil {
		// Decoders from x/text replace rather than fail; keep the
		// original bytes if one ever does.
		return strings.ToValidUTF8(string(b), "�")
	}
	return string(out)
}

// Encode converts s to wire bytes.
func (c *Codec) Encode(s string) []byte {
	out, err := encoding.ReplaceUnsupported(c.enc.NewEncoder()).Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return out
}
