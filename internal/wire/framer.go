package wire

import "bytes"

var crlf = []byte("\r\n")

// Framer splits a chunked byte stream into complete lines.  Bytes after
// the last terminator are carried over to the next Decode call.  The
// split happens on raw bytes, before text decoding, so a multibyte
// character cut by a read boundary is reassembled intact.
//
// A Framer is owned by a single reader goroutine; Encode may be called
// concurrently.
type Framer struct {
	codec *Codec
	carry []byte
}

// NewFramer returns a Framer using codec (UTF-8 when nil).
func NewFramer(codec *Codec) *Framer {
	if codec == nil {
		codec = UTF8()
	}
	return &Framer{codec: codec}
}

// Decode appends chunk to the carry-over and returns every complete
// line in order, without terminators.  The unterminated tail (possibly
// empty) becomes the new carry-over.
func (f *Framer) Decode(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	buf := chunk
	if len(f.carry) > 0 {
		buf = append(f.carry, chunk...)
	}

	var lines []string
	for {
		i := bytes.Index(buf, crlf)
		if i < 0 {
			break
		}
		lines = append(lines, f.codec.Decode(buf[:i]))
		buf = buf[i+len(crlf):]
	}

	// Copy so the caller's read buffer can be reused.
	f.carry = append(f.carry[:0:0], buf...)
	return lines
}

// Pending returns the carried-over bytes of an incomplete line.
func (f *Framer) Pending() []byte { return f.carry }

// Encode converts line to wire bytes and appends CRLF unless it is
// already terminated.
func (f *Framer) Encode(line string) []byte {
	b := f.codec.Encode(line)
	if !bytes.HasSuffix(b, crlf) {
		b = append(b, crlf...)
	}
	return b
}
