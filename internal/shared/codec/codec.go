// Package codec converts between Go strings and the fixed code page used on
// the wire and in the error log file.
package codec

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/japanese"
)

// DefaultEncoding is the code page used when none is configured.
const DefaultEncoding = "shift_jis"

// Codec is safe for concurrent use; each call builds its own transformer.
type Codec struct {
	name string
	enc  encoding.Encoding
}

// New looks up an encoding by its WHATWG name ("shift_jis", "windows-1252",
// "utf-8", ...).
func New(name string) (*Codec, error) {
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

// ShiftJIS returns the default codec.
func ShiftJIS() *Codec {
	return &Codec{name: DefaultEncoding, enc: japanese.ShiftJIS}
}

// Name returns the canonical encoding name.
func (c *Codec) Name() string { return c.name }

// Decode converts b to a string and strips trailing NUL padding. Padding is
// removed after decoding so multi-byte code pages keep their zero bytes.
func (c *Codec) Decode(b []byte) (string, error) {
	out, err := c.enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", c.name, err)
	}
	return strings.TrimRight(string(out), "\x00"), nil
}

// Encode converts s to the code page. Runes the code page cannot represent
// produce an error.
func (c *Codec) Encode(s string) ([]byte, error) {
	out, err := c.enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.name, err)
	}
	return out, nil
}

// EncodeLossy is Encode with unsupported runes replaced by the code page's
// substitute character. Replies and log entries are never rejected.
func (c *Codec) EncodeLossy(s string) []byte {
	out, err := encoding.ReplaceUnsupported(c.enc.NewEncoder()).Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return out
}
