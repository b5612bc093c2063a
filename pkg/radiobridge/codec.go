package radiobridge

import (
	"bytes"
	"encoding/base64"
	"fmt"
)

// Codec converts frames to delimiter-safe text and back.
//
// Encoded messages have the layout PREFIX || base64(payload) || SUFFIX. The suffix carries at
// least one byte outside the base64 alphabet, so a plain substring search finds the end of a
// message without any escaping.
type Codec struct {
	prefix []byte
	suffix []byte
}

// NewCodec validates the boundary tokens and returns a codec using them.
func NewCodec(prefix, suffix []byte) (*Codec, error) {
	if len(prefix) == 0 || len(suffix) == 0 {
		return nil, fmt.Errorf("%w: empty boundary token", ErrInvalidConfig)
	}
	if !hasForeignByte(suffix) {
		return nil, ErrUnsafeSuffix
	}
	if bytes.Contains(prefix, suffix) {
		return nil, fmt.Errorf("%w: prefix contains the suffix", ErrInvalidConfig)
	}
	return &Codec{
		prefix: bytes.Clone(prefix),
		suffix: bytes.Clone(suffix),
	}, nil
}

// MustCodec is NewCodec for tokens known to be valid.
func MustCodec(prefix, suffix string) *Codec {
	c, err := NewCodec([]byte(prefix), []byte(suffix))
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Codec) Prefix() []byte { return c.prefix }
func (c *Codec) Suffix() []byte { return c.suffix }

// EncodedLen returns the length of Encode(payload) for a payload of n bytes.
func (c *Codec) EncodedLen(n int) int {
	return len(c.prefix) + base64.StdEncoding.EncodedLen(n) + len(c.suffix)
}

// Encode returns the on-air text of payload.
func (c *Codec) Encode(payload []byte) []byte {
	out := make([]byte, 0, c.EncodedLen(len(payload)))
	out = append(out, c.prefix...)
	out = base64.StdEncoding.AppendEncode(out, payload)
	return append(out, c.suffix...)
}

// Decode extracts the frame carried between the first prefix and the suffix following it.
// Bytes outside the payload alphabet are treated as channel noise and dropped.
func (c *Codec) Decode(text []byte) ([]byte, error) {
	start := bytes.Index(text, c.prefix)
	if start < 0 {
		return nil, fmt.Errorf("%w: no prefix", ErrMalformed)
	}
	body := text[start+len(c.prefix):]
	end := bytes.Index(body, c.suffix)
	if end < 0 {
		return nil, fmt.Errorf("%w: no suffix", ErrMalformed)
	}
	body = stripNoise(body[:end])

	payload, err := base64.StdEncoding.AppendDecode(nil, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if payload == nil {
		payload = []byte{}
	}
	return payload, nil
}

func stripNoise(body []byte) []byte {
	clean := make([]byte, 0, len(body))
	for _, b := range body {
		if isAlphabet(b) {
			clean = append(clean, b)
		}
	}
	return clean
}

func hasForeignByte(token []byte) bool {
	for _, b := range token {
		if !isAlphabet(b) {
			return true
		}
	}
	return false
}

func isAlphabet(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	case b == '+', b == '/', b == '=':
		return true
	}
	return false
}
