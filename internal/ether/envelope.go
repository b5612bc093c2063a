// Package ether holds the pieces shared by channel controllers that simulate a radio channel over
// a packet network: the wire envelope, transmit pacing and the receive buffer.
package ether

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldSender protowire.Number = 1
	fieldSeq    protowire.Number = 2
	fieldChunk  protowire.Number = 3
)

// ErrInvalidEnvelope is returned when a datagram is not an envelope.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// Envelope carries one chunk of transmitted text.
type Envelope struct {
	// Sender identifies the transmitting station so it can ignore its own chunks.
	Sender []byte
	// Seq numbers chunks per sender, starting at 1.
	Seq   uint64
	Chunk []byte
}

// Marshal encodes e in protobuf wire format.
func (e *Envelope) Marshal() []byte {
	b := make([]byte, 0, len(e.Sender)+len(e.Chunk)+16)
	b = protowire.AppendTag(b, fieldSender, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Sender)
	b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, e.Seq)
	b = protowire.AppendTag(b, fieldChunk, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Chunk)
	return b
}

// Unmarshal decodes b into e. Unknown fields are skipped.
func (e *Envelope) Unmarshal(b []byte) error {
	*e = Envelope{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrInvalidEnvelope, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldSender && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: sender: %v", ErrInvalidEnvelope, protowire.ParseError(n))
			}
			e.Sender = append([]byte(nil), v...)
			b = b[n:]
		case num == fieldSeq && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: seq: %v", ErrInvalidEnvelope, protowire.ParseError(n))
			}
			e.Seq = v
			b = b[n:]
		case num == fieldChunk && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: chunk: %v", ErrInvalidEnvelope, protowire.ParseError(n))
			}
			e.Chunk = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrInvalidEnvelope, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if len(e.Sender) == 0 || e.Seq == 0 {
		return fmt.Errorf("%w: missing sender or sequence", ErrInvalidEnvelope)
	}
	return nil
}
