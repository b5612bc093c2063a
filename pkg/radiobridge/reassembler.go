package radiobridge

import (
	"bytes"
)

// Discard reasons reported by the Reassembler.
const (
	DiscardNoise    = "noise"
	DiscardNoPrefix = "suffix without prefix"
	DiscardOverflow = "pending overflow"
	DiscardStale    = "stale partial"
)

// Reassembler accumulates polled fragments until a complete encoded message is seen.
// It is owned by a single receive loop and is not safe for concurrent use.
//
// Message boundaries are found by the suffix alone. The default prefix is made of base64
// letters, so a message whose suffix was lost on air is not resynchronised by the next
// prefix: the two merge and fail to decode together. Callers should Expire a partial message
// once the channel has been silent long enough that its suffix will not arrive.
type Reassembler struct {
	// OnDiscard, when set, is told about every run of bytes dropped from the accumulator.
	OnDiscard func(size int, reason string)

	prefix      []byte
	suffix      []byte
	maxPending  int
	stripBlanks bool

	buf []byte
	// scanned is the length of buf already searched for a suffix without success.
	scanned int
}

// NewReassembler returns a reassembler for the tokens of codec. A maxPending of zero or less
// disables the accumulator cap.
func NewReassembler(codec *Codec, maxPending int) *Reassembler {
	return &Reassembler{
		prefix:      codec.Prefix(),
		suffix:      codec.Suffix(),
		maxPending:  maxPending,
		stripBlanks: !bytes.ContainsRune(codec.Prefix(), ' ') && !bytes.ContainsRune(codec.Suffix(), ' '),
	}
}

// OnFragment feeds one poll's worth of text. It returns a complete message, prefix through
// suffix inclusive, once one is available. Bytes after the suffix are kept for the next message,
// so callers keep polling with empty fragments while Buffered reports unscanned data.
func (r *Reassembler) OnFragment(fragment []byte) ([]byte, bool) {
	if len(fragment) == 0 && r.scanned == len(r.buf) {
		return nil, false
	}
	if r.stripBlanks && bytes.IndexByte(fragment, ' ') >= 0 {
		fragment = bytes.ReplaceAll(fragment, []byte{' '}, nil)
	}
	r.buf = append(r.buf, fragment...)

	for {
		from := max(0, r.scanned-len(r.suffix)+1)
		idx := bytes.Index(r.buf[from:], r.suffix)
		if idx < 0 {
			r.settle()
			return nil, false
		}
		suffixAt := from + idx
		end := suffixAt + len(r.suffix)

		start := bytes.Index(r.buf[:suffixAt], r.prefix)
		if start < 0 {
			r.drop(end, DiscardNoPrefix)
			continue
		}
		if start > 0 {
			r.drop(start, DiscardNoise)
			end -= start
		}

		msg := bytes.Clone(r.buf[:end])
		r.consume(end)
		return msg, true
	}
}

// InMessage reports whether a prefix has been seen and its suffix is still outstanding.
func (r *Reassembler) InMessage() bool {
	return bytes.HasPrefix(r.buf, r.prefix)
}

// Buffered returns the number of bytes held for the next message.
func (r *Reassembler) Buffered() int {
	return len(r.buf)
}

// Reset drops everything held, reporting it as noise.
func (r *Reassembler) Reset() {
	if len(r.buf) > 0 {
		r.drop(len(r.buf), DiscardNoise)
	}
}

// Expire drops a partial message whose suffix is still outstanding. It reports whether
// anything was dropped.
func (r *Reassembler) Expire() bool {
	if !r.InMessage() {
		return false
	}
	r.drop(len(r.buf), DiscardStale)
	return true
}

// settle trims bytes that can no longer belong to a message after a scan found no suffix.
func (r *Reassembler) settle() {
	if start := bytes.Index(r.buf, r.prefix); start > 0 {
		r.drop(start, DiscardNoise)
	} else if start < 0 {
		// keep a tail long enough to hold a prefix split across fragments
		if keep := len(r.prefix) - 1; len(r.buf) > keep {
			r.drop(len(r.buf)-keep, DiscardNoise)
		}
	}
	if r.maxPending > 0 && len(r.buf) > r.maxPending {
		r.drop(len(r.buf), DiscardOverflow)
	}
	r.scanned = len(r.buf)
}

func (r *Reassembler) drop(n int, reason string) {
	r.consume(n)
	if r.OnDiscard != nil {
		r.OnDiscard(n, reason)
	}
}

func (r *Reassembler) consume(n int) {
	rest := copy(r.buf, r.buf[n:])
	r.buf = r.buf[:rest]
	r.scanned = 0
}
