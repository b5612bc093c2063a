package radiobridge

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type discard struct {
	size   int
	reason string
}

func newTestReassembler(maxPending int) (*Reassembler, *[]discard) {
	r := NewReassembler(MustCodec("BTC", "\r\n"), maxPending)
	var discards []discard
	r.OnDiscard = func(size int, reason string) {
		discards = append(discards, discard{size, reason})
	}
	return r, &discards
}

// feed passes every fragment to r and drains carried-over messages with empty fragments.
func feed(r *Reassembler, fragments ...[]byte) [][]byte {
	var out [][]byte
	for _, f := range fragments {
		for {
			msg, ok := r.OnFragment(f)
			f = nil
			if !ok {
				break
			}
			out = append(out, msg)
		}
	}
	return out
}

func TestReassemblerArbitraryFragmentation(t *testing.T) {
	codec := MustCodec("BTC", "\r\n")
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 50; round++ {
		var stream []byte
		var want [][]byte
		for i := 0; i < 1+rng.Intn(4); i++ {
			p := make([]byte, rng.Intn(40))
			rng.Read(p)
			text := codec.Encode(p)
			want = append(want, text)
			stream = append(stream, text...)
		}

		var fragments [][]byte
		for rest := stream; len(rest) > 0; {
			n := min(len(rest), 1+rng.Intn(9))
			fragments = append(fragments, rest[:n])
			rest = rest[n:]
		}

		r, discards := newTestReassembler(0)
		got := feed(r, fragments...)
		require.Equal(t, want, got, "round %d", round)
		assert.Empty(t, *discards)
		assert.Equal(t, 0, r.Buffered())
	}
}

func TestReassemblerCarriesForward(t *testing.T) {
	r, _ := newTestReassembler(0)

	msg, ok := r.OnFragment([]byte("BTCQQ==\r\nBTCQg"))
	require.True(t, ok)
	assert.Equal(t, []byte("BTCQQ==\r\n"), msg)
	assert.True(t, r.InMessage())

	_, ok = r.OnFragment(nil)
	assert.False(t, ok)

	msg, ok = r.OnFragment([]byte("==\r\n"))
	require.True(t, ok)
	assert.Equal(t, []byte("BTCQg==\r\n"), msg)
	assert.False(t, r.InMessage())
}

func TestReassemblerTwoMessagesInOneFragment(t *testing.T) {
	r, _ := newTestReassembler(0)
	got := feed(r, []byte("BTCQQ==\r\nBTCQg==\r\n"))
	assert.Equal(t, [][]byte{[]byte("BTCQQ==\r\n"), []byte("BTCQg==\r\n")}, got)
}

func TestReassemblerSplitSuffix(t *testing.T) {
	r, _ := newTestReassembler(0)
	got := feed(r, []byte("BTCQQ==\r"), []byte("\nBT"), []byte("CQg==\r\n"))
	assert.Equal(t, [][]byte{[]byte("BTCQQ==\r\n"), []byte("BTCQg==\r\n")}, got)
}

func TestReassemblerDiscardsLeadingNoise(t *testing.T) {
	r, discards := newTestReassembler(0)

	got := feed(r, []byte("garbage"), []byte("xxB"), []byte("TCQQ==\r\n"))
	assert.Equal(t, [][]byte{[]byte("BTCQQ==\r\n")}, got)

	var dropped int
	for _, d := range *discards {
		assert.Equal(t, DiscardNoise, d.reason)
		dropped += d.size
	}
	assert.Equal(t, len("garbagexx"), dropped)
}

func TestReassemblerDiscardsSuffixWithoutPrefix(t *testing.T) {
	r, discards := newTestReassembler(0)

	got := feed(r, []byte("QQ==\r\nBTCQg==\r\n"))
	assert.Equal(t, [][]byte{[]byte("BTCQg==\r\n")}, got)
	require.NotEmpty(t, *discards)
	assert.Equal(t, DiscardNoPrefix, (*discards)[len(*discards)-1].reason)
}

func TestReassemblerStripsBlanks(t *testing.T) {
	r, _ := newTestReassembler(0)
	got := feed(r, []byte("B TC QQ"), []byte(" == \r\n"))
	assert.Equal(t, [][]byte{[]byte("BTCQQ==\r\n")}, got)
}

func TestReassemblerOverflow(t *testing.T) {
	r, discards := newTestReassembler(16)

	_, ok := r.OnFragment(append([]byte("BTC"), bytes.Repeat([]byte("Q"), 20)...))
	assert.False(t, ok)
	assert.Equal(t, 0, r.Buffered())
	require.NotEmpty(t, *discards)
	assert.Equal(t, DiscardOverflow, (*discards)[len(*discards)-1].reason)

	got := feed(r, []byte("BTCQQ==\r\n"))
	assert.Equal(t, [][]byte{[]byte("BTCQQ==\r\n")}, got)
}

func TestReassemblerPartialThenMalformedThenGood(t *testing.T) {
	codec := MustCodec("BTC", "\r\n")
	r, _ := newTestReassembler(0)

	got := feed(r, []byte("BTCabc"), []byte("\r\n"), codec.Encode([]byte("ok")))
	require.Len(t, got, 2)

	_, err := codec.Decode(got[0])
	assert.ErrorIs(t, err, ErrMalformed)
	payload, err := codec.Decode(got[1])
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), payload)
}

func TestReassemblerExpireUnmergesLostSuffix(t *testing.T) {
	codec := MustCodec("BTC", "\r\n")
	first := codec.Encode([]byte("first"))
	second := codec.Encode([]byte("second"))

	// without expiry the next message is swallowed by the one missing its suffix
	r, _ := newTestReassembler(0)
	got := feed(r, first[:len(first)-2], second)
	require.Len(t, got, 1)
	_, err := codec.Decode(got[0])
	assert.ErrorIs(t, err, ErrMalformed)

	r, discards := newTestReassembler(0)
	feed(r, first[:len(first)-2])
	assert.True(t, r.Expire())
	assert.False(t, r.Expire())
	assert.Equal(t, []discard{{len(first) - 2, DiscardStale}}, *discards)

	got = feed(r, second)
	require.Len(t, got, 1)
	payload, err := codec.Decode(got[0])
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), payload)
}
