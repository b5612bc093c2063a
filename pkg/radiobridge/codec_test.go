package radiobridge

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	codec := MustCodec("BTC", "\r\n")
	rng := rand.New(rand.NewSource(1))

	payloads := [][]byte{{}, {0}, {0xff}, []byte("BTC\r\n")}
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	payloads = append(payloads, all)
	for n := 1; n < 64; n++ {
		p := make([]byte, n)
		rng.Read(p)
		payloads = append(payloads, p)
	}

	for _, p := range payloads {
		text := codec.Encode(p)
		assert.Len(t, text, codec.EncodedLen(len(p)))
		assert.True(t, bytes.HasPrefix(text, []byte("BTC")))
		assert.True(t, bytes.HasSuffix(text, []byte("\r\n")))
		assert.Equal(t, 1, bytes.Count(text, []byte("\r\n")), "suffix must occur once")

		got, err := codec.Decode(text)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
}

func TestCodecEmptyPayload(t *testing.T) {
	codec := MustCodec("BTC", "\r\n")
	assert.Equal(t, []byte("BTC\r\n"), codec.Encode(nil))

	got, err := codec.Decode([]byte("BTC\r\n"))
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestCodecDecodeToleratesNoise(t *testing.T) {
	codec := MustCodec("BTC", "\r\n")
	text := []byte("xx BTC aGVs\nbG8 =\r\n trailing")

	got, err := codec.Decode(text)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestCodecDecodeMalformed(t *testing.T) {
	codec := MustCodec("BTC", "\r\n")
	cases := map[string]string{
		"no prefix":      "aGVsbG8=\r\n",
		"no suffix":      "BTCaGVsbG8=",
		"invalid base64": "BTCabc\r\n",
		"bad padding":    "BTCa===\r\n",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := codec.Decode([]byte(text))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestNewCodecRejectsUnsafeTokens(t *testing.T) {
	_, err := NewCodec([]byte("BTC"), []byte("END"))
	assert.ErrorIs(t, err, ErrUnsafeSuffix)

	_, err = NewCodec([]byte("BTC"), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewCodec([]byte("<\r\n>"), []byte("\r\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewCodec([]byte("<<"), []byte("END!"))
	assert.NoError(t, err)
}
