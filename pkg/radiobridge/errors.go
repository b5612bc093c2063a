package radiobridge

import (
	"errors"
)

var (
	// ErrMalformed indicates that an encoded message could not be decoded back to a frame.
	ErrMalformed = errors.New("radiobridge: malformed message")
	// ErrTimedOut is returned by a channel controller when a transmission outlived its expected airtime.
	ErrTimedOut = errors.New("radiobridge: transmit timed out")
	// ErrChannelUnavailable indicates that the channel controller cannot be reached.
	ErrChannelUnavailable = errors.New("radiobridge: channel unavailable")
	// ErrStreamClosed indicates that the TCP peer closed the bridged stream.
	ErrStreamClosed = errors.New("radiobridge: stream closed")
	// ErrUnsafeSuffix indicates a suffix token that could occur inside encoded payload.
	ErrUnsafeSuffix = errors.New("radiobridge: suffix token must contain a byte outside the payload alphabet")
	// ErrInvalidConfig indicates a configuration that fails validation.
	ErrInvalidConfig = errors.New("radiobridge: invalid config")
)
