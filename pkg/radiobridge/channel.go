package radiobridge

import (
	"context"
	"time"
)

// TxState is the keying state reported by a channel controller.
type TxState int

const (
	TxStateRX TxState = iota
	TxStateTX
)

func (s TxState) String() string {
	if s == TxStateTX {
		return "TX"
	}
	return "RX"
}

// ChannelController defines the commands the bridge needs from the modem or radio controller.
type ChannelController interface {
	// StartTransmit queues text for transmission and keys the transmitter. A blocking call
	// returns once the channel is back in receive state, or ErrTimedOut after timeout.
	StartTransmit(ctx context.Context, text []byte, blocking bool, timeout time.Duration) error
	// AbortTransmit stops any transmission in progress.
	AbortTransmit(ctx context.Context) error
	// SetReceiveMode puts the channel back into receive-ready state.
	SetReceiveMode(ctx context.Context) error
	// PollReceived returns the text received since the previous poll. It may be empty.
	PollReceived(ctx context.Context) ([]byte, error)
	// TransmitState reports whether the channel is currently keyed.
	TransmitState(ctx context.Context) (TxState, error)
}
