// Package fldigi drives the fldigi sound card modem through its XML-RPC interface.
package fldigi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/rpc"
	"time"

	"github.com/kolo/xmlrpc"

	"github.com/exepirit/radiobridge/pkg/radiobridge"
)

// DefaultAddress is where fldigi serves XML-RPC unless told otherwise.
const DefaultAddress = "127.0.0.1:7362"

// returnToRX is the fldigi macro that switches back to receive once the TX buffer drains.
const returnToRX = "^r"

var _ radiobridge.ChannelController = &Controller{}

// Controller is a radiobridge.ChannelController backed by a running fldigi instance.
type Controller struct {
	// URL is the XML-RPC endpoint, e.g. http://127.0.0.1:7362/RPC2.
	URL string
	// StatePollInterval is how often a blocking transmit polls the TRX state.
	StatePollInterval time.Duration

	client *xmlrpc.Client
}

// New connects a controller to the fldigi XML-RPC endpoint at url. A nil transport uses
// http.DefaultTransport.
func New(url string, transport http.RoundTripper) (*Controller, error) {
	client, err := xmlrpc.NewClient(url, transport)
	if err != nil {
		return nil, fmt.Errorf("create xml-rpc client: %w", err)
	}
	return &Controller{
		URL:               url,
		StatePollInterval: 250 * time.Millisecond,
		client:            client,
	}, nil
}

// Close releases the underlying client.
func (c *Controller) Close() error {
	return c.client.Close()
}

// StartTransmit replaces the TX buffer with text and keys the transmitter. A blocking call waits
// until fldigi reports RX again.
func (c *Controller) StartTransmit(ctx context.Context, text []byte, blocking bool, timeout time.Duration) error {
	if err := c.call(ctx, "text.clear_tx", nil, nil); err != nil {
		return err
	}
	if err := c.call(ctx, "text.add_tx", string(text)+returnToRX, nil); err != nil {
		return err
	}
	if err := c.call(ctx, "main.tx", nil, nil); err != nil {
		return err
	}
	if !blocking {
		return nil
	}
	return c.waitForRX(ctx, timeout)
}

func (c *Controller) waitForRX(ctx context.Context, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.StatePollInterval)
	defer ticker.Stop()

	// fldigi may still report RX right after main.tx, so the first check waits one tick
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return radiobridge.ErrTimedOut
		case <-ticker.C:
		}
		state, err := c.TransmitState(ctx)
		if err != nil {
			return err
		}
		if state == radiobridge.TxStateRX {
			return nil
		}
	}
}

func (c *Controller) AbortTransmit(ctx context.Context) error {
	return c.call(ctx, "main.abort", nil, nil)
}

func (c *Controller) SetReceiveMode(ctx context.Context) error {
	return c.call(ctx, "main.rx", nil, nil)
}

// PollReceived returns the text decoded since the previous call.
func (c *Controller) PollReceived(ctx context.Context) ([]byte, error) {
	var data []byte
	if err := c.call(ctx, "rx.get_data", nil, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// TransmitState maps fldigi's TRX state. TUNE counts as keyed.
func (c *Controller) TransmitState(ctx context.Context) (radiobridge.TxState, error) {
	var state string
	if err := c.call(ctx, "main.get_trx_state", nil, &state); err != nil {
		return radiobridge.TxStateRX, err
	}
	if state == "RX" {
		return radiobridge.TxStateRX, nil
	}
	return radiobridge.TxStateTX, nil
}

// ClearBuffers empties the RX and TX text buffers.
func (c *Controller) ClearBuffers(ctx context.Context) error {
	if err := c.call(ctx, "text.clear_rx", nil, nil); err != nil {
		return err
	}
	return c.call(ctx, "text.clear_tx", nil, nil)
}

// call runs one XML-RPC method, giving up when ctx is done. Transport failures wrap
// radiobridge.ErrChannelUnavailable.
func (c *Controller) call(ctx context.Context, method string, args, reply any) error {
	if reply == nil {
		reply = new(any)
	}
	call := c.client.Go(method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-call.Done:
	}
	if call.Error == nil {
		return nil
	}
	var fault rpc.ServerError
	if errors.As(call.Error, &fault) {
		// fldigi answered with a fault: the call was wrong, not the connection
		return fmt.Errorf("fldigi %s: %s", method, string(fault))
	}
	return fmt.Errorf("%w: fldigi %s: %v", radiobridge.ErrChannelUnavailable, method, call.Error)
}
