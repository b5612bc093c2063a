// Package serial drives a text modem attached to a serial line, keying the transmitter with RTS.
package serial

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/exepirit/radiobridge/pkg/radiobridge"
)

// Port is the part of serial.Port the controller uses.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Drain() error
	SetRTS(rts bool) error
	SetReadTimeout(t time.Duration) error
	Close() error
}

// Options configure Open.
type Options struct {
	BaudRate int
	// ReadTimeout bounds how long PollReceived waits for modem output.
	ReadTimeout time.Duration
	// SecondsPerByte is the modem's airtime per byte, used to hold PTT until the text is on air.
	SecondsPerByte float64
}

// DefaultOptions suit a 9600 baud modem running PSK125R.
func DefaultOptions() Options {
	return Options{
		BaudRate:       9600,
		ReadTimeout:    50 * time.Millisecond,
		SecondsPerByte: radiobridge.ModePSK125R.SecondsPerByte,
	}
}

var _ radiobridge.ChannelController = &Controller{}

// Controller is a radiobridge.ChannelController for a modem on a serial line.
type Controller struct {
	Port           Port
	SecondsPerByte float64
	Logger         *slog.Logger

	lock  sync.Mutex
	keyed bool
	unkey *time.Timer
	rxBuf []byte
}

// Open opens the serial port name and returns a controller using it.
func Open(name string, opts Options) (*Controller, error) {
	p, err := serial.Open(name, &serial.Mode{BaudRate: opts.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	if err := p.SetReadTimeout(opts.ReadTimeout); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	return NewController(p, opts.SecondsPerByte), nil
}

// NewController wraps an already opened port.
func NewController(p Port, secondsPerByte float64) *Controller {
	return &Controller{
		Port:           p,
		SecondsPerByte: secondsPerByte,
		Logger:         slog.Default(),
		rxBuf:          make([]byte, 512),
	}
}

// StartTransmit raises RTS, writes text to the modem and holds PTT for the text's airtime.
func (c *Controller) StartTransmit(ctx context.Context, text []byte, blocking bool, timeout time.Duration) error {
	if err := c.key(text); err != nil {
		return err
	}

	airtime := radiobridge.Airtime(len(text), c.SecondsPerByte)
	if !blocking {
		c.lock.Lock()
		c.unkey = time.AfterFunc(airtime, func() {
			c.lock.Lock()
			defer c.lock.Unlock()
			_ = c.releaseLocked()
		})
		c.lock.Unlock()
		return nil
	}

	timer := time.NewTimer(min(airtime, timeout))
	defer timer.Stop()
	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case <-timer.C:
		if airtime > timeout {
			err = radiobridge.ErrTimedOut
		}
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	if releaseErr := c.releaseLocked(); releaseErr != nil && err == nil {
		return releaseErr
	}
	return err
}

// key raises RTS and hands text to the modem.
func (c *Controller) key(text []byte) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if err := c.Port.SetRTS(true); err != nil {
		return unavailable("set rts", err)
	}
	c.keyed = true
	if _, err := c.Port.Write(text); err != nil {
		_ = c.releaseLocked()
		return unavailable("write", err)
	}
	if err := c.Port.Drain(); err != nil {
		_ = c.releaseLocked()
		return unavailable("drain", err)
	}
	return nil
}

// AbortTransmit drops PTT.
func (c *Controller) AbortTransmit(context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.releaseLocked()
}

// SetReceiveMode is a no-op: the modem listens whenever RTS is low.
func (c *Controller) SetReceiveMode(context.Context) error {
	return nil
}

// PollReceived returns what the modem printed within one read timeout.
func (c *Controller) PollReceived(context.Context) ([]byte, error) {
	n, err := c.Port.Read(c.rxBuf)
	if err != nil {
		return nil, unavailable("read", err)
	}
	return bytes.Clone(c.rxBuf[:n]), nil
}

func (c *Controller) TransmitState(context.Context) (radiobridge.TxState, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.keyed {
		return radiobridge.TxStateTX, nil
	}
	return radiobridge.TxStateRX, nil
}

func (c *Controller) Close() error {
	c.lock.Lock()
	_ = c.releaseLocked()
	c.lock.Unlock()
	return c.Port.Close()
}

func (c *Controller) releaseLocked() error {
	if c.unkey != nil {
		c.unkey.Stop()
		c.unkey = nil
	}
	if !c.keyed {
		return nil
	}
	c.keyed = false
	if err := c.Port.SetRTS(false); err != nil {
		c.Logger.Warn("rts_release_failed", "error", err)
		return unavailable("clear rts", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: serial %s: %v", radiobridge.ErrChannelUnavailable, op, err)
}
