// Package udp simulates a point-to-point half-duplex channel with UDP datagrams between two
// stations.
package udp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/exepirit/radiobridge/internal/ether"
	"github.com/exepirit/radiobridge/pkg/radiobridge"
)

const maxDatagram = 1500

var _ radiobridge.ChannelController = &Controller{}

// Controller is a radiobridge.ChannelController sending to one peer over UDP.
type Controller struct {
	logger  *slog.Logger
	conn    *net.UDPConn
	peer    atomic.Pointer[net.UDPAddr]
	station *ether.Station
	done    chan struct{}
}

// Listen binds laddr and sends to peer. Chunks are paced at secondsPerByte. A nil logger
// means slog.Default.
func Listen(laddr, peer string, chunkSize int, secondsPerByte float64, logger *slog.Logger) (*Controller, error) {
	if logger == nil {
		logger = slog.Default()
	}
	local, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, err
	}
	remote, err := net.ResolveUDPAddr("udp", peer)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", local)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		logger: logger,
		conn:   conn,
		done:   make(chan struct{}),
	}
	c.peer.Store(remote)
	c.station = ether.NewStation(c.send, chunkSize, secondsPerByte)
	c.station.Logger = logger
	go c.readLoop()
	return c, nil
}

// LocalAddr returns the bound address.
func (c *Controller) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// SetPeer changes the station datagrams are sent to and accepted from.
func (c *Controller) SetPeer(peer *net.UDPAddr) {
	c.peer.Store(peer)
}

func (c *Controller) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Controller) StartTransmit(ctx context.Context, text []byte, blocking bool, timeout time.Duration) error {
	if !blocking {
		go func() {
			if err := c.station.Transmit(context.WithoutCancel(ctx), text, timeout); err != nil {
				c.logger.Warn("transmit_failed", "error", err)
			}
		}()
		return nil
	}
	return c.station.Transmit(ctx, text, timeout)
}

func (c *Controller) AbortTransmit(context.Context) error {
	c.station.Abort()
	return nil
}

func (c *Controller) SetReceiveMode(context.Context) error {
	return nil
}

func (c *Controller) PollReceived(context.Context) ([]byte, error) {
	select {
	case <-c.done:
		return nil, fmt.Errorf("%w: udp socket closed", radiobridge.ErrChannelUnavailable)
	default:
	}
	return c.station.Drain(), nil
}

func (c *Controller) TransmitState(context.Context) (radiobridge.TxState, error) {
	if c.station.Keyed() {
		return radiobridge.TxStateTX, nil
	}
	return radiobridge.TxStateRX, nil
}

func (c *Controller) send(ctx context.Context, datagram []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	}
	if _, err := c.conn.WriteToUDP(datagram, c.peer.Load()); err != nil {
		return fmt.Errorf("%w: udp write: %v", radiobridge.ErrChannelUnavailable, err)
	}
	return nil
}

func (c *Controller) readLoop() {
	defer close(c.done)
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				c.logger.Error("udp_read_failed", "error", err)
			}
			return
		}
		peer := c.peer.Load()
		if !from.IP.Equal(peer.IP) || from.Port != peer.Port {
			c.logger.Debug("datagram_ignored", "from", from.String(), "size", n)
			continue
		}
		c.station.Deliver(buf[:n])
	}
}
