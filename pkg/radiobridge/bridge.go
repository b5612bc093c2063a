package radiobridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Bridge shuttles one TCP stream across a half-duplex text channel.
type Bridge struct {
	ID        string
	Conn      io.ReadWriteCloser
	Channel   ChannelController
	Scheduler *Scheduler
	Config    Config
	Logger    *slog.Logger
	Stats     Stats

	outbound *FrameQueue
	inbound  *FrameQueue
}

// BridgeOption customizes a Bridge.
type BridgeOption func(*Bridge)

// WithScheduler makes the bridge transmit through a scheduler shared with other bridges on the
// same physical channel.
func WithScheduler(s *Scheduler) BridgeOption {
	return func(b *Bridge) { b.Scheduler = s }
}

func WithLogger(logger *slog.Logger) BridgeOption {
	return func(b *Bridge) { b.Logger = logger }
}

func WithStats(stats Stats) BridgeOption {
	return func(b *Bridge) { b.Stats = stats }
}

// NewBridge validates cfg and prepares a bridge between conn and channel.
func NewBridge(conn io.ReadWriteCloser, channel ChannelController, cfg Config, opts ...BridgeOption) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Bridge{
		ID:       uuid.NewString(),
		Conn:     conn,
		Channel:  channel,
		Config:   cfg,
		Logger:   slog.Default(),
		Stats:    NopStats{},
		outbound: NewFrameQueue(),
		inbound:  NewFrameQueue(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.Logger = b.Logger.With("bridge_id", b.ID)
	if b.Scheduler == nil {
		b.Scheduler = NewScheduler(cfg.Politeness, WithStateHook(b.Stats.StateChanged))
	}
	return b, nil
}

// Run bridges until the stream closes, ctx is done or the channel fails. A closed stream and a
// cancelled ctx are a clean shutdown and return nil.
func (b *Bridge) Run(ctx context.Context) error {
	codec, err := NewCodec([]byte(b.Config.Prefix), []byte(b.Config.Suffix))
	if err != nil {
		return err
	}
	pump := &Pump{
		Channel:   b.Channel,
		Scheduler: b.Scheduler,
		Codec:     codec,
		Config:    b.Config,
		Outbound:  b.outbound,
		Inbound:   b.inbound,
		Logger:    b.Logger,
		Stats:     b.Stats,
	}

	b.Logger.Info("bridge_started")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.readStream(gctx) })
	g.Go(func() error { return b.writeStream(gctx) })
	g.Go(func() error { return pump.SendLoop(gctx) })
	g.Go(func() error { return pump.ReceiveLoop(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		_ = b.Conn.Close()
		return nil
	})
	err = g.Wait()
	pump.release(ctx)

	if n := b.outbound.Len(); n > 0 {
		b.Logger.Warn("frames_dropped",
			"direction", Outbound,
			"count", n,
			"reason", "teardown",
		)
	}
	if err == nil || errors.Is(err, ErrStreamClosed) {
		b.Logger.Info("bridge_closed")
		return nil
	}
	b.Logger.Error("bridge_failed", "error", err)
	return err
}

// readStream turns every read of the TCP stream into one outbound frame.
func (b *Bridge) readStream(ctx context.Context) error {
	var limiter *rate.Limiter
	if b.Config.IngressRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(b.Config.IngressRate), max(1, b.Config.IngressBurst))
	}

	buf := make([]byte, b.Config.ReadBufferSize)
	for {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil
			}
		}
		n, err := b.Conn.Read(buf)
		if n > 0 {
			b.outbound.PushBack(bytes.Clone(buf[:n]))
			b.Logger.Debug("frame_queued",
				"direction", Outbound,
				"size", n,
				"queue_len", b.outbound.Len(),
			)
			b.Stats.FrameQueued(Outbound, n)
		}
		if err != nil {
			return b.streamError(ctx, "read", err)
		}
	}
}

// writeStream writes every inbound frame to the TCP stream verbatim.
func (b *Bridge) writeStream(ctx context.Context) error {
	for ctx.Err() == nil {
		if !b.inbound.Wait(ctx, b.Config.PollInterval) {
			continue
		}
		frame, ok := b.inbound.PopFront()
		if !ok {
			continue
		}
		if _, err := b.Conn.Write(frame); err != nil {
			b.Stats.FrameDiscarded(Inbound, len(frame), "stream closed")
			return b.streamError(ctx, "write", err)
		}
		b.Stats.FrameDelivered(Inbound, len(frame))
	}
	return nil
}

func (b *Bridge) streamError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		b.Logger.Info("stream_closed", "op", op)
	} else {
		b.Logger.Warn("stream_closed", "op", op, "error", err)
	}
	return fmt.Errorf("%w: %s", ErrStreamClosed, op)
}

// AcceptOne accepts a single connection from ln, closes ln and bridges the connection.
func AcceptOne(ctx context.Context, ln net.Listener, channel ChannelController, cfg Config, opts ...BridgeOption) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	conn, err := ln.Accept()
	stop()
	_ = ln.Close()
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("accept: %w", err)
	}
	return bridgeConn(ctx, conn, channel, cfg, opts...)
}

// ListenAndBridge listens on addr and bridges the first connection it accepts.
func ListenAndBridge(ctx context.Context, addr string, channel ChannelController, cfg Config, opts ...BridgeOption) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return AcceptOne(ctx, ln, channel, cfg, opts...)
}

// DialAndBridge connects to addr and bridges the connection.
func DialAndBridge(ctx context.Context, addr string, channel ChannelController, cfg Config, opts ...BridgeOption) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	return bridgeConn(ctx, conn, channel, cfg, opts...)
}

func bridgeConn(ctx context.Context, conn net.Conn, channel ChannelController, cfg Config, opts ...BridgeOption) error {
	b, err := NewBridge(conn, channel, cfg, opts...)
	if err != nil {
		_ = conn.Close()
		return err
	}
	b.Logger.Info("stream_connected",
		"local_addr", conn.LocalAddr().String(),
		"remote_addr", conn.RemoteAddr().String(),
	)
	return b.Run(ctx)
}
