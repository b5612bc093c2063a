package radiobridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// releaseTimeout bounds the abort and receive-mode commands sent after a transmission.
const releaseTimeout = 5 * time.Second

// Pump runs the send and receive loops of one bridged connection.
type Pump struct {
	Channel   ChannelController
	Scheduler *Scheduler
	Codec     *Codec
	Config    Config
	Outbound  *FrameQueue
	Inbound   *FrameQueue
	Logger    *slog.Logger
	Stats     Stats
}

// SendLoop drains the outbound queue onto the channel until ctx is done. It returns an error
// only when the channel becomes unavailable.
func (p *Pump) SendLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		if !p.Outbound.Wait(ctx, p.Config.PollInterval) {
			continue
		}
		if !p.Scheduler.MayTransmit() {
			sleep(ctx, p.Config.PollInterval)
			continue
		}

		frame, ok := p.Outbound.PopFront()
		if !ok {
			continue
		}
		since := p.Scheduler.Now()
		if !sleep(ctx, p.Config.Politeness.ListenBeforeTalk) {
			p.Outbound.PushFront(frame)
			return nil
		}
		if !p.Scheduler.BeginSend(since) {
			p.Outbound.PushFront(frame)
			p.logger().Debug("send_deferred",
				"size", len(frame),
				"reason", "channel busy",
			)
			continue
		}
		if err := p.transmit(ctx, frame); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pump) transmit(ctx context.Context, frame []byte) error {
	text := p.Codec.Encode(frame)
	timeout := p.Config.TransmitTimeout(len(text))
	p.logger().Debug("transmit_started",
		"size", len(frame),
		"encoded_size", len(text),
		"timeout", timeout,
	)

	// a frame already on air is finished even during teardown
	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout+releaseTimeout)
	err := p.Channel.StartTransmit(txCtx, text, true, timeout)
	cancel()
	p.release(ctx)
	p.Scheduler.NoteSent()

	switch {
	case err == nil:
		p.logger().Info("frame_sent",
			"direction", Outbound,
			"size", len(frame),
		)
		p.stats().FrameDelivered(Outbound, len(frame))
		return nil
	case errors.Is(err, ErrTimedOut):
		// the frame counts as sent: a retry could deliver it twice
		p.logger().Warn("transmit_timed_out",
			"direction", Outbound,
			"size", len(frame),
			"timeout", timeout,
		)
		p.stats().TransmitTimedOut(len(frame))
		return nil
	default:
		return channelError("transmit", err)
	}
}

// release returns the channel to receive-ready state even when ctx is already cancelled.
func (p *Pump) release(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := p.Channel.AbortTransmit(ctx); err != nil {
		p.logger().Warn("abort_transmit_failed", "error", err)
	}
	if err := p.Channel.SetReceiveMode(ctx); err != nil {
		p.logger().Warn("set_receive_mode_failed", "error", err)
	}
}

// ReceiveLoop polls the channel and pushes decoded frames to the inbound queue until ctx is done.
// It returns an error only when the channel becomes unavailable.
func (p *Pump) ReceiveLoop(ctx context.Context) error {
	rx := &receiver{reasm: NewReassembler(p.Codec, p.Config.MaxPending)}
	rx.reasm.OnDiscard = func(size int, reason string) {
		level := slog.LevelWarn
		if reason == DiscardNoise {
			level = slog.LevelDebug
		}
		p.logger().Log(ctx, level, "fragment_discarded",
			"direction", Inbound,
			"size", size,
			"reason", reason,
		)
		p.stats().FrameDiscarded(Inbound, size, reason)
	}

	ticker := time.NewTicker(p.Config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := p.pollOnce(ctx, rx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// receiver is the state ReceiveLoop carries between polls.
type receiver struct {
	reasm        *Reassembler
	lastFragment time.Time
}

func (p *Pump) pollOnce(ctx context.Context, rx *receiver) error {
	reasm := rx.reasm
	state, err := p.Channel.TransmitState(ctx)
	if err != nil {
		return channelError("transmit state", err)
	}
	if state == TxStateTX {
		return nil
	}

	fragment, err := p.Channel.PollReceived(ctx)
	if err != nil {
		return channelError("poll", err)
	}
	now := p.Scheduler.Now()
	if len(fragment) > 0 {
		rx.lastFragment = now
		p.Scheduler.NoteActivity()
	} else if reasm.InMessage() && now.Sub(rx.lastFragment) >= p.Config.Politeness.ReceiveIdleTimeout {
		// the suffix was lost on air; a later prefix would otherwise merge into this message
		reasm.Expire()
	}

	for {
		msg, ok := reasm.OnFragment(fragment)
		fragment = nil
		if !ok {
			break
		}
		payload, err := p.Codec.Decode(msg)
		if err != nil {
			p.logger().Warn("frame_discarded",
				"direction", Inbound,
				"size", len(msg),
				"reason", "malformed",
				"error", err,
			)
			p.stats().FrameDiscarded(Inbound, len(msg), "malformed")
			p.Scheduler.NoteQuiet()
			continue
		}
		p.Scheduler.NoteReceived()
		p.Inbound.PushBack(payload)
		p.logger().Info("frame_received",
			"direction", Inbound,
			"size", len(payload),
		)
		p.stats().FrameQueued(Inbound, len(payload))
	}
	if reasm.InMessage() {
		// the next message already started in the carried-over bytes
		p.Scheduler.NoteActivity()
	}
	return nil
}

func (p *Pump) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p *Pump) stats() Stats {
	if p.Stats == nil {
		return NopStats{}
	}
	return p.Stats
}

func channelError(op string, err error) error {
	if errors.Is(err, ErrChannelUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrChannelUnavailable, op, err)
}

// sleep waits for d or until ctx is done, reporting whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
