package ether

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/exepirit/radiobridge/pkg/radiobridge"
)

// PublishFunc puts one encoded envelope on the network.
type PublishFunc func(ctx context.Context, datagram []byte) error

// Station implements the channel side shared by simulated ethers: it cuts transmissions into
// paced chunks and buffers chunks heard from other stations until polled.
type Station struct {
	ID             []byte
	ChunkSize      int
	SecondsPerByte float64
	Logger         *slog.Logger

	publish PublishFunc

	mu     sync.Mutex
	seq    uint64
	keyed  bool
	abort  chan struct{}
	rx     bytes.Buffer
	lastRx map[string]uint64
}

// NewStation returns a station with a random id publishing through publish.
func NewStation(publish PublishFunc, chunkSize int, secondsPerByte float64) *Station {
	id := uuid.New()
	return &Station{
		ID:             id[:],
		ChunkSize:      chunkSize,
		SecondsPerByte: secondsPerByte,
		Logger:         slog.Default(),
		publish:        publish,
		lastRx:         make(map[string]uint64),
	}
}

// Transmit publishes text chunk by chunk, pacing chunks at the simulated airtime. It returns
// radiobridge.ErrTimedOut when the whole text does not fit into timeout.
func (s *Station) Transmit(ctx context.Context, text []byte, timeout time.Duration) error {
	abort := make(chan struct{})
	s.mu.Lock()
	s.keyed = true
	s.abort = abort
	s.mu.Unlock()
	defer s.unkey(abort)

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	chunkSize := s.ChunkSize
	if chunkSize <= 0 {
		chunkSize = len(text)
	}
	for rest := text; len(rest) > 0; {
		n := min(chunkSize, len(rest))
		env := Envelope{Sender: s.ID, Seq: s.nextSeq(), Chunk: rest[:n]}
		if err := s.publish(ctx, env.Marshal()); err != nil {
			return err
		}
		rest = rest[n:]

		pace := time.NewTimer(radiobridge.Airtime(n, s.SecondsPerByte))
		select {
		case <-ctx.Done():
			pace.Stop()
			return ctx.Err()
		case <-abort:
			pace.Stop()
			return nil
		case <-deadline.C:
			pace.Stop()
			return radiobridge.ErrTimedOut
		case <-pace.C:
		}
	}
	return nil
}

// Abort stops a transmission in progress.
func (s *Station) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.abort != nil {
		close(s.abort)
		s.abort = nil
	}
}

// Keyed reports whether a transmission is in progress.
func (s *Station) Keyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keyed
}

// Deliver accepts one datagram from the network. Own envelopes are ignored.
func (s *Station) Deliver(datagram []byte) {
	var env Envelope
	if err := env.Unmarshal(datagram); err != nil {
		s.Logger.Warn("envelope_discarded", "size", len(datagram), "error", err)
		return
	}
	if bytes.Equal(env.Sender, s.ID) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sender := string(env.Sender)
	if last, ok := s.lastRx[sender]; ok && env.Seq != last+1 {
		s.Logger.Warn("chunk_gap",
			"expected_seq", last+1,
			"seq", env.Seq,
		)
	}
	s.lastRx[sender] = env.Seq
	s.rx.Write(env.Chunk)
}

// Drain returns everything heard since the previous call.
func (s *Station) Drain() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rx.Len() == 0 {
		return nil
	}
	out := bytes.Clone(s.rx.Bytes())
	s.rx.Reset()
	return out
}

func (s *Station) nextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

func (s *Station) unkey(abort chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.abort == abort {
		s.abort = nil
	}
	s.keyed = false
}
