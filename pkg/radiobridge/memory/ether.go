// Package memory provides an in-process half-duplex ether for tests and loopback demos.
package memory

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/exepirit/radiobridge/pkg/radiobridge"
)

// Transmission is one keyed transmission seen on the ether.
type Transmission struct {
	From string
	Text []byte
}

// Ether connects stations. Text transmitted by one station is delivered to every other station,
// cut into fragments of at most fragmentSize bytes.
type Ether struct {
	mu             sync.Mutex
	fragmentSize   int
	secondsPerByte float64
	stations       []*Station
	log            []Transmission
	keyed          int
	collisions     int
}

// NewEther returns an ether delivering fragments of at most fragmentSize bytes. A fragmentSize of
// zero or less delivers each transmission as one fragment.
func NewEther(fragmentSize int) *Ether {
	return &Ether{fragmentSize: fragmentSize}
}

// SetAirtime makes transmissions take secondsPerByte per byte of text.
func (e *Ether) SetAirtime(secondsPerByte float64) {
	e.mu.Lock()
	e.secondsPerByte = secondsPerByte
	e.mu.Unlock()
}

// Station attaches a new named station.
func (e *Ether) Station(name string) *Station {
	s := &Station{name: name, ether: e}
	e.mu.Lock()
	e.stations = append(e.stations, s)
	e.mu.Unlock()
	return s
}

// Transmissions returns every transmission in the order it was keyed.
func (e *Ether) Transmissions() []Transmission {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Transmission, len(e.log))
	copy(out, e.log)
	return out
}

// Collisions counts transmissions keyed while another station was still transmitting.
func (e *Ether) Collisions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.collisions
}

// Inject delivers text to every station as if an unknown transmitter sent it.
func (e *Ether) Inject(text []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deliverLocked(nil, text)
}

func (e *Ether) key(from *Station, text []byte) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.keyed > 0 {
		e.collisions++
	}
	e.keyed++
	e.log = append(e.log, Transmission{From: from.name, Text: bytes.Clone(text)})
	e.deliverLocked(from, text)
	return radiobridge.Airtime(len(text), e.secondsPerByte)
}

func (e *Ether) unkey() {
	e.mu.Lock()
	e.keyed--
	e.mu.Unlock()
}

func (e *Ether) deliverLocked(from *Station, text []byte) {
	for _, s := range e.stations {
		if s == from {
			continue
		}
		rest := text
		for len(rest) > 0 {
			n := len(rest)
			if e.fragmentSize > 0 && n > e.fragmentSize {
				n = e.fragmentSize
			}
			s.enqueue(bytes.Clone(rest[:n]))
			rest = rest[n:]
		}
	}
}

// Station is one endpoint of an Ether. It implements radiobridge.ChannelController.
type Station struct {
	name  string
	ether *Ether

	mu           sync.Mutex
	rx           [][]byte
	transmitting bool
	failNext     error
	aborts       int
	receiveModes int
}

var _ radiobridge.ChannelController = (*Station)(nil)

// Name returns the station name.
func (s *Station) Name() string { return s.name }

// FailNextTransmit makes the next StartTransmit return err without keying.
func (s *Station) FailNextTransmit(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

// Aborts counts AbortTransmit calls.
func (s *Station) Aborts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborts
}

// ReceiveModes counts SetReceiveMode calls.
func (s *Station) ReceiveModes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receiveModes
}

// Pending returns the number of fragments not yet polled.
func (s *Station) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rx)
}

func (s *Station) StartTransmit(ctx context.Context, text []byte, blocking bool, timeout time.Duration) error {
	s.mu.Lock()
	if err := s.failNext; err != nil {
		s.failNext = nil
		s.mu.Unlock()
		return err
	}
	s.transmitting = true
	s.mu.Unlock()

	airtime := s.ether.key(s, text)
	if !blocking {
		go func() {
			time.Sleep(airtime)
			s.finish()
		}()
		return nil
	}
	defer s.finish()

	wait := min(airtime, timeout)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	if airtime > timeout {
		return radiobridge.ErrTimedOut
	}
	return nil
}

func (s *Station) AbortTransmit(context.Context) error {
	s.mu.Lock()
	s.aborts++
	s.mu.Unlock()
	s.finish()
	return nil
}

func (s *Station) SetReceiveMode(context.Context) error {
	s.mu.Lock()
	s.receiveModes++
	s.mu.Unlock()
	return nil
}

// PollReceived returns the oldest undelivered fragment, or nothing.
func (s *Station) PollReceived(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rx) == 0 {
		return nil, nil
	}
	fragment := s.rx[0]
	s.rx = s.rx[1:]
	return fragment, nil
}

func (s *Station) TransmitState(context.Context) (radiobridge.TxState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transmitting {
		return radiobridge.TxStateTX, nil
	}
	return radiobridge.TxStateRX, nil
}

func (s *Station) enqueue(fragment []byte) {
	s.mu.Lock()
	s.rx = append(s.rx, fragment)
	s.mu.Unlock()
}

func (s *Station) finish() {
	s.mu.Lock()
	wasKeyed := s.transmitting
	s.transmitting = false
	s.mu.Unlock()
	if wasKeyed {
		s.ether.unkey()
	}
}
