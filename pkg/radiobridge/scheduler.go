package radiobridge

import (
	"math/rand"
	"sync"
	"time"
)

// State tells which side of the half-duplex channel has the floor.
type State int

const (
	StateIdle State = iota
	StateSending
	StateReceiving
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSending:
		return "SENDING"
	case StateReceiving:
		return "RECEIVING"
	default:
		return "UNKNOWN"
	}
}

// Scheduler arbitrates the channel between local transmissions and remote activity.
// One Scheduler must be shared by every bridge that transmits on the same physical channel.
type Scheduler struct {
	cfg PolitenessConfig
	now func() time.Time
	rng *rand.Rand

	mu           sync.Mutex
	state        State
	lastSend     time.Time
	lastRecv     time.Time
	lastActivity time.Time
	// coldSince and coldDelay describe the random wait of the current cold period.
	coldSince time.Time
	coldDelay time.Duration
	onChange  func(State)
}

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// WithRand replaces the source of the cold channel jitter.
func WithRand(rng *rand.Rand) SchedulerOption {
	return func(s *Scheduler) { s.rng = rng }
}

// WithStateHook registers a function called, under the scheduler lock, on every state change.
func WithStateHook(fn func(State)) SchedulerOption {
	return func(s *Scheduler) { s.onChange = fn }
}

// NewScheduler returns an idle scheduler.
func NewScheduler(cfg PolitenessConfig, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		cfg: cfg,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(s.now().UnixNano()))
	}
	return s
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(s.now())
	return s.state
}

// Now returns the scheduler clock.
func (s *Scheduler) Now() time.Time {
	return s.now()
}

// MayTransmit reports whether the channel is idle and the politeness timer has elapsed.
func (s *Scheduler) MayTransmit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.expireLocked(now)
	if s.state != StateIdle {
		return false
	}

	last := s.lastHeardLocked()
	if last.IsZero() || now.Sub(last) >= s.cfg.QuietWindow {
		if s.coldSince.IsZero() {
			s.coldSince = now
			s.coldDelay = s.jitterLocked()
		}
		return now.Sub(s.coldSince) >= s.coldDelay
	}
	return now.Sub(last) >= s.preSendDelayLocked()
}

// PreSendDelay is the politeness delay currently in force: long when we transmitted last, so the
// remote side gets its chance to reply, and short when the remote side was heard last.
func (s *Scheduler) PreSendDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preSendDelayLocked()
}

// BeginSend moves an idle scheduler to SENDING. It fails when the channel is busy or inbound
// activity was seen after since, the moment the caller started its pre-send wait.
func (s *Scheduler) BeginSend(since time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(s.now())
	if s.state != StateIdle || s.lastActivity.After(since) {
		return false
	}
	s.setLocked(StateSending)
	return true
}

// NoteSent records the end of a local transmission, successful or not.
func (s *Scheduler) NoteSent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSend = s.now()
	s.coldSince = time.Time{}
	if s.state == StateSending {
		s.setLocked(StateIdle)
	}
}

// NoteActivity records inbound text on the channel. The remote side holds the floor until a
// message completes, or until ReceiveIdleTimeout passes without further activity.
func (s *Scheduler) NoteActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = s.now()
	s.coldSince = time.Time{}
	if s.state == StateIdle {
		s.setLocked(StateReceiving)
	}
}

// NoteReceived records a successfully decoded inbound message.
func (s *Scheduler) NoteReceived() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.lastRecv = now
	s.lastActivity = now
	s.coldSince = time.Time{}
	if s.state == StateReceiving {
		s.setLocked(StateIdle)
	}
}

// NoteQuiet hands the floor back after inbound activity that produced no message.
func (s *Scheduler) NoteQuiet() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateReceiving {
		s.setLocked(StateIdle)
	}
}

func (s *Scheduler) preSendDelayLocked() time.Duration {
	if s.lastSend.After(s.lastRecv) {
		return s.cfg.LongDelay
	}
	return s.cfg.ShortDelay
}

// lastHeardLocked is the most recent moment either side used the channel.
func (s *Scheduler) lastHeardLocked() time.Time {
	last := s.lastSend
	if s.lastActivity.After(last) {
		last = s.lastActivity
	}
	return last
}

func (s *Scheduler) jitterLocked() time.Duration {
	if s.cfg.IdleJitter <= 0 {
		return 0
	}
	return time.Duration(s.rng.Int63n(int64(s.cfg.IdleJitter)))
}

func (s *Scheduler) expireLocked(now time.Time) {
	if s.state == StateReceiving && now.Sub(s.lastActivity) >= s.cfg.ReceiveIdleTimeout {
		s.setLocked(StateIdle)
	}
}

func (s *Scheduler) setLocked(state State) {
	if s.state == state {
		return
	}
	s.state = state
	if s.onChange != nil {
		s.onChange(state)
	}
}
