package radiobridge

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testPoliteness() PolitenessConfig {
	return PolitenessConfig{
		LongDelay:          10 * time.Second,
		ShortDelay:         5 * time.Second,
		QuietWindow:        30 * time.Second,
		ReceiveIdleTimeout: 15 * time.Second,
	}
}

func TestSchedulerColdChannelSendsImmediately(t *testing.T) {
	clock := newFakeClock()
	s := NewScheduler(testPoliteness(), WithClock(clock.Now))

	assert.Equal(t, StateIdle, s.State())
	assert.True(t, s.MayTransmit())
	require.True(t, s.BeginSend(clock.Now()))
	assert.Equal(t, StateSending, s.State())
	assert.False(t, s.MayTransmit())
	assert.False(t, s.BeginSend(clock.Now()))
}

func TestSchedulerLongDelayAfterOwnSend(t *testing.T) {
	clock := newFakeClock()
	s := NewScheduler(testPoliteness(), WithClock(clock.Now))

	require.True(t, s.BeginSend(clock.Now()))
	s.NoteSent()
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 10*time.Second, s.PreSendDelay())

	clock.Advance(9 * time.Second)
	assert.False(t, s.MayTransmit())
	clock.Advance(time.Second)
	assert.True(t, s.MayTransmit())
}

func TestSchedulerShortDelayAfterRemote(t *testing.T) {
	clock := newFakeClock()
	s := NewScheduler(testPoliteness(), WithClock(clock.Now))

	require.True(t, s.BeginSend(clock.Now()))
	s.NoteSent()
	clock.Advance(2 * time.Second)

	s.NoteActivity()
	assert.Equal(t, StateReceiving, s.State())
	assert.False(t, s.MayTransmit())

	clock.Advance(time.Second)
	s.NoteReceived()
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 5*time.Second, s.PreSendDelay())

	clock.Advance(4 * time.Second)
	assert.False(t, s.MayTransmit())
	clock.Advance(time.Second)
	assert.True(t, s.MayTransmit())
}

func TestSchedulerNoTransmitWhileReceiving(t *testing.T) {
	clock := newFakeClock()
	s := NewScheduler(testPoliteness(), WithClock(clock.Now))

	s.NoteActivity()
	for i := 0; i < 10; i++ {
		clock.Advance(time.Second)
		s.NoteActivity()
		assert.False(t, s.MayTransmit())
		assert.False(t, s.BeginSend(clock.Now()))
	}
}

func TestSchedulerReceiveLapsesAfterIdleTimeout(t *testing.T) {
	clock := newFakeClock()
	s := NewScheduler(testPoliteness(), WithClock(clock.Now))

	s.NoteActivity()
	clock.Advance(14 * time.Second)
	assert.Equal(t, StateReceiving, s.State())
	clock.Advance(time.Second)
	assert.Equal(t, StateIdle, s.State())
}

func TestSchedulerNoteQuiet(t *testing.T) {
	clock := newFakeClock()
	s := NewScheduler(testPoliteness(), WithClock(clock.Now))

	s.NoteActivity()
	s.NoteQuiet()
	assert.Equal(t, StateIdle, s.State())
}

func TestSchedulerBeginSendRechecksActivity(t *testing.T) {
	clock := newFakeClock()
	s := NewScheduler(testPoliteness(), WithClock(clock.Now))

	require.True(t, s.MayTransmit())
	since := clock.Now()
	clock.Advance(100 * time.Millisecond)
	s.NoteActivity()
	s.NoteQuiet()

	assert.False(t, s.BeginSend(since), "activity during the pre-send wait must abort the send")
	assert.True(t, s.BeginSend(clock.Now()))
}

func TestSchedulerColdChannelJitter(t *testing.T) {
	clock := newFakeClock()
	cfg := testPoliteness()
	cfg.IdleJitter = 4 * time.Second
	s := NewScheduler(cfg, WithClock(clock.Now), WithRand(rand.New(rand.NewSource(3))))

	ready := -1
	for i := 0; i <= 40; i++ {
		if s.MayTransmit() {
			ready = i
			break
		}
		clock.Advance(100 * time.Millisecond)
	}
	require.GreaterOrEqual(t, ready, 0, "jitter must be below IdleJitter")
	assert.Equal(t, ready, s.waitedSteps(), "jitter is drawn once per cold period")
}

// waitedSteps returns the drawn cold delay in 100ms steps, rounded up.
func (s *Scheduler) waitedSteps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	step := 100 * time.Millisecond
	return int((s.coldDelay + step - 1) / step)
}

func TestSchedulerStateHook(t *testing.T) {
	clock := newFakeClock()
	var states []State
	s := NewScheduler(testPoliteness(), WithClock(clock.Now), WithStateHook(func(st State) {
		states = append(states, st)
	}))

	require.True(t, s.BeginSend(clock.Now()))
	s.NoteSent()
	s.NoteActivity()
	s.NoteReceived()
	assert.Equal(t, []State{StateSending, StateIdle, StateReceiving, StateIdle}, states)
}

func TestSchedulerMutualExclusion(t *testing.T) {
	s := NewScheduler(PolitenessConfig{ReceiveIdleTimeout: time.Hour, QuietWindow: time.Hour})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		sending int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if !s.BeginSend(s.Now()) {
					continue
				}
				mu.Lock()
				sending++
				maxSeen = max(maxSeen, sending)
				mu.Unlock()

				mu.Lock()
				sending--
				mu.Unlock()
				s.NoteSent()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "IDLE", StateIdle.String())
	assert.Equal(t, "SENDING", StateSending.String())
	assert.Equal(t, "RECEIVING", StateReceiving.String())
}
