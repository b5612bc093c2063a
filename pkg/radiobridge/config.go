package radiobridge

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// PolitenessConfig holds the turn-taking delays of the half-duplex scheduler.
type PolitenessConfig struct {
	// LongDelay must pass after our own transmission before we may transmit again.
	LongDelay time.Duration
	// ShortDelay must pass after the remote side was heard before we may transmit.
	ShortDelay time.Duration
	// QuietWindow is how long the channel may stay silent before it counts as cold.
	QuietWindow time.Duration
	// IdleJitter bounds the random extra delay before the first send on a cold channel.
	IdleJitter time.Duration
	// ListenBeforeTalk is the pre-send wait after which the channel is re-checked.
	ListenBeforeTalk time.Duration
	// ReceiveIdleTimeout returns a receiving scheduler to idle when fragments stop arriving.
	ReceiveIdleTimeout time.Duration
}

// Config is the configuration of one bridge and its scheduler.
type Config struct {
	PollInterval time.Duration
	Prefix       string
	Suffix       string
	Politeness   PolitenessConfig

	// Mode selects the entry of ModeMultipliers used to size transmit timeouts.
	Mode               string
	ModeMultipliers    map[string]float64
	MinTransmitTimeout time.Duration

	// ReadBufferSize caps the size of one frame read from the TCP stream.
	ReadBufferSize int
	// IngressRate limits frames per second read from the TCP stream. Zero disables the limit.
	IngressRate  float64
	IngressBurst int
	// MaxPending caps the bytes the reassembler holds while waiting for a suffix.
	MaxPending int
}

// DefaultConfig returns the settings the bridge was tuned with on PSK125R.
func DefaultConfig() Config {
	return Config{
		PollInterval: 250 * time.Millisecond,
		Prefix:       "BTC",
		Suffix:       "\r\n",
		Politeness: PolitenessConfig{
			LongDelay:          10 * time.Second,
			ShortDelay:         5 * time.Second,
			QuietWindow:        30 * time.Second,
			IdleJitter:         5 * time.Second,
			ListenBeforeTalk:   500 * time.Millisecond,
			ReceiveIdleTimeout: 15 * time.Second,
		},
		Mode:               DefaultMode.Name,
		ModeMultipliers:    DefaultModeMultipliers(),
		MinTransmitTimeout: 5 * time.Second,
		ReadBufferSize:     1024,
		IngressBurst:       1,
		MaxPending:         64 * 1024,
	}
}

// Validate reports the first problem that would make the bridge misbehave.
func (c Config) Validate() error {
	var problems []string
	if c.PollInterval <= 0 {
		problems = append(problems, "poll interval must be positive")
	}
	if c.Prefix == "" || c.Suffix == "" {
		problems = append(problems, "prefix and suffix must not be empty")
	}
	p := c.Politeness
	if p.ShortDelay < 0 || p.IdleJitter < 0 || p.ListenBeforeTalk < 0 {
		problems = append(problems, "politeness delays must not be negative")
	}
	if p.LongDelay <= p.ShortDelay {
		problems = append(problems, "long delay must exceed short delay")
	}
	if p.ReceiveIdleTimeout <= 0 {
		problems = append(problems, "receive idle timeout must be positive")
	}
	for name, m := range c.ModeMultipliers {
		if m <= 0 {
			problems = append(problems, fmt.Sprintf("multiplier of mode %s must be positive", name))
		}
	}
	if c.ReadBufferSize <= 0 {
		problems = append(problems, "read buffer size must be positive")
	}
	if c.IngressRate < 0 {
		problems = append(problems, "ingress rate must not be negative")
	}
	if c.MaxPending <= len(c.Prefix)+len(c.Suffix) {
		problems = append(problems, "max pending must exceed the token lengths")
	} else if c.ReadBufferSize > 0 && c.MaxFrameLen() > c.MaxPending {
		// a full-size frame would overflow the reassembler on every delivery
		problems = append(problems, fmt.Sprintf("max pending must hold an encoded frame of %d bytes", c.MaxFrameLen()))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	if _, err := NewCodec([]byte(c.Prefix), []byte(c.Suffix)); err != nil {
		return err
	}
	return nil
}

// MaxFrameLen is the encoded length of the largest frame read from the TCP stream.
func (c Config) MaxFrameLen() int {
	return len(c.Prefix) + base64.StdEncoding.EncodedLen(c.ReadBufferSize) + len(c.Suffix)
}

// SecondsPerByte returns the multiplier of the configured mode, falling back to DefaultMode.
func (c Config) SecondsPerByte() float64 {
	if m, ok := c.ModeMultipliers[c.Mode]; ok {
		return m
	}
	if m, ok := c.ModeMultipliers[DefaultMode.Name]; ok {
		return m
	}
	return DefaultMode.SecondsPerByte
}

// TransmitTimeout is the longest a transmission of encodedLen bytes is expected to take.
func (c Config) TransmitTimeout(encodedLen int) time.Duration {
	d := Airtime(encodedLen, c.SecondsPerByte())
	if d < c.MinTransmitTimeout {
		return c.MinTransmitTimeout
	}
	return d
}

// Airtime is the expected time to transmit n bytes at the given rate.
func Airtime(n int, secondsPerByte float64) time.Duration {
	return time.Duration(float64(n) * secondsPerByte * float64(time.Second))
}
