// Package config loads radiobridge settings from a TOML file, a .env file and RADIOBRIDGE_*
// environment variables, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/exepirit/radiobridge/pkg/radiobridge"
)

const envPrefix = "RADIOBRIDGE_"

// Config is everything the radiobridge command needs.
type Config struct {
	Bridge radiobridge.Config

	// Channel is the channel controller URL, e.g. fldigi://127.0.0.1:7362.
	Channel     string
	LogLevel    string
	LogFormat   string
	MetricsAddr string

	// Modem, Carrier and RigMode are applied to channels that can be configured.
	Modem   string
	Carrier int
	RigMode string
}

// Default returns the defaults of every setting.
func Default() Config {
	return Config{
		Bridge:    radiobridge.DefaultConfig(),
		Channel:   "fldigi://127.0.0.1:7362",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// fileConfig is the config.toml key mapping. Durations are strings such as "250ms".
type fileConfig struct {
	Channel     string `toml:"channel"`
	LogLevel    string `toml:"log_level"`
	LogFormat   string `toml:"log_format"`
	MetricsAddr string `toml:"metrics_addr"`

	Modem   string `toml:"modem"`
	Carrier int    `toml:"carrier"`
	RigMode string `toml:"rig_mode"`

	PollInterval       string             `toml:"poll_interval"`
	Prefix             string             `toml:"prefix"`
	Suffix             string             `toml:"suffix"`
	Mode               string             `toml:"mode"`
	ModeMultipliers    map[string]float64 `toml:"mode_multipliers"`
	MinTransmitTimeout string             `toml:"min_transmit_timeout"`
	ReadBufferSize     int                `toml:"read_buffer_size"`
	IngressRate        float64            `toml:"ingress_rate"`
	IngressBurst       int                `toml:"ingress_burst"`
	MaxPending         int                `toml:"max_pending"`

	Politeness struct {
		LongDelay          string `toml:"long_delay"`
		ShortDelay         string `toml:"short_delay"`
		QuietWindow        string `toml:"quiet_window"`
		IdleJitter         string `toml:"idle_jitter"`
		ListenBeforeTalk   string `toml:"listen_before_talk"`
		ReceiveIdleTimeout string `toml:"receive_idle_timeout"`
	} `toml:"politeness"`
}

// Load builds the configuration. An empty path skips the TOML file; a missing .env is ignored.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.loadEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.Bridge.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config %s: unknown key %s", path, undecoded[0])
	}

	setString(meta, "channel", &c.Channel, raw.Channel)
	setString(meta, "log_level", &c.LogLevel, raw.LogLevel)
	setString(meta, "log_format", &c.LogFormat, raw.LogFormat)
	setString(meta, "metrics_addr", &c.MetricsAddr, raw.MetricsAddr)
	setString(meta, "modem", &c.Modem, raw.Modem)
	setString(meta, "rig_mode", &c.RigMode, raw.RigMode)
	if meta.IsDefined("carrier") {
		c.Carrier = raw.Carrier
	}

	b := &c.Bridge
	setString(meta, "prefix", &b.Prefix, raw.Prefix)
	setString(meta, "suffix", &b.Suffix, raw.Suffix)
	setString(meta, "mode", &b.Mode, raw.Mode)
	if meta.IsDefined("mode_multipliers") {
		for name, m := range raw.ModeMultipliers {
			b.ModeMultipliers[name] = m
		}
	}
	if meta.IsDefined("read_buffer_size") {
		b.ReadBufferSize = raw.ReadBufferSize
	}
	if meta.IsDefined("ingress_rate") {
		b.IngressRate = raw.IngressRate
	}
	if meta.IsDefined("ingress_burst") {
		b.IngressBurst = raw.IngressBurst
	}
	if meta.IsDefined("max_pending") {
		b.MaxPending = raw.MaxPending
	}

	p := &b.Politeness
	durations := []struct {
		key    []string
		target *time.Duration
		value  string
	}{
		{[]string{"poll_interval"}, &b.PollInterval, raw.PollInterval},
		{[]string{"min_transmit_timeout"}, &b.MinTransmitTimeout, raw.MinTransmitTimeout},
		{[]string{"politeness", "long_delay"}, &p.LongDelay, raw.Politeness.LongDelay},
		{[]string{"politeness", "short_delay"}, &p.ShortDelay, raw.Politeness.ShortDelay},
		{[]string{"politeness", "quiet_window"}, &p.QuietWindow, raw.Politeness.QuietWindow},
		{[]string{"politeness", "idle_jitter"}, &p.IdleJitter, raw.Politeness.IdleJitter},
		{[]string{"politeness", "listen_before_talk"}, &p.ListenBeforeTalk, raw.Politeness.ListenBeforeTalk},
		{[]string{"politeness", "receive_idle_timeout"}, &p.ReceiveIdleTimeout, raw.Politeness.ReceiveIdleTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("load config %s: invalid duration for %s: %v", path, strings.Join(d.key, "."), err)
		}
		*d.target = parsed
	}
	return nil
}

func setString(meta toml.MetaData, key string, target *string, value string) {
	if meta.IsDefined(key) {
		*target = value
	}
}

func (c *Config) loadEnv() error {
	b := &c.Bridge
	p := &b.Politeness
	loaders := []func() error{
		func() error { return loadEnvString(&c.Channel, "CHANNEL") },
		func() error { return loadEnvString(&c.LogLevel, "LOG_LEVEL") },
		func() error { return loadEnvString(&c.LogFormat, "LOG_FORMAT") },
		func() error { return loadEnvString(&c.MetricsAddr, "METRICS_ADDR") },
		func() error { return loadEnvString(&c.Modem, "MODEM") },
		func() error { return loadEnvInt(&c.Carrier, "CARRIER") },
		func() error { return loadEnvString(&c.RigMode, "RIG_MODE") },
		func() error { return loadEnvDuration(&b.PollInterval, "POLL_INTERVAL") },
		func() error { return loadEnvString(&b.Prefix, "PREFIX") },
		func() error { return loadEnvString(&b.Suffix, "SUFFIX") },
		func() error { return loadEnvString(&b.Mode, "MODE") },
		func() error { return loadEnvDuration(&b.MinTransmitTimeout, "MIN_TRANSMIT_TIMEOUT") },
		func() error { return loadEnvInt(&b.ReadBufferSize, "READ_BUFFER_SIZE") },
		func() error { return loadEnvFloat(&b.IngressRate, "INGRESS_RATE") },
		func() error { return loadEnvInt(&b.IngressBurst, "INGRESS_BURST") },
		func() error { return loadEnvInt(&b.MaxPending, "MAX_PENDING") },
		func() error { return loadEnvDuration(&p.LongDelay, "LONG_DELAY") },
		func() error { return loadEnvDuration(&p.ShortDelay, "SHORT_DELAY") },
		func() error { return loadEnvDuration(&p.QuietWindow, "QUIET_WINDOW") },
		func() error { return loadEnvDuration(&p.IdleJitter, "IDLE_JITTER") },
		func() error { return loadEnvDuration(&p.ListenBeforeTalk, "LISTEN_BEFORE_TALK") },
		func() error { return loadEnvDuration(&p.ReceiveIdleTimeout, "RECEIVE_IDLE_TIMEOUT") },
	}
	for _, load := range loaders {
		if err := load(); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions leave target untouched when the variable is unset.
func loadEnvString(target *string, key string) error {
	if value, ok := os.LookupEnv(envPrefix + key); ok {
		*target = value
	}
	return nil
}

func loadEnvInt(target *int, key string) error {
	if value, ok := os.LookupEnv(envPrefix + key); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s%s: %v", envPrefix, key, err)
		}
		*target = parsed
	}
	return nil
}

func loadEnvFloat(target *float64, key string) error {
	if value, ok := os.LookupEnv(envPrefix + key); ok {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number value for %s%s: %v", envPrefix, key, err)
		}
		*target = parsed
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string) error {
	if value, ok := os.LookupEnv(envPrefix + key); ok {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s%s: %v", envPrefix, key, err)
		}
		*target = parsed
	}
	return nil
}
