package command

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/exepirit/radiobridge/pkg/radiobridge"
	"github.com/exepirit/radiobridge/pkg/radiobridge/fldigi"
	"github.com/exepirit/radiobridge/pkg/radiobridge/mqtt"
	"github.com/exepirit/radiobridge/pkg/radiobridge/serial"
	"github.com/exepirit/radiobridge/pkg/radiobridge/udp"
)

// channelSpec is a parsed channel URL.
type channelSpec struct {
	Scheme string
	// Addr is host:port for network channels and the device path for serial.
	Addr      string
	Peer      string
	RootTopic string
	Baud      int
	ChunkSize int
	Username  string
	Password  string
}

func parseChannel(raw string) (channelSpec, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return channelSpec{}, fmt.Errorf("channel URL is not valid: %w", err)
	}
	q := u.Query()
	spec := channelSpec{Scheme: u.Scheme, ChunkSize: 16}
	if v := q.Get("chunk"); v != "" {
		if spec.ChunkSize, err = strconv.Atoi(v); err != nil || spec.ChunkSize <= 0 {
			return channelSpec{}, fmt.Errorf("invalid chunk size %q", v)
		}
	}

	switch u.Scheme {
	case "fldigi":
		spec.Addr = u.Host
		if spec.Addr == "" {
			spec.Addr = fldigi.DefaultAddress
		}
	case "serial":
		spec.Addr = u.Path
		if u.Opaque != "" {
			spec.Addr = u.Opaque
		}
		spec.Baud = serial.DefaultOptions().BaudRate
		if v := q.Get("baud"); v != "" {
			if spec.Baud, err = strconv.Atoi(v); err != nil {
				return channelSpec{}, fmt.Errorf("invalid baud rate %q", v)
			}
		}
		if spec.Addr == "" {
			return channelSpec{}, fmt.Errorf("serial channel needs a device path")
		}
	case "mqtt", "tcp", "ssl", "ws", "wss":
		spec.Addr = u.Host
		spec.RootTopic = strings.TrimLeft(u.Path, "/")
		if spec.RootTopic == "" {
			spec.RootTopic = "radiobridge"
		}
		if u.User != nil {
			spec.Username = u.User.Username()
			spec.Password, _ = u.User.Password()
		}
	case "udp":
		spec.Addr = u.Host
		spec.Peer = q.Get("peer")
		if spec.Peer == "" {
			return channelSpec{}, fmt.Errorf("udp channel needs a peer")
		}
	default:
		return channelSpec{}, fmt.Errorf("unsupported channel scheme %q", u.Scheme)
	}
	return spec, nil
}

// openChannel connects the controller described by raw. The returned closer releases it.
func openChannel(ctx context.Context, raw string, bridgeCfg radiobridge.Config) (radiobridge.ChannelController, io.Closer, error) {
	spec, err := parseChannel(raw)
	if err != nil {
		return nil, nil, err
	}
	spb := bridgeCfg.SecondsPerByte()

	switch spec.Scheme {
	case "fldigi":
		c, err := fldigi.New("http://"+spec.Addr+"/RPC2", nil)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	case "serial":
		opts := serial.DefaultOptions()
		opts.BaudRate = spec.Baud
		opts.SecondsPerByte = spb
		c, err := serial.Open(spec.Addr, opts)
		if err != nil {
			return nil, nil, err
		}
		c.Logger = logger
		return c, c, nil
	case "udp":
		c, err := udp.Listen(spec.Addr, spec.Peer, spec.ChunkSize, spb, logger)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	default:
		scheme := spec.Scheme
		if scheme == "mqtt" {
			scheme = "tcp"
		}
		c := &mqtt.Controller{
			BrokerURL:      scheme + "://" + spec.Addr,
			Username:       spec.Username,
			Password:       spec.Password,
			AppName:        "radiobridge",
			RootTopic:      spec.RootTopic,
			ChunkSize:      spec.ChunkSize,
			SecondsPerByte: spb,
			Logger:         logger,
		}
		if err := c.Connect(ctx); err != nil {
			return nil, nil, err
		}
		return c, closerFunc(c.Disconnect), nil
	}
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}

// configureChannel applies modem and rig settings to channels that support them.
func configureChannel(ctx context.Context, ch radiobridge.ChannelController) error {
	c, ok := ch.(*fldigi.Controller)
	if !ok {
		if cfg.Modem != "" || cfg.Carrier != 0 || cfg.RigMode != "" {
			logger.Warn("channel_settings_ignored", "reason", "channel is not configurable")
		}
		return nil
	}
	settings := fldigi.Settings{Modem: cfg.Modem, Carrier: cfg.Carrier, RigMode: cfg.RigMode}
	if settings == (fldigi.Settings{}) {
		return nil
	}
	if err := c.Configure(ctx, settings); err != nil {
		return fmt.Errorf("configure fldigi: %w", err)
	}
	logger.Info("channel_configured",
		"modem", settings.Modem,
		"carrier", settings.Carrier,
		"rig_mode", settings.RigMode,
	)
	return c.ClearBuffers(ctx)
}
