// Package mqtt simulates a shared half-duplex channel over an MQTT topic. Every station publishes
// its transmissions to <root>/ether and hears everyone else's.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/exepirit/radiobridge/internal/ether"
	"github.com/exepirit/radiobridge/pkg/radiobridge"
)

var _ radiobridge.ChannelController = &Controller{}

// Controller is a radiobridge.ChannelController over an MQTT broker.
type Controller struct {
	// BrokerURL is the URL of the MQTT broker to connect to.
	BrokerURL string
	// Username is the username for MQTT authentication.
	Username string
	// Password is the password for MQTT authentication.
	Password string
	// AppName prefixes the MQTT client ID.
	AppName string
	// RootTopic is the base topic of the simulated channel.
	RootTopic string
	// ChunkSize is how many bytes of text one published message carries.
	ChunkSize int
	// SecondsPerByte paces publishing like a modem would.
	SecondsPerByte float64
	Logger         *slog.Logger

	client  mqtt.Client
	station *ether.Station
}

// Topic returns the topic all stations of the channel share.
func (c *Controller) Topic() string {
	return c.RootTopic + "/ether"
}

// Connect establishes the broker connection and subscribes to the channel topic.
func (c *Controller) Connect(ctx context.Context) error {
	if c.client != nil && c.client.IsConnected() {
		return nil
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.station = ether.NewStation(c.publish, c.ChunkSize, c.SecondsPerByte)
	c.station.Logger = c.Logger

	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.BrokerURL)
	opts.SetUsername(c.Username)
	opts.SetPassword(c.Password)
	opts.SetClientID(fmt.Sprintf("%s-%s", c.AppName, uuid.NewString()[:8]))
	opts.SetOrderMatters(true)
	opts.SetAutoReconnect(true)

	c.client = mqtt.NewClient(opts)
	if err := wait(ctx, c.client.Connect()); err != nil {
		return fmt.Errorf("%w: failed to connect MQTT: %v", radiobridge.ErrChannelUnavailable, err)
	}
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		c.station.Deliver(msg.Payload())
	}
	if err := wait(ctx, c.client.Subscribe(c.Topic(), 1, handler)); err != nil {
		return fmt.Errorf("failed to subscribe to topic: %w", err)
	}
	c.Logger.Info("mqtt_connected", "broker", c.BrokerURL, "topic", c.Topic())
	return nil
}

// Disconnect closes the broker connection.
func (c *Controller) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(1000)
	}
}

func (c *Controller) StartTransmit(ctx context.Context, text []byte, blocking bool, timeout time.Duration) error {
	if err := c.connected(); err != nil {
		return err
	}
	if !blocking {
		go func() {
			if err := c.station.Transmit(context.WithoutCancel(ctx), text, timeout); err != nil {
				c.Logger.Warn("transmit_failed", "error", err)
			}
		}()
		return nil
	}
	return c.station.Transmit(ctx, text, timeout)
}

func (c *Controller) AbortTransmit(context.Context) error {
	if err := c.connected(); err != nil {
		return err
	}
	c.station.Abort()
	return nil
}

// SetReceiveMode is a no-op: the subscription always listens.
func (c *Controller) SetReceiveMode(context.Context) error {
	return c.connected()
}

func (c *Controller) PollReceived(context.Context) ([]byte, error) {
	if err := c.connected(); err != nil {
		return nil, err
	}
	return c.station.Drain(), nil
}

func (c *Controller) TransmitState(context.Context) (radiobridge.TxState, error) {
	if err := c.connected(); err != nil {
		return radiobridge.TxStateRX, err
	}
	if c.station.Keyed() {
		return radiobridge.TxStateTX, nil
	}
	return radiobridge.TxStateRX, nil
}

func (c *Controller) publish(ctx context.Context, datagram []byte) error {
	if err := wait(ctx, c.client.Publish(c.Topic(), 1, false, datagram)); err != nil {
		return fmt.Errorf("%w: publish: %v", radiobridge.ErrChannelUnavailable, err)
	}
	return nil
}

func (c *Controller) connected() error {
	if c.client == nil || !c.client.IsConnected() {
		return fmt.Errorf("%w: %w", radiobridge.ErrChannelUnavailable, ErrNotConnected)
	}
	return nil
}

// wait blocks until token completes or ctx is done.
func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
		return token.Error()
	}
}
