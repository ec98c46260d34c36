// Package transport provides the MQTT bus carrying receiver input and
// solution output messages between the daemon and its peers.
package transport

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout = 10 * time.Second

	// disconnectQuiesce is how long Close waits for in-flight
	// messages before dropping the connection, in milliseconds.
	disconnectQuiesce = 250
)

// Handler receives the payload of each message arriving on a
// subscribed topic. Handlers run on the paho router goroutine; hand
// work off to another goroutine instead of blocking here.
type Handler func(topic string, payload []byte)

// Bus is a thin wrapper over a paho MQTT client. All traffic is QoS 0
// JSON; reconnection is left to the client's auto-reconnect.
type Bus struct {
	logger   *slog.Logger
	broker   string
	clientID string
	client   mqtt.Client
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger. By default logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates a Bus for the given broker URL and client identifier.
// No connection is made until Connect is called.
func New(broker, clientID string, opts ...Option) *Bus {
	b := &Bus{
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		broker:   broker,
		clientID: clientID,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Connect dials the broker and blocks until the session is
// established or the connect timeout elapses.
func (b *Bus) Connect() error {
	opts := mqtt.NewClientOptions().
		AddBroker(b.broker).
		SetClientID(b.clientID).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connecting to %s: %w", b.broker, token.Error())
	}

	b.client = client
	b.logger.Info("connected to MQTT broker", slog.String("broker", b.broker))

	return nil
}

// Publish sends payload on topic at QoS 0, unretained.
func (b *Bus) Publish(topic string, payload []byte) error {
	if b.client == nil {
		return fmt.Errorf("publishing to %s: not connected", topic)
	}

	if token := b.client.Publish(topic, 0, false, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	return nil
}

// Subscribe registers handler for topic at QoS 0. Messages on a
// single topic are delivered to the handler in arrival order.
func (b *Bus) Subscribe(topic string, handler Handler) error {
	if b.client == nil {
		return fmt.Errorf("subscribing to %s: not connected", topic)
	}

	token := b.client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if token.Wait(); token.Error() != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, token.Error())
	}

	b.logger.Debug("subscribed", slog.String("topic", topic))

	return nil
}

// Close flushes in-flight messages and disconnects from the broker.
// It is safe to call on a Bus that never connected.
func (b *Bus) Close() {
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(disconnectQuiesce)
		b.logger.Info("disconnected from MQTT broker")
	}
}
