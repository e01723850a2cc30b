package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTOptions configures an MQTT bus.
type MQTTOptions struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	ConnectTimeout time.Duration
}

// MQTT carries envelopes as JSON messages on broker topics named
// TopicPrefix/topic.
type MQTT struct {
	client paho.Client
	opts   MQTTOptions
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewMQTT connects to the broker.
func NewMQTT(opts MQTTOptions, logger *zap.Logger) (*MQTT, error) {
	if opts.BrokerURL == "" {
		return nil, errors.New("mqtt broker url is required")
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.QoS > 2 {
		return nil, fmt.Errorf("invalid mqtt qos %d", opts.QoS)
	}

	co := paho.NewClientOptions()
	co.AddBroker(opts.BrokerURL)
	co.SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		co.SetPassword(opts.Password)
	}
	co.SetAutoReconnect(true)
	co.SetConnectTimeout(opts.ConnectTimeout)
	co.SetOnConnectHandler(func(c paho.Client) {
		logger.Info("connected to mqtt broker", zap.String("clientID", opts.ClientID))
	})
	co.SetConnectionLostHandler(func(c paho.Client, err error) {
		logger.Warn("mqtt connection lost", zap.String("clientID", opts.ClientID), zap.Error(err))
	})

	client := paho.NewClient(co)
	token := client.Connect()
	if !token.WaitTimeout(opts.ConnectTimeout) {
		return nil, fmt.Errorf("connect to mqtt broker %s: timeout", opts.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", opts.BrokerURL, err)
	}

	return &MQTT{client: client, opts: opts, logger: logger}, nil
}

func (m *MQTT) brokerTopic(topic string) string {
	return prefixed(m.opts.TopicPrefix, topic)
}

func (m *MQTT) Publish(ctx context.Context, topic string, env Envelope) error {
	if m.isClosed() {
		return ErrClosed
	}
	data, err := MarshalEnvelope(env)
	if err != nil {
		return err
	}

	token := m.client.Publish(m.brokerTopic(topic), m.opts.QoS, false, data)
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

func (m *MQTT) Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error) {
	if m.isClosed() {
		return nil, ErrClosed
	}
	brokerTopic := m.brokerTopic(topic)

	token := m.client.Subscribe(brokerTopic, m.opts.QoS, func(_ paho.Client, msg paho.Message) {
		env, err := UnmarshalEnvelope(msg.Payload())
		if err != nil {
			m.logger.Debug("dropping undecodable mqtt message",
				zap.String("topic", msg.Topic()),
				zap.Error(err),
			)
			return
		}
		h(env)
	})
	if err := waitToken(ctx, token); err != nil {
		return nil, fmt.Errorf("mqtt subscribe %s: %w", topic, err)
	}

	return subscriptionFunc(func() error {
		if m.isClosed() {
			return nil
		}
		return waitToken(context.Background(), m.client.Unsubscribe(brokerTopic))
	}), nil
}

// Ping reports whether the client is connected to the broker.
func (m *MQTT) Ping(context.Context) error {
	if m.isClosed() {
		return ErrClosed
	}
	if !m.client.IsConnectionOpen() {
		return errors.New("mqtt client not connected")
	}
	return nil
}

func (m *MQTT) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.client.Disconnect(250)
	return nil
}

func (m *MQTT) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func waitToken(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
