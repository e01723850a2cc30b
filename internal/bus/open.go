package bus

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Backend kinds accepted by Open.
const (
	KindMemory    = "memory"
	KindWebSocket = "websocket"
	KindMQTT      = "mqtt"
	KindRedis     = "redis"
)

// Config selects and configures a bus backend.
type Config struct {
	Kind string `mapstructure:"kind"`
	// URL is the hub base URL, the MQTT broker URL or the Redis URL.
	URL string `mapstructure:"url"`
	// APIKey authenticates against the hub.
	APIKey string `mapstructure:"api_key"`
	// Protocol is the hub subprotocol.
	Protocol string `mapstructure:"protocol"`
	// TopicPrefix is prepended to topics on MQTT and Redis.
	TopicPrefix    string        `mapstructure:"topic_prefix"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	QoS            byte          `mapstructure:"qos"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// Pinger is implemented by backends that can report their connection health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Open creates the backend named by cfg.Kind.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Bus, error) {
	logger = logger.With(zap.String("bus", cfg.Kind))

	switch cfg.Kind {
	case KindMemory, "":
		return NewMemory(), nil

	case KindWebSocket:
		return NewWebSocket(ctx, WebSocketOptions{
			HubURL:     cfg.URL,
			APIKey:     cfg.APIKey,
			Protocol:   cfg.Protocol,
			AckTimeout: cfg.ConnectTimeout,
		}, logger)

	case KindMQTT:
		return NewMQTT(MQTTOptions{
			BrokerURL:      cfg.URL,
			ClientID:       cfg.ClientID,
			Username:       cfg.Username,
			Password:       cfg.Password,
			TopicPrefix:    cfg.TopicPrefix,
			QoS:            cfg.QoS,
			ConnectTimeout: cfg.ConnectTimeout,
		}, logger)

	case KindRedis:
		return NewRedis(ctx, RedisOptions{
			URL:           cfg.URL,
			ChannelPrefix: cfg.TopicPrefix,
		}, logger)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}

// Ping checks b when it supports health reporting.
func Ping(ctx context.Context, b Bus) error {
	if p, ok := b.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
