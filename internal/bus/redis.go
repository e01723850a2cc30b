package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisOptions configures a Redis bus.
type RedisOptions struct {
	URL           string
	ChannelPrefix string
}

// Redis carries envelopes over Redis Pub/Sub channels named
// ChannelPrefix/topic.
type Redis struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedis connects to the server at opts.URL and checks it answers.
func NewRedis(ctx context.Context, opts RedisOptions, logger *zap.Logger) (*Redis, error) {
	ro, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(ro)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", ro.Addr, err)
	}
	logger.Info("connected to redis", zap.String("addr", ro.Addr))
	return &Redis{client: client, prefix: opts.ChannelPrefix, logger: logger}, nil
}

func (r *Redis) Publish(ctx context.Context, topic string, env Envelope) error {
	data, err := MarshalEnvelope(env)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, prefixed(r.prefix, topic), data).Err(); err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error) {
	ps := r.client.Subscribe(ctx, prefixed(r.prefix, topic))
	// Wait for the subscription confirmation so no message published after
	// Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			env, err := UnmarshalEnvelope([]byte(msg.Payload))
			if err != nil {
				r.logger.Debug("dropping undecodable redis message",
					zap.String("channel", msg.Channel),
					zap.Error(err),
				)
				continue
			}
			h(env)
		}
	}()

	return subscriptionFunc(func() error {
		err := ps.Close()
		<-done
		return err
	}), nil
}

// Ping checks the connection to the server.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
