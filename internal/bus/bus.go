// Package bus carries view events between endpoints.
//
// A Bus delivers Envelopes published on a topic to every subscriber of that
// topic. Backends make no ordering or exactly-once promises; subscribers are
// expected to filter their own origin and drop duplicates (see Dedup).
package bus

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrClosed is returned by operations on a closed bus.
	ErrClosed = errors.New("bus closed")
	// ErrUnknownKind is returned by Open for an unsupported backend kind.
	ErrUnknownKind = errors.New("unknown bus kind")
)

// Handler receives envelopes delivered on a subscribed topic. Handlers may be
// called from backend goroutines and must not block for long.
type Handler func(Envelope)

// Subscription is an active topic subscription.
type Subscription interface {
	Unsubscribe() error
}

// Bus is a topic based publish/subscribe transport.
type Bus interface {
	Publish(ctx context.Context, topic string, env Envelope) error
	Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error)
	Close() error
}

// Topic joins a group and an event type into a topic name.
func Topic(group, eventType string) string {
	return group + "/" + eventType
}

// SplitTopic is the inverse of Topic. ok is false when topic has no separator.
func SplitTopic(topic string) (group, eventType string, ok bool) {
	i := strings.LastIndexByte(topic, '/')
	if i <= 0 || i == len(topic)-1 {
		return "", "", false
	}
	return topic[:i], topic[i+1:], true
}

// prefixed places topic under prefix on brokers that share a namespace.
func prefixed(prefix, topic string) string {
	if prefix == "" {
		return topic
	}
	return strings.TrimSuffix(prefix, "/") + "/" + topic
}

type subscriptionFunc func() error

func (f subscriptionFunc) Unsubscribe() error { return f() }
