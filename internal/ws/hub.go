package ws

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/mapsync/internal/bus"
	"github.com/dgnsrekt/mapsync/internal/wire"
)

var (
	// ErrInvalidGroup is returned for group names that are not bus topics.
	ErrInvalidGroup = errors.New("invalid group")
	ErrStopped      = errors.New("hub stopped")
)

// Recorder receives hub traffic counts.
type Recorder interface {
	ClientConnected(protocol string)
	ClientDisconnected()
	Published(group string)
	Delivered(group string, n int)
	SlowConsumer()
}

type nopRecorder struct{}

func (nopRecorder) ClientConnected(string) {}
func (nopRecorder) ClientDisconnected()    {}
func (nopRecorder) Published(string)       {}
func (nopRecorder) Delivered(string, int)  {}
func (nopRecorder) SlowConsumer()          {}

// HubOptions configures a Hub.
type HubOptions struct {
	// RetainLast delivers the latest message of a group to clients joining it.
	RetainLast bool
	// APIKeys, when non-empty, restricts negotiation and upgrades to these keys.
	APIKeys    []string
	Recorder   Recorder
}

// Hub relays group messages between websocket clients.
type Hub struct {
	clients    map[*Client]bool
	groups     map[string]map[*Client]bool // group -> clients
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex

	watchMu  sync.RWMutex
	watchers map[string]map[uint64]func([]byte)
	watchID  uint64

	retained   *RetainedStore
	retainLast bool
	apiKeys    map[string]bool
	recorder   Recorder
	logger     *zap.Logger
}

// NewHub creates a new Hub.
func NewHub(opts HubOptions, logger *zap.Logger) *Hub {
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	keys := make(map[string]bool, len(opts.APIKeys))
	for _, k := range opts.APIKeys {
		keys[k] = true
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		groups:     make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		watchers:   make(map[string]map[uint64]func([]byte)),
		retained:   NewRetainedStore(),
		retainLast: opts.RetainLast,
		apiKeys:    keys,
		recorder:   opts.Recorder,
		logger:     logger,
	}
}

// Run processes hub events. Call this in a goroutine.
// Returns when context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub shutting down")
			h.shutdown()
			close(h.done)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.recorder.ClientConnected(client.codec.Protocol())
			h.logger.Debug("client registered", zap.String("connID", client.connID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				for group := range client.groups {
					h.removeFromGroup(client, group)
				}
				client.close()
				h.recorder.ClientDisconnected()
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", zap.String("connID", client.connID))
		}
	}
}

// disconnect asks Run to drop c. It returns immediately once the hub has
// shut down.
func (h *Hub) disconnect(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// shutdown closes every client connection.
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.close()
		delete(h.clients, client)
	}
	h.groups = make(map[string]map[*Client]bool)
}

// JoinGroup adds a client to a group and, when retention is on, replays the
// group's latest message to it.
func (h *Hub) JoinGroup(client *Client, group string) error {
	if _, _, ok := bus.SplitTopic(group); !ok {
		return fmt.Errorf("%w: %q", ErrInvalidGroup, group)
	}

	h.mu.Lock()
	if h.groups[group] == nil {
		h.groups[group] = make(map[*Client]bool)
	}
	h.groups[group][client] = true
	client.groups[group] = true
	h.mu.Unlock()

	h.logger.Debug("client joined group",
		zap.String("connID", client.connID),
		zap.String("group", group),
	)

	if h.retainLast {
		if r, ok := h.retained.Get(group); ok {
			client.enqueue(wire.Message(group, r.From, r.Data))
		}
	}
	return nil
}

// LeaveGroup removes a client from a group.
func (h *Hub) LeaveGroup(client *Client, group string) {
	h.mu.Lock()
	h.removeFromGroup(client, group)
	h.mu.Unlock()

	h.logger.Debug("client left group",
		zap.String("connID", client.connID),
		zap.String("group", group),
	)
}

// removeFromGroup must be called with h.mu held.
func (h *Hub) removeFromGroup(client *Client, group string) {
	if clients, ok := h.groups[group]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.groups, group)
		}
	}
	delete(client.groups, group)
}

// Publish relays an encoded envelope to every client of group except exclude,
// which may be nil. It returns the number of clients the message was queued for.
func (h *Hub) Publish(group, from string, data []byte, exclude *Client) (int, error) {
	if _, _, ok := bus.SplitTopic(group); !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidGroup, group)
	}
	if _, err := bus.UnmarshalEnvelope(data); err != nil {
		return 0, err
	}

	h.retained.Put(group, from, data, time.Now())
	h.recorder.Published(group)

	msg := wire.Message(group, from, data)
	var slow []*Client
	delivered := 0

	h.mu.RLock()
	for client := range h.groups[group] {
		if client == exclude {
			continue
		}
		if client.enqueue(msg) {
			delivered++
		} else {
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.recorder.SlowConsumer()
		h.logger.Debug("disconnecting slow client", zap.String("connID", c.connID))
		go h.disconnect(c)
	}

	h.recorder.Delivered(group, delivered)
	h.notifyWatchers(group, data)
	return delivered, nil
}

// Watch registers fn for every message published to group. The returned func
// removes it.
func (h *Hub) Watch(group string, fn func(data []byte)) (cancel func()) {
	h.watchMu.Lock()
	defer h.watchMu.Unlock()

	if h.watchers[group] == nil {
		h.watchers[group] = make(map[uint64]func([]byte))
	}
	h.watchID++
	id := h.watchID
	h.watchers[group][id] = fn

	return func() {
		h.watchMu.Lock()
		defer h.watchMu.Unlock()
		if ws, ok := h.watchers[group]; ok {
			delete(ws, id)
			if len(ws) == 0 {
				delete(h.watchers, group)
			}
		}
	}
}

func (h *Hub) notifyWatchers(group string, data []byte) {
	h.watchMu.RLock()
	fns := make([]func([]byte), 0, len(h.watchers[group]))
	for _, fn := range h.watchers[group] {
		fns = append(fns, fn)
	}
	h.watchMu.RUnlock()

	for _, fn := range fns {
		fn(data)
	}
}

// TopicInfo describes a group known to the hub.
type TopicInfo struct {
	Name        string
	Subscribers int
	Events      uint64
	Last        *Retained
}

// Topics lists every group with subscribers or a retained message, sorted.
func (h *Hub) Topics() []TopicInfo {
	names := make(map[string]bool)
	for _, g := range h.retained.Groups() {
		names[g] = true
	}
	h.mu.RLock()
	for g := range h.groups {
		names[g] = true
	}
	h.mu.RUnlock()

	topics := make([]TopicInfo, 0, len(names))
	for name := range names {
		topics = append(topics, h.Topic(name))
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i].Name < topics[j].Name })
	return topics
}

// Topic describes a single group. A group the hub never saw has zero values.
func (h *Hub) Topic(group string) TopicInfo {
	info := TopicInfo{Name: group}

	h.mu.RLock()
	info.Subscribers = len(h.groups[group])
	h.mu.RUnlock()

	if r, ok := h.retained.Get(group); ok {
		info.Events = r.Count
		info.Last = &r
	}
	return info
}

// Last returns the latest message of group.
func (h *Hub) Last(group string) (Retained, bool) {
	return h.retained.Get(group)
}

// Err returns ErrStopped once Run has returned.
func (h *Hub) Err() error {
	select {
	case <-h.done:
		return ErrStopped
	default:
		return nil
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) authorized(apiKey string) bool {
	if len(h.apiKeys) == 0 {
		return true
	}
	return h.apiKeys[apiKey]
}
