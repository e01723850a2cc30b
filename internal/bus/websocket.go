package bus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dgnsrekt/mapsync/internal/wire"
)

// WebSocketOptions configures a hub client.
type WebSocketOptions struct {
	// HubURL is the hub's HTTP base URL, e.g. http://localhost:8080.
	HubURL     string
	APIKey     string
	Protocol   string
	AckTimeout time.Duration
	HTTPClient *http.Client
}

type negotiateResponse struct {
	URL       string   `json:"url"`
	Protocols []string `json:"protocols"`
}

// WebSocket is a Bus backed by a hub connection. Topics map to hub groups.
// It does not reconnect; a dropped connection fails later calls with ErrClosed.
type WebSocket struct {
	conn       *websocket.Conn
	codec      wire.Codec
	connID     string
	ackTimeout time.Duration
	logger     *zap.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	subs    map[string]map[uint64]Handler
	nextSub uint64
	acks    map[uint64]chan wire.Frame
	nextAck uint64
	closed  bool
	done    chan struct{}

	// inbox decouples handlers from the read loop, so a handler may publish
	// and wait for the ack the read loop delivers.
	inbox chan inbound
}

type inbound struct {
	group string
	env   Envelope
}

// NewWebSocket negotiates with the hub and opens a connection.
func NewWebSocket(ctx context.Context, opts WebSocketOptions, logger *zap.Logger) (*WebSocket, error) {
	if opts.Protocol == "" {
		opts.Protocol = wire.ProtocolProtobuf
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = 5 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	codec, err := wire.CodecFor(opts.Protocol)
	if err != nil {
		return nil, err
	}

	wsURL, err := negotiate(ctx, opts)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		Subprotocols:     []string{opts.Protocol},
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial hub: %w", err)
	}
	if conn.Subprotocol() != opts.Protocol {
		conn.Close()
		return nil, fmt.Errorf("hub refused subprotocol %s", opts.Protocol)
	}

	b := &WebSocket{
		conn:       conn,
		codec:      codec,
		ackTimeout: opts.AckTimeout,
		logger:     logger,
		subs:       make(map[string]map[uint64]Handler),
		acks:       make(map[uint64]chan wire.Frame),
		done:       make(chan struct{}),
		inbox:      make(chan inbound, 256),
	}

	conn.SetReadDeadline(time.Now().Add(opts.AckTimeout))
	_, data, err := conn.ReadMessage()
	if err == nil {
		var f wire.Frame
		f, err = codec.Decode(data)
		if err == nil && f.Type != wire.TypeConnected {
			err = fmt.Errorf("unexpected first frame %q", f.Type)
		}
		b.connID = f.ConnectionID
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("await connected frame: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	logger.Info("connected to hub",
		zap.String("connID", b.connID),
		zap.String("protocol", opts.Protocol),
	)

	go b.readLoop()
	go b.dispatchLoop()
	return b, nil
}

func negotiate(ctx context.Context, opts WebSocketOptions) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(opts.HubURL, "/")+"/negotiate", nil)
	if err != nil {
		return "", fmt.Errorf("create negotiate request: %w", err)
	}
	if opts.APIKey != "" {
		req.Header.Set("Authorization", "Basic "+opts.APIKey)
	}

	resp, err := opts.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("negotiate: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("negotiate: unexpected status %d", resp.StatusCode)
	}

	var nr negotiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&nr); err != nil {
		return "", fmt.Errorf("decode negotiate response: %w", err)
	}
	if nr.URL == "" {
		return "", errors.New("negotiate response without url")
	}
	return nr.URL, nil
}

// ConnectionID returns the id the hub assigned to this connection.
func (b *WebSocket) ConnectionID() string { return b.connID }

func (b *WebSocket) Publish(ctx context.Context, topic string, env Envelope) error {
	data, err := MarshalEnvelope(env)
	if err != nil {
		return err
	}
	return b.request(ctx, wire.Frame{
		Type:   wire.TypeSendToGroup,
		Group:  topic,
		NoEcho: true,
		Data:   data,
	})
}

func (b *WebSocket) Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	first := len(b.subs[topic]) == 0
	if first {
		b.subs[topic] = make(map[uint64]Handler)
	}
	b.nextSub++
	id := b.nextSub
	b.subs[topic][id] = h
	b.mu.Unlock()

	if first {
		if err := b.request(ctx, wire.Frame{Type: wire.TypeJoinGroup, Group: topic}); err != nil {
			b.removeSub(topic, id)
			return nil, err
		}
	}

	return subscriptionFunc(func() error {
		if b.removeSub(topic, id) {
			return b.request(context.Background(), wire.Frame{Type: wire.TypeLeaveGroup, Group: topic})
		}
		return nil
	}), nil
}

// removeSub drops a handler and reports whether it was the topic's last one.
func (b *WebSocket) removeSub(topic string, id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	hs, ok := b.subs[topic]
	if !ok {
		return false
	}
	delete(hs, id)
	if len(hs) == 0 {
		delete(b.subs, topic)
		return !b.closed
	}
	return false
}

// request sends f with a fresh ack id and waits for the hub's answer.
func (b *WebSocket) request(ctx context.Context, f wire.Frame) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.nextAck++
	id := b.nextAck
	ch := make(chan wire.Frame, 1)
	b.acks[id] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.acks, id)
		b.mu.Unlock()
	}()

	f.AckID = &id
	if err := b.write(f); err != nil {
		return err
	}

	timer := time.NewTimer(b.ackTimeout)
	defer timer.Stop()

	select {
	case ack := <-ch:
		if ack.Success == nil || !*ack.Success {
			return fmt.Errorf("hub rejected %s: %s", f.Type, ack.Error)
		}
		return nil
	case <-b.done:
		return ErrClosed
	case <-timer.C:
		return fmt.Errorf("%s: ack timeout", f.Type)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *WebSocket) write(f wire.Frame) error {
	data, err := b.codec.Encode(f)
	if err != nil {
		return err
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	b.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := b.conn.WriteMessage(b.codec.MessageType(), data); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Type, err)
	}
	return nil
}

func (b *WebSocket) readLoop() {
	defer func() {
		b.shutdown()
		close(b.inbox)
	}()

	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.logger.Warn("hub connection lost", zap.Error(err))
			}
			return
		}
		f, err := b.codec.Decode(data)
		if err != nil {
			b.logger.Debug("dropping undecodable hub frame", zap.Error(err))
			continue
		}

		switch f.Type {
		case wire.TypeAck:
			if f.AckID == nil {
				continue
			}
			b.mu.Lock()
			ch := b.acks[*f.AckID]
			b.mu.Unlock()
			if ch == nil {
				continue
			}
			// A repeated ack for a request already answered is dropped.
			select {
			case ch <- f:
			default:
			}

		case wire.TypeMessage:
			env, err := UnmarshalEnvelope(f.Data)
			if err != nil {
				b.logger.Debug("dropping undecodable envelope", zap.String("group", f.Group), zap.Error(err))
				continue
			}
			b.inbox <- inbound{group: f.Group, env: env}
		}
	}
}

func (b *WebSocket) dispatchLoop() {
	for in := range b.inbox {
		b.mu.Lock()
		handlers := make([]Handler, 0, len(b.subs[in.group]))
		for _, h := range b.subs[in.group] {
			handlers = append(handlers, h)
		}
		b.mu.Unlock()

		for _, h := range handlers {
			h(in.env)
		}
	}
}

func (b *WebSocket) shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
}

// Ping reports whether the hub connection is still open.
func (b *WebSocket) Ping(context.Context) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
		return nil
	}
}

func (b *WebSocket) Close() error {
	b.writeMu.Lock()
	b.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	b.writeMu.Unlock()

	select {
	case <-b.done:
	case <-time.After(time.Second):
	}
	b.shutdown()
	return b.conn.Close()
}
