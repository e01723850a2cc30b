package ws

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dgnsrekt/mapsync/internal/wire"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Send buffer size per client.
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
	Subprotocols:    wire.Protocols(),
}

// Client is one websocket connection to the hub.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	codec  wire.Codec
	connID string
	apiKey string
	groups map[string]bool // guarded by hub.mu
	logger *zap.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// HandleWS upgrades a request to a hub connection. When the hub has API keys
// configured, the access_token issued by negotiation is required.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("access_token")
	apiKey, _, _ := strings.Cut(token, ":")
	if !h.authorized(apiKey) {
		http.Error(w, "missing or invalid access_token", http.StatusUnauthorized)
		return
	}

	// The upgrader picks the first protocol it offers that the client asked
	// for; JSON is the fallback for clients that ask for none.
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	protocol := conn.Subprotocol()
	if protocol == "" {
		protocol = wire.ProtocolJSON
	}
	codec, err := wire.CodecFor(protocol)
	if err != nil {
		h.logger.Error("no codec for negotiated subprotocol", zap.String("protocol", protocol))
		conn.Close()
		return
	}

	connID := uuid.NewString()
	client := &Client{
		hub:    h,
		conn:   conn,
		codec:  codec,
		connID: connID,
		apiKey: apiKey,
		groups: make(map[string]bool),
		logger: h.logger.With(zap.String("connID", connID)),
		send:   make(chan []byte, sendBufferSize),
	}

	h.logger.Debug("websocket subprotocol negotiated",
		zap.String("protocol", protocol),
		zap.Strings("requested", websocket.Subprotocols(r)),
	)

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}
	client.enqueue(wire.Connected(connID))

	go client.writePump()
	go client.readPump()
}

// enqueue encodes f and queues it without blocking. It reports false when the
// client's buffer is full; a closed client silently drops the frame.
func (c *Client) enqueue(f wire.Frame) bool {
	data, err := c.codec.Encode(f)
	if err != nil {
		c.logger.Error("encode frame", zap.String("type", f.Type), zap.Error(err))
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump reads frames from the connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error", zap.Error(err))
			}
			break
		}
		c.handleMessage(message)
	}
}

// writePump writes queued frames to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	msgType := c.codec.MessageType()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(msgType, message); err != nil {
				c.logger.Debug("websocket write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an upstream frame.
func (c *Client) handleMessage(data []byte) {
	f, err := c.codec.Decode(data)
	if err == nil {
		err = f.Validate()
	}
	if err != nil {
		c.logger.Debug("failed to parse upstream frame",
			zap.String("protocol", c.codec.Protocol()),
			zap.Error(err),
		)
		if f.AckID != nil {
			c.enqueue(wire.Ack(*f.AckID, false, err.Error()))
		}
		return
	}

	switch f.Type {
	case wire.TypeJoinGroup:
		err = c.hub.JoinGroup(c, f.Group)

	case wire.TypeLeaveGroup:
		c.hub.LeaveGroup(c, f.Group)

	case wire.TypeSendToGroup:
		var exclude *Client
		if f.NoEcho {
			exclude = c
		}
		_, err = c.hub.Publish(f.Group, c.connID, f.Data, exclude)

	case wire.TypePing:
		c.enqueue(wire.Pong())
		return
	}

	if err != nil {
		c.logger.Debug("upstream frame rejected",
			zap.String("type", f.Type),
			zap.String("group", f.Group),
			zap.Error(err),
		)
	}
	if f.AckID != nil {
		reason := ""
		if err != nil {
			reason = err.Error()
		}
		c.enqueue(wire.Ack(*f.AckID, err == nil, reason))
	}
}
