package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/mapsync/internal/wire"
)

const testEnvelope = `{"id":"e1","origin":"left","type":"mapmove","payload":{"center":{"lat":10,"lng":20},"zoom":5},"timestamp":1760000000000}`

type testConn struct {
	t     *testing.T
	conn  *websocket.Conn
	codec wire.Codec
}

func startHub(t *testing.T, opts HubOptions) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(opts, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.HandleWS)
	mux.HandleFunc("/negotiate", NewNegotiateHandler(hub, zap.NewNop()).HandleNegotiate)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, protocol string) *testConn {
	t.Helper()
	dialer := websocket.Dialer{Subprotocols: []string{protocol}}
	conn, _, err := dialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Equal(t, protocol, conn.Subprotocol())

	codec, err := wire.CodecFor(protocol)
	require.NoError(t, err)

	tc := &testConn{t: t, conn: conn, codec: codec}
	connected := tc.read()
	require.Equal(t, wire.TypeConnected, connected.Type)
	require.NotEmpty(t, connected.ConnectionID)
	return tc
}

func (c *testConn) write(f wire.Frame) {
	c.t.Helper()
	data, err := c.codec.Encode(f)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(c.codec.MessageType(), data))
}

func (c *testConn) read() wire.Frame {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	f, err := c.codec.Decode(data)
	require.NoError(c.t, err)
	return f
}

func (c *testConn) expectAck(id uint64, success bool) {
	c.t.Helper()
	f := c.read()
	require.Equal(c.t, wire.TypeAck, f.Type)
	require.NotNil(c.t, f.AckID)
	assert.Equal(c.t, id, *f.AckID)
	require.NotNil(c.t, f.Success)
	assert.Equal(c.t, success, *f.Success)
}

func ackID(n uint64) *uint64 { return &n }

func TestHubRelaysBetweenProtocols(t *testing.T) {
	hub, srv := startHub(t, HubOptions{RetainLast: true})

	left := dial(t, srv, wire.ProtocolJSON)
	right := dial(t, srv, wire.ProtocolProtobuf)

	left.write(wire.Frame{Type: wire.TypeJoinGroup, Group: "trial/mapmove", AckID: ackID(1)})
	left.expectAck(1, true)
	right.write(wire.Frame{Type: wire.TypeJoinGroup, Group: "trial/mapmove", AckID: ackID(1)})
	right.expectAck(1, true)

	left.write(wire.Frame{
		Type:   wire.TypeSendToGroup,
		Group:  "trial/mapmove",
		NoEcho: true,
		AckID:  ackID(2),
		Data:   json.RawMessage(testEnvelope),
	})

	// The sender sees only its ack: noEcho keeps the message away from it.
	left.expectAck(2, true)

	msg := right.read()
	assert.Equal(t, wire.TypeMessage, msg.Type)
	assert.Equal(t, "trial/mapmove", msg.Group)
	assert.JSONEq(t, testEnvelope, string(msg.Data))

	info := hub.Topic("trial/mapmove")
	assert.Equal(t, 2, info.Subscribers)
	assert.Equal(t, uint64(1), info.Events)
	require.NotNil(t, info.Last)
	assert.JSONEq(t, testEnvelope, string(info.Last.Data))
}

func TestHubEchoesWithoutNoEcho(t *testing.T) {
	_, srv := startHub(t, HubOptions{})

	c := dial(t, srv, wire.ProtocolJSON)
	c.write(wire.Frame{Type: wire.TypeJoinGroup, Group: "trial/mapmove"})
	c.write(wire.Frame{Type: wire.TypeSendToGroup, Group: "trial/mapmove", Data: json.RawMessage(testEnvelope)})

	msg := c.read()
	assert.Equal(t, wire.TypeMessage, msg.Type)
}

func TestHubRetainsLastMessage(t *testing.T) {
	hub, srv := startHub(t, HubOptions{RetainLast: true})

	_, err := hub.Publish("trial/mapmove", "api", []byte(testEnvelope), nil)
	require.NoError(t, err)

	late := dial(t, srv, wire.ProtocolJSON)
	late.write(wire.Frame{Type: wire.TypeJoinGroup, Group: "trial/mapmove", AckID: ackID(7)})

	msg := late.read()
	assert.Equal(t, wire.TypeMessage, msg.Type)
	assert.Equal(t, "api", msg.From)
	assert.JSONEq(t, testEnvelope, string(msg.Data))
	late.expectAck(7, true)
}

func TestHubWithoutRetention(t *testing.T) {
	hub, srv := startHub(t, HubOptions{})

	_, err := hub.Publish("trial/mapmove", "api", []byte(testEnvelope), nil)
	require.NoError(t, err)

	c := dial(t, srv, wire.ProtocolJSON)
	c.write(wire.Frame{Type: wire.TypeJoinGroup, Group: "trial/mapmove", AckID: ackID(1)})
	c.expectAck(1, true)
}

func TestHubRejectsBadFrames(t *testing.T) {
	_, srv := startHub(t, HubOptions{})
	c := dial(t, srv, wire.ProtocolJSON)

	c.write(wire.Frame{Type: wire.TypeJoinGroup, Group: "no-event-type", AckID: ackID(1)})
	c.expectAck(1, false)

	c.write(wire.Frame{Type: wire.TypeSendToGroup, Group: "trial/mapmove", AckID: ackID(2), Data: json.RawMessage(`{"not":"an envelope"}`)})
	c.expectAck(2, false)

	c.write(wire.Frame{Type: wire.TypePing})
	assert.Equal(t, wire.TypePong, c.read().Type)
}

func TestHubWatch(t *testing.T) {
	hub, _ := startHub(t, HubOptions{})

	got := make(chan []byte, 1)
	cancel := hub.Watch("trial/mapmove", func(data []byte) { got <- data })

	n, err := hub.Publish("trial/mapmove", "api", []byte(testEnvelope), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.JSONEq(t, testEnvelope, string(<-got))

	cancel()
	_, err = hub.Publish("trial/mapmove", "api", []byte(testEnvelope), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHubTopics(t *testing.T) {
	hub, _ := startHub(t, HubOptions{})

	_, err := hub.Publish("b/mapmove", "api", []byte(testEnvelope), nil)
	require.NoError(t, err)
	_, err = hub.Publish("a/mapmove", "api", []byte(testEnvelope), nil)
	require.NoError(t, err)
	_, err = hub.Publish("a/mapmove", "api", []byte(testEnvelope), nil)
	require.NoError(t, err)

	topics := hub.Topics()
	require.Len(t, topics, 2)
	assert.Equal(t, "a/mapmove", topics[0].Name)
	assert.Equal(t, uint64(2), topics[0].Events)
	assert.Equal(t, "b/mapmove", topics[1].Name)

	_, err = hub.Publish("invalid", "api", []byte(testEnvelope), nil)
	assert.ErrorIs(t, err, ErrInvalidGroup)
}

func TestNegotiate(t *testing.T) {
	_, srv := startHub(t, HubOptions{APIKeys: []string{"secret-key"}})

	resp, err := http.Get(srv.URL + "/negotiate")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/negotiate", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Basic secret-key")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var nr NegotiateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&nr))
	assert.Contains(t, nr.URL, "/ws?access_token=secret-key")
	assert.Equal(t, wire.Protocols(), nr.Protocols)

	conn, _, err := websocket.DefaultDialer.Dial(nr.URL, nil)
	require.NoError(t, err)
	conn.Close()

	_, resp, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "****", maskAPIKey("abc"))
	assert.Equal(t, "secr****", maskAPIKey("secret-key"))
}
