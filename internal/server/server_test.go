package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/mapsync/internal/bus"
	"github.com/dgnsrekt/mapsync/internal/metrics"
	"github.com/dgnsrekt/mapsync/internal/view"
	"github.com/dgnsrekt/mapsync/internal/wire"
	"github.com/dgnsrekt/mapsync/internal/ws"
)

const londonView = `{"center":{"lat":51.5,"lng":-0.1},"zoom":9}`

func startServer(t *testing.T) (*ws.Hub, *httptest.Server) {
	t.Helper()
	logger := zap.NewNop()
	reg := metrics.NewRegistry()

	hub := ws.NewHub(ws.HubOptions{RetainLast: true, Recorder: metrics.NewHub(reg)}, logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	router, err := NewRouter(NewServer(hub, logger), RouterOptions{
		Negotiate: ws.NewNegotiateHandler(hub, logger),
		Registry:  reg,
		Health:    metrics.NewHealth(metrics.DefaultGoroutineThreshold),
	}, logger)
	require.NoError(t, err)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func postEvent(t *testing.T, baseURL, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(baseURL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestLoadSwagger(t *testing.T) {
	swagger, err := LoadSwagger(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, swagger.Paths.Find("/api/v1/topics/{group}/{eventType}/events"))
}

func TestListTopicsEmpty(t *testing.T) {
	_, srv := startServer(t)

	var list TopicList
	status := getJSON(t, srv.URL+"/api/v1/topics", &list)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, list.Count)
	assert.NotNil(t, list.Topics)
}

func TestPublishEventAndGetTopic(t *testing.T) {
	_, srv := startServer(t)

	resp := postEvent(t, srv.URL, "/api/v1/topics/lobby/mapmove/events", londonView)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var result PublishResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, "lobby/mapmove", result.Topic)
	assert.Equal(t, 0, result.Delivered)
	assert.NotEmpty(t, result.ID)

	var topic Topic
	status := getJSON(t, srv.URL+"/api/v1/topics/lobby/mapmove", &topic)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "lobby", topic.Group)
	assert.Equal(t, "mapmove", topic.EventType)
	assert.Equal(t, uint64(1), topic.Events)
	assert.Equal(t, APIOrigin, topic.LastFrom)
	require.NotNil(t, topic.LastAt)

	env, err := bus.UnmarshalEnvelope(topic.Last)
	require.NoError(t, err)
	assert.Equal(t, result.ID, env.ID)
	assert.Equal(t, APIOrigin, env.Origin)
	assert.Equal(t, "mapmove", env.Type)

	state, err := view.Decode(env.Payload)
	require.NoError(t, err)
	assert.Equal(t, view.CenterZoomState(view.LatLng{Lat: 51.5, Lng: -0.1}, 9), state)

	var list TopicList
	getJSON(t, srv.URL+"/api/v1/topics", &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "lobby/mapmove", list.Topics[0].Name)
}

func TestGetTopicNotFound(t *testing.T) {
	_, srv := startServer(t)

	var body errorResponse
	status := getJSON(t, srv.URL+"/api/v1/topics/nobody/mapmove", &body)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, body.Error, "nobody/mapmove")
}

func TestPublishEventRejected(t *testing.T) {
	_, srv := startServer(t)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"zoom without center", "/api/v1/topics/lobby/mapmove/events", `{"zoom":3}`},
		{"empty view", "/api/v1/topics/lobby/mapmove/events", `{}`},
		{"latitude out of range", "/api/v1/topics/lobby/mapmove/events", `{"center":{"lat":100,"lng":0},"zoom":3}`},
		{"not json", "/api/v1/topics/lobby/mapmove/events", `center=1`},
		{"group pattern", "/api/v1/topics/lob%20by/mapmove/events", londonView},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postEvent(t, srv.URL, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	var list TopicList
	getJSON(t, srv.URL+"/api/v1/topics", &list)
	assert.Equal(t, 0, list.Count)
}

func TestPublishEventReachesWebSocketMembers(t *testing.T) {
	hub, srv := startServer(t)

	b, err := bus.NewWebSocket(context.Background(), bus.WebSocketOptions{
		HubURL:   srv.URL,
		Protocol: wire.ProtocolJSON,
	}, zap.NewNop())
	require.NoError(t, err)
	defer b.Close()

	got := make(chan bus.Envelope, 1)
	_, err = b.Subscribe(context.Background(), "lobby/mapmove", func(env bus.Envelope) { got <- env })
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Topic("lobby/mapmove").Subscribers == 1 }, 2*time.Second, 10*time.Millisecond)

	resp := postEvent(t, srv.URL, "/api/v1/topics/lobby/mapmove/events", `{"bounds":[[52,1],[51,-1]]}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case env := <-got:
		assert.Equal(t, APIOrigin, env.Origin)
		state, err := view.Decode(env.Payload)
		require.NoError(t, err)
		assert.Equal(t, view.ShapeBounds, state.Shape())
	case <-time.After(5 * time.Second):
		t.Fatal("event not relayed")
	}
}

func TestStreamTopic(t *testing.T) {
	_, srv := startServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/topics/lobby/mapmove/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var event, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case line == "":
				return event, data
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			}
		}
	}

	event, data := readEvent()
	require.Equal(t, "snapshot", event)
	var snapshot Topic
	require.NoError(t, json.Unmarshal([]byte(data), &snapshot))
	assert.Equal(t, "lobby/mapmove", snapshot.Name)
	assert.Equal(t, uint64(0), snapshot.Events)

	resp2 := postEvent(t, srv.URL, "/api/v1/topics/lobby/mapmove/events", londonView)
	require.Equal(t, http.StatusAccepted, resp2.StatusCode)

	event, data = readEvent()
	require.Equal(t, "view", event)
	env, err := bus.UnmarshalEnvelope([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, APIOrigin, env.Origin)
}

func TestAuxiliaryRoutes(t *testing.T) {
	_, srv := startServer(t)

	for _, path := range []string{"/openapi.yaml", "/docs", "/metrics", "/live", "/ready"} {
		t.Run(path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + path)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		})
	}

	var neg ws.NegotiateResponse
	status := getJSON(t, srv.URL+"/negotiate", &neg)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, strings.HasPrefix(neg.URL, "ws://"))
	assert.ElementsMatch(t, wire.Protocols(), neg.Protocols)
}

func TestMaskQueryToken(t *testing.T) {
	assert.Equal(t, "", maskQueryToken(""))
	assert.Equal(t, "access_token=abcd****", maskQueryToken("access_token=abcdefgh"))
	assert.Equal(t, "access_token=****", maskQueryToken("access_token=ab"))
}
