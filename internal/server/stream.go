package server

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const streamBuffer = 16

// StreamTopic handles GET /api/v1/topics/{group}/{eventType}/stream. It sends
// a "snapshot" event with the topic state and then one "view" event per
// envelope published to the topic until the client goes away. Events that do
// not fit the client buffer are dropped.
func (s *Server) StreamTopic(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	name := topicParam(r)
	events := make(chan []byte, streamBuffer)

	// Watch before the snapshot so nothing published in between is lost.
	cancel := s.hub.Watch(name, func(data []byte) {
		select {
		case events <- data:
		default:
			s.logger.Debug("stream client slow, dropping event", zap.String("topic", name))
		}
	})
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s.logger.Info("stream client connected",
		zap.String("topic", name),
		zap.String("remote_addr", r.RemoteAddr),
	)

	var seq uint64
	snapshot, err := json.Marshal(newTopic(s.hub.Topic(name)))
	if err != nil {
		s.logger.Error("failed to encode snapshot", zap.Error(err))
		return
	}
	if err := writeEvent(w, "snapshot", seq, snapshot); err != nil {
		s.logger.Debug("failed to send snapshot", zap.Error(err))
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("stream client disconnected", zap.String("topic", name))
			return
		case data := <-events:
			seq++
			if err := writeEvent(w, "view", seq, data); err != nil {
				s.logger.Debug("failed to write to client", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

// writeEvent writes one SSE event. data must stay on a single line.
func writeEvent(w http.ResponseWriter, event string, id uint64, data []byte) error {
	if bytes.ContainsAny(data, "\r\n") {
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err != nil {
			return err
		}
		data = buf.Bytes()
	}
	_, err := fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", event, id, data)
	return err
}
