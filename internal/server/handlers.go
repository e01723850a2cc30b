package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/dgnsrekt/mapsync/internal/bus"
	"github.com/dgnsrekt/mapsync/internal/view"
	"github.com/dgnsrekt/mapsync/internal/ws"
)

// APIOrigin is the envelope origin of events injected through the REST API.
const APIOrigin = "api"

const maxEventBytes = 64 << 10

type Server struct {
	hub    *ws.Hub
	logger *zap.Logger
}

func NewServer(hub *ws.Hub, logger *zap.Logger) *Server {
	return &Server{
		hub:    hub,
		logger: logger,
	}
}

// Topic is the REST representation of ws.TopicInfo.
type Topic struct {
	Name        string          `json:"name"`
	Group       string          `json:"group"`
	EventType   string          `json:"eventType"`
	Subscribers int             `json:"subscribers"`
	Events      uint64          `json:"events"`
	LastFrom    string          `json:"lastFrom,omitempty"`
	LastAt      *time.Time      `json:"lastAt,omitempty"`
	Last        json.RawMessage `json:"last,omitempty"`
}

type TopicList struct {
	Topics []Topic `json:"topics"`
	Count  int     `json:"count"`
}

type PublishResult struct {
	ID        string `json:"id"`
	Topic     string `json:"topic"`
	Delivered int    `json:"delivered"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func newTopic(info ws.TopicInfo) Topic {
	group, eventType, _ := bus.SplitTopic(info.Name)
	t := Topic{
		Name:        info.Name,
		Group:       group,
		EventType:   eventType,
		Subscribers: info.Subscribers,
		Events:      info.Events,
	}
	if info.Last != nil {
		at := info.Last.At.UTC()
		t.LastFrom = info.Last.From
		t.LastAt = &at
		t.Last = json.RawMessage(info.Last.Data)
	}
	return t
}

// ListTopics handles GET /api/v1/topics.
func (s *Server) ListTopics(w http.ResponseWriter, r *http.Request) {
	infos := s.hub.Topics()
	topics := make([]Topic, 0, len(infos))
	for _, info := range infos {
		topics = append(topics, newTopic(info))
	}
	s.writeJSON(w, http.StatusOK, TopicList{Topics: topics, Count: len(topics)})
}

// GetTopic handles GET /api/v1/topics/{group}/{eventType}.
func (s *Server) GetTopic(w http.ResponseWriter, r *http.Request) {
	name := topicParam(r)
	info := s.hub.Topic(name)
	if info.Subscribers == 0 && info.Last == nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "Topic not found: " + name})
		return
	}
	s.writeJSON(w, http.StatusOK, newTopic(info))
}

// PublishEvent handles POST /api/v1/topics/{group}/{eventType}/events. The
// body is a view payload; it is wrapped in an envelope with origin "api" and
// relayed to every member of the topic.
func (s *Server) PublishEvent(w http.ResponseWriter, r *http.Request) {
	name := topicParam(r)
	eventType := chi.URLParam(r, "eventType")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	state, err := view.Decode(body)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	payload, err := view.Encode(state)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	env := bus.NewEnvelope(APIOrigin, eventType, payload)
	data, err := bus.MarshalEnvelope(env)
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	delivered, err := s.hub.Publish(name, APIOrigin, data, nil)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ws.ErrInvalidGroup) {
			status = http.StatusBadRequest
		}
		s.writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	s.logger.Info("event published",
		zap.String("topic", name),
		zap.String("id", env.ID),
		zap.String("view", state.String()),
		zap.Int("delivered", delivered),
	)

	s.writeJSON(w, http.StatusAccepted, PublishResult{
		ID:        env.ID,
		Topic:     name,
		Delivered: delivered,
	})
}

func topicParam(r *http.Request) string {
	return bus.Topic(chi.URLParam(r, "group"), chi.URLParam(r, "eventType"))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}
