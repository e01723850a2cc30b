package ws

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NegotiateResponse tells a client where to open its websocket.
type NegotiateResponse struct {
	URL       string   `json:"url"`
	Protocols []string `json:"protocols"`
}

// NegotiateHandler handles the /negotiate endpoint.
type NegotiateHandler struct {
	hub    *Hub
	logger *zap.Logger
}

// NewNegotiateHandler creates a new NegotiateHandler.
func NewNegotiateHandler(hub *Hub, logger *zap.Logger) *NegotiateHandler {
	return &NegotiateHandler{hub: hub, logger: logger}
}

// HandleNegotiate handles GET /negotiate.
// The API key is read from "Authorization: Basic <key>" and is only required
// when the hub was configured with keys.
func (h *NegotiateHandler) HandleNegotiate(w http.ResponseWriter, r *http.Request) {
	var apiKey string
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Basic ") {
		apiKey = strings.TrimPrefix(auth, "Basic ")
	}

	if !h.hub.authorized(apiKey) {
		h.logger.Debug("negotiate request unauthorized", zap.String("apiKey", maskAPIKey(apiKey)))
		http.Error(w, `{"error":"missing or invalid authorization"}`, http.StatusUnauthorized)
		return
	}

	token := fmt.Sprintf("%s:%s", apiKey, uuid.NewString())

	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}

	response := NegotiateResponse{
		URL:       fmt.Sprintf("%s://%s/ws?access_token=%s", scheme, r.Host, url.QueryEscape(token)),
		Protocols: upgrader.Subprotocols,
	}

	h.logger.Debug("negotiate successful", zap.String("apiKey", maskAPIKey(apiKey)))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("failed to encode negotiate response", zap.Error(err))
	}
}

// maskAPIKey masks all but the first 4 characters of an API key for logging.
func maskAPIKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "****"
}
