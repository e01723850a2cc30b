// Package api is a client for the hub REST surface.
package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/mapsync/internal/view"
)

// Client interface for testability
type Client interface {
	ListTopics(ctx context.Context) ([]Topic, error)
	GetTopic(ctx context.Context, group, eventType string) (*Topic, error)
	PublishView(ctx context.Context, group, eventType string, state view.State) (*PublishResult, error)
}

type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	retryCount int
	retryDelay time.Duration
	logger     *zap.Logger
}

var _ Client = (*HTTPClient)(nil)

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

func NewClient(baseURL, apiKey string, ratePerSec int, timeout, retryDelay time.Duration, retryCount int, logger *zap.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:    100,
		MaxConnsPerHost: 10,
		IdleConnTimeout: 90 * time.Second,
	}

	return &HTTPClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*2),
		retryCount: retryCount,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

func (c *HTTPClient) ListTopics(ctx context.Context) ([]Topic, error) {
	var list TopicList
	if err := c.do(ctx, http.MethodGet, "/api/v1/topics", nil, http.StatusOK, &list); err != nil {
		return nil, err
	}
	return list.Topics, nil
}

func (c *HTTPClient) GetTopic(ctx context.Context, group, eventType string) (*Topic, error) {
	var topic Topic
	if err := c.do(ctx, http.MethodGet, topicPath(group, eventType), nil, http.StatusOK, &topic); err != nil {
		return nil, err
	}
	return &topic, nil
}

// PublishView injects state into the topic with origin "api".
func (c *HTTPClient) PublishView(ctx context.Context, group, eventType string, state view.State) (*PublishResult, error) {
	body, err := view.Encode(state)
	if err != nil {
		return nil, fmt.Errorf("encoding view: %w", err)
	}
	var result PublishResult
	if err := c.do(ctx, http.MethodPost, topicPath(group, eventType)+"/events", body, http.StatusAccepted, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func topicPath(group, eventType string) string {
	return fmt.Sprintf("/api/v1/topics/%s/%s", url.PathEscape(group), url.PathEscape(eventType))
}

// do sends one request, retrying transport errors, 429 and 5xx responses with
// exponential backoff.
func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, want int, out any) error {
	// Wait for rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	target := c.baseURL + path
	c.logger.Debug("requesting", zap.String("method", method), zap.String("url", target))

	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1)) // Exponential backoff
			c.logger.Debug("retrying request", zap.Int("attempt", attempt), zap.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}

		if c.apiKey != "" {
			req.Header.Set("Authorization", "Basic "+c.apiKey)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		// Read body before closing for error messages
		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode == want:
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decoding response: %w", err)
			}
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return ErrNotFound
		case resp.StatusCode == http.StatusBadRequest:
			return fmt.Errorf("%w: %s", ErrBadRequest, errorMessage(respBody))
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return ErrAuthFailed
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = ErrRateLimited
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		default:
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// errorMessage extracts the "error" field of a JSON error body, falling back
// to the raw text the request validator writes.
func errorMessage(body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
