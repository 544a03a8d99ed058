package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Quality is the output rendition requested from the media server.
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// ParseQuality validates s. An empty s returns def.
func ParseQuality(s string, def Quality) (Quality, error) {
	switch q := Quality(strings.ToLower(strings.TrimSpace(s))); q {
	case "":
		return def, nil
	case QualityLow, QualityMedium, QualityHigh:
		return q, nil
	default:
		return "", fmt.Errorf("quality %q: want low, medium or high", s)
	}
}

// StreamHandle describes a stream running on the media server.
type StreamHandle struct {
	ID          string    `json:"id"`
	PlaybackURL string    `json:"playback_url"`
	Quality     Quality   `json:"quality"`
	StartedAt   time.Time `json:"started_at"`
}

// Server is the out-of-process media server that turns an RTSP source into
// a browser-playable stream.
type Server interface {
	Start(ctx context.Context, streamID, sourceURI string, quality Quality) (*StreamHandle, error)
	Stop(ctx context.Context, streamID string) error
	Health(ctx context.Context) bool
}

// ErrStreamNotFound is returned by Stop for an id the server does not know.
var ErrStreamNotFound = errors.New("stream not found")

// ServerError is a non-2xx answer from the media server.
type ServerError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("media server %s: http %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("media server %s: http %d", e.Op, e.StatusCode)
}

type startRequest struct {
	ID      string  `json:"id"`
	Source  string  `json:"source"`
	Quality Quality `json:"quality"`
}

type startResponse struct {
	ID          string `json:"id"`
	PlaybackURL string `json:"playback_url"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HTTPServer is a Server reached over its JSON control API.
type HTTPServer struct {
	client *resty.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewHTTPServer returns a client for the media server at baseURL.
func NewHTTPServer(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &HTTPServer{client: client, logger: logger, now: time.Now}
}

// Start asks the server to ingest sourceURI as streamID.
func (s *HTTPServer) Start(ctx context.Context, streamID, sourceURI string, quality Quality) (*StreamHandle, error) {
	var (
		result  startResponse
		failure errorResponse
	)
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(startRequest{ID: streamID, Source: sourceURI, Quality: quality}).
		SetResult(&result).
		SetError(&failure).
		Post("/streams")
	if err != nil {
		return nil, fmt.Errorf("media server start %s: %w", streamID, err)
	}
	if resp.IsError() {
		return nil, &ServerError{Op: "start", StatusCode: resp.StatusCode(), Message: failure.Error}
	}

	h := &StreamHandle{
		ID:          streamID,
		PlaybackURL: result.PlaybackURL,
		Quality:     quality,
		StartedAt:   s.now().UTC(),
	}
	if result.ID != "" {
		h.ID = result.ID
	}
	s.logger.Debug("media stream started",
		zap.String("stream_id", h.ID),
		zap.String("playback_url", h.PlaybackURL),
	)
	return h, nil
}

// Stop tears down streamID. A 404 maps to ErrStreamNotFound.
func (s *HTTPServer) Stop(ctx context.Context, streamID string) error {
	var failure errorResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParam("id", streamID).
		SetError(&failure).
		Delete("/streams/{id}")
	if err != nil {
		return fmt.Errorf("media server stop %s: %w", streamID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("stream %s: %w", streamID, ErrStreamNotFound)
	}
	if resp.IsError() {
		return &ServerError{Op: "stop", StatusCode: resp.StatusCode(), Message: failure.Error}
	}
	return nil
}

// Health reports whether the server answers its health endpoint with 2xx.
func (s *HTTPServer) Health(ctx context.Context) bool {
	resp, err := s.client.R().SetContext(ctx).Get("/health")
	if err != nil {
		s.logger.Debug("media server health check failed", zap.Error(err))
		return false
	}
	return resp.IsSuccess()
}
