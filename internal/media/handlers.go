package media

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/HerbHall/lockwatch/internal/protocol/onvif"
	"github.com/HerbHall/lockwatch/internal/server"
	"github.com/HerbHall/lockwatch/pkg/models"
	"github.com/HerbHall/lockwatch/pkg/plugin"
)

// startStreamRequest is the body of POST /streams.
type startStreamRequest struct {
	StreamID     string `json:"stream_id"`
	FacilityID   string `json:"facility_id"`
	Address      string `json:"address"`
	Port         int    `json:"port"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	ProfileToken string `json:"profile_token"`
	Quality      string `json:"quality"`
}

// startStreamResponse carries the handle and the redacted source.
type startStreamResponse struct {
	Stream *StreamHandle           `json:"stream"`
	Source models.StreamDescriptor `json:"source"`
}

// ptzRequest is the body of POST /ptz.
type ptzRequest struct {
	Address      string `json:"address"`
	Port         int    `json:"port"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	ProfileToken string `json:"profile_token"`
	Direction    string `json:"direction"`
}

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/streams", Handler: m.handleListStreams},
		{Method: "POST", Path: "/streams", Handler: m.handleStartStream},
		{Method: "GET", Path: "/streams/resolve", Handler: m.handleResolve},
		{Method: "DELETE", Path: "/streams/{id}", Handler: m.handleStopStream},
		{Method: "GET", Path: "/health", Handler: m.handleHealth},
		{Method: "POST", Path: "/ptz", Handler: m.handlePTZ},
	}
}

// handleListStreams returns streams started by this process.
//
//	@Summary		List streams
//	@Tags			media
//	@Produce		json
//	@Success		200 {array} StreamHandle
//	@Router			/media/streams [get]
func (m *Module) handleListStreams(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, m.Streams())
}

// handleStartStream resolves a camera source and starts it on the media
// server.
//
//	@Summary		Start stream
//	@Tags			media
//	@Accept			json
//	@Produce		json
//	@Param			request body startStreamRequest true "Camera and stream options"
//	@Success		201 {object} startStreamResponse
//	@Failure		400 {object} server.Problem
//	@Failure		502 {object} server.Problem
//	@Router			/media/streams [post]
func (m *Module) handleStartStream(w http.ResponseWriter, r *http.Request) {
	var req startStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.BadRequest(w, "invalid request body", r.URL.Path)
		return
	}
	quality, err := ParseQuality(req.Quality, m.cfg.DefaultQuality)
	if err != nil {
		server.BadRequest(w, err.Error(), r.URL.Path)
		return
	}

	h, desc, err := m.StartStream(r.Context(), StartRequest{
		StreamID: req.StreamID,
		Quality:  quality,
		Target: Target{
			FacilityID:   req.FacilityID,
			Address:      req.Address,
			Port:         req.Port,
			Username:     req.Username,
			Password:     req.Password,
			ProfileToken: req.ProfileToken,
		},
	})
	if err != nil {
		m.writeError(w, r, "failed to start stream", err)
		return
	}
	writeJSON(w, http.StatusCreated, startStreamResponse{Stream: h, Source: desc.Redacted()})
}

// handleResolve returns the source a stream would use, without starting it.
//
//	@Summary		Resolve stream source
//	@Tags			media
//	@Produce		json
//	@Param			address query string true "Camera address"
//	@Param			port query int false "ONVIF port" default(80)
//	@Param			profile_token query string false "Media profile"
//	@Success		200 {object} models.StreamDescriptor
//	@Failure		400 {object} server.Problem
//	@Router			/media/streams/resolve [get]
func (m *Module) handleResolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	t := Target{
		FacilityID:   q.Get("facility_id"),
		Address:      q.Get("address"),
		ProfileToken: q.Get("profile_token"),
	}
	if raw := q.Get("port"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			server.BadRequest(w, "port must be between 1 and 65535", r.URL.Path)
			return
		}
		t.Port = port
	}

	desc, err := m.Resolve(r.Context(), t)
	if err != nil {
		m.writeError(w, r, "failed to resolve stream", err)
		return
	}
	writeJSON(w, http.StatusOK, desc.Redacted())
}

// handleStopStream stops a stream.
//
//	@Summary		Stop stream
//	@Tags			media
//	@Param			id path string true "Stream ID"
//	@Success		204
//	@Failure		404 {object} server.Problem
//	@Router			/media/streams/{id} [delete]
func (m *Module) handleStopStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := m.StopStream(r.Context(), id); err != nil {
		m.writeError(w, r, "failed to stop stream", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHealth reports media server reachability.
//
//	@Summary		Media server health
//	@Tags			media
//	@Produce		json
//	@Success		200 {object} map[string]bool
//	@Router			/media/health [get]
func (m *Module) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"healthy": m.server.Health(r.Context())})
}

// handlePTZ accepts a PTZ command and sends it in the background.
//
//	@Summary		PTZ move
//	@Tags			media
//	@Accept			json
//	@Param			request body ptzRequest true "Camera, profile and direction"
//	@Success		202
//	@Failure		400 {object} server.Problem
//	@Router			/media/ptz [post]
func (m *Module) handlePTZ(w http.ResponseWriter, r *http.Request) {
	var req ptzRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.BadRequest(w, "invalid request body", r.URL.Path)
		return
	}
	err := m.MovePTZ(r.Context(), PTZRequest{
		Direction: onvif.Direction(req.Direction),
		Target: Target{
			Address:      req.Address,
			Port:         req.Port,
			Username:     req.Username,
			Password:     req.Password,
			ProfileToken: req.ProfileToken,
		},
	})
	if err != nil {
		m.writeError(w, r, "invalid ptz command", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (m *Module) writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	var se *ServerError
	switch {
	case errors.Is(err, ErrInvalidTarget):
		server.BadRequest(w, err.Error(), r.URL.Path)
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrStreamNotFound):
		server.NotFound(w, err.Error(), r.URL.Path)
	case errors.As(err, &se):
		server.BadGateway(w, se.Error(), r.URL.Path)
	default:
		m.logger.Warn(msg, zap.Error(err))
		server.Unavailable(w, msg, r.URL.Path)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
