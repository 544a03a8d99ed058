package recon

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/lockwatch/internal/server"
	"github.com/HerbHall/lockwatch/pkg/models"
	"github.com/HerbHall/lockwatch/pkg/plugin"
)

// scanRequest is the JSON body for POST /scan.
type scanRequest struct {
	Start      string   `json:"ip_range_start"`
	End        string   `json:"ip_range_end"`
	Protocols  []string `json:"protocols,omitempty"`
	TimeoutMS  int      `json:"timeout_ms,omitempty"`
	FacilityID string   `json:"facility_id,omitempty"`
}

// testConnectionRequest is the JSON body for POST /test-connection.
type testConnectionRequest struct {
	Address    string `json:"address"`
	ONVIFPort  int    `json:"onvif_port,omitempty"`
	RTSPPort   int    `json:"rtsp_port,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	FacilityID string `json:"facility_id,omitempty"`
}

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "POST", Path: "/scan", Handler: m.handleScan},
		{Method: "GET", Path: "/scans", Handler: m.handleListScans},
		{Method: "GET", Path: "/devices", Handler: m.handleListDevices},
		{Method: "GET", Path: "/devices/export", Handler: m.handleExportDevices},
		{Method: "GET", Path: "/devices/{id}", Handler: m.handleGetDevice},
		{Method: "POST", Path: "/test-connection", Handler: m.handleTestConnection},
	}
}

// handleScan probes an address range and returns the devices found.
//
//	@Summary		Discover devices
//	@Description	Probes up to 20 addresses for ONVIF, RTSP and HTTP. Falls back to demo devices when nothing answers.
//	@Tags			recon
//	@Accept			json
//	@Produce		json
//	@Param			body body scanRequest true "Address range"
//	@Success		200 {object} DiscoveryResult
//	@Failure		400 {object} server.Problem
//	@Failure		429 {object} server.Problem
//	@Router			/recon/scan [post]
func (m *Module) handleScan(w http.ResponseWriter, r *http.Request) {
	if !m.limiter.Allow() {
		w.Header().Set("Retry-After", "5")
		server.RateLimited(w, "scan rate exceeded, try again shortly", r.URL.Path)
		return
	}

	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	dreq := DiscoverRequest{
		Start:      req.Start,
		End:        req.End,
		Timeout:    time.Duration(req.TimeoutMS) * time.Millisecond,
		FacilityID: req.FacilityID,
	}
	for _, p := range req.Protocols {
		kind, ok := models.ParseProtocolKind(p)
		if !ok {
			server.BadRequest(w, "unknown protocol "+strconv.Quote(p), r.URL.Path)
			return
		}
		dreq.Protocols = append(dreq.Protocols, kind)
	}

	m.wg.Add(1)
	defer m.wg.Done()
	res, err := m.Discover(r.Context(), dreq, TriggerAPI)
	if errors.Is(err, ErrInvalidRange) {
		server.BadRequest(w, err.Error(), r.URL.Path)
		return
	}
	if err != nil {
		m.logger.Error("scan failed", zap.Error(err))
		server.InternalError(w, "scan failed", r.URL.Path)
		return
	}
	if res.Devices == nil {
		res.Devices = []models.DiscoveredDevice{}
	}
	writeJSON(w, http.StatusOK, res)
}

// handleListScans returns recent scan history.
//
//	@Summary		List scans
//	@Tags			recon
//	@Produce		json
//	@Param			limit query int false "Maximum entries" default(50)
//	@Success		200 {array} ScanRecord
//	@Router			/recon/scans [get]
func (m *Module) handleListScans(w http.ResponseWriter, r *http.Request) {
	if m.store == nil {
		server.NoStore(w, "recon", r.URL.Path)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	scans, err := m.store.ListScans(r.Context(), limit)
	if err != nil {
		m.logger.Warn("failed to list scans", zap.Error(err))
		server.InternalError(w, "failed to list scans", r.URL.Path)
		return
	}
	if scans == nil {
		scans = []ScanRecord{}
	}
	writeJSON(w, http.StatusOK, scans)
}

// handleListDevices returns persisted devices.
//
//	@Summary		List devices
//	@Tags			recon
//	@Produce		json
//	@Param			facility_id query string false "Facility filter"
//	@Success		200 {array} models.DeviceRecord
//	@Router			/recon/devices [get]
func (m *Module) handleListDevices(w http.ResponseWriter, r *http.Request) {
	if m.store == nil {
		server.NoStore(w, "recon", r.URL.Path)
		return
	}
	devices, err := m.store.ListDevices(r.Context(), r.URL.Query().Get("facility_id"))
	if err != nil {
		m.logger.Warn("failed to list devices", zap.Error(err))
		server.InternalError(w, "failed to list devices", r.URL.Path)
		return
	}
	if devices == nil {
		devices = []models.DeviceRecord{}
	}
	writeJSON(w, http.StatusOK, devices)
}

// handleGetDevice returns one device by id.
//
//	@Summary		Get device
//	@Tags			recon
//	@Produce		json
//	@Param			id path string true "Device ID"
//	@Success		200 {object} models.DeviceRecord
//	@Failure		404 {object} server.Problem
//	@Router			/recon/devices/{id} [get]
func (m *Module) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	if m.store == nil {
		server.NoStore(w, "recon", r.URL.Path)
		return
	}
	dev, err := m.store.GetDevice(r.Context(), r.PathValue("id"))
	if errors.Is(err, ErrNotFound) {
		server.NotFound(w, "device not found", r.URL.Path)
		return
	}
	if err != nil {
		m.logger.Warn("failed to get device", zap.Error(err))
		server.InternalError(w, "failed to get device", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleExportDevices streams all devices as CSV.
//
//	@Summary		Export devices
//	@Tags			recon
//	@Produce		text/csv
//	@Param			facility_id query string false "Facility filter"
//	@Success		200 {string} string "CSV"
//	@Router			/recon/devices/export [get]
func (m *Module) handleExportDevices(w http.ResponseWriter, r *http.Request) {
	if m.store == nil {
		server.NoStore(w, "recon", r.URL.Path)
		return
	}
	devices, err := m.store.ListDevices(r.Context(), r.URL.Query().Get("facility_id"))
	if err != nil {
		m.logger.Warn("failed to export devices", zap.Error(err))
		server.InternalError(w, "failed to export devices", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="lockwatch-devices.csv"`)
	if err := writeDevicesCSV(w, devices); err != nil {
		m.logger.Warn("csv export interrupted", zap.Error(err))
	}
}

// handleTestConnection checks whether a device answers ONVIF, RTSP or HTTP.
//
//	@Summary		Test device connectivity
//	@Tags			recon
//	@Accept			json
//	@Produce		json
//	@Param			body body testConnectionRequest true "Target"
//	@Success		200 {object} ConnectivityResult
//	@Failure		400 {object} server.Problem
//	@Router			/recon/test-connection [post]
func (m *Module) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	var req testConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	if req.Address == "" {
		server.BadRequest(w, "address is required", r.URL.Path)
		return
	}
	res := m.TestConnection(r.Context(), req.FacilityID, ConnectivityRequest{
		Address:   req.Address,
		ONVIFPort: req.ONVIFPort,
		RTSPPort:  req.RTSPPort,
		Username:  req.Username,
		Password:  req.Password,
	})
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
