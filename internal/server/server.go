// Package server exposes the BLE manager over HTTP, with scan and adapter
// events pushed to WebSocket clients.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blebeacon/blebeacon/internal/ble"
)

// advertiseTimeout bounds how long a broadcast request waits for the
// platform to confirm the advertisement.
const advertiseTimeout = 10 * time.Second

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Server serves the HTTP API.
type Server struct {
	manager  *ble.Manager
	hub      *Hub
	upgrader websocket.Upgrader
	server   *http.Server
}

// New creates a server for manager. hub must be the manager's event sink
// for WebSocket clients to receive events.
func New(manager *ble.Manager, hub *Hub) *Server {
	return &Server{
		manager: manager,
		hub:     hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the routes. The WebSocket endpoint bypasses the logging
// middleware so the connection can be hijacked.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()

	api.HandleFunc("POST /api/company-id", s.handleCompanyID)

	api.HandleFunc("POST /api/broadcast", s.handleBroadcast)
	api.HandleFunc("POST /api/broadcast/beacon", s.handleBroadcastBeacon)
	api.HandleFunc("DELETE /api/broadcast", s.handleStopBroadcast)

	api.HandleFunc("POST /api/scan", s.handleScan)
	api.HandleFunc("POST /api/scan/service", s.handleScanByService)
	api.HandleFunc("POST /api/scan/ibeacons", s.handleScanForIBeacons)
	api.HandleFunc("DELETE /api/scan", s.handleStopScan)
	api.HandleFunc("GET /api/scan/devices", s.handleRecentDevices)

	api.HandleFunc("POST /api/regions/monitored", s.handleAddRegion(s.manager.StartMonitoringForRegion))
	api.HandleFunc("GET /api/regions/monitored", s.handleListRegions(s.manager.MonitoredRegions))
	api.HandleFunc("DELETE /api/regions/monitored/{id}", s.handleRemoveRegion(s.manager.StopMonitoringForRegion))
	api.HandleFunc("POST /api/regions/ranged", s.handleAddRegion(s.manager.StartRangingBeaconsInRegion))
	api.HandleFunc("GET /api/regions/ranged", s.handleListRegions(s.manager.RangedRegions))
	api.HandleFunc("DELETE /api/regions/ranged/{id}", s.handleRemoveRegion(s.manager.StopRangingBeaconsInRegion))

	api.HandleFunc("POST /api/adapter/enable", s.handleAdapterPower(s.manager.EnableAdapter))
	api.HandleFunc("POST /api/adapter/disable", s.handleAdapterPower(s.manager.DisableAdapter))
	api.HandleFunc("GET /api/adapter/state", s.handleAdapterState)
	api.HandleFunc("GET /api/adapter/active", s.handleAdapterActive)

	api.HandleFunc("GET /api/constants", s.handleConstants)

	root := http.NewServeMux()
	root.HandleFunc("GET /api/events", s.handleEvents)
	root.Handle("/", loggingMiddleware(api))
	return root
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	slog.Info("[HTTP] listening", "addr", ln.Addr().String())
	err := s.server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and disconnects WebSocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type companyIDRequest struct {
	CompanyID *int `json:"companyId"`
}

func (s *Server) handleCompanyID(w http.ResponseWriter, r *http.Request) {
	var req companyIDRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CompanyID == nil || *req.CompanyID < 0 || *req.CompanyID > 0xFFFF {
		writeErrorResponse(w, http.StatusBadRequest, "BadRequest", "companyId must be in 0..65535")
		return
	}
	s.manager.SetCompanyID(uint16(*req.CompanyID))
	writeJSONResponse(w, http.StatusOK, map[string]int{"companyId": *req.CompanyID})
}

type broadcastRequest struct {
	UID     string               `json:"uid"`
	Payload ble.Bytes            `json:"payload"`
	Options ble.BroadcastOptions `json:"options"`
}

type beaconRequest struct {
	UUID    string            `json:"uuid"`
	Options ble.BeaconOptions `json:"options"`
}

type broadcastResponse struct {
	ID       string                `json:"id"`
	Settings ble.AdvertiseSettings `json:"settings"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pending, err := s.manager.Broadcast(req.UID, req.Payload, req.Options)
	s.awaitAdvertisement(w, r, pending, err)
}

func (s *Server) handleBroadcastBeacon(w http.ResponseWriter, r *http.Request) {
	var req beaconRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pending, err := s.manager.BroadcastAsBeacon(req.UUID, req.Options)
	s.awaitAdvertisement(w, r, pending, err)
}

// awaitAdvertisement answers once the platform confirms or rejects the
// advertisement started by a broadcast request.
func (s *Server) awaitAdvertisement(w http.ResponseWriter, r *http.Request, pending *ble.Pending, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), advertiseTimeout)
	defer cancel()
	settings, err := pending.Wait(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, broadcastResponse{ID: pending.ID(), Settings: settings})
}

func (s *Server) handleStopBroadcast(w http.ResponseWriter, r *http.Request) {
	ids, err := s.manager.StopBroadcast()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string][]string{"stopped": ids})
}

type scanRequest struct {
	Payload ble.Bytes              `json:"payload"`
	UID     string                 `json:"uid"`
	UUID    string                 `json:"uuid"`
	Options ble.ScanRequestOptions `json:"options"`
}

type statusResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status, err := s.manager.Scan(req.Payload, req.Options)
	writeStatus(w, status, err)
}

func (s *Server) handleScanByService(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status, err := s.manager.ScanByService(req.UID, req.Options)
	writeStatus(w, status, err)
}

func (s *Server) handleScanForIBeacons(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status, err := s.manager.ScanForIBeacons(req.UUID, req.Options)
	writeStatus(w, status, err)
}

func (s *Server) handleStopScan(w http.ResponseWriter, r *http.Request) {
	status, err := s.manager.StopScan()
	writeStatus(w, status, err)
}

func (s *Server) handleRecentDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.manager.ScanSession().RecentDevices()
	if devices == nil {
		devices = []ble.DeviceFound{}
	}
	writeJSONResponse(w, http.StatusOK, devices)
}

type regionRequest struct {
	UUID    string            `json:"uuid"`
	Options ble.RegionOptions `json:"options"`
}

func (s *Server) handleAddRegion(add func(string, ble.RegionOptions) (ble.RegionResponse, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req regionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		resp, err := add(req.UUID, req.Options)
		if err != nil {
			writeError(w, err)
			return
		}
		slog.Info("[REGION] added", "path", r.URL.Path, "identifier", resp.Identifier)
		writeJSONResponse(w, http.StatusOK, resp)
	}
}

func (s *Server) handleListRegions(list func() []ble.RegionInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, http.StatusOK, list())
	}
}

func (s *Server) handleRemoveRegion(remove func(string) (ble.RegionResponse, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := remove(r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		slog.Info("[REGION] removed", "path", r.URL.Path, "identifier", resp.Identifier)
		writeJSONResponse(w, http.StatusOK, resp)
	}
}

func (s *Server) handleAdapterPower(fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(); err != nil {
			writeError(w, err)
			return
		}
		writeJSONResponse(w, http.StatusAccepted, map[string]bool{"requested": true})
	}
}

func (s *Server) handleAdapterState(w http.ResponseWriter, r *http.Request) {
	state, err := s.manager.AdapterState()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"state": state})
}

func (s *Server) handleAdapterActive(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]bool{"active": s.manager.IsActive()})
}

func (s *Server) handleConstants(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, ble.Constants())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		slog.Warn("[WS] upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	s.hub.Serve(conn)
}

// decodeBody parses a JSON request body into v. An empty body leaves v at
// its zero value.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "BadRequest", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeStatus(w http.ResponseWriter, status string, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, statusResponse{Status: status})
}

// writeError maps err to an HTTP status and its stable error code.
func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		writeErrorResponse(w, http.StatusGatewayTimeout, "Timeout", err.Error())
		return
	}
	code := ble.ErrorCode(err)
	writeErrorResponse(w, httpStatus(code), code, err.Error())
}

func httpStatus(code string) int {
	switch code {
	case "InvalidUUID", "InvalidRegion":
		return http.StatusBadRequest
	case "RegionNotFound":
		return http.StatusNotFound
	case "AdapterUnavailable", "AdapterDisabled", "AdvertiserUnavailable", "ScannerUnavailable":
		return http.StatusServiceUnavailable
	case "FeatureUnsupported":
		return http.StatusNotImplemented
	case "TooManyAdvertisers", "AlreadyStarted", "Canceled":
		return http.StatusConflict
	case "DataTooLarge":
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func writeJSONResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("[HTTP] encoding response", "error", err)
	}
}

func writeErrorResponse(w http.ResponseWriter, status int, code, msg string) {
	writeJSONResponse(w, status, ErrorResponse{Error: msg, Code: code})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("[HTTP] request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}
