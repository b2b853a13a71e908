package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"i4.energy/across/cellmodem/at"
	"i4.energy/across/cellmodem/modem"
)

// Device is the modem capability set the server exposes.
type Device interface {
	modem.Driver
	modem.Executor
}

// SocketDevice is implemented by modems with AT sockets.
type SocketDevice interface {
	Sockets() *modem.SocketManager
}

// Server handles incoming HTTP requests for interacting with the
// configured modem instance
type Server struct {
	Logger *slog.Logger
	Modem  Device
	// Token, when set, must be presented as "Authorization: Bearer <token>"
	Token string
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.Token {
		s.sendError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /identity", s.handleIdentity)
	mux.HandleFunc("POST /registration", s.handleRegistration)
	mux.HandleFunc("POST /at", s.handleCommand)
	mux.HandleFunc("GET /sockets", s.handleSockets)
	mux.HandleFunc("GET /sockets/{id}", s.handleSocket)
	mux.HandleFunc("POST /sockets/{id}", s.handleOpenSocket)
	mux.HandleFunc("DELETE /sockets/{id}", s.handleCloseSocket)
	mux.ServeHTTP(w, r)
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	resp := ErrorResponse{Message: message}
	s.sendJSON(w, resp, statusCode)
}

func (s *Server) sendJSON(w http.ResponseWriter, v any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Warn("Failed to write response", "error", err)
	}
}

// sendModemError maps modem failures to HTTP status codes.
func (s *Server) sendModemError(w http.ResponseWriter, err error) {
	var vendorErr *at.VendorError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, modem.ErrSocketLeaked):
		status = http.StatusInternalServerError
	case errors.Is(err, modem.ErrInvalidSocket):
		status = http.StatusBadRequest
	case errors.Is(err, modem.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, modem.ErrSocketsUnsupported):
		status = http.StatusNotImplemented
	case errors.Is(err, modem.ErrNotConnected), errors.Is(err, modem.ErrTransportUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, at.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.As(err, &vendorErr), errors.Is(err, at.ErrUnknownResponse):
		status = http.StatusBadGateway
	}
	s.sendError(w, err.Error(), status)
}

// handleIdentity reads the SIM ICCID
func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	iccid, err := s.Modem.ICCID(r.Context())
	if err != nil {
		s.Logger.Error("Failed to read ICCID", "error", err)
		s.sendModemError(w, err)
		return
	}

	type IdentityResponse struct {
		ICCID string `json:"iccid"`
	}
	s.sendJSON(w, IdentityResponse{ICCID: iccid}, http.StatusOK)
}

// handleRegistration enables network registration reports
func (s *Server) handleRegistration(w http.ResponseWriter, r *http.Request) {
	if err := s.Modem.SetNetworkRegistrationStatus(r.Context()); err != nil {
		s.Logger.Error("Failed to set registration status", "error", err)
		s.sendModemError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCommand passes a single AT command through to the modem
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	type CommandRequest struct {
		// Command without the "AT" prefix, e.g. "+CSQ"
		Command string `json:"command"`
		Arg     string `json:"arg,omitempty"`
		Timeout string `json:"timeout,omitempty"`
	}

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Command = strings.TrimPrefix(strings.TrimPrefix(req.Command, "AT"), "at")

	cmd := at.Command{Name: req.Command, Arg: req.Arg}
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil || d <= 0 {
			s.sendError(w, "invalid timeout", http.StatusBadRequest)
			return
		}
		cmd = cmd.WithTimeout(d)
	}

	res, err := s.Modem.Execute(r.Context(), cmd)
	if err != nil {
		s.Logger.Error("Command failed", "command", cmd.String(), "error", err)
		s.sendModemError(w, err)
		return
	}

	type CommandResponse struct {
		Status  string   `json:"status"`
		Payload string   `json:"payload,omitempty"`
		Lines   []string `json:"lines,omitempty"`
	}
	s.Logger.Info("Command completed", "command", cmd.String(), "status", res.Status)
	s.sendJSON(w, CommandResponse{
		Status:  res.Status.String(),
		Payload: res.Payload,
		Lines:   res.Lines,
	}, http.StatusOK)
}

type socketResponse struct {
	ID               int    `json:"id"`
	State            string `json:"state"`
	PDPContextActive bool   `json:"pdp_context_active"`
	Protocol         string `json:"protocol,omitempty"`
	Host             string `json:"host,omitempty"`
	Port             int    `json:"port,omitempty"`
}

func newSocketResponse(sock modem.Socket) socketResponse {
	return socketResponse{
		ID:               sock.ID,
		State:            sock.State.String(),
		PDPContextActive: sock.PDPContextActive,
		Protocol:         string(sock.Config.Protocol),
		Host:             sock.Config.Host,
		Port:             sock.Config.Port,
	}
}

// sockets returns the socket manager and the socket id of the request.
func (s *Server) sockets(w http.ResponseWriter, r *http.Request) (*modem.SocketManager, int, bool) {
	dev, ok := s.Modem.(SocketDevice)
	if !ok {
		s.sendModemError(w, modem.ErrSocketsUnsupported)
		return nil, 0, false
	}
	if r.PathValue("id") == "" {
		return dev.Sockets(), 0, true
	}
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.sendError(w, "socket id must be a number", http.StatusBadRequest)
		return nil, 0, false
	}
	return dev.Sockets(), id, true
}

// handleSockets lists the sockets that are not closed
func (s *Server) handleSockets(w http.ResponseWriter, r *http.Request) {
	sockets, _, ok := s.sockets(w, r)
	if !ok {
		return
	}
	resp := []socketResponse{}
	for _, sock := range sockets.Snapshot() {
		resp = append(resp, newSocketResponse(sock))
	}
	s.sendJSON(w, resp, http.StatusOK)
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	sockets, id, ok := s.sockets(w, r)
	if !ok {
		return
	}
	sock, err := sockets.Socket(id)
	if err != nil {
		s.sendModemError(w, err)
		return
	}
	s.sendJSON(w, newSocketResponse(sock), http.StatusOK)
}

// handleOpenSocket opens a socket to the remote end in the request body
func (s *Server) handleOpenSocket(w http.ResponseWriter, r *http.Request) {
	sockets, id, ok := s.sockets(w, r)
	if !ok {
		return
	}

	type OpenRequest struct {
		Protocol string `json:"protocol"`
		Host     string `json:"host"`
		Port     int    `json:"port"`
	}

	var req OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Host == "" || req.Port <= 0 {
		s.sendError(w, "both 'host' and 'port' fields are required", http.StatusBadRequest)
		return
	}

	cfg := modem.SocketConfig{
		Protocol: modem.Protocol(strings.ToUpper(req.Protocol)),
		Host:     req.Host,
		Port:     req.Port,
	}
	if cfg.Protocol != "" && cfg.Protocol != modem.TCP && cfg.Protocol != modem.UDP {
		s.sendError(w, "protocol must be TCP or UDP", http.StatusBadRequest)
		return
	}

	if err := sockets.Open(r.Context(), id, cfg); err != nil {
		s.Logger.Error("Failed to open socket", "socket", id, "error", err)
		s.sendModemError(w, err)
		return
	}

	sock, _ := sockets.Socket(id)
	s.sendJSON(w, newSocketResponse(sock), http.StatusCreated)
}

func (s *Server) handleCloseSocket(w http.ResponseWriter, r *http.Request) {
	sockets, id, ok := s.sockets(w, r)
	if !ok {
		return
	}
	if err := sockets.Close(r.Context(), id); err != nil {
		s.Logger.Error("Failed to close socket", "socket", id, "error", err)
		s.sendModemError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
