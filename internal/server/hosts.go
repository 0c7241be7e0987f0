package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitushen/netsweep/internal/models"
	"github.com/hitushen/netsweep/internal/realtime"
	"github.com/hitushen/netsweep/internal/services/fingerprint"
	"github.com/hitushen/netsweep/internal/store"
	"github.com/hitushen/netsweep/internal/targets"
)

func (s *Server) apiListHosts(w http.ResponseWriter, r *http.Request) {
	hosts, err := s.store.ListHosts(r.Context())
	if err != nil {
		writeErr(w, err, http.StatusInternalServerError)
		return
	}
	if hosts == nil {
		hosts = []models.Host{}
	}
	writeJSON(w, hosts)
}

func (s *Server) apiCreateHost(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, err, http.StatusBadRequest)
		return
	}
	address := targets.Normalize(body.Address)
	if address == "" {
		writeMessage(w, "address required", http.StatusBadRequest)
		return
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		name = address
	}
	hostID, err := s.store.CreateHost(r.Context(), name, address)
	if err != nil {
		if store.IsUniqueViolation(err) {
			writeMessage(w, "主机名称已存在，请更换名称", http.StatusConflict)
			return
		}
		writeErr(w, err, http.StatusInternalServerError)
		return
	}
	host, err := s.store.GetHost(r.Context(), hostID)
	if err != nil {
		writeErr(w, err, statusFor(err))
		return
	}
	writeJSONStatus(w, http.StatusCreated, host)

	s.broker.Publish(realtime.Event{
		Type:   realtime.EventHostCreated,
		HostID: hostID,
		Payload: map[string]interface{}{
			"name":    host.Name,
			"address": host.Address,
		},
	})
	s.scanner.ScheduleProbe(hostID, nil)
}

func (s *Server) apiDeleteHost(w http.ResponseWriter, r *http.Request) {
	hostID, err := parseIDParam(chi.URLParam(r, "hostID"))
	if err != nil {
		writeErr(w, err, http.StatusBadRequest)
		return
	}
	if err := s.store.DeleteHost(r.Context(), hostID); err != nil {
		writeErr(w, err, statusFor(err))
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
	s.broker.Publish(realtime.Event{Type: realtime.EventHostDeleted, HostID: hostID})
}

// apiProbeHost 对主机的候选端口做一次连接探测，未提供 ports 时使用默认端口。
func (s *Server) apiProbeHost(w http.ResponseWriter, r *http.Request) {
	host, ok := s.loadHost(w, r)
	if !ok {
		return
	}
	var body struct {
		Ports string `json:"ports"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeErr(w, err, http.StatusBadRequest)
		return
	}
	var ports []int
	if strings.TrimSpace(body.Ports) != "" {
		parsed, err := targets.ParsePorts(body.Ports)
		if err != nil {
			writeErr(w, err, http.StatusBadRequest)
			return
		}
		ports = parsed
	}
	if !s.scanner.ScheduleProbe(host.ID, ports) {
		writeJSON(w, map[string]string{"status": "scanning"})
		return
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

// apiScanHost 对主机做 1-65535 全范围扫描。
func (s *Server) apiScanHost(w http.ResponseWriter, r *http.Request) {
	host, ok := s.loadHost(w, r)
	if !ok {
		return
	}
	if !s.scanner.ScheduleFullRange(host.ID) {
		writeJSON(w, map[string]string{"status": "scanning"})
		return
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (s *Server) apiListPorts(w http.ResponseWriter, r *http.Request) {
	host, ok := s.loadHost(w, r)
	if !ok {
		return
	}
	status := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))
	switch status {
	case "", models.PortStatusOpen, models.PortStatusClosed:
	default:
		writeMessage(w, "invalid status filter", http.StatusBadRequest)
		return
	}
	ports, err := s.store.ListPorts(r.Context(), host.ID, status)
	if err != nil {
		writeErr(w, err, http.StatusInternalServerError)
		return
	}
	if ports == nil {
		ports = []models.Port{}
	}
	writeJSON(w, map[string]interface{}{
		"host":  host,
		"ports": ports,
	})
}

func (s *Server) apiListServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, fingerprint.Table())
}

func (s *Server) loadHost(w http.ResponseWriter, r *http.Request) (*models.Host, bool) {
	hostID, err := parseIDParam(chi.URLParam(r, "hostID"))
	if err != nil {
		writeErr(w, err, http.StatusBadRequest)
		return nil, false
	}
	host, err := s.store.GetHost(r.Context(), hostID)
	if err != nil {
		writeErr(w, err, statusFor(err))
		return nil, false
	}
	return host, true
}
