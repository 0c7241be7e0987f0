package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitushen/netsweep/internal/models"
	"github.com/hitushen/netsweep/internal/realtime"
	"github.com/hitushen/netsweep/internal/sweep"
	"github.com/hitushen/netsweep/internal/targets"
)

// localPrefix 返回本机出口地址所在的 /24 前缀，测试中可替换。
var localPrefix = func() (string, error) {
	ip, err := sweep.LocalIPv4()
	if err != nil {
		return "", err
	}
	return targets.PrefixOf(ip)
}

func (s *Server) apiListSweeps(w http.ResponseWriter, r *http.Request) {
	sweeps, err := s.store.ListSweeps(r.Context(), intParam(r.URL.Query().Get("limit"), 50))
	if err != nil {
		writeErr(w, err, http.StatusInternalServerError)
		return
	}
	if sweeps == nil {
		sweeps = []models.Sweep{}
	}
	writeJSON(w, sweeps)
}

func (s *Server) apiCreateSweep(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Prefix string `json:"prefix"`
		Range  string `json:"range"`
		Local  bool   `json:"local"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeErr(w, err, http.StatusBadRequest)
		return
	}
	prefix := strings.TrimSpace(body.Prefix)
	if prefix == "" && body.Local {
		p, err := localPrefix()
		if err != nil {
			writeMessage(w, fmt.Sprintf("detect local network: %v", err), http.StatusServiceUnavailable)
			return
		}
		prefix = p
	}
	if prefix == "" {
		writeMessage(w, "prefix required", http.StatusBadRequest)
		return
	}

	id, err := s.scanner.ScheduleSweep(r.Context(), prefix, body.Range)
	if err != nil {
		var argErr *targets.ArgumentError
		if errors.As(err, &argErr) {
			writeErr(w, err, http.StatusBadRequest)
			return
		}
		writeErr(w, err, http.StatusServiceUnavailable)
		return
	}
	sw, err := s.store.GetSweep(r.Context(), id)
	if err != nil {
		writeErr(w, err, statusFor(err))
		return
	}
	writeJSONStatus(w, http.StatusAccepted, sw)
}

func (s *Server) apiGetSweep(w http.ResponseWriter, r *http.Request) {
	sw, ok := s.loadSweep(w, r)
	if !ok {
		return
	}
	writeJSON(w, sw)
}

// apiExportSweep 以每行一个地址的文本格式导出存活主机。
func (s *Server) apiExportSweep(w http.ResponseWriter, r *http.Request) {
	sw, ok := s.loadSweep(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("sweep-%d.txt", sw.ID)))
	_, _ = w.Write(sweep.Format(sw.Hosts))
}

// apiImportSweep 将扫描发现的存活主机加入追踪列表。
func (s *Server) apiImportSweep(w http.ResponseWriter, r *http.Request) {
	sw, ok := s.loadSweep(w, r)
	if !ok {
		return
	}
	if sw.Status != models.SweepStatusDone && sw.Status != models.SweepStatusFailed {
		writeMessage(w, "sweep still running", http.StatusConflict)
		return
	}
	added, err := s.store.ImportHosts(r.Context(), sw.Hosts)
	if err != nil {
		writeErr(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"status": "ok", "added": added})
	if added > 0 {
		s.broker.Publish(realtime.Event{
			Type:    realtime.EventHostCreated,
			SweepID: sw.ID,
			Payload: map[string]interface{}{"imported": added},
		})
	}
}

func (s *Server) loadSweep(w http.ResponseWriter, r *http.Request) (*models.Sweep, bool) {
	id, err := parseIDParam(chi.URLParam(r, "sweepID"))
	if err != nil {
		writeErr(w, err, http.StatusBadRequest)
		return nil, false
	}
	sw, err := s.store.GetSweep(r.Context(), id)
	if err != nil {
		writeErr(w, err, statusFor(err))
		return nil, false
	}
	return sw, true
}
