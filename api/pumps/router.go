// Package pumps serves the status and command HTTP API.
package pumps

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/kilianp07/pipump/core/mode"
	"github.com/kilianp07/pipump/core/pump"
	"github.com/kilianp07/pipump/core/runlog"
	"github.com/kilianp07/pipump/infra/kpi"
	"github.com/kilianp07/pipump/pkg/export"
)

// Controller is the part of the mode controller the API drives.
type Controller interface {
	Mode() mode.Mode
	SetModeString(s string) error
	Switch(name, cmd string) error
}

// PowerReader exposes the smoothed power budget.
type PowerReader interface {
	Production() int
	Consumption() int
	Availability() int
}

// DailyReader returns daily runtime totals.
type DailyReader interface {
	Query(ctx context.Context, pump string, start, end time.Time) ([]kpi.Daily, error)
}

// Deps groups what the handlers read from and act on.
type Deps struct {
	Pumps      []*pump.Pump
	Controller Controller
	Power      PowerReader
	Runs       runlog.Store
	Daily      DailyReader
	Metrics    http.Handler

	// Token, when set, is required as a bearer token on /api routes.
	Token string
}

type server struct {
	Deps
	byName map[string]*pump.Pump
}

// NewRouter registers the API routes.
func NewRouter(d Deps) *mux.Router {
	if d.Runs == nil {
		d.Runs = runlog.NopStore{}
	}
	s := &server{Deps: d, byName: pump.Index(d.Pumps)}

	r := mux.NewRouter()
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	// Without its own handler a subrouter reports a method mismatch as 404.
	api.MethodNotAllowedHandler = r.MethodNotAllowedHandler
	api.Use(s.auth)
	api.HandleFunc("/pumps", s.listPumps).Methods(http.MethodGet)
	api.HandleFunc("/pumps/{name}", s.getPump).Methods(http.MethodGet)
	api.HandleFunc("/pumps/{name}/runs", s.listRuns).Methods(http.MethodGet)
	api.HandleFunc("/pumps/{name}/daily", s.listDaily).Methods(http.MethodGet)
	api.HandleFunc("/pumps/{name}/state", s.putPumpState).Methods(http.MethodPut)
	api.HandleFunc("/mode", s.getMode).Methods(http.MethodGet)
	api.HandleFunc("/mode", s.putMode).Methods(http.MethodPut)
	api.HandleFunc("/power", s.getPower).Methods(http.MethodGet)
	return r
}

// NewHandler wraps the router with an access log written to out.
func NewHandler(d Deps, out io.Writer) http.Handler {
	return handlers.LoggingHandler(out, NewRouter(d))
}

func (s *server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.Token {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = export.WriteJSON(w, v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, r.Method+" not allowed on "+r.URL.Path)
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "mode": s.Controller.Mode().String()})
}

func (s *server) listPumps(w http.ResponseWriter, _ *http.Request) {
	out := make([]pump.Snapshot, 0, len(s.Pumps))
	for _, p := range s.Pumps {
		out = append(out, p.Snapshot())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) lookup(w http.ResponseWriter, r *http.Request) (*pump.Pump, bool) {
	name := mux.Vars(r)["name"]
	p, ok := s.byName[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown pump "+name)
	}
	return p, ok
}

func (s *server) getPump(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.lookup(w, r); ok {
		writeJSON(w, http.StatusOK, p.Snapshot())
	}
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

// timeRange reads the optional RFC3339 start and end query parameters.
func timeRange(w http.ResponseWriter, r *http.Request) (start, end time.Time, ok bool) {
	var err error
	if start, err = parseTime(r.URL.Query().Get("start")); err != nil {
		writeError(w, http.StatusBadRequest, "start: "+err.Error())
		return start, end, false
	}
	if end, err = parseTime(r.URL.Query().Get("end")); err != nil {
		writeError(w, http.StatusBadRequest, "end: "+err.Error())
		return start, end, false
	}
	return start, end, true
}

func wantsCSV(r *http.Request) bool { return r.URL.Query().Get("format") == "csv" }

func writeCSV(w http.ResponseWriter, fn func(io.Writer) error) {
	w.Header().Set("Content-Type", "text/csv")
	_ = fn(w)
}

func (s *server) listRuns(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookup(w, r)
	if !ok {
		return
	}
	start, end, ok := timeRange(w, r)
	if !ok {
		return
	}
	recs, err := s.Runs.Query(r.Context(), runlog.Query{Pump: p.Name(), Start: start, End: end})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if wantsCSV(r) {
		writeCSV(w, func(out io.Writer) error { return export.WriteRunsCSV(out, recs) })
		return
	}
	if recs == nil {
		recs = []runlog.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *server) listDaily(w http.ResponseWriter, r *http.Request) {
	if s.Daily == nil {
		writeError(w, http.StatusNotFound, "daily totals are not enabled")
		return
	}
	p, ok := s.lookup(w, r)
	if !ok {
		return
	}
	start, end, ok := timeRange(w, r)
	if !ok {
		return
	}
	days, err := s.Daily.Query(r.Context(), p.Name(), start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if wantsCSV(r) {
		writeCSV(w, func(out io.Writer) error { return export.WriteDailyCSV(out, days) })
		return
	}
	if days == nil {
		days = []kpi.Daily{}
	}
	writeJSON(w, http.StatusOK, days)
}

type stateRequest struct {
	State string `json:"state"`
}

func (s *server) putPumpState(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req stateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	err := s.Controller.Switch(p.Name(), req.State)
	switch {
	case errors.Is(err, mode.ErrNotManual):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, mode.ErrInvalidCommand):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, mode.ErrUnknownPump):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, p.Snapshot())
	}
}

type modeBody struct {
	Mode string `json:"mode"`
}

func (s *server) getMode(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, modeBody{Mode: s.Controller.Mode().String()})
}

func (s *server) putMode(w http.ResponseWriter, r *http.Request) {
	var req modeBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if err := s.Controller.SetModeString(req.Mode); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, modeBody{Mode: s.Controller.Mode().String()})
}

type powerBody struct {
	Production   int `json:"production_w"`
	Consumption  int `json:"consumption_w"`
	Availability int `json:"availability_w"`
}

func (s *server) getPower(w http.ResponseWriter, _ *http.Request) {
	if s.Power == nil {
		writeError(w, http.StatusServiceUnavailable, "no power source")
		return
	}
	writeJSON(w, http.StatusOK, powerBody{
		Production:   s.Power.Production(),
		Consumption:  s.Power.Consumption(),
		Availability: s.Power.Availability(),
	})
}
