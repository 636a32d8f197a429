package pumps

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/pipump/core/logger"
	"github.com/kilianp07/pipump/core/mode"
	"github.com/kilianp07/pipump/core/power"
	"github.com/kilianp07/pipump/core/pump"
	"github.com/kilianp07/pipump/core/runlog"
	"github.com/kilianp07/pipump/infra/kpi"
)

type idleRunner struct{}

func (idleRunner) Run(ctx context.Context) { <-ctx.Done() }

type fakeStore struct {
	runlog.NopStore
	recs []runlog.Record
	last runlog.Query
	err  error
}

func (s *fakeStore) Query(_ context.Context, q runlog.Query) ([]runlog.Record, error) {
	s.last = q
	return s.recs, s.err
}

type fakeDaily struct {
	days []kpi.Daily
}

func (f fakeDaily) Query(_ context.Context, pump string, _, _ time.Time) ([]kpi.Daily, error) {
	var out []kpi.Daily
	for _, d := range f.days {
		if d.Pump == pump {
			out = append(out, d)
		}
	}
	return out, nil
}

type fixture struct {
	ctrl  *mode.Controller
	main  *pump.Pump
	store *fakeStore
	h     http.Handler
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	main, err := pump.New(pump.Config{Name: "main", Power: 300, DesiredRuntime: 2 * time.Hour})
	require.NoError(t, err)
	ctrl := mode.NewController(idleRunner{}, []*pump.Pump{main}, logger.NopLogger{})
	ctrl.Start(context.Background(), mode.Manual)
	t.Cleanup(ctrl.Stop)

	src := power.NewStatic(5, nil)
	src.RecordProduction(900)
	src.RecordConsumption(350)

	store := &fakeStore{}
	daily := fakeDaily{days: []kpi.Daily{
		{Pump: "main", Day: time.Date(2026, 6, 1, 0, 0, 0, 0, time.Local), RuntimeSeconds: 3600, Runs: 2},
	}}
	h := NewRouter(Deps{
		Pumps:      []*pump.Pump{main},
		Controller: ctrl,
		Power:      src,
		Runs:       store,
		Daily:      daily,
		Token:      token,
		Metrics:    http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "ok") }),
	})
	return &fixture{ctrl: ctrl, main: main, store: store, h: h}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rr := httptest.NewRecorder()
	f.h.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "")
	rr := f.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok","mode":"MANUAL"}`, rr.Body.String())
}

func TestListAndGetPump(t *testing.T) {
	f := newFixture(t, "")
	rr := f.do(http.MethodGet, "/api/pumps", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list []pump.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "main", list[0].Name)
	assert.Equal(t, int64(7200), list[0].DesiredSeconds)

	rr = f.do(http.MethodGet, "/api/pumps/main", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(http.MethodGet, "/api/pumps/nope", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSwitchPump(t *testing.T) {
	f := newFixture(t, "")
	rr := f.do(http.MethodPut, "/api/pumps/main/state", `{"state":"ON"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, f.main.IsRunning())
	var snap pump.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.True(t, snap.Running)

	rr = f.do(http.MethodPut, "/api/pumps/main/state", `{"state":"maybe"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(http.MethodPut, "/api/pumps/main/state", `not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(http.MethodPut, "/api/pumps/ghost/state", `{"state":"ON"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSwitchRejectedOutsideManual(t *testing.T) {
	f := newFixture(t, "")
	f.ctrl.SetMode(mode.Off)
	rr := f.do(http.MethodPut, "/api/pumps/main/state", `{"state":"ON"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.False(t, f.main.IsRunning())
}

func TestMode(t *testing.T) {
	f := newFixture(t, "")
	rr := f.do(http.MethodGet, "/api/mode", "")
	assert.JSONEq(t, `{"mode":"MANUAL"}`, rr.Body.String())

	rr = f.do(http.MethodPut, "/api/mode", `{"mode":"off"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"mode":"OFF"}`, rr.Body.String())
	assert.Equal(t, mode.Off, f.ctrl.Mode())

	rr = f.do(http.MethodPut, "/api/mode", `{"mode":"turbo"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, mode.Off, f.ctrl.Mode())
}

func TestPower(t *testing.T) {
	f := newFixture(t, "")
	rr := f.do(http.MethodGet, "/api/power", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"production_w":900,"consumption_w":350,"availability_w":550}`, rr.Body.String())
}

func TestRuns(t *testing.T) {
	f := newFixture(t, "")
	start := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	f.store.recs = []runlog.Record{{Pump: "main", Start: start, End: start.Add(time.Hour), Duration: 3600}}

	rr := f.do(http.MethodGet, "/api/pumps/main/runs?start=2026-06-01T00:00:00Z&end=2026-06-02T00:00:00Z", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var recs []runlog.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, 3600.0, recs[0].Duration)
	assert.Equal(t, "main", f.store.last.Pump)
	assert.Equal(t, time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC), f.store.last.End)

	rr = f.do(http.MethodGet, "/api/pumps/main/runs?start=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	f.store.recs, f.store.err = nil, errors.New("disk")
	rr = f.do(http.MethodGet, "/api/pumps/main/runs", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	f.store.err = nil
	rr = f.do(http.MethodGet, "/api/pumps/main/runs", "")
	assert.Equal(t, "[]", strings.TrimSpace(rr.Body.String()))
}

func TestRunsCSV(t *testing.T) {
	f := newFixture(t, "")
	start := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	f.store.recs = []runlog.Record{{Pump: "main", Start: start, End: start.Add(time.Hour), Duration: 3600}}
	rr := f.do(http.MethodGet, "/api/pumps/main/runs?format=csv", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/csv", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), "main,2026-06-01T09:00:00Z,2026-06-01T10:00:00Z,3600")
}

func TestDaily(t *testing.T) {
	f := newFixture(t, "")
	rr := f.do(http.MethodGet, "/api/pumps/main/daily", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var days []kpi.Daily
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &days))
	require.Len(t, days, 1)
	assert.Equal(t, 2, days[0].Runs)

	rr = f.do(http.MethodGet, "/api/pumps/main/daily?format=csv", "")
	assert.Contains(t, rr.Body.String(), "main,2026-06-01,3600,2")

	rr = f.do(http.MethodGet, "/api/pumps/main/daily?end=soon", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTokenRequired(t *testing.T) {
	f := newFixture(t, "secret")
	rr := f.do(http.MethodGet, "/api/mode", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/mode", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rr = f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = f.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, "ok", rr.Body.String())
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, "")
	rr := f.do(http.MethodDelete, "/api/mode", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Contains(t, rr.Body.String(), `"error"`)

	rr = f.do(http.MethodPost, "/api/pumps/main", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = f.do(http.MethodPost, "/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = f.do(http.MethodGet, "/api/nothing", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServeShutsDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, "127.0.0.1:0", http.NotFoundHandler()) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return")
	}
}
