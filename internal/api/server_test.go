package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/talgya/fieldsim/internal/kernel"
	"github.com/talgya/fieldsim/internal/metrics"
	"github.com/talgya/fieldsim/internal/observer"
	"github.com/talgya/fieldsim/internal/persistence"
	"github.com/talgya/fieldsim/internal/runner"
)

const testKey = "test-admin-key"

type fixture struct {
	srv *Server
	ts  *httptest.Server
	run *runner.Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	e, err := kernel.New(1000, kernel.WithObserver(50))
	if err != nil {
		t.Fatal(err)
	}
	r := runner.New(e)
	r.Pause()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	db, err := persistence.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatal(err)
	}
	s := &Server{
		Runner:   r,
		Guide:    observer.NewGuide(),
		DB:       db,
		Metrics:  metrics.New(),
		AdminKey: testKey,
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-done
		db.Close()
	})
	return &fixture{srv: s, ts: ts, run: r}
}

func (f *fixture) call(t *testing.T, method, path string, body any, auth bool) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+testKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

func (f *fixture) createUnit(t *testing.T, energy float64) kernel.UnitID {
	t.Helper()
	code, body := f.call(t, "POST", "/api/v1/units", map[string]float64{"energy": energy}, true)
	if code != http.StatusCreated {
		t.Fatalf("create unit = %d %s", code, body)
	}
	var resp struct{ ID kernel.UnitID }
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatal(err)
	}
	return resp.ID
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	code, body := f.call(t, "GET", "/api/v1/status", nil, false)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var s struct {
		Units     int  `json:"units"`
		Conserved bool `json:"conserved"`
	}
	if err := json.Unmarshal(body, &s); err != nil {
		t.Fatal(err)
	}
	if s.Units != 1 || !s.Conserved {
		t.Errorf("status = %s", body)
	}
}

func TestMutationsRequireAuth(t *testing.T) {
	f := newFixture(t)
	code, _ := f.call(t, "POST", "/api/v1/units", map[string]float64{"energy": 10}, false)
	if code != http.StatusUnauthorized {
		t.Errorf("unauthenticated POST = %d, want 401", code)
	}
	code, _ = f.call(t, "DELETE", "/api/v1/units/1", nil, false)
	if code != http.StatusUnauthorized {
		t.Errorf("unauthenticated DELETE = %d, want 401", code)
	}

	f.srv.AdminKey = ""
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()
	resp, err := http.Post(ts.URL+"/api/v1/units", "application/json", strings.NewReader(`{"energy":1}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("POST without admin key configured = %d, want 403", resp.StatusCode)
	}
}

func TestUnitLinkLifecycle(t *testing.T) {
	f := newFixture(t)
	a := f.createUnit(t, 100)
	b := f.createUnit(t, 50)

	code, body := f.call(t, "POST", "/api/v1/links",
		map[string]any{"source": a, "target": b, "coupling": 0.5, "decay": 0.2}, true)
	if code != http.StatusCreated {
		t.Fatalf("create link = %d %s", code, body)
	}

	code, body = f.call(t, "GET", "/api/v1/links/L1", nil, false)
	if code != http.StatusOK {
		t.Fatalf("get link = %d", code)
	}
	var l kernel.LinkView
	if err := json.Unmarshal(body, &l); err != nil {
		t.Fatal(err)
	}
	if l.Source != a || l.Target != b || l.Decay != 0.2 {
		t.Errorf("link = %+v", l)
	}

	code, body = f.call(t, "GET", "/api/v1/units/"+a.String()+"/neighbors", nil, false)
	if code != http.StatusOK || !strings.Contains(string(body), `"density": 1`) {
		t.Errorf("neighbors = %d %s", code, body)
	}

	if code, _ = f.call(t, "DELETE", "/api/v1/units/"+b.String(), nil, true); code != http.StatusOK {
		t.Errorf("delete unit = %d", code)
	}
	if code, _ = f.call(t, "GET", "/api/v1/links/1", nil, false); code != http.StatusNotFound {
		t.Errorf("link survived endpoint retirement: %d", code)
	}
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t)
	a := f.createUnit(t, 10)
	small := f.createUnit(t, 5)
	obs, err := runner.Query(context.Background(), f.run, func(e *kernel.Engine) kernel.UnitID {
		return e.ObserverID()
	})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown unit", "GET", "/api/v1/units/99", nil, http.StatusNotFound},
		{"bad id", "GET", "/api/v1/units/abc", nil, http.StatusBadRequest},
		{"over pool", "POST", "/api/v1/units", map[string]float64{"energy": 1e9}, http.StatusConflict},
		{"negative energy", "POST", "/api/v1/units", map[string]float64{"energy": -1}, http.StatusUnprocessableEntity},
		{"self link", "POST", "/api/v1/links", map[string]any{"source": a, "target": a, "coupling": 0.5}, http.StatusUnprocessableEntity},
		{"bad coupling", "POST", "/api/v1/links", map[string]any{"source": a, "target": small, "coupling": 3}, http.StatusUnprocessableEntity},
		{"link observer", "POST", "/api/v1/links", map[string]any{"source": a, "target": obs, "coupling": 0.5}, http.StatusConflict},
		{"branch observer", "POST", "/api/v1/units/" + obs.String() + "/branch", nil, http.StatusConflict},
		{"destroy observer", "DELETE", "/api/v1/units/" + obs.String(), nil, http.StatusConflict},
		{"nudge too much", "POST", "/api/v1/nudge", map[string]any{"target": a, "amount": 500}, http.StatusConflict},
		{"unknown field", "POST", "/api/v1/units", map[string]any{"energy": 1, "mass": 2}, http.StatusBadRequest},
		{"branch too small", "POST", "/api/v1/units/" + small.String() + "/branch", nil, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := f.call(t, tt.method, tt.path, tt.body, true)
			if code != tt.want {
				t.Errorf("%s %s = %d %s, want %d", tt.method, tt.path, code, body, tt.want)
			}
		})
	}
}

func TestNudgeAndObserver(t *testing.T) {
	f := newFixture(t)
	a := f.createUnit(t, 20)

	code, body := f.call(t, "POST", "/api/v1/nudge", map[string]any{"target": a, "amount": 7.5}, true)
	if code != http.StatusOK {
		t.Fatalf("nudge = %d %s", code, body)
	}
	var u kernel.UnitView
	if err := json.Unmarshal(body, &u); err != nil {
		t.Fatal(err)
	}
	if u.Energy != 27.5 {
		t.Errorf("energy after nudge = %v, want 27.5", u.Energy)
	}

	code, body = f.call(t, "GET", "/api/v1/observer", nil, false)
	if code != http.StatusOK {
		t.Fatalf("observer = %d", code)
	}
	var rep struct {
		Snapshot observer.Snapshot `json:"snapshot"`
	}
	if err := json.Unmarshal(body, &rep); err != nil {
		t.Fatal(err)
	}
	if rep.Snapshot.UnitCount != 1 || rep.Snapshot.Budget != 42.5 {
		t.Errorf("snapshot = %+v", rep.Snapshot)
	}
}

func TestSpeed(t *testing.T) {
	f := newFixture(t)
	code, _ := f.call(t, "POST", "/api/v1/speed", map[string]float64{"speed": 4}, true)
	if code != http.StatusOK || f.run.Speed() != 4 {
		t.Errorf("speed POST = %d, runner speed %v", code, f.run.Speed())
	}
	f.run.Pause()
	if code, _ := f.call(t, "POST", "/api/v1/speed", map[string]float64{"speed": -1}, true); code != http.StatusBadRequest {
		t.Errorf("negative speed = %d, want 400", code)
	}
	code, body := f.call(t, "GET", "/api/v1/speed", nil, false)
	if code != http.StatusOK || !strings.Contains(string(body), `"speed": 0`) {
		t.Errorf("speed GET = %d %s", code, body)
	}
}

func TestHistoryAndMetrics(t *testing.T) {
	f := newFixture(t)
	f.createUnit(t, 10)
	err := f.run.Do(context.Background(), func(e *kernel.Engine) error {
		for i := 0; i < 3; i++ {
			rep := e.Step()
			f.srv.Metrics.Observe(rep)
			if err := f.srv.DB.RecordStep(rep); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	code, body := f.call(t, "GET", "/api/v1/history?limit=2", nil, false)
	if code != http.StatusOK {
		t.Fatalf("history = %d", code)
	}
	var rows []persistence.StepRow
	if err := json.Unmarshal(body, &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].Tick != 3 {
		t.Errorf("history rows = %+v", rows)
	}

	code, body = f.call(t, "GET", "/metrics", nil, false)
	if code != http.StatusOK || !strings.Contains(string(body), "fieldsim_tick 3") {
		t.Errorf("metrics = %d, missing fieldsim_tick 3", code)
	}
}
