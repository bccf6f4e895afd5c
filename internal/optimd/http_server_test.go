package optimd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/adaptive-imaging/optim-core/pkg/config"
)

// fakeInstrument is a stand-in acquisition endpoint scoring each action by
// its first coordinate.
func fakeInstrument(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Parameters []string  `json:"parameters"`
			Action     []float64 `json:"action"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode measure request: %v", err)
		}
		if len(req.Action) != len(req.Parameters) {
			t.Errorf("action len %d != parameters len %d", len(req.Action), len(req.Parameters))
		}
		fmt.Fprintf(w, `{"scores": {"quality": %v}, "elapsed_ms": 5}`, req.Action[0]/100)
	}))
}

func testConfig(t *testing.T, measureURL string) *config.Config {
	t.Helper()
	return &config.Config{
		LogLevel: "info",
		Output:   config.OutputConfig{SavingDir: t.TempDir()},
		Parameters: []config.ParameterConfig{
			{Name: "dwelltime", Unit: "us", Enabled: true, Min: 10, Max: 50, Count: 5},
		},
		Objectives: []config.ObjectiveConfig{
			{Kind: "quality", Enabled: true, NoiseUB: 1, Weight: 1},
		},
		DecisionPolicy: config.PolicyManualWeighted,
		Sampler:        config.SamplerConfig{Seed: 7, PriorVariance: 1},
		Rounds:         config.RoundsConfig{MaxRounds: 3, MeasureTimeoutMs: 5000},
		MeasureURL:     measureURL,
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*httptest.Server, *Runner) {
	t.Helper()
	registry := NewRegistry()
	runner := NewRunner(registry)
	srv := httptest.NewServer(NewHTTPServer(cfg, registry, runner).Handler())
	t.Cleanup(func() {
		runner.Shutdown()
		srv.Close()
	})
	return srv, runner
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	resp, err := http.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeSession(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out struct {
		Session map[string]any `json:"session"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode session response: %v", err)
	}
	return out.Session
}

func TestHealthz(t *testing.T) {
	instrument := fakeInstrument(t)
	defer instrument.Close()
	srv, _ := newTestServer(t, testConfig(t, instrument.URL))

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestSessionLifecycle(t *testing.T) {
	instrument := fakeInstrument(t)
	defer instrument.Close()
	srv, _ := newTestServer(t, testConfig(t, instrument.URL))

	// Create.
	resp := postJSON(t, srv.URL+"/v1/sessions", CreateRequest{Folder: "lifecycle"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	sess := decodeSession(t, resp)
	id, _ := sess["id"].(string)
	if id == "" {
		t.Fatalf("missing session id in %v", sess)
	}
	if sess["state"] != "ready" {
		t.Errorf("state = %v, want ready", sess["state"])
	}

	// Start and wait for the budget to be spent.
	resp = postJSON(t, srv.URL+"/v1/sessions/"+id+"/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	deadline := time.Now().Add(10 * time.Second)
	for {
		getResp, err := http.Get(srv.URL + "/v1/sessions/" + id)
		if err != nil {
			t.Fatalf("GET session: %v", err)
		}
		state := decodeSession(t, getResp)["state"]
		if state == "stopped" {
			break
		}
		if state == "aborted" {
			t.Fatal("session aborted")
		}
		if time.Now().After(deadline) {
			t.Fatalf("session did not stop, state = %v", state)
		}
		time.Sleep(20 * time.Millisecond)
	}

	// History carries every completed round.
	histResp, err := http.Get(srv.URL + "/v1/sessions/" + id + "/history")
	if err != nil {
		t.Fatalf("GET history: %v", err)
	}
	defer histResp.Body.Close()
	var hist struct {
		SessionID string           `json:"session_id"`
		Rounds    []map[string]any `json:"rounds"`
	}
	if err := json.NewDecoder(histResp.Body).Decode(&hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if hist.SessionID != "lifecycle" {
		t.Errorf("session_id = %s, want lifecycle", hist.SessionID)
	}
	if len(hist.Rounds) != 3 {
		t.Fatalf("rounds = %d, want 3", len(hist.Rounds))
	}
	for i, rd := range hist.Rounds {
		if int(rd["round"].(float64)) != i+1 {
			t.Errorf("rounds[%d] number = %v, want %d", i, rd["round"], i+1)
		}
	}
}

func TestListSessions(t *testing.T) {
	instrument := fakeInstrument(t)
	defer instrument.Close()
	srv, _ := newTestServer(t, testConfig(t, instrument.URL))

	for i := 0; i < 2; i++ {
		resp := postJSON(t, srv.URL+"/v1/sessions", CreateRequest{Folder: fmt.Sprintf("s%d", i)})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("create status = %d", resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp, err := http.Get(srv.URL + "/v1/sessions")
	if err != nil {
		t.Fatalf("GET sessions: %v", err)
	}
	defer resp.Body.Close()
	var out struct {
		Sessions []map[string]any `json:"sessions"`
		Count    int              `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if out.Count != 2 || len(out.Sessions) != 2 {
		t.Errorf("count = %d, sessions = %d, want 2", out.Count, len(out.Sessions))
	}
}

func TestCreateSessionBadConfigRejected(t *testing.T) {
	instrument := fakeInstrument(t)
	defer instrument.Close()
	cfg := testConfig(t, instrument.URL)
	cfg.Parameters[0].Max = cfg.Parameters[0].Min
	srv, _ := newTestServer(t, cfg)

	resp := postJSON(t, srv.URL+"/v1/sessions", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	instrument := fakeInstrument(t)
	defer instrument.Close()
	srv, _ := newTestServer(t, testConfig(t, instrument.URL))

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/v1/sessions/nope"},
		{http.MethodGet, "/v1/sessions/nope/history"},
		{http.MethodPost, "/v1/sessions/nope/start"},
		{http.MethodPost, "/v1/sessions/nope/stop"},
	} {
		req, err := http.NewRequest(tc.method, srv.URL+tc.path, nil)
		if err != nil {
			t.Fatalf("build request: %v", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", tc.method, tc.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s %s status = %d, want 404", tc.method, tc.path, resp.StatusCode)
		}
	}
}

func TestShutdownLetsInFlightRoundFinish(t *testing.T) {
	started := make(chan struct{}, 1)
	instrument := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case started <- struct{}{}:
		default:
		}
		time.Sleep(150 * time.Millisecond)
		fmt.Fprint(w, `{"scores": {"quality": 0.5}, "elapsed_ms": 150}`)
	}))
	defer instrument.Close()

	cfg := testConfig(t, instrument.URL)
	cfg.Rounds.MaxRounds = 100
	srv, runner := newTestServer(t, cfg)

	resp := postJSON(t, srv.URL+"/v1/sessions", CreateRequest{Folder: "graceful"})
	id := decodeSession(t, resp)["id"].(string)
	resp = postJSON(t, srv.URL+"/v1/sessions/"+id+"/start", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d, want 200", resp.StatusCode)
	}

	// Shut down while a measurement is in flight; the round must complete
	// and the session end Stopped, not Aborted.
	<-started
	runner.Shutdown()

	getResp, err := http.Get(srv.URL + "/v1/sessions/" + id)
	if err != nil {
		t.Fatalf("GET session: %v", err)
	}
	sess := decodeSession(t, getResp)
	if sess["state"] != "stopped" {
		t.Errorf("state = %v, want stopped", sess["state"])
	}
	if msg, ok := sess["error"]; ok {
		t.Errorf("session carries error %v, want none", msg)
	}
	if rounds := int(sess["round"].(float64)); rounds < 1 {
		t.Errorf("round = %d, want at least the in-flight round", rounds)
	}
}

func TestDoubleStartConflicts(t *testing.T) {
	// A slow instrument keeps the first loop in flight.
	instrument := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		fmt.Fprint(w, `{"scores": {"quality": 0.5}, "elapsed_ms": 100}`)
	}))
	defer instrument.Close()

	cfg := testConfig(t, instrument.URL)
	cfg.Rounds.MaxRounds = 50
	srv, runner := newTestServer(t, cfg)

	resp := postJSON(t, srv.URL+"/v1/sessions", CreateRequest{Folder: "busy"})
	id := decodeSession(t, resp)["id"].(string)

	resp = postJSON(t, srv.URL+"/v1/sessions/"+id+"/start", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first start status = %d, want 200", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/v1/sessions/"+id+"/start", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/v1/sessions/"+id+"/stop", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("stop status = %d, want 200", resp.StatusCode)
	}
	runner.Shutdown()
}
