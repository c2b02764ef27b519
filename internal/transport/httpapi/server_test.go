package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"oceandepths/internal/persistence/store"
	"oceandepths/internal/protocol"
	"oceandepths/internal/sim/catalogs"
	"oceandepths/internal/sim/city"
	"oceandepths/internal/sim/tuning"
)

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("could not locate go.mod from %s", dir)
		}
		dir = parent
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cats, err := catalogs.Load(filepath.Join(findRepoRoot(t), "configs"))
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	st, err := store.Open(filepath.Join(t.TempDir(), "cities.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	mgr := city.NewManager(cats, tuning.Defaults(), st)
	mux := http.NewServeMux()
	NewServer(mgr, log.New(io.Discard, "", 0)).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path, player string, body, out any) int {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, srv.URL+path, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("X-Player-ID", player)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func get(t *testing.T, srv *httptest.Server, path, player string, out any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("X-Player-ID", player)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestBootstrapAndBuildFlow(t *testing.T) {
	srv := newTestServer(t)

	var boot protocol.BootstrapResponse
	if code := post(t, srv, "/v1/bootstrap", "p1", protocol.BootstrapRequest{PlayerID: "p1"}, &boot); code != http.StatusOK {
		t.Fatalf("bootstrap status: %d", code)
	}
	if boot.City.CityID == "" {
		t.Fatalf("bootstrap: %+v", boot)
	}

	var started protocol.ActionStartResponse
	code := post(t, srv, "/v1/actions/start", "p1", protocol.ActionStartRequest{
		CityID:     boot.City.CityID,
		ActionType: "build",
		Data:       protocol.ActionPayload{BaseType: "residential", Position: &protocol.Position{X: 4, Y: 0}},
	}, &started)
	if code != http.StatusOK || started.ActionID == "" {
		t.Fatalf("start: code=%d resp=%+v", code, started)
	}

	var pending protocol.PendingActionsResponse
	if code := get(t, srv, "/v1/actions/pending/"+boot.City.CityID, "p1", &pending); code != http.StatusOK {
		t.Fatalf("pending status: %d", code)
	}
	if len(pending.Actions) != 1 || pending.Actions[0].ActionID != started.ActionID {
		t.Fatalf("pending: %+v", pending.Actions)
	}

	// Not due yet.
	var complete protocol.ActionCompleteResponse
	if code := post(t, srv, "/v1/actions/complete", "p1", protocol.ActionCompleteRequest{ActionID: started.ActionID}, &complete); code != http.StatusOK {
		t.Fatalf("complete status: %d", code)
	}
	if complete.Status != protocol.StatusPending {
		t.Fatalf("complete: %+v", complete)
	}

	var cancelled protocol.ActionCancelResponse
	if code := post(t, srv, "/v1/actions/cancel/"+started.ActionID, "p1", nil, &cancelled); code != http.StatusOK {
		t.Fatalf("cancel status: %d", code)
	}
	if cancelled.Status != protocol.StatusCancelled {
		t.Fatalf("cancel: %+v", cancelled)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	srv := newTestServer(t)

	var boot protocol.BootstrapResponse
	post(t, srv, "/v1/bootstrap", "p1", protocol.BootstrapRequest{PlayerID: "p1"}, &boot)

	var e protocol.ErrorResponse

	// Unknown city -> 404.
	if code := post(t, srv, "/v1/resources/sync", "p1", protocol.ResourceSyncRequest{CityID: "ghost"}, &e); code != http.StatusNotFound {
		t.Fatalf("unknown city: %d", code)
	}
	if e.Code != protocol.ErrNotFound {
		t.Fatalf("unknown city code: %+v", e)
	}

	// Foreign city -> 403.
	if code := post(t, srv, "/v1/resources/sync", "p2", protocol.ResourceSyncRequest{CityID: boot.City.CityID}, &e); code != http.StatusForbidden {
		t.Fatalf("foreign city: %d", code)
	}
	if e.Code != protocol.ErrNoPermission {
		t.Fatalf("foreign city code: %+v", e)
	}

	// Validation failure -> 400 with the simulation's code.
	if code := post(t, srv, "/v1/actions/start", "p1", protocol.ActionStartRequest{
		CityID:     boot.City.CityID,
		ActionType: "build",
		Data:       protocol.ActionPayload{BaseType: "residential", Position: &protocol.Position{X: 0, Y: 9}},
	}, &e); code != http.StatusBadRequest {
		t.Fatalf("locked cell: %d", code)
	}
	if e.Code != protocol.ErrCellLocked {
		t.Fatalf("locked cell code: %+v", e)
	}

	// Demolishing the command ship -> 409.
	if code := post(t, srv, "/v1/actions/demolish", "p1", protocol.DemolishRequest{
		CityID:   boot.City.CityID,
		Position: protocol.Position{X: 5, Y: 0},
	}, &e); code != http.StatusConflict {
		t.Fatalf("demolish hub: %d", code)
	}
	if e.Code != protocol.ErrInvalidState {
		t.Fatalf("demolish hub code: %+v", e)
	}

	// Wrong method -> 405.
	if code := get(t, srv, "/v1/bootstrap", "p1", nil); code != http.StatusMethodNotAllowed {
		t.Fatalf("method: %d", code)
	}
}

func TestResourcesEndpoint(t *testing.T) {
	srv := newTestServer(t)

	var boot protocol.BootstrapResponse
	post(t, srv, "/v1/bootstrap", "p1", protocol.BootstrapRequest{PlayerID: "p1"}, &boot)

	var res protocol.ResourcesResponse
	if code := get(t, srv, "/v1/resources/"+boot.City.CityID, "p1", &res); code != http.StatusOK {
		t.Fatalf("resources status: %d", code)
	}
	if res.Resources["population"] != 10 || res.Rates.Net == nil {
		t.Fatalf("resources: %+v", res)
	}
}
