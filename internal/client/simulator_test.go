package client

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"oceandepths/internal/protocol"
	"oceandepths/internal/sim/catalogs"
	"oceandepths/internal/sim/city"
	"oceandepths/internal/sim/economy"
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

func loadTestCatalogs(t *testing.T) *catalogs.Catalogs {
	t.Helper()
	c, err := catalogs.Load(filepath.Join(findRepoRoot(t), "configs"))
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	return c
}

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeAuthority serves canned responses and records calls.
type fakeAuthority struct {
	mu        sync.Mutex
	bootstrap protocol.BootstrapResponse
	syncResp  protocol.ResourceSyncResponse
	failSync  error
	syncCalls int
	lastSync  protocol.ResourceSyncRequest
}

func (f *fakeAuthority) Bootstrap(ctx context.Context) (protocol.BootstrapResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bootstrap, nil
}

func (f *fakeAuthority) StartAction(ctx context.Context, req protocol.ActionStartRequest) (protocol.ActionStartResponse, error) {
	return protocol.ActionStartResponse{}, errors.New("not implemented")
}

func (f *fakeAuthority) CompleteAction(ctx context.Context, actionID string) (protocol.ActionCompleteResponse, error) {
	return protocol.ActionCompleteResponse{Status: protocol.StatusPending, ActionID: actionID, RemainingSeconds: 60}, nil
}

func (f *fakeAuthority) CancelAction(ctx context.Context, actionID string) (protocol.ActionCancelResponse, error) {
	return protocol.ActionCancelResponse{Status: protocol.StatusCancelled, ActionID: actionID}, nil
}

func (f *fakeAuthority) SyncResources(ctx context.Context, req protocol.ResourceSyncRequest) (protocol.ResourceSyncResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncCalls++
	f.lastSync = req
	if f.failSync != nil {
		return protocol.ResourceSyncResponse{}, f.failSync
	}
	return f.syncResp, nil
}

func newFakeAuthority(t *testing.T) *fakeAuthority {
	t.Helper()
	c := city.New("city_1", "player_1", "Test Colony", "hub_1", loadTestCatalogs(t), tuning.Defaults(), testStart)
	return &fakeAuthority{
		bootstrap: protocol.BootstrapResponse{
			City:       c.Snapshot(),
			SyncConfig: protocol.SyncConfig{ResourceSyncIntervalSeconds: 30, ErrorToleranceSeconds: 5, ActionCompleteRetrySeconds: 3, LocalTickMs: 100},
		},
	}
}

func newTestSimulator(t *testing.T, auth Authority) (*Simulator, *time.Time) {
	t.Helper()
	now := testStart
	s := NewSimulator(auth, loadTestCatalogs(t), log.New(os.Stderr, "[client] ", 0))
	s.SetClock(func() time.Time { return now })
	if err := s.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return s, &now
}

func TestTickCadenceFollowsServerConfig(t *testing.T) {
	if got := tickCadence(protocol.SyncConfig{LocalTickMs: 250}); got != 250*time.Millisecond {
		t.Fatalf("cadence: %v", got)
	}
	// Old servers that do not serve the knob fall back to the default.
	if got := tickCadence(protocol.SyncConfig{}); got != 100*time.Millisecond {
		t.Fatalf("fallback cadence: %v", got)
	}
}

func TestLocalTickMatchesAuthoritativeRates(t *testing.T) {
	auth := newFakeAuthority(t)
	s, now := newTestSimulator(t, auth)

	if s.CityID() != "city_1" {
		t.Fatalf("city id: %s", s.CityID())
	}
	start := s.Resources()

	// Advance 10 seconds in one tick and compare to a direct integration
	// with the same engine over the bootstrapped operational set.
	*now = now.Add(10 * time.Second)
	s.Tick()

	cats := loadTestCatalogs(t)
	rates := economy.ComputeRates(cats, []string{catalogs.CommandBase}, start[economy.Population])
	want := economy.Integrate(start, rates, economy.FromInts(auth.bootstrap.City.Capacity), 10)

	got := s.Resources()
	for _, k := range economy.Kinds {
		if got[k] != want[k] {
			t.Fatalf("resources[%s]: got %v, want %v", k, got[k], want[k])
		}
	}
}

func TestTickIsIncremental(t *testing.T) {
	auth := newFakeAuthority(t)
	s, now := newTestSimulator(t, auth)

	// Ten 1s ticks and one 10s tick diverge only by float ordering; with
	// these rates they match exactly on whole-second boundaries.
	stepped, nowB := newTestSimulator(t, auth)
	for i := 0; i < 10; i++ {
		*nowB = nowB.Add(time.Second)
		stepped.Tick()
	}
	*now = now.Add(10 * time.Second)
	s.Tick()

	a, b := s.Resources(), stepped.Resources()
	for _, k := range economy.Kinds {
		if diff := a[k] - b[k]; diff > 1e-6 || diff < -1e-6 {
			t.Fatalf("tick granularity changed %s: %v vs %v", k, a[k], b[k])
		}
	}
}

func TestSyncOverwritesLocalState(t *testing.T) {
	auth := newFakeAuthority(t)
	auth.syncResp = protocol.ResourceSyncResponse{
		Resources: map[string]int{"population": 10, "food": 77, "oxygen": 100, "water": 100, "energy": 50, "minerals": 50, "tech_points": 0},
		Capacity:  auth.bootstrap.City.Capacity,
	}
	s, now := newTestSimulator(t, auth)

	// Accumulate local drift, then reconcile.
	*now = now.Add(25 * time.Second)
	s.Tick()
	if err := s.SyncOnce(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	got := s.Resources()
	if got[economy.Food] != 77 {
		t.Fatalf("server food value must win: %v", got[economy.Food])
	}
	auth.mu.Lock()
	sent := auth.lastSync
	auth.mu.Unlock()
	if sent.CityID != "city_1" || sent.ClientResources == nil {
		t.Fatalf("sync request: %+v", sent)
	}
}

func TestSyncFailureMarksDegraded(t *testing.T) {
	auth := newFakeAuthority(t)
	auth.failSync = errors.New("network down")
	s, _ := newTestSimulator(t, auth)

	if err := s.SyncOnce(context.Background()); err == nil {
		t.Fatal("expected sync error")
	}
	if !s.Degraded() {
		t.Fatal("failed sync should mark the client degraded")
	}

	// Recovery clears the flag.
	auth.mu.Lock()
	auth.failSync = nil
	auth.syncResp = protocol.ResourceSyncResponse{
		Resources: auth.bootstrap.City.Resources,
		Capacity:  auth.bootstrap.City.Capacity,
	}
	auth.mu.Unlock()
	if err := s.SyncOnce(context.Background()); err != nil {
		t.Fatalf("recovered sync: %v", err)
	}
	if s.Degraded() {
		t.Fatal("successful sync should clear degraded")
	}
}

func TestBootstrapArmsPendingTimers(t *testing.T) {
	auth := newFakeAuthority(t)
	auth.bootstrap.PendingActions = []protocol.PendingAction{
		{ActionID: "a1", ActionType: "build", StartedAt: testStart, EndsAt: testStart.Add(time.Hour)},
		{ActionID: "a2", ActionType: "research", StartedAt: testStart, EndsAt: testStart.Add(2 * time.Hour)},
	}
	s, _ := newTestSimulator(t, auth)

	if s.timers.Len() != 2 {
		t.Fatalf("armed timers: %d", s.timers.Len())
	}

	// A fresh bootstrap replaces the whole timer set.
	auth.mu.Lock()
	auth.bootstrap.PendingActions = nil
	auth.mu.Unlock()
	if err := s.Bootstrap(context.Background()); err != nil {
		t.Fatalf("rebootstrap: %v", err)
	}
	if s.timers.Len() != 0 {
		t.Fatalf("stale timers survived rebootstrap: %d", s.timers.Len())
	}
}

func TestCancelDisarmsTimer(t *testing.T) {
	auth := newFakeAuthority(t)
	auth.bootstrap.PendingActions = []protocol.PendingAction{
		{ActionID: "a1", ActionType: "build", StartedAt: testStart, EndsAt: testStart.Add(time.Hour)},
	}
	s, _ := newTestSimulator(t, auth)

	if err := s.Cancel(context.Background(), "a1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if s.timers.Len() != 0 {
		t.Fatalf("timer survived cancel: %d", s.timers.Len())
	}
}
