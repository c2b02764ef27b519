package city

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"oceandepths/internal/persistence/store"
	"oceandepths/internal/protocol"
	"oceandepths/internal/sim/economy"
	"oceandepths/internal/sim/tuning"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []protocol.PushMsg
}

func (r *recordingNotifier) Push(cityID string, msg protocol.PushMsg) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *recordingNotifier) byType(msgType string) []protocol.PushMsg {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.PushMsg
	for _, m := range r.msgs {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func newTestManager(t *testing.T) (*Manager, *store.SQLite, *fakeClock) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "cities.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	clock := &fakeClock{now: t0}
	m := NewManager(loadTestCatalogs(t), tuning.Defaults(), st)
	m.SetClock(clock.Now)
	return m, st, clock
}

func buildReq(cityID, baseType string, x, y int) protocol.ActionStartRequest {
	return protocol.ActionStartRequest{
		CityID:     cityID,
		ActionType: "build",
		Data: protocol.ActionPayload{
			BaseType: baseType,
			Position: &protocol.Position{X: x, Y: y},
		},
	}
}

func TestBootstrapCreatesThenReuses(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.Bootstrap(ctx, "player_1", "Atlantis")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if first.City.CityID == "" || first.City.PlayerID != "player_1" {
		t.Fatalf("city: %+v", first.City)
	}
	if first.SyncConfig.ResourceSyncIntervalSeconds != 30 || first.SyncConfig.LocalTickMs != 100 {
		t.Fatalf("sync config: %+v", first.SyncConfig)
	}
	if first.City.Resources[economy.Population] != 10 {
		t.Fatalf("starting population: %v", first.City.Resources)
	}

	second, err := m.Bootstrap(ctx, "player_1", "ignored")
	if err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	if second.City.CityID != first.City.CityID {
		t.Fatal("bootstrap should reuse the player's existing city")
	}

	other, err := m.Bootstrap(ctx, "player_2", "Pacifica")
	if err != nil {
		t.Fatalf("other bootstrap: %v", err)
	}
	if other.City.CityID == first.City.CityID {
		t.Fatal("players must get distinct cities")
	}
}

func TestStartCompleteRoundTrip(t *testing.T) {
	m, _, clock := newTestManager(t)
	notes := &recordingNotifier{}
	m.SetNotifier(notes)
	ctx := context.Background()

	boot, err := m.Bootstrap(ctx, "player_1", "Atlantis")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	cityID := boot.City.CityID

	started, err := m.StartAction(ctx, "player_1", buildReq(cityID, "residential", 4, 0))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Resources[economy.Minerals] != 0 {
		t.Fatalf("deduct not reflected: %v", started.Resources)
	}

	// Early completion reports pending.
	early, err := m.CompleteAction(ctx, "player_1", started.ActionID)
	if err != nil {
		t.Fatalf("early complete: %v", err)
	}
	if early.Status != protocol.StatusPending || early.RemainingSeconds < 1 {
		t.Fatalf("early: %+v", early)
	}

	clock.Advance(time.Duration(started.DurationSeconds) * time.Second)
	done, err := m.CompleteAction(ctx, "player_1", started.ActionID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != protocol.StatusCompleted {
		t.Fatalf("complete: %+v", done)
	}

	// The duplicate answer is stable and pushes no second notification.
	dup, err := m.CompleteAction(ctx, "player_1", started.ActionID)
	if err != nil {
		t.Fatalf("dup complete: %v", err)
	}
	if dup.Status != protocol.StatusCompleted {
		t.Fatalf("dup: %+v", dup)
	}
	if got := notes.byType(protocol.TypeBaseBuilt); len(got) != 1 {
		t.Fatalf("base_built pushes: %d", len(got))
	}

	pending, err := m.PendingActions(ctx, "player_1", cityID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending.Actions) != 0 {
		t.Fatalf("pending after completion: %+v", pending.Actions)
	}
}

func TestCompleteSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "cities.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	clock := &fakeClock{now: t0}
	cats := loadTestCatalogs(t)

	m := NewManager(cats, tuning.Defaults(), st)
	m.SetClock(clock.Now)
	ctx := context.Background()

	boot, err := m.Bootstrap(ctx, "player_1", "Atlantis")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	started, err := m.StartAction(ctx, "player_1", buildReq(boot.City.CityID, "residential", 4, 0))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	st.Close()

	// Fresh manager over the same database: the action index and the
	// pending action must have survived.
	st2, err := store.Open(filepath.Join(dir, "cities.db"))
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	t.Cleanup(func() { st2.Close() })
	clock.Advance(time.Duration(started.DurationSeconds) * time.Second)

	m2 := NewManager(cats, tuning.Defaults(), st2)
	m2.SetClock(clock.Now)
	done, err := m2.CompleteAction(ctx, "player_1", started.ActionID)
	if err != nil {
		t.Fatalf("complete after restart: %v", err)
	}
	if done.Status != protocol.StatusCompleted {
		t.Fatalf("complete after restart: %+v", done)
	}
}

func TestBootstrapResolvesOverdueActions(t *testing.T) {
	m, st, clock := newTestManager(t)
	notes := &recordingNotifier{}
	m.SetNotifier(notes)
	ctx := context.Background()

	boot, err := m.Bootstrap(ctx, "player_1", "Atlantis")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	started, err := m.StartAction(ctx, "player_1", buildReq(boot.City.CityID, "residential", 4, 0))
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Simulate the player closing the game past the deadline.
	clock.Advance(time.Duration(started.DurationSeconds)*time.Second + time.Hour)
	after, err := m.Bootstrap(ctx, "player_1", "")
	if err != nil {
		t.Fatalf("rebootstrap: %v", err)
	}
	if len(after.PendingActions) != 0 {
		t.Fatalf("overdue action still pending: %+v", after.PendingActions)
	}
	var found bool
	for _, row := range after.City.Grid {
		for _, cell := range row {
			if cell.Base != nil && cell.Base.Type == "residential" {
				found = cell.Base.IsOperational
			}
		}
	}
	if !found {
		t.Fatal("overdue build should be operational after bootstrap")
	}

	// The sweep goes through the same bookkeeping as a client-driven
	// completion: index transition and push.
	if got := notes.byType(protocol.TypeBaseBuilt); len(got) != 1 || got[0].ActionID != started.ActionID {
		t.Fatalf("base_built pushes after bootstrap sweep: %+v", got)
	}
	rows, err := st.ActionsForCity(ctx, boot.City.CityID)
	if err != nil {
		t.Fatalf("actions for city: %v", err)
	}
	var status string
	for _, r := range rows {
		if r.ActionID == started.ActionID {
			status = r.Status
		}
	}
	if status != "resolved" {
		t.Fatalf("index row after bootstrap sweep: %q", status)
	}
}

func TestPermissionChecks(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	boot, err := m.Bootstrap(ctx, "player_1", "Atlantis")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	started, err := m.StartAction(ctx, "player_1", buildReq(boot.City.CityID, "residential", 4, 0))
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := m.StartAction(ctx, "intruder", buildReq(boot.City.CityID, "residential", 6, 0)); protocol.CodeOf(err) != protocol.ErrNoPermission {
		t.Fatalf("foreign start: %v", err)
	}
	if _, err := m.CompleteAction(ctx, "intruder", started.ActionID); protocol.CodeOf(err) != protocol.ErrNoPermission {
		t.Fatalf("foreign complete: %v", err)
	}
	if _, err := m.CancelAction(ctx, "intruder", started.ActionID); protocol.CodeOf(err) != protocol.ErrNoPermission {
		t.Fatalf("foreign cancel: %v", err)
	}
	if _, err := m.SyncResources(ctx, "intruder", protocol.ResourceSyncRequest{CityID: boot.City.CityID}); protocol.CodeOf(err) != protocol.ErrNoPermission {
		t.Fatalf("foreign sync: %v", err)
	}
}

func TestStartActionValidation(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	boot, err := m.Bootstrap(ctx, "player_1", "Atlantis")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	cityID := boot.City.CityID

	cases := []protocol.ActionStartRequest{
		{CityID: cityID, ActionType: "teleport"},
		{CityID: cityID, ActionType: "build", Data: protocol.ActionPayload{BaseType: "residential"}},
		{CityID: cityID, ActionType: "research"},
	}
	for i, req := range cases {
		if _, err := m.StartAction(ctx, "player_1", req); protocol.CodeOf(err) != protocol.ErrBadRequest {
			t.Errorf("case %d: got %v, want E_BAD_REQUEST", i, err)
		}
	}

	if _, err := m.StartAction(ctx, "player_1", buildReq("no_such_city", "residential", 4, 0)); protocol.CodeOf(err) != protocol.ErrNotFound {
		t.Fatalf("unknown city: %v", err)
	}
}

func TestCompleteUnknownActionID(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	resp, err := m.CompleteAction(ctx, "player_1", "ghost")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Status != protocol.StatusFailed || resp.Code != protocol.ErrNotFound {
		t.Fatalf("unknown action: %+v", resp)
	}
	if _, err := m.CancelAction(ctx, "player_1", "ghost"); protocol.CodeOf(err) != protocol.ErrNotFound {
		t.Fatalf("cancel unknown: %v", err)
	}
}

func TestSyncResourcesPushesTick(t *testing.T) {
	m, _, clock := newTestManager(t)
	notes := &recordingNotifier{}
	m.SetNotifier(notes)
	ctx := context.Background()

	boot, err := m.Bootstrap(ctx, "player_1", "Atlantis")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	clock.Advance(30 * time.Second)

	resp, err := m.SyncResources(ctx, "player_1", protocol.ResourceSyncRequest{
		CityID:          boot.City.CityID,
		ClientResources: boot.City.Resources,
	})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if resp.LastSyncedAt.IsZero() {
		t.Fatalf("sync response: %+v", resp)
	}
	ticks := notes.byType(protocol.TypeResourceTick)
	if len(ticks) != 1 || ticks[0].Resources == nil {
		t.Fatalf("resource_tick pushes: %+v", ticks)
	}
}

// flakyIndexStore injects failures into the action index only; city blobs
// keep persisting normally.
type flakyIndexStore struct {
	Store
	failIndex bool
}

func (f *flakyIndexStore) IndexAction(ctx context.Context, actionID, cityID, status string) error {
	if f.failIndex {
		return errors.New("index write refused")
	}
	return f.Store.IndexAction(ctx, actionID, cityID, status)
}

func TestStartSurvivesIndexWriteFailure(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "cities.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	flaky := &flakyIndexStore{Store: st}
	clock := &fakeClock{now: t0}

	m := NewManager(loadTestCatalogs(t), tuning.Defaults(), flaky)
	m.SetClock(clock.Now)
	ctx := context.Background()

	boot, err := m.Bootstrap(ctx, "player_1", "Atlantis")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	// The action started and the cost is gone; the caller must see success,
	// not an error inviting a retry and a second deduction.
	flaky.failIndex = true
	started, err := m.StartAction(ctx, "player_1", buildReq(boot.City.CityID, "residential", 4, 0))
	if err != nil {
		t.Fatalf("start with failing index: %v", err)
	}
	if started.Resources[economy.Minerals] != 0 {
		t.Fatalf("deduct: %v", started.Resources)
	}

	// Without its index row the action cannot be addressed directly yet.
	resp, err := m.CompleteAction(ctx, "player_1", started.ActionID)
	if err != nil || resp.Code != protocol.ErrNotFound {
		t.Fatalf("unindexed complete: %+v err=%v", resp, err)
	}

	// The next bootstrap sweep resolves it from the city blob.
	flaky.failIndex = false
	clock.Advance(time.Duration(started.DurationSeconds)*time.Second + time.Minute)
	after, err := m.Bootstrap(ctx, "player_1", "")
	if err != nil {
		t.Fatalf("rebootstrap: %v", err)
	}
	if len(after.PendingActions) != 0 {
		t.Fatalf("pending after sweep: %+v", after.PendingActions)
	}
	built := 0
	for _, row := range after.City.Grid {
		for _, cell := range row {
			if cell.Base != nil && cell.Base.Type == "residential" && cell.Base.IsOperational {
				built++
			}
		}
	}
	if built != 1 {
		t.Fatalf("residential bases after sweep: %d", built)
	}
}

func TestConcurrentDuplicateCompletes(t *testing.T) {
	m, _, clock := newTestManager(t)
	notes := &recordingNotifier{}
	m.SetNotifier(notes)
	ctx := context.Background()

	boot, err := m.Bootstrap(ctx, "player_1", "Atlantis")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	started, err := m.StartAction(ctx, "player_1", buildReq(boot.City.CityID, "residential", 4, 0))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	clock.Advance(time.Duration(started.DurationSeconds) * time.Second)

	const callers = 16
	responses := make([]protocol.ActionCompleteResponse, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			responses[i], errs[i] = m.CompleteAction(ctx, "player_1", started.ActionID)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if responses[i].Status != protocol.StatusCompleted {
			t.Fatalf("caller %d: %+v", i, responses[i])
		}
		if responses[i].CompletedAt == nil || !responses[i].CompletedAt.Equal(*responses[0].CompletedAt) {
			t.Fatalf("caller %d CompletedAt diverged: %+v", i, responses[i])
		}
	}
	if got := notes.byType(protocol.TypeBaseBuilt); len(got) != 1 {
		t.Fatalf("base_built pushes under concurrent completion: %d", len(got))
	}
}

func TestConcurrentBootstrapsCreateOneCity(t *testing.T) {
	m, st, _ := newTestManager(t)
	ctx := context.Background()

	const callers = 8
	ids := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := m.Bootstrap(ctx, "player_new", "Atlantis")
			ids[i], errs[i] = resp.City.CityID, err
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("caller %d got city %s, caller 0 got %s", i, ids[i], ids[0])
		}
	}
	cities, err := st.ListCities(ctx)
	if err != nil {
		t.Fatalf("list cities: %v", err)
	}
	if len(cities) != 1 {
		t.Fatalf("cities created: %d", len(cities))
	}
}
