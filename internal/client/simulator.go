package client

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"oceandepths/internal/protocol"
	"oceandepths/internal/sim/catalogs"
	"oceandepths/internal/sim/economy"
)

// Authority is the server boundary: the only operations that block on
// external I/O. The local tick never waits on any of them.
type Authority interface {
	Bootstrap(ctx context.Context) (protocol.BootstrapResponse, error)
	StartAction(ctx context.Context, req protocol.ActionStartRequest) (protocol.ActionStartResponse, error)
	CompleteAction(ctx context.Context, actionID string) (protocol.ActionCompleteResponse, error)
	CancelAction(ctx context.Context, actionID string) (protocol.ActionCancelResponse, error)
	SyncResources(ctx context.Context, req protocol.ResourceSyncRequest) (protocol.ResourceSyncResponse, error)
}

// Simulator is the optimistic local simulation: it holds a read-write cache
// of the authoritative city and ticks it frequently for smooth display,
// then lets every authoritative response overwrite the cache wholesale.
type Simulator struct {
	auth Authority
	cats *catalogs.Catalogs
	log  *log.Logger

	mu        sync.Mutex
	cityID    string
	grid      [][]protocol.CellState
	resources economy.Vector
	capacity  economy.Vector
	unlocked  []string
	syncCfg   protocol.SyncConfig
	degraded  bool

	timers *TimerSet

	lastTick time.Time
	now      func() time.Time
}

func NewSimulator(auth Authority, cats *catalogs.Catalogs, logger *log.Logger) *Simulator {
	s := &Simulator{
		auth: auth,
		cats: cats,
		log:  logger,
		now:  time.Now,
	}
	s.timers = NewTimerSet()
	return s
}

// SetClock overrides the time source.
func (s *Simulator) SetClock(now func() time.Time) { s.now = now }

// Degraded reports whether the last authoritative call failed. Local
// ticking continues regardless.
func (s *Simulator) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Resources returns the current locally simulated vector.
func (s *Simulator) Resources() economy.Vector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resources.Clone()
}

// CityID returns the bootstrapped city id.
func (s *Simulator) CityID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cityID
}

// Bootstrap fetches the full authoritative snapshot, overwrites the cache
// and reconstructs a completion timer for every pending action. Called at
// startup and on every reconnect; accumulated degraded-mode state is never
// trusted over a fresh fetch.
func (s *Simulator) Bootstrap(ctx context.Context) error {
	resp, err := s.auth.Bootstrap(ctx)
	if err != nil {
		s.setDegraded(true)
		return err
	}

	s.mu.Lock()
	s.cityID = resp.City.CityID
	s.grid = resp.City.Grid
	s.resources = economy.FromInts(resp.City.Resources)
	s.capacity = economy.FromInts(resp.City.Capacity)
	s.unlocked = resp.City.UnlockedTechs
	s.syncCfg = resp.SyncConfig
	s.degraded = false
	s.lastTick = s.now()
	s.mu.Unlock()

	s.timers.CancelAll()
	now := s.now()
	for _, a := range resp.PendingActions {
		s.armCompletion(ctx, a.ActionID, a.EndsAt.Sub(now))
	}
	return nil
}

func tickCadence(cfg protocol.SyncConfig) time.Duration {
	d := time.Duration(cfg.LocalTickMs) * time.Millisecond
	if d <= 0 {
		d = 100 * time.Millisecond
	}
	return d
}

// Run drives the two loops: the fast local tick and the periodic
// authoritative sync. Both are non-blocking with respect to each other.
func (s *Simulator) Run(ctx context.Context) error {
	if err := s.Bootstrap(ctx); err != nil {
		return err
	}

	// The server hands out the local tick cadence at bootstrap.
	tickEvery := tickCadence(s.syncCfg)
	syncEvery := time.Duration(s.syncCfg.ResourceSyncIntervalSeconds) * time.Second
	if syncEvery <= 0 {
		syncEvery = 30 * time.Second
	}

	tick := time.NewTicker(tickEvery)
	defer tick.Stop()
	reconcile := time.NewTicker(syncEvery)
	defer reconcile.Stop()

	for {
		select {
		case <-ctx.Done():
			s.timers.CancelAll()
			return ctx.Err()
		case <-tick.C:
			s.Tick()
		case <-reconcile.C:
			if err := s.SyncOnce(ctx); err != nil {
				s.log.Printf("sync failed (will retry): %v", err)
			}
		}
	}
}

// Tick advances the local simulation by wall-clock elapsed time through the
// same economy engine the authority runs.
func (s *Simulator) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	dt := now.Sub(s.lastTick).Seconds()
	s.lastTick = now
	if dt <= 0 || s.resources == nil {
		return
	}
	rates := economy.ComputeRates(s.cats, s.operationalLocked(), s.resources[economy.Population])
	s.resources = economy.Integrate(s.resources, rates, s.capacity, dt)
}

// SyncOnce reconciles with the authority. The response overwrites local
// state unconditionally; drift is reported by the server, logged here, and
// never alters the overwrite.
func (s *Simulator) SyncOnce(ctx context.Context) error {
	s.mu.Lock()
	cityID := s.cityID
	client := rounded(s.resources)
	s.mu.Unlock()
	if cityID == "" {
		return nil
	}

	resp, err := s.auth.SyncResources(ctx, protocol.ResourceSyncRequest{
		CityID:          cityID,
		ClientResources: client,
	})
	if err != nil {
		s.setDegraded(true)
		return err
	}

	s.mu.Lock()
	s.resources = economy.FromInts(resp.Resources)
	s.capacity = economy.FromInts(resp.Capacity)
	s.degraded = false
	s.lastTick = s.now()
	s.mu.Unlock()

	if resp.DriftDetected {
		s.log.Printf("drift detected: %d resource kinds over tolerance", len(resp.DriftDetails))
	}
	return nil
}

// StartBuild submits a build action. Failures surface to the caller and are
// never silently retried: a blind retry could double-deduct the cost.
func (s *Simulator) StartBuild(ctx context.Context, baseType string, pos protocol.Position) (protocol.ActionStartResponse, error) {
	s.mu.Lock()
	cityID := s.cityID
	s.mu.Unlock()

	resp, err := s.auth.StartAction(ctx, protocol.ActionStartRequest{
		CityID:     cityID,
		ActionType: "build",
		Data:       protocol.ActionPayload{BaseType: baseType, Position: &pos},
	})
	if err != nil {
		return protocol.ActionStartResponse{}, err
	}
	s.applyResources(resp.Resources)
	s.armCompletion(ctx, resp.ActionID, resp.EndsAt.Sub(s.now()))
	return resp, nil
}

// StartResearch submits a research action; same retry policy as StartBuild.
func (s *Simulator) StartResearch(ctx context.Context, techID string) (protocol.ActionStartResponse, error) {
	s.mu.Lock()
	cityID := s.cityID
	s.mu.Unlock()

	resp, err := s.auth.StartAction(ctx, protocol.ActionStartRequest{
		CityID:     cityID,
		ActionType: "research",
		Data:       protocol.ActionPayload{TechID: techID},
	})
	if err != nil {
		return protocol.ActionStartResponse{}, err
	}
	s.applyResources(resp.Resources)
	s.armCompletion(ctx, resp.ActionID, resp.EndsAt.Sub(s.now()))
	return resp, nil
}

// Cancel aborts a pending action and disarms its timer.
func (s *Simulator) Cancel(ctx context.Context, actionID string) error {
	resp, err := s.auth.CancelAction(ctx, actionID)
	if err != nil {
		return err
	}
	s.timers.Cancel(actionID)
	s.applyResources(resp.Resources)
	return nil
}

// armCompletion schedules the completion attempt at the action's deadline,
// or immediately if it has already passed.
func (s *Simulator) armCompletion(ctx context.Context, actionID string, in time.Duration) {
	if in < 0 {
		in = 0
	}
	s.timers.Arm(actionID, in, func() { s.tryComplete(ctx, actionID) })
}

// tryComplete is the timer callback. A still-pending reply re-arms at the
// server's remaining estimate; a transient failure re-arms at the retry
// backoff so the action is never forgotten.
func (s *Simulator) tryComplete(ctx context.Context, actionID string) {
	resp, err := s.auth.CompleteAction(ctx, actionID)
	if err != nil {
		s.setDegraded(true)
		retry := time.Duration(s.retrySeconds()) * time.Second
		s.timers.Arm(actionID, retry, func() { s.tryComplete(ctx, actionID) })
		return
	}
	switch resp.Status {
	case protocol.StatusPending:
		in := time.Duration(resp.RemainingSeconds) * time.Second
		s.timers.Arm(actionID, in, func() { s.tryComplete(ctx, actionID) })
	case protocol.StatusCompleted:
		s.timers.Cancel(actionID)
		// The resolution changed the operational set; re-fetch the
		// authoritative snapshot rather than patching the cache.
		if err := s.Bootstrap(ctx); err != nil {
			s.log.Printf("refresh after completion failed: %v", err)
		}
	default:
		// Failed: the action or its target no longer exists. Drop local
		// tracking; nothing to retry.
		s.timers.Cancel(actionID)
		s.log.Printf("action %s failed: %s", actionID, resp.Error)
	}
}

func (s *Simulator) retrySeconds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncCfg.ActionCompleteRetrySeconds > 0 {
		return s.syncCfg.ActionCompleteRetrySeconds
	}
	return 3
}

func (s *Simulator) setDegraded(v bool) {
	s.mu.Lock()
	s.degraded = v
	s.mu.Unlock()
}

func (s *Simulator) applyResources(res map[string]int) {
	if res == nil {
		return
	}
	s.mu.Lock()
	s.resources = economy.FromInts(res)
	s.mu.Unlock()
}

// operationalLocked walks the cached grid for operational base types. Must
// be called with s.mu held.
func (s *Simulator) operationalLocked() []string {
	var out []string
	for _, row := range s.grid {
		for _, cell := range row {
			if cell.Base != nil && cell.Base.IsOperational {
				out = append(out, cell.Base.Type)
			}
		}
	}
	return out
}

// rounded converts the accumulated floats to the integer granularity the
// sync request carries.
func rounded(v economy.Vector) map[string]int {
	out := make(map[string]int, len(v))
	for _, k := range economy.Kinds {
		out[k] = int(math.Round(v[k]))
	}
	return out
}
