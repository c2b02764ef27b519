package city

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"oceandepths/internal/protocol"
	"oceandepths/internal/sim/actions"
	"oceandepths/internal/sim/catalogs"
	"oceandepths/internal/sim/grid"
	"oceandepths/internal/sim/tuning"
)

// Store is the opaque durable dependency. The manager provides the atomic
// per-city read-modify-write on top of it via per-city locks.
type Store interface {
	LoadCity(ctx context.Context, cityID string) ([]byte, bool, error)
	FindCityByPlayer(ctx context.Context, playerID string) (cityID string, blob []byte, ok bool, err error)
	SaveCity(ctx context.Context, cityID, playerID, name string, blob []byte) error
	IndexAction(ctx context.Context, actionID, cityID, status string) error
	CityForAction(ctx context.Context, actionID string) (cityID string, ok bool, err error)
}

// Notifier pushes best-effort freshness hints. Implementations must never
// block the simulation; dropped messages are acceptable.
type Notifier interface {
	Push(cityID string, msg protocol.PushMsg)
}

// AuditSink records action lifecycle and drift reports.
type AuditSink interface {
	WriteAction(ActionAuditEntry) error
	WriteDrift(DriftAuditEntry) error
}

type ActionAuditEntry struct {
	At       time.Time `json:"at"`
	CityID   string    `json:"city_id"`
	ActionID string    `json:"action_id"`
	Kind     string    `json:"kind"`
	Event    string    `json:"event"` // start | complete | cancel
	Code     string    `json:"code,omitempty"`
}

type DriftAuditEntry struct {
	At      time.Time                       `json:"at"`
	CityID  string                          `json:"city_id"`
	Details map[string]protocol.DriftDetail `json:"details"`
}

// Manager owns every loaded city. Cross-city state is never shared; within
// one city, every operation runs under that city's lock, which is what makes
// Complete's check-and-set safe under concurrent duplicate calls.
type Manager struct {
	cats  *catalogs.Catalogs
	tune  tuning.Tuning
	store Store

	notifier Notifier    // optional
	audit    AuditSink   // optional
	logger   *log.Logger // optional

	mu     sync.Mutex
	cities map[string]*entry

	// createMu serializes first-time city creation so two concurrent
	// bootstraps for the same player cannot both miss the lookup.
	createMu sync.Mutex

	now func() time.Time
}

type entry struct {
	mu   sync.Mutex
	city *City
}

func NewManager(cats *catalogs.Catalogs, tune tuning.Tuning, store Store) *Manager {
	return &Manager{
		cats:   cats,
		tune:   tune,
		store:  store,
		cities: map[string]*entry{},
		now:    time.Now,
	}
}

// SetNotifier attaches the push hub. Must be called before serving traffic.
func (m *Manager) SetNotifier(n Notifier) { m.notifier = n }

// SetAudit attaches the audit sink. Must be called before serving traffic.
func (m *Manager) SetAudit(a AuditSink) { m.audit = a }

// SetLogger attaches a logger for degraded-mode warnings.
func (m *Manager) SetLogger(l *log.Logger) { m.logger = l }

// SetClock overrides the time source.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

func (m *Manager) SyncConfig() protocol.SyncConfig {
	return protocol.SyncConfig{
		ResourceSyncIntervalSeconds: m.tune.ResourceSyncIntervalSeconds,
		ErrorToleranceSeconds:       m.tune.ErrorToleranceSeconds,
		ActionCompleteRetrySeconds:  m.tune.ActionCompleteRetrySeconds,
		LocalTickMs:                 m.tune.LocalTickMs,
	}
}

// LoadedCities reports how many cities are resident in memory.
func (m *Manager) LoadedCities() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cities)
}

func (m *Manager) entryFor(cityID string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.cities[cityID]
	if !ok {
		e = &entry{}
		m.cities[cityID] = e
	}
	return e
}

// withCity runs fn under the city's lock, loading from the store on first
// touch, and persists the (possibly mutated) city afterwards.
func (m *Manager) withCity(ctx context.Context, cityID string, fn func(*City) error) error {
	e := m.entryFor(cityID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.city == nil {
		blob, ok, err := m.store.LoadCity(ctx, cityID)
		if err != nil {
			return err
		}
		if !ok {
			return protocol.Errf(protocol.ErrNotFound, "city not found")
		}
		c, err := Restore(blob, m.cats, m.tune)
		if err != nil {
			return err
		}
		e.city = c
	}

	if err := fn(e.city); err != nil {
		return err
	}
	return m.persist(ctx, e.city)
}

func (m *Manager) persist(ctx context.Context, c *City) error {
	blob, err := c.Export()
	if err != nil {
		return err
	}
	return m.store.SaveCity(ctx, c.ID, c.PlayerID, c.Name, blob)
}

// Bootstrap loads or creates the player's city, resolves overdue actions,
// and returns the full snapshot plus sync configuration.
func (m *Manager) Bootstrap(ctx context.Context, playerID, cityName string) (protocol.BootstrapResponse, error) {
	now := m.now()

	cityID, blob, ok, err := m.store.FindCityByPlayer(ctx, playerID)
	if err != nil {
		return protocol.BootstrapResponse{}, err
	}
	if !ok {
		// Serialize creation and re-check, so two concurrent bootstraps for
		// a new player end up with one city.
		m.createMu.Lock()
		cityID, blob, ok, err = m.store.FindCityByPlayer(ctx, playerID)
		if err == nil && !ok {
			cityID = uuid.NewString()
			c := New(cityID, playerID, cityName, uuid.NewString(), m.cats, m.tune, now)
			e := m.entryFor(cityID)
			e.mu.Lock()
			e.city = c
			e.mu.Unlock()
			err = m.persist(ctx, c)
			blob = nil
		}
		m.createMu.Unlock()
		if err != nil {
			return protocol.BootstrapResponse{}, err
		}
	}
	if blob != nil {
		e := m.entryFor(cityID)
		e.mu.Lock()
		if e.city == nil {
			c, rerr := Restore(blob, m.cats, m.tune)
			if rerr != nil {
				e.mu.Unlock()
				return protocol.BootstrapResponse{}, rerr
			}
			e.city = c
		}
		e.mu.Unlock()
	}

	type resolution struct {
		actionID string
		kind     string
	}
	var resolved []resolution
	var resp protocol.BootstrapResponse
	err = m.withCity(ctx, cityID, func(c *City) error {
		kinds := map[string]string{}
		for id, a := range c.Pending {
			kinds[id] = string(a.Kind)
		}
		for _, r := range c.SyncPending(now) {
			if r.Status == protocol.StatusCompleted {
				resolved = append(resolved, resolution{r.ActionID, kinds[r.ActionID]})
			}
		}
		c.Advance(now)
		resp = protocol.BootstrapResponse{
			City:           c.Snapshot(),
			PendingActions: c.PendingList(),
			SyncConfig:     m.SyncConfig(),
			Rates:          wireRates(c.Rates()),
		}
		return nil
	})
	if err != nil {
		return protocol.BootstrapResponse{}, err
	}
	for _, r := range resolved {
		m.announceResolution(ctx, now, cityID, r.actionID, r.kind)
	}
	return resp, nil
}

// announceResolution performs the bookkeeping of a first resolution: index
// transition, audit entry and push. Every path that resolves an action goes
// through here, whether client-driven or an overdue sweep.
func (m *Manager) announceResolution(ctx context.Context, now time.Time, cityID, actionID, kind string) {
	m.indexAction(ctx, actionID, cityID, string(actions.StatusResolved))
	m.recordAction(now, cityID, actionID, kind, "complete", "")
	switch kind {
	case string(actions.KindBuild):
		m.push(cityID, protocol.TypeBaseBuilt, actionID, nil)
	case string(actions.KindResearch):
		m.push(cityID, protocol.TypeResearchCompleted, actionID, nil)
	}
}

// indexAction writes the action index row, degrading to a logged warning on
// failure: the action itself is already durable in the city blob, and the
// caller's operation must not be reported failed after it took effect.
func (m *Manager) indexAction(ctx context.Context, actionID, cityID, status string) {
	if err := m.store.IndexAction(ctx, actionID, cityID, status); err != nil && m.logger != nil {
		m.logger.Printf("action index write failed action=%s city=%s status=%s: %v", actionID, cityID, status, err)
	}
}

// StartAction validates and starts a build or research action. Cost
// deduction and action creation happen atomically under the city lock.
func (m *Manager) StartAction(ctx context.Context, playerID string, req protocol.ActionStartRequest) (protocol.ActionStartResponse, error) {
	now := m.now()
	var resp protocol.ActionStartResponse
	err := m.withCity(ctx, req.CityID, func(c *City) error {
		if c.PlayerID != playerID {
			return protocol.Errf(protocol.ErrNoPermission, "not your city")
		}
		var a *actions.Action
		var err error
		switch req.ActionType {
		case string(actions.KindBuild):
			if req.Data.BaseType == "" || req.Data.Position == nil {
				return protocol.Errf(protocol.ErrBadRequest, "missing base_type or position")
			}
			a, err = c.StartBuild(now, req.Data.BaseType, grid.Position{X: req.Data.Position.X, Y: req.Data.Position.Y})
		case string(actions.KindResearch):
			if req.Data.TechID == "" {
				return protocol.Errf(protocol.ErrBadRequest, "missing tech_id")
			}
			a, err = c.StartResearch(now, req.Data.TechID)
		default:
			return protocol.Errf(protocol.ErrBadRequest, "unknown action type: "+req.ActionType)
		}
		if err != nil {
			return err
		}
		resp = protocol.ActionStartResponse{
			ActionID:        a.ID,
			ActionType:      string(a.Kind),
			StartedAt:       a.StartedAt,
			EndsAt:          a.EndsAt,
			DurationSeconds: a.DurationSeconds,
			Resources:       c.Resources.Ints(),
		}
		m.recordAction(now, c.ID, a.ID, string(a.Kind), "start", "")
		return nil
	})
	if err != nil {
		return protocol.ActionStartResponse{}, err
	}
	m.indexAction(ctx, resp.ActionID, req.CityID, string(actions.StatusPending))
	m.push(req.CityID, protocol.TypeConstructionUpdated, resp.ActionID, nil)
	return resp, nil
}

// CompleteAction resolves an action idempotently. Duplicate and concurrent
// calls are serialized by the city lock and answered from the archive.
func (m *Manager) CompleteAction(ctx context.Context, playerID, actionID string) (protocol.ActionCompleteResponse, error) {
	now := m.now()

	cityID, ok, err := m.store.CityForAction(ctx, actionID)
	if err != nil {
		return protocol.ActionCompleteResponse{}, err
	}
	if !ok {
		return protocol.ActionCompleteResponse{
			Status: protocol.StatusFailed,
			Code:   protocol.ErrNotFound,
			Error:  "action not found",
		}, nil
	}

	var resp protocol.ActionCompleteResponse
	var completedKind string
	err = m.withCity(ctx, cityID, func(c *City) error {
		if c.PlayerID != playerID {
			return protocol.Errf(protocol.ErrNoPermission, "not your action")
		}
		if a, pending := c.Pending[actionID]; pending {
			completedKind = string(a.Kind)
		}
		resp = c.Complete(now, actionID)
		return nil
	})
	if err != nil {
		return protocol.ActionCompleteResponse{}, err
	}

	if resp.Status == protocol.StatusCompleted && completedKind != "" {
		// First resolution of this action.
		m.announceResolution(ctx, now, cityID, actionID, completedKind)
	}
	return resp, nil
}

// CancelAction aborts a pending action with a partial refund.
func (m *Manager) CancelAction(ctx context.Context, playerID, actionID string) (protocol.ActionCancelResponse, error) {
	now := m.now()

	cityID, ok, err := m.store.CityForAction(ctx, actionID)
	if err != nil {
		return protocol.ActionCancelResponse{}, err
	}
	if !ok {
		return protocol.ActionCancelResponse{}, protocol.Errf(protocol.ErrNotFound, "action not found")
	}

	var resp protocol.ActionCancelResponse
	err = m.withCity(ctx, cityID, func(c *City) error {
		if c.PlayerID != playerID {
			return protocol.Errf(protocol.ErrNoPermission, "not your action")
		}
		a, cerr := c.Cancel(now, actionID)
		if cerr != nil {
			return cerr
		}
		resp = protocol.ActionCancelResponse{
			Status:    protocol.StatusCancelled,
			ActionID:  a.ID,
			Resources: c.Resources.Ints(),
		}
		m.recordAction(now, c.ID, a.ID, string(a.Kind), "cancel", "")
		return nil
	})
	if err != nil {
		return protocol.ActionCancelResponse{}, err
	}
	m.indexAction(ctx, actionID, cityID, string(actions.StatusCancelled))
	m.push(cityID, protocol.TypeConstructionUpdated, actionID, nil)
	return resp, nil
}

// PendingActions lists a city's pending actions for timer reconstruction.
func (m *Manager) PendingActions(ctx context.Context, playerID, cityID string) (protocol.PendingActionsResponse, error) {
	var resp protocol.PendingActionsResponse
	err := m.withCity(ctx, cityID, func(c *City) error {
		if c.PlayerID != playerID {
			return protocol.Errf(protocol.ErrNoPermission, "not your city")
		}
		resp.Actions = c.PendingList()
		return nil
	})
	return resp, err
}

// SyncResources reconciles the client's numbers against the authoritative
// computation; the response always carries the server's values.
func (m *Manager) SyncResources(ctx context.Context, playerID string, req protocol.ResourceSyncRequest) (protocol.ResourceSyncResponse, error) {
	now := m.now()
	var resp protocol.ResourceSyncResponse
	err := m.withCity(ctx, req.CityID, func(c *City) error {
		if c.PlayerID != playerID {
			return protocol.Errf(protocol.ErrNoPermission, "not your city")
		}
		resp = c.Sync(now, req.ClientResources)
		if resp.DriftDetected && m.audit != nil {
			_ = m.audit.WriteDrift(DriftAuditEntry{At: now, CityID: c.ID, Details: resp.DriftDetails})
		}
		return nil
	})
	if err != nil {
		return protocol.ResourceSyncResponse{}, err
	}
	m.push(req.CityID, protocol.TypeResourceTick, "", resp.Resources)
	return resp, nil
}

// Resources reports the current authoritative resource picture.
func (m *Manager) Resources(ctx context.Context, playerID, cityID string) (protocol.ResourcesResponse, error) {
	now := m.now()
	var resp protocol.ResourcesResponse
	err := m.withCity(ctx, cityID, func(c *City) error {
		if c.PlayerID != playerID {
			return protocol.Errf(protocol.ErrNoPermission, "not your city")
		}
		resp = c.ResourcesNow(now)
		return nil
	})
	return resp, err
}

// Demolish destroys an operational base and refunds part of its cost.
func (m *Manager) Demolish(ctx context.Context, playerID string, req protocol.DemolishRequest) (protocol.DemolishResponse, error) {
	now := m.now()
	var resp protocol.DemolishResponse
	err := m.withCity(ctx, req.CityID, func(c *City) error {
		if c.PlayerID != playerID {
			return protocol.Errf(protocol.ErrNoPermission, "not your city")
		}
		if derr := c.Demolish(now, grid.Position{X: req.Position.X, Y: req.Position.Y}); derr != nil {
			return derr
		}
		resp = protocol.DemolishResponse{
			Status:    "demolished",
			Resources: c.Resources.Ints(),
		}
		return nil
	})
	if err != nil {
		return protocol.DemolishResponse{}, err
	}
	m.push(req.CityID, protocol.TypeConstructionUpdated, "", resp.Resources)
	return resp, nil
}

func (m *Manager) recordAction(at time.Time, cityID, actionID, kind, event, code string) {
	if m.audit == nil {
		return
	}
	_ = m.audit.WriteAction(ActionAuditEntry{
		At:       at,
		CityID:   cityID,
		ActionID: actionID,
		Kind:     kind,
		Event:    event,
		Code:     code,
	})
}

func (m *Manager) push(cityID, msgType, actionID string, resources map[string]int) {
	if m.notifier == nil {
		return
	}
	m.notifier.Push(cityID, protocol.PushMsg{
		Type:            msgType,
		ProtocolVersion: protocol.Version,
		CityID:          cityID,
		ActionID:        actionID,
		Resources:       resources,
		At:              m.now(),
	})
}
