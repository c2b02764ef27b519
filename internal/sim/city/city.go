package city

import (
	"time"

	"oceandepths/internal/protocol"
	"oceandepths/internal/sim/actions"
	"oceandepths/internal/sim/catalogs"
	"oceandepths/internal/sim/economy"
	"oceandepths/internal/sim/grid"
	"oceandepths/internal/sim/tuning"
)

// City is the authoritative per-player simulation state. All methods must be
// called under the owning manager's per-city lock; the struct itself carries
// no synchronization.
type City struct {
	ID       string
	PlayerID string
	Name     string

	Grid          *grid.Grid
	Resources     economy.Vector
	UnlockedTechs []string

	// CurrentResearch holds the tech ids occupying research slots.
	CurrentResearch []string

	LastSyncedAt time.Time

	Pending  map[string]*actions.Action
	Archived map[string]*actions.Action

	cats *catalogs.Catalogs
	tune tuning.Tuning
}

// New seeds a fresh city: default resources, default tier-1 techs, command
// ship operational at the surface center.
func New(id, playerID, name, commandShipID string, cats *catalogs.Catalogs, tune tuning.Tuning, now time.Time) *City {
	g := grid.New(tune.Grid.Width, tune.Grid.Height, tune.Grid.AboveSurfaceRows)
	g.SeedCommandShip(commandShipID, cats)
	return &City{
		ID:            id,
		PlayerID:      playerID,
		Name:          name,
		Grid:          g,
		Resources:     economy.DefaultResources(),
		UnlockedTechs: cats.DefaultUnlockedTechs(),
		LastSyncedAt:  now,
		Pending:       map[string]*actions.Action{},
		Archived:      map[string]*actions.Action{},
		cats:          cats,
		tune:          tune,
	}
}

// Rates recomputes production/consumption from the operational set and the
// current population. There is exactly one rate formula in the system; both
// the authoritative path and the optimistic client call into the same
// economy engine.
func (c *City) Rates() economy.Rates {
	return economy.ComputeRates(c.cats, c.Grid.OperationalTypes(), c.Resources[economy.Population])
}

// Capacity derives current capacity from operational storage bonuses.
func (c *City) Capacity() economy.Vector {
	return economy.ComputeCapacity(c.cats, c.Grid.OperationalTypes())
}

// Advance integrates resources from LastSyncedAt to now. Rates are
// recomputed fresh, so any change to the operational set is reflected in the
// very next advance. Fractional accrual is preserved across advances; only
// the sync boundary truncates, so arbitrarily frequent advances (reads,
// failed validations) lose nothing.
func (c *City) Advance(now time.Time) {
	elapsed := now.Sub(c.LastSyncedAt).Seconds()
	if elapsed <= 0 {
		return
	}
	c.Resources = economy.Integrate(c.Resources, c.Rates(), c.Capacity(), elapsed)
	c.LastSyncedAt = now
}

// addResources credits amounts, capping each kind at capacity.
func (c *City) addResources(amounts map[string]int) {
	capacity := c.Capacity()
	for kind, amount := range amounts {
		if _, known := c.Resources[kind]; !known {
			continue
		}
		v := c.Resources[kind] + float64(amount)
		if v > capacity[kind] {
			v = capacity[kind]
		}
		c.Resources[kind] = v
	}
}

func (c *City) hasTech(id string) bool {
	for _, t := range c.UnlockedTechs {
		if t == id {
			return true
		}
	}
	return false
}

// Snapshot exports the full wire/persistence state.
func (c *City) Snapshot() protocol.CityState {
	return protocol.CityState{
		CityID:          c.ID,
		PlayerID:        c.PlayerID,
		Name:            c.Name,
		Grid:            c.Grid.Snapshot(),
		Resources:       c.Resources.Ints(),
		Capacity:        c.Capacity().Ints(),
		UnlockedTechs:   append([]string(nil), c.UnlockedTechs...),
		CurrentResearch: append([]string(nil), c.CurrentResearch...),
		LastSyncedAt:    c.LastSyncedAt,
	}
}

// PendingList exports pending actions sorted by start time for bootstrap
// timer reconstruction.
func (c *City) PendingList() []protocol.PendingAction {
	out := make([]protocol.PendingAction, 0, len(c.Pending))
	for _, a := range c.Pending {
		out = append(out, toWire(a))
	}
	sortPending(out)
	return out
}

func sortPending(list []protocol.PendingAction) {
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && list[j].StartedAt.Before(list[j-1].StartedAt); j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}
}

func toWire(a *actions.Action) protocol.PendingAction {
	p := protocol.PendingAction{
		ActionID:        a.ID,
		ActionType:      string(a.Kind),
		StartedAt:       a.StartedAt,
		EndsAt:          a.EndsAt,
		DurationSeconds: a.DurationSeconds,
		Status:          string(a.Status),
	}
	if a.Build != nil {
		p.Data = protocol.ActionPayload{
			BaseType: a.Build.BaseType,
			Position: &protocol.Position{X: a.Build.Position.X, Y: a.Build.Position.Y},
			BaseID:   a.Build.BaseID,
		}
	}
	if a.Research != nil {
		p.Data = protocol.ActionPayload{TechID: a.Research.TechID}
	}
	return p
}
