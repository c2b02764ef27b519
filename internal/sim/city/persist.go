package city

import (
	"encoding/json"
	"time"

	"oceandepths/internal/protocol"
	"oceandepths/internal/sim/actions"
	"oceandepths/internal/sim/catalogs"
	"oceandepths/internal/sim/economy"
	"oceandepths/internal/sim/grid"
	"oceandepths/internal/sim/tuning"
)

// Persisted is the durable representation of a city. The archive is kept so
// duplicate completion calls stay idempotent across restarts.
type Persisted struct {
	State    protocol.CityState `json:"state"`
	Pending  []persistedAction  `json:"pending_actions"`
	Archived []persistedAction  `json:"archived_actions"`
}

type persistedAction struct {
	ActionID        string                 `json:"action_id"`
	ActionType      string                 `json:"action_type"`
	StartedAt       time.Time              `json:"started_at"`
	EndsAt          time.Time              `json:"ends_at"`
	DurationSeconds int                    `json:"duration_seconds"`
	Status          string                 `json:"status"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	Data            protocol.ActionPayload `json:"data"`
}

// Export serializes the city for the durable store.
func (c *City) Export() ([]byte, error) {
	p := Persisted{State: c.Snapshot()}
	for _, a := range c.Pending {
		p.Pending = append(p.Pending, persistAction(a))
	}
	for _, a := range c.Archived {
		p.Archived = append(p.Archived, persistAction(a))
	}
	return json.Marshal(p)
}

// Restore rebuilds a city from its durable representation.
func Restore(raw []byte, cats *catalogs.Catalogs, tune tuning.Tuning) (*City, error) {
	var p Persisted
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	c := &City{
		ID:              p.State.CityID,
		PlayerID:        p.State.PlayerID,
		Name:            p.State.Name,
		Grid:            grid.FromSnapshot(p.State.Grid),
		Resources:       economy.FromInts(p.State.Resources),
		UnlockedTechs:   p.State.UnlockedTechs,
		CurrentResearch: p.State.CurrentResearch,
		LastSyncedAt:    p.State.LastSyncedAt,
		Pending:         map[string]*actions.Action{},
		Archived:        map[string]*actions.Action{},
		cats:            cats,
		tune:            tune,
	}
	for _, pa := range p.Pending {
		a := restoreAction(pa, c)
		c.Pending[a.ID] = a
	}
	for _, pa := range p.Archived {
		a := restoreAction(pa, c)
		c.Archived[a.ID] = a
	}
	return c, nil
}

func persistAction(a *actions.Action) persistedAction {
	pa := persistedAction{
		ActionID:        a.ID,
		ActionType:      string(a.Kind),
		StartedAt:       a.StartedAt,
		EndsAt:          a.EndsAt,
		DurationSeconds: a.DurationSeconds,
		Status:          string(a.Status),
		CompletedAt:     a.CompletedAt,
	}
	if a.Build != nil {
		pa.Data = protocol.ActionPayload{
			BaseType: a.Build.BaseType,
			Position: &protocol.Position{X: a.Build.Position.X, Y: a.Build.Position.Y},
			BaseID:   a.Build.BaseID,
		}
	}
	if a.Research != nil {
		pa.Data = protocol.ActionPayload{TechID: a.Research.TechID}
	}
	return pa
}

func restoreAction(pa persistedAction, c *City) *actions.Action {
	a := &actions.Action{
		ID:              pa.ActionID,
		CityID:          c.ID,
		PlayerID:        c.PlayerID,
		Kind:            actions.Kind(pa.ActionType),
		StartedAt:       pa.StartedAt,
		EndsAt:          pa.EndsAt,
		DurationSeconds: pa.DurationSeconds,
		Status:          actions.Status(pa.Status),
		CompletedAt:     pa.CompletedAt,
	}
	switch a.Kind {
	case actions.KindBuild:
		pos := grid.Position{}
		if pa.Data.Position != nil {
			pos = grid.Position{X: pa.Data.Position.X, Y: pa.Data.Position.Y}
		}
		a.Build = &actions.BuildPayload{
			BaseType: pa.Data.BaseType,
			Position: pos,
			BaseID:   pa.Data.BaseID,
		}
	case actions.KindResearch:
		a.Research = &actions.ResearchPayload{TechID: pa.Data.TechID}
	}
	return a
}
