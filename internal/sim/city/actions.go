package city

import (
	"math"
	"time"

	"github.com/google/uuid"

	"oceandepths/internal/protocol"
	"oceandepths/internal/sim/actions"
	"oceandepths/internal/sim/catalogs"
	"oceandepths/internal/sim/economy"
	"oceandepths/internal/sim/grid"
)

// StartBuild validates placement, deducts cost and creates the pending
// action in one step. A failed validation leaves resources untouched.
func (c *City) StartBuild(now time.Time, baseType string, pos grid.Position) (*actions.Action, error) {
	c.Advance(now)

	if err := c.Grid.CanBuildAt(pos, baseType, c.cats, c.Resources, c.UnlockedTechs); err != nil {
		return nil, err
	}
	def, _ := c.cats.Base(baseType)

	for kind, cost := range def.Cost {
		c.Resources[kind] -= float64(cost)
	}

	duration := def.BuildTimeSeconds
	endsAt := now.Add(time.Duration(duration) * time.Second)
	actionID := uuid.NewString()
	baseID := uuid.NewString()

	a := &actions.Action{
		ID:              actionID,
		CityID:          c.ID,
		PlayerID:        c.PlayerID,
		Kind:            actions.KindBuild,
		StartedAt:       now,
		EndsAt:          endsAt,
		DurationSeconds: duration,
		Status:          actions.StatusPending,
		Build: &actions.BuildPayload{
			BaseType: baseType,
			Position: pos,
			BaseID:   baseID,
		},
	}
	c.Pending[actionID] = a

	startedAt := now
	c.Grid.PlaceUnderConstruction(&grid.Base{
		ID:                    baseID,
		Type:                  baseType,
		Position:              pos,
		Level:                 1,
		ConstructionProgress:  0,
		IsOperational:         false,
		Workers:               0,
		ActionID:              actionID,
		ConstructionStartedAt: &startedAt,
		ConstructionEndsAt:    &endsAt,
	})
	return a, nil
}

// StartResearch validates prerequisites, the research slot limit and the
// tech point cost, then deducts and creates the pending action.
func (c *City) StartResearch(now time.Time, techID string) (*actions.Action, error) {
	c.Advance(now)

	tech, ok := c.cats.Tech(techID)
	if !ok {
		return nil, protocol.Errf(protocol.ErrBadRequest, "unknown tech: "+techID)
	}
	if c.hasTech(techID) {
		return nil, protocol.Errf(protocol.ErrBadRequest, "tech already researched")
	}
	if !c.cats.CanResearch(techID, c.UnlockedTechs) {
		return nil, protocol.Errf(protocol.ErrTechLocked, "prerequisites not met")
	}
	if len(c.CurrentResearch) >= c.tune.ResearchSlots {
		return nil, protocol.Errf(protocol.ErrSlotOccupied, "already researching another tech")
	}
	if c.Resources[economy.TechPoints] < float64(tech.Cost) {
		return nil, protocol.Errf(protocol.ErrNoResource, "insufficient tech_points")
	}

	c.Resources[economy.TechPoints] -= float64(tech.Cost)

	duration := tech.ResearchTimeSeconds
	actionID := uuid.NewString()
	a := &actions.Action{
		ID:              actionID,
		CityID:          c.ID,
		PlayerID:        c.PlayerID,
		Kind:            actions.KindResearch,
		StartedAt:       now,
		EndsAt:          now.Add(time.Duration(duration) * time.Second),
		DurationSeconds: duration,
		Status:          actions.StatusPending,
		Research:        &actions.ResearchPayload{TechID: techID},
	}
	c.Pending[actionID] = a
	c.CurrentResearch = append(c.CurrentResearch, techID)
	return a, nil
}

// Complete is the idempotent check-and-set resolution. Calling it before
// EndsAt reports pending with the remaining seconds and performs no
// mutation. The first call after EndsAt resolves the action exactly once;
// every later call reports completed without re-mutating.
func (c *City) Complete(now time.Time, actionID string) protocol.ActionCompleteResponse {
	if done, ok := c.Archived[actionID]; ok {
		if done.Status == actions.StatusCancelled {
			return protocol.ActionCompleteResponse{
				Status: protocol.StatusFailed,
				Code:   protocol.ErrInvalidState,
				Error:  "action was cancelled",
			}
		}
		return protocol.ActionCompleteResponse{
			Status:      protocol.StatusCompleted,
			ActionID:    actionID,
			CompletedAt: done.CompletedAt,
		}
	}
	a, ok := c.Pending[actionID]
	if !ok {
		return protocol.ActionCompleteResponse{
			Status: protocol.StatusFailed,
			Code:   protocol.ErrNotFound,
			Error:  "action not found",
		}
	}
	if !a.Due(now) {
		return protocol.ActionCompleteResponse{
			Status:           protocol.StatusPending,
			ActionID:         actionID,
			RemainingSeconds: a.Remaining(now),
		}
	}

	// Integrate up to now before the operational set changes, so the old
	// rates apply to the interval they governed.
	c.Advance(now)

	switch a.Kind {
	case actions.KindBuild:
		if !c.Grid.MarkOperational(a.Build.Position, c.cats) {
			delete(c.Pending, actionID)
			return protocol.ActionCompleteResponse{
				Status: protocol.StatusFailed,
				Code:   protocol.ErrNotFound,
				Error:  "base not found at position",
			}
		}
	case actions.KindResearch:
		if !c.hasTech(a.Research.TechID) {
			c.UnlockedTechs = append(c.UnlockedTechs, a.Research.TechID)
		}
		c.releaseResearchSlot(a.Research.TechID)
	}

	completedAt := now
	a.Status = actions.StatusResolved
	a.CompletedAt = &completedAt
	delete(c.Pending, actionID)
	c.Archived[actionID] = a

	return protocol.ActionCompleteResponse{
		Status:      protocol.StatusCompleted,
		ActionID:    actionID,
		CompletedAt: &completedAt,
	}
}

// Cancel aborts a pending action, refunding the configured fraction of the
// original cost. Resolved or cancelled actions cannot be cancelled.
func (c *City) Cancel(now time.Time, actionID string) (*actions.Action, error) {
	if _, done := c.Archived[actionID]; done {
		return nil, protocol.Errf(protocol.ErrInvalidState, "action already resolved")
	}
	a, ok := c.Pending[actionID]
	if !ok {
		return nil, protocol.Errf(protocol.ErrNotFound, "action not found")
	}

	c.Advance(now)

	switch a.Kind {
	case actions.KindBuild:
		c.Grid.RemoveBase(a.Build.Position)
		def, _ := c.cats.Base(a.Build.BaseType)
		c.addResources(refund(def.Cost, c.tune.CancelRefundFraction))
	case actions.KindResearch:
		tech, _ := c.cats.Tech(a.Research.TechID)
		c.addResources(map[string]int{
			economy.TechPoints: int(math.Floor(float64(tech.Cost) * c.tune.CancelRefundFraction)),
		})
		c.releaseResearchSlot(a.Research.TechID)
	}

	a.Status = actions.StatusCancelled
	delete(c.Pending, actionID)
	c.Archived[actionID] = a
	return a, nil
}

// Demolish destroys an operational non-command base and refunds part of its
// cost, capped at capacity.
func (c *City) Demolish(now time.Time, pos grid.Position) error {
	cell := c.Grid.At(pos)
	if cell == nil || cell.Base == nil {
		return protocol.Errf(protocol.ErrNotFound, "no base at position")
	}
	b := cell.Base
	if b.Type == catalogs.CommandBase {
		return protocol.Errf(protocol.ErrInvalidState, "cannot demolish the command ship")
	}
	if !b.IsOperational {
		return protocol.Errf(protocol.ErrInvalidState, "base is under construction; cancel its action instead")
	}

	c.Advance(now)
	def, _ := c.cats.Base(b.Type)
	c.Grid.RemoveBase(pos)
	c.addResources(refund(def.Cost, c.tune.DemolishRefundFraction))
	return nil
}

// SyncPending resolves every overdue pending action. Called at bootstrap and
// reconnect so refreshes resume instead of resetting.
func (c *City) SyncPending(now time.Time) []protocol.ActionCompleteResponse {
	var due []string
	for id, a := range c.Pending {
		if a.Due(now) {
			due = append(due, id)
		}
	}
	out := make([]protocol.ActionCompleteResponse, 0, len(due))
	for _, id := range due {
		out = append(out, c.Complete(now, id))
	}
	return out
}

func (c *City) releaseResearchSlot(techID string) {
	for i, t := range c.CurrentResearch {
		if t == techID {
			c.CurrentResearch = append(c.CurrentResearch[:i], c.CurrentResearch[i+1:]...)
			return
		}
	}
}

func refund(cost map[string]int, fraction float64) map[string]int {
	out := make(map[string]int, len(cost))
	for kind, amount := range cost {
		out[kind] = int(math.Floor(float64(amount) * fraction))
	}
	return out
}
