package actions

import (
	"time"

	"oceandepths/internal/sim/grid"
)

type Kind string

const (
	KindBuild    Kind = "build"
	KindResearch Kind = "research"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusResolved  Status = "resolved"
	StatusCancelled Status = "cancelled"
)

// Action is a time-boxed, resource-deducting, exactly-once-resolving unit of
// progress. Transitions: Pending -> Resolved (terminal) or Pending ->
// Cancelled (terminal). No state is re-enterable.
type Action struct {
	ID              string
	CityID          string
	PlayerID        string
	Kind            Kind
	StartedAt       time.Time
	EndsAt          time.Time
	DurationSeconds int
	Status          Status
	CompletedAt     *time.Time

	Build    *BuildPayload
	Research *ResearchPayload
}

type BuildPayload struct {
	BaseType string
	Position grid.Position
	BaseID   string
}

type ResearchPayload struct {
	TechID string
}

// Due reports whether the action's timer has elapsed.
func (a *Action) Due(now time.Time) bool {
	return !now.Before(a.EndsAt)
}

// Remaining returns whole seconds until EndsAt, at least 1 for a still
// pending action so callers never schedule a zero-delay retry.
func (a *Action) Remaining(now time.Time) int {
	r := int(a.EndsAt.Sub(now).Seconds())
	if r < 1 {
		r = 1
	}
	return r
}
