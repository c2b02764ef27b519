package protocol

import "time"

// ---- REST: bootstrap ----

type BootstrapRequest struct {
	PlayerID string `json:"player_id"`
}

type BootstrapResponse struct {
	City           CityState       `json:"city"`
	PendingActions []PendingAction `json:"pending_actions"`
	SyncConfig     SyncConfig      `json:"sync_config"`
	Rates          Rates           `json:"production_rates"`
}

// SyncConfig tells the client how aggressively to reconcile.
type SyncConfig struct {
	ResourceSyncIntervalSeconds int `json:"resource_sync_interval_seconds"`
	ErrorToleranceSeconds       int `json:"error_tolerance_seconds"`
	ActionCompleteRetrySeconds  int `json:"action_complete_retry_seconds"`
	LocalTickMs                 int `json:"local_tick_ms"`
}

// ---- City state snapshot ----

type CityState struct {
	CityID          string         `json:"city_id"`
	PlayerID        string         `json:"player_id"`
	Name            string         `json:"name"`
	Grid            [][]CellState  `json:"grid"`
	Resources       map[string]int `json:"resources"`
	Capacity        map[string]int `json:"resource_capacity"`
	UnlockedTechs   []string       `json:"unlocked_techs"`
	CurrentResearch []string       `json:"current_research"`
	LastSyncedAt    time.Time      `json:"last_synced_at"`
}

type CellState struct {
	Position   Position   `json:"position"`
	Base       *BaseState `json:"base"`
	IsUnlocked bool       `json:"is_unlocked"`
	Depth      int        `json:"depth"`
	Zone       string     `json:"zone"`
}

type BaseState struct {
	ID                   string     `json:"id"`
	Type                 string     `json:"type"`
	Position             Position   `json:"position"`
	Level                int        `json:"level"`
	ConstructionProgress int        `json:"construction_progress"`
	IsOperational        bool       `json:"is_operational"`
	Workers              int        `json:"workers"`
	ActionID             string     `json:"action_id,omitempty"`
	ConstructionStartsAt *time.Time `json:"construction_started_at,omitempty"`
	ConstructionEndsAt   *time.Time `json:"construction_ends_at,omitempty"`
}

type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ---- REST: actions ----

type ActionStartRequest struct {
	CityID     string        `json:"city_id"`
	ActionType string        `json:"action_type"` // "build" | "research"
	Data       ActionPayload `json:"data"`
}

type ActionPayload struct {
	BaseType string    `json:"base_type,omitempty"`
	Position *Position `json:"position,omitempty"`
	BaseID   string    `json:"base_id,omitempty"`
	TechID   string    `json:"tech_id,omitempty"`
}

type ActionStartResponse struct {
	ActionID        string         `json:"action_id"`
	ActionType      string         `json:"action_type"`
	StartedAt       time.Time      `json:"started_at"`
	EndsAt          time.Time      `json:"ends_at"`
	DurationSeconds int            `json:"duration_seconds"`
	Resources       map[string]int `json:"resources"`
}

type PendingAction struct {
	ActionID        string        `json:"action_id"`
	ActionType      string        `json:"action_type"`
	StartedAt       time.Time     `json:"started_at"`
	EndsAt          time.Time     `json:"ends_at"`
	DurationSeconds int           `json:"duration_seconds"`
	Data            ActionPayload `json:"data"`
	Status          string        `json:"status"`
}

type ActionCompleteRequest struct {
	ActionID string `json:"action_id"`
}

// Completion statuses.
const (
	StatusCompleted = "completed"
	StatusPending   = "pending"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

type ActionCompleteResponse struct {
	Status           string     `json:"status"`
	ActionID         string     `json:"action_id,omitempty"`
	RemainingSeconds int        `json:"remaining_seconds,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	Code             string     `json:"code,omitempty"`
	Error            string     `json:"error,omitempty"`
}

type ActionCancelResponse struct {
	Status    string         `json:"status"`
	ActionID  string         `json:"action_id"`
	Resources map[string]int `json:"resources,omitempty"`
}

type PendingActionsResponse struct {
	Actions []PendingAction `json:"actions"`
}

type DemolishRequest struct {
	CityID   string   `json:"city_id"`
	Position Position `json:"position"`
}

type DemolishResponse struct {
	Status    string         `json:"status"`
	Resources map[string]int `json:"resources"`
}

// ---- REST: resources ----

type Rates struct {
	Production  map[string]float64 `json:"production"`
	Consumption map[string]float64 `json:"consumption"`
	Net         map[string]float64 `json:"net"`
}

type ResourceSyncRequest struct {
	CityID          string         `json:"city_id"`
	ClientResources map[string]int `json:"client_resources"`
}

type DriftDetail struct {
	Client     int `json:"client"`
	Expected   int `json:"expected"`
	Difference int `json:"difference"`
	Tolerance  int `json:"tolerance"`
}

type ResourceSyncResponse struct {
	Resources     map[string]int         `json:"resources"`
	Capacity      map[string]int         `json:"capacity"`
	Rates         Rates                  `json:"production_rates"`
	LastSyncedAt  time.Time              `json:"last_synced_at"`
	DriftDetected bool                   `json:"drift_detected"`
	DriftDetails  map[string]DriftDetail `json:"drift_details,omitempty"`
}

type ResourcesResponse struct {
	Resources    map[string]int `json:"resources"`
	Capacity     map[string]int `json:"capacity"`
	Rates        Rates          `json:"production_rates"`
	CalculatedAt time.Time      `json:"calculated_at"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ---- WS push ----

// HELLO (client -> server): subscribes a player to push events.
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PlayerID        string `json:"player_id"`
	CityID          string `json:"city_id"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	CityID          string    `json:"city_id"`
	ServerTime      time.Time `json:"server_time"`
}

// PushMsg is a best-effort freshness hint. The REST surface stays the source
// of truth; these can be dropped silently.
type PushMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	CityID          string         `json:"city_id"`
	ActionID        string         `json:"action_id,omitempty"`
	Resources       map[string]int `json:"resources,omitempty"`
	At              time.Time      `json:"at"`
}
