package model

import (
	"time"
)

// RunStatus represents the current state of a preparation run.
type RunStatus string

const (
	RunStatusQueued      RunStatus = "queued"
	RunStatusClassifying RunStatus = "classifying"
	RunStatusDeriving    RunStatus = "deriving"
	RunStatusSlicing     RunStatus = "slicing"
	RunStatusTransit     RunStatus = "transit"
	RunStatusCommitting  RunStatus = "committing"
	RunStatusComplete    RunStatus = "complete"
	RunStatusFailed      RunStatus = "failed"
)

// Terminal reports whether no further transitions follow s.
func (s RunStatus) Terminal() bool {
	return s == RunStatusComplete || s == RunStatusFailed
}

// RunRequest describes what a run was asked to do.
type RunRequest struct {
	HighwayBank string   `json:"highway_bank"`
	TransitBank string   `json:"transit_bank,omitempty"`
	ReferenceID int      `json:"reference_id"`
	LandUse     string   `json:"landuse"`
	Periods     []string `json:"periods"`
	BufferMiles float64  `json:"buffer_miles"`
	SkipTransit bool     `json:"skip_transit,omitempty"`
	DryRun      bool     `json:"dry_run,omitempty"`
}

// Run represents a single preparation run.
type Run struct {
	ID        string     `json:"id"`
	Request   RunRequest `json:"request"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ScenarioRef names a scenario written by a run.
type ScenarioRef struct {
	Bank   string `json:"bank"`
	ID     int    `json:"id"`
	Title  string `json:"title"`
	Period string `json:"period,omitempty"`
}

// RunResult holds the final outcome of a run. A failed run records the
// stage, error kind and entity that stopped it.
type RunResult struct {
	ZonesLocated    int            `json:"zones_located"`
	Links           int            `json:"links"`
	LinksByAreaType map[int]int    `json:"links_by_area_type,omitempty"`
	Scenarios       []ScenarioRef  `json:"scenarios,omitempty"`
	Phases          []PhaseResult  `json:"phases"`
	FailedStage     string         `json:"failed_stage,omitempty"`
	FailedKind      string         `json:"failed_kind,omitempty"`
	FailedEntity    string         `json:"failed_entity,omitempty"`
	Error           string         `json:"error,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Failed reports whether the run stopped on an error.
func (r *RunResult) Failed() bool {
	return r != nil && r.Error != ""
}

// RunPhase represents a phase within a run.
type RunPhase struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Name      string       `json:"name"`
	Status    PhaseStatus  `json:"status"`
	Result    *PhaseResult `json:"result,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

// PhaseStatus represents the current state of a run phase.
type PhaseStatus string

const (
	PhaseStatusRunning  PhaseStatus = "running"
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)

// PhaseResult holds the outcome of a run phase.
type PhaseResult struct {
	Name     string         `json:"name"`
	Status   PhaseStatus    `json:"status"`
	Duration int64          `json:"duration_ms"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
