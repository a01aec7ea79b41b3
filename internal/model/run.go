package model

import "time"

// RunStatus represents the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStatusConfiguring RunStatus = "configuring"
	RunStatusRunning     RunStatus = "running"
	RunStatusCompleted   RunStatus = "completed"
	RunStatusFailed      RunStatus = "failed"
	RunStatusStopped     RunStatus = "stopped"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusStopped:
		return true
	}
	return false
}

// ReEnrichOption controls whether a stage may re-run entities that already
// hold a fresh completion. A nil Horizon with Enabled=true means no
// re-enrichment: an explicit horizon must be chosen before prior work is
// considered stale.
type ReEnrichOption struct {
	Enabled bool       `json:"enabled"`
	Horizon *time.Time `json:"horizon,omitempty"`
}

// Active reports whether re-enrichment should actually widen eligibility.
func (o ReEnrichOption) Active() bool {
	return o.Enabled && o.Horizon != nil
}

// RunRequest is a validated request to start (or estimate) a pipeline run.
type RunRequest struct {
	Scope          Scope                      `json:"scope"`
	EnabledStages  []string                   `json:"enabled_stages"`
	SoftDepToggles map[string]map[string]bool `json:"soft_dep_toggles,omitempty"`
	ReEnrich       map[string]ReEnrichOption  `json:"re_enrich,omitempty"`
	Boost          map[string]bool            `json:"boost,omitempty"`
	AllowEmpty     bool                       `json:"allow_empty,omitempty"`
}

// Enabled reports whether the stage code is in the enabled set.
func (r RunRequest) Enabled(code string) bool {
	for _, c := range r.EnabledStages {
		if c == code {
			return true
		}
	}
	return false
}

// SoftContext collapses a stage's per-dependency toggles into the single
// boolean the executor honors: true only when every listed soft dep is
// individually toggled on. Turning any one off disables optional context
// for the whole stage.
func (r RunRequest) SoftContext(code string, softDeps []string) bool {
	if len(softDeps) == 0 {
		return false
	}
	toggles := r.SoftDepToggles[code]
	for _, dep := range softDeps {
		if !toggles[dep] {
			return false
		}
	}
	return true
}

// PipelineRun is one orchestrated execution of a set of stages over a
// scope. Mutated only by the scheduler and by stop requests; immutable
// once terminal.
type PipelineRun struct {
	ID             string                     `json:"id"`
	Scope          Scope                      `json:"scope"`
	EnabledStages  []string                   `json:"enabled_stages"`
	SoftDepToggles map[string]map[string]bool `json:"soft_dep_toggles,omitempty"`
	ReEnrich       map[string]ReEnrichOption  `json:"re_enrich,omitempty"`
	Boost          map[string]bool            `json:"boost,omitempty"`
	Status         RunStatus                  `json:"status"`
	Reason         string                     `json:"reason,omitempty"`
	TotalCost      float64                    `json:"total_cost"`
	StartedAt      time.Time                  `json:"started_at"`
	CompletedAt    *time.Time                 `json:"completed_at,omitempty"`
}

// ItemStatus names the entity a stage is currently working on.
type ItemStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// ItemError is one failed entity within a stage, for display.
type ItemError struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// StageRun is the per-(run, stage) progress aggregate. It is a read model
// derived from completion writes, never authoritative on its own.
type StageRun struct {
	RunID         string      `json:"run_id"`
	StageCode     string      `json:"stage_code"`
	EligibleTotal int         `json:"eligible_total"`
	Done          int         `json:"done"`
	Failed        int         `json:"failed"`
	Cost          float64     `json:"cost"`
	CurrentItem   *ItemStatus `json:"current_item,omitempty"`
	FailedItems   []ItemError `json:"failed_items,omitempty"`
}

// StatusSnapshot is the point-in-time view returned to polling clients.
// A nil Pipeline means no run exists for the scope, which is a benign
// idle state rather than an error.
type StatusSnapshot struct {
	Pipeline *PipelineRun        `json:"pipeline,omitempty"`
	Stages   map[string]StageRun `json:"stages,omitempty"`
}

// EntityOutcome is one per-entity result row in a run's drill-down view.
type EntityOutcome struct {
	EntityID    string           `json:"entity_id"`
	Name        string           `json:"name"`
	StageCode   string           `json:"stage_code"`
	Status      CompletionStatus `json:"status"`
	Passed      *bool            `json:"passed,omitempty"`
	Cost        float64          `json:"cost"`
	Error       string           `json:"error,omitempty"`
	CompletedAt time.Time        `json:"completed_at"`
}
