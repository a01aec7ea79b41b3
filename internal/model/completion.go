package model

import (
	"encoding/json"
	"time"
)

// CompletionStatus is the terminal outcome of one stage execution for one
// entity.
type CompletionStatus string

const (
	CompletionCompleted    CompletionStatus = "completed"
	CompletionFailed       CompletionStatus = "failed"
	CompletionSkipped      CompletionStatus = "skipped_by_gate"
	CompletionDisqualified CompletionStatus = "disqualified"
)

// ErrorCategory classifies a failed completion for retry routing.
type ErrorCategory string

const (
	ErrorCategoryTransient ErrorCategory = "transient"
	ErrorCategoryPermanent ErrorCategory = "permanent"
)

// Completion is one (entity, stage) execution record. Completions are the
// audit trail: they are superseded by re-enrichment or review resolutions,
// never deleted.
type Completion struct {
	ID            string           `json:"id"`
	EntityID      string           `json:"entity_id"`
	StageCode     string           `json:"stage_code"`
	RunID         string           `json:"run_id,omitempty"`
	Status        CompletionStatus `json:"status"`
	Passed        *bool            `json:"passed,omitempty"` // gate verdict
	Cost          float64          `json:"cost"`
	Boosted       bool             `json:"boosted,omitempty"`
	Error         string           `json:"error,omitempty"`
	ErrorCategory ErrorCategory    `json:"error_category,omitempty"`
	Flags         []string         `json:"flags,omitempty"` // quality-check findings
	Resolved      bool             `json:"resolved,omitempty"`
	Superseded    bool             `json:"superseded,omitempty"`
	Result        json.RawMessage  `json:"result,omitempty"`
	CompletedAt   time.Time        `json:"completed_at"`
}

// GatePassed reports whether this completion is a passing gate verdict.
func (c Completion) GatePassed() bool {
	return c.Status == CompletionCompleted && c.Passed != nil && *c.Passed
}

// Satisfies reports whether this completion satisfies a hard dependency on
// its stage. Gate stages require a passing verdict, not mere completion.
func (c Completion) Satisfies(gate bool) bool {
	if c.Superseded {
		return false
	}
	if gate {
		return c.GatePassed()
	}
	return c.Status == CompletionCompleted
}

// ReviewDecision is an operator resolution for a flagged or failed entity.
type ReviewDecision string

const (
	DecisionApprove    ReviewDecision = "approve"
	DecisionRetry      ReviewDecision = "retry"
	DecisionDisqualify ReviewDecision = "disqualify"
)

// Valid reports whether d is one of the accepted decisions.
func (d ReviewDecision) Valid() bool {
	switch d {
	case DecisionApprove, DecisionRetry, DecisionDisqualify:
		return true
	}
	return false
}

// Resolution is the append-only audit record of a review decision.
type Resolution struct {
	ID           string         `json:"id"`
	EntityID     string         `json:"entity_id"`
	StageCode    string         `json:"stage_code"`
	CompletionID string         `json:"completion_id"`
	Decision     ReviewDecision `json:"decision"`
	DecidedBy    string         `json:"decided_by,omitempty"`
	DecidedAt    time.Time      `json:"decided_at"`
}

// ReviewItem is one entity awaiting corrective action for a stage.
type ReviewItem struct {
	EntityID string           `json:"entity_id"`
	Name     string           `json:"name"`
	Status   CompletionStatus `json:"status"`
	Flags    []string         `json:"flags,omitempty"`
	Error    string           `json:"error,omitempty"`
	Cost     float64          `json:"cost"`
}
