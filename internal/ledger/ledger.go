// Package ledger maintains the per-run progress and cost aggregates
// derived from completion writes, and serves the polling snapshot.
package ledger

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/store"
)

// maxFailedItems caps the per-stage failed item list kept for display.
const maxFailedItems = 25

// Tracker accumulates one run's aggregates and flushes them to the store
// on every completion write. Safe for concurrent workers.
type Tracker struct {
	store store.Store
	runID string

	mu        sync.Mutex
	stages    map[string]*model.StageRun
	totalCost float64
}

// NewTracker creates a Tracker for a run.
func NewTracker(st store.Store, runID string) *Tracker {
	return &Tracker{
		store:  st,
		runID:  runID,
		stages: make(map[string]*model.StageRun),
	}
}

// TotalCost returns the cost accumulated so far.
func (t *Tracker) TotalCost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalCost
}

// BeginStage registers a stage with its eligible total and persists the
// initial row so pollers see the stage as soon as it starts.
func (t *Tracker) BeginStage(ctx context.Context, stageCode string, eligibleTotal int) error {
	t.mu.Lock()
	sr := &model.StageRun{
		RunID:         t.runID,
		StageCode:     stageCode,
		EligibleTotal: eligibleTotal,
	}
	t.stages[stageCode] = sr
	snapshot := *sr
	t.mu.Unlock()

	return eris.Wrap(t.store.UpsertStageRun(ctx, snapshot), "ledger: begin stage")
}

// SetCurrent updates the live "working on" item for a stage.
func (t *Tracker) SetCurrent(ctx context.Context, stageCode, name, status string) {
	t.mu.Lock()
	sr, ok := t.stages[stageCode]
	if !ok {
		t.mu.Unlock()
		return
	}
	sr.CurrentItem = &model.ItemStatus{Name: name, Status: status}
	snapshot := *sr
	t.mu.Unlock()

	// Best effort: a lost current-item update only affects live display.
	_ = t.store.UpsertStageRun(ctx, snapshot)
}

// Record writes a completion to the ledger and, when counted, folds it
// into the stage's progress aggregates. Uncounted records (gate skips for
// entities outside the eligible set) still land in the audit trail.
func (t *Tracker) Record(ctx context.Context, c model.Completion, entityName string, counted bool) error {
	if err := t.store.AppendCompletion(ctx, c); err != nil {
		return eris.Wrap(err, "ledger: append completion")
	}
	if !counted {
		return nil
	}

	t.mu.Lock()
	sr, ok := t.stages[c.StageCode]
	if !ok {
		sr = &model.StageRun{RunID: t.runID, StageCode: c.StageCode}
		t.stages[c.StageCode] = sr
	}
	switch c.Status {
	case model.CompletionFailed:
		sr.Done++
		sr.Failed++
		if len(sr.FailedItems) < maxFailedItems {
			sr.FailedItems = append(sr.FailedItems, model.ItemError{Name: entityName, Error: c.Error})
		}
	default:
		sr.Done++
	}
	sr.Cost += c.Cost
	t.totalCost += c.Cost
	snapshot := *sr
	total := t.totalCost
	t.mu.Unlock()

	if err := t.store.UpsertStageRun(ctx, snapshot); err != nil {
		return eris.Wrap(err, "ledger: flush stage run")
	}
	return eris.Wrap(t.store.UpdateRunCost(ctx, t.runID, total), "ledger: flush run cost")
}

// Snapshot returns the polling view for a scope: the active run if one
// exists, otherwise the most recent run, with its per-stage aggregates.
// No run at all yields an empty snapshot, not an error.
func Snapshot(ctx context.Context, st store.Store, scope model.Scope) (*model.StatusSnapshot, error) {
	run, err := st.ActiveRun(ctx, scope.Key())
	if err != nil {
		return nil, eris.Wrap(err, "ledger: active run")
	}
	if run == nil {
		run, err = st.LatestRun(ctx, scope.Key())
		if err != nil {
			return nil, eris.Wrap(err, "ledger: latest run")
		}
	}
	if run == nil {
		return &model.StatusSnapshot{}, nil
	}

	stages, err := st.StageRuns(ctx, run.ID)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: stage runs")
	}
	for code, sr := range stages {
		stages[code] = clamp(sr)
	}
	return &model.StatusSnapshot{Pipeline: run, Stages: stages}, nil
}

// clamp enforces the snapshot sanity guarantees: counts are never
// negative and done never exceeds the eligible total.
func clamp(sr model.StageRun) model.StageRun {
	if sr.Done < 0 {
		sr.Done = 0
	}
	if sr.Failed < 0 {
		sr.Failed = 0
	}
	if sr.EligibleTotal < 0 {
		sr.EligibleTotal = 0
	}
	if sr.Done > sr.EligibleTotal {
		sr.Done = sr.EligibleTotal
	}
	if sr.Failed > sr.Done {
		sr.Failed = sr.Done
	}
	if sr.Cost < 0 {
		sr.Cost = 0
	}
	return sr
}
