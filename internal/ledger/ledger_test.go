package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func createRun(t *testing.T, st store.Store, tag string, status model.RunStatus) model.PipelineRun {
	t.Helper()
	run := model.PipelineRun{
		ID:            uuid.New().String(),
		Scope:         model.Scope{Tag: tag},
		EnabledStages: []string{"company_l1"},
		Status:        model.RunStatusConfiguring,
		StartedAt:     time.Now().UTC(),
	}
	require.NoError(t, st.CreateRun(context.Background(), run))
	if status != model.RunStatusConfiguring {
		require.NoError(t, st.UpdateRunStatus(context.Background(), run.ID, status, ""))
	}
	run.Status = status
	return run
}

func completion(runID, stageCode string, status model.CompletionStatus, cost float64) model.Completion {
	c := model.Completion{
		ID:          uuid.New().String(),
		EntityID:    uuid.New().String(),
		StageCode:   stageCode,
		RunID:       runID,
		Status:      status,
		Cost:        cost,
		CompletedAt: time.Now().UTC(),
	}
	if status == model.CompletionFailed {
		c.Error = "provider error"
	}
	return c
}

func TestTracker_RecordFoldsCountedCompletions(t *testing.T) {
	st := newTestStore(t)
	run := createRun(t, st, "ledger", model.RunStatusRunning)
	ctx := context.Background()

	tr := NewTracker(st, run.ID)
	require.NoError(t, tr.BeginStage(ctx, "company_l1", 3))

	require.NoError(t, tr.Record(ctx, completion(run.ID, "company_l1", model.CompletionCompleted, 0.02), "Alpha", true))
	require.NoError(t, tr.Record(ctx, completion(run.ID, "company_l1", model.CompletionCompleted, 0.02), "Beta", true))
	require.NoError(t, tr.Record(ctx, completion(run.ID, "company_l1", model.CompletionFailed, 0.02), "Gamma", true))

	assert.InDelta(t, 0.06, tr.TotalCost(), 1e-9)

	stages, err := st.StageRuns(ctx, run.ID)
	require.NoError(t, err)
	sr := stages["company_l1"]
	assert.Equal(t, 3, sr.EligibleTotal)
	assert.Equal(t, 3, sr.Done)
	assert.Equal(t, 1, sr.Failed)
	assert.InDelta(t, 0.06, sr.Cost, 1e-9)
	require.Len(t, sr.FailedItems, 1)
	assert.Equal(t, "Gamma", sr.FailedItems[0].Name)
	assert.Equal(t, "provider error", sr.FailedItems[0].Error)

	// Every counted write also flushes the run-level total.
	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.06, got.TotalCost, 1e-9)
}

func TestTracker_UncountedRecordsStayOutOfAggregates(t *testing.T) {
	st := newTestStore(t)
	run := createRun(t, st, "ledger", model.RunStatusRunning)
	ctx := context.Background()

	tr := NewTracker(st, run.ID)
	require.NoError(t, tr.BeginStage(ctx, "company_l2", 5))

	skip := completion(run.ID, "company_l2", model.CompletionSkipped, 0)
	require.NoError(t, tr.Record(ctx, skip, "Alpha", false))

	stages, err := st.StageRuns(ctx, run.ID)
	require.NoError(t, err)
	assert.Zero(t, stages["company_l2"].Done)
	assert.Zero(t, tr.TotalCost())

	// The skip still lands in the audit trail.
	comps, err := st.ActiveCompletions(ctx, "company_l2")
	require.NoError(t, err)
	assert.Equal(t, model.CompletionSkipped, comps[skip.EntityID].Status)
}

func TestTracker_FailedItemListIsCapped(t *testing.T) {
	st := newTestStore(t)
	run := createRun(t, st, "ledger", model.RunStatusRunning)
	ctx := context.Background()

	tr := NewTracker(st, run.ID)
	require.NoError(t, tr.BeginStage(ctx, "company_l1", 40))
	for i := 0; i < 40; i++ {
		c := completion(run.ID, "company_l1", model.CompletionFailed, 0.02)
		require.NoError(t, tr.Record(ctx, c, fmt.Sprintf("Company %03d", i), true))
	}

	stages, err := st.StageRuns(ctx, run.ID)
	require.NoError(t, err)
	sr := stages["company_l1"]
	assert.Equal(t, 40, sr.Failed)
	assert.Len(t, sr.FailedItems, maxFailedItems)
}

func TestSnapshot_PrefersActiveRun(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	createRun(t, st, "snap", model.RunStatusCompleted)
	active := createRun(t, st, "snap", model.RunStatusRunning)

	snap, err := Snapshot(ctx, st, model.Scope{Tag: "snap"})
	require.NoError(t, err)
	require.NotNil(t, snap.Pipeline)
	assert.Equal(t, active.ID, snap.Pipeline.ID)
	assert.Equal(t, model.RunStatusRunning, snap.Pipeline.Status)
}

func TestSnapshot_FallsBackToLatestTerminalRun(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	createRun(t, st, "snap", model.RunStatusCompleted)
	time.Sleep(5 * time.Millisecond)
	latest := createRun(t, st, "snap", model.RunStatusFailed)

	snap, err := Snapshot(ctx, st, model.Scope{Tag: "snap"})
	require.NoError(t, err)
	require.NotNil(t, snap.Pipeline)
	assert.Equal(t, latest.ID, snap.Pipeline.ID)
}

func TestSnapshot_NoRunsIsBenign(t *testing.T) {
	st := newTestStore(t)

	snap, err := Snapshot(context.Background(), st, model.Scope{Tag: "nothing-yet"})
	require.NoError(t, err)
	assert.Nil(t, snap.Pipeline)
	assert.Empty(t, snap.Stages)
}

func TestSnapshot_ClampsStageCounters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	run := createRun(t, st, "snap", model.RunStatusRunning)

	// A row whose counters drifted past the eligible total must come back
	// sane from the snapshot.
	require.NoError(t, st.UpsertStageRun(ctx, model.StageRun{
		RunID:         run.ID,
		StageCode:     "company_l1",
		EligibleTotal: 5,
		Done:          9,
		Failed:        12,
		Cost:          0.1,
	}))

	snap, err := Snapshot(ctx, st, model.Scope{Tag: "snap"})
	require.NoError(t, err)
	sr := snap.Stages["company_l1"]
	assert.Equal(t, 5, sr.Done)
	assert.Equal(t, 5, sr.Failed)
}

func TestClamp(t *testing.T) {
	sr := clamp(model.StageRun{EligibleTotal: -2, Done: -1, Failed: -3, Cost: -0.5})
	assert.Zero(t, sr.EligibleTotal)
	assert.Zero(t, sr.Done)
	assert.Zero(t, sr.Failed)
	assert.Zero(t, sr.Cost)

	sr = clamp(model.StageRun{EligibleTotal: 10, Done: 4, Failed: 6})
	assert.Equal(t, 4, sr.Failed)
}
