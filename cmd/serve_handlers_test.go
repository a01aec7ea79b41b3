package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrich-cli/internal/cost"
	"github.com/sells-group/enrich-cli/internal/eligibility"
	"github.com/sells-group/enrich-cli/internal/enricher"
	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/scheduler"
	"github.com/sells-group/enrich-cli/internal/stage"
	"github.com/sells-group/enrich-cli/internal/store"
)

func newTestEnv(t *testing.T) *env {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	registry, err := stage.Default()
	require.NoError(t, err)

	costs := cost.NewCalculator(registry, nil)
	eval := eligibility.New(st, registry, costs)
	return &env{
		Store:     st,
		Registry:  registry,
		Costs:     costs,
		Eval:      eval,
		Scheduler: scheduler.New(st, registry, eval, &enricher.Stub{}, costs, scheduler.Config{Workers: 2}),
	}
}

func seedTestEntities(t *testing.T, e *env, tag string, n int) {
	t.Helper()
	entities := make([]model.Entity, n)
	for i := range entities {
		entities[i] = model.Entity{
			ID:        uuid.New().String(),
			Type:      model.EntityCompany,
			Name:      fmt.Sprintf("Company %03d", i),
			Tag:       tag,
			CreatedAt: time.Now().UTC(),
		}
	}
	require.NoError(t, e.Store.UpsertEntities(context.Background(), entities))
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterHealth(t *testing.T) {
	r := newRouter(newTestEnv(t))
	rec := doJSON(t, r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRouterEstimate(t *testing.T) {
	e := newTestEnv(t)
	seedTestEntities(t, e, "q3", 3)
	r := newRouter(e)

	rec := doJSON(t, r, http.MethodPost, "/estimate", `{
		"scope": {"tag": "q3"},
		"enabled_stages": ["company_l1"]
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var est eligibility.Estimate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &est))
	assert.Equal(t, 3, est.Stages["company_l1"].EligibleCount)
	assert.InDelta(t, 0.06, est.TotalCost, 1e-9)
}

func TestRouterEstimateBadBody(t *testing.T) {
	r := newRouter(newTestEnv(t))
	rec := doJSON(t, r, http.MethodPost, "/estimate", `{nope`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouterStartRun(t *testing.T) {
	e := newTestEnv(t)
	seedTestEntities(t, e, "q3", 2)
	r := newRouter(e)

	rec := doJSON(t, r, http.MethodPost, "/runs", `{
		"scope": {"tag": "q3"},
		"enabled_stages": ["company_l1"]
	}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	runID := accepted["run_id"]
	require.NotEmpty(t, runID)
	e.Scheduler.Wait(runID)

	rec = doJSON(t, r, http.MethodGet, "/runs/"+runID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var run model.PipelineRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, model.RunStatusCompleted, run.Status)

	rec = doJSON(t, r, http.MethodGet, "/status?tag=q3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap model.StatusSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.NotNil(t, snap.Pipeline)
	assert.Equal(t, runID, snap.Pipeline.ID)
	assert.Equal(t, 2, snap.Stages["company_l1"].Done)
}

func TestRouterStartRunConflictsWithActiveRun(t *testing.T) {
	e := newTestEnv(t)
	seedTestEntities(t, e, "q3", 2)
	r := newRouter(e)

	require.NoError(t, e.Store.CreateRun(context.Background(), model.PipelineRun{
		ID:            uuid.New().String(),
		Scope:         model.Scope{Tag: "q3"},
		EnabledStages: []string{"company_l1"},
		Status:        model.RunStatusRunning,
		StartedAt:     time.Now().UTC(),
	}))

	rec := doJSON(t, r, http.MethodPost, "/runs", `{
		"scope": {"tag": "q3"},
		"enabled_stages": ["company_l1"]
	}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRouterStartRunRejectsInvalidRequest(t *testing.T) {
	e := newTestEnv(t)
	seedTestEntities(t, e, "q3", 2)
	r := newRouter(e)

	rec := doJSON(t, r, http.MethodPost, "/runs", `{
		"scope": {"tag": "q3"},
		"enabled_stages": ["company_l9"]
	}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown stage")
}

func TestRouterRunsPagination(t *testing.T) {
	e := newTestEnv(t)
	r := newRouter(e)
	ctx := context.Background()

	// Three settled runs under distinct tags, newest first in listings.
	var runIDs []string
	for i := 0; i < 3; i++ {
		run := model.PipelineRun{
			ID:            uuid.New().String(),
			Scope:         model.Scope{Tag: fmt.Sprintf("page-%d", i)},
			EnabledStages: []string{"company_l1"},
			Status:        model.RunStatusRunning,
			StartedAt:     time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, e.Store.CreateRun(ctx, run))
		require.NoError(t, e.Store.UpdateRunStatus(ctx, run.ID, model.RunStatusCompleted, ""))
		runIDs = append(runIDs, run.ID)
	}

	rec := doJSON(t, r, http.MethodGet, "/runs?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page1 []model.PipelineRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page1))
	require.Len(t, page1, 2)
	assert.Equal(t, runIDs[2], page1[0].ID)

	rec = doJSON(t, r, http.MethodGet, "/runs?limit=2&page=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page2 []model.PipelineRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page2))
	require.Len(t, page2, 1)
	assert.Equal(t, runIDs[0], page2[0].ID)

	// Garbage paging parameters fall back to the first page.
	rec = doJSON(t, r, http.MethodGet, "/runs?limit=2&page=zero", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page1))
	assert.Len(t, page1, 2)
}

func TestRouterRunEntitiesPagination(t *testing.T) {
	e := newTestEnv(t)
	seedTestEntities(t, e, "q3", 3)
	r := newRouter(e)
	ctx := context.Background()

	run := model.PipelineRun{
		ID:            uuid.New().String(),
		Scope:         model.Scope{Tag: "q3"},
		EnabledStages: []string{"company_l1"},
		Status:        model.RunStatusCompleted,
		StartedAt:     time.Now().UTC(),
	}
	require.NoError(t, e.Store.CreateRun(ctx, run))

	entities, err := e.Store.ListEntities(ctx, "q3")
	require.NoError(t, err)
	for i, ent := range entities {
		require.NoError(t, e.Store.AppendCompletion(ctx, model.Completion{
			ID:          uuid.New().String(),
			EntityID:    ent.ID,
			StageCode:   "company_l1",
			RunID:       run.ID,
			Status:      model.CompletionCompleted,
			Cost:        0.02,
			CompletedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}))
	}

	rec := doJSON(t, r, http.MethodGet, "/runs/"+run.ID+"/entities?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page1 []model.EntityOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page1))
	require.Len(t, page1, 2)

	rec = doJSON(t, r, http.MethodGet, "/runs/"+run.ID+"/entities?limit=2&page=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page2 []model.EntityOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page2))
	require.Len(t, page2, 1)
	assert.NotContains(t, []string{page1[0].EntityID, page1[1].EntityID}, page2[0].EntityID)
}

func TestRouterStatusRequiresTag(t *testing.T) {
	r := newRouter(newTestEnv(t))
	rec := doJSON(t, r, http.MethodGet, "/status", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouterRunNotFound(t *testing.T) {
	r := newRouter(newTestEnv(t))

	rec := doJSON(t, r, http.MethodGet, "/runs/no-such-run", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/runs/no-such-run/stop", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouterReview(t *testing.T) {
	e := newTestEnv(t)
	seedTestEntities(t, e, "q3", 1)
	r := newRouter(e)

	rec := doJSON(t, r, http.MethodGet, "/review", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/review?tag=q3&stage=company_l9", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/review?tag=q3&stage=company_l2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/review/resolve", `{
		"entity_id": "ghost",
		"stage_code": "company_l2",
		"decision": "approve"
	}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
