package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/model"
)

// ErrActiveRun is returned by CreateRun when a non-terminal run already
// holds the scope's run slot.
var ErrActiveRun = eris.New("store: a run is already active for this scope")

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing pipeline runs.
type RunFilter struct {
	Tag    string          `json:"tag,omitempty"`
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// OutcomeFilter specifies criteria for a run's per-entity drill-down.
type OutcomeFilter struct {
	StageCode string                 `json:"stage_code,omitempty"`
	Status    model.CompletionStatus `json:"status,omitempty"`
	Limit     int                    `json:"limit,omitempty"`
	Offset    int                    `json:"offset,omitempty"`
}

// Store defines the persistence interface for the orchestration engine.
// Completions are append-only: a write for an (entity, stage) key
// supersedes the prior active completion but never deletes it.
type Store interface {
	// Entities
	UpsertEntities(ctx context.Context, entities []model.Entity) error
	GetEntity(ctx context.Context, id string) (*model.Entity, error)
	ListEntities(ctx context.Context, tag string) ([]model.Entity, error)

	// Completions
	AppendCompletion(ctx context.Context, c model.Completion) error
	ActiveCompletions(ctx context.Context, stageCode string) (map[string]model.Completion, error)
	SupersedeCompletion(ctx context.Context, completionID string) error
	MarkResolved(ctx context.Context, completionID string) error
	RunOutcomes(ctx context.Context, runID string, filter OutcomeFilter) ([]model.EntityOutcome, error)

	// Runs
	CreateRun(ctx context.Context, run model.PipelineRun) error
	GetRun(ctx context.Context, runID string) (*model.PipelineRun, error)
	ActiveRun(ctx context.Context, scopeKey string) (*model.PipelineRun, error)
	LatestRun(ctx context.Context, scopeKey string) (*model.PipelineRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, reason string) error
	UpdateRunCost(ctx context.Context, runID string, totalCost float64) error
	MarkInterruptedRuns(ctx context.Context) (int, error)

	// Stage progress
	UpsertStageRun(ctx context.Context, sr model.StageRun) error
	StageRuns(ctx context.Context, runID string) (map[string]model.StageRun, error)

	// Review audit trail
	AppendResolution(ctx context.Context, r model.Resolution) error
	ListResolutions(ctx context.Context, entityID, stageCode string) ([]model.Resolution, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
