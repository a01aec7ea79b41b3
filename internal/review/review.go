// Package review implements the corrective-action workflow over failed
// and quality-flagged completions.
package review

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/stage"
	"github.com/sells-group/enrich-cli/internal/store"
)

// Workflow lists entities needing attention and applies operator
// decisions against the completion ledger.
type Workflow struct {
	store    store.Store
	registry *stage.Registry
}

// New creates a review Workflow.
func New(st store.Store, registry *stage.Registry) *Workflow {
	return &Workflow{store: st, registry: registry}
}

// ResolveRequest identifies one pending item and the decision for it.
type ResolveRequest struct {
	EntityID  string               `json:"entity_id"`
	StageCode string               `json:"stage_code"`
	Decision  model.ReviewDecision `json:"decision"`
	DecidedBy string               `json:"decided_by,omitempty"`
}

// List returns the stage's pending review items within the scope: failed
// executions and flagged or failing gate verdicts, excluding anything
// already resolved or superseded. Each item carries the cost already
// spent on it.
func (w *Workflow) List(ctx context.Context, scope model.Scope, stageCode string) ([]model.ReviewItem, error) {
	if _, ok := w.registry.Get(stageCode); !ok {
		return nil, eris.Errorf("review: unknown stage %q", stageCode)
	}

	entities, err := w.store.ListEntities(ctx, scope.Tag)
	if err != nil {
		return nil, eris.Wrap(err, "review: list entities")
	}
	inScope := make(map[string]model.Entity, len(entities))
	for _, e := range entities {
		if scope.Matches(e) {
			inScope[e.ID] = e
		}
	}

	comps, err := w.store.ActiveCompletions(ctx, stageCode)
	if err != nil {
		return nil, eris.Wrap(err, "review: load completions")
	}

	var items []model.ReviewItem
	for entityID, c := range comps {
		ent, ok := inScope[entityID]
		if !ok {
			continue
		}
		if c.Resolved || !needsReview(c) {
			continue
		}
		items = append(items, model.ReviewItem{
			EntityID: entityID,
			Name:     ent.Name,
			Status:   c.Status,
			Flags:    c.Flags,
			Error:    c.Error,
			Cost:     c.Cost,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

// needsReview reports whether an active completion belongs in the queue:
// a failed execution, a failing gate verdict, or any quality flags.
func needsReview(c model.Completion) bool {
	if c.Status == model.CompletionFailed {
		return true
	}
	if c.Passed != nil && !*c.Passed {
		return true
	}
	return len(c.Flags) > 0
}

// Resolve applies one decision:
//
//	approve     keep the record as-is and clear it from the queue
//	retry       supersede the record so the entity is eligible again
//	disqualify  write a disqualification that permanently excludes the
//	            entity from this stage
//
// Every decision lands in the resolution audit trail.
func (w *Workflow) Resolve(ctx context.Context, req ResolveRequest) error {
	if !req.Decision.Valid() {
		return eris.Errorf("review: invalid decision %q", req.Decision)
	}
	if _, ok := w.registry.Get(req.StageCode); !ok {
		return eris.Errorf("review: unknown stage %q", req.StageCode)
	}

	ent, err := w.store.GetEntity(ctx, req.EntityID)
	if err != nil {
		return eris.Wrap(err, "review: load entity")
	}

	comps, err := w.store.ActiveCompletions(ctx, req.StageCode)
	if err != nil {
		return eris.Wrap(err, "review: load completions")
	}
	c, ok := comps[req.EntityID]
	if !ok {
		return eris.Wrapf(store.ErrNotFound, "review: no active completion for entity %s on %s", req.EntityID, req.StageCode)
	}
	if c.Resolved || !needsReview(c) {
		return eris.Errorf("review: entity %s on %s has nothing pending", req.EntityID, req.StageCode)
	}

	switch req.Decision {
	case model.DecisionApprove:
		if err := w.store.MarkResolved(ctx, c.ID); err != nil {
			return eris.Wrap(err, "review: approve")
		}
	case model.DecisionRetry:
		if err := w.store.SupersedeCompletion(ctx, c.ID); err != nil {
			return eris.Wrap(err, "review: retry")
		}
	case model.DecisionDisqualify:
		dq := model.Completion{
			ID:          uuid.New().String(),
			EntityID:    req.EntityID,
			StageCode:   req.StageCode,
			Status:      model.CompletionDisqualified,
			Resolved:    true,
			CompletedAt: time.Now().UTC(),
		}
		if err := w.store.AppendCompletion(ctx, dq); err != nil {
			return eris.Wrap(err, "review: disqualify")
		}
	}

	res := model.Resolution{
		ID:           uuid.New().String(),
		EntityID:     req.EntityID,
		StageCode:    req.StageCode,
		CompletionID: c.ID,
		Decision:     req.Decision,
		DecidedBy:    req.DecidedBy,
		DecidedAt:    time.Now().UTC(),
	}
	if err := w.store.AppendResolution(ctx, res); err != nil {
		return eris.Wrap(err, "review: record resolution")
	}

	zap.L().Info("review decision applied",
		zap.String("entity_id", req.EntityID),
		zap.String("entity", ent.Name),
		zap.String("stage", req.StageCode),
		zap.String("decision", string(req.Decision)),
	)
	return nil
}

// History returns the resolution audit trail for one entity and stage in
// decision order.
func (w *Workflow) History(ctx context.Context, entityID, stageCode string) ([]model.Resolution, error) {
	return w.store.ListResolutions(ctx, entityID, stageCode)
}
