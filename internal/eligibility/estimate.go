package eligibility

import (
	"context"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/stage"
)

// StageEstimate is the pre-flight projection for one stage.
type StageEstimate struct {
	StageCode     string  `json:"stage_code"`
	Gate          bool    `json:"gate,omitempty"`
	EligibleCount int     `json:"eligible_count"`
	CostPerItem   float64 `json:"cost_per_item"`
	EstimatedCost float64 `json:"estimated_cost"`
	// UpstreamPotential reports how many entities could become eligible
	// once an unpassed ancestor gate runs, when the direct count is zero.
	UpstreamPotential int `json:"upstream_potential,omitempty"`
}

// Estimate is the full pre-flight projection for a run request.
type Estimate struct {
	Stages    map[string]StageEstimate `json:"stages"`
	TotalCost float64                  `json:"total_estimated_cost"`
}

// Estimate projects eligible counts and cost for every enabled stage
// against a single consistent read of the ledger. Calling it twice with no
// state change in between returns identical counts.
func (ev *Evaluator) Estimate(ctx context.Context, req model.RunRequest) (*Estimate, error) {
	snap, err := ev.load(ctx, req.Scope, req.EnabledStages)
	if err != nil {
		return nil, err
	}

	out := &Estimate{Stages: make(map[string]StageEstimate, len(req.EnabledStages))}
	for _, code := range req.EnabledStages {
		def, ok := ev.registry.Get(code)
		if !ok {
			continue
		}
		re := req.ReEnrich[code]
		eligible := ev.eligibleFromSnapshot(def, snap, re)

		se := StageEstimate{
			StageCode:     code,
			Gate:          def.Gate,
			EligibleCount: len(eligible),
			CostPerItem:   ev.costs.PerItem(code, req.Boost[code]),
		}
		se.EstimatedCost = ev.costs.Projected(code, req.Boost[code], se.EligibleCount)

		if se.EligibleCount == 0 && !def.Gate {
			se.UpstreamPotential = ev.upstreamPotential(def, snap, nil)
		}

		out.Stages[code] = se
		if !def.Gate {
			out.TotalCost += se.EstimatedCost
		}
	}
	return out, nil
}

// upstreamPotential walks the stage's hard deps upward and reports the
// eligible count of the nearest ancestor with work queued. For a stage
// behind an unrun gate that is the gate's own eligible count; when the
// gate itself has nothing queued yet the walk continues into the gate's
// deps, so a fully virgin scope still reports the first stage's count.
// The visited set bounds the walk on defensive cyclic input.
func (ev *Evaluator) upstreamPotential(def stage.Definition, snap *snapshot, visited map[string]struct{}) int {
	if visited == nil {
		visited = make(map[string]struct{})
	}
	if _, seen := visited[def.Code]; seen {
		return 0
	}
	visited[def.Code] = struct{}{}

	for _, depCode := range def.HardDeps {
		dep, ok := ev.registry.Get(depCode)
		if !ok {
			continue
		}
		if n := len(ev.eligibleFromSnapshot(dep, snap, model.ReEnrichOption{})); n > 0 {
			return n
		}
		if n := ev.upstreamPotential(dep, snap, visited); n > 0 {
			return n
		}
	}
	return 0
}
