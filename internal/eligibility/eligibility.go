// Package eligibility computes, per stage, which entities qualify to run
// right now, and projects the cost of doing so.
package eligibility

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/language"

	"github.com/sells-group/enrich-cli/internal/cost"
	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/stage"
	"github.com/sells-group/enrich-cli/internal/store"
)

// Evaluator answers eligibility and estimation questions against the
// completion ledger.
type Evaluator struct {
	store    store.Store
	registry *stage.Registry
	costs    *cost.Calculator
}

// New creates an Evaluator.
func New(st store.Store, registry *stage.Registry, costs *cost.Calculator) *Evaluator {
	return &Evaluator{store: st, registry: registry, costs: costs}
}

// snapshot caches one evaluation's store reads so every stage in an
// estimate sees the same ledger state.
type snapshot struct {
	entities    []model.Entity
	completions map[string]map[string]model.Completion // stage -> entity id -> active completion
}

// load pulls the scope's entities (filters applied, sample cap last) and
// the active completions of every stage the evaluation can touch.
func (ev *Evaluator) load(ctx context.Context, scope model.Scope, stages []string) (*snapshot, error) {
	all, err := ev.store.ListEntities(ctx, scope.Tag)
	if err != nil {
		return nil, eris.Wrap(err, "eligibility: list entities")
	}

	snap := &snapshot{completions: make(map[string]map[string]model.Completion)}
	for _, e := range all {
		if scope.Matches(e) {
			snap.entities = append(snap.entities, e)
		}
	}
	if scope.SampleSize > 0 && len(snap.entities) > scope.SampleSize {
		snap.entities = snap.entities[:scope.SampleSize]
	}

	needed := make(map[string]struct{})
	for _, code := range stages {
		needed[code] = struct{}{}
		for anc := range ev.registry.Ancestors(code) {
			needed[anc] = struct{}{}
		}
	}
	for code := range needed {
		comps, err := ev.store.ActiveCompletions(ctx, code)
		if err != nil {
			return nil, eris.Wrapf(err, "eligibility: load completions for %s", code)
		}
		snap.completions[code] = comps
	}
	return snap, nil
}

// EligibleEntities recomputes the eligible set for one stage against the
// current ledger. The scheduler calls this when it reaches a stage, so
// completions written by earlier stages of the same run are visible.
func (ev *Evaluator) EligibleEntities(ctx context.Context, stageCode string, scope model.Scope, re model.ReEnrichOption) ([]model.Entity, error) {
	def, ok := ev.registry.Get(stageCode)
	if !ok {
		return nil, eris.Errorf("eligibility: unknown stage %q", stageCode)
	}
	snap, err := ev.load(ctx, scope, []string{stageCode})
	if err != nil {
		return nil, err
	}
	return ev.eligibleFromSnapshot(def, snap, re), nil
}

func (ev *Evaluator) eligibleFromSnapshot(def stage.Definition, snap *snapshot, re model.ReEnrichOption) []model.Entity {
	var out []model.Entity
	for _, e := range snap.entities {
		if ev.eligible(def, e, snap, re) {
			out = append(out, e)
		}
	}
	return out
}

// eligible applies the full rule set for one (stage, entity) pair. Each
// entity's verdict depends only on its own (and its parent company's)
// completions, so the result is monotonic in upstream progress.
func (ev *Evaluator) eligible(def stage.Definition, e model.Entity, snap *snapshot, re model.ReEnrichOption) bool {
	if e.Type != def.EntityType {
		return false
	}
	if !satisfiesCountryGate(e, def.CountryGate) {
		return false
	}
	if !ev.freshnessAllows(def, e, snap, re) {
		return false
	}
	for _, depCode := range def.HardDeps {
		if !ev.depSatisfied(depCode, e, snap) {
			return false
		}
	}
	return true
}

// freshnessAllows checks the entity's own active completion for the stage.
func (ev *Evaluator) freshnessAllows(def stage.Definition, e model.Entity, snap *snapshot, re model.ReEnrichOption) bool {
	c, ok := snap.completions[def.Code][e.ID]
	if !ok {
		return true
	}
	switch c.Status {
	case model.CompletionDisqualified:
		return false
	case model.CompletionFailed:
		// Failed work re-enters the pool only via re-enrichment or a
		// review "retry" resolution (which supersedes the completion).
		return re.Enabled
	case model.CompletionSkipped:
		// A gate skip is not enrichment output; it never blocks.
		return true
	default:
		// Completed: fresh unless re-enrichment is on with an explicit
		// horizon and the completion predates it.
		if !re.Active() {
			return false
		}
		return c.CompletedAt.Before(*re.Horizon)
	}
}

// depSatisfied checks one hard dependency. A contact's dependency on a
// company stage resolves against the parent company's completions.
func (ev *Evaluator) depSatisfied(depCode string, e model.Entity, snap *snapshot) bool {
	dep, ok := ev.registry.Get(depCode)
	if !ok {
		return false
	}
	keyID := e.ID
	if dep.EntityType == model.EntityCompany && e.Type == model.EntityContact {
		if e.CompanyID == "" {
			return false
		}
		keyID = e.CompanyID
	} else if dep.EntityType != e.Type {
		return false
	}
	c, ok := snap.completions[depCode][keyID]
	if !ok {
		return false
	}
	return c.Satisfies(dep.Gate)
}

// satisfiesCountryGate checks an entity's jurisdiction (or its domain
// suffix as a fallback signal) against the stage's allow-list.
func satisfiesCountryGate(e model.Entity, gate []string) bool {
	if len(gate) == 0 {
		return true
	}
	region := entityRegion(e)
	if region == "" {
		return false
	}
	for _, allowed := range gate {
		if strings.EqualFold(allowed, region) {
			return true
		}
	}
	return false
}

// entityRegion normalizes the entity's jurisdiction signal to a lowercase
// ISO region code. Non-regional domain suffixes like "com" do not resolve.
func entityRegion(e model.Entity) string {
	if e.Jurisdiction != "" {
		if r, err := language.ParseRegion(e.Jurisdiction); err == nil {
			return strings.ToLower(r.String())
		}
	}
	if sfx := e.DomainSuffix(); sfx != "" {
		if r, err := language.ParseRegion(sfx); err == nil {
			return strings.ToLower(r.String())
		}
	}
	return ""
}
