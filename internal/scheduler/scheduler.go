// Package scheduler turns validated run requests into per-entity stage
// executions, respecting the dependency graph and recording progress in
// the ledger.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/enrich-cli/internal/cost"
	"github.com/sells-group/enrich-cli/internal/eligibility"
	"github.com/sells-group/enrich-cli/internal/enricher"
	"github.com/sells-group/enrich-cli/internal/ledger"
	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/resilience"
	"github.com/sells-group/enrich-cli/internal/stage"
	"github.com/sells-group/enrich-cli/internal/store"
)

// Config tunes scheduler behavior.
type Config struct {
	// Workers bounds per-stage entity concurrency.
	Workers int
}

// Scheduler owns the lifecycle of pipeline runs. One scheduler serves all
// scopes; run exclusivity is enforced per scope by the store.
type Scheduler struct {
	store    store.Store
	registry *stage.Registry
	eval     *eligibility.Evaluator
	enricher enricher.Enricher
	costs    *cost.Calculator
	gates    map[string]GateRule
	workers  int

	mu     sync.Mutex
	active map[string]*runHandle
}

type runHandle struct {
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func (h *runHandle) stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

func (h *runHandle) stopped() bool {
	select {
	case <-h.stopCh:
		return true
	default:
		return false
	}
}

// New creates a Scheduler.
func New(st store.Store, registry *stage.Registry, eval *eligibility.Evaluator, enr enricher.Enricher, costs *cost.Calculator, cfg Config) *Scheduler {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 5
	}
	return &Scheduler{
		store:    st,
		registry: registry,
		eval:     eval,
		enricher: enr,
		costs:    costs,
		gates:    DefaultGateRules(),
		workers:  workers,
		active:   make(map[string]*runHandle),
	}
}

// WithGateRules overrides the gate rule set; used by tests.
func (s *Scheduler) WithGateRules(rules map[string]GateRule) *Scheduler {
	s.gates = rules
	return s
}

// Start validates the request, claims the scope's run slot, and launches
// execution in the background. Validation failures cost nothing and are
// returned synchronously.
func (s *Scheduler) Start(ctx context.Context, req model.RunRequest) (string, error) {
	if err := s.validate(ctx, req); err != nil {
		return "", err
	}

	run := model.PipelineRun{
		ID:             uuid.New().String(),
		Scope:          req.Scope,
		EnabledStages:  req.EnabledStages,
		SoftDepToggles: req.SoftDepToggles,
		ReEnrich:       req.ReEnrich,
		Boost:          req.Boost,
		Status:         model.RunStatusConfiguring,
		StartedAt:      time.Now().UTC(),
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return "", err
	}

	handle := &runHandle{stopCh: make(chan struct{}), done: make(chan struct{})}
	s.mu.Lock()
	s.active[run.ID] = handle
	s.mu.Unlock()

	// The run outlives the caller's request context.
	runCtx := context.WithoutCancel(ctx)
	go s.execute(runCtx, run, req, handle)

	return run.ID, nil
}

// validate applies the configuration-error taxonomy: unknown stages and
// unsatisfiable dependencies are rejected before any cost is incurred.
func (s *Scheduler) validate(ctx context.Context, req model.RunRequest) error {
	if len(req.EnabledStages) == 0 {
		return eris.New("scheduler: no stages enabled")
	}
	if req.Scope.Tag == "" && len(req.Scope.EntityIDs) == 0 {
		return eris.New("scheduler: scope requires a tag or explicit entity ids")
	}
	for _, code := range req.EnabledStages {
		if _, ok := s.registry.Get(code); !ok {
			return eris.Errorf("scheduler: unknown stage %q", code)
		}
	}
	if _, err := s.registry.TopoOrder(req.EnabledStages); err != nil {
		return err
	}

	// A hard dependency left out of the run is acceptable only if prior
	// runs already produced completions for it; otherwise the dependent
	// stage could never become eligible.
	for _, code := range req.EnabledStages {
		for anc := range s.registry.Ancestors(code) {
			def, _ := s.registry.Get(anc)
			if req.Enabled(anc) || !s.isHardAncestor(code, anc) {
				continue
			}
			comps, err := s.store.ActiveCompletions(ctx, anc)
			if err != nil {
				return eris.Wrap(err, "scheduler: check dependency completions")
			}
			if len(comps) == 0 {
				return eris.Errorf("scheduler: stage %q depends on %q, which is not enabled and has never run", code, def.Code)
			}
		}
	}
	return nil
}

// isHardAncestor reports whether anc is reachable from code via hard deps
// only. Soft deps never block and need no satisfiability check.
func (s *Scheduler) isHardAncestor(code, anc string) bool {
	visited := make(map[string]struct{})
	var walk func(c string) bool
	walk = func(c string) bool {
		if _, seen := visited[c]; seen {
			return false
		}
		visited[c] = struct{}{}
		def, ok := s.registry.Get(c)
		if !ok {
			return false
		}
		for _, dep := range def.HardDeps {
			if dep == anc || walk(dep) {
				return true
			}
		}
		return false
	}
	return walk(code)
}

// Stop requests cooperative cancellation: no new per-entity work starts,
// in-flight executions finish and are recorded. Idempotent once the run
// is terminal.
func (s *Scheduler) Stop(ctx context.Context, runID string) error {
	s.mu.Lock()
	handle, ok := s.active[runID]
	s.mu.Unlock()
	if ok {
		handle.stop()
		return nil
	}

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return nil
	}
	// No live handle but the run is non-terminal: an orphan from a prior
	// process. Settle it directly.
	return s.store.UpdateRunStatus(ctx, runID, model.RunStatusStopped, "stopped with no live scheduler")
}

// Wait blocks until the run's executor goroutine has finished. Returns
// immediately for unknown (already settled) runs.
func (s *Scheduler) Wait(runID string) {
	s.mu.Lock()
	handle, ok := s.active[runID]
	s.mu.Unlock()
	if ok {
		<-handle.done
	}
}

// RecoverInterrupted settles runs left non-terminal by a previous process
// as stopped. Remaining work is simply re-eligible on the next run.
func RecoverInterrupted(ctx context.Context, st store.Store) error {
	n, err := st.MarkInterruptedRuns(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		zap.L().Warn("settled interrupted runs from previous process", zap.Int("count", n))
	}
	return nil
}

func (s *Scheduler) execute(ctx context.Context, run model.PipelineRun, req model.RunRequest, handle *runHandle) {
	defer func() {
		s.mu.Lock()
		delete(s.active, run.ID)
		s.mu.Unlock()
		close(handle.done)
	}()

	log := zap.L().With(zap.String("run_id", run.ID), zap.String("scope", run.Scope.Key()))

	if err := s.store.UpdateRunStatus(ctx, run.ID, model.RunStatusRunning, ""); err != nil {
		log.Error("failed to mark run running", zap.Error(err))
		return
	}
	log.Info("run started", zap.Strings("stages", run.EnabledStages))

	tracker := ledger.NewTracker(s.store, run.ID)
	order, err := s.registry.TopoOrder(run.EnabledStages)
	if err != nil {
		s.finish(ctx, run.ID, model.RunStatusFailed, err.Error(), log)
		return
	}

	anyEligible := false
	for _, code := range order {
		if handle.stopped() {
			break
		}
		// A stop issued from another process lands in the store; pick it
		// up at stage boundaries.
		if s.externallyStopped(ctx, run.ID) {
			handle.stop()
			break
		}
		def, _ := s.registry.Get(code)

		// Eligibility is recomputed when the stage is reached so that
		// completions written by earlier stages of this run count.
		eligible, err := s.eval.EligibleEntities(ctx, code, run.Scope, req.ReEnrich[code])
		if err != nil {
			s.finish(ctx, run.ID, model.RunStatusFailed, err.Error(), log)
			return
		}
		if len(eligible) > 0 {
			anyEligible = true
		}
		if err := tracker.BeginStage(ctx, code, len(eligible)); err != nil {
			log.Error("failed to begin stage", zap.String("stage", code), zap.Error(err))
		}

		if def.Gate {
			s.runGate(ctx, run, req, def, eligible, tracker, handle, log)
		} else {
			s.runStage(ctx, run, req, def, eligible, tracker, handle, log)
		}

		log.Info("stage finished",
			zap.String("stage", code),
			zap.Int("eligible", len(eligible)),
			zap.Float64("run_cost", tracker.TotalCost()),
		)
	}

	switch {
	case handle.stopped():
		s.finish(ctx, run.ID, model.RunStatusStopped, "stop requested", log)
	case !anyEligible && !req.AllowEmpty:
		s.finish(ctx, run.ID, model.RunStatusFailed, "no entities were eligible for any enabled stage", log)
	default:
		s.finish(ctx, run.ID, model.RunStatusCompleted, "", log)
	}
}

// externallyStopped reports whether another process has already marked
// the run stopped.
func (s *Scheduler) externallyStopped(ctx context.Context, runID string) bool {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return false
	}
	return run.Status == model.RunStatusStopped
}

func (s *Scheduler) finish(ctx context.Context, runID string, status model.RunStatus, reason string, log *zap.Logger) {
	if err := s.store.UpdateRunStatus(ctx, runID, status, reason); err != nil {
		log.Error("failed to finalize run", zap.Error(err))
		return
	}
	log.Info("run finished", zap.String("status", string(status)), zap.String("reason", reason))
}

// runGate evaluates the gate's rule per entity at zero cost. Verdicts are
// completions like any other write; a failing verdict additionally leaves
// a skipped-by-gate marker on directly dependent enabled stages so the
// audit trail explains why those entities never ran.
func (s *Scheduler) runGate(ctx context.Context, run model.PipelineRun, req model.RunRequest, def stage.Definition, eligible []model.Entity, tracker *ledger.Tracker, handle *runHandle, log *zap.Logger) {
	rule := s.gates[def.Code]
	deps := s.loadDepCompletions(ctx, def.HardDeps, log)

	dependents := s.skipDependents(req, def.Code)
	depCodes := make([]string, len(dependents))
	for i, d := range dependents {
		depCodes[i] = d.Code
	}
	existing := s.loadDepCompletions(ctx, depCodes, log)

	for _, ent := range eligible {
		if handle.stopped() {
			return
		}

		passed, flags := true, []string(nil)
		if rule != nil {
			passed, flags = rule(GateInput{Entity: ent, Deps: depsFor(deps, ent)})
		}

		verdict := passed
		c := model.Completion{
			ID:          uuid.New().String(),
			EntityID:    ent.ID,
			StageCode:   def.Code,
			RunID:       run.ID,
			Status:      model.CompletionCompleted,
			Passed:      &verdict,
			Flags:       flags,
			CompletedAt: time.Now().UTC(),
		}
		if err := tracker.Record(ctx, c, ent.Name, true); err != nil {
			log.Error("failed to record gate verdict", zap.String("stage", def.Code), zap.String("entity", ent.ID), zap.Error(err))
			continue
		}
		if !passed {
			s.markSkippedDependents(ctx, run, dependents, existing, ent, tracker, log)
		}
	}
}

// skipDependents returns the enabled non-gate stages that directly
// hard-depend on the gate.
func (s *Scheduler) skipDependents(req model.RunRequest, gateCode string) []stage.Definition {
	var out []stage.Definition
	for _, d := range s.registry.All() {
		if !req.Enabled(d.Code) || d.Gate {
			continue
		}
		for _, dep := range d.HardDeps {
			if dep == gateCode {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

// markSkippedDependents records uncounted skipped-by-gate completions on
// the failing entity's dependent stages. A dependent that already holds an
// active completion keeps it: the marker documents work that never
// happened, never retires work already paid for.
func (s *Scheduler) markSkippedDependents(ctx context.Context, run model.PipelineRun, dependents []stage.Definition, existing map[string]map[string]model.Completion, ent model.Entity, tracker *ledger.Tracker, log *zap.Logger) {
	for _, d := range dependents {
		if d.EntityType != ent.Type {
			continue
		}
		if _, ok := existing[d.Code][ent.ID]; ok {
			continue
		}
		c := model.Completion{
			ID:          uuid.New().String(),
			EntityID:    ent.ID,
			StageCode:   d.Code,
			RunID:       run.ID,
			Status:      model.CompletionSkipped,
			CompletedAt: time.Now().UTC(),
		}
		if err := tracker.Record(ctx, c, ent.Name, false); err != nil {
			log.Warn("failed to record gate skip", zap.String("stage", d.Code), zap.String("entity", ent.ID), zap.Error(err))
		}
	}
}

// runStage dispatches the stage's eligible entities over a bounded worker
// pool. Individual failures are recorded and never abort the stage.
func (s *Scheduler) runStage(ctx context.Context, run model.PipelineRun, req model.RunRequest, def stage.Definition, eligible []model.Entity, tracker *ledger.Tracker, handle *runHandle, log *zap.Logger) {
	boosted := req.Boost[def.Code]
	perItem := s.costs.PerItem(def.Code, boosted)

	softContext := req.SoftContext(def.Code, def.SoftDeps)
	var softComps map[string]map[string]model.Completion
	if softContext {
		softComps = s.loadDepCompletions(ctx, def.SoftDeps, log)
	}

	g := new(errgroup.Group)
	g.SetLimit(s.workers)

	for _, ent := range eligible {
		// Cooperative stop: never dispatch new work after the signal;
		// workers already running carry on and are recorded.
		if handle.stopped() {
			break
		}
		g.Go(func() error {
			tracker.SetCurrent(ctx, def.Code, ent.Name, "running")

			task := enricher.Task{Entity: ent, Stage: def, Boosted: boosted}
			if softContext {
				task.Context = softContextFor(softComps, ent, def.SoftDeps)
			}

			res, err := s.enricher.Enrich(ctx, task)
			c := model.Completion{
				ID:          uuid.New().String(),
				EntityID:    ent.ID,
				StageCode:   def.Code,
				RunID:       run.ID,
				Boosted:     boosted,
				Cost:        perItem,
				CompletedAt: time.Now().UTC(),
			}
			if err != nil {
				c.Status = model.CompletionFailed
				c.Error = err.Error()
				c.ErrorCategory = resilience.Classify(err)
				log.Warn("entity execution failed",
					zap.String("stage", def.Code),
					zap.String("entity", ent.Name),
					zap.String("category", string(c.ErrorCategory)),
					zap.Error(err),
				)
			} else {
				c.Status = model.CompletionCompleted
				c.Result = res.Facts
			}

			if recErr := tracker.Record(ctx, c, ent.Name, true); recErr != nil {
				log.Error("failed to record completion",
					zap.String("stage", def.Code),
					zap.String("entity", ent.ID),
					zap.Error(recErr),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// loadDepCompletions fetches the active completion maps for a set of
// stages, keyed by stage code.
func (s *Scheduler) loadDepCompletions(ctx context.Context, codes []string, log *zap.Logger) map[string]map[string]model.Completion {
	out := make(map[string]map[string]model.Completion, len(codes))
	for _, code := range codes {
		comps, err := s.store.ActiveCompletions(ctx, code)
		if err != nil {
			log.Error("failed to load dependency completions", zap.String("stage", code), zap.Error(err))
			comps = map[string]model.Completion{}
		}
		out[code] = comps
	}
	return out
}

// depsFor picks the entity's own completions out of per-stage maps,
// resolving a contact's company-stage deps via its parent.
func depsFor(deps map[string]map[string]model.Completion, ent model.Entity) map[string]model.Completion {
	out := make(map[string]model.Completion, len(deps))
	for code, byEntity := range deps {
		if c, ok := byEntity[ent.ID]; ok {
			out[code] = c
			continue
		}
		if ent.CompanyID != "" {
			if c, ok := byEntity[ent.CompanyID]; ok {
				out[code] = c
			}
		}
	}
	return out
}

func softContextFor(deps map[string]map[string]model.Completion, ent model.Entity, softDeps []string) []model.Completion {
	picked := depsFor(deps, ent)
	var out []model.Completion
	for _, code := range softDeps {
		if c, ok := picked[code]; ok && c.Status == model.CompletionCompleted {
			out = append(out, c)
		}
	}
	return out
}
