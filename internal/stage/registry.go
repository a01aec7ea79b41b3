package stage

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/model"
)

// Definition describes one stage of the enrichment graph. Stages are data:
// the scheduler is a single interpreter over these records, branching only
// on the Gate tag.
type Definition struct {
	Code        string           `yaml:"code"`
	Name        string           `yaml:"name"`
	EntityType  model.EntityType `yaml:"entity_type"`
	HardDeps    []string         `yaml:"hard_deps,omitempty"`
	SoftDeps    []string         `yaml:"soft_deps,omitempty"`
	Gate        bool             `yaml:"gate,omitempty"`
	Terminal    bool             `yaml:"terminal,omitempty"`
	CountryGate []string         `yaml:"country_gate,omitempty"` // ISO codes / domain suffixes
	CostDefault float64          `yaml:"cost_default,omitempty"`
	Row         int              `yaml:"row,omitempty"` // presentational grouping only
}

// Registry is the immutable, process-wide stage catalog. Built once at
// startup, never mutated afterwards.
type Registry struct {
	defs  map[string]Definition
	order []string // declaration order, used as the topological tie-break
}

// New validates the definitions and builds a registry. It rejects
// duplicate codes, dependencies on unknown stages, and any cycle in the
// combined hard+soft dependency relation.
func New(defs []Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if d.Code == "" {
			return nil, eris.New("stage: definition with empty code")
		}
		if _, dup := r.defs[d.Code]; dup {
			return nil, eris.Errorf("stage: duplicate code %q", d.Code)
		}
		if d.EntityType != model.EntityCompany && d.EntityType != model.EntityContact {
			return nil, eris.Errorf("stage: %s: unknown entity type %q", d.Code, d.EntityType)
		}
		if d.Gate && d.CostDefault != 0 {
			return nil, eris.Errorf("stage: gate %s must have zero cost", d.Code)
		}
		r.defs[d.Code] = d
		r.order = append(r.order, d.Code)
	}

	for _, d := range defs {
		for _, dep := range append(append([]string{}, d.HardDeps...), d.SoftDeps...) {
			if _, ok := r.defs[dep]; !ok {
				return nil, eris.Errorf("stage: %s depends on unknown stage %q", d.Code, dep)
			}
		}
	}

	if cyc := r.findCycle(); cyc != "" {
		return nil, eris.Errorf("stage: dependency cycle through %q", cyc)
	}
	return r, nil
}

// findCycle runs a three-color DFS over hard+soft deps and returns a stage
// code on a cycle, or "".
func (r *Registry) findCycle() string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(r.defs))

	var visit func(code string) string
	visit = func(code string) string {
		color[code] = gray
		d := r.defs[code]
		for _, dep := range append(append([]string{}, d.HardDeps...), d.SoftDeps...) {
			switch color[dep] {
			case gray:
				return dep
			case white:
				if c := visit(dep); c != "" {
					return c
				}
			}
		}
		color[code] = black
		return ""
	}

	for _, code := range r.order {
		if color[code] == white {
			if c := visit(code); c != "" {
				return c
			}
		}
	}
	return ""
}

// Get returns the definition for code.
func (r *Registry) Get(code string) (Definition, bool) {
	d, ok := r.defs[code]
	return d, ok
}

// All returns every definition in declaration order.
func (r *Registry) All() []Definition {
	out := make([]Definition, 0, len(r.order))
	for _, code := range r.order {
		out = append(out, r.defs[code])
	}
	return out
}

// Ancestors returns the transitive closure of code's hard and soft
// dependencies. The visited set guards against infinite traversal should a
// cyclic definition ever slip past construction-time validation.
func (r *Registry) Ancestors(code string) map[string]struct{} {
	out := make(map[string]struct{})
	visited := map[string]struct{}{code: {}}

	var walk func(c string)
	walk = func(c string) {
		d, ok := r.defs[c]
		if !ok {
			return
		}
		for _, dep := range append(append([]string{}, d.HardDeps...), d.SoftDeps...) {
			if _, seen := visited[dep]; seen {
				continue
			}
			visited[dep] = struct{}{}
			out[dep] = struct{}{}
			walk(dep)
		}
	}
	walk(code)
	return out
}

// Rows groups stage codes by their presentational row. The grouping is for
// display only and plays no part in execution order.
func (r *Registry) Rows() map[int][]string {
	rows := make(map[int][]string)
	for _, code := range r.order {
		d := r.defs[code]
		rows[d.Row] = append(rows[d.Row], code)
	}
	return rows
}

// TopoOrder returns the enabled stage codes in dependency order. Only
// edges between enabled stages constrain the ordering; declaration order
// breaks ties so the result is deterministic.
func (r *Registry) TopoOrder(enabled []string) ([]string, error) {
	set := make(map[string]bool, len(enabled))
	for _, code := range enabled {
		if _, ok := r.defs[code]; !ok {
			return nil, eris.Errorf("stage: unknown stage %q", code)
		}
		set[code] = true
	}

	indeg := make(map[string]int, len(set))
	dependents := make(map[string][]string, len(set))
	for code := range set {
		for _, dep := range r.defs[code].HardDeps {
			if set[dep] {
				indeg[code]++
				dependents[dep] = append(dependents[dep], code)
			}
		}
	}

	declIndex := make(map[string]int, len(r.order))
	for i, code := range r.order {
		declIndex[code] = i
	}

	var ready []string
	for code := range set {
		if indeg[code] == 0 {
			ready = append(ready, code)
		}
	}

	var out []string
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return declIndex[ready[i]] < declIndex[ready[j]] })
		next := ready[0]
		ready = ready[1:]
		out = append(out, next)
		for _, dep := range dependents[next] {
			indeg[dep]--
			if indeg[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(out) != len(set) {
		return nil, eris.New("stage: enabled subgraph contains a cycle")
	}
	return out, nil
}
