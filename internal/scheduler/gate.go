package scheduler

import (
	"encoding/json"
	"strings"

	"github.com/sells-group/enrich-cli/internal/model"
)

// triageFitThreshold is the minimum first-pass fit score a company needs
// to clear triage.
const triageFitThreshold = 0.5

// qualityMinFields is the minimum number of populated fact fields a deep
// research result needs to avoid an incompleteness flag.
const qualityMinFields = 3

// GateInput is what a gate rule sees for one entity: the entity itself and
// the active completions of the gate's hard dependencies.
type GateInput struct {
	Entity model.Entity
	Deps   map[string]model.Completion
}

// GateRule evaluates a zero-cost pass/fail verdict for one entity,
// optionally attaching quality flags for the review queue.
type GateRule func(in GateInput) (passed bool, flags []string)

// DefaultGateRules returns the rules for the built-in catalog's gates.
// A gate with no rule passes everything; gating is data, and an
// unconfigured gate must not strand a pipeline.
func DefaultGateRules() map[string]GateRule {
	return map[string]GateRule{
		"triage":        triageRule,
		"quality_check": qualityCheckRule,
	}
}

// triageRule passes companies whose first-pass research scored at or above
// the fit threshold.
func triageRule(in GateInput) (bool, []string) {
	dep, ok := in.Deps["company_l1"]
	if !ok || len(dep.Result) == 0 {
		return false, []string{"missing_l1_result"}
	}
	var facts struct {
		FitScore *float64 `json:"fit_score"`
	}
	if err := json.Unmarshal(dep.Result, &facts); err != nil || facts.FitScore == nil {
		return false, []string{"unscorable_l1_result"}
	}
	return *facts.FitScore >= triageFitThreshold, nil
}

// qualityCheckRule inspects the deep research result for signals that the
// record needs manual attention: name mismatch, conflicting jurisdiction,
// or an incomplete fact set. It passes only when no flag fires.
func qualityCheckRule(in GateInput) (bool, []string) {
	dep, ok := in.Deps["company_l2"]
	if !ok || len(dep.Result) == 0 {
		return false, []string{"missing_l2_result"}
	}

	var facts map[string]any
	if err := json.Unmarshal(dep.Result, &facts); err != nil {
		return false, []string{"unparseable_l2_result"}
	}

	var flags []string
	if legal, ok := facts["legal_name"].(string); ok && legal != "" {
		if !namesMatch(legal, in.Entity.Name) {
			flags = append(flags, "name_mismatch")
		}
	}
	if jur, ok := facts["jurisdiction"].(string); ok && jur != "" && in.Entity.Jurisdiction != "" {
		if !strings.EqualFold(jur, in.Entity.Jurisdiction) {
			flags = append(flags, "jurisdiction_conflict")
		}
	}
	if populated(facts) < qualityMinFields {
		flags = append(flags, "incomplete")
	}
	return len(flags) == 0, flags
}

// namesMatch compares names loosely: case-insensitive with common legal
// suffixes stripped.
func namesMatch(a, b string) bool {
	return normalizeName(a) == normalizeName(b)
}

var legalSuffixes = []string{"inc", "llc", "ltd", "gmbh", "ag", "corp", "co", "sa", "bv"}

func normalizeName(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '.', ',', '-':
			return ' '
		}
		return r
	}, s)
	words := strings.Fields(s)
	for len(words) > 1 {
		last := words[len(words)-1]
		stripped := false
		for _, sfx := range legalSuffixes {
			if last == sfx {
				words = words[:len(words)-1]
				stripped = true
				break
			}
		}
		if !stripped {
			break
		}
	}
	return strings.Join(words, " ")
}

func populated(facts map[string]any) int {
	n := 0
	for _, v := range facts {
		switch t := v.(type) {
		case nil:
		case string:
			if t != "" {
				n++
			}
		default:
			n++
		}
	}
	return n
}
