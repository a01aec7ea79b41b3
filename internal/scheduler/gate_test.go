package scheduler

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/enrich-cli/internal/model"
)

func l1Result(fit float64) model.Completion {
	b, _ := json.Marshal(map[string]float64{"fit_score": fit})
	return model.Completion{StageCode: "company_l1", Status: model.CompletionCompleted, Result: b}
}

func TestTriageRule(t *testing.T) {
	tests := []struct {
		name       string
		in         GateInput
		wantPassed bool
		wantFlags  []string
	}{
		{
			name:       "passes at threshold",
			in:         GateInput{Deps: map[string]model.Completion{"company_l1": l1Result(0.5)}},
			wantPassed: true,
		},
		{
			name:       "fails below threshold",
			in:         GateInput{Deps: map[string]model.Completion{"company_l1": l1Result(0.49)}},
			wantPassed: false,
		},
		{
			name:       "fails without first-pass result",
			in:         GateInput{},
			wantPassed: false,
			wantFlags:  []string{"missing_l1_result"},
		},
		{
			name: "fails on unscorable result",
			in: GateInput{Deps: map[string]model.Completion{
				"company_l1": {Status: model.CompletionCompleted, Result: json.RawMessage(`{"industry":"machinery"}`)},
			}},
			wantPassed: false,
			wantFlags:  []string{"unscorable_l1_result"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			passed, flags := triageRule(tt.in)
			assert.Equal(t, tt.wantPassed, passed)
			assert.Equal(t, tt.wantFlags, flags)
		})
	}
}

func TestQualityCheckRule(t *testing.T) {
	entity := model.Entity{Name: "Acme GmbH", Jurisdiction: "de"}

	l2 := func(facts map[string]any) map[string]model.Completion {
		b, _ := json.Marshal(facts)
		return map[string]model.Completion{
			"company_l2": {Status: model.CompletionCompleted, Result: b},
		}
	}

	t.Run("clean record passes", func(t *testing.T) {
		passed, flags := qualityCheckRule(GateInput{Entity: entity, Deps: l2(map[string]any{
			"legal_name":   "Acme GmbH",
			"jurisdiction": "DE",
			"employees":    120,
		})})
		assert.True(t, passed)
		assert.Empty(t, flags)
	})

	t.Run("name mismatch flagged", func(t *testing.T) {
		passed, flags := qualityCheckRule(GateInput{Entity: entity, Deps: l2(map[string]any{
			"legal_name":   "Completely Different AG",
			"jurisdiction": "de",
			"employees":    120,
		})})
		assert.False(t, passed)
		assert.Contains(t, flags, "name_mismatch")
	})

	t.Run("legal suffixes ignored in comparison", func(t *testing.T) {
		passed, flags := qualityCheckRule(GateInput{Entity: model.Entity{Name: "Acme", Jurisdiction: "de"}, Deps: l2(map[string]any{
			"legal_name":   "Acme GmbH",
			"jurisdiction": "de",
			"employees":    120,
		})})
		assert.True(t, passed)
		assert.Empty(t, flags)
	})

	t.Run("jurisdiction conflict flagged", func(t *testing.T) {
		passed, flags := qualityCheckRule(GateInput{Entity: entity, Deps: l2(map[string]any{
			"legal_name":   "Acme GmbH",
			"jurisdiction": "at",
			"employees":    120,
		})})
		assert.False(t, passed)
		assert.Contains(t, flags, "jurisdiction_conflict")
	})

	t.Run("incomplete result flagged", func(t *testing.T) {
		passed, flags := qualityCheckRule(GateInput{Entity: entity, Deps: l2(map[string]any{
			"legal_name": "Acme GmbH",
		})})
		assert.False(t, passed)
		assert.Contains(t, flags, "incomplete")
	})

	t.Run("missing deep research result fails", func(t *testing.T) {
		passed, flags := qualityCheckRule(GateInput{Entity: entity})
		assert.False(t, passed)
		assert.Equal(t, []string{"missing_l2_result"}, flags)
	})
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "acme", normalizeName("Acme, Inc."))
	assert.Equal(t, "acme", normalizeName("ACME GmbH"))
	assert.Equal(t, "mueller maschinen", normalizeName("Mueller-Maschinen AG"))
	// Never strips down to nothing.
	assert.Equal(t, "gmbh", normalizeName("GmbH"))
}
