package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrich-cli/internal/stage"
)

func testRegistry(t *testing.T) *stage.Registry {
	t.Helper()
	registry, err := stage.Default()
	require.NoError(t, err)
	return registry
}

func TestPerItem(t *testing.T) {
	c := NewCalculator(testRegistry(t), nil)

	assert.InDelta(t, 0.02, c.PerItem("company_l1", false), 1e-9)
	assert.InDelta(t, 0.04, c.PerItem("company_l1", true), 1e-9)

	// Gates never cost, boosted or not.
	assert.Zero(t, c.PerItem("triage", false))
	assert.Zero(t, c.PerItem("triage", true))

	assert.Zero(t, c.PerItem("no_such_stage", false))
}

func TestPerItemOverrides(t *testing.T) {
	c := NewCalculator(testRegistry(t), map[string]float64{"company_l1": 0.10})

	assert.InDelta(t, 0.10, c.PerItem("company_l1", false), 1e-9)
	assert.InDelta(t, 0.20, c.PerItem("company_l1", true), 1e-9)
	// Stages without an override keep the catalog rate.
	assert.InDelta(t, 0.08, c.PerItem("company_l2", false), 1e-9)
}

func TestProjected(t *testing.T) {
	c := NewCalculator(testRegistry(t), nil)

	assert.InDelta(t, 1.0, c.Projected("company_l1", false, 50), 1e-9)
	assert.InDelta(t, 2.0, c.Projected("company_l1", true, 50), 1e-9)
	assert.Zero(t, c.Projected("triage", false, 50))
}
