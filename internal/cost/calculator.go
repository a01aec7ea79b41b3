package cost

import "github.com/sells-group/enrich-cli/internal/stage"

// BoostMultiplier scales a stage's per-item rate in boost mode. Boosted
// execution is exactly twice the normal rate.
const BoostMultiplier = 2.0

// Calculator resolves per-item stage pricing. Rates come from the stage
// catalog, optionally overridden per stage code from configuration.
type Calculator struct {
	registry  *stage.Registry
	overrides map[string]float64
}

// NewCalculator creates a Calculator over the registry's default rates.
func NewCalculator(registry *stage.Registry, overrides map[string]float64) *Calculator {
	return &Calculator{registry: registry, overrides: overrides}
}

// PerItem returns the cost of one execution of the stage. Gates are always
// free; unknown stages price at zero.
func (c *Calculator) PerItem(code string, boosted bool) float64 {
	d, ok := c.registry.Get(code)
	if !ok || d.Gate {
		return 0
	}
	rate := d.CostDefault
	if o, ok := c.overrides[code]; ok {
		rate = o
	}
	if boosted {
		rate *= BoostMultiplier
	}
	return rate
}

// Projected returns the estimated cost of running the stage over n items.
func (c *Calculator) Projected(code string, boosted bool, n int) float64 {
	return c.PerItem(code, boosted) * float64(n)
}
