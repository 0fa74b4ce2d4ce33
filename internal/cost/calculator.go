// Package cost computes provider spend estimates for budget reporting.
package cost

// Rates holds provider pricing configuration.
type Rates struct {
	// PerRecord is the USD cost per record returned by the lead provider.
	PerRecord float64 `yaml:"per_record" mapstructure:"per_record"`
}

// Calculator computes derived spend metrics. It never participates in
// scheduling decisions.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Search returns the estimated cost of a search that returned n records.
func (c *Calculator) Search(records int) float64 {
	if records <= 0 {
		return 0
	}
	return float64(records) * c.rates.PerRecord
}

// Projected returns the estimated cost of exhausting a query with the given
// remaining record count, when the provider reports a total.
func (c *Calculator) Projected(totalAvailable, alreadyFetched int) float64 {
	remaining := totalAvailable - alreadyFetched
	if remaining <= 0 {
		return 0
	}
	return float64(remaining) * c.rates.PerRecord
}
