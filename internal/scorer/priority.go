// Package scorer ranks coverage cells for scheduling. Scoring is pure and
// deterministic; the grid store persists the result so claim queries can
// order on it.
package scorer

import "github.com/sitesmith/hunter/internal/grid"

// MaxPriority caps the combined score.
const MaxPriority = 10

// TierTable maps industry names to a tier weight in {3, 2, 1}. Unknown
// industries default to 1.
type TierTable map[string]int

// Tier returns the tier weight for an industry.
func (t TierTable) Tier(industry string) int {
	if w, ok := t[industry]; ok && w >= 1 && w <= 3 {
		return w
	}
	return 1
}

// Priority computes the schedulability rank of a cell, 0..10.
//
// Three additive terms: market size (population), industry tier, and how
// much of the cell's result set remains uncovered.
func Priority(cell *grid.Cell, tiers TierTable) int {
	score := populationTerm(cell.Population) +
		tiers.Tier(cell.Industry) +
		coverageTerm(cell)

	if score > MaxPriority {
		return MaxPriority
	}
	return score
}

func populationTerm(population int) int {
	switch {
	case population > 1_000_000:
		return 4
	case population > 500_000:
		return 3
	case population > 100_000:
		return 2
	default:
		return 1
	}
}

func coverageTerm(cell *grid.Cell) int {
	switch {
	case cell.ScrapeCount == 0:
		return 3 // never searched
	case cell.HasMoreResults:
		return 2 // partial coverage, should resume
	case cell.ScrapeCount < 3:
		return 1
	default:
		return 0
	}
}
