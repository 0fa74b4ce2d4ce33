package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sitesmith/hunter/internal/grid"
)

func testTiers() TierTable {
	return TierTable{"plumber": 3, "roofer": 2, "florist": 1}
}

func TestPriority_NeverSearchedLargeMarket(t *testing.T) {
	cell := &grid.Cell{Industry: "plumber", Population: 2_000_000, ScrapeCount: 0}
	// 4 population + 3 tier + 3 never-searched.
	assert.Equal(t, 10, Priority(cell, testTiers()))
}

func TestPriority_CoverageTerms(t *testing.T) {
	tiers := testTiers()

	tests := []struct {
		name string
		cell grid.Cell
		want int
	}{
		{
			name: "partial coverage resumes ahead of done cells",
			cell: grid.Cell{Industry: "roofer", Population: 600_000, ScrapeCount: 2, HasMoreResults: true},
			want: 3 + 2 + 2,
		},
		{
			name: "lightly covered without more results",
			cell: grid.Cell{Industry: "roofer", Population: 600_000, ScrapeCount: 2},
			want: 3 + 2 + 1,
		},
		{
			name: "exhausted cell keeps only population and tier",
			cell: grid.Cell{Industry: "roofer", Population: 600_000, ScrapeCount: 5},
			want: 3 + 2 + 0,
		},
		{
			name: "small market unknown industry",
			cell: grid.Cell{Industry: "taxidermist", Population: 40_000, ScrapeCount: 5},
			want: 1 + 1 + 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Priority(&tt.cell, tiers))
		})
	}
}

func TestPriority_CappedAtMax(t *testing.T) {
	// No term combination exceeds the cap today; the clamp guards future
	// term changes.
	cell := &grid.Cell{Industry: "plumber", Population: 5_000_000, ScrapeCount: 0}
	assert.LessOrEqual(t, Priority(cell, testTiers()), MaxPriority)
}

func TestPriority_PopulationMonotonic(t *testing.T) {
	tiers := testTiers()
	populations := []int{10_000, 100_001, 500_001, 1_000_001, 3_000_000}

	prev := -1
	for _, pop := range populations {
		cell := &grid.Cell{Industry: "roofer", Population: pop, ScrapeCount: 1, HasMoreResults: true}
		got := Priority(cell, tiers)
		assert.GreaterOrEqual(t, got, prev, "population %d", pop)
		prev = got
	}
}

func TestTierTable_Defaults(t *testing.T) {
	tiers := testTiers()
	assert.Equal(t, 3, tiers.Tier("plumber"))
	assert.Equal(t, 1, tiers.Tier("unknown industry"))

	// Out-of-range configured weights fall back to 1.
	bad := TierTable{"x": 9}
	assert.Equal(t, 1, bad.Tier("x"))
}
