package grid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition_MoreResultsStaysEligible(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	status, until := Transition(true, StatusInProgress, now, 7*24*time.Hour)

	assert.Equal(t, StatusPending, status)
	assert.Nil(t, until, "a cell with more results must bypass cooldown")
}

func TestTransition_ExhaustedEntersCooldown(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cooldown := 7 * 24 * time.Hour

	status, until := Transition(false, StatusInProgress, now, cooldown)

	assert.Equal(t, StatusCooldown, status)
	require.NotNil(t, until)
	assert.Equal(t, now.Add(cooldown), *until)
}

func TestTransition_PausedAndFailedPassThrough(t *testing.T) {
	now := time.Now()

	for _, prev := range []Status{StatusPaused, StatusFailed} {
		for _, hasMore := range []bool{true, false} {
			status, until := Transition(hasMore, prev, now, time.Hour)
			assert.Equal(t, prev, status)
			assert.Nil(t, until)
		}
	}
}

func TestTransition_TotalOverAllStatuses(t *testing.T) {
	now := time.Now()
	statuses := []Status{
		StatusPending, StatusInProgress, StatusCompleted,
		StatusCooldown, StatusPaused, StatusFailed,
	}

	for _, prev := range statuses {
		for _, hasMore := range []bool{true, false} {
			status, _ := Transition(hasMore, prev, now, time.Hour)
			assert.Contains(t, statuses, status)
			assert.NotEqual(t, StatusInProgress, status,
				"transition must never leave a cell in_progress")
		}
	}
}

func TestQuery_PrefersSubcategory(t *testing.T) {
	c := &Cell{Industry: "auto repair", Subcategory: "transmission repair"}
	assert.Equal(t, "transmission repair", c.Query())

	c.Subcategory = ""
	assert.Equal(t, "auto repair", c.Query())
}

func TestIdentity(t *testing.T) {
	c := &Cell{Country: "US", State: "IL", City: "Springfield", Industry: "plumber"}
	assert.Equal(t, "US/IL/Springfield/plumber", c.Identity())

	c.Subcategory = "drain cleaning"
	assert.Equal(t, "US/IL/Springfield/plumber/drain cleaning", c.Identity())
}
