package grid

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cellCols = []string{
	"id", "country", "state", "city", "industry", "subcategory",
	"population", "status", "priority",
	"scrape_count", "scrape_offset", "has_more_results", "max_results_available", "last_scrape_size",
	"lead_count", "qualified_count", "site_count", "conversion_count",
	"last_scraped_at", "cooldown_until", "claimed_at", "error_message",
	"created_at", "updated_at",
}

func cellRow(now time.Time) *pgxmock.Rows {
	return pgxmock.NewRows(cellCols).AddRow(
		int64(7), "US", "IL", "Springfield", "plumber", "",
		120_000, Status("in_progress"), 8,
		2, 50, true, nil, 20,
		50, 12, 0, 0,
		nil, nil, &now, "",
		now, now,
	)
}

func TestPostgresStore_ClaimNext(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`UPDATE coverage_cells SET`).
		WithArgs(now).
		WillReturnRows(cellRow(now))

	cell, err := store.ClaimNext(context.Background(), now)

	require.NoError(t, err)
	assert.Equal(t, int64(7), cell.ID)
	assert.Equal(t, StatusInProgress, cell.Status)
	assert.Equal(t, 50, cell.ScrapeOffset)
	assert.Equal(t, "US/IL/Springfield/plumber", cell.Identity())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimNext_NoEligible(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)

	mock.ExpectQuery(`UPDATE coverage_cells SET`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(cellCols))

	_, err = store.ClaimNext(context.Background(), time.Now())

	assert.ErrorIs(t, err, ErrNoEligible)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Release(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)

	mock.ExpectExec(`UPDATE coverage_cells SET`).
		WithArgs(int64(7), "provider rate limited").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.Release(context.Background(), 7, "provider rate limited"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Release_NotClaimed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)

	mock.ExpectExec(`UPDATE coverage_cells SET`).
		WithArgs(int64(7), "oops").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.Release(context.Background(), 7, "oops")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in progress")
}

func TestPostgresStore_Fail(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)

	mock.ExpectExec(`UPDATE coverage_cells SET`).
		WithArgs(int64(9), "leadprov: unexpected status 403").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.Fail(context.Background(), 9, "leadprov: unexpected status 403"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteScrape(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)

	now := time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC)
	until := now.Add(7 * 24 * time.Hour)
	total := 110

	mock.ExpectExec(`UPDATE coverage_cells SET`).
		WithArgs(int64(7), 10, false, &total, 4, now, StatusCooldown, &until, 5).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = store.CompleteScrape(context.Background(), 7, ScrapeUpdate{
		Returned:       10,
		Qualified:      4,
		HasMore:        false,
		TotalAvailable: &total,
		LastScrapedAt:  now,
		NextStatus:     StatusCooldown,
		CooldownUntil:  &until,
		Priority:       5,
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteScrape_ClaimLost(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)

	mock.ExpectExec(`UPDATE coverage_cells SET`).
		WithArgs(int64(7), 10, true, (*int)(nil), 4, pgxmock.AnyArg(), StatusPending, (*time.Time)(nil), 9).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.CompleteScrape(context.Background(), 7, ScrapeUpdate{
		Returned:      10,
		Qualified:     4,
		HasMore:       true,
		LastScrapedAt: time.Now(),
		NextStatus:    StatusPending,
		Priority:      9,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "claim lost")
}

func TestPostgresStore_ReclaimStale(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)
	cutoff := time.Now().Add(-15 * time.Minute)

	mock.ExpectExec(`UPDATE coverage_cells SET`).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := store.ReclaimStale(context.Background(), cutoff)

	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestPostgresStore_Status(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)

	mock.ExpectQuery(`SELECT status, COUNT`).
		WillReturnRows(pgxmock.NewRows([]string{"status", "count", "scrapes", "leads", "qualified"}).
			AddRow(StatusPending, 40, 10, 200, 60).
			AddRow(StatusCooldown, 5, 15, 300, 90).
			AddRow(StatusFailed, 1, 2, 40, 0))

	gs, err := store.Status(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 46, gs.TotalCells)
	assert.Equal(t, 27, gs.TotalScrapes)
	assert.Equal(t, 500, gs.TotalLeads)
	assert.Equal(t, 150, gs.TotalQualified)
	assert.Equal(t, 40, gs.ByStatus[StatusPending])
	assert.Equal(t, 1, gs.ByStatus[StatusFailed])
}

func TestPostgresStore_ListCells_FilterByStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)
	now := time.Now()
	failed := StatusFailed

	mock.ExpectQuery(`SELECT .* FROM coverage_cells`).
		WithArgs(failed, 10, 0).
		WillReturnRows(cellRow(now))

	cells, err := store.ListCells(context.Background(), ListOpts{Status: &failed, Limit: 10})

	require.NoError(t, err)
	require.Len(t, cells, 1)
	assert.Equal(t, int64(7), cells[0].ID)
}

func TestPostgresStore_RecomputePriorities(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)
	now := time.Now()

	mock.ExpectQuery(`SELECT .* FROM coverage_cells`).
		WillReturnRows(cellRow(now))
	mock.ExpectExec(`UPDATE coverage_cells SET priority`).
		WithArgs(int64(7), 10).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	n, err := store.RecomputePriorities(context.Background(), func(*Cell) int { return 10 })

	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecomputePriorities_NoChange(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)

	mock.ExpectQuery(`SELECT .* FROM coverage_cells`).
		WillReturnRows(cellRow(time.Now()))

	n, err := store.RecomputePriorities(context.Background(), func(c *Cell) int { return c.Priority })

	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
