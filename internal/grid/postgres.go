package grid

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sitesmith/hunter/internal/db"
)

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const cellColumns = `id, country, state, city, industry, subcategory,
	population, status, priority,
	scrape_count, scrape_offset, has_more_results, max_results_available, last_scrape_size,
	lead_count, qualified_count, site_count, conversion_count,
	last_scraped_at, cooldown_until, claimed_at, error_message,
	created_at, updated_at`

// ClaimNext atomically claims the next eligible cell. The inner SELECT uses
// FOR UPDATE SKIP LOCKED so concurrent claims pick distinct rows; elapsed
// cooldowns become eligible purely through the predicate.
func (s *PostgresStore) ClaimNext(ctx context.Context, now time.Time) (*Cell, error) {
	query := fmt.Sprintf(`
		UPDATE coverage_cells SET
			status = 'in_progress',
			claimed_at = $1,
			updated_at = $1
		WHERE id = (
			SELECT id FROM coverage_cells
			WHERE status IN ('pending', 'cooldown')
				AND (cooldown_until IS NULL OR cooldown_until < $1)
			ORDER BY priority DESC, population DESC, last_scraped_at ASC NULLS FIRST
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s`, cellColumns)

	row := s.pool.QueryRow(ctx, query, now)
	cell, err := scanCell(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoEligible
		}
		return nil, eris.Wrap(err, "grid: claim next cell")
	}
	return cell, nil
}

// Release reverts a claimed cell to pending.
func (s *PostgresStore) Release(ctx context.Context, id int64, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE coverage_cells SET
			status = 'pending',
			claimed_at = NULL,
			error_message = $2,
			updated_at = now()
		WHERE id = $1 AND status = 'in_progress'`,
		id, errMsg,
	)
	if err != nil {
		return eris.Wrapf(err, "grid: release cell %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("grid: release cell %d: not in progress", id)
	}
	return nil
}

// Fail marks a claimed cell failed.
func (s *PostgresStore) Fail(ctx context.Context, id int64, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE coverage_cells SET
			status = 'failed',
			claimed_at = NULL,
			error_message = $2,
			updated_at = now()
		WHERE id = $1 AND status = 'in_progress'`,
		id, errMsg,
	)
	if err != nil {
		return eris.Wrapf(err, "grid: fail cell %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("grid: fail cell %d: not in progress", id)
	}
	return nil
}

// CompleteScrape applies one successful tick. Guarded on status so a claim
// lost to a reclaim sweep surfaces as an error instead of silent corruption.
func (s *PostgresStore) CompleteScrape(ctx context.Context, id int64, upd ScrapeUpdate) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE coverage_cells SET
			scrape_count = scrape_count + 1,
			scrape_offset = scrape_offset + $2,
			has_more_results = $3,
			max_results_available = COALESCE($4, max_results_available),
			last_scrape_size = $2,
			lead_count = lead_count + $2,
			qualified_count = qualified_count + $5,
			last_scraped_at = $6,
			status = $7,
			cooldown_until = $8,
			priority = $9,
			claimed_at = NULL,
			error_message = '',
			updated_at = now()
		WHERE id = $1 AND status = 'in_progress'`,
		id, upd.Returned, upd.HasMore, upd.TotalAvailable, upd.Qualified,
		upd.LastScrapedAt, upd.NextStatus, upd.CooldownUntil, upd.Priority,
	)
	if err != nil {
		return eris.Wrapf(err, "grid: complete scrape for cell %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("grid: complete scrape for cell %d: claim lost", id)
	}
	return nil
}

// ReclaimStale reverts cells stuck in_progress past the staleness threshold.
func (s *PostgresStore) ReclaimStale(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE coverage_cells SET
			status = 'pending',
			claimed_at = NULL,
			error_message = 'reclaimed stale claim',
			updated_at = now()
		WHERE status = 'in_progress' AND claimed_at < $1`,
		olderThan,
	)
	if err != nil {
		return 0, eris.Wrap(err, "grid: reclaim stale claims")
	}
	return tag.RowsAffected(), nil
}

// SeedCells inserts cells idempotently via BulkUpsert with DO NOTHING.
func (s *PostgresStore) SeedCells(ctx context.Context, cells []Cell) (int64, error) {
	if len(cells) == 0 {
		return 0, nil
	}

	rows := make([][]any, len(cells))
	for i, c := range cells {
		rows[i] = []any{
			c.Country, c.State, c.City, c.Industry, c.Subcategory,
			c.Population, string(StatusPending), c.Priority,
		}
	}

	cfg := db.UpsertConfig{
		Table: "coverage_cells",
		Columns: []string{
			"country", "state", "city", "industry", "subcategory",
			"population", "status", "priority",
		},
		ConflictKeys: []string{"country", "state", "city", "industry", "subcategory"},
		DoNothing:    true,
	}

	n, err := db.BulkUpsert(ctx, s.pool, cfg, rows)
	if err != nil {
		return 0, eris.Wrap(err, "grid: seed cells")
	}
	return n, nil
}

// Status returns per-status counts and running totals.
func (s *PostgresStore) Status(ctx context.Context) (*GridStatus, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(scrape_count), 0),
			COALESCE(SUM(lead_count), 0), COALESCE(SUM(qualified_count), 0)
		FROM coverage_cells
		GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "grid: query status")
	}
	defer rows.Close()

	gs := &GridStatus{ByStatus: make(map[Status]int)}
	for rows.Next() {
		var status Status
		var cells, scrapes, leads, qualified int
		if err := rows.Scan(&status, &cells, &scrapes, &leads, &qualified); err != nil {
			return nil, eris.Wrap(err, "grid: scan status row")
		}
		gs.ByStatus[status] = cells
		gs.TotalCells += cells
		gs.TotalScrapes += scrapes
		gs.TotalLeads += leads
		gs.TotalQualified += qualified
	}
	return gs, rows.Err()
}

// ListCells returns cells with optional status filtering.
func (s *PostgresStore) ListCells(ctx context.Context, opts ListOpts) ([]Cell, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if opts.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *opts.Status)
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 1000
	}

	query := fmt.Sprintf(
		`SELECT %s FROM coverage_cells %s ORDER BY priority DESC, population DESC LIMIT $%d OFFSET $%d`,
		cellColumns, where, argIdx, argIdx+1,
	)
	args = append(args, limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "grid: list cells")
	}
	defer rows.Close()

	return scanCells(rows)
}

// RecomputePriorities rescans all cells and persists changed scores.
func (s *PostgresStore) RecomputePriorities(ctx context.Context, score func(*Cell) int) (int64, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM coverage_cells`, cellColumns))
	if err != nil {
		return 0, eris.Wrap(err, "grid: query cells for rescore")
	}
	cells, err := scanCells(rows)
	rows.Close()
	if err != nil {
		return 0, err
	}

	var changed int64
	for i := range cells {
		next := score(&cells[i])
		if next == cells[i].Priority {
			continue
		}
		if _, err := s.pool.Exec(ctx,
			`UPDATE coverage_cells SET priority = $2, updated_at = now() WHERE id = $1`,
			cells[i].ID, next,
		); err != nil {
			return changed, eris.Wrapf(err, "grid: rescore cell %d", cells[i].ID)
		}
		changed++
	}
	return changed, nil
}

func scanCell(row pgx.Row) (*Cell, error) {
	var c Cell
	err := row.Scan(
		&c.ID, &c.Country, &c.State, &c.City, &c.Industry, &c.Subcategory,
		&c.Population, &c.Status, &c.Priority,
		&c.ScrapeCount, &c.ScrapeOffset, &c.HasMoreResults, &c.MaxResultsAvailable, &c.LastScrapeSize,
		&c.LeadCount, &c.QualifiedCount, &c.SiteCount, &c.ConversionCount,
		&c.LastScrapedAt, &c.CooldownUntil, &c.ClaimedAt, &c.ErrorMessage,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanCells(rows pgx.Rows) ([]Cell, error) {
	var cells []Cell
	for rows.Next() {
		cell, err := scanCell(rows)
		if err != nil {
			return nil, eris.Wrap(err, "grid: scan cell")
		}
		cells = append(cells, *cell)
	}
	return cells, rows.Err()
}
