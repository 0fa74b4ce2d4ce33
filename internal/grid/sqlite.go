package grid

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite. Intended for local
// and dev runs; claims serialize on an immediate transaction instead of
// row locks.
type SQLiteStore struct {
	db *sql.DB
}

// sqliteDSN forces write transactions to take the lock at BEGIN. The
// driver's default deferred mode upgrades the lock mid-transaction, and a
// raced claim from another process then surfaces as a busy-snapshot error
// instead of waiting its turn.
func sqliteDSN(path string) string {
	if strings.Contains(path, "_txlock=") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_txlock=immediate"
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sdb, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "grid: sqlite open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sdb.Exec(pragma); err != nil {
			sdb.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "grid: sqlite exec %s", pragma)
		}
	}
	// A single writer avoids SQLITE_BUSY churn between claim transactions.
	sdb.SetMaxOpenConns(1)
	return &SQLiteStore{db: sdb}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS coverage_cells (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	country               TEXT NOT NULL,
	state                 TEXT NOT NULL,
	city                  TEXT NOT NULL,
	industry              TEXT NOT NULL,
	subcategory           TEXT NOT NULL DEFAULT '',
	population            INTEGER NOT NULL DEFAULT 0,
	status                TEXT NOT NULL DEFAULT 'pending',
	priority              INTEGER NOT NULL DEFAULT 0,
	scrape_count          INTEGER NOT NULL DEFAULT 0,
	scrape_offset         INTEGER NOT NULL DEFAULT 0,
	has_more_results      INTEGER NOT NULL DEFAULT 1,
	max_results_available INTEGER,
	last_scrape_size      INTEGER NOT NULL DEFAULT 0,
	lead_count            INTEGER NOT NULL DEFAULT 0,
	qualified_count       INTEGER NOT NULL DEFAULT 0,
	site_count            INTEGER NOT NULL DEFAULT 0,
	conversion_count      INTEGER NOT NULL DEFAULT 0,
	last_scraped_at       DATETIME,
	cooldown_until        DATETIME,
	claimed_at            DATETIME,
	error_message         TEXT NOT NULL DEFAULT '',
	created_at            DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at            DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (country, state, city, industry, subcategory)
);

CREATE INDEX IF NOT EXISTS idx_coverage_cells_claim
	ON coverage_cells (status, priority DESC, population DESC);
CREATE INDEX IF NOT EXISTS idx_coverage_cells_cooldown
	ON coverage_cells (cooldown_until);
`

// Migrate creates the coverage_cells table if needed.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "grid: sqlite migrate")
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle so sibling stores can share the
// single-writer connection.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

const sqliteCellColumns = `id, country, state, city, industry, subcategory,
	population, status, priority,
	scrape_count, scrape_offset, has_more_results, max_results_available, last_scrape_size,
	lead_count, qualified_count, site_count, conversion_count,
	last_scraped_at, cooldown_until, claimed_at, error_message,
	created_at, updated_at`

// ClaimNext selects and marks the next eligible cell inside one write
// transaction, which is atomic under SQLite's single-writer model.
func (s *SQLiteStore) ClaimNext(ctx context.Context, now time.Time) (*Cell, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "grid: sqlite begin claim tx")
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM coverage_cells
		WHERE status IN ('pending', 'cooldown')
			AND (cooldown_until IS NULL OR cooldown_until < ?)
		ORDER BY priority DESC, population DESC,
			CASE WHEN last_scraped_at IS NULL THEN 0 ELSE 1 END, last_scraped_at ASC
		LIMIT 1`, sqliteCellColumns), now.UTC())

	cell, err := scanSQLiteCell(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoEligible
		}
		return nil, eris.Wrap(err, "grid: sqlite claim select")
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE coverage_cells SET status = 'in_progress', claimed_at = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'cooldown')`,
		now.UTC(), now.UTC(), cell.ID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "grid: sqlite claim cell %d", cell.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNoEligible
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "grid: sqlite commit claim")
	}

	claimed := now.UTC()
	cell.Status = StatusInProgress
	cell.ClaimedAt = &claimed
	return cell, nil
}

// Release reverts a claimed cell to pending.
func (s *SQLiteStore) Release(ctx context.Context, id int64, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE coverage_cells SET status = 'pending', claimed_at = NULL,
			error_message = ?, updated_at = datetime('now')
		WHERE id = ? AND status = 'in_progress'`,
		errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "grid: sqlite release cell %d", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("grid: sqlite release cell %d: not in progress", id)
	}
	return nil
}

// Fail marks a claimed cell failed.
func (s *SQLiteStore) Fail(ctx context.Context, id int64, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE coverage_cells SET status = 'failed', claimed_at = NULL,
			error_message = ?, updated_at = datetime('now')
		WHERE id = ? AND status = 'in_progress'`,
		errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "grid: sqlite fail cell %d", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("grid: sqlite fail cell %d: not in progress", id)
	}
	return nil
}

// CompleteScrape applies one successful tick.
func (s *SQLiteStore) CompleteScrape(ctx context.Context, id int64, upd ScrapeUpdate) error {
	var total any
	if upd.TotalAvailable != nil {
		total = *upd.TotalAvailable
	}
	var cooldown any
	if upd.CooldownUntil != nil {
		cooldown = upd.CooldownUntil.UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE coverage_cells SET
			scrape_count = scrape_count + 1,
			scrape_offset = scrape_offset + ?,
			has_more_results = ?,
			max_results_available = COALESCE(?, max_results_available),
			last_scrape_size = ?,
			lead_count = lead_count + ?,
			qualified_count = qualified_count + ?,
			last_scraped_at = ?,
			status = ?,
			cooldown_until = ?,
			priority = ?,
			claimed_at = NULL,
			error_message = '',
			updated_at = datetime('now')
		WHERE id = ? AND status = 'in_progress'`,
		upd.Returned, upd.HasMore, total, upd.Returned, upd.Returned,
		upd.Qualified, upd.LastScrapedAt.UTC(), string(upd.NextStatus), cooldown,
		upd.Priority, id,
	)
	if err != nil {
		return eris.Wrapf(err, "grid: sqlite complete scrape for cell %d", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("grid: sqlite complete scrape for cell %d: claim lost", id)
	}
	return nil
}

// ReclaimStale reverts cells stuck in_progress past the staleness threshold.
func (s *SQLiteStore) ReclaimStale(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE coverage_cells SET status = 'pending', claimed_at = NULL,
			error_message = 'reclaimed stale claim', updated_at = datetime('now')
		WHERE status = 'in_progress' AND claimed_at < ?`,
		olderThan.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "grid: sqlite reclaim stale claims")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// SeedCells inserts cells idempotently.
func (s *SQLiteStore) SeedCells(ctx context.Context, cells []Cell) (int64, error) {
	if len(cells) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "grid: sqlite begin seed tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO coverage_cells (country, state, city, industry, subcategory, population, status, priority)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', ?)
		ON CONFLICT (country, state, city, industry, subcategory) DO NOTHING`)
	if err != nil {
		return 0, eris.Wrap(err, "grid: sqlite prepare seed")
	}
	defer stmt.Close() //nolint:errcheck

	var inserted int64
	for _, c := range cells {
		res, err := stmt.ExecContext(ctx, c.Country, c.State, c.City, c.Industry, c.Subcategory, c.Population, c.Priority)
		if err != nil {
			return 0, eris.Wrapf(err, "grid: sqlite seed cell %s", c.Identity())
		}
		n, _ := res.RowsAffected()
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "grid: sqlite commit seed")
	}
	return inserted, nil
}

// Status returns per-status counts and running totals.
func (s *SQLiteStore) Status(ctx context.Context) (*GridStatus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(scrape_count), 0),
			COALESCE(SUM(lead_count), 0), COALESCE(SUM(qualified_count), 0)
		FROM coverage_cells
		GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "grid: sqlite query status")
	}
	defer rows.Close() //nolint:errcheck

	gs := &GridStatus{ByStatus: make(map[Status]int)}
	for rows.Next() {
		var status Status
		var cells, scrapes, leads, qualified int
		if err := rows.Scan(&status, &cells, &scrapes, &leads, &qualified); err != nil {
			return nil, eris.Wrap(err, "grid: sqlite scan status row")
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
func (s *SQLiteStore) ListCells(ctx context.Context, opts ListOpts) ([]Cell, error) {
	var conditions []string
	var args []any

	if opts.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, string(*opts.Status))
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
		`SELECT %s FROM coverage_cells %s ORDER BY priority DESC, population DESC LIMIT ? OFFSET ?`,
		sqliteCellColumns, where,
	)
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "grid: sqlite list cells")
	}
	defer rows.Close() //nolint:errcheck

	var cells []Cell
	for rows.Next() {
		cell, err := scanSQLiteCell(rows)
		if err != nil {
			return nil, eris.Wrap(err, "grid: sqlite scan cell")
		}
		cells = append(cells, *cell)
	}
	return cells, rows.Err()
}

// RecomputePriorities rescans all cells and persists changed scores.
func (s *SQLiteStore) RecomputePriorities(ctx context.Context, score func(*Cell) int) (int64, error) {
	cells, err := s.ListCells(ctx, ListOpts{Limit: 1 << 30})
	if err != nil {
		return 0, err
	}

	var changed int64
	for i := range cells {
		next := score(&cells[i])
		if next == cells[i].Priority {
			continue
		}
		if _, err := s.db.ExecContext(ctx,
			`UPDATE coverage_cells SET priority = ?, updated_at = datetime('now') WHERE id = ?`,
			next, cells[i].ID,
		); err != nil {
			return changed, eris.Wrapf(err, "grid: sqlite rescore cell %d", cells[i].ID)
		}
		changed++
	}
	return changed, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteCell(row rowScanner) (*Cell, error) {
	var c Cell
	var maxResults sql.NullInt64
	var lastScraped, cooldown, claimed sql.NullTime

	err := row.Scan(
		&c.ID, &c.Country, &c.State, &c.City, &c.Industry, &c.Subcategory,
		&c.Population, &c.Status, &c.Priority,
		&c.ScrapeCount, &c.ScrapeOffset, &c.HasMoreResults, &maxResults, &c.LastScrapeSize,
		&c.LeadCount, &c.QualifiedCount, &c.SiteCount, &c.ConversionCount,
		&lastScraped, &cooldown, &claimed, &c.ErrorMessage,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if maxResults.Valid {
		v := int(maxResults.Int64)
		c.MaxResultsAvailable = &v
	}
	if lastScraped.Valid {
		t := lastScraped.Time
		c.LastScrapedAt = &t
	}
	if cooldown.Valid {
		t := cooldown.Time
		c.CooldownUntil = &t
	}
	if claimed.Valid {
		t := claimed.Time
		c.ClaimedAt = &t
	}
	return &c, nil
}
