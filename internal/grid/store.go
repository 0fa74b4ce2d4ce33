package grid

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// ErrNoEligible is returned by ClaimNext when no cell is currently claimable.
var ErrNoEligible = eris.New("grid: no eligible cells")

// Store defines persistence operations for the coverage grid.
//
// ClaimNext is the single synchronization point of the whole scheduler: it
// must atomically select and mark the next eligible cell so concurrent
// workers can never claim the same cell twice.
type Store interface {
	// ClaimNext selects the highest-priority eligible cell and marks it
	// in_progress in one atomic operation. Returns ErrNoEligible when the
	// grid has nothing claimable.
	ClaimNext(ctx context.Context, now time.Time) (*Cell, error)

	// Release reverts a claimed cell to pending, recording why. Offset and
	// counters are untouched; the next scheduling round may re-select it.
	Release(ctx context.Context, id int64, errMsg string) error

	// Fail marks a claimed cell failed with a message. Failed cells are not
	// retried automatically.
	Fail(ctx context.Context, id int64, errMsg string) error

	// CompleteScrape applies a successful tick's counters and transition.
	CompleteScrape(ctx context.Context, id int64, upd ScrapeUpdate) error

	// ReclaimStale reverts cells stuck in_progress since before olderThan
	// back to pending. Covers workers that died mid-tick.
	ReclaimStale(ctx context.Context, olderThan time.Time) (int64, error)

	// SeedCells inserts cells that are not already present. Existing cells
	// (same identity tuple) are left untouched.
	SeedCells(ctx context.Context, cells []Cell) (int64, error)

	// Status returns aggregate counts for reporting.
	Status(ctx context.Context) (*GridStatus, error)

	// ListCells returns cells with optional status filtering.
	ListCells(ctx context.Context, opts ListOpts) ([]Cell, error)

	// RecomputePriorities rescans every cell and persists score(cell),
	// returning how many rows changed. Used after tier-table edits.
	RecomputePriorities(ctx context.Context, score func(*Cell) int) (int64, error)
}
