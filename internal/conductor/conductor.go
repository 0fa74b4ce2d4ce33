// Package conductor drives the discovery loop: claim a coverage cell,
// search the provider at the cell's stored offset, qualify and persist the
// results, then transition the cell. The claim in the grid store is the
// only synchronization point; everything after it belongs to the worker
// that holds the claim.
package conductor

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sitesmith/hunter/internal/business"
	"github.com/sitesmith/hunter/internal/cost"
	"github.com/sitesmith/hunter/internal/grid"
	"github.com/sitesmith/hunter/internal/qualify"
	"github.com/sitesmith/hunter/internal/resilience"
	"github.com/sitesmith/hunter/internal/scorer"
	"github.com/sitesmith/hunter/pkg/leadprov"
)

// MaxBatchSize bounds RunBatch so an operator typo cannot burn provider
// budget in one invocation.
const MaxBatchSize = 25

// Config holds the scheduling knobs the conductor needs. All values come
// from the application config.
type Config struct {
	PageSize       int
	Cooldown       time.Duration
	ClaimStaleness time.Duration
	IdleSleep      time.Duration
	Policy         qualify.Policy
	Tiers          scorer.TierTable
	Rates          cost.Rates
}

// Conductor schedules and executes discovery ticks.
type Conductor struct {
	cells    grid.Store
	leads    business.Store
	provider leadprov.Client
	cost     *cost.Calculator
	cfg      Config

	// now is swappable in tests.
	now func() time.Time
}

// New creates a Conductor.
func New(cells grid.Store, leads business.Store, provider leadprov.Client, cfg Config) *Conductor {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = 30 * time.Second
	}
	return &Conductor{
		cells:    cells,
		leads:    leads,
		provider: provider,
		cost:     cost.NewCalculator(cfg.Rates),
		cfg:      cfg,
		now:      time.Now,
	}
}

// TickResult summarizes one tick for operators.
type TickResult struct {
	CellID    int64       `json:"cell_id"`
	Cell      string      `json:"cell"`
	Status    grid.Status `json:"status"`
	Scraped   int         `json:"scraped"`
	Qualified int         `json:"qualified"`
	Saved     int         `json:"saved"`
	CostUSD   float64     `json:"cost_usd"`
	// ProjectedUSD estimates the remaining spend to exhaust the cell's
	// query, present only when the provider reports a total.
	ProjectedUSD float64 `json:"projected_usd,omitempty"`
	Err          string  `json:"error,omitempty"`
}

// Tick claims the next eligible cell and processes one page of results.
// Returns grid.ErrNoEligible when nothing is claimable. Every path out of
// a claimed cell ends in an explicit transition; a tick never strands a
// cell in progress.
func (c *Conductor) Tick(ctx context.Context) (*TickResult, error) {
	now := c.now()
	cell, err := c.cells.ClaimNext(ctx, now)
	if err != nil {
		if errors.Is(err, grid.ErrNoEligible) {
			return nil, err
		}
		return nil, eris.Wrap(err, "conductor: claim cell")
	}

	res := &TickResult{CellID: cell.ID, Cell: cell.Identity()}

	resp, err := c.provider.Search(ctx, leadprov.SearchRequest{
		Industry: cell.Query(),
		City:     cell.City,
		State:    cell.State,
		Offset:   cell.ScrapeOffset,
		Limit:    c.cfg.PageSize,
	})
	if err != nil {
		return c.failTick(ctx, cell, res, err)
	}

	qualified := qualify.FilterBatch(resp.Records, c.cfg.Policy)
	saved := 0
	for _, q := range qualified {
		b := business.FromRecord(q.Record, q.Score, qualify.ReasonQualified, cell.ID)
		inserted, err := c.leads.InsertIfAbsent(ctx, b)
		if err != nil {
			// Persistence failure is fatal for the tick but the claim
			// must still come back.
			return c.failTick(ctx, cell, res, eris.Wrapf(err, "conductor: persist %s", b.SourceID))
		}
		if inserted {
			saved++
		}
	}

	// Offset and cost accounting move by the served count, not the
	// normalized count; a page with malformed records still counts in
	// full against the cursor and the budget.
	res.Scraped = resp.Returned
	res.Qualified = len(qualified)
	res.Saved = saved
	res.CostUSD = c.cost.Search(resp.Returned)
	if resp.TotalAvailable != nil {
		res.ProjectedUSD = c.cost.Projected(*resp.TotalAvailable, cell.ScrapeOffset+resp.Returned)
	}

	next, cooldownUntil := grid.Transition(resp.HasMore, cell.Status, now, c.cfg.Cooldown)
	res.Status = next

	upd := grid.ScrapeUpdate{
		Returned:       resp.Returned,
		Qualified:      len(qualified),
		HasMore:        resp.HasMore,
		TotalAvailable: resp.TotalAvailable,
		LastScrapedAt:  now,
		NextStatus:     next,
		CooldownUntil:  cooldownUntil,
		Priority:       c.rescored(cell, resp),
	}
	if err := c.cells.CompleteScrape(ctx, cell.ID, upd); err != nil {
		return c.failTick(ctx, cell, res, eris.Wrap(err, "conductor: complete scrape"))
	}

	zap.L().Info("conductor: tick complete",
		zap.String("cell", res.Cell),
		zap.Int("scraped", res.Scraped),
		zap.Int("qualified", res.Qualified),
		zap.Int("saved", res.Saved),
		zap.String("next_status", string(next)),
	)
	return res, nil
}

// rescored recomputes the cell's priority as if the scrape were already
// applied, so the persisted rank reflects the new coverage state.
func (c *Conductor) rescored(cell *grid.Cell, resp *leadprov.SearchResponse) int {
	after := *cell
	after.ScrapeCount++
	after.ScrapeOffset += resp.Returned
	after.HasMoreResults = resp.HasMore
	return scorer.Priority(&after, c.cfg.Tiers)
}

// failTick routes a tick failure to the right transition. Permanent
// provider errors park the cell as failed; everything else, including
// rate limits, open circuits and persistence failures, releases the claim
// so the next scheduling round can retry.
func (c *Conductor) failTick(ctx context.Context, cell *grid.Cell, res *TickResult, cause error) (*TickResult, error) {
	res.Err = cause.Error()

	if resilience.IsPermanent(cause) {
		res.Status = grid.StatusFailed
		if err := c.cells.Fail(ctx, cell.ID, cause.Error()); err != nil {
			return res, eris.Wrapf(errors.Join(cause, err), "conductor: fail cell %d", cell.ID)
		}
		zap.L().Warn("conductor: cell failed permanently",
			zap.String("cell", res.Cell),
			zap.Error(cause),
		)
		return res, cause
	}

	res.Status = grid.StatusPending
	if err := c.cells.Release(ctx, cell.ID, cause.Error()); err != nil {
		return res, eris.Wrapf(errors.Join(cause, err), "conductor: release cell %d", cell.ID)
	}
	zap.L().Warn("conductor: tick released for retry",
		zap.String("cell", res.Cell),
		zap.Error(cause),
	)
	return res, cause
}

// RunBatch executes up to n ticks synchronously and returns every per-cell
// summary, including failed ones. A failed cell does not abort the rest of
// the batch; the batch ends early only when no cell is eligible.
func (c *Conductor) RunBatch(ctx context.Context, n int) ([]TickResult, error) {
	if n < 1 {
		n = 1
	}
	if n > MaxBatchSize {
		n = MaxBatchSize
	}

	out := make([]TickResult, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := c.Tick(ctx)
		if err != nil {
			if errors.Is(err, grid.ErrNoEligible) {
				break
			}
			if res == nil {
				// Claim infrastructure failed; nothing per-cell to report.
				return out, err
			}
		}
		if res != nil {
			out = append(out, *res)
		}
	}
	return out, nil
}

// RunWorkers runs the continuous scheduling loop with the given number of
// workers until ctx is cancelled. A reclaim sweep runs alongside the
// workers and returns cells stuck in progress past the staleness threshold
// to the eligible pool.
func (c *Conductor) RunWorkers(ctx context.Context, workers int) error {
	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < workers; i++ {
		worker := i
		g.Go(func() error {
			return c.workerLoop(gctx, worker)
		})
	}
	g.Go(func() error {
		return c.reclaimLoop(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (c *Conductor) workerLoop(ctx context.Context, worker int) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := c.Tick(ctx)
		switch {
		case err == nil:
			continue
		case errors.Is(err, grid.ErrNoEligible):
			zap.L().Debug("conductor: no eligible cells, idling",
				zap.Int("worker", worker),
			)
			if err := sleepCtx(ctx, c.cfg.IdleSleep); err != nil {
				return err
			}
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return err
		default:
			// Tick already transitioned the cell; back off briefly so a
			// rate-limited provider is not hammered.
			if err := sleepCtx(ctx, c.cfg.IdleSleep); err != nil {
				return err
			}
		}
	}
}

func (c *Conductor) reclaimLoop(ctx context.Context) error {
	interval := c.cfg.ClaimStaleness
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := c.now().Add(-interval)
			n, err := c.cells.ReclaimStale(ctx, cutoff)
			if err != nil {
				zap.L().Error("conductor: reclaim sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				zap.L().Warn("conductor: reclaimed stale claims", zap.Int64("cells", n))
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
