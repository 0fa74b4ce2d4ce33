package conductor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitesmith/hunter/internal/cost"
	"github.com/sitesmith/hunter/internal/grid"
	"github.com/sitesmith/hunter/internal/qualify"
	"github.com/sitesmith/hunter/internal/resilience"
	"github.com/sitesmith/hunter/internal/scorer"
	"github.com/sitesmith/hunter/pkg/leadprov"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		PageSize:       20,
		Cooldown:       168 * time.Hour,
		ClaimStaleness: 15 * time.Minute,
		IdleSleep:      time.Millisecond,
		Policy: qualify.Policy{
			MinRating:      4.0,
			MinReviews:     10,
			MaxReviews:     500,
			RequireContact: true,
		},
		Tiers: scorer.TierTable{"plumber": 3},
		Rates: cost.Rates{PerRecord: 0.032},
	}
}

func testCell() *grid.Cell {
	return &grid.Cell{
		ID:             7,
		Country:        "US",
		State:          "IL",
		City:           "Springfield",
		Industry:       "plumber",
		Population:     120_000,
		Status:         grid.StatusPending,
		ScrapeCount:    2,
		ScrapeOffset:   50,
		HasMoreResults: true,
	}
}

func qualRecord(id string) leadprov.Record {
	return leadprov.Record{
		SourceID:    id,
		Name:        "Business " + id,
		Phone:       "555-0100",
		Rating:      4.5,
		ReviewCount: 50,
	}
}

func records(n int) []leadprov.Record {
	out := make([]leadprov.Record, n)
	for i := range out {
		out[i] = qualRecord(fmt.Sprintf("pl-%d", i))
	}
	return out
}

// page builds a clean provider page where every served record survived
// normalization.
func page(n int, hasMore bool) *leadprov.SearchResponse {
	return &leadprov.SearchResponse{Records: records(n), Returned: n, HasMore: hasMore}
}

func newTestConductor(g *mockGrid, b *mockBusinesses, p *mockProvider) *Conductor {
	c := New(g, b, p, testConfig())
	c.now = func() time.Time { return testNow }
	return c
}

func TestTick_MoreResultsContinues(t *testing.T) {
	g := newMockGrid(testCell())
	b := newMockBusinesses()
	p := &mockProvider{responses: []providerReply{
		{resp: page(20, true)},
	}}

	res, err := newTestConductor(g, b, p).Tick(context.Background())
	require.NoError(t, err)

	// The search resumed from the stored offset.
	require.Len(t, p.requests, 1)
	assert.Equal(t, 50, p.requests[0].Offset)
	assert.Equal(t, "plumber", p.requests[0].Industry)
	assert.Equal(t, "Springfield", p.requests[0].City)

	assert.Equal(t, 20, res.Scraped)
	assert.Equal(t, 20, res.Qualified)
	assert.Equal(t, 20, res.Saved)
	assert.Equal(t, grid.StatusPending, res.Status)
	assert.InDelta(t, 0.64, res.CostUSD, 1e-9)

	upd, ok := g.completed[7]
	require.True(t, ok)
	assert.Equal(t, 20, upd.Returned)
	assert.True(t, upd.HasMore)
	// More results pending: stays eligible with no cooldown.
	assert.Equal(t, grid.StatusPending, upd.NextStatus)
	assert.Nil(t, upd.CooldownUntil)
	assert.Equal(t, testNow, upd.LastScrapedAt)
}

func TestTick_ExhaustedEntersCooldown(t *testing.T) {
	g := newMockGrid(testCell())
	b := newMockBusinesses()
	p := &mockProvider{responses: []providerReply{
		{resp: page(10, false)},
	}}

	res, err := newTestConductor(g, b, p).Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, grid.StatusCooldown, res.Status)

	upd := g.completed[7]
	assert.Equal(t, grid.StatusCooldown, upd.NextStatus)
	require.NotNil(t, upd.CooldownUntil)
	assert.Equal(t, testNow.Add(168*time.Hour), *upd.CooldownUntil)
}

func TestTick_NoEligible(t *testing.T) {
	c := newTestConductor(newMockGrid(), newMockBusinesses(), &mockProvider{})
	_, err := c.Tick(context.Background())
	assert.ErrorIs(t, err, grid.ErrNoEligible)
}

func TestTick_PermanentFailureMarksFailed(t *testing.T) {
	g := newMockGrid(testCell())
	p := &mockProvider{responses: []providerReply{
		{err: resilience.NewPermanentError(errors.New("invalid api key"), 403)},
	}}

	res, err := newTestConductor(g, newMockBusinesses(), p).Tick(context.Background())
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, grid.StatusFailed, res.Status)
	assert.NotEmpty(t, res.Err)
	assert.Contains(t, g.failed[7], "invalid api key")
	assert.Empty(t, g.released)
}

func TestTick_RetryableFailureReleases(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"rate limited", resilience.NewRateLimitedError(errors.New("too many requests"), 429)},
		{"transient", resilience.NewTransientError(errors.New("bad gateway"), 502)},
		{"circuit open", resilience.ErrCircuitOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newMockGrid(testCell())
			p := &mockProvider{responses: []providerReply{{err: tt.err}}}

			res, err := newTestConductor(g, newMockBusinesses(), p).Tick(context.Background())
			require.Error(t, err)
			require.NotNil(t, res)
			assert.Equal(t, grid.StatusPending, res.Status)
			assert.NotEmpty(t, g.released[7])
			assert.Empty(t, g.failed)
		})
	}
}

func TestTick_PersistenceFailureReleasesClaim(t *testing.T) {
	g := newMockGrid(testCell())
	b := newMockBusinesses()
	b.insertErr = errors.New("connection reset")
	p := &mockProvider{responses: []providerReply{
		{resp: page(5, true)},
	}}

	res, err := newTestConductor(g, b, p).Tick(context.Background())
	require.Error(t, err)
	require.NotNil(t, res)
	// The write failed but the cell is not stranded in progress.
	assert.Equal(t, grid.StatusPending, res.Status)
	assert.Contains(t, g.released[7], "connection reset")
	assert.Empty(t, g.completed)
}

func TestTick_IdempotentIngestion(t *testing.T) {
	b := newMockBusinesses()
	p := &mockProvider{responses: []providerReply{
		{resp: page(3, true)},
		{resp: page(3, false)},
	}}
	c := newTestConductor(newMockGrid(testCell()), b, p)

	first, err := c.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, first.Saved)

	// Same records again: qualified but nothing new is written.
	second, err := c.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, second.Qualified)
	assert.Equal(t, 0, second.Saved)

	n, err := b.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestTick_DisqualifiedNotSaved(t *testing.T) {
	withSite := qualRecord("pl-site")
	withSite.Website = "https://existing.com"
	p := &mockProvider{responses: []providerReply{
		{resp: &leadprov.SearchResponse{Records: []leadprov.Record{qualRecord("pl-ok"), withSite}, Returned: 2, HasMore: false}},
	}}
	b := newMockBusinesses()

	res, err := newTestConductor(newMockGrid(testCell()), b, p).Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scraped)
	assert.Equal(t, 1, res.Qualified)
	assert.Equal(t, 1, res.Saved)
	_, saved := b.bySource["pl-site"]
	assert.False(t, saved)
}

func TestRunBatch_CollectsSummaries(t *testing.T) {
	cellA := testCell()
	cellB := testCell()
	cellB.ID = 8
	cellB.City = "Peoria"

	g := newMockGrid(cellA, cellB)
	p := &mockProvider{responses: []providerReply{
		{resp: page(2, false)},
		{err: resilience.NewTransientError(errors.New("bad gateway"), 502)},
	}}

	out, err := newTestConductor(g, newMockBusinesses(), p).RunBatch(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, int64(7), out[0].CellID)
	assert.Empty(t, out[0].Err)
	// The second cell failed but did not abort the batch.
	assert.Equal(t, int64(8), out[1].CellID)
	assert.NotEmpty(t, out[1].Err)
}

func TestRunBatch_ContinuationReselectsCell(t *testing.T) {
	g := newMockGrid(testCell())
	p := &mockProvider{responses: []providerReply{
		{resp: page(20, true)},
		{resp: page(10, false)},
	}}

	out, err := newTestConductor(g, newMockBusinesses(), p).RunBatch(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, out, 2)

	// Same cell both times, offset advanced between ticks.
	assert.Equal(t, int64(7), out[0].CellID)
	assert.Equal(t, int64(7), out[1].CellID)
	require.Len(t, p.requests, 2)
	assert.Equal(t, 50, p.requests[0].Offset)
	assert.Equal(t, 70, p.requests[1].Offset)
	assert.Equal(t, grid.StatusCooldown, out[1].Status)
}

func TestRunBatch_MalformedRecordsStillAdvanceOffset(t *testing.T) {
	g := newMockGrid(testCell())

	// The provider served three records but one was dropped during
	// normalization, so Records is short of Returned. The cursor and
	// the bill move by the served count; only qualification sees the
	// shorter slice.
	dirty := page(3, true)
	dirty.Records = records(2)

	p := &mockProvider{responses: []providerReply{
		{resp: dirty},
		{resp: page(3, false)},
	}}

	out, err := newTestConductor(g, newMockBusinesses(), p).RunBatch(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, 3, out[0].Scraped)
	assert.Equal(t, 2, out[0].Qualified)
	assert.InDelta(t, 3*0.032, out[0].CostUSD, 1e-9)

	// The continuation resumes past the full served page, not past the
	// normalized remainder.
	require.Len(t, p.requests, 2)
	assert.Equal(t, 50, p.requests[0].Offset)
	assert.Equal(t, 53, p.requests[1].Offset)
}

func TestTick_ProjectedSpendFromReportedTotal(t *testing.T) {
	g := newMockGrid(testCell())
	total := 150
	resp := page(20, true)
	resp.TotalAvailable = &total
	p := &mockProvider{responses: []providerReply{{resp: resp}}}

	res, err := newTestConductor(g, newMockBusinesses(), p).Tick(context.Background())
	require.NoError(t, err)

	// 150 reported minus 70 fetched so far leaves 80 records to pay for.
	assert.InDelta(t, 80*0.032, res.ProjectedUSD, 1e-9)
}

func TestRunBatch_ClampsSize(t *testing.T) {
	g := newMockGrid()
	c := newTestConductor(g, newMockBusinesses(), &mockProvider{})

	out, err := c.RunBatch(context.Background(), 1000)
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = c.RunBatch(context.Background(), -3)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRunWorkers_StopsOnCancel(t *testing.T) {
	g := newMockGrid()
	c := newTestConductor(g, newMockBusinesses(), &mockProvider{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.RunWorkers(ctx, 2) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not stop after cancel")
	}
}
