package conductor

import (
	"context"
	"time"

	"github.com/sitesmith/hunter/internal/business"
	"github.com/sitesmith/hunter/internal/grid"
	"github.com/sitesmith/hunter/pkg/leadprov"
)

// mockGrid implements grid.Store for testing. ClaimNext pops from a queue;
// CompleteScrape applies the update and re-queues the cell when it comes
// back pending, which mirrors the immediate-continuation behavior.
type mockGrid struct {
	queue    []*grid.Cell
	claimErr error

	released  map[int64]string
	failed    map[int64]string
	completed map[int64]grid.ScrapeUpdate

	completeErr error
	reclaimed   int64

	current *grid.Cell
}

func newMockGrid(cells ...*grid.Cell) *mockGrid {
	return &mockGrid{
		queue:     cells,
		released:  make(map[int64]string),
		failed:    make(map[int64]string),
		completed: make(map[int64]grid.ScrapeUpdate),
	}
}

func (m *mockGrid) ClaimNext(_ context.Context, _ time.Time) (*grid.Cell, error) {
	if m.claimErr != nil {
		return nil, m.claimErr
	}
	if len(m.queue) == 0 {
		return nil, grid.ErrNoEligible
	}
	cell := m.queue[0]
	m.queue = m.queue[1:]
	cell.Status = grid.StatusInProgress
	m.current = cell
	return cell, nil
}

func (m *mockGrid) Release(_ context.Context, id int64, errMsg string) error {
	m.released[id] = errMsg
	return nil
}

func (m *mockGrid) Fail(_ context.Context, id int64, errMsg string) error {
	m.failed[id] = errMsg
	return nil
}

func (m *mockGrid) CompleteScrape(_ context.Context, id int64, upd grid.ScrapeUpdate) error {
	if m.completeErr != nil {
		return m.completeErr
	}
	m.completed[id] = upd
	if m.current != nil && m.current.ID == id {
		m.current.ScrapeCount++
		m.current.ScrapeOffset += upd.Returned
		m.current.HasMoreResults = upd.HasMore
		m.current.Status = upd.NextStatus
		m.current.CooldownUntil = upd.CooldownUntil
		if upd.NextStatus == grid.StatusPending {
			m.queue = append(m.queue, m.current)
		}
	}
	return nil
}

func (m *mockGrid) ReclaimStale(_ context.Context, _ time.Time) (int64, error) {
	return m.reclaimed, nil
}

func (m *mockGrid) SeedCells(_ context.Context, _ []grid.Cell) (int64, error) {
	return 0, nil
}

func (m *mockGrid) Status(_ context.Context) (*grid.GridStatus, error) {
	return &grid.GridStatus{}, nil
}

func (m *mockGrid) ListCells(_ context.Context, _ grid.ListOpts) ([]grid.Cell, error) {
	return nil, nil
}

func (m *mockGrid) RecomputePriorities(_ context.Context, _ func(*grid.Cell) int) (int64, error) {
	return 0, nil
}

// mockBusinesses implements business.Store, deduplicating on source id.
type mockBusinesses struct {
	bySource  map[string]*business.Business
	insertErr error
}

func newMockBusinesses() *mockBusinesses {
	return &mockBusinesses{bySource: make(map[string]*business.Business)}
}

func (m *mockBusinesses) InsertIfAbsent(_ context.Context, b *business.Business) (bool, error) {
	if m.insertErr != nil {
		return false, m.insertErr
	}
	if _, ok := m.bySource[b.SourceID]; ok {
		return false, nil
	}
	m.bySource[b.SourceID] = b
	return true, nil
}

func (m *mockBusinesses) List(_ context.Context, _ business.ListOpts) ([]business.Business, error) {
	out := make([]business.Business, 0, len(m.bySource))
	for _, b := range m.bySource {
		out = append(out, *b)
	}
	return out, nil
}

func (m *mockBusinesses) Count(_ context.Context) (int64, error) {
	return int64(len(m.bySource)), nil
}

// mockProvider replays scripted responses and records each request.
type mockProvider struct {
	responses []providerReply
	requests  []leadprov.SearchRequest
}

type providerReply struct {
	resp *leadprov.SearchResponse
	err  error
}

func (m *mockProvider) Search(_ context.Context, req leadprov.SearchRequest) (*leadprov.SearchResponse, error) {
	m.requests = append(m.requests, req)
	if len(m.responses) == 0 {
		return &leadprov.SearchResponse{}, nil
	}
	reply := m.responses[0]
	m.responses = m.responses[1:]
	return reply.resp, reply.err
}
