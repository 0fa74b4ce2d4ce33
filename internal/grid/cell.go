// Package grid persists the national market-coverage grid: one cell per
// (location, industry) tuple, with the scheduling state the conductor
// advances on every tick.
package grid

import (
	"fmt"
	"time"
)

// Status is the scheduling state of a coverage cell.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCooldown   Status = "cooldown"
	StatusPaused     Status = "paused"
	StatusFailed     Status = "failed"
)

// Cell is one coverage grid entry. Identity is the
// (country, state, city, industry, subcategory) tuple.
type Cell struct {
	ID          int64  `json:"id" db:"id"`
	Country     string `json:"country" db:"country"`
	State       string `json:"state" db:"state"`
	City        string `json:"city" db:"city"`
	Industry    string `json:"industry" db:"industry"`
	Subcategory string `json:"subcategory,omitempty" db:"subcategory"`

	Population int    `json:"population" db:"population"`
	Status     Status `json:"status" db:"status"`
	Priority   int    `json:"priority" db:"priority"`

	ScrapeCount         int  `json:"scrape_count" db:"scrape_count"`
	ScrapeOffset        int  `json:"scrape_offset" db:"scrape_offset"`
	HasMoreResults      bool `json:"has_more_results" db:"has_more_results"`
	MaxResultsAvailable *int `json:"max_results_available,omitempty" db:"max_results_available"`
	LastScrapeSize      int  `json:"last_scrape_size" db:"last_scrape_size"`

	LeadCount       int `json:"lead_count" db:"lead_count"`
	QualifiedCount  int `json:"qualified_count" db:"qualified_count"`
	SiteCount       int `json:"site_count" db:"site_count"`
	ConversionCount int `json:"conversion_count" db:"conversion_count"`

	LastScrapedAt *time.Time `json:"last_scraped_at,omitempty" db:"last_scraped_at"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty" db:"cooldown_until"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty" db:"claimed_at"`
	ErrorMessage  string     `json:"error_message,omitempty" db:"error_message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Query returns the search term sent to the lead provider: the subcategory
// when one is set, otherwise the industry.
func (c *Cell) Query() string {
	if c.Subcategory != "" {
		return c.Subcategory
	}
	return c.Industry
}

// Identity renders the cell's identity tuple for logs and summaries.
func (c *Cell) Identity() string {
	s := fmt.Sprintf("%s/%s/%s/%s", c.Country, c.State, c.City, c.Industry)
	if c.Subcategory != "" {
		s += "/" + c.Subcategory
	}
	return s
}

// Transition computes the post-scrape scheduling state from the provider's
// has_more signal. Keeping it a pure function makes the offset/cooldown
// coupling testable without I/O.
//
// A cell with more results pending goes straight back to pending and stays
// immediately eligible; an exhausted cell enters cooldown. Paused and failed
// cells never transition here.
func Transition(hasMore bool, prev Status, now time.Time, cooldown time.Duration) (Status, *time.Time) {
	switch prev {
	case StatusPaused, StatusFailed:
		return prev, nil
	}
	if hasMore {
		return StatusPending, nil
	}
	until := now.Add(cooldown)
	return StatusCooldown, &until
}

// ScrapeUpdate carries the outcome of one successful tick into the store.
// Counters are applied additively; offset moves by Returned.
type ScrapeUpdate struct {
	Returned       int
	Qualified      int
	HasMore        bool
	TotalAvailable *int
	LastScrapedAt  time.Time
	NextStatus     Status
	CooldownUntil  *time.Time
	Priority       int
}

// GridStatus aggregates per-status counts and running totals for reporting.
type GridStatus struct {
	ByStatus       map[Status]int `json:"by_status"`
	TotalCells     int            `json:"total_cells"`
	TotalScrapes   int            `json:"total_scrapes"`
	TotalLeads     int            `json:"total_leads"`
	TotalQualified int            `json:"total_qualified"`
}

// ListOpts filters cell listings.
type ListOpts struct {
	Status *Status
	Limit  int
	Offset int
}
