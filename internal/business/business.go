// Package business persists qualified leads. Rows are keyed by the
// provider's external id so re-processing a record is a no-op rather
// than a duplicate.
package business

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sitesmith/hunter/pkg/leadprov"
)

// Business is one qualified lead as stored.
type Business struct {
	ID       uuid.UUID `json:"id"`
	SourceID string    `json:"source_id"`
	Name     string    `json:"name"`
	Email    string    `json:"email,omitempty"`
	Phone    string    `json:"phone,omitempty"`
	Street   string    `json:"street,omitempty"`
	City     string    `json:"city,omitempty"`
	State    string    `json:"state,omitempty"`
	ZipCode  string    `json:"zip_code,omitempty"`
	Category string    `json:"category,omitempty"`

	Rating      float64  `json:"rating"`
	ReviewCount int      `json:"review_count"`
	PhotoRefs   []string `json:"photo_refs,omitempty"`
	ReviewRefs  []string `json:"review_refs,omitempty"`

	QualificationScore  int    `json:"qualification_score"`
	QualificationReason string `json:"qualification_reason"`

	// CoverageCellID is the grid cell whose scrape produced this lead.
	CoverageCellID int64     `json:"coverage_cell_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// FromRecord builds a Business from a normalized provider record and its
// qualification outcome. The caller assigns the coverage cell.
func FromRecord(rec leadprov.Record, score int, reason string, cellID int64) *Business {
	return &Business{
		ID:                  uuid.New(),
		SourceID:            rec.SourceID,
		Name:                rec.Name,
		Email:               rec.Email,
		Phone:               rec.Phone,
		Street:              rec.Street,
		City:                rec.City,
		State:               rec.State,
		ZipCode:             rec.ZipCode,
		Category:            rec.Category,
		Rating:              rec.Rating,
		ReviewCount:         rec.ReviewCount,
		PhotoRefs:           rec.PhotoRefs,
		ReviewRefs:          rec.ReviewRefs,
		QualificationScore:  score,
		QualificationReason: reason,
		CoverageCellID:      cellID,
	}
}

// ListOpts filters and pages List results.
type ListOpts struct {
	// CellID restricts results to one coverage cell when non-nil.
	CellID   *int64
	MinScore int
	Limit    int
	Offset   int
}

// Store persists qualified businesses.
type Store interface {
	// InsertIfAbsent writes b unless a row with the same source id already
	// exists. Returns true when a new row was created.
	InsertIfAbsent(ctx context.Context, b *Business) (bool, error)
	List(ctx context.Context, opts ListOpts) ([]Business, error)
	Count(ctx context.Context) (int64, error)
}
