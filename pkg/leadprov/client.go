// Package leadprov wraps the paginated lead-data provider API behind a
// normalized record shape. Downstream qualification never sees provider
// field names.
package leadprov

import (
	"context"
	"encoding/json"
)

// Record is a normalized business candidate returned by the provider.
type Record struct {
	SourceID    string          `json:"source_id"`
	Name        string          `json:"name"`
	Website     string          `json:"website,omitempty"`
	Email       string          `json:"email,omitempty"`
	Phone       string          `json:"phone,omitempty"`
	Street      string          `json:"street,omitempty"`
	City        string          `json:"city,omitempty"`
	State       string          `json:"state,omitempty"`
	ZipCode     string          `json:"zip_code,omitempty"`
	Category    string          `json:"category,omitempty"`
	Rating      float64         `json:"rating"`
	ReviewCount int             `json:"review_count"`
	PhotoCount  int             `json:"photo_count"`
	PhotoRefs   []string        `json:"photo_refs,omitempty"`
	ReviewRefs  []string        `json:"review_refs,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// SearchRequest identifies one page of a cell search.
type SearchRequest struct {
	Industry string
	City     string
	State    string
	Offset   int
	Limit    int
}

// SearchResponse is one page of normalized results.
type SearchResponse struct {
	Records []Record
	// Returned counts every record the provider served on this page,
	// including ones dropped during normalization. Offset and cost
	// accounting must advance by Returned, not len(Records), or the
	// cursor would re-fetch pages containing malformed records.
	Returned int
	// HasMore is false when the provider signalled exhaustion or returned
	// fewer than Limit records.
	HasMore bool
	// TotalAvailable is the provider's reported total for the query, when known.
	TotalAvailable *int
}

// Client performs lead provider search operations. Implementations hold no
// cross-call state and perform no persistence.
type Client interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
}
