package leadprov

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sitesmith/hunter/internal/resilience"
)

const defaultBaseURL = "https://api.leaddata.io/v1"

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.timeout = d
	}
}

// WithRateLimit sets the request rate limit in requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	timeout time.Duration
	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
}

// NewClient creates a lead provider API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		timeout: 30 * time.Second,
		http:    &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(10), 1),
	}
	breakerCfg := resilience.DefaultCircuitBreakerConfig()
	// Permanent 4xx responses are caller mistakes; only provider-side
	// trouble should open the breaker.
	breakerCfg.ShouldTrip = resilience.IsRetryable
	c.breaker = resilience.NewCircuitBreaker(breakerCfg)
	for _, o := range opts {
		o(c)
	}
	return c
}

type searchRequest struct {
	Query  string `json:"query"`
	City   string `json:"city"`
	State  string `json:"state"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

// rawRecord is the provider's wire shape for a single business.
type rawRecord struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Website     string   `json:"website"`
	Email       string   `json:"email"`
	Phone       string   `json:"phone"`
	Street      string   `json:"street"`
	City        string   `json:"city"`
	State       string   `json:"state"`
	ZipCode     string   `json:"zip_code"`
	Category    string   `json:"category"`
	Rating      float64  `json:"rating"`
	ReviewCount int      `json:"review_count"`
	Photos      []string `json:"photos"`
	Reviews     []string `json:"reviews"`
}

type searchResponse struct {
	Results        []json.RawMessage `json:"results"`
	HasMore        bool              `json:"has_more"`
	TotalAvailable *int              `json:"total_available"`
}

// Search performs one paginated search call. Failures are classified into
// the rate-limited / transient / permanent taxonomy; individual malformed
// records are skipped, never failing the page.
func (c *httpClient) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (*SearchResponse, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "leadprov: rate limit wait")
		}
		return c.search(ctx, req)
	})
}

func (c *httpClient) search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(searchRequest{
		Query:  req.Industry,
		City:   req.City,
		State:  req.State,
		Offset: req.Offset,
		Limit:  req.Limit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "leadprov: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/businesses/search", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "leadprov: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "leadprov: send request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "leadprov: read response"), 0)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.ClassifyHTTPStatus(
			eris.Errorf("leadprov: unexpected status %d: %s", resp.StatusCode, truncate(respBody, 256)),
			resp.StatusCode,
		)
	}

	var wire searchResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, eris.Wrap(err, "leadprov: unmarshal response")
	}

	out := &SearchResponse{
		Returned:       len(wire.Results),
		TotalAvailable: wire.TotalAvailable,
	}
	for _, raw := range wire.Results {
		rec, err := normalize(raw)
		if err != nil {
			zap.L().Warn("skipping malformed provider record", zap.Error(err))
			continue
		}
		out.Records = append(out.Records, rec)
	}

	// The provider can claim more pages while returning a short page; treat
	// a short page as exhaustion either way.
	out.HasMore = wire.HasMore && len(wire.Results) >= req.Limit

	return out, nil
}

// normalize converts a provider wire record into the strict Record shape.
// A record without a source id or name is malformed.
func normalize(raw json.RawMessage) (Record, error) {
	var r rawRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return Record{}, eris.Wrap(err, "leadprov: decode record")
	}
	if r.ID == "" {
		return Record{}, eris.New("leadprov: record missing id")
	}
	if r.Name == "" {
		return Record{}, eris.Errorf("leadprov: record %s missing name", r.ID)
	}
	return Record{
		SourceID:    r.ID,
		Name:        r.Name,
		Website:     r.Website,
		Email:       r.Email,
		Phone:       r.Phone,
		Street:      r.Street,
		City:        r.City,
		State:       r.State,
		ZipCode:     r.ZipCode,
		Category:    r.Category,
		Rating:      r.Rating,
		ReviewCount: r.ReviewCount,
		PhotoCount:  len(r.Photos),
		PhotoRefs:   r.Photos,
		ReviewRefs:  r.Reviews,
		Raw:         raw,
	}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
