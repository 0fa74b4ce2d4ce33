// Package qualify decides whether a provider record is a sellable lead and
// scores it. Everything here is pure: no I/O, no clock, no globals, so the
// same record and policy always produce the same verdict.
package qualify

import (
	"math"
	"sort"
	"strings"

	"github.com/sitesmith/hunter/pkg/leadprov"
)

// Reason strings surfaced to operators. Kept short and sentence-cased so
// they read cleanly in exports and tick summaries.
const (
	ReasonQualified     = "Qualified"
	ReasonHasWebsite    = "Already has website"
	ReasonNoContact     = "No contact info"
	ReasonLowRating     = "Rating below minimum"
	ReasonFewReviews    = "Too few reviews"
	ReasonLikelyChain   = "Likely chain"
	ReasonChainDetected = "Chain detected"
)

// Policy holds the qualification thresholds. All fields come from config;
// nothing in this package hard-codes a cutoff.
type Policy struct {
	MinRating      float64
	MinReviews     int
	MaxReviews     int
	RequireContact bool
	// ChainNames is matched case-insensitively as a substring of the
	// business name.
	ChainNames []string
}

// Result is the verdict for a single record.
type Result struct {
	Qualified bool
	// Score is 0 for disqualified records, otherwise 0..100.
	Score  int
	Reason string
}

// Qualify evaluates one record against the policy. Disqualification checks
// run in a fixed order and the first failing check supplies the reason.
func Qualify(rec leadprov.Record, p Policy) Result {
	if strings.TrimSpace(rec.Website) != "" {
		return Result{Reason: ReasonHasWebsite}
	}
	if p.RequireContact && rec.Email == "" && rec.Phone == "" {
		return Result{Reason: ReasonNoContact}
	}
	if rec.Rating < p.MinRating {
		return Result{Reason: ReasonLowRating}
	}
	if rec.ReviewCount < p.MinReviews {
		return Result{Reason: ReasonFewReviews}
	}
	if p.MaxReviews > 0 && rec.ReviewCount > p.MaxReviews {
		return Result{Reason: ReasonLikelyChain}
	}
	if matchesChain(rec.Name, p.ChainNames) {
		return Result{Reason: ReasonChainDetected}
	}
	return Result{
		Qualified: true,
		Score:     score(rec),
		Reason:    ReasonQualified,
	}
}

// score computes the 0..100 lead score for a record that passed every
// disqualification check. Base 50 with additive adjustments; the rating
// term can go negative when the configured minimum sits below 4.0, and
// only the final sum is clamped.
func score(rec leadprov.Record) int {
	s := 50
	s += int(math.Round((rec.Rating - 4.0) * 20))
	switch {
	case rec.ReviewCount >= 20 && rec.ReviewCount <= 100:
		s += 15
	case rec.ReviewCount > 100:
		s += 5
	}
	if rec.Email != "" {
		s += 10
	}
	if rec.PhotoCount >= 5 {
		s += 5
	}
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

func matchesChain(name string, chains []string) bool {
	lower := strings.ToLower(name)
	for _, c := range chains {
		if c == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(c)) {
			return true
		}
	}
	return false
}

// Qualified pairs a record with its score for batch results.
type Qualified struct {
	Record leadprov.Record
	Score  int
}

// FilterBatch qualifies every record and returns the survivors ordered by
// score descending. The sort is stable so equal-score records keep their
// provider order, which keeps batch output deterministic.
func FilterBatch(recs []leadprov.Record, p Policy) []Qualified {
	out := make([]Qualified, 0, len(recs))
	for _, rec := range recs {
		res := Qualify(rec, p)
		if !res.Qualified {
			continue
		}
		out = append(out, Qualified{Record: rec, Score: res.Score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}
