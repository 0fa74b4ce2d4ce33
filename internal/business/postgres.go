package business

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sitesmith/hunter/internal/db"
)

const businessColumns = `id, source_id, name, email, phone, street, city, state, zip_code,
	category, rating, review_count, photo_refs, review_refs,
	qualification_score, qualification_reason, coverage_cell_id, created_at`

// PostgresStore implements Store over pgx.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// InsertIfAbsent inserts the business, deduplicating on source_id. The
// unique constraint does the work; ON CONFLICT DO NOTHING keeps replays
// silent and the RowsAffected count says whether anything was written.
func (s *PostgresStore) InsertIfAbsent(ctx context.Context, b *Business) (bool, error) {
	photoRefs, reviewRefs, err := marshalRefs(b)
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO businesses (
			id, source_id, name, email, phone, street, city, state, zip_code,
			category, rating, review_count, photo_refs, review_refs,
			qualification_score, qualification_reason, coverage_cell_id
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14,
			$15, $16, $17
		) ON CONFLICT (source_id) DO NOTHING`,
		b.ID, b.SourceID, b.Name, b.Email, b.Phone, b.Street, b.City, b.State, b.ZipCode,
		b.Category, b.Rating, b.ReviewCount, photoRefs, reviewRefs,
		b.QualificationScore, b.QualificationReason, b.CoverageCellID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "business: insert %s", b.SourceID)
	}
	return tag.RowsAffected() > 0, nil
}

// List returns businesses matching opts, highest score first.
func (s *PostgresStore) List(ctx context.Context, opts ListOpts) ([]Business, error) {
	query := `SELECT ` + businessColumns + ` FROM businesses WHERE qualification_score >= $1`
	args := []any{opts.MinScore}
	if opts.CellID != nil {
		args = append(args, *opts.CellID)
		query += ` AND coverage_cell_id = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY qualification_score DESC, created_at ASC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "business: list")
	}
	defer rows.Close()

	var out []Business
	for rows.Next() {
		b, err := scanBusiness(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "business: list rows")
	}
	return out, nil
}

// Count returns the total number of stored businesses.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM businesses`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "business: count")
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBusiness(row rowScanner) (*Business, error) {
	var (
		b          Business
		photoRefs  []byte
		reviewRefs []byte
	)
	err := row.Scan(
		&b.ID, &b.SourceID, &b.Name, &b.Email, &b.Phone, &b.Street, &b.City, &b.State, &b.ZipCode,
		&b.Category, &b.Rating, &b.ReviewCount, &photoRefs, &reviewRefs,
		&b.QualificationScore, &b.QualificationReason, &b.CoverageCellID, &b.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "business: scan")
	}
	if err := decodeRefs(&b, photoRefs, reviewRefs); err != nil {
		return nil, err
	}
	return &b, nil
}

func decodeRefs(b *Business, photoRefs, reviewRefs []byte) error {
	if len(photoRefs) > 0 {
		if err := json.Unmarshal(photoRefs, &b.PhotoRefs); err != nil {
			return eris.Wrapf(err, "business: decode photo refs for %s", b.SourceID)
		}
	}
	if len(reviewRefs) > 0 {
		if err := json.Unmarshal(reviewRefs, &b.ReviewRefs); err != nil {
			return eris.Wrapf(err, "business: decode review refs for %s", b.SourceID)
		}
	}
	return nil
}

func marshalRefs(b *Business) ([]byte, []byte, error) {
	photoRefs, err := json.Marshal(emptyIfNil(b.PhotoRefs))
	if err != nil {
		return nil, nil, eris.Wrapf(err, "business: encode photo refs for %s", b.SourceID)
	}
	reviewRefs, err := json.Marshal(emptyIfNil(b.ReviewRefs))
	if err != nil {
		return nil, nil, eris.Wrapf(err, "business: encode review refs for %s", b.SourceID)
	}
	return photoRefs, reviewRefs, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
