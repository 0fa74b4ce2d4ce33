package business

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// SQLiteStore implements Store over database/sql. It shares the handle
// opened by the grid store so both ride the same single-writer connection.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an already-open SQLite handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS businesses (
	id                   TEXT PRIMARY KEY,
	source_id            TEXT NOT NULL UNIQUE,
	name                 TEXT NOT NULL,
	email                TEXT NOT NULL DEFAULT '',
	phone                TEXT NOT NULL DEFAULT '',
	street               TEXT NOT NULL DEFAULT '',
	city                 TEXT NOT NULL DEFAULT '',
	state                TEXT NOT NULL DEFAULT '',
	zip_code             TEXT NOT NULL DEFAULT '',
	category             TEXT NOT NULL DEFAULT '',
	rating               REAL NOT NULL DEFAULT 0,
	review_count         INTEGER NOT NULL DEFAULT 0,
	photo_refs           TEXT NOT NULL DEFAULT '[]',
	review_refs          TEXT NOT NULL DEFAULT '[]',
	qualification_score  INTEGER NOT NULL DEFAULT 0,
	qualification_reason TEXT NOT NULL DEFAULT '',
	coverage_cell_id     INTEGER NOT NULL DEFAULT 0,
	created_at           DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_businesses_cell ON businesses (coverage_cell_id);
CREATE INDEX IF NOT EXISTS idx_businesses_score ON businesses (qualification_score DESC);
`

// EnsureSchema creates the businesses table if needed.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return eris.Wrap(err, "business: sqlite schema")
}

// InsertIfAbsent inserts the business unless its source_id already exists.
func (s *SQLiteStore) InsertIfAbsent(ctx context.Context, b *Business) (bool, error) {
	photoRefs, reviewRefs, err := marshalRefs(b)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO businesses (
			id, source_id, name, email, phone, street, city, state, zip_code,
			category, rating, review_count, photo_refs, review_refs,
			qualification_score, qualification_reason, coverage_cell_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_id) DO NOTHING`,
		b.ID.String(), b.SourceID, b.Name, b.Email, b.Phone, b.Street, b.City, b.State, b.ZipCode,
		b.Category, b.Rating, b.ReviewCount, string(photoRefs), string(reviewRefs),
		b.QualificationScore, b.QualificationReason, b.CoverageCellID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "business: sqlite insert %s", b.SourceID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "business: sqlite rows affected")
	}
	return n > 0, nil
}

// List returns businesses matching opts, highest score first.
func (s *SQLiteStore) List(ctx context.Context, opts ListOpts) ([]Business, error) {
	query := `SELECT ` + businessColumns + ` FROM businesses WHERE qualification_score >= ?`
	args := []any{opts.MinScore}
	if opts.CellID != nil {
		query += ` AND coverage_cell_id = ?`
		args = append(args, *opts.CellID)
	}
	query += ` ORDER BY qualification_score DESC, created_at ASC`
	if opts.Limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(opts.Limit)
	}
	if opts.Offset > 0 {
		query += ` OFFSET ` + strconv.Itoa(opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "business: sqlite list")
	}
	defer rows.Close() //nolint:errcheck

	var out []Business
	for rows.Next() {
		b, err := scanSQLiteBusiness(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "business: sqlite list rows")
	}
	return out, nil
}

// Count returns the total number of stored businesses.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM businesses`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "business: sqlite count")
	}
	return n, nil
}

func scanSQLiteBusiness(row rowScanner) (*Business, error) {
	var (
		b          Business
		id         string
		photoRefs  string
		reviewRefs string
	)
	err := row.Scan(
		&id, &b.SourceID, &b.Name, &b.Email, &b.Phone, &b.Street, &b.City, &b.State, &b.ZipCode,
		&b.Category, &b.Rating, &b.ReviewCount, &photoRefs, &reviewRefs,
		&b.QualificationScore, &b.QualificationReason, &b.CoverageCellID, &b.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "business: sqlite scan")
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, eris.Wrapf(err, "business: sqlite parse id %s", id)
	}
	b.ID = parsed
	if err := decodeRefs(&b, []byte(photoRefs), []byte(reviewRefs)); err != nil {
		return nil, err
	}
	return &b, nil
}
