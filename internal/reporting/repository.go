package reporting

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Querier is satisfied by *pgxpool.Pool.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGRepository runs aggregation queries against PostgreSQL.
type PGRepository struct {
	q Querier
}

// NewPGRepository constructs the read-only repository.
func NewPGRepository(q Querier) *PGRepository {
	return &PGRepository{q: q}
}

// Aggregate groups documents by the given column. The column is resolved
// from the service-side whitelist, never from user input directly.
func (r *PGRepository) Aggregate(ctx context.Context, column string, q Query) ([]Bucket, error) {
	conds := []string{"TRUE"}
	var args []any
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !q.From.IsZero() {
		add("created_at >= $%d", q.From)
	}
	if !q.To.IsZero() {
		add("created_at < $%d", q.To)
	}
	if q.FiscalYear != 0 {
		add("fiscal_year = $%d", q.FiscalYear)
	}
	query := fmt.Sprintf(`
		SELECT %s, COUNT(*), COALESCE(SUM(gross_amount), 0)::text
		FROM tagihan WHERE %s
		GROUP BY %s ORDER BY %s ASC
	`, column, joinAnd(conds), column, column)
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var buckets []Bucket
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.Key, &b.Count, &b.Total); err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

func joinAnd(conds []string) string {
	out := conds[0]
	for _, cond := range conds[1:] {
		out += " AND " + cond
	}
	return out
}
