package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sipkd-core/sipkd/internal/shared"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx so the increment can
// join the caller's transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGStore issues numbers from the sequence_counters table.
type PGStore struct {
	q       Querier
	txBound bool
}

// NewPGStore builds a store over the shared pool. Increments run as
// standalone statements and may be retried by the Allocator.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{q: pool}
}

// BindTx builds a store over an open transaction so the allocation commits
// or rolls back together with the dependent write. Conflicts abort the whole
// transaction; the caller owns the retry.
func BindTx(tx pgx.Tx) *PGStore {
	return &PGStore{q: tx, txBound: true}
}

// Increment atomically bumps and returns the counter for (category, scope).
// A single upsert statement does the read-increment-write so two concurrent
// callers can never observe the same value.
func (s *PGStore) Increment(ctx context.Context, category Category, scope string) (int64, error) {
	if !category.Valid() {
		return 0, ErrUnknownCategory
	}
	var issued int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO sequence_counters (category, scope, last_issued, updated_at)
		VALUES ($1, $2, 1, NOW())
		ON CONFLICT (category, scope)
		DO UPDATE SET last_issued = sequence_counters.last_issued + 1, updated_at = NOW()
		RETURNING last_issued
	`, string(category), scope).Scan(&issued)
	if err != nil {
		if !s.txBound && isSerializationFailure(err) {
			return 0, fmt.Errorf("%w: %v", ErrRetryable, err)
		}
		return 0, err
	}
	return issued, nil
}

// Current reads the counter without bumping it.
func (s *PGStore) Current(ctx context.Context, category Category, scope string) (Counter, error) {
	var c Counter
	var cat string
	err := s.q.QueryRow(ctx, `
		SELECT category, scope, last_issued, updated_at
		FROM sequence_counters WHERE category = $1 AND scope = $2
	`, string(category), scope).Scan(&cat, &c.Scope, &c.LastIssued, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Counter{}, shared.ErrNotFound
		}
		return Counter{}, err
	}
	c.Category = Category(cat)
	return c, nil
}

// RecordVoid persists an explicit void so the gap stays accountable.
func (s *PGStore) RecordVoid(ctx context.Context, v Void) error {
	if v.Reason == "" {
		return errors.New("sequence: void reason required")
	}
	at := v.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO sequence_voids (category, scope, number, actor_id, reason, voided_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, string(v.Category), v.Scope, v.Number, v.ActorID, v.Reason, at)
	return err
}

// ListVoids returns voids for a counter ordered by number.
func (s *PGStore) ListVoids(ctx context.Context, category Category, scope string) ([]Void, error) {
	rows, err := s.q.Query(ctx, `
		SELECT category, scope, number, actor_id, reason, voided_at
		FROM sequence_voids WHERE category = $1 AND scope = $2 ORDER BY number ASC
	`, string(category), scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var voids []Void
	for rows.Next() {
		var v Void
		var cat string
		if err := rows.Scan(&cat, &v.Scope, &v.Number, &v.ActorID, &v.Reason, &v.At); err != nil {
			return nil, err
		}
		v.Category = Category(cat)
		voids = append(voids, v)
	}
	return voids, rows.Err()
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
