package tax

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/sipkd-core/sipkd/internal/audit"
	"github.com/sipkd-core/sipkd/internal/platform/db"
	"github.com/sipkd-core/sipkd/internal/shared"
)

// Repository provides PostgreSQL backed persistence for tax lines.
type Repository struct {
	pool     *pgxpool.Pool
	recorder *audit.Recorder
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, recorder *audit.Recorder) *Repository {
	return &Repository{pool: pool, recorder: recorder}
}

type txRepo struct {
	tx       pgx.Tx
	recorder *audit.Recorder
}

// WithTx wraps the callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, recorder: r.recorder})
	})
}

// Lines returns the tax lines of a document ordered by kind.
func (r *Repository) Lines(ctx context.Context, documentID uuid.UUID) ([]Line, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, document_id, kind, billing_code, base::text, rate::text, amount::text
		FROM tagihan_tax_lines WHERE document_id = $1 ORDER BY kind ASC
	`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var line Line
		var kind, base, rate, amount string
		if err := rows.Scan(&line.ID, &line.DocumentID, &kind, &line.BillingCode, &base, &rate, &amount); err != nil {
			return nil, err
		}
		line.Kind = Kind(kind)
		if line.Base, err = decimal.NewFromString(base); err != nil {
			return nil, fmt.Errorf("tax: parse base: %w", err)
		}
		if line.Rate, err = decimal.NewFromString(rate); err != nil {
			return nil, fmt.Errorf("tax: parse rate: %w", err)
		}
		if line.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("tax: parse amount: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// DocumentState locks the document row and reports registration and tax
// status. The row lock keeps concurrent tax mutations serialised per
// document.
func (tx *txRepo) DocumentState(ctx context.Context, documentID uuid.UUID) (DocumentState, error) {
	var state DocumentState
	err := tx.tx.QueryRow(ctx, `
		SELECT registration_number IS NOT NULL, tax_status = 'ENTERED'
		FROM tagihan WHERE id = $1 FOR UPDATE
	`, documentID).Scan(&state.Registered, &state.TaxEntered)
	if errors.Is(err, pgx.ErrNoRows) {
		return DocumentState{}, fmt.Errorf("%w: tagihan %s", shared.ErrNotFound, documentID)
	}
	return state, err
}

// ReplaceLines swaps the document's tax lines wholesale.
func (tx *txRepo) ReplaceLines(ctx context.Context, documentID uuid.UUID, lines []Line) error {
	if err := tx.DeleteLines(ctx, documentID); err != nil {
		return err
	}
	for _, line := range lines {
		_, err := tx.tx.Exec(ctx, `
			INSERT INTO tagihan_tax_lines (id, document_id, kind, billing_code, base, rate, amount)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, line.ID, line.DocumentID, string(line.Kind), line.BillingCode,
			line.Base.String(), line.Rate.String(), line.Amount.String())
		if err != nil {
			return fmt.Errorf("tax: insert line: %w", err)
		}
	}
	return nil
}

// DeleteLines removes all tax lines of the document.
func (tx *txRepo) DeleteLines(ctx context.Context, documentID uuid.UUID) error {
	_, err := tx.tx.Exec(ctx, `DELETE FROM tagihan_tax_lines WHERE document_id = $1`, documentID)
	return err
}

// SetTaxEntered flips tax_status on the document. Nothing else on the row
// is written from the tax lifecycle.
func (tx *txRepo) SetTaxEntered(ctx context.Context, documentID uuid.UUID, entered bool, at time.Time) error {
	status := "NOT_ENTERED"
	if entered {
		status = "ENTERED"
	}
	tag, err := tx.tx.Exec(ctx, `
		UPDATE tagihan SET tax_status = $2, updated_at = $3 WHERE id = $1
	`, documentID, status, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: tagihan %s", shared.ErrNotFound, documentID)
	}
	return nil
}

// RecordAudit appends the event on this transaction.
func (tx *txRepo) RecordAudit(ctx context.Context, ev audit.Event) error {
	return tx.recorder.Record(ctx, tx.tx, ev)
}
