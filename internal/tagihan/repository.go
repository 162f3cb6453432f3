package tagihan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/sipkd-core/sipkd/internal/audit"
	"github.com/sipkd-core/sipkd/internal/platform/db"
	"github.com/sipkd-core/sipkd/internal/sequence"
	"github.com/sipkd-core/sipkd/internal/shared"
)

// Repository provides PostgreSQL backed persistence for billing documents.
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

// WithTx wraps the callback in a repeatable-read transaction. Serialization
// failures surface as conflicts so the workflow retry kicks in.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, recorder: r.recorder})
	})
	return mapSerialization(err)
}

const documentColumns = `
	id, document_number, status, tax_status,
	submitter_id, submitter_org, submitter_code, fund_source, gross_amount::text, description, fiscal_year,
	registration_number, registered_at, registrar_id,
	verification_number, verified_at, verifier_id, verification_checklist, review_note,
	correction_number, corrected_at, corrector_id, correction_note,
	payment_order_seq, payment_order_date, bank, handover_date,
	created_at, updated_at`

// Get returns the document by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Document, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM tagihan WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, fmt.Errorf("%w: tagihan %s", shared.ErrNotFound, id)
		}
		return Document{}, err
	}
	return doc, nil
}

// Insert persists a freshly submitted document.
func (tx *txRepo) Insert(ctx context.Context, doc Document) error {
	checklist, err := marshalChecklist(doc.Checklist)
	if err != nil {
		return err
	}
	_, err = tx.tx.Exec(ctx, `
		INSERT INTO tagihan (
			id, document_number, status, tax_status,
			submitter_id, submitter_org, submitter_code, fund_source, gross_amount, description, fiscal_year,
			verification_checklist, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, doc.ID, doc.DocumentNumber, string(doc.Status), string(doc.TaxStatus),
		doc.SubmitterID, doc.SubmitterOrg, doc.SubmitterCode, doc.FundSource, doc.GrossAmount.String(), doc.Description, doc.FiscalYear,
		checklist, doc.CreatedAt, doc.UpdatedAt)
	return err
}

// ApplyTransition writes the full mutation guarded by the expected status.
// Zero rows affected means another actor moved the document first.
func (tx *txRepo) ApplyTransition(ctx context.Context, id uuid.UUID, expected Status, doc Document) error {
	checklist, err := marshalChecklist(doc.Checklist)
	if err != nil {
		return err
	}
	tag, err := tx.tx.Exec(ctx, `
		UPDATE tagihan SET
			status = $3,
			registration_number = $4, registered_at = $5, registrar_id = $6,
			verification_number = $7, verified_at = $8, verifier_id = $9, verification_checklist = $10, review_note = $11,
			correction_number = $12, corrected_at = $13, corrector_id = $14, correction_note = $15,
			payment_order_seq = $16, payment_order_date = $17, bank = $18, handover_date = $19,
			updated_at = $20
		WHERE id = $1 AND status = $2
	`, id, string(expected), string(doc.Status),
		doc.RegistrationNumber, doc.RegisteredAt, doc.RegistrarID,
		doc.VerificationNumber, doc.VerifiedAt, doc.VerifierID, checklist, doc.ReviewNote,
		doc.CorrectionNumber, doc.CorrectedAt, doc.CorrectorID, doc.CorrectionNote,
		doc.PaymentOrderSeq, doc.PaymentOrderDate, doc.Bank, doc.HandoverDate,
		doc.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.tx.QueryRow(ctx, `SELECT true FROM tagihan WHERE id = $1`, id).Scan(&exists); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: tagihan %s", shared.ErrNotFound, id)
			}
			return err
		}
		return fmt.Errorf("%w: tagihan %s no longer in %s", shared.ErrConflict, id, expected)
	}
	return nil
}

// Delete removes the row. The audit event must already be part of this
// transaction.
func (tx *txRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := tx.tx.Exec(ctx, `DELETE FROM tagihan WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: tagihan %s", shared.ErrNotFound, id)
	}
	return nil
}

// NextNumber allocates from a counter bound to this transaction.
func (tx *txRepo) NextNumber(ctx context.Context, category sequence.Category, scope string) (int64, error) {
	return sequence.NewAllocator(sequence.BindTx(tx.tx)).Next(ctx, category, scope)
}

// RecordAudit appends the event on this transaction.
func (tx *txRepo) RecordAudit(ctx context.Context, ev audit.Event) error {
	return tx.recorder.Record(ctx, tx.tx, ev)
}

func marshalChecklist(items []ChecklistItem) ([]byte, error) {
	if len(items) == 0 {
		return nil, nil
	}
	return json.Marshal(items)
}

func scanDocument(row pgx.Row) (Document, error) {
	var doc Document
	var status, taxStatus, gross string
	var checklistJSON []byte
	err := row.Scan(
		&doc.ID, &doc.DocumentNumber, &status, &taxStatus,
		&doc.SubmitterID, &doc.SubmitterOrg, &doc.SubmitterCode, &doc.FundSource, &gross, &doc.Description, &doc.FiscalYear,
		&doc.RegistrationNumber, &doc.RegisteredAt, &doc.RegistrarID,
		&doc.VerificationNumber, &doc.VerifiedAt, &doc.VerifierID, &checklistJSON, &doc.ReviewNote,
		&doc.CorrectionNumber, &doc.CorrectedAt, &doc.CorrectorID, &doc.CorrectionNote,
		&doc.PaymentOrderSeq, &doc.PaymentOrderDate, &doc.Bank, &doc.HandoverDate,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return Document{}, err
	}
	doc.Status = Status(status)
	doc.TaxStatus = TaxStatus(taxStatus)
	doc.GrossAmount, err = decimal.NewFromString(gross)
	if err != nil {
		return Document{}, fmt.Errorf("tagihan: parse gross amount: %w", err)
	}
	if len(checklistJSON) > 0 {
		if err := json.Unmarshal(checklistJSON, &doc.Checklist); err != nil {
			return Document{}, fmt.Errorf("tagihan: parse checklist: %w", err)
		}
	}
	return doc, nil
}

func mapSerialization(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return fmt.Errorf("%w: %v", shared.ErrConflict, err)
	}
	return err
}
