package tagihan

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sipkd-core/sipkd/internal/shared"
)

// Status enumerates the main lifecycle of a billing document.
type Status string

const (
	StatusAwaitingRegistration Status = "AWAITING_REGISTRATION"
	StatusAwaitingVerification Status = "AWAITING_VERIFICATION"
	StatusForwarded            Status = "FORWARDED"
	StatusReturned             Status = "RETURNED"
	StatusNeedsReview          Status = "NEEDS_REVIEW"
	StatusCompleted            Status = "COMPLETED"
)

// TaxStatus is the independent secondary lifecycle. Mutating tax data never
// changes Status.
type TaxStatus string

const (
	TaxNotEntered TaxStatus = "NOT_ENTERED"
	TaxEntered    TaxStatus = "ENTERED"
)

// Checklist item codes verified on every document. The set is fixed; each
// item is marked pass/fail with a rationale required on fail.
const (
	CheckDocCompleteness    = "DOC_COMPLETENESS"
	CheckBudgetAvailability = "BUDGET_AVAILABILITY"
	CheckAccountCoding      = "ACCOUNT_CODING"
	CheckSupportingEvidence = "SUPPORTING_EVIDENCE"
	CheckArithmeticAccuracy = "ARITHMETIC_ACCURACY"
)

// ChecklistCodes lists the required items in display order.
var ChecklistCodes = []string{
	CheckDocCompleteness,
	CheckBudgetAvailability,
	CheckAccountCoding,
	CheckSupportingEvidence,
	CheckArithmeticAccuracy,
}

// ChecklistItem is one verification finding.
type ChecklistItem struct {
	Code      string `json:"code"`
	Passed    bool   `json:"passed"`
	Rationale string `json:"rationale,omitempty"`
}

// Document is one billing document (tagihan) with its stage metadata.
// Stage triples (number, timestamp, actor) are nil until the stage is
// reached and are always set together.
type Document struct {
	ID             uuid.UUID
	DocumentNumber string
	Status         Status
	TaxStatus      TaxStatus

	SubmitterID   int64
	SubmitterOrg  string
	SubmitterCode string
	FundSource    string
	GrossAmount   decimal.Decimal
	Description   string
	FiscalYear    int

	RegistrationNumber *int64
	RegisteredAt       *time.Time
	RegistrarID        *int64

	VerificationNumber *int64
	VerifiedAt         *time.Time
	VerifierID         *int64
	Checklist          []ChecklistItem
	ReviewNote         *string

	CorrectionNumber *int64
	CorrectedAt      *time.Time
	CorrectorID      *int64
	CorrectionNote   *string

	PaymentOrderSeq  *int64
	PaymentOrderDate *time.Time
	Bank             *string
	HandoverDate     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether the main workflow is finished for the document.
// Completed documents may still gain tax data.
func (d Document) Terminal() bool {
	return d.Status == StatusReturned || d.Status == StatusCompleted
}

// FormatDocumentNumber renders the human document number from its parts.
func FormatDocumentNumber(seq int64, submitterCode string, year int) string {
	return fmt.Sprintf("%04d/%s/%d", seq, submitterCode, year)
}

func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: invalid gross amount %q", shared.ErrValidation, raw)
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: gross amount must be positive", shared.ErrValidation)
	}
	return amount, nil
}

// snapshot flattens the invariant-bearing fields for audit diffing.
func (d Document) snapshot() map[string]any {
	snap := map[string]any{
		"document_number": d.DocumentNumber,
		"status":          string(d.Status),
		"tax_status":      string(d.TaxStatus),
		"fund_source":     d.FundSource,
		"submitter_org":   d.SubmitterOrg,
		"gross_amount":    d.GrossAmount.String(),
	}
	putInt := func(key string, v *int64) {
		if v != nil {
			snap[key] = *v
		}
	}
	putTime := func(key string, v *time.Time) {
		if v != nil {
			snap[key] = v.UTC().Format(time.RFC3339)
		}
	}
	putInt("registration_number", d.RegistrationNumber)
	putTime("registered_at", d.RegisteredAt)
	putInt("registrar_id", d.RegistrarID)
	putInt("verification_number", d.VerificationNumber)
	putTime("verified_at", d.VerifiedAt)
	putInt("verifier_id", d.VerifierID)
	if len(d.Checklist) > 0 {
		snap["verification_checklist"] = checklistSummary(d.Checklist)
	}
	if d.ReviewNote != nil {
		snap["review_note"] = *d.ReviewNote
	}
	putInt("correction_number", d.CorrectionNumber)
	putTime("corrected_at", d.CorrectedAt)
	putInt("corrector_id", d.CorrectorID)
	if d.CorrectionNote != nil {
		snap["correction_note"] = *d.CorrectionNote
	}
	putInt("payment_order_seq", d.PaymentOrderSeq)
	putTime("payment_order_date", d.PaymentOrderDate)
	if d.Bank != nil {
		snap["bank"] = *d.Bank
	}
	putTime("handover_date", d.HandoverDate)
	return snap
}

// checklistSummary flattens the findings into one auditable line, e.g.
// "DOC_COMPLETENESS=pass BUDGET_AVAILABILITY=fail".
func checklistSummary(items []ChecklistItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		mark := "pass"
		if !item.Passed {
			mark = "fail"
		}
		parts = append(parts, item.Code+"="+mark)
	}
	return strings.Join(parts, " ")
}

// diffSnapshots keeps only the keys whose values differ, so audit events
// carry exactly the changed fields.
func diffSnapshots(before, after map[string]any) (map[string]any, map[string]any) {
	changedBefore := map[string]any{}
	changedAfter := map[string]any{}
	for key, afterVal := range after {
		beforeVal, ok := before[key]
		if !ok || beforeVal != afterVal {
			if ok {
				changedBefore[key] = beforeVal
			}
			changedAfter[key] = afterVal
		}
	}
	for key, beforeVal := range before {
		if _, ok := after[key]; !ok {
			changedBefore[key] = beforeVal
		}
	}
	return changedBefore, changedAfter
}
