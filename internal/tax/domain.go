package tax

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sipkd-core/sipkd/internal/shared"
)

// Kind enumerates the tax line kinds recognised on a billing document.
type Kind string

const (
	KindPPN   Kind = "PPN"
	KindPPH21 Kind = "PPH21"
	KindPPH22 Kind = "PPH22"
	KindPPH23 Kind = "PPH23"
)

var validKinds = map[Kind]struct{}{
	KindPPN:   {},
	KindPPH21: {},
	KindPPH22: {},
	KindPPH23: {},
}

// Valid reports whether the kind is known.
func (k Kind) Valid() bool {
	_, ok := validKinds[k]
	return ok
}

// Line is one tax deduction attached to a document. Amount is derived from
// base and rate at entry time and stored, so later rate changes never
// rewrite history.
type Line struct {
	ID          uuid.UUID       `json:"id"`
	DocumentID  uuid.UUID       `json:"document_id"`
	Kind        Kind            `json:"kind"`
	BillingCode string          `json:"billing_code"`
	Base        decimal.Decimal `json:"base"`
	Rate        decimal.Decimal `json:"rate"`
	Amount      decimal.Decimal `json:"amount"`
}

// LineInput describes one tax line as submitted by the tax officer.
type LineInput struct {
	Kind        Kind
	BillingCode string
	Base        string
	Rate        string
}

// buildLine validates the input and computes the deduction amount,
// rounded to two decimal places.
func buildLine(documentID uuid.UUID, input LineInput) (Line, error) {
	if !input.Kind.Valid() {
		return Line{}, fmt.Errorf("%w: unknown tax kind %q", shared.ErrValidation, input.Kind)
	}
	if input.BillingCode == "" {
		return Line{}, fmt.Errorf("%w: billing code required for %s", shared.ErrValidation, input.Kind)
	}
	base, err := decimal.NewFromString(input.Base)
	if err != nil || !base.IsPositive() {
		return Line{}, fmt.Errorf("%w: tax base must be a positive amount", shared.ErrValidation)
	}
	rate, err := decimal.NewFromString(input.Rate)
	if err != nil || !rate.IsPositive() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return Line{}, fmt.Errorf("%w: tax rate must be in (0, 1]", shared.ErrValidation)
	}
	return Line{
		ID:          uuid.New(),
		DocumentID:  documentID,
		Kind:        input.Kind,
		BillingCode: input.BillingCode,
		Base:        base,
		Rate:        rate,
		Amount:      base.Mul(rate).Round(2),
	}, nil
}

// Total sums the deduction amounts of the lines.
func Total(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Amount)
	}
	return total
}
