package sequence

import (
	"errors"
	"fmt"
	"time"
)

// Category partitions counters by the kind of number being issued.
type Category string

const (
	CategoryDocument     Category = "document"
	CategoryRegistration Category = "registration"
	CategoryVerification Category = "verification"
	CategoryCorrection   Category = "correction"
	CategoryPaymentOrder Category = "payment_order"
)

// ScopeGlobal is the single scope used for payment-order sequences.
const ScopeGlobal = "GLOBAL"

// YearScope returns the fiscal-year scope used by registration,
// verification and correction counters.
func YearScope(year int) string {
	return fmt.Sprintf("%d", year)
}

// SubmitterScope returns the submitter+year scope used for human document
// numbers.
func SubmitterScope(submitterCode string, year int) string {
	return fmt.Sprintf("%s-%d", submitterCode, year)
}

// Counter mirrors one sequence_counters row.
type Counter struct {
	Category   Category
	Scope      string
	LastIssued int64
	UpdatedAt  time.Time
}

// Void records an explicitly abandoned number. A gap in issued numbers is
// legal only where a matching void exists; voided numbers are never reissued.
type Void struct {
	Category Category
	Scope    string
	Number   int64
	ActorID  int64
	Reason   string
	At       time.Time
}

var (
	// ErrRetryable marks increments that failed on a transient store
	// conflict and may be attempted again.
	ErrRetryable = errors.New("sequence: retryable store conflict")
	// ErrUnknownCategory indicates a category outside the fixed set.
	ErrUnknownCategory = errors.New("sequence: unknown category")
)

var knownCategories = map[Category]struct{}{
	CategoryDocument:     {},
	CategoryRegistration: {},
	CategoryVerification: {},
	CategoryCorrection:   {},
	CategoryPaymentOrder: {},
}

// Valid reports whether the category is one of the fixed set.
func (c Category) Valid() bool {
	_, ok := knownCategories[c]
	return ok
}
