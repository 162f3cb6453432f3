package tagihan

import (
	"fmt"
	"time"

	"github.com/sipkd-core/sipkd/internal/audit"
	"github.com/sipkd-core/sipkd/internal/sequence"
	"github.com/sipkd-core/sipkd/internal/shared"
)

// Edge names one legal transition of the workflow graph.
type Edge string

const (
	EdgeRegister      Edge = "register"
	EdgeApprove       Edge = "approve"
	EdgeReject        Edge = "reject"
	EdgeFlag          Edge = "flag"
	EdgeConfirmReturn Edge = "confirm-return"
	EdgeResubmit      Edge = "resubmit"
	EdgeIssueSP2D     Edge = "issue-sp2d"
)

// TransitionPayload carries the stage-specific decision data. Which fields
// are required depends on the edge.
type TransitionPayload struct {
	Checklist        []ChecklistItem
	CorrectionNote   string
	Bank             string
	PaymentOrderDate time.Time
	HandoverDate     time.Time
	Note             string
}

// stamp is the allocated number plus the acting identity, applied as one
// atomic triple.
type stamp struct {
	number int64
	actor  shared.Actor
	at     time.Time
}

// rule describes one edge of the state machine: the status it leaves, the
// status it enters, who may walk it, which counter it consumes and how the
// document is mutated. The table below is the single source of truth for
// legal transitions.
type rule struct {
	from        Status
	to          Status
	roles       []shared.Role
	category    sequence.Category
	auditAction string
	validate    func(p TransitionPayload) error
	apply       func(doc *Document, p TransitionPayload, st stamp)
}

func (r rule) allows(role shared.Role) bool {
	if role == shared.RoleAdmin {
		return true
	}
	for _, allowed := range r.roles {
		if allowed == role {
			return true
		}
	}
	return false
}

// scope returns the counter scope for the edge's category.
func (r rule) scope(doc Document) string {
	if r.category == sequence.CategoryPaymentOrder {
		return sequence.ScopeGlobal
	}
	return sequence.YearScope(doc.FiscalYear)
}

var transitions = map[Edge]rule{
	EdgeRegister: {
		from:        StatusAwaitingRegistration,
		to:          StatusAwaitingVerification,
		roles:       []shared.Role{shared.RoleRegistrar},
		category:    sequence.CategoryRegistration,
		auditAction: audit.ActionRegister,
		apply: func(doc *Document, _ TransitionPayload, st stamp) {
			doc.RegistrationNumber = &st.number
			doc.RegisteredAt = &st.at
			doc.RegistrarID = &st.actor.ID
		},
	},
	EdgeApprove: {
		from:        StatusAwaitingVerification,
		to:          StatusForwarded,
		roles:       []shared.Role{shared.RoleVerifier},
		category:    sequence.CategoryVerification,
		auditAction: audit.ActionVerifyApprove,
		validate: func(p TransitionPayload) error {
			return validateChecklist(p.Checklist, true)
		},
		apply: func(doc *Document, p TransitionPayload, st stamp) {
			doc.VerificationNumber = &st.number
			doc.VerifiedAt = &st.at
			doc.VerifierID = &st.actor.ID
			doc.Checklist = p.Checklist
		},
	},
	EdgeReject: {
		from:        StatusAwaitingVerification,
		to:          StatusReturned,
		roles:       []shared.Role{shared.RoleVerifier},
		category:    sequence.CategoryVerification,
		auditAction: audit.ActionVerifyReject,
		validate: func(p TransitionPayload) error {
			return validateChecklist(p.Checklist, false)
		},
		apply: func(doc *Document, p TransitionPayload, st stamp) {
			doc.VerificationNumber = &st.number
			doc.VerifiedAt = &st.at
			doc.VerifierID = &st.actor.ID
			doc.Checklist = p.Checklist
		},
	},
	EdgeFlag: {
		from:        StatusAwaitingVerification,
		to:          StatusNeedsReview,
		roles:       []shared.Role{shared.RoleVerifier},
		auditAction: audit.ActionFlagReview,
		validate: func(p TransitionPayload) error {
			if p.Note == "" {
				return fmt.Errorf("%w: flagging requires a note", shared.ErrValidation)
			}
			return nil
		},
		apply: func(doc *Document, p TransitionPayload, _ stamp) {
			doc.ReviewNote = &p.Note
		},
	},
	EdgeConfirmReturn: {
		from:        StatusNeedsReview,
		to:          StatusReturned,
		roles:       []shared.Role{shared.RoleCorrector},
		category:    sequence.CategoryCorrection,
		auditAction: audit.ActionConfirmReturn,
		validate: func(p TransitionPayload) error {
			if p.CorrectionNote == "" {
				return fmt.Errorf("%w: correction note required", shared.ErrValidation)
			}
			return nil
		},
		apply: func(doc *Document, p TransitionPayload, st stamp) {
			doc.CorrectionNumber = &st.number
			doc.CorrectedAt = &st.at
			doc.CorrectorID = &st.actor.ID
			doc.CorrectionNote = &p.CorrectionNote
		},
	},
	EdgeResubmit: {
		from:        StatusNeedsReview,
		to:          StatusAwaitingVerification,
		roles:       []shared.Role{shared.RoleSubmitter},
		auditAction: audit.ActionResubmit,
		apply:       func(doc *Document, _ TransitionPayload, _ stamp) {},
	},
	EdgeIssueSP2D: {
		from:        StatusForwarded,
		to:          StatusCompleted,
		roles:       []shared.Role{shared.RoleSP2DRegistrar},
		category:    sequence.CategoryPaymentOrder,
		auditAction: audit.ActionIssueSP2D,
		validate: func(p TransitionPayload) error {
			if p.Bank == "" {
				return fmt.Errorf("%w: issuing bank required", shared.ErrValidation)
			}
			if p.PaymentOrderDate.IsZero() {
				return fmt.Errorf("%w: payment order date required", shared.ErrValidation)
			}
			return nil
		},
		apply: func(doc *Document, p TransitionPayload, st stamp) {
			doc.PaymentOrderSeq = &st.number
			date := p.PaymentOrderDate
			doc.PaymentOrderDate = &date
			doc.Bank = &p.Bank
			if !p.HandoverDate.IsZero() {
				handover := p.HandoverDate
				doc.HandoverDate = &handover
			}
		},
	},
}

// wrongStateError is a validation failure that names the status mismatch.
// The workflow retry uses it to tell "document moved under us" apart from a
// genuinely bad request.
type wrongStateError struct {
	edge Edge
	from Status
}

func (e *wrongStateError) Error() string {
	return fmt.Sprintf("edge %q not legal from status %s", e.edge, e.from)
}

func (e *wrongStateError) Is(target error) bool {
	return target == shared.ErrValidation
}

// ruleFor resolves the edge against the current status and actor role.
// Unknown edges and wrong source statuses are validation failures; a known
// edge walked by the wrong role is forbidden. Both are permanent.
func ruleFor(edge Edge, from Status, role shared.Role) (rule, error) {
	r, ok := transitions[edge]
	if !ok {
		return rule{}, fmt.Errorf("%w: unknown edge %q", shared.ErrValidation, edge)
	}
	if r.from != from {
		return rule{}, &wrongStateError{edge: edge, from: from}
	}
	if !r.allows(role) {
		return rule{}, fmt.Errorf("%w: role %s may not %s", shared.ErrForbidden, role, edge)
	}
	return r, nil
}

// validateChecklist enforces the fixed item set: every code present exactly
// once, rationale on every failure. Approval requires all passes; rejection
// requires at least one failure.
func validateChecklist(items []ChecklistItem, approving bool) error {
	if len(items) != len(ChecklistCodes) {
		return fmt.Errorf("%w: checklist must contain exactly %d items", shared.ErrValidation, len(ChecklistCodes))
	}
	seen := make(map[string]ChecklistItem, len(items))
	for _, item := range items {
		if _, dup := seen[item.Code]; dup {
			return fmt.Errorf("%w: duplicate checklist item %s", shared.ErrValidation, item.Code)
		}
		seen[item.Code] = item
	}
	failures := 0
	for _, code := range ChecklistCodes {
		item, ok := seen[code]
		if !ok {
			return fmt.Errorf("%w: checklist item %s missing", shared.ErrValidation, code)
		}
		if !item.Passed {
			failures++
			if item.Rationale == "" {
				return fmt.Errorf("%w: failed item %s requires a rationale", shared.ErrValidation, code)
			}
		}
	}
	if approving && failures > 0 {
		return fmt.Errorf("%w: cannot approve with %d failed checklist items", shared.ErrValidation, failures)
	}
	if !approving && failures == 0 {
		return fmt.Errorf("%w: rejection requires at least one failed item", shared.ErrValidation)
	}
	return nil
}
