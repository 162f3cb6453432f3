package tax

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sipkd-core/sipkd/internal/audit"
	"github.com/sipkd-core/sipkd/internal/shared"
)

// DocumentState is the slice of the billing document the tax lifecycle
// needs: whether it exists past registration and where its tax status is.
type DocumentState struct {
	Registered bool
	TaxEntered bool
}

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Lines(ctx context.Context, documentID uuid.UUID) ([]Line, error)
}

// TxRepository exposes the transactional operations. Tax mutations touch
// tax_status only; the main document status is never written from here.
type TxRepository interface {
	DocumentState(ctx context.Context, documentID uuid.UUID) (DocumentState, error)
	ReplaceLines(ctx context.Context, documentID uuid.UUID, lines []Line) error
	DeleteLines(ctx context.Context, documentID uuid.UUID) error
	SetTaxEntered(ctx context.Context, documentID uuid.UUID, entered bool, at time.Time) error
	RecordAudit(ctx context.Context, ev audit.Event) error
}

// Service runs the tax sub-lifecycle. It moves independently of the main
// workflow: documents keep progressing whether or not tax data is present.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
	clock  func() time.Time
}

// NewService constructs the tax service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger, clock: time.Now}
}

// Enter replaces the document's tax lines and marks the tax status entered.
// The document must be past registration; repeat calls overwrite the
// previous entry wholesale.
func (s *Service) Enter(ctx context.Context, actor shared.Actor, documentID uuid.UUID, inputs []LineInput) ([]Line, error) {
	if err := checkRole(actor); err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: at least one tax line required", shared.ErrValidation)
	}
	lines := make([]Line, 0, len(inputs))
	for _, input := range inputs {
		line, err := buildLine(documentID, input)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		state, err := tx.DocumentState(ctx, documentID)
		if err != nil {
			return err
		}
		if !state.Registered {
			return fmt.Errorf("%w: tax data requires a registered document", shared.ErrValidation)
		}
		if err := tx.ReplaceLines(ctx, documentID, lines); err != nil {
			return err
		}
		now := s.clock()
		if err := tx.SetTaxEntered(ctx, documentID, true, now); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, audit.Event{
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Action:     audit.ActionTaxEnter,
			DocumentID: &documentID,
			After: map[string]any{
				"tax_status": "ENTERED",
				"tax_lines":  len(lines),
				"tax_total":  Total(lines).String(),
			},
			At: now,
		})
	})
	if err != nil {
		return nil, err
	}
	return lines, nil
}

// Clear removes all tax lines and returns the tax status to not-entered.
func (s *Service) Clear(ctx context.Context, actor shared.Actor, documentID uuid.UUID) error {
	if err := checkRole(actor); err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		state, err := tx.DocumentState(ctx, documentID)
		if err != nil {
			return err
		}
		if !state.TaxEntered {
			return fmt.Errorf("%w: no tax data to clear", shared.ErrValidation)
		}
		if err := tx.DeleteLines(ctx, documentID); err != nil {
			return err
		}
		now := s.clock()
		if err := tx.SetTaxEntered(ctx, documentID, false, now); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, audit.Event{
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Action:     audit.ActionTaxClear,
			DocumentID: &documentID,
			Before:     map[string]any{"tax_status": "ENTERED"},
			After:      map[string]any{"tax_status": "NOT_ENTERED"},
			At:         now,
		})
	})
}

// Lines returns the current tax lines of a document.
func (s *Service) Lines(ctx context.Context, documentID uuid.UUID) ([]Line, error) {
	return s.repo.Lines(ctx, documentID)
}

func checkRole(actor shared.Actor) error {
	if actor.Role != shared.RoleTaxOfficer && actor.Role != shared.RoleAdmin {
		return fmt.Errorf("%w: role %s may not manage tax data", shared.ErrForbidden, actor.Role)
	}
	return nil
}
