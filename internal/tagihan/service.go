package tagihan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sipkd-core/sipkd/internal/audit"
	"github.com/sipkd-core/sipkd/internal/sequence"
	"github.com/sipkd-core/sipkd/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (Document, error)
}

// TxRepository exposes transactional operations. Number allocation and audit
// recording run on the same transaction as the document write, so everything
// commits or rolls back as one unit.
type TxRepository interface {
	Insert(ctx context.Context, doc Document) error
	ApplyTransition(ctx context.Context, id uuid.UUID, expected Status, doc Document) error
	Delete(ctx context.Context, id uuid.UUID) error
	NextNumber(ctx context.Context, category sequence.Category, scope string) (int64, error)
	RecordAudit(ctx context.Context, ev audit.Event) error
}

const defaultBulkParallelism = 8

// ServiceConfig carries optional workflow tuning.
type ServiceConfig struct {
	// FiscalYear is used for submissions that do not name a year. Zero
	// means the current year at submission time.
	FiscalYear int
}

// Service is the workflow engine: it validates actor and edge against the
// transition table, stamps stage numbers and applies mutations through the
// document store.
type Service struct {
	repo       RepositoryPort
	logger     *slog.Logger
	clock      func() time.Time
	bulkLimit  int
	fiscalYear int
}

// NewService constructs the workflow service.
func NewService(repo RepositoryPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	return &Service{
		repo:       repo,
		logger:     logger,
		clock:      time.Now,
		bulkLimit:  defaultBulkParallelism,
		fiscalYear: cfg.FiscalYear,
	}
}

// SubmitInput describes a new billing document.
type SubmitInput struct {
	SubmitterOrg  string
	SubmitterCode string
	FundSource    string
	GrossAmount   string
	Description   string
	FiscalYear    int
}

// Submit creates the document in AWAITING_REGISTRATION and allocates its
// human document number from the submitter+year scope.
func (s *Service) Submit(ctx context.Context, actor shared.Actor, input SubmitInput) (Document, error) {
	if actor.Role != shared.RoleSubmitter && actor.Role != shared.RoleAdmin {
		return Document{}, fmt.Errorf("%w: role %s may not submit", shared.ErrForbidden, actor.Role)
	}
	doc, err := buildSubmission(actor, input, s.clock(), s.fiscalYear)
	if err != nil {
		return Document{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		seq, err := tx.NextNumber(ctx, sequence.CategoryDocument, sequence.SubmitterScope(doc.SubmitterCode, doc.FiscalYear))
		if err != nil {
			return err
		}
		doc.DocumentNumber = FormatDocumentNumber(seq, doc.SubmitterCode, doc.FiscalYear)
		if err := tx.Insert(ctx, doc); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, audit.Event{
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Action:     audit.ActionSubmit,
			DocumentID: &doc.ID,
			After:      doc.snapshot(),
			At:         doc.CreatedAt,
		})
	})
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Get returns the current snapshot of a document.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Document, error) {
	return s.repo.Get(ctx, id)
}

// Transition walks one edge of the workflow graph for the document. On an
// optimistic-concurrency conflict the attempt is repeated once against the
// freshly read state before the conflict is surfaced.
func (s *Service) Transition(ctx context.Context, actor shared.Actor, id uuid.UUID, edge Edge, payload TransitionPayload) (Document, error) {
	doc, err := s.attemptTransition(ctx, actor, id, edge, payload)
	if !errors.Is(err, shared.ErrConflict) {
		return doc, err
	}
	s.logger.Debug("transition conflict, retrying once",
		slog.String("document_id", id.String()), slog.String("edge", string(edge)))
	doc, err = s.attemptTransition(ctx, actor, id, edge, payload)
	if err != nil {
		// The retry saw a state that no longer admits the edge: the
		// document changed concurrently, not a bad request.
		var wrongState *wrongStateError
		if errors.As(err, &wrongState) || errors.Is(err, shared.ErrConflict) {
			return Document{}, fmt.Errorf("%w: %v", shared.ErrConflict, err)
		}
		return Document{}, err
	}
	return doc, nil
}

func (s *Service) attemptTransition(ctx context.Context, actor shared.Actor, id uuid.UUID, edge Edge, payload TransitionPayload) (Document, error) {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return Document{}, err
	}
	r, err := ruleFor(edge, doc.Status, actor.Role)
	if err != nil {
		return Document{}, err
	}
	if r.validate != nil {
		if err := r.validate(payload); err != nil {
			return Document{}, err
		}
	}
	updated := doc
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		st := stamp{actor: actor, at: s.clock()}
		if r.category != "" {
			number, err := tx.NextNumber(ctx, r.category, r.scope(doc))
			if err != nil {
				return err
			}
			st.number = number
		}
		updated.Status = r.to
		r.apply(&updated, payload, st)
		updated.UpdatedAt = st.at
		if err := tx.ApplyTransition(ctx, id, doc.Status, updated); err != nil {
			return err
		}
		before, after := diffSnapshots(doc.snapshot(), updated.snapshot())
		return tx.RecordAudit(ctx, audit.Event{
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Action:     r.auditAction,
			DocumentID: &id,
			Before:     before,
			After:      after,
			At:         st.at,
		})
	})
	if err != nil {
		return Document{}, err
	}
	return updated, nil
}

// BulkResult reports one document's outcome within a bulk operation.
type BulkResult struct {
	Document *Document
	Err      error
}

// BulkTransition applies the edge to each document independently. Partial
// failure is reported per id; one failing document never aborts the rest.
func (s *Service) BulkTransition(ctx context.Context, actor shared.Actor, ids []uuid.UUID, edge Edge, payload TransitionPayload) map[uuid.UUID]BulkResult {
	results := make(map[uuid.UUID]BulkResult, len(ids))
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.bulkLimit)
	for _, id := range ids {
		g.Go(func() error {
			doc, err := s.Transition(ctx, actor, id, edge, payload)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[id] = BulkResult{Err: err}
			} else {
				results[id] = BulkResult{Document: &doc}
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Delete removes a document as an administrative override. The DELETE audit
// event is written in the same transaction, before the row disappears.
func (s *Service) Delete(ctx context.Context, actor shared.Actor, id uuid.UUID) error {
	if actor.Role != shared.RoleAdmin {
		return fmt.Errorf("%w: only admins may delete documents", shared.ErrForbidden)
	}
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.RecordAudit(ctx, audit.Event{
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Action:     audit.ActionDelete,
			DocumentID: &id,
			Before:     doc.snapshot(),
			At:         s.clock(),
		}); err != nil {
			return err
		}
		return tx.Delete(ctx, id)
	})
}

func buildSubmission(actor shared.Actor, input SubmitInput, now time.Time, defaultYear int) (Document, error) {
	if input.SubmitterCode == "" || input.SubmitterOrg == "" {
		return Document{}, fmt.Errorf("%w: submitter org and code required", shared.ErrValidation)
	}
	if input.FundSource == "" {
		return Document{}, fmt.Errorf("%w: fund source required", shared.ErrValidation)
	}
	gross, err := parseAmount(input.GrossAmount)
	if err != nil {
		return Document{}, err
	}
	year := input.FiscalYear
	if year == 0 {
		year = defaultYear
	}
	if year == 0 {
		year = now.Year()
	}
	return Document{
		ID:            uuid.New(),
		Status:        StatusAwaitingRegistration,
		TaxStatus:     TaxNotEntered,
		SubmitterID:   actor.ID,
		SubmitterOrg:  input.SubmitterOrg,
		SubmitterCode: input.SubmitterCode,
		FundSource:    input.FundSource,
		GrossAmount:   gross,
		Description:   input.Description,
		FiscalYear:    year,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}
