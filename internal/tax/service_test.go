package tax

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sipkd-core/sipkd/internal/audit"
	"github.com/sipkd-core/sipkd/internal/shared"
)

type memoryRepo struct {
	mu     sync.Mutex
	states map[uuid.UUID]*DocumentState
	lines  map[uuid.UUID][]Line
	events []audit.Event
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		states: make(map[uuid.UUID]*DocumentState),
		lines:  make(map[uuid.UUID][]Line),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx, (*memoryTx)(r))
}

func (r *memoryRepo) Lines(ctx context.Context, documentID uuid.UUID) ([]Line, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Line(nil), r.lines[documentID]...), nil
}

type memoryTx memoryRepo

func (tx *memoryTx) DocumentState(ctx context.Context, documentID uuid.UUID) (DocumentState, error) {
	state, ok := tx.states[documentID]
	if !ok {
		return DocumentState{}, fmt.Errorf("%w: tagihan %s", shared.ErrNotFound, documentID)
	}
	return *state, nil
}

func (tx *memoryTx) ReplaceLines(ctx context.Context, documentID uuid.UUID, lines []Line) error {
	tx.lines[documentID] = append([]Line(nil), lines...)
	return nil
}

func (tx *memoryTx) DeleteLines(ctx context.Context, documentID uuid.UUID) error {
	delete(tx.lines, documentID)
	return nil
}

func (tx *memoryTx) SetTaxEntered(ctx context.Context, documentID uuid.UUID, entered bool, _ time.Time) error {
	state, ok := tx.states[documentID]
	if !ok {
		return fmt.Errorf("%w: tagihan %s", shared.ErrNotFound, documentID)
	}
	state.TaxEntered = entered
	return nil
}

func (tx *memoryTx) RecordAudit(ctx context.Context, ev audit.Event) error {
	tx.events = append(tx.events, ev)
	return nil
}

var (
	taxOfficer = shared.Actor{ID: 60, Role: shared.RoleTaxOfficer}
	verifier   = shared.Actor{ID: 30, Role: shared.RoleVerifier}
)

func newTestService(repo *memoryRepo) *Service {
	return NewService(repo, slog.New(slog.DiscardHandler))
}

func validInputs() []LineInput {
	return []LineInput{
		{Kind: KindPPN, BillingCode: "411211", Base: "10000000", Rate: "0.11"},
		{Kind: KindPPH22, BillingCode: "411122", Base: "10000000", Rate: "0.015"},
	}
}

func TestEnterComputesAmountsAndFlipsStatus(t *testing.T) {
	repo := newMemoryRepo()
	docID := uuid.New()
	repo.states[docID] = &DocumentState{Registered: true}
	svc := newTestService(repo)

	lines, err := svc.Enter(context.Background(), taxOfficer, docID, validInputs())
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.True(t, lines[0].Amount.Equal(decimal.RequireFromString("1100000")), "PPN amount: %s", lines[0].Amount)
	require.True(t, lines[1].Amount.Equal(decimal.RequireFromString("150000")), "PPH22 amount: %s", lines[1].Amount)
	require.True(t, repo.states[docID].TaxEntered)

	require.Len(t, repo.events, 1)
	require.Equal(t, audit.ActionTaxEnter, repo.events[0].Action)
	require.Equal(t, "ENTERED", repo.events[0].After["tax_status"])
	total, err := decimal.NewFromString(repo.events[0].After["tax_total"].(string))
	require.NoError(t, err)
	require.True(t, total.Equal(decimal.RequireFromString("1250000")), "tax total: %s", total)
}

func TestEnterReplacesPreviousLines(t *testing.T) {
	repo := newMemoryRepo()
	docID := uuid.New()
	repo.states[docID] = &DocumentState{Registered: true}
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.Enter(ctx, taxOfficer, docID, validInputs())
	require.NoError(t, err)
	_, err = svc.Enter(ctx, taxOfficer, docID, validInputs()[:1])
	require.NoError(t, err)

	lines, err := svc.Lines(ctx, docID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Equal(t, KindPPN, lines[0].Kind)
}

func TestEnterRequiresRegisteredDocument(t *testing.T) {
	repo := newMemoryRepo()
	docID := uuid.New()
	repo.states[docID] = &DocumentState{Registered: false}
	svc := newTestService(repo)

	_, err := svc.Enter(context.Background(), taxOfficer, docID, validInputs())
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Enter(context.Background(), taxOfficer, uuid.New(), validInputs())
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestEnterRoleGate(t *testing.T) {
	repo := newMemoryRepo()
	docID := uuid.New()
	repo.states[docID] = &DocumentState{Registered: true}
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.Enter(ctx, verifier, docID, validInputs())
	require.ErrorIs(t, err, shared.ErrForbidden)

	admin := shared.Actor{ID: 99, Role: shared.RoleAdmin}
	_, err = svc.Enter(ctx, admin, docID, validInputs())
	require.NoError(t, err)
}

func TestEnterValidatesLines(t *testing.T) {
	repo := newMemoryRepo()
	docID := uuid.New()
	repo.states[docID] = &DocumentState{Registered: true}
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.Enter(ctx, taxOfficer, docID, nil)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Enter(ctx, taxOfficer, docID, []LineInput{{Kind: "PBB", BillingCode: "1", Base: "100", Rate: "0.1"}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Enter(ctx, taxOfficer, docID, []LineInput{{Kind: KindPPN, BillingCode: "1", Base: "-100", Rate: "0.1"}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Enter(ctx, taxOfficer, docID, []LineInput{{Kind: KindPPN, BillingCode: "1", Base: "100", Rate: "1.5"}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Enter(ctx, taxOfficer, docID, []LineInput{{Kind: KindPPN, BillingCode: "", Base: "100", Rate: "0.1"}})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestClearRemovesLinesAndStatus(t *testing.T) {
	repo := newMemoryRepo()
	docID := uuid.New()
	repo.states[docID] = &DocumentState{Registered: true}
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.Enter(ctx, taxOfficer, docID, validInputs())
	require.NoError(t, err)
	require.NoError(t, svc.Clear(ctx, taxOfficer, docID))

	require.False(t, repo.states[docID].TaxEntered)
	lines, err := svc.Lines(ctx, docID)
	require.NoError(t, err)
	require.Empty(t, lines)

	require.Len(t, repo.events, 2)
	require.Equal(t, audit.ActionTaxClear, repo.events[1].Action)
}

func TestClearWithoutEntryFails(t *testing.T) {
	repo := newMemoryRepo()
	docID := uuid.New()
	repo.states[docID] = &DocumentState{Registered: true}
	svc := newTestService(repo)

	err := svc.Clear(context.Background(), taxOfficer, docID)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, repo.events, "failed clear must not leave audit events")
}
