package tagihan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sipkd-core/sipkd/internal/audit"
	"github.com/sipkd-core/sipkd/internal/sequence"
	"github.com/sipkd-core/sipkd/internal/shared"
)

type memoryRepo struct {
	mu     sync.Mutex
	docs   map[uuid.UUID]Document
	seq    *sequence.Allocator
	events []audit.Event
	nextID int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		docs: make(map[uuid.UUID]Document),
		seq:  sequence.NewAllocator(sequence.NewMemoryStore()),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) Get(ctx context.Context, id uuid.UUID) (Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return Document{}, fmt.Errorf("%w: tagihan %s", shared.ErrNotFound, id)
	}
	return doc, nil
}

func (r *memoryRepo) eventsFor(id uuid.UUID) []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Event
	for _, ev := range r.events {
		if ev.DocumentID != nil && *ev.DocumentID == id {
			out = append(out, ev)
		}
	}
	return out
}

func (tx *memoryTx) Insert(ctx context.Context, doc Document) error {
	if _, exists := tx.repo.docs[doc.ID]; exists {
		return fmt.Errorf("tagihan: duplicate id %s", doc.ID)
	}
	tx.repo.docs[doc.ID] = doc
	return nil
}

func (tx *memoryTx) ApplyTransition(ctx context.Context, id uuid.UUID, expected Status, doc Document) error {
	current, ok := tx.repo.docs[id]
	if !ok {
		return fmt.Errorf("%w: tagihan %s", shared.ErrNotFound, id)
	}
	if current.Status != expected {
		return fmt.Errorf("%w: tagihan %s no longer in %s", shared.ErrConflict, id, expected)
	}
	tx.repo.docs[id] = doc
	return nil
}

func (tx *memoryTx) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := tx.repo.docs[id]; !ok {
		return fmt.Errorf("%w: tagihan %s", shared.ErrNotFound, id)
	}
	delete(tx.repo.docs, id)
	return nil
}

func (tx *memoryTx) NextNumber(ctx context.Context, category sequence.Category, scope string) (int64, error) {
	return tx.repo.seq.Next(ctx, category, scope)
}

func (tx *memoryTx) RecordAudit(ctx context.Context, ev audit.Event) error {
	tx.repo.nextID++
	ev.ID = tx.repo.nextID
	tx.repo.events = append(tx.repo.events, ev)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

var (
	submitter     = shared.Actor{ID: 10, Role: shared.RoleSubmitter, Org: "DISDIK"}
	registrar     = shared.Actor{ID: 20, Role: shared.RoleRegistrar}
	verifier      = shared.Actor{ID: 30, Role: shared.RoleVerifier}
	corrector     = shared.Actor{ID: 40, Role: shared.RoleCorrector}
	sp2dRegistrar = shared.Actor{ID: 50, Role: shared.RoleSP2DRegistrar}
	admin         = shared.Actor{ID: 99, Role: shared.RoleAdmin}
)

func submitTestDocument(t *testing.T, svc *Service) Document {
	t.Helper()
	doc, err := svc.Submit(context.Background(), submitter, SubmitInput{
		SubmitterOrg:  "Dinas Pendidikan",
		SubmitterCode: "DISDIK",
		FundSource:    "APBD",
		GrossAmount:   "12500000.50",
		Description:   "pengadaan alat tulis kantor",
		FiscalYear:    2025,
	})
	require.NoError(t, err)
	return doc
}

func TestSubmitAllocatesDocumentNumber(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, testLogger(), ServiceConfig{})

	first := submitTestDocument(t, svc)
	second := submitTestDocument(t, svc)

	require.Equal(t, StatusAwaitingRegistration, first.Status)
	require.Equal(t, TaxNotEntered, first.TaxStatus)
	require.Equal(t, "0001/DISDIK/2025", first.DocumentNumber)
	require.Equal(t, "0002/DISDIK/2025", second.DocumentNumber)

	events := repo.eventsFor(first.ID)
	require.Len(t, events, 1)
	require.Equal(t, audit.ActionSubmit, events[0].Action)
	require.Equal(t, "AWAITING_REGISTRATION", events[0].After["status"])
}

func TestSubmitValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), testLogger(), ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Submit(ctx, submitter, SubmitInput{SubmitterOrg: "Dinas", SubmitterCode: "DIS", FundSource: "APBD", GrossAmount: "-5"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Submit(ctx, submitter, SubmitInput{SubmitterCode: "DIS", FundSource: "APBD", GrossAmount: "100"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Submit(ctx, verifier, SubmitInput{SubmitterOrg: "Dinas", SubmitterCode: "DIS", FundSource: "APBD", GrossAmount: "100"})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestSubmitUsesConfiguredFiscalYear(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, testLogger(), ServiceConfig{FiscalYear: 2030})

	doc, err := svc.Submit(context.Background(), submitter, SubmitInput{
		SubmitterOrg:  "Dinas Pendidikan",
		SubmitterCode: "DISDIK",
		FundSource:    "APBD",
		GrossAmount:   "100000",
	})
	require.NoError(t, err)
	require.Equal(t, 2030, doc.FiscalYear, "configured year fills in when the request has none")
	require.Equal(t, "0001/DISDIK/2030", doc.DocumentNumber)

	// An explicit year on the request still wins.
	doc, err = svc.Submit(context.Background(), submitter, SubmitInput{
		SubmitterOrg:  "Dinas Pendidikan",
		SubmitterCode: "DISDIK",
		FundSource:    "APBD",
		GrossAmount:   "100000",
		FiscalYear:    2026,
	})
	require.NoError(t, err)
	require.Equal(t, 2026, doc.FiscalYear)
}

func TestFullWorkflowToCompletion(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, testLogger(), ServiceConfig{})
	ctx := context.Background()

	doc := submitTestDocument(t, svc)

	doc, err := svc.Transition(ctx, registrar, doc.ID, EdgeRegister, TransitionPayload{})
	require.NoError(t, err)
	require.Equal(t, StatusAwaitingVerification, doc.Status)
	require.NotNil(t, doc.RegistrationNumber)
	require.Equal(t, int64(1), *doc.RegistrationNumber)
	require.NotNil(t, doc.RegisteredAt)
	require.NotNil(t, doc.RegistrarID)
	require.Equal(t, registrar.ID, *doc.RegistrarID)

	doc, err = svc.Transition(ctx, verifier, doc.ID, EdgeApprove, TransitionPayload{Checklist: passingChecklist()})
	require.NoError(t, err)
	require.Equal(t, StatusForwarded, doc.Status)
	require.NotNil(t, doc.VerificationNumber)
	require.NotNil(t, doc.VerifiedAt)
	require.NotNil(t, doc.VerifierID)
	require.Len(t, doc.Checklist, len(ChecklistCodes))

	payDate := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	doc, err = svc.Transition(ctx, sp2dRegistrar, doc.ID, EdgeIssueSP2D, TransitionPayload{
		Bank:             "Bank Jateng",
		PaymentOrderDate: payDate,
		HandoverDate:     payDate.AddDate(0, 0, 1),
	})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, doc.Status)
	require.NotNil(t, doc.PaymentOrderSeq)
	require.Equal(t, int64(1), *doc.PaymentOrderSeq)
	require.NotNil(t, doc.Bank)
	require.Equal(t, "Bank Jateng", *doc.Bank)
	require.NotNil(t, doc.HandoverDate)

	actions := make([]string, 0, 4)
	for _, ev := range repo.eventsFor(doc.ID) {
		actions = append(actions, ev.Action)
	}
	require.Equal(t, []string{audit.ActionSubmit, audit.ActionRegister, audit.ActionVerifyApprove, audit.ActionIssueSP2D}, actions)
}

func TestRejectionStampsVerificationNumber(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, testLogger(), ServiceConfig{})
	ctx := context.Background()

	doc := submitTestDocument(t, svc)
	doc, err := svc.Transition(ctx, registrar, doc.ID, EdgeRegister, TransitionPayload{})
	require.NoError(t, err)

	doc, err = svc.Transition(ctx, verifier, doc.ID, EdgeReject, TransitionPayload{Checklist: failingChecklist()})
	require.NoError(t, err)
	require.Equal(t, StatusReturned, doc.Status)
	require.NotNil(t, doc.VerificationNumber)
	require.True(t, doc.Terminal())
}

func TestNeedsReviewConfirmedReturn(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, testLogger(), ServiceConfig{})
	ctx := context.Background()

	doc := submitTestDocument(t, svc)
	doc, err := svc.Transition(ctx, registrar, doc.ID, EdgeRegister, TransitionPayload{})
	require.NoError(t, err)

	doc, err = svc.Transition(ctx, verifier, doc.ID, EdgeFlag, TransitionPayload{Note: "perlu klarifikasi nilai kontrak"})
	require.NoError(t, err)
	require.Equal(t, StatusNeedsReview, doc.Status)
	verificationBefore := doc.VerificationNumber

	doc, err = svc.Transition(ctx, corrector, doc.ID, EdgeConfirmReturn, TransitionPayload{CorrectionNote: "nilai kontrak tidak sesuai DPA"})
	require.NoError(t, err)
	require.Equal(t, StatusReturned, doc.Status)
	require.NotNil(t, doc.CorrectionNumber)
	require.Equal(t, int64(1), *doc.CorrectionNumber)
	require.NotNil(t, doc.CorrectorID)
	require.Equal(t, verificationBefore, doc.VerificationNumber, "verification number must be untouched by correction")
}

func TestFlagNoteSurvivesOnDocumentAndAudit(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, testLogger(), ServiceConfig{})
	ctx := context.Background()

	doc := submitTestDocument(t, svc)
	doc, err := svc.Transition(ctx, registrar, doc.ID, EdgeRegister, TransitionPayload{})
	require.NoError(t, err)

	const note = "perlu klarifikasi nilai kontrak dengan DPA"
	_, err = svc.Transition(ctx, verifier, doc.ID, EdgeFlag, TransitionPayload{Note: note})
	require.NoError(t, err)

	reread, err := svc.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, reread.ReviewNote)
	require.Equal(t, note, *reread.ReviewNote)

	events := repo.eventsFor(doc.ID)
	require.Len(t, events, 3)
	flagged := events[2]
	require.Equal(t, audit.ActionFlagReview, flagged.Action)
	require.Equal(t, note, flagged.After["review_note"])
}

func TestVerificationAuditCarriesChecklistFindings(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, testLogger(), ServiceConfig{})
	ctx := context.Background()

	approved := submitTestDocument(t, svc)
	_, err := svc.Transition(ctx, registrar, approved.ID, EdgeRegister, TransitionPayload{})
	require.NoError(t, err)
	_, err = svc.Transition(ctx, verifier, approved.ID, EdgeApprove, TransitionPayload{Checklist: passingChecklist()})
	require.NoError(t, err)

	approveEvent := repo.eventsFor(approved.ID)[2]
	require.Equal(t, audit.ActionVerifyApprove, approveEvent.Action)
	require.Contains(t, approveEvent.After["verification_checklist"], CheckDocCompleteness+"=pass")

	rejected := submitTestDocument(t, svc)
	_, err = svc.Transition(ctx, registrar, rejected.ID, EdgeRegister, TransitionPayload{})
	require.NoError(t, err)
	_, err = svc.Transition(ctx, verifier, rejected.ID, EdgeReject, TransitionPayload{Checklist: failingChecklist()})
	require.NoError(t, err)

	rejectEvent := repo.eventsFor(rejected.ID)[2]
	require.Equal(t, audit.ActionVerifyReject, rejectEvent.Action)
	require.Contains(t, rejectEvent.After["verification_checklist"], "=fail")
}

func TestNeedsReviewResubmitCycle(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, testLogger(), ServiceConfig{})
	ctx := context.Background()

	doc := submitTestDocument(t, svc)
	doc, err := svc.Transition(ctx, registrar, doc.ID, EdgeRegister, TransitionPayload{})
	require.NoError(t, err)
	doc, err = svc.Transition(ctx, verifier, doc.ID, EdgeFlag, TransitionPayload{Note: "lampiran kurang"})
	require.NoError(t, err)

	doc, err = svc.Transition(ctx, submitter, doc.ID, EdgeResubmit, TransitionPayload{})
	require.NoError(t, err)
	require.Equal(t, StatusAwaitingVerification, doc.Status)

	doc, err = svc.Transition(ctx, verifier, doc.ID, EdgeApprove, TransitionPayload{Checklist: passingChecklist()})
	require.NoError(t, err)
	require.Equal(t, StatusForwarded, doc.Status)
}

// gatedRepo blocks the first two Get calls until both racing goroutines have
// read the same pre-transition state.
type gatedRepo struct {
	*memoryRepo
	gate      sync.WaitGroup
	gateUses  int
	gateMutex sync.Mutex
}

func (r *gatedRepo) Get(ctx context.Context, id uuid.UUID) (Document, error) {
	doc, err := r.memoryRepo.Get(ctx, id)
	r.gateMutex.Lock()
	wait := r.gateUses > 0
	if wait {
		r.gateUses--
		r.gate.Done()
	}
	r.gateMutex.Unlock()
	if wait {
		r.gate.Wait()
	}
	return doc, err
}

func TestConcurrentRegistrationRace(t *testing.T) {
	inner := newMemoryRepo()
	repo := &gatedRepo{memoryRepo: inner, gateUses: 2}
	repo.gate.Add(2)
	svc := NewService(repo, testLogger(), ServiceConfig{})
	ctx := context.Background()

	doc := submitTestDocument(t, svc)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := svc.Transition(ctx, registrar, doc.ID, EdgeRegister, TransitionPayload{})
			errs <- err
		}()
	}
	first, second := <-errs, <-errs

	var conflict error
	if first == nil {
		conflict = second
	} else {
		conflict = first
		require.NoError(t, second, "exactly one of the two registrations must succeed")
	}
	require.ErrorIs(t, conflict, shared.ErrConflict)

	final, err := inner.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusAwaitingVerification, final.Status)
	require.Equal(t, int64(1), *final.RegistrationNumber)
}

func TestBulkTransitionReportsPartialFailure(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, testLogger(), ServiceConfig{})
	ctx := context.Background()

	ids := make([]uuid.UUID, 0, 10)
	for i := 0; i < 10; i++ {
		ids = append(ids, submitTestDocument(t, svc).ID)
	}
	// Move two documents to a terminal state first.
	for _, id := range ids[:2] {
		_, err := svc.Transition(ctx, registrar, id, EdgeRegister, TransitionPayload{})
		require.NoError(t, err)
		_, err = svc.Transition(ctx, verifier, id, EdgeReject, TransitionPayload{Checklist: failingChecklist()})
		require.NoError(t, err)
	}

	results := svc.BulkTransition(ctx, registrar, ids, EdgeRegister, TransitionPayload{})
	require.Len(t, results, 10)

	var ok, failed int
	for _, id := range ids[:2] {
		require.Error(t, results[id].Err)
		require.ErrorIs(t, results[id].Err, shared.ErrValidation)
		failed++
	}
	for _, id := range ids[2:] {
		require.NoError(t, results[id].Err)
		require.Equal(t, StatusAwaitingVerification, results[id].Document.Status)
		ok++
	}
	require.Equal(t, 8, ok)
	require.Equal(t, 2, failed)
}

func TestDeleteRecordsAuditBeforeRemoval(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, testLogger(), ServiceConfig{})
	ctx := context.Background()

	doc := submitTestDocument(t, svc)

	require.ErrorIs(t, svc.Delete(ctx, registrar, doc.ID), shared.ErrForbidden)
	require.NoError(t, svc.Delete(ctx, admin, doc.ID))

	_, err := svc.Get(ctx, doc.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)

	events := repo.eventsFor(doc.ID)
	require.Len(t, events, 2)
	deleteEvent := events[1]
	require.Equal(t, audit.ActionDelete, deleteEvent.Action)
	require.Equal(t, admin.ID, deleteEvent.ActorID)
	require.Equal(t, doc.DocumentNumber, deleteEvent.Before["document_number"])
	require.Empty(t, deleteEvent.After)
}

func TestTransitionPermanentFailures(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, testLogger(), ServiceConfig{})
	ctx := context.Background()

	doc := submitTestDocument(t, svc)

	_, err := svc.Transition(ctx, verifier, doc.ID, EdgeRegister, TransitionPayload{})
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.Transition(ctx, registrar, doc.ID, Edge("archive"), TransitionPayload{})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Transition(ctx, verifier, doc.ID, EdgeApprove, TransitionPayload{Checklist: passingChecklist()})
	require.ErrorIs(t, err, shared.ErrValidation, "approve is not legal before registration")

	events := repo.eventsFor(doc.ID)
	require.Len(t, events, 1, "failed transitions must not leave audit events")
}

func TestAuditDiffCarriesChangedFieldsOnly(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, testLogger(), ServiceConfig{})
	ctx := context.Background()

	doc := submitTestDocument(t, svc)
	_, err := svc.Transition(ctx, registrar, doc.ID, EdgeRegister, TransitionPayload{})
	require.NoError(t, err)

	events := repo.eventsFor(doc.ID)
	require.Len(t, events, 2)
	register := events[1]
	require.Equal(t, "AWAITING_REGISTRATION", register.Before["status"])
	require.Equal(t, "AWAITING_VERIFICATION", register.After["status"])
	require.Equal(t, int64(1), register.After["registration_number"])
	require.NotContains(t, register.After, "document_number", "unchanged fields stay out of the diff")
	require.NotContains(t, register.After, "gross_amount")
}

func TestAllocationFailureSurfacesTyped(t *testing.T) {
	repo := newMemoryRepo()
	repo.seq = sequence.NewAllocator(&exhaustedStore{})
	svc := NewService(repo, testLogger(), ServiceConfig{})

	_, err := svc.Submit(context.Background(), submitter, SubmitInput{
		SubmitterOrg: "Dinas", SubmitterCode: "DIS", FundSource: "APBD", GrossAmount: "100",
	})
	require.ErrorIs(t, err, shared.ErrAllocation)
}

type exhaustedStore struct {
	sequence.MemoryStore
}

func (s *exhaustedStore) Increment(ctx context.Context, category sequence.Category, scope string) (int64, error) {
	return 0, fmt.Errorf("%w: counter row locked", sequence.ErrRetryable)
}

func TestConflictRetrySucceedsAgainstFreshState(t *testing.T) {
	repo := newMemoryRepo()
	flaky := &conflictOnceRepo{memoryRepo: repo}
	svc := NewService(flaky, testLogger(), ServiceConfig{})
	ctx := context.Background()

	doc := submitTestDocument(t, svc)
	updated, err := svc.Transition(ctx, registrar, doc.ID, EdgeRegister, TransitionPayload{})
	require.NoError(t, err)
	require.Equal(t, StatusAwaitingVerification, updated.Status)
	require.Equal(t, 2, flaky.attempts, "first attempt conflicts, retry lands")
}

// conflictOnceRepo fails the first ApplyTransition with a conflict without
// changing state, mimicking a serialization failure that resolves on retry.
type conflictOnceRepo struct {
	*memoryRepo
	attempts int
}

func (r *conflictOnceRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.memoryRepo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return fn(ctx, &conflictOnceTx{TxRepository: tx, repo: r})
	})
}

type conflictOnceTx struct {
	TxRepository
	repo *conflictOnceRepo
}

func (tx *conflictOnceTx) ApplyTransition(ctx context.Context, id uuid.UUID, expected Status, doc Document) error {
	tx.repo.attempts++
	if tx.repo.attempts == 1 {
		return fmt.Errorf("%w: simulated serialization failure", shared.ErrConflict)
	}
	return tx.TxRepository.ApplyTransition(ctx, id, expected, doc)
}

func TestErrorsStayDistinguishable(t *testing.T) {
	require.False(t, errors.Is(shared.ErrConflict, shared.ErrValidation))
	require.False(t, errors.Is(shared.ErrAllocation, shared.ErrConflict))
}
