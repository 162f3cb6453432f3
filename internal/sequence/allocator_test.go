package sequence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sipkd-core/sipkd/internal/shared"
)

func TestAllocatorConcurrentUniqueness(t *testing.T) {
	alloc := NewAllocator(NewMemoryStore())
	ctx := context.Background()

	const workers = 100
	results := make([]int64, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(slot int) {
			defer wg.Done()
			n, err := alloc.Next(ctx, CategoryPaymentOrder, ScopeGlobal)
			require.NoError(t, err)
			results[slot] = n
		}(i)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	for i, n := range results {
		require.Equal(t, int64(i+1), n, "expected contiguous numbers 1..100")
	}
}

func TestAllocatorScopesDoNotInterfere(t *testing.T) {
	alloc := NewAllocator(NewMemoryStore())
	ctx := context.Background()

	for year := 2024; year <= 2026; year++ {
		for want := int64(1); want <= 3; want++ {
			n, err := alloc.Next(ctx, CategoryRegistration, YearScope(year))
			require.NoError(t, err)
			require.Equal(t, want, n)
		}
	}
	n, err := alloc.Next(ctx, CategoryVerification, YearScope(2024))
	require.NoError(t, err)
	require.Equal(t, int64(1), n, "categories keep independent counters")
}

func TestAllocatorVoidKeepsGapAccountable(t *testing.T) {
	store := NewMemoryStore()
	alloc := NewAllocator(store)
	ctx := context.Background()

	first, err := alloc.Next(ctx, CategoryCorrection, YearScope(2025))
	require.NoError(t, err)
	require.NoError(t, alloc.Void(ctx, Void{
		Category: CategoryCorrection,
		Scope:    YearScope(2025),
		Number:   first,
		ActorID:  7,
		Reason:   "issued against the wrong document",
	}))

	second, err := alloc.Next(ctx, CategoryCorrection, YearScope(2025))
	require.NoError(t, err)
	require.Greater(t, second, first, "voided numbers are never reissued")

	counter, voids, err := alloc.Inspect(ctx, CategoryCorrection, YearScope(2025))
	require.NoError(t, err)
	require.Equal(t, second, counter.LastIssued)
	require.Len(t, voids, 1)
	require.Equal(t, first, voids[0].Number)
}

func TestAllocatorVoidValidation(t *testing.T) {
	alloc := NewAllocator(NewMemoryStore())
	err := alloc.Void(context.Background(), Void{Category: CategoryCorrection, Scope: YearScope(2025), Number: 1})
	require.ErrorIs(t, err, shared.ErrValidation)
}

type flakyStore struct {
	*MemoryStore
	failures int
	calls    int
}

func (s *flakyStore) Increment(ctx context.Context, category Category, scope string) (int64, error) {
	s.calls++
	if s.calls <= s.failures {
		return 0, fmt.Errorf("%w: simulated conflict", ErrRetryable)
	}
	return s.MemoryStore.Increment(ctx, category, scope)
}

func TestAllocatorRetriesTransientConflicts(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 2}
	alloc := NewAllocator(store)

	n, err := alloc.Next(context.Background(), CategoryPaymentOrder, ScopeGlobal)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.Equal(t, 3, store.calls)
}

func TestAllocatorSurfacesAllocationErrorAfterBudget(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 100}
	alloc := NewAllocator(store)

	_, err := alloc.Next(context.Background(), CategoryPaymentOrder, ScopeGlobal)
	require.ErrorIs(t, err, shared.ErrAllocation)
}

func TestAllocatorRejectsUnknownCategory(t *testing.T) {
	alloc := NewAllocator(NewMemoryStore())
	_, err := alloc.Next(context.Background(), Category("invoice"), ScopeGlobal)
	require.ErrorIs(t, err, shared.ErrValidation)
}
