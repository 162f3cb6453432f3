package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sipkd-core/sipkd/internal/shared"
)

// Store provides the atomic increment the Allocator builds on.
type Store interface {
	Increment(ctx context.Context, category Category, scope string) (int64, error)
	Current(ctx context.Context, category Category, scope string) (Counter, error)
	RecordVoid(ctx context.Context, v Void) error
	ListVoids(ctx context.Context, category Category, scope string) ([]Void, error)
}

const defaultMaxRetries = 3

// Allocator issues strictly increasing numbers per (category, scope).
// Transient store conflicts are retried with exponential backoff inside a
// small budget; a number is only ever returned once it is durably written.
type Allocator struct {
	store      Store
	maxRetries uint64
}

// NewAllocator wraps a store with the bounded retry policy.
func NewAllocator(store Store) *Allocator {
	return &Allocator{store: store, maxRetries: defaultMaxRetries}
}

// Next returns the next number for (category, scope).
func (a *Allocator) Next(ctx context.Context, category Category, scope string) (int64, error) {
	if !category.Valid() {
		return 0, fmt.Errorf("%w: %s", shared.ErrValidation, category)
	}
	if scope == "" {
		return 0, fmt.Errorf("%w: empty scope", shared.ErrValidation)
	}
	var issued int64
	op := func() error {
		n, err := a.store.Increment(ctx, category, scope)
		if err != nil {
			if errors.Is(err, ErrRetryable) {
				return err
			}
			return backoff.Permanent(err)
		}
		issued = n
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxInterval = 200 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, a.maxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		if errors.Is(err, ErrRetryable) || errors.Is(err, context.DeadlineExceeded) {
			return 0, fmt.Errorf("%w: %s/%s: %v", shared.ErrAllocation, category, scope, err)
		}
		return 0, err
	}
	return issued, nil
}

// Void marks an issued number as abandoned. The number is never reissued;
// the void row is what makes the resulting gap legal.
func (a *Allocator) Void(ctx context.Context, v Void) error {
	if !v.Category.Valid() {
		return fmt.Errorf("%w: %s", shared.ErrValidation, v.Category)
	}
	if v.Number <= 0 || v.Reason == "" {
		return fmt.Errorf("%w: void requires number and reason", shared.ErrValidation)
	}
	return a.store.RecordVoid(ctx, v)
}

// Inspect returns the counter state and its voids.
func (a *Allocator) Inspect(ctx context.Context, category Category, scope string) (Counter, []Void, error) {
	counter, err := a.store.Current(ctx, category, scope)
	if err != nil {
		return Counter{}, nil, err
	}
	voids, err := a.store.ListVoids(ctx, category, scope)
	if err != nil {
		return Counter{}, nil, err
	}
	return counter, voids, nil
}
