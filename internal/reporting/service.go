package reporting

import (
	"context"
	"fmt"
	"time"

	"github.com/sipkd-core/sipkd/internal/shared"
)

// GroupBy names a supported aggregation dimension.
type GroupBy string

const (
	GroupByStatus       GroupBy = "status"
	GroupByFundSource   GroupBy = "fund_source"
	GroupBySubmitterOrg GroupBy = "submitter_org"
)

var groupColumns = map[GroupBy]string{
	GroupByStatus:       "status",
	GroupByFundSource:   "fund_source",
	GroupBySubmitterOrg: "submitter_org",
}

// Bucket is one aggregation row: document count and gross-amount sum per
// group key.
type Bucket struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
	Total string `json:"total"`
}

// Query bounds one aggregation request.
type Query struct {
	GroupBy    GroupBy
	From       time.Time
	To         time.Time
	FiscalYear int
}

// Repository reads aggregates from the document store. Reporting never
// writes; it runs off the main pool with read-only queries.
type Repository interface {
	Aggregate(ctx context.Context, column string, q Query) ([]Bucket, error)
}

// Service coordinates aggregation queries with the cache layer.
type Service struct {
	repo  Repository
	cache *Cache
}

// NewService wires a Repository with a Cache helper.
func NewService(repo Repository, cache *Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

// Aggregate returns the document counts and gross-amount sums grouped by
// the requested dimension, served from cache when warm.
func (s *Service) Aggregate(ctx context.Context, q Query) ([]Bucket, error) {
	column, ok := groupColumns[q.GroupBy]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported group_by %q", shared.ErrValidation, q.GroupBy)
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return nil, fmt.Errorf("%w: date window is inverted", shared.ErrValidation)
	}
	key, err := s.cache.BuildKey(ctx, keyAggregate(q.GroupBy, dateToken(q.From), dateToken(q.To), q.FiscalYear))
	if err != nil {
		return nil, err
	}
	var buckets []Bucket
	err = s.cache.FetchJSON(ctx, key, &buckets, func(ctx context.Context) (any, error) {
		return s.repo.Aggregate(ctx, column, q)
	})
	if err != nil {
		return nil, err
	}
	return buckets, nil
}

// Invalidate bumps the cache version so subsequent reads reload.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Bump(ctx)
}

// Warm pre-loads the unbounded aggregate for every dimension. The worker
// runs this on a schedule so dashboard reads stay cheap.
func (s *Service) Warm(ctx context.Context) error {
	for groupBy := range groupColumns {
		if _, err := s.Aggregate(ctx, Query{GroupBy: groupBy}); err != nil {
			return fmt.Errorf("reporting: warm %s: %w", groupBy, err)
		}
	}
	return nil
}

func dateToken(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}
