package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sipkd-core/sipkd/internal/shared"
)

type fakeRepo struct {
	events []Event
}

func (r *fakeRepo) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]Event, error) {
	var out []Event
	for _, ev := range r.events {
		if ev.DocumentID != nil && *ev.DocumentID == documentID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (r *fakeRepo) TimelineWindow(ctx context.Context, filters TimelineFilters, offset, limit int) ([]Event, error) {
	matches := make([]Event, 0, len(r.events))
	for _, ev := range r.events {
		if filters.ActorID != 0 && ev.ActorID != filters.ActorID {
			continue
		}
		if filters.Action != "" && ev.Action != filters.Action {
			continue
		}
		if !filters.From.IsZero() && ev.At.Before(filters.From) {
			continue
		}
		if !filters.To.IsZero() && !ev.At.Before(filters.To) {
			continue
		}
		matches = append(matches, ev)
	}
	if offset >= len(matches) {
		return nil, nil
	}
	matches = matches[offset:]
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (r *fakeRepo) CountOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	for _, ev := range r.events {
		if ev.At.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

func seedEvents(n int) []Event {
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	events := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, Event{
			ID:        int64(i + 1),
			ActorID:   int64(10 + i%3),
			ActorRole: shared.RoleRegistrar,
			Action:    ActionRegister,
			At:        base.Add(time.Duration(i) * time.Hour),
		})
	}
	return events
}

func TestTrailReturnsDocumentEvents(t *testing.T) {
	docID := uuid.New()
	otherID := uuid.New()
	repo := &fakeRepo{events: []Event{
		{ID: 1, ActorID: 10, Action: ActionSubmit, DocumentID: &docID},
		{ID: 2, ActorID: 20, Action: ActionRegister, DocumentID: &docID},
		{ID: 3, ActorID: 10, Action: ActionSubmit, DocumentID: &otherID},
	}}
	svc := NewService(repo)

	events, err := svc.Trail(context.Background(), docID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, ActionSubmit, events[0].Action)
	require.Equal(t, ActionRegister, events[1].Action)
}

func TestTimelinePaging(t *testing.T) {
	repo := &fakeRepo{events: seedEvents(25)}
	svc := NewService(repo)
	ctx := context.Background()

	result, err := svc.Timeline(ctx, TimelineFilters{})
	require.NoError(t, err)
	require.Len(t, result.Rows, 20, "default page size")
	require.True(t, result.Paging.HasNext)
	require.Equal(t, 2, result.Paging.NextPage)
	require.Equal(t, 0, result.Paging.PrevPage)

	result, err = svc.Timeline(ctx, TimelineFilters{Page: 2})
	require.NoError(t, err)
	require.Len(t, result.Rows, 5)
	require.False(t, result.Paging.HasNext)
	require.Equal(t, 1, result.Paging.PrevPage)
}

func TestTimelinePageSizeClamp(t *testing.T) {
	repo := &fakeRepo{events: seedEvents(80)}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{PageSize: 500})
	require.NoError(t, err)
	require.Len(t, result.Rows, 50, "page size is clamped to 50")
}

func TestTimelineFilters(t *testing.T) {
	repo := &fakeRepo{events: seedEvents(9)}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{ActorID: 11})
	require.NoError(t, err)
	require.Len(t, result.Rows, 3)
	for _, ev := range result.Rows {
		require.Equal(t, int64(11), ev.ActorID)
	}
}

func TestRetentionReportCountsOldEvents(t *testing.T) {
	repo := &fakeRepo{events: seedEvents(10)}
	svc := NewService(repo)

	count, err := svc.RetentionReport(context.Background(), time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(10), count, "all seeded events are in the past")
}
