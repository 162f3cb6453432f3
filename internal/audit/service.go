package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sipkd-core/sipkd/internal/shared"
)

// Repository menyediakan akses baca ke audit_events.
type Repository interface {
	ListByDocument(ctx context.Context, documentID uuid.UUID) ([]Event, error)
	TimelineWindow(ctx context.Context, filters TimelineFilters, offset, limit int) ([]Event, error)
	CountOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service mengoordinasikan pengambilan data audit.
type Service struct {
	repo Repository
}

// NewService membuat service audit baru.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Trail mengembalikan seluruh event untuk satu dokumen, urut berdasarkan waktu.
func (s *Service) Trail(ctx context.Context, documentID uuid.UUID) ([]Event, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	return s.repo.ListByDocument(ctx, documentID)
}

// Timeline mengambil data audit lintas dokumen dengan paging.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize
	rows, err := s.repo.TimelineWindow(ctx, filters, offset, pageSize+1)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// RetentionReport menghitung event yang lebih tua dari cutoff. Event audit
// tidak pernah dihapus; laporan ini hanya untuk pemantauan volume.
func (s *Service) RetentionReport(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s.repo == nil {
		return 0, fmt.Errorf("audit: repository not configured")
	}
	return s.repo.CountOlderThan(ctx, time.Now().Add(-olderThan))
}

// PGRepository membaca audit_events lewat pool PostgreSQL.
type PGRepository struct {
	q Querier
}

// Querier dipenuhi oleh *pgxpool.Pool.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPGRepository membuat repository baca.
func NewPGRepository(q Querier) *PGRepository {
	return &PGRepository{q: q}
}

const eventColumns = `id, actor_id, actor_role, action, document_id, before_state, after_state, occurred_at`

// ListByDocument mengembalikan event milik satu dokumen.
func (r *PGRepository) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]Event, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+eventColumns+`
		FROM audit_events WHERE document_id = $1 ORDER BY occurred_at ASC, id ASC
	`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// TimelineWindow mengambil satu jendela timeline sesuai filter.
func (r *PGRepository) TimelineWindow(ctx context.Context, filters TimelineFilters, offset, limit int) ([]Event, error) {
	var conds []string
	var args []any
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !filters.From.IsZero() {
		add("occurred_at >= $%d", filters.From)
	}
	if !filters.To.IsZero() {
		add("occurred_at < $%d", filters.To)
	}
	if filters.ActorID != 0 {
		add("actor_id = $%d", filters.ActorID)
	}
	if filters.Action != "" {
		add("action = $%d", filters.Action)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, offset, limit)
	query := fmt.Sprintf(`
		SELECT %s FROM audit_events %s
		ORDER BY occurred_at DESC, id DESC OFFSET $%d LIMIT $%d
	`, eventColumns, where, len(args)-1, len(args))
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// CountOlderThan menghitung event sebelum cutoff.
func (r *PGRepository) CountOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM audit_events WHERE occurred_at < $1`, cutoff).Scan(&count)
	return count, err
}

func scanEvents(rows pgx.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var ev Event
		var role string
		var docID *uuid.UUID
		var beforeJSON, afterJSON []byte
		if err := rows.Scan(&ev.ID, &ev.ActorID, &role, &ev.Action, &docID, &beforeJSON, &afterJSON, &ev.At); err != nil {
			return nil, err
		}
		ev.ActorRole = shared.Role(role)
		ev.DocumentID = docID
		if len(beforeJSON) > 0 {
			if err := json.Unmarshal(beforeJSON, &ev.Before); err != nil {
				return nil, err
			}
		}
		if len(afterJSON) > 0 {
			if err := json.Unmarshal(afterJSON, &ev.After); err != nil {
				return nil, err
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
