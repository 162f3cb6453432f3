package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Execer dipenuhi oleh pgx.Tx maupun *pgxpool.Pool sehingga pencatatan bisa
// ikut transaksi pemanggil.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Recorder menulis baris audit_events. Kegagalan insert harus membatalkan
// transaksi dokumen yang menyertainya; tidak ada mutasi tanpa jejak audit.
type Recorder struct{}

// NewRecorder membuat recorder baru.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record menyisipkan satu event memakai handle transaksi pemanggil.
func (r *Recorder) Record(ctx context.Context, q Execer, ev Event) error {
	if r == nil {
		return errors.New("audit: recorder not initialised")
	}
	if ev.ActorID == 0 || ev.Action == "" {
		return errors.New("audit: event requires actor and action")
	}
	beforeJSON, err := json.Marshal(ev.Before)
	if err != nil {
		return err
	}
	afterJSON, err := json.Marshal(ev.After)
	if err != nil {
		return err
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	var docID any
	if ev.DocumentID != nil {
		docID = *ev.DocumentID
	}
	_, err = q.Exec(ctx, `
		INSERT INTO audit_events (actor_id, actor_role, action, document_id, before_state, after_state, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ev.ActorID, string(ev.ActorRole), ev.Action, docID, beforeJSON, afterJSON, at)
	return err
}
