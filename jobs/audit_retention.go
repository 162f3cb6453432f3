package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/sipkd-core/sipkd/internal/audit"
)

const defaultRetentionDays = 365 * 7

// AuditRetentionJob reports how many audit events sit past the retention
// horizon. Events are never deleted; the numbers feed capacity planning.
type AuditRetentionJob struct {
	Audit  *audit.Service
	Logger *slog.Logger
}

// NewAuditRetentionJob wires dependencies for the retention handler.
func NewAuditRetentionJob(auditSvc *audit.Service, logger *slog.Logger) *AuditRetentionJob {
	return &AuditRetentionJob{Audit: auditSvc, Logger: logger}
}

// Handle processes audit retention tasks.
func (j *AuditRetentionJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Audit == nil {
		return errors.New("audit retention: handler not configured")
	}
	var payload AuditRetentionPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	days := payload.OlderThanDays
	if days <= 0 {
		days = defaultRetentionDays
	}

	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	count, err := j.Audit.RetentionReport(runCtx, time.Duration(days)*24*time.Hour)
	if err != nil {
		j.logger().Error("retention report", slog.Any("error", err))
		return err
	}
	j.logger().Info("audit retention report",
		slog.Int("older_than_days", days),
		slog.Int64("events", count))
	return nil
}

func (j *AuditRetentionJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAuditRetention))
	}
	return slog.Default().With(slog.String("job", TaskAuditRetention))
}
