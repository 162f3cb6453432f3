package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/sipkd-core/sipkd/internal/reporting"
)

// ReportsRefreshJob keeps the dashboard aggregates warm.
type ReportsRefreshJob struct {
	Reports *reporting.Service
	Logger  *slog.Logger
}

// NewReportsRefreshJob wires dependencies for the refresh handler.
func NewReportsRefreshJob(reports *reporting.Service, logger *slog.Logger) *ReportsRefreshJob {
	return &ReportsRefreshJob{Reports: reports, Logger: logger}
}

// Handle processes reports refresh tasks.
func (j *ReportsRefreshJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Reports == nil {
		return errors.New("reports refresh: handler not configured")
	}
	var payload ReportsRefreshPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	logger := j.logger()
	started := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if payload.Invalidate {
		if err := j.Reports.Invalidate(runCtx); err != nil {
			logger.Error("invalidate report cache", slog.Any("error", err))
			return err
		}
	}
	if err := j.Reports.Warm(runCtx); err != nil {
		logger.Error("warm report cache", slog.Any("error", err))
		return err
	}
	logger.Info("completed reports refresh",
		slog.Bool("invalidated", payload.Invalidate),
		slog.Duration("duration", time.Since(started)))
	return nil
}

func (j *ReportsRefreshJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReportsRefresh))
	}
	return slog.Default().With(slog.String("job", TaskReportsRefresh))
}
