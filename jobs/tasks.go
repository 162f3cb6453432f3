package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReportsRefresh bumps and re-warms the reporting cache.
	TaskReportsRefresh = "reports:refresh"
	// TaskAuditRetention reports audit volume past the retention horizon.
	TaskAuditRetention = "audit:retention"
)

// ReportsRefreshPayload controls a reporting cache refresh run.
type ReportsRefreshPayload struct {
	// Invalidate bumps the cache version before re-warming. Scheduled
	// runs leave it false and only top up expired entries.
	Invalidate bool `json:"invalidate"`
}

// NewReportsRefreshTask constructs an Asynq task.
func NewReportsRefreshTask(payload ReportsRefreshPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReportsRefresh, data), nil
}

// AuditRetentionPayload controls a retention report run.
type AuditRetentionPayload struct {
	// OlderThanDays is the horizon; zero falls back to the default.
	OlderThanDays int `json:"older_than_days"`
}

// NewAuditRetentionTask constructs an Asynq task.
func NewAuditRetentionTask(payload AuditRetentionPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditRetention, data), nil
}
