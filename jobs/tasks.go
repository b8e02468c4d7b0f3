// Package jobs holds the background task types and the worker runtime.
// Access-log writes run here so a slow log store never sits on the request
// path, and the audit sweep prunes aged entries on a schedule.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/gatewarden/gatewarden/internal/accesscontrol"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAccessLogWrite appends one access decision to the audit trail.
	TaskAccessLogWrite = "acl:log_write"
	// TaskAuditSweep prunes audit entries older than the retention window.
	TaskAuditSweep = "acl:audit_sweep"
)

// AccessLogPayload is the wire form of one audit entry.
type AccessLogPayload struct {
	IdentityID   string    `json:"identity_id,omitempty"`
	ResourceID   string    `json:"resource_id"`
	ResourceType string    `json:"resource_type"`
	Action       string    `json:"action"`
	Status       int       `json:"status"`
	At           time.Time `json:"at"`
}

// NewAccessLogTask constructs an Asynq task from a log entry.
func NewAccessLogTask(entry accesscontrol.LogEntry) (*asynq.Task, error) {
	data, err := json.Marshal(AccessLogPayload{
		IdentityID:   entry.IdentityID,
		ResourceID:   entry.ResourceID,
		ResourceType: string(entry.ResourceType),
		Action:       string(entry.Action),
		Status:       entry.Status,
		At:           entry.At,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAccessLogWrite, data), nil
}

// AccessLogJob persists enqueued audit entries.
type AccessLogJob struct {
	Store  accesscontrol.LogStore
	Logger *slog.Logger
}

// Handle processes TaskAccessLogWrite tasks.
func (j *AccessLogJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload AccessLogPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	entry := accesscontrol.LogEntry{
		IdentityID:   payload.IdentityID,
		ResourceID:   payload.ResourceID,
		ResourceType: accesscontrol.EntityType(payload.ResourceType),
		Action:       accesscontrol.Action(payload.Action),
		Status:       payload.Status,
		At:           payload.At,
	}
	if err := j.Store.InsertLog(ctx, entry); err != nil {
		j.Logger.Error("audit write failed", slog.Any("error", err))
		return err
	}
	return nil
}

// AuditSweepPayload configures the retention window of a sweep run.
type AuditSweepPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewAuditSweepTask constructs the scheduled sweep task.
func NewAuditSweepTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(AuditSweepPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditSweep, data), nil
}

// AuditSweepJob deletes audit entries past retention.
type AuditSweepJob struct {
	Store  accesscontrol.LogStore
	Logger *slog.Logger
	clock  func() time.Time
}

// Handle processes TaskAuditSweep tasks.
func (j *AuditSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload AuditSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Retention <= 0 {
		return asynq.SkipRetry
	}
	now := time.Now().UTC
	if j.clock != nil {
		now = j.clock
	}
	cutoff := now().Add(-payload.Retention)
	removed, err := j.Store.PurgeLogsBefore(ctx, cutoff)
	if err != nil {
		j.Logger.Error("audit sweep failed", slog.Any("error", err))
		return err
	}
	j.Logger.Info("audit sweep done",
		slog.Time("cutoff", cutoff),
		slog.Int64("removed", removed))
	return nil
}
