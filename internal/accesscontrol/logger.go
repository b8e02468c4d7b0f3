package accesscontrol

import (
	"context"
	"log/slog"
	"time"
)

// Enqueuer hands a log entry to a background queue instead of writing it
// inline. Wired to the asynq client in production; nil means synchronous
// inserts.
type Enqueuer interface {
	EnqueueLogWrite(ctx context.Context, entry LogEntry) error
}

// Recorder appends decision records to the access log. Logging is
// best-effort: a failed write is reported through slog and never aborts
// the caller's primary operation.
type Recorder struct {
	store   LogStore
	queue   Enqueuer
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewRecorder constructs a Recorder writing directly to store. queue may
// be nil.
func NewRecorder(store LogStore, queue Enqueuer, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, queue: queue, logger: logger, nowFunc: func() time.Time { return time.Now().UTC() }}
}

// Record appends one decision to the access log.
func (r *Recorder) Record(ctx context.Context, identityID, resourceID string, resourceType EntityType, action Action, status int) {
	if r == nil || (r.store == nil && r.queue == nil) {
		return
	}
	entry := LogEntry{
		IdentityID:   identityID,
		ResourceID:   resourceID,
		ResourceType: resourceType,
		Action:       action,
		Status:       status,
		At:           r.nowFunc(),
	}
	var err error
	if r.queue != nil {
		err = r.queue.EnqueueLogWrite(ctx, entry)
	} else {
		err = r.store.InsertLog(ctx, entry)
	}
	if err != nil {
		r.logger.Warn("access log write failed",
			slog.String("resource_id", resourceID),
			slog.String("action", string(action)),
			slog.Int("status", status),
			slog.Any("error", err))
	}
}
