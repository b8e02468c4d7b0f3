package jobs

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gatewarden/gatewarden/internal/accesscontrol"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAccessLogTaskRoundTrip(t *testing.T) {
	store := accesscontrol.NewMemoryStore()
	job := &AccessLogJob{Store: store, Logger: discardLogger()}

	entry := accesscontrol.LogEntry{
		IdentityID:   "alice",
		ResourceID:   "doc-1",
		ResourceType: "Item",
		Action:       accesscontrol.ActionRead,
		Status:       accesscontrol.StatusAllowed,
		At:           time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	task, err := NewAccessLogTask(entry)
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if err := job.Handle(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}

	logs, err := store.Logs(context.Background(), accesscontrol.LogFilters{IdentityID: "alice"})
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(logs))
	}
	got := logs[0]
	if got.ResourceID != "doc-1" || got.Action != accesscontrol.ActionRead || got.Status != accesscontrol.StatusAllowed {
		t.Fatalf("entry mangled in transit: %+v", got)
	}
	if !got.At.Equal(entry.At) {
		t.Fatalf("timestamp mangled: %v", got.At)
	}
}

func TestAuditSweepPurgesOldEntries(t *testing.T) {
	store := accesscontrol.NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i, age := range []time.Duration{time.Hour, 48 * time.Hour, 2000 * time.Hour} {
		err := store.InsertLog(ctx, accesscontrol.LogEntry{
			IdentityID: "alice",
			ResourceID: "doc",
			Action:     accesscontrol.ActionRead,
			Status:     accesscontrol.StatusAllowed,
			At:         now.Add(-age),
		})
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	job := &AuditSweepJob{
		Store:  store,
		Logger: discardLogger(),
		clock:  func() time.Time { return now },
	}
	task, err := NewAuditSweepTask(72 * time.Hour)
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if err := job.Handle(ctx, task); err != nil {
		t.Fatalf("handle: %v", err)
	}

	logs, err := store.Logs(ctx, accesscontrol.LogFilters{})
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 surviving entries, got %d", len(logs))
	}
}
