package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/catalog_sync/models"
	"github.com/mmdatafocus/catalog_sync/utils"
)

func TestErrorLog_RecordStampsRunAndDefaultsSeverity(t *testing.T) {
	journal := &memJournal{}
	log := NewErrorLog(journal, quietLogger())
	ctx := utils.SetRunIdInContext(context.Background(), "run-1")

	rec := log.Record(ctx, ErrorInput{Type: models.SyncErrorTypeWebhook, Severity: "urgent", Message: "bad signature"})
	if rec.ID == "" || rec.Timestamp.IsZero() {
		t.Fatalf("expected id and timestamp, got %+v", rec)
	}
	if rec.RunID != "run-1" {
		t.Fatalf("expected run id run-1, got %q", rec.RunID)
	}
	if rec.Severity != models.SeverityMedium {
		t.Fatalf("expected unknown severity to default to medium, got %s", rec.Severity)
	}
	if rec.Resolved {
		t.Fatalf("new errors must be unresolved")
	}
	if len(journal.errs) != 1 {
		t.Fatalf("expected error to be journaled, got %d", len(journal.errs))
	}
}

func TestErrorLog_ListFiltersNewestFirst(t *testing.T) {
	log := NewErrorLog(nil, quietLogger())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	log.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	ctx := context.Background()

	a := log.Record(ctx, ErrorInput{Type: models.SyncErrorTypeConnection, Severity: models.SeverityHigh, Message: "a"})
	b := log.Record(ctx, ErrorInput{Type: models.SyncErrorTypeData, Severity: models.SeverityMedium, Message: "b", ProductID: "p1"})
	c := log.Record(ctx, ErrorInput{Type: models.SyncErrorTypeConnection, Severity: models.SeverityCritical, Message: "c"})

	all := log.List(ErrorFilter{})
	if len(all) != 3 || all[0].ID != c.ID || all[2].ID != a.ID {
		t.Fatalf("expected newest first, got %+v", all)
	}

	cases := []struct {
		name   string
		filter ErrorFilter
		want   int
	}{
		{"by type", ErrorFilter{Type: models.SyncErrorTypeConnection}, 2},
		{"by severity", ErrorFilter{Severity: models.SeverityCritical}, 1},
		{"by product", ErrorFilter{ProductID: "p1"}, 1},
		{"by run", ErrorFilter{RunID: "none"}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := len(log.List(tc.filter)); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}

	if err := log.MarkResolved(ctx, b.ID); err != nil {
		t.Fatalf("MarkResolved error: %v", err)
	}
	unresolved := false
	if got := len(log.List(ErrorFilter{Resolved: &unresolved})); got != 2 {
		t.Fatalf("expected 2 unresolved, got %d", got)
	}
}

func TestErrorLog_MarkResolved(t *testing.T) {
	log := NewErrorLog(nil, quietLogger())
	ctx := utils.SetOperatorInContext(context.Background(), "ops@example.com")
	rec := log.Record(context.Background(), ErrorInput{Type: models.SyncErrorTypeData, Severity: models.SeverityLow, Message: "x"})

	if err := log.MarkResolved(ctx, rec.ID); err != nil {
		t.Fatalf("MarkResolved error: %v", err)
	}
	got, _ := log.Get(rec.ID)
	if !got.Resolved || got.ResolvedAt == nil || got.ResolvedBy != "ops@example.com" {
		t.Fatalf("unexpected resolved record: %+v", got)
	}
	first := *got.ResolvedAt

	if err := log.MarkResolved(context.Background(), rec.ID); err != nil {
		t.Fatalf("second MarkResolved error: %v", err)
	}
	again, _ := log.Get(rec.ID)
	if !again.ResolvedAt.Equal(first) || again.ResolvedBy != "ops@example.com" {
		t.Fatalf("resolving twice must not change the record: %+v", again)
	}
}

func TestErrorLog_MarkResolvedUnknownIDMutatesNothing(t *testing.T) {
	log := NewErrorLog(nil, quietLogger())
	rec := log.Record(context.Background(), ErrorInput{Type: models.SyncErrorTypeData, Severity: models.SeverityLow, Message: "x"})

	if err := log.MarkResolved(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	got, _ := log.Get(rec.ID)
	if got.Resolved {
		t.Fatalf("unrelated record must stay unresolved")
	}
	if n := len(log.List(ErrorFilter{})); n != 1 {
		t.Fatalf("expected 1 record, got %d", n)
	}
}

func TestSeverityFor(t *testing.T) {
	cases := []struct {
		errType     models.SyncErrorType
		consecutive int
		want        models.Severity
	}{
		{models.SyncErrorTypeConnection, 1, models.SeverityHigh},
		{models.SyncErrorTypeConnection, 2, models.SeverityHigh},
		{models.SyncErrorTypeConnection, 3, models.SeverityCritical},
		{models.SyncErrorTypeConnection, 7, models.SeverityCritical},
		{models.SyncErrorTypeData, 5, models.SeverityMedium},
		{models.SyncErrorTypeValidation, 0, models.SeverityMedium},
		{models.SyncErrorTypeInventory, 0, models.SeverityMedium},
		{models.SyncErrorTypeWebhook, 0, models.SeverityMedium},
		{models.SyncErrorType("other"), 0, models.SeverityLow},
	}
	for _, tc := range cases {
		if got := SeverityFor(tc.errType, tc.consecutive, 3); got != tc.want {
			t.Fatalf("SeverityFor(%s, %d) expected %s, got %s", tc.errType, tc.consecutive, tc.want, got)
		}
	}
}
