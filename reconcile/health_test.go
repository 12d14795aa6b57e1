package reconcile

import (
	"testing"
	"time"

	"github.com/mmdatafocus/catalog_sync/models"
)

// attempts builds a window from a compact pattern: s = success, f = failure, c = connection failure.
func attempts(pattern string) []Attempt {
	out := make([]Attempt, 0, len(pattern))
	for _, r := range pattern {
		out = append(out, Attempt{Succeeded: r == 's', ConnectionFailure: r == 'c'})
	}
	return out
}

func TestClassify(t *testing.T) {
	cases := []struct {
		pattern string
		want    models.ConnectionHealth
	}{
		{"", models.ConnectionHealthDisconnected},
		{"ssssssssss", models.ConnectionHealthExcellent},
		{"s", models.ConnectionHealthExcellent},
		{"fsssssssss", models.ConnectionHealthGood},
		{"fsfsssssss", models.ConnectionHealthGood},
		{"fffsssssss", models.ConnectionHealthPoor},
		{"ssssssssfs", models.ConnectionHealthPoor},
		{"sssssssssf", models.ConnectionHealthPoor},
		{"sssssssssc", models.ConnectionHealthDisconnected},
		{"ff", models.ConnectionHealthDisconnected},
		{"cs", models.ConnectionHealthPoor},
	}
	for _, tc := range cases {
		if got := Classify(attempts(tc.pattern)); got != tc.want {
			t.Fatalf("Classify(%q) expected %s, got %s", tc.pattern, tc.want, got)
		}
	}
}

func TestHealthMonitor_InitialState(t *testing.T) {
	conn := NewHealthMonitor(10).Snapshot()
	if conn.IsConnected || conn.ConnectionHealth != models.ConnectionHealthDisconnected {
		t.Fatalf("expected disconnected start, got %+v", conn)
	}
	if conn.LastSyncAt != nil || conn.LastSyncStatus != models.SyncStatusUnknown {
		t.Fatalf("expected no sync yet, got %+v", conn)
	}
}

func TestHealthMonitor_WindowSlides(t *testing.T) {
	h := NewHealthMonitor(3)
	for _, a := range attempts("fff") {
		h.Observe(a)
	}
	if got := h.Snapshot().ConnectionHealth; got != models.ConnectionHealthDisconnected {
		t.Fatalf("expected disconnected, got %s", got)
	}
	var got models.ConnectionHealth
	for _, a := range attempts("sss") {
		got = h.Observe(a)
	}
	if got != models.ConnectionHealthExcellent {
		t.Fatalf("expected old failures to leave the window, got %s", got)
	}
	if n := len(h.Attempts()); n != 3 {
		t.Fatalf("expected window of 3, got %d", n)
	}
}

func TestHealthMonitor_ConsecutiveConnectionFailures(t *testing.T) {
	h := NewHealthMonitor(10)
	for _, a := range attempts("ccc") {
		h.Observe(a)
	}
	if n := h.ConsecutiveConnectionFailures(); n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}
	h.Observe(Attempt{Succeeded: false})
	if n := h.ConsecutiveConnectionFailures(); n != 0 {
		t.Fatalf("a reachable provider resets the streak, got %d", n)
	}
}

func TestHealthMonitor_RestoreTurnsPendingIntoFailed(t *testing.T) {
	h := NewHealthMonitor(10)
	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	h.restore(&models.SyncConnection{
		IsConnected:      true,
		ConnectionHealth: models.ConnectionHealthGood,
		LastSyncAt:       &at,
		LastSyncStatus:   models.SyncStatusPending,
	})
	conn := h.Snapshot()
	if conn.LastSyncStatus != models.SyncStatusFailed {
		t.Fatalf("expected interrupted sync to read as failed, got %s", conn.LastSyncStatus)
	}
	if conn.ConnectionHealth != models.ConnectionHealthGood || !conn.LastSyncAt.Equal(at) {
		t.Fatalf("unexpected restored connection: %+v", conn)
	}
}
