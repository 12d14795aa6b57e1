package reconcile

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/mmdatafocus/catalog_sync/models"
)

// NotificationState is everything notifications are derived from.
type NotificationState struct {
	Connection models.SyncConnection
	Errors     []models.SyncError
	Changes    []models.InventoryChange
	Conflicts  []models.DataConflict
	Now        time.Time
}

// BuildNotifications projects the current state into operator notifications.
// Unresolved high and critical errors are rolled up into a single notification.
// IDs are "kind:count" so recomputing an unchanged state yields the same ids.
func BuildNotifications(state NotificationState) []models.Notification {
	var out []models.Notification

	conn := state.Connection
	if conn.ConnectionHealth == models.ConnectionHealthDisconnected {
		msg := "Connection to the fulfillment provider is lost"
		ts := state.Now
		if conn.LastSyncAt == nil {
			msg = "Fulfillment provider has not been reached yet"
		} else {
			ts = *conn.LastSyncAt
		}
		out = append(out, models.Notification{
			ID:        "disconnected:1",
			Type:      models.NotificationTypeError,
			Message:   msg,
			Timestamp: ts,
		})
	}

	severe := 0
	var severeAt time.Time
	for _, e := range state.Errors {
		if e.Resolved || !e.Severity.FailsRun() {
			continue
		}
		severe++
		severeAt = latest(severeAt, e.Timestamp)
	}
	if severe > 0 {
		out = append(out, models.Notification{
			ID:        "errors:" + strconv.Itoa(severe),
			Type:      models.NotificationTypeError,
			Message:   plural(severe, "unresolved sync error needs attention", "unresolved sync errors need attention"),
			Timestamp: severeAt,
		})
	}

	pending := 0
	var pendingAt time.Time
	for _, c := range state.Conflicts {
		if c.Resolution != models.ResolutionPending {
			continue
		}
		pending++
		pendingAt = latest(pendingAt, c.Timestamp)
	}
	if pending > 0 {
		out = append(out, models.Notification{
			ID:        "conflicts:" + strconv.Itoa(pending),
			Type:      models.NotificationTypeWarning,
			Message:   plural(pending, "data conflict awaits resolution", "data conflicts await resolution"),
			Timestamp: pendingAt,
		})
	}

	unprocessed := 0
	var changesAt time.Time
	for _, c := range state.Changes {
		if c.Processed {
			continue
		}
		unprocessed++
		changesAt = latest(changesAt, c.Timestamp)
	}
	if unprocessed > 0 {
		out = append(out, models.Notification{
			ID:        "changes:" + strconv.Itoa(unprocessed),
			Type:      models.NotificationTypeInfo,
			Message:   plural(unprocessed, "inventory change awaits review", "inventory changes await review"),
			Timestamp: changesAt,
		})
	}

	if len(out) == 0 && conn.LastSyncStatus == models.SyncStatusSuccess && conn.LastSyncAt != nil {
		out = append(out, models.Notification{
			ID:        "synced:" + strconv.FormatInt(conn.LastSyncAt.Unix(), 10),
			Type:      models.NotificationTypeSuccess,
			Message:   "Catalog is in sync with the fulfillment provider",
			Timestamp: *conn.LastSyncAt,
		})
	}
	return out
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return fmt.Sprintf("%d %s", n, many)
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// NotificationAggregator recomputes notifications on demand. Only the read marks are kept.
type NotificationAggregator struct {
	mu   sync.Mutex
	read map[string]bool

	errors    *ErrorLog
	ledger    *InventoryLedger
	conflicts *ConflictRegister
	health    *HealthMonitor
	now       func() time.Time
}

func NewNotificationAggregator(errs *ErrorLog, ledger *InventoryLedger, conflicts *ConflictRegister, health *HealthMonitor) *NotificationAggregator {
	return &NotificationAggregator{
		read:      make(map[string]bool),
		errors:    errs,
		ledger:    ledger,
		conflicts: conflicts,
		health:    health,
		now:       time.Now,
	}
}

func (a *NotificationAggregator) state() NotificationState {
	unresolved, unprocessed := false, false
	return NotificationState{
		Connection: a.health.Snapshot(),
		Errors:     a.errors.List(ErrorFilter{Resolved: &unresolved}),
		Changes:    a.ledger.List(ChangeFilter{Processed: &unprocessed}),
		Conflicts:  a.conflicts.List(ConflictFilter{Resolution: models.ResolutionPending}),
		Now:        a.now().UTC(),
	}
}

func (a *NotificationAggregator) List() []models.Notification {
	list := BuildNotifications(a.state())

	a.mu.Lock()
	defer a.mu.Unlock()
	current := make(map[string]bool, len(list))
	for i := range list {
		current[list[i].ID] = true
		list[i].Read = a.read[list[i].ID]
	}
	for id := range a.read {
		if !current[id] {
			delete(a.read, id)
		}
	}
	return list
}

// MarkRead hides a notification until its underlying count changes.
func (a *NotificationAggregator) MarkRead(id string) error {
	for _, n := range BuildNotifications(a.state()) {
		if n.ID == id {
			a.mu.Lock()
			a.read[id] = true
			a.mu.Unlock()
			return nil
		}
	}
	return ErrNotFound
}
