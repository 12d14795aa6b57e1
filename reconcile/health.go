package reconcile

import (
	"sync"
	"time"

	"github.com/mmdatafocus/catalog_sync/models"
)

// Attempt is one sync or heartbeat outcome fed to the health window.
type Attempt struct {
	At                time.Time
	Succeeded         bool
	ConnectionFailure bool
}

// Classify derives connection health from a window of attempts, oldest first.
func Classify(attempts []Attempt) models.ConnectionHealth {
	if len(attempts) == 0 {
		return models.ConnectionHealthDisconnected
	}
	latest := attempts[len(attempts)-1]
	if !latest.Succeeded && latest.ConnectionFailure {
		return models.ConnectionHealthDisconnected
	}

	failures, successes := 0, 0
	for _, a := range attempts {
		if a.Succeeded {
			successes++
		} else {
			failures++
		}
	}
	if successes == 0 {
		return models.ConnectionHealthDisconnected
	}
	if !latest.Succeeded {
		return models.ConnectionHealthPoor
	}
	if failures == 0 {
		return models.ConnectionHealthExcellent
	}
	// recovered, but the previous attempt still failed
	if len(attempts) > 1 && !attempts[len(attempts)-2].Succeeded {
		return models.ConnectionHealthPoor
	}
	// more than 20% failed
	if failures*5 > len(attempts) {
		return models.ConnectionHealthPoor
	}
	return models.ConnectionHealthGood
}

// HealthMonitor owns the SyncConnection singleton.
type HealthMonitor struct {
	mu                     sync.RWMutex
	window                 int
	attempts               []Attempt
	consecutiveConnFailure int
	conn                   models.SyncConnection
}

func NewHealthMonitor(window int) *HealthMonitor {
	if window < 1 {
		window = 10
	}
	return &HealthMonitor{
		window: window,
		conn: models.SyncConnection{
			IsConnected:      false,
			ConnectionHealth: models.ConnectionHealthDisconnected,
			LastSyncStatus:   models.SyncStatusUnknown,
		},
	}
}

// Observe appends an attempt and recomputes the classification.
func (h *HealthMonitor) Observe(a Attempt) models.ConnectionHealth {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.attempts = append(h.attempts, a)
	if len(h.attempts) > h.window {
		h.attempts = h.attempts[len(h.attempts)-h.window:]
	}
	if !a.Succeeded && a.ConnectionFailure {
		h.consecutiveConnFailure++
	} else {
		h.consecutiveConnFailure = 0
	}

	health := Classify(h.attempts)
	h.conn.ConnectionHealth = health
	h.conn.IsConnected = health != models.ConnectionHealthDisconnected
	return health
}

func (h *HealthMonitor) MarkPending() {
	h.mu.Lock()
	h.conn.LastSyncStatus = models.SyncStatusPending
	h.mu.Unlock()
}

func (h *HealthMonitor) RecordSync(at time.Time, status models.SyncStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := at.UTC()
	h.conn.LastSyncAt = &t
	h.conn.LastSyncStatus = status
}

func (h *HealthMonitor) Snapshot() models.SyncConnection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn := h.conn
	if conn.LastSyncAt != nil {
		t := *conn.LastSyncAt
		conn.LastSyncAt = &t
	}
	return conn
}

func (h *HealthMonitor) ConsecutiveConnectionFailures() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.consecutiveConnFailure
}

// Attempts returns a copy of the current window, oldest first.
func (h *HealthMonitor) Attempts() []Attempt {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Attempt(nil), h.attempts...)
}

// restore seeds the connection state persisted by a previous process. The window starts empty.
func (h *HealthMonitor) restore(conn *models.SyncConnection) {
	if conn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conn.IsConnected = conn.IsConnected
	h.conn.ConnectionHealth = conn.ConnectionHealth
	h.conn.LastSyncAt = conn.LastSyncAt
	h.conn.LastSyncStatus = conn.LastSyncStatus
	// a run interrupted by the restart never finished
	if h.conn.LastSyncStatus == models.SyncStatusPending {
		h.conn.LastSyncStatus = models.SyncStatusFailed
	}
}
